// Package mitre carries a small ATT&CK technique catalog used to
// annotate classified threats with human-readable technique names.
package mitre

// techniqueNames maps ATT&CK technique IDs to their canonical names.
// Only techniques the tagging rules can emit are listed.
var techniqueNames = map[string]string{
	"T1046": "Network Service Discovery",
	"T1059": "Command and Scripting Interpreter",
	"T1071": "Application Layer Protocol",
	"T1110": "Brute Force",
	"T1190": "Exploit Public-Facing Application",
	"T1595": "Active Scanning",
}

// TechniqueName returns the canonical name for a technique ID, or the
// ID itself when the catalog does not know it. Oracle-supplied IDs may
// fall outside the local catalog.
func TechniqueName(id string) string {
	if name, ok := techniqueNames[id]; ok {
		return name
	}
	return id
}

// Known reports whether the catalog carries the technique ID.
func Known(id string) bool {
	_, ok := techniqueNames[id]
	return ok
}
