package detect

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"argus/core"
)

func testClassifier() *Classifier {
	return NewClassifier(zap.NewNop().Sugar())
}

func classify(c *Classifier, classification, signature string) string {
	return c.Classify(&core.ParsedAlert{Classification: classification, SignatureName: signature})
}

func TestClassifyClassificationMapping(t *testing.T) {
	c := testClassifier()

	assert.Equal(t, "malware_c2", classify(c, "Potentially Bad Traffic", "SNORT ALERT: Malware C2 Traffic"))
	assert.Equal(t, "web_attack", classify(c, "Web Application Attack", "some web rule"))
	assert.Equal(t, "privilege_escalation", classify(c, "Attempted Administrator Privilege Gain", ""))
	assert.Equal(t, "dos", classify(c, "Attempted Denial of Service", ""))
	assert.Equal(t, "port_scan", classify(c, "Network Scan", ""))
}

func TestClassifyMappingWinsOverPatterns(t *testing.T) {
	c := testClassifier()

	// The signature alone would match the malware pattern; the
	// classification label takes precedence.
	assert.Equal(t, "web_attack", classify(c, "Web Application Attack", "Malware dropper in POST body"))
}

func TestClassifyPatternFallback(t *testing.T) {
	c := testClassifier()

	cases := []struct {
		signature string
		behavior  string
	}{
		{"SQL_Injection against login form", "sql_injection"},
		{"Cross-Site Scripting attempt", "xss"},
		{"Directory_Traversal in URI", "path_traversal"},
		{"Port_Scan from external host", "port_scan"},
		{"Brute_Force against SSH", "brute_force"},
		{"Denial_of_Service flood", "dos"},
		{"DNS_Tunnel covert channel", "dns_tunneling"},
		{"Command_Injection via parameter", "command_injection"},
		{"Data_Exfiltration over FTP", "data_exfiltration"},
		{"Malware dropper observed", "malware"},
		{"Command_and_Control beacon", "malware_c2"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.behavior, classify(c, "", tc.signature), tc.signature)
		assert.Equal(t, tc.behavior, classify(c, "No Such Label", tc.signature), tc.signature)
	}
}

func TestClassifyPatternOrder(t *testing.T) {
	c := testClassifier()

	// "Malware C2 Traffic" matches both the malware and the c2 patterns;
	// malware comes first in the fallback order.
	assert.Equal(t, "malware", classify(c, "", "SNORT ALERT: Malware C2 Traffic"))
	// XSS is tried before the broader malware pattern would ever see it.
	assert.Equal(t, "xss", classify(c, "", "Cross-Site Scripting with malware payload"))
}

func TestClassifyUnknown(t *testing.T) {
	c := testClassifier()
	assert.Equal(t, UnknownBehavior, classify(c, "", "completely unrecognized event"))
	assert.Equal(t, UnknownBehavior, classify(c, "Unmapped Label", "completely unrecognized event"))
}

func TestNewClassifierFromFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	content := `
mappings:
  "Cryptocurrency Mining Activity": crypto_mining
  "Potentially Bad Traffic": beaconing
patterns:
  - pattern: "(?i)miner"
    behavior: crypto_mining
`
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))

	c, err := NewClassifierFromFile(path, zap.NewNop().Sugar())
	require.NoError(t, err)

	// New mapping, override of a built-in, and a custom pattern that
	// runs before the built-in fallbacks.
	assert.Equal(t, "crypto_mining", classify(c, "Cryptocurrency Mining Activity", ""))
	assert.Equal(t, "beaconing", classify(c, "Potentially Bad Traffic", "SNORT ALERT: Malware C2 Traffic"))
	assert.Equal(t, "crypto_mining", classify(c, "", "xmrig miner traffic"))
	// Built-ins still apply.
	assert.Equal(t, "port_scan", classify(c, "Network Scan", ""))
	assert.Equal(t, "sql_injection", classify(c, "", "SQL_Injection probe"))
}

func TestNewClassifierFromFileInvalidPattern(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mappings.yaml")
	require.NoError(t, os.WriteFile(path, []byte("patterns:\n  - pattern: \"[\"\n    behavior: x\n"), 0o644))

	_, err := NewClassifierFromFile(path, zap.NewNop().Sugar())
	assert.Error(t, err)
}
