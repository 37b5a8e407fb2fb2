package ingest

import (
	"errors"
	"fmt"
	"net"
	"regexp"
	"strconv"
	"strings"

	"argus/core"
)

// Parse failures are diagnostics, never fatal: one malformed alert must
// not halt the stream. The caller logs and drops the block.
var (
	// ErrMissingEndpoints indicates the block has no parseable IP/port line
	ErrMissingEndpoints = errors.New("alert block missing source/destination endpoints")
	// ErrInvalidAddress indicates an endpoint line with unparseable IPs
	ErrInvalidAddress = errors.New("alert block contains invalid IP address")
)

// Regular expressions for the three independent passes over a Snort-style
// alert block:
//
//	[**] [1:1000008:1] SNORT ALERT: Malware C2 Traffic [**]
//	[Classification: Potentially Bad Traffic] [Priority: 1]
//	03/04-14:10:22.123456 192.168.10.80:54321 -> 10.0.0.40:8080
var (
	headerPattern         = regexp.MustCompile(`\[\*\*\] \[(.*?)\] (.*?) \[\*\*\]`)
	classificationPattern = regexp.MustCompile(`\[Classification: (.*?)\] \[Priority: (\d+)\]`)
	endpointPattern       = regexp.MustCompile(`(\d+/\d+-\d+:\d+:\d+\.\d+) ([\d.]+):(\d+) -> ([\d.]+):(\d+)`)
)

// ParseAlertBlock parses one raw alert block into a structured alert.
// The three passes are independent: a missing header or classification
// line leaves those fields empty, but a missing or invalid endpoint line
// makes the alert non-viable and returns an error.
func ParseAlertBlock(block string) (*core.ParsedAlert, error) {
	alert := &core.ParsedAlert{}

	if m := headerPattern.FindStringSubmatch(block); m != nil {
		alert.SignatureName = m[2]
		// The bracketed id is generator:sid:revision
		sidParts := strings.Split(m[1], ":")
		if len(sidParts) >= 3 {
			alert.SignatureID = sidParts[1]
			alert.SignatureRev = sidParts[2]
		}
	}

	if m := classificationPattern.FindStringSubmatch(block); m != nil {
		alert.Classification = m[1]
		if priority, err := strconv.Atoi(m[2]); err == nil {
			alert.Priority = priority
		}
	}

	m := endpointPattern.FindStringSubmatch(block)
	if m == nil {
		return nil, ErrMissingEndpoints
	}
	alert.Timestamp = m[1]

	if net.ParseIP(m[2]) == nil || net.ParseIP(m[4]) == nil {
		return nil, fmt.Errorf("%w: %s -> %s", ErrInvalidAddress, m[2], m[4])
	}
	alert.SourceIP = m[2]
	alert.DestIP = m[4]

	// Port captures are \d+ so Atoi cannot fail here
	alert.SourcePort, _ = strconv.Atoi(m[3])
	alert.DestPort, _ = strconv.Atoi(m[5])

	alert.Protocol = inferProtocol(alert.DestPort)

	return alert, nil
}

// inferProtocol derives the application protocol from the destination
// port. The sensor log does not carry the protocol, so this is a
// heuristic with TCP as the default.
func inferProtocol(destPort int) string {
	switch destPort {
	case 80:
		return "HTTP"
	case 443:
		return "HTTPS"
	case 22:
		return "SSH"
	case 21:
		return "FTP"
	case 25, 587:
		return "SMTP"
	default:
		return "TCP"
	}
}
