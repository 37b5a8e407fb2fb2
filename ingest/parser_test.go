package ingest

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleBlock = `[**] [1:1000008:1] SNORT ALERT: Malware C2 Traffic [**]
[Classification: Potentially Bad Traffic] [Priority: 1]
03/04-14:10:22.123456 192.168.10.80:54321 -> 10.0.0.40:8080`

func TestParseAlertBlock(t *testing.T) {
	alert, err := ParseAlertBlock(sampleBlock)
	require.NoError(t, err)

	assert.Equal(t, "1000008", alert.SignatureID)
	assert.Equal(t, "1", alert.SignatureRev)
	assert.Equal(t, "SNORT ALERT: Malware C2 Traffic", alert.SignatureName)
	assert.Equal(t, "Potentially Bad Traffic", alert.Classification)
	assert.Equal(t, 1, alert.Priority)
	assert.Equal(t, "03/04-14:10:22.123456", alert.Timestamp)
	assert.Equal(t, "192.168.10.80", alert.SourceIP)
	assert.Equal(t, 54321, alert.SourcePort)
	assert.Equal(t, "10.0.0.40", alert.DestIP)
	assert.Equal(t, 8080, alert.DestPort)
	assert.Equal(t, "TCP", alert.Protocol)
	assert.True(t, alert.Viable())
}

func TestParseAlertBlockMissingEndpoints(t *testing.T) {
	block := `[**] [1:1000008:1] SNORT ALERT: Malware C2 Traffic [**]
[Classification: Potentially Bad Traffic] [Priority: 1]`

	alert, err := ParseAlertBlock(block)
	assert.Nil(t, alert)
	assert.ErrorIs(t, err, ErrMissingEndpoints)
}

func TestParseAlertBlockInvalidAddress(t *testing.T) {
	block := `[**] [1:1:1] test [**]
[Classification: x] [Priority: 2]
03/04-14:10:22.123456 999.999.999.999:1 -> 10.0.0.1:80`

	alert, err := ParseAlertBlock(block)
	assert.Nil(t, alert)
	assert.ErrorIs(t, err, ErrInvalidAddress)
}

func TestParseAlertBlockMissingHeader(t *testing.T) {
	// Header and classification lines are optional, endpoints are not.
	block := `03/04-14:10:22.123456 192.168.1.5:1234 -> 10.0.0.2:443`

	alert, err := ParseAlertBlock(block)
	require.NoError(t, err)
	assert.Empty(t, alert.SignatureID)
	assert.Empty(t, alert.Classification)
	assert.Equal(t, 0, alert.Priority)
	assert.Equal(t, "HTTPS", alert.Protocol)
}

func TestInferProtocol(t *testing.T) {
	cases := []struct {
		port int
		want string
	}{
		{80, "HTTP"},
		{443, "HTTPS"},
		{22, "SSH"},
		{21, "FTP"},
		{25, "SMTP"},
		{587, "SMTP"},
		{8080, "TCP"},
		{3306, "TCP"},
	}
	for _, tc := range cases {
		assert.Equal(t, tc.want, inferProtocol(tc.port), "port %d", tc.port)
	}
}
