package security

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCheckWebhookURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr string
	}{
		{name: "https receiver", url: "https://hooks.example.com/onboarding"},
		{name: "http receiver with port", url: "http://hooks.example.com:8443/onboarding"},
		{name: "relative", url: "/hooks/onboarding", wantErr: "URL scheme must be http or https"},
		{name: "ftp", url: "ftp://files.example.com/drop", wantErr: "URL scheme must be http or https"},
		{name: "no host", url: "https:///onboarding", wantErr: "URL must have a host"},
		{name: "localhost", url: "http://localhost:9000/hook", wantErr: "localhost"},
		{name: "loopback", url: "http://127.0.0.1:9000/hook", wantErr: "loopback"},
		{name: "ipv6 loopback", url: "http://[::1]/hook", wantErr: "loopback"},
		{name: "private 10/8", url: "http://10.1.2.3/hook", wantErr: "private network"},
		{name: "private 192.168/16", url: "http://192.168.0.10/hook", wantErr: "private network"},
		{name: "metadata endpoint", url: "http://169.254.169.254/latest", wantErr: "link-local"},
		{name: "unspecified", url: "http://0.0.0.0/hook", wantErr: "unspecified"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := CheckWebhookURL(tt.url)
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestURLPolicyAllowPrivate(t *testing.T) {
	p := URLPolicy{AllowPrivate: true}
	assert.NoError(t, p.Check("http://127.0.0.1:9000/hook"))
	assert.NoError(t, p.Check("http://localhost/hook"))
	assert.Error(t, p.Check("file:///etc/passwd"), "the scheme is still checked")
}
