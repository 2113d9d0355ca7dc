package remote

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestResolvePath(t *testing.T) {
	cases := []struct {
		name, base, ref, want string
	}{
		{"relative", "/srv/logs", "gw-1/m-1.log", "/srv/logs/gw-1/m-1.log"},
		{"already below base", "/srv/logs", "/srv/logs/gw-1/m-1.log", "/srv/logs/gw-1/m-1.log"},
		{"sftp url", "/srv/logs", "sftp://loghost/srv/logs/a.log", "/srv/logs/a.log"},
		{"dot segments are cleaned", "/srv/logs", "../../etc/passwd", "/srv/logs/etc/passwd"},
		{"no base", "", "/var/log/x.log", "/var/log/x.log"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := ResolvePath(tc.base, tc.ref)
			require.NoError(t, err)
			assert.Equal(t, tc.want, got)
		})
	}
}

func TestResolvePathRejectsEmpty(t *testing.T) {
	_, err := ResolvePath("/srv/logs", "  ")
	assert.ErrorIs(t, err, ErrInvalidRef)
}

func TestSSHClientRequiresCredentials(t *testing.T) {
	c := NewSSHClient(SSHConfig{Host: "127.0.0.1", User: "logs"})
	_, err := c.getAuthMethods()
	assert.ErrorIs(t, err, ErrSSHAuthentication)
}
