package ssh

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/ssh"
)

func testKeyPEM(t *testing.T) []byte {
	t.Helper()
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	require.NoError(t, err)
	block, err := ssh.MarshalPrivateKey(priv, "amibake-test")
	require.NoError(t, err)
	encoded := pem.EncodeToMemory(block)
	require.NotNil(t, encoded)
	return encoded
}

func TestParseKey(t *testing.T) {
	t.Run("plaintext", func(t *testing.T) {
		signer, err := ParseKey(testKeyPEM(t), nil)
		require.NoError(t, err)
		require.NotNil(t, signer)
	})
	t.Run("empty-input", func(t *testing.T) {
		_, err := ParseKey(nil, nil)
		require.ErrorIs(t, err, ErrFailedKeyParse)
	})
	t.Run("garbage-input", func(t *testing.T) {
		_, err := ParseKey([]byte("not a key"), nil)
		require.ErrorIs(t, err, ErrFailedKeyParse)
	})
	t.Run("phrase-on-unencrypted-key", func(t *testing.T) {
		// Supplying a passphrase for an unencrypted key is an operator
		// mistake; x/crypto/ssh reports it as a parse error, not an
		// IncorrectPasswordError, so no plaintext fallback happens.
		_, err := ParseKey(testKeyPEM(t), []byte("phrase"))
		require.ErrorIs(t, err, ErrFailedKeyParse)
	})
}

func TestLoadKey(t *testing.T) {
	path := filepath.Join(t.TempDir(), "id_ed25519")
	require.NoError(t, os.WriteFile(path, testKeyPEM(t), 0o600))
	signer, err := LoadKey(path, nil)
	require.NoError(t, err)
	require.NotNil(t, signer)

	_, err = LoadKey(filepath.Join(t.TempDir(), "missing"), nil)
	require.ErrorIs(t, err, ErrFailedKeyRead)
}

func TestJoinHostPort(t *testing.T) {
	for _, tc := range []struct {
		name string
		host string
		port uint16
		want string
	}{
		{"ipv4", "10.0.0.4", 22, "10.0.0.4:22"},
		{"ipv6", "::1", 2222, "[::1]:2222"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			got, err := joinHostPort(tc.host, tc.port)
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}
}
