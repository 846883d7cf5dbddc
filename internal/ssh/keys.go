package ssh

// keys.go handles loading and parsing of the operator-supplied SSH private
// key used to authenticate against launched instances.

import (
	"crypto/x509"
	"errors"
	"fmt"
	"os"

	"golang.org/x/crypto/ssh"
)

var (
	ErrFailedKeyRead  = fmt.Errorf("failed to read SSH private key file")
	ErrFailedKeyParse = fmt.Errorf("failed to parse SSH private key")
)

// LoadKey reads and parses the PEM-encoded OpenSSH private key at 'path'.
func LoadKey(path string, phrase []byte) (ssh.Signer, error) {
	key, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedKeyRead, err)
	}
	return ParseKey(key, phrase)
}

// ParseKey attempts to parse the provided 'key' value as a PEM-encoded OpenSSH
// format private key.
//
// If 'phrase' is nil or an empty slice, the key parse will be attempted
// assuming no encryption.
// If 'phrase' is provided, the key will be parsed assuming encryption. If the
// parse fails with the key it will be reattempted assuming no encryption.
func ParseKey(key, phrase []byte) (ssh.Signer, error) {
	if len(key) == 0 {
		return nil, ErrFailedKeyParse
	}
	// If we received a passphrase, attempt parsing the encrypted key first.
	if len(phrase) > 0 {
		// This looks a little funky because we _only_ want to return here if
		// the error is nil.
		signer, err := ssh.ParsePrivateKeyWithPassphrase(key, phrase)
		if err == nil {
			return signer, nil
		}
		// If we received an x509.IncorrectPasswordError, reattempt parsing
		// without the passphrase (key might not be encrypted), otherwise
		// return all other errors.
		if !errors.Is(err, x509.IncorrectPasswordError) {
			return nil, fmt.Errorf("%w: %w", ErrFailedKeyParse, err)
		}
	}
	// Attempt parsing a plaintext key.
	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrFailedKeyParse, err)
	}
	return signer, nil
}
