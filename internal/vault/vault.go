// Package vault encrypts the stored SMTP password with a locally generated
// fernet key. The key lives in a single file next to the configuration;
// losing that file invalidates every token minted with it.
package vault

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strings"

	"github.com/fernet/fernet-go"
)

const keyFileMode = 0600

type Vault struct {
	keyPath string
}

func New(keyPath string) *Vault {
	return &Vault{keyPath: keyPath}
}

// Encrypt turns a plaintext password into an opaque token. The key file is
// created on first use.
func (v *Vault) Encrypt(plaintext string) (string, error) {
	key, err := v.loadKey()
	if err != nil {
		return "", fmt.Errorf("loading vault key: %w", err)
	}
	token, err := fernet.EncryptAndSign([]byte(plaintext), key)
	if err != nil {
		return "", fmt.Errorf("encrypting password: %w", err)
	}
	return string(token), nil
}

// Decrypt returns the plaintext for a token produced by Encrypt. An empty or
// malformed token, or an unusable key file, yields "" rather than an error:
// callers treat "" as "no password configured".
func (v *Vault) Decrypt(token string) string {
	if token == "" {
		return ""
	}
	key, err := v.loadKey()
	if err != nil {
		return ""
	}
	// ttl 0 disables token expiry; stored passwords do not age out.
	plaintext := fernet.VerifyAndDecrypt([]byte(token), 0, []*fernet.Key{key})
	if plaintext == nil {
		return ""
	}
	return string(plaintext)
}

func (v *Vault) loadKey() (*fernet.Key, error) {
	data, err := os.ReadFile(v.keyPath)
	if errors.Is(err, fs.ErrNotExist) {
		if err := v.generateKey(); err != nil {
			return nil, err
		}
		data, err = os.ReadFile(v.keyPath)
		if err != nil {
			return nil, err
		}
	} else if err != nil {
		return nil, err
	}
	return fernet.DecodeKey(strings.TrimSpace(string(data)))
}

// generateKey creates the key file with O_EXCL so that two processes racing
// on first run cannot truncate each other's key. Losing the race is fine;
// the winner's key is read back by loadKey.
func (v *Vault) generateKey() error {
	var key fernet.Key
	if err := key.Generate(); err != nil {
		return fmt.Errorf("generating key: %w", err)
	}
	f, err := os.OpenFile(v.keyPath, os.O_WRONLY|os.O_CREATE|os.O_EXCL, keyFileMode)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("creating key file: %w", err)
	}
	defer f.Close()
	if _, err := f.WriteString(key.Encode()); err != nil {
		return fmt.Errorf("writing key file: %w", err)
	}
	return nil
}
