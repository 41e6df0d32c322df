// Package secretbox protects the mail-server password at rest.
//
// A single symmetric key lives in config/secret.key, generated once by
// `aguabot --config_pk` and never rotated automatically. Values are sealed
// with nacl/secretbox (authenticated encryption) and stored as base64.
package secretbox

import (
	"crypto/rand"
	"encoding/base64"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"golang.org/x/crypto/nacl/secretbox"
)

const KeySize = 32
const nonceSize = 24

// DefaultKeyPath is where the setup command writes the key and where the
// workflow reads it from.
const DefaultKeyPath = "config/secret.key"

// GenerateKey writes fresh key material to path. It refuses to overwrite an
// existing key, a regenerated key would orphan every value sealed with the
// old one.
func GenerateKey(path string) error {
	err := os.MkdirAll(filepath.Dir(path), 0o755)
	if err != nil {
		return err
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		if os.IsExist(err) {
			return fmt.Errorf("key file %s already exists, refusing to overwrite it", path)
		}
		return err
	}
	defer f.Close()

	var key [KeySize]byte
	_, err = io.ReadFull(rand.Reader, key[:])
	if err != nil {
		return err
	}
	_, err = f.Write(key[:])
	return err
}

func LoadKey(path string) (*[KeySize]byte, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if len(raw) != KeySize {
		return nil, fmt.Errorf("key file %s holds %d bytes, want %d", path, len(raw), KeySize)
	}
	var key [KeySize]byte
	copy(key[:], raw)
	return &key, nil
}

func Encrypt(key *[KeySize]byte, plaintext string) (string, error) {
	var nonce [nonceSize]byte
	_, err := io.ReadFull(rand.Reader, nonce[:])
	if err != nil {
		return "", err
	}
	sealed := secretbox.Seal(nonce[:], []byte(plaintext), &nonce, key)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

func Decrypt(key *[KeySize]byte, encoded string) (string, error) {
	sealed, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return "", err
	}
	if len(sealed) < nonceSize {
		return "", fmt.Errorf("encrypted value is too short")
	}
	var nonce [nonceSize]byte
	copy(nonce[:], sealed[:nonceSize])
	plain, ok := secretbox.Open(nil, sealed[nonceSize:], &nonce, key)
	if !ok {
		return "", fmt.Errorf("failed to decrypt value, the key does not match")
	}
	return string(plain), nil
}
