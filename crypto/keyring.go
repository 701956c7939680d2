package crypto

import (
	"crypto/rsa"
	"crypto/x509"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/pkg/errors"
)

// FileKeyRing resolves meter/utility public keys from DER-encoded RSA
// key files named pubkey_<id>.der inside a folder.
type FileKeyRing struct {
	dir string

	mu sync.Mutex
	cache map[int]*rsa.PublicKey
}

// NewFileKeyRing returns a KeyRing reading from dir, lazily, with caching.
func NewFileKeyRing(dir string) *FileKeyRing {
	return &FileKeyRing{dir: dir, cache: make(map[int]*rsa.PublicKey)}
}

func (k *FileKeyRing) PublicKey(id int) (*rsa.PublicKey, error) {
	k.mu.Lock()
	defer k.mu.Unlock()

	if pub, ok := k.cache[id]; ok {
		return pub, nil
	}

	path := filepath.Join(k.dir, fmt.Sprintf("pubkey_%d.der", id))
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "reading public key file for id %d", id)
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, errors.Wrapf(err, "parsing DER public key for id %d", id)
	}
	k.cache[id] = pub
	return pub, nil
}

// LoadPrivateKey reads privkey_<id>.der from dir, per the same naming
// convention.
func LoadPrivateKey(dir string, id int) (*rsa.PrivateKey, error) {
	path := filepath.Join(dir, "privkey_"+strconv.Itoa(id)+".der")
	priv, err := LoadPrivateKeyFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "loading private key for id %d", id)
	}
	return priv, nil
}

// LoadPrivateKeyFile reads a DER-encoded RSA private key from an
// explicit path, for the CLI's own <...-private-key-file> argument,
// which names the file directly rather than through the privkey_<id>.der
// folder convention.
func LoadPrivateKeyFile(path string) (*rsa.PrivateKey, error) {
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading private key file")
	}
	priv, err := x509.ParsePKCS1PrivateKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "parsing DER private key")
	}
	return priv, nil
}

// LoadPublicKeyFile reads a DER-encoded RSA public key from an explicit
// path, for the meter CLI's <utility-public-key-file> argument.
func LoadPublicKeyFile(path string) (*rsa.PublicKey, error) {
	der, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "reading public key file")
	}
	pub, err := x509.ParsePKCS1PublicKey(der)
	if err != nil {
		return nil, errors.Wrap(err, "parsing DER public key")
	}
	return pub, nil
}
