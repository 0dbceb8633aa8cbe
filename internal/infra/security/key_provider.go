package security

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

var (
	ErrKeyNotFound  = errors.New("key not found")
	ErrNoKeysLoaded = errors.New("no verification keys loaded")
)

// KeyProvider resolves verification keys by key identifier.
type KeyProvider interface {
	GetVerificationKey(kid string) (*rsa.PublicKey, error)
}

// DirectoryKeyProvider loads RSA keys from PEM files in a directory. The file
// name without extension is the kid. Private keys contribute their public half.
type DirectoryKeyProvider struct {
	mu   sync.RWMutex
	keys map[string]*rsa.PublicKey
}

// NewDirectoryKeyProvider reads every PEM file under keyDir.
func NewDirectoryKeyProvider(keyDir string) (*DirectoryKeyProvider, error) {
	files, err := os.ReadDir(keyDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read key directory: %w", err)
	}

	provider := NewStaticKeyProvider(nil)

	for _, file := range files {
		if file.IsDir() || strings.HasPrefix(file.Name(), ".") {
			continue
		}

		path := filepath.Join(keyDir, file.Name())
		keyData, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read key file %s: %w", path, err)
		}

		key, err := ParsePublicKeyPEM(keyData)
		if err != nil {
			return nil, fmt.Errorf("parse key file %s: %w", path, err)
		}

		kid := strings.TrimSuffix(file.Name(), filepath.Ext(file.Name()))
		provider.keys[kid] = key
	}

	if len(provider.keys) == 0 {
		return nil, ErrNoKeysLoaded
	}

	return provider, nil
}

// NewStaticKeyProvider wraps an in-memory key set.
func NewStaticKeyProvider(keys map[string]*rsa.PublicKey) *DirectoryKeyProvider {
	provider := &DirectoryKeyProvider{keys: make(map[string]*rsa.PublicKey, len(keys))}
	for kid, key := range keys {
		provider.keys[kid] = key
	}
	return provider
}

// ParsePublicKeyPEM extracts an RSA public key from a PEM block holding either
// a public or a private key in PKCS#1, PKCS#8 or PKIX form.
func ParsePublicKeyPEM(data []byte) (*rsa.PublicKey, error) {
	block, _ := pem.Decode(data)
	if block == nil {
		return nil, errors.New("failed to decode PEM block")
	}

	if key, err := x509.ParsePKCS1PrivateKey(block.Bytes); err == nil {
		return &key.PublicKey, nil
	}

	if key, err := x509.ParsePKCS8PrivateKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PrivateKey); ok {
			return &rsaKey.PublicKey, nil
		}
	}

	if key, err := x509.ParsePKCS1PublicKey(block.Bytes); err == nil {
		return key, nil
	}

	if key, err := x509.ParsePKIXPublicKey(block.Bytes); err == nil {
		if rsaKey, ok := key.(*rsa.PublicKey); ok {
			return rsaKey, nil
		}
	}

	return nil, errors.New("unsupported key format")
}

// GetVerificationKey returns the public key registered under kid.
func (p *DirectoryKeyProvider) GetVerificationKey(kid string) (*rsa.PublicKey, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()

	key, ok := p.keys[strings.TrimSpace(kid)]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrKeyNotFound, kid)
	}
	return key, nil
}

// KeyIDs lists the loaded key identifiers.
func (p *DirectoryKeyProvider) KeyIDs() []string {
	p.mu.RLock()
	defer p.mu.RUnlock()

	ids := make([]string, 0, len(p.keys))
	for kid := range p.keys {
		ids = append(ids, kid)
	}
	return ids
}
