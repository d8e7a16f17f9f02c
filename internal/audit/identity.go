package audit

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
)

// LoadOrCreateIdentity loads the daemon's Ed25519 signing key from
// keysDir, generating and persisting a fresh keypair if none exists.
func LoadOrCreateIdentity(keysDir string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privPath := filepath.Join(keysDir, "id_ed25519")
	pubPath := filepath.Join(keysDir, "id_ed25519.pub")

	priv, pub, err := loadIdentity(privPath, pubPath)
	if err == nil {
		return priv, pub, nil
	}
	if !errors.Is(err, fs.ErrNotExist) {
		return nil, nil, err
	}

	if err := os.MkdirAll(keysDir, 0o700); err != nil {
		return nil, nil, fmt.Errorf("audit: create keys dir: %w", err)
	}
	pub, priv, err = ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("audit: generate identity key: %w", err)
	}
	if err := os.WriteFile(privPath, []byte(base64.StdEncoding.EncodeToString(priv)), 0o600); err != nil {
		return nil, nil, fmt.Errorf("audit: write private key: %w", err)
	}
	if err := os.WriteFile(pubPath, []byte(base64.StdEncoding.EncodeToString(pub)), 0o644); err != nil {
		return nil, nil, fmt.Errorf("audit: write public key: %w", err)
	}
	return priv, pub, nil
}

func loadIdentity(privPath, pubPath string) (ed25519.PrivateKey, ed25519.PublicKey, error) {
	privBytes, err := os.ReadFile(privPath)
	if err != nil {
		return nil, nil, err
	}
	pubBytes, err := os.ReadFile(pubPath)
	if err != nil {
		return nil, nil, err
	}
	priv, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(privBytes)))
	if err != nil {
		return nil, nil, fmt.Errorf("audit: decode private key: %w", err)
	}
	pub, err := base64.StdEncoding.DecodeString(strings.TrimSpace(string(pubBytes)))
	if err != nil {
		return nil, nil, fmt.Errorf("audit: decode public key: %w", err)
	}
	if len(priv) != ed25519.PrivateKeySize || len(pub) != ed25519.PublicKeySize {
		return nil, nil, fmt.Errorf("audit: identity key has wrong size")
	}
	return ed25519.PrivateKey(priv), ed25519.PublicKey(pub), nil
}
