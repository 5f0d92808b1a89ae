package sshproxy

import (
	"crypto/ed25519"
	"crypto/rand"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/ssh"
)

const (
	privateKeyFile = "pgsm_ed25519"
	publicKeyFile  = "pgsm_ed25519.pub"
)

// GenerateKeyPair creates a new ED25519 key pair. The public key is returned
// in OpenSSH authorized_keys format, the private key as a PKCS8 PEM block.
func GenerateKeyPair() (publicKey []byte, privateKeyPEM []byte, err error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, nil, fmt.Errorf("generate ed25519 key: %w", err)
	}

	der, err := x509.MarshalPKCS8PrivateKey(priv)
	if err != nil {
		return nil, nil, fmt.Errorf("marshal private key: %w", err)
	}
	privateKeyPEM = pem.EncodeToMemory(&pem.Block{Type: "PRIVATE KEY", Bytes: der})

	sshPub, err := ssh.NewPublicKey(pub)
	if err != nil {
		return nil, nil, fmt.Errorf("convert public key: %w", err)
	}
	return ssh.MarshalAuthorizedKey(sshPub), privateKeyPEM, nil
}

// ParsePrivateKey parses a PEM-encoded private key into an ssh.Signer.
func ParsePrivateKey(pemBytes []byte) (ssh.Signer, error) {
	signer, err := ssh.ParsePrivateKey(pemBytes)
	if err != nil {
		return nil, fmt.Errorf("parse private key: %w", err)
	}
	return signer, nil
}

// SaveKeyPair writes the key pair into dir. The directory must exist.
func SaveKeyPair(dir string, privateKeyPEM, publicKey []byte) error {
	if err := os.WriteFile(filepath.Join(dir, privateKeyFile), privateKeyPEM, 0600); err != nil {
		return fmt.Errorf("write private key: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, publicKeyFile), publicKey, 0644); err != nil {
		return fmt.Errorf("write public key: %w", err)
	}
	return nil
}

// KeyPairExists reports whether both key files are present in dir.
func KeyPairExists(dir string) bool {
	for _, name := range []string{privateKeyFile, publicKeyFile} {
		if _, err := os.Stat(filepath.Join(dir, name)); err != nil {
			return false
		}
	}
	return true
}

// EnsureKeyPair loads the key pair from dir, generating and persisting a new
// one on first run. It returns the signer and the public key string.
func EnsureKeyPair(dir string) (ssh.Signer, string, error) {
	if info, err := os.Stat(dir); err != nil || !info.IsDir() {
		return nil, "", fmt.Errorf("key directory %s is not accessible", dir)
	}

	if !KeyPairExists(dir) {
		pub, priv, err := GenerateKeyPair()
		if err != nil {
			return nil, "", err
		}
		if err := SaveKeyPair(dir, priv, pub); err != nil {
			return nil, "", err
		}
	}

	privPEM, err := os.ReadFile(filepath.Join(dir, privateKeyFile))
	if err != nil {
		return nil, "", fmt.Errorf("read private key: %w", err)
	}
	signer, err := ParsePrivateKey(privPEM)
	if err != nil {
		return nil, "", err
	}

	pub, err := os.ReadFile(filepath.Join(dir, publicKeyFile))
	if err != nil {
		return nil, "", fmt.Errorf("read public key: %w", err)
	}
	return signer, string(pub), nil
}
