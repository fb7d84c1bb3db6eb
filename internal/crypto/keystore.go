// Package crypto holds the oracle's signing material: EIP-712 resolution
// attestations, the sealed on-disk oracle key, and report HMACs.
package crypto

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"

	"golang.org/x/crypto/pbkdf2"
)

const (
	kdfIterations = 480_000
	saltSize      = 16
	sealKeySize   = 32
	sealedVersion = 1
)

// sealedKey is the JSON layout written by SealKey.
type sealedKey struct {
	Version    int    `json:"version"`
	KDF        string `json:"kdf"`
	Salt       string `json:"salt"`
	Nonce      string `json:"nonce"`
	Ciphertext string `json:"ciphertext"`
}

// KeySource names where the oracle key comes from. Inline wins over File.
type KeySource struct {
	Inline     string
	File       string
	Passphrase string
}

// SealKey encrypts a hex private key under passphrase (PBKDF2-SHA256 then
// AES-256-GCM) and returns the JSON document to store on disk.
func SealKey(privateKeyHex, passphrase string) ([]byte, error) {
	if passphrase == "" {
		return nil, errors.New("crypto/keystore: empty passphrase")
	}
	raw, err := hex.DecodeString(strings.TrimPrefix(privateKeyHex, "0x"))
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: key is not hex: %w", err)
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("crypto/keystore: key is %d bytes, want 32", len(raw))
	}

	salt := make([]byte, saltSize)
	if _, err := rand.Read(salt); err != nil {
		return nil, fmt.Errorf("crypto/keystore: salt: %w", err)
	}
	aead, err := newAEAD(passphrase, salt)
	if err != nil {
		return nil, err
	}
	nonce := make([]byte, aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("crypto/keystore: nonce: %w", err)
	}

	doc := sealedKey{
		Version:    sealedVersion,
		KDF:        "pbkdf2-sha256",
		Salt:       base64.StdEncoding.EncodeToString(salt),
		Nonce:      base64.StdEncoding.EncodeToString(nonce),
		Ciphertext: base64.StdEncoding.EncodeToString(aead.Seal(nil, nonce, raw, nil)),
	}
	return json.MarshalIndent(doc, "", "  ")
}

// OpenKey reverses SealKey and returns the key as hex without a 0x prefix.
func OpenKey(sealed []byte, passphrase string) (string, error) {
	if passphrase == "" {
		return "", errors.New("crypto/keystore: empty passphrase")
	}
	var doc sealedKey
	if err := json.Unmarshal(sealed, &doc); err != nil {
		return "", fmt.Errorf("crypto/keystore: parse: %w", err)
	}
	if doc.Version != sealedVersion {
		return "", fmt.Errorf("crypto/keystore: unsupported version %d", doc.Version)
	}

	parts := make([][]byte, 3)
	for i, s := range []string{doc.Salt, doc.Nonce, doc.Ciphertext} {
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return "", fmt.Errorf("crypto/keystore: field %d: %w", i, err)
		}
		parts[i] = b
	}
	aead, err := newAEAD(passphrase, parts[0])
	if err != nil {
		return "", err
	}
	plain, err := aead.Open(nil, parts[1], parts[2], nil)
	if err != nil {
		return "", fmt.Errorf("crypto/keystore: open failed (wrong passphrase?): %w", err)
	}
	return hex.EncodeToString(plain), nil
}

// Resolve returns the hex key named by src.
func (src KeySource) Resolve() (string, error) {
	switch {
	case src.Inline != "":
		k := strings.TrimPrefix(src.Inline, "0x")
		if _, err := hex.DecodeString(k); err != nil {
			return "", fmt.Errorf("crypto/keystore: inline key is not hex: %w", err)
		}
		return k, nil
	case src.File != "":
		data, err := os.ReadFile(src.File)
		if err != nil {
			return "", fmt.Errorf("crypto/keystore: read %s: %w", src.File, err)
		}
		return OpenKey(data, src.Passphrase)
	default:
		return "", errors.New("crypto/keystore: no oracle key configured")
	}
}

func newAEAD(passphrase string, salt []byte) (cipher.AEAD, error) {
	key := pbkdf2.Key([]byte(passphrase), salt, kdfIterations, sealKeySize, sha256.New)
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: cipher: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("crypto/keystore: gcm: %w", err)
	}
	return aead, nil
}
