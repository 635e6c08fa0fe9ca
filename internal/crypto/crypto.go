// Package crypto encrypts file content before it leaves the trust
// boundary into off-chain storage. AES-256-CBC with PKCS#7 padding and
// a fresh random IV per call, under one process-wide 32-byte master
// key.
package crypto

import (
	"bytes"
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/tessera-health/ledgerseal/internal/apperr"
)

const (
	// BlockSize is the cipher block and IV length.
	BlockSize = aes.BlockSize
	// KeySize selects AES-256.
	KeySize = 32
)

// Cipher performs all encryption for the process.
type Cipher struct {
	key []byte
}

// New builds a Cipher from a raw 32-byte key.
func New(key []byte) (*Cipher, error) {
	if len(key) != KeySize {
		return nil, fmt.Errorf("master key must be %d bytes, got %d: %w", KeySize, len(key), apperr.ErrConfiguration)
	}
	return &Cipher{key: append([]byte(nil), key...)}, nil
}

// NewFromHex builds a Cipher from a hex-encoded key string.
func NewFromHex(s string) (*Cipher, error) {
	key, err := hex.DecodeString(strings.TrimSpace(s))
	if err != nil {
		return nil, fmt.Errorf("master key hex: %w", apperr.ErrConfiguration)
	}
	return New(key)
}

// Load resolves the master key: an inline hex value wins, then a key
// file containing hex, then, only when allowEphemeral, a freshly
// generated key with ephemeral=true. Ephemeral keys make previously
// encrypted data unrecoverable after restart; callers must warn loudly.
func Load(keyHex, keyFile string, allowEphemeral bool) (key []byte, ephemeral bool, err error) {
	if keyHex != "" {
		key, err = hex.DecodeString(strings.TrimSpace(keyHex))
		if err != nil || len(key) != KeySize {
			return nil, false, fmt.Errorf("encryption key value is not %d hex bytes: %w", KeySize, apperr.ErrConfiguration)
		}
		return key, false, nil
	}
	if keyFile != "" {
		raw, rerr := os.ReadFile(keyFile)
		if rerr != nil {
			return nil, false, fmt.Errorf("encryption key file %s: %v: %w", keyFile, rerr, apperr.ErrConfiguration)
		}
		key, err = hex.DecodeString(strings.TrimSpace(string(raw)))
		if err != nil || len(key) != KeySize {
			return nil, false, fmt.Errorf("encryption key file %s is not %d hex bytes: %w", keyFile, KeySize, apperr.ErrConfiguration)
		}
		return key, false, nil
	}
	if !allowEphemeral {
		return nil, false, fmt.Errorf("no encryption key configured: %w", apperr.ErrConfiguration)
	}
	key, err = GenerateKey()
	if err != nil {
		return nil, false, err
	}
	return key, true, nil
}

// GenerateKey returns a random 32-byte key.
func GenerateKey() ([]byte, error) {
	key := make([]byte, KeySize)
	if _, err := rand.Read(key); err != nil {
		return nil, fmt.Errorf("generate key: %w", err)
	}
	return key, nil
}

// Encrypt pads plaintext with PKCS#7 and encrypts it under a fresh
// random 16-byte IV. Returns ciphertext and the IV.
func (c *Cipher) Encrypt(plaintext []byte) (ciphertext, iv []byte, err error) {
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, nil, err
	}
	iv = make([]byte, BlockSize)
	if _, err := rand.Read(iv); err != nil {
		return nil, nil, fmt.Errorf("generate iv: %w", err)
	}
	padded := pad(plaintext)
	ciphertext = make([]byte, len(padded))
	cipher.NewCBCEncrypter(block, iv).CryptBlocks(ciphertext, padded)
	return ciphertext, iv, nil
}

// Decrypt reverses Encrypt. It fails with ErrDecryption on a
// wrong-length IV, ciphertext that is not a block multiple, or invalid
// padding; it never silently returns corrupted plaintext on those
// conditions.
func (c *Cipher) Decrypt(ciphertext, iv []byte) ([]byte, error) {
	if len(iv) != BlockSize {
		return nil, fmt.Errorf("iv length %d: %w", len(iv), apperr.ErrDecryption)
	}
	if len(ciphertext) == 0 || len(ciphertext)%BlockSize != 0 {
		return nil, fmt.Errorf("ciphertext length %d not a block multiple: %w", len(ciphertext), apperr.ErrDecryption)
	}
	block, err := aes.NewCipher(c.key)
	if err != nil {
		return nil, err
	}
	plaintext := make([]byte, len(ciphertext))
	cipher.NewCBCDecrypter(block, iv).CryptBlocks(plaintext, ciphertext)
	return unpad(plaintext)
}

// EncryptEncode encrypts and packs IV followed by ciphertext into one
// base64 string, for callers that store a single opaque value.
func (c *Cipher) EncryptEncode(plaintext []byte) (string, error) {
	ciphertext, iv, err := c.Encrypt(plaintext)
	if err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(append(iv, ciphertext...)), nil
}

// DecodeDecrypt reverses EncryptEncode.
func (c *Cipher) DecodeDecrypt(encoded string) ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, fmt.Errorf("base64 decode: %w", apperr.ErrEncoding)
	}
	if len(raw) < BlockSize {
		return nil, fmt.Errorf("encoded blob shorter than one iv: %w", apperr.ErrEncoding)
	}
	return c.Decrypt(raw[BlockSize:], raw[:BlockSize])
}

// EncryptForStorage encrypts and returns raw ciphertext plus the IV as
// a hex string, for callers that store the two separately.
func (c *Cipher) EncryptForStorage(plaintext []byte) (ciphertext []byte, ivHex string, err error) {
	ciphertext, iv, err := c.Encrypt(plaintext)
	if err != nil {
		return nil, "", err
	}
	return ciphertext, hex.EncodeToString(iv), nil
}

// DecryptFromStorage reverses EncryptForStorage.
func (c *Cipher) DecryptFromStorage(ciphertext []byte, ivHex string) ([]byte, error) {
	iv, err := hex.DecodeString(strings.TrimSpace(ivHex))
	if err != nil {
		return nil, fmt.Errorf("iv hex: %w", apperr.ErrEncoding)
	}
	return c.Decrypt(ciphertext, iv)
}

func pad(data []byte) []byte {
	n := BlockSize - len(data)%BlockSize
	return append(append([]byte(nil), data...), bytes.Repeat([]byte{byte(n)}, n)...)
}

func unpad(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("empty plaintext: %w", apperr.ErrDecryption)
	}
	n := int(data[len(data)-1])
	if n == 0 || n > BlockSize || n > len(data) {
		return nil, fmt.Errorf("invalid padding: %w", apperr.ErrDecryption)
	}
	for _, b := range data[len(data)-n:] {
		if int(b) != n {
			return nil, fmt.Errorf("invalid padding: %w", apperr.ErrDecryption)
		}
	}
	return data[:len(data)-n], nil
}
