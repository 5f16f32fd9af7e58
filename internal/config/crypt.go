package config

import (
	"crypto/rand"
	"fmt"
	"runtime"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/chacha20poly1305"
)

// Passphrase decryption is grounded on the teacher's dex/encrypt package:
// argon2id key derivation into an xchacha20poly1305 AEAD key. The teacher's
// custom BuildyBytes wire encoding is internal glue, not a separate
// dependency; here the blob is the fixed-size salt, then the fixed-size
// nonce, then the sealed ciphertext, concatenated with no length prefixes.
const (
	argonTime    = 1
	argonMemory  = 64 * 1024
	argonKeySize = chacha20poly1305.KeySize
	saltSize     = 16
)

// Crypter derives a symmetric key from an operator-supplied passphrase and
// decrypts wallet key material at startup (spec.md §6 KeyMaterial).
type Crypter struct {
	key [argonKeySize]byte
}

// NewCrypter derives a key from pw and salt. Callers obtain salt from the
// encrypted blob's header (see Decrypt).
func NewCrypter(pw string, salt [saltSize]byte) *Crypter {
	threads := uint8(runtime.NumCPU())
	if threads == 0 {
		threads = 1
	}
	key := argon2.IDKey([]byte(pw), salt[:], argonTime, argonMemory, threads, argonKeySize)
	c := &Crypter{}
	copy(c.key[:], key)
	return c
}

// Decrypt decrypts a blob produced by Encrypt: salt(16) || nonce || sealed.
func Decrypt(pw string, blob []byte) ([]byte, error) {
	if len(blob) < saltSize {
		return nil, fmt.Errorf("config: encrypted blob too short")
	}
	var salt [saltSize]byte
	copy(salt[:], blob[:saltSize])
	c := NewCrypter(pw, salt)
	defer c.Close()

	rest := blob[saltSize:]
	boxer, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("config: aead: %w", err)
	}
	if len(rest) < boxer.NonceSize() {
		return nil, fmt.Errorf("config: encrypted blob missing nonce")
	}
	nonce, sealed := rest[:boxer.NonceSize()], rest[boxer.NonceSize():]
	plain, err := boxer.Open(nil, nonce, sealed, nil)
	if err != nil {
		return nil, fmt.Errorf("config: incorrect passphrase or corrupt key file: %w", err)
	}
	return plain, nil
}

// Encrypt encrypts plainText for storage, embedding a fresh salt and nonce.
// Used by the key-provisioning tooling that writes encrypted key files, not
// by the node itself at runtime.
func Encrypt(pw string, plainText []byte) ([]byte, error) {
	var salt [saltSize]byte
	if _, err := rand.Read(salt[:]); err != nil {
		return nil, fmt.Errorf("config: salt: %w", err)
	}
	c := NewCrypter(pw, salt)
	defer c.Close()

	boxer, err := chacha20poly1305.NewX(c.key[:])
	if err != nil {
		return nil, fmt.Errorf("config: aead: %w", err)
	}
	nonce := make([]byte, boxer.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return nil, fmt.Errorf("config: nonce: %w", err)
	}
	sealed := boxer.Seal(nil, nonce, plainText, nil)

	out := make([]byte, 0, saltSize+len(nonce)+len(sealed))
	out = append(out, salt[:]...)
	out = append(out, nonce...)
	out = append(out, sealed...)
	return out, nil
}

// Close zeros the derived key.
func (c *Crypter) Close() {
	for i := range c.key {
		c.key[i] = 0
	}
}
