package cryptoid

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"crypto/sha256"
	"fmt"
	"io"
)

// EncryptionVersion selects the private-entry encryption scheme (spec.md
// §4.3: "encryption has two versions (v1, v2) selectable at open; rotation
// re-encrypts lazily on write").
type EncryptionVersion int

const (
	// V1 uses AES-256-GCM with a key derived directly from the node's
	// X25519 private scalar. Superseded by V2's domain-separated key
	// derivation but kept readable for entries written before rotation.
	V1 EncryptionVersion = 1
	// V2 derives the AES key from SHA-256("cis-memory-v2" || x25519 priv),
	// domain-separating it from any other use of the node's key material.
	V2 EncryptionVersion = 2
)

// PrivateBox encrypts and decrypts MemoryEntry values belonging to the
// Private domain (spec.md §3 "MemoryEntry": "Private entries are
// encrypted at rest").
type PrivateBox struct {
	keyV1 [32]byte
	keyV2 [32]byte
}

// NewPrivateBox derives both key versions from the node's X25519 private
// scalar so Open can transparently read entries written under either.
func NewPrivateBox(id *Identity) *PrivateBox {
	priv, _ := id.X25519KeyPair()
	v2 := sha256.Sum256(append([]byte("cis-memory-v2"), priv[:]...))
	return &PrivateBox{keyV1: priv, keyV2: v2}
}

// Seal encrypts plaintext under the given version, prefixing the nonce.
func (b *PrivateBox) Seal(version EncryptionVersion, plaintext []byte) ([]byte, error) {
	key, err := b.keyFor(version)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	nonce := make([]byte, gcm.NonceSize())
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return nil, fmt.Errorf("read nonce: %w", err)
	}
	return gcm.Seal(nonce, nonce, plaintext, nil), nil
}

// Open decrypts ciphertext produced by Seal under the given version.
func (b *PrivateBox) Open(version EncryptionVersion, ciphertext []byte) ([]byte, error) {
	key, err := b.keyFor(version)
	if err != nil {
		return nil, err
	}
	block, err := aes.NewCipher(key[:])
	if err != nil {
		return nil, fmt.Errorf("new aes cipher: %w", err)
	}
	gcm, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("new gcm: %w", err)
	}
	if len(ciphertext) < gcm.NonceSize() {
		return nil, fmt.Errorf("ciphertext too short")
	}
	nonce, body := ciphertext[:gcm.NonceSize()], ciphertext[gcm.NonceSize():]
	return gcm.Open(nil, nonce, body, nil)
}

// CurrentVersion is the version Encrypt seals new ciphertext under.
// Rotation means bumping this and redeploying; Decrypt keeps reading
// whichever version a given ciphertext's prefix byte names, so entries
// written before a rotation stay readable without a migration pass.
const CurrentVersion = V2

// Encrypt seals plaintext under CurrentVersion, prefixing a one-byte
// version tag so Decrypt can recover the right key without a side
// channel. Implements memory.Encryptor.
func (b *PrivateBox) Encrypt(plaintext []byte) ([]byte, error) {
	ct, err := b.Seal(CurrentVersion, plaintext)
	if err != nil {
		return nil, err
	}
	return append([]byte{byte(CurrentVersion)}, ct...), nil
}

// Decrypt reads the version tag Encrypt writes and opens accordingly.
// Implements memory.Encryptor.
func (b *PrivateBox) Decrypt(ciphertext []byte) ([]byte, error) {
	if len(ciphertext) < 1 {
		return nil, fmt.Errorf("ciphertext too short: missing version tag")
	}
	return b.Open(EncryptionVersion(ciphertext[0]), ciphertext[1:])
}

func (b *PrivateBox) keyFor(version EncryptionVersion) ([32]byte, error) {
	switch version {
	case V1:
		return b.keyV1, nil
	case V2:
		return b.keyV2, nil
	default:
		return [32]byte{}, fmt.Errorf("unknown encryption version %d", version)
	}
}
