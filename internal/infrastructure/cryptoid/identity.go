// Package cryptoid owns a node's long-term identity key material: an
// Ed25519 signing key (spec.md §2 "Identity & keys") and the X25519 key
// derived from it for session and private-memory-entry encryption.
// golang.org/x/crypto is already an indirect dependency of the teacher's
// go.mod; this package is where CIS promotes it to direct use.
package cryptoid

import (
	"crypto/ed25519"
	"crypto/rand"
	"encoding/pem"
	"fmt"
	"os"
	"path/filepath"

	"golang.org/x/crypto/curve25519"

	"github.com/cis-project/cis/pkg/cisid"
)

const pemBlockType = "CIS NODE IDENTITY KEY"

// Identity bundles a node's signing keypair, its X25519 session keypair
// derived from the same seed, and its derived NodeId.
type Identity struct {
	Public     ed25519.PublicKey
	private    ed25519.PrivateKey
	x25519Pub  [32]byte
	x25519Priv [32]byte
	NodeID     cisid.NodeId
}

// Generate creates a fresh identity from crypto/rand.
func Generate() (*Identity, error) {
	pub, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return nil, fmt.Errorf("generate ed25519 key: %w", err)
	}
	return fromPrivateKey(priv, pub)
}

// Load reads a PEM-encoded seed from path, generating and persisting a new
// one if the file does not exist — mirroring the teacher's "create data
// dir on first run" convention in its config loader.
func Load(path string) (*Identity, error) {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		id, genErr := Generate()
		if genErr != nil {
			return nil, genErr
		}
		if saveErr := id.Save(path); saveErr != nil {
			return nil, saveErr
		}
		return id, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read identity key: %w", err)
	}

	block, _ := pem.Decode(data)
	if block == nil || block.Type != pemBlockType {
		return nil, fmt.Errorf("identity key at %s is not a valid PEM block", path)
	}
	if len(block.Bytes) != ed25519.SeedSize {
		return nil, fmt.Errorf("identity seed has wrong length %d", len(block.Bytes))
	}
	priv := ed25519.NewKeyFromSeed(block.Bytes)
	return fromPrivateKey(priv, priv.Public().(ed25519.PublicKey))
}

// Save persists the identity's seed as a PEM file (0600).
func (id *Identity) Save(path string) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("create identity dir: %w", err)
	}
	seed := id.private.Seed()
	block := &pem.Block{Type: pemBlockType, Bytes: seed}
	return os.WriteFile(path, pem.EncodeToMemory(block), 0o600)
}

func fromPrivateKey(priv ed25519.PrivateKey, pub ed25519.PublicKey) (*Identity, error) {
	xPriv, xPub, err := ed25519SeedToX25519(priv)
	if err != nil {
		return nil, err
	}
	return &Identity{
		Public:     pub,
		private:    priv,
		x25519Pub:  xPub,
		x25519Priv: xPriv,
		NodeID:     cisid.FromPublicKey(pub),
	}, nil
}

// ed25519SeedToX25519 derives an X25519 keypair from the Ed25519 seed via
// curve25519.X25519 with the base point, so a node carries one seed for both signing
// and session-key exchange.
func ed25519SeedToX25519(priv ed25519.PrivateKey) (privOut, pubOut [32]byte, err error) {
	h := priv.Seed()
	var scalar [32]byte
	copy(scalar[:], h)
	// Clamp per RFC 7748 so the scalar is a valid X25519 private key.
	scalar[0] &= 248
	scalar[31] &= 127
	scalar[31] |= 64

	pub, err := curve25519.X25519(scalar[:], curve25519.Basepoint)
	if err != nil {
		return privOut, pubOut, fmt.Errorf("derive x25519 public key: %w", err)
	}
	copy(privOut[:], scalar[:])
	copy(pubOut[:], pub)
	return privOut, pubOut, nil
}

// Sign signs msg with the node's Ed25519 private key.
func (id *Identity) Sign(msg []byte) []byte {
	return ed25519.Sign(id.private, msg)
}

// Verify checks an Ed25519 signature against a public key.
func Verify(pub ed25519.PublicKey, msg, sig []byte) bool {
	return ed25519.Verify(pub, msg, sig)
}

// X25519KeyPair exposes the session keypair for use by cryptotransport and
// the memory encryption layer.
func (id *Identity) X25519KeyPair() (priv, pub [32]byte) {
	return id.x25519Priv, id.x25519Pub
}
