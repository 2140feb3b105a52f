package keys

import (
	"crypto/rsa"
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"time"

	"github.com/stephnangue/jwtsecrets/logical"
)

const (
	// Algorithm is the JWS algorithm of every signing key.
	Algorithm = "RS256"

	// KeyBits is the RSA modulus size.
	KeyBits = 2048

	privateKeyPrefix = "privatekey/"
	publicKeyPrefix  = "key/"
	currentKeyPath   = "config/current"

	privatePEMType = "RSA PRIVATE KEY"
	publicPEMType  = "RSA PUBLIC KEY"
)

// ErrKeyNotFound is returned when no key exists for a kid.
var ErrKeyNotFound = logical.ErrNotFound("key not found")

// SigningKey is a private signing key. The private half never leaves the
// package except through Sign.
type SigningKey struct {
	KID       string
	Algorithm string
	CreatedAt time.Time
	ExpiresAt time.Time

	private *rsa.PrivateKey
}

// Public returns the public half of the key.
func (k *SigningKey) Public() *rsa.PublicKey {
	return &k.private.PublicKey
}

// Expired reports whether the key may no longer sign at now.
func (k *SigningKey) Expired(now time.Time) bool {
	return !now.Before(k.ExpiresAt)
}

// PublicKey is the published half of a signing key.
type PublicKey struct {
	KID       string    `json:"kid"`
	PEM       string    `json:"public"`
	ExpiresAt time.Time `json:"expires_at"`
}

// RSA decodes the PEM block.
func (p *PublicKey) RSA() (*rsa.PublicKey, error) {
	block, _ := pem.Decode([]byte(p.PEM))
	if block == nil || block.Type != publicPEMType {
		return nil, errors.New("invalid public key PEM")
	}
	pub, err := x509.ParsePKIXPublicKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse public key: %w", err)
	}
	rsaPub, ok := pub.(*rsa.PublicKey)
	if !ok {
		return nil, errors.New("public key is not an RSA key")
	}
	return rsaPub, nil
}

// storedPrivateKey is the storage format of privatekey/<kid>.
type storedPrivateKey struct {
	KID       string    `json:"kid"`
	PEM       string    `json:"pem"`
	CreatedAt time.Time `json:"created_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

type currentPointer struct {
	KID string `json:"kid"`
}

func encodePrivate(k *SigningKey) storedPrivateKey {
	return storedPrivateKey{
		KID: k.KID,
		PEM: string(pem.EncodeToMemory(&pem.Block{
			Type:  privatePEMType,
			Bytes: x509.MarshalPKCS1PrivateKey(k.private),
		})),
		CreatedAt: k.CreatedAt,
		ExpiresAt: k.ExpiresAt,
	}
}

func decodePrivate(s storedPrivateKey) (*SigningKey, error) {
	block, _ := pem.Decode([]byte(s.PEM))
	if block == nil || block.Type != privatePEMType {
		return nil, fmt.Errorf("invalid private key PEM for kid %q", s.KID)
	}
	priv, err := x509.ParsePKCS1PrivateKey(block.Bytes)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key %q: %w", s.KID, err)
	}
	return &SigningKey{
		KID:       s.KID,
		Algorithm: Algorithm,
		CreatedAt: s.CreatedAt,
		ExpiresAt: s.ExpiresAt,
		private:   priv,
	}, nil
}

func encodePublic(k *SigningKey) (*PublicKey, error) {
	der, err := x509.MarshalPKIXPublicKey(k.Public())
	if err != nil {
		return nil, fmt.Errorf("failed to marshal public key: %w", err)
	}
	return &PublicKey{
		KID:       k.KID,
		PEM:       string(pem.EncodeToMemory(&pem.Block{Type: publicPEMType, Bytes: der})),
		ExpiresAt: k.ExpiresAt,
	}, nil
}
