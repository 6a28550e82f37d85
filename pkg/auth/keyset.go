package auth

import (
	"context"
	"crypto/ed25519"
	"crypto/rand"
	"crypto/rsa"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// ErrVerifyOnly is returned by Sign on key sets that hold no private key.
var ErrVerifyOnly = errors.New("auth: key set is verify-only")

// KeySet signs tokens and resolves verification keys.
type KeySet interface {
	Sign(ctx context.Context, claims jwt.Claims) (string, error)
	KeyFunc() jwt.Keyfunc
}

// HMACKeySet verifies HS256 tokens issued with a shared secret.
type HMACKeySet struct {
	secret []byte
}

func NewHMACKeySet(secret string) (*HMACKeySet, error) {
	if len(secret) < 32 {
		return nil, errors.New("auth: hmac secret must be at least 32 bytes")
	}
	return &HMACKeySet{secret: []byte(secret)}, nil
}

func (ks *HMACKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(ks.secret)
}

func (ks *HMACKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ks.secret, nil
	}
}

// RSAKeySet verifies RS256 tokens from an identity provider's public key.
type RSAKeySet struct {
	pub *rsa.PublicKey
}

// NewRSAKeySet parses a PEM-encoded RSA public key.
func NewRSAKeySet(publicKeyPEM []byte) (*RSAKeySet, error) {
	pub, err := jwt.ParseRSAPublicKeyFromPEM(publicKeyPEM)
	if err != nil {
		return nil, fmt.Errorf("auth: parse rsa public key: %w", err)
	}
	return &RSAKeySet{pub: pub}, nil
}

func (ks *RSAKeySet) Sign(context.Context, jwt.Claims) (string, error) {
	return "", ErrVerifyOnly
}

func (ks *RSAKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodRSA); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return ks.pub, nil
	}
}

// InMemoryKeySet holds rotating Ed25519 keys addressed by kid. It backs
// local development and tests.
type InMemoryKeySet struct {
	mu         sync.RWMutex
	currentKID string
	keys       map[string]ed25519.PrivateKey
	order      []string
	seq        int
}

const maxRetainedKeys = 5

func NewInMemoryKeySet() (*InMemoryKeySet, error) {
	ks := &InMemoryKeySet{keys: make(map[string]ed25519.PrivateKey)}
	if err := ks.Rotate(); err != nil {
		return nil, err
	}
	return ks, nil
}

// Rotate activates a fresh key. Tokens signed by the last few keys still verify.
func (ks *InMemoryKeySet) Rotate() error {
	_, priv, err := ed25519.GenerateKey(rand.Reader)
	if err != nil {
		return fmt.Errorf("auth: generate key: %w", err)
	}

	ks.mu.Lock()
	defer ks.mu.Unlock()
	ks.seq++
	kid := fmt.Sprintf("key-%d-%d", time.Now().Unix(), ks.seq)
	ks.keys[kid] = priv
	ks.order = append(ks.order, kid)
	ks.currentKID = kid
	for len(ks.order) > maxRetainedKeys {
		delete(ks.keys, ks.order[0])
		ks.order = ks.order[1:]
	}
	return nil
}

func (ks *InMemoryKeySet) Sign(_ context.Context, claims jwt.Claims) (string, error) {
	ks.mu.RLock()
	kid := ks.currentKID
	key := ks.keys[kid]
	ks.mu.RUnlock()
	if key == nil {
		return "", errors.New("auth: no active key")
	}

	token := jwt.NewWithClaims(jwt.SigningMethodEdDSA, claims)
	token.Header["kid"] = kid
	return token.SignedString(key)
}

func (ks *InMemoryKeySet) KeyFunc() jwt.Keyfunc {
	return func(token *jwt.Token) (any, error) {
		if _, ok := token.Method.(*jwt.SigningMethodEd25519); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		kid, ok := token.Header["kid"].(string)
		if !ok {
			return nil, errors.New("missing kid in header")
		}
		ks.mu.RLock()
		defer ks.mu.RUnlock()
		key, exists := ks.keys[kid]
		if !exists {
			return nil, fmt.Errorf("key not found: %s", kid)
		}
		return key.Public(), nil
	}
}
