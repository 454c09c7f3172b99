package session

import (
	"crypto/sha256"
	"errors"
	"fmt"
	"io"

	"github.com/gorilla/securecookie"
	"golang.org/x/crypto/hkdf"

	"github.com/example/court-scheduler/internal/internaltypes"
)

const (
	hashKeyLen  = 64
	blockKeyLen = 32
	keyInfo     = "courtsched session v1"
)

// SealedCodec authenticates and encrypts the session at rest. The stored
// state holds live site cookies, so anyone who can read it can book as the
// user.
type SealedCodec struct {
	name string
	sc   *securecookie.SecureCookie
}

// NewSealedCodec derives the HMAC and AES keys from secret. name binds the
// sealed value to one session slot.
func NewSealedCodec(name string, secret []byte) (*SealedCodec, error) {
	if len(secret) < 16 {
		return nil, fmt.Errorf("%w: session secret must be at least 16 bytes", internaltypes.ErrConfiguration)
	}
	hashKey, blockKey, err := deriveKeys(secret)
	if err != nil {
		return nil, err
	}

	sc := securecookie.New(hashKey, blockKey)
	sc.SetSerializer(securecookie.JSONEncoder{})
	// Expiry is judged by probing the site, not by seal age.
	sc.MaxAge(0)
	sc.MaxLength(0)
	return &SealedCodec{name: name, sc: sc}, nil
}

func deriveKeys(secret []byte) (hashKey, blockKey []byte, err error) {
	r := hkdf.New(sha256.New, secret, nil, []byte(keyInfo))
	hashKey = make([]byte, hashKeyLen)
	blockKey = make([]byte, blockKeyLen)
	if _, err := io.ReadFull(r, hashKey); err != nil {
		return nil, nil, fmt.Errorf("derive hash key: %w", err)
	}
	if _, err := io.ReadFull(r, blockKey); err != nil {
		return nil, nil, fmt.Errorf("derive block key: %w", err)
	}
	return hashKey, blockKey, nil
}

func (c *SealedCodec) Encode(s Session) ([]byte, error) {
	v, err := c.sc.Encode(c.name, s)
	if err != nil {
		return nil, fmt.Errorf("seal session: %w", err)
	}
	return []byte(v), nil
}

func (c *SealedCodec) Decode(b []byte) (Session, error) {
	var s Session
	if err := c.sc.Decode(c.name, string(b), &s); err != nil {
		var scErr securecookie.Error
		if errors.As(err, &scErr) && scErr.IsDecode() {
			return Session{}, fmt.Errorf("%w: stored session is not readable with this secret: %v", internaltypes.ErrPersistence, err)
		}
		return Session{}, fmt.Errorf("%w: unseal session: %v", internaltypes.ErrPersistence, err)
	}
	if len(s.State) == 0 {
		return Session{}, fmt.Errorf("%w: stored session has no state", internaltypes.ErrPersistence)
	}
	return s, nil
}

// GenerateSecret returns a random secret suitable for SESSION_SECRET.
func GenerateSecret() []byte {
	return securecookie.GenerateRandomKey(32)
}

var _ Codec = (*SealedCodec)(nil)
