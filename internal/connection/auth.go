package connection

import (
	"os"
	"time"

	jwt "github.com/dgrijalva/jwt-go"
	"github.com/pkg/errors"
)

const (
	algorithm       = "RS256"
	DefaultAudience = "drone-service"
	tokenLifetime   = 24 * time.Hour
)

// TokenSource signs the bearer token presented when dialing the drone
// service.
type TokenSource struct {
	key      interface{}
	subject  string
	audience string
	now      func() time.Time
}

// LoadTokenSource reads a PEM encoded RSA private key from path.
func LoadTokenSource(path, subject, audience string) (*TokenSource, error) {
	keyData, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read private key")
	}
	return NewTokenSource(keyData, subject, audience)
}

func NewTokenSource(keyPEM []byte, subject, audience string) (*TokenSource, error) {
	key, err := jwt.ParseRSAPrivateKeyFromPEM(keyPEM)
	if err != nil {
		return nil, errors.Wrap(err, "parse private key")
	}
	if audience == "" {
		audience = DefaultAudience
	}
	return &TokenSource{key: key, subject: subject, audience: audience, now: time.Now}, nil
}

func (s *TokenSource) Token() (string, error) {
	t := s.now()
	token := jwt.NewWithClaims(jwt.GetSigningMethod(algorithm), &jwt.StandardClaims{
		Subject:   s.subject,
		Audience:  s.audience,
		IssuedAt:  t.Unix(),
		ExpiresAt: t.Add(tokenLifetime).Unix(),
	})
	signed, err := token.SignedString(s.key)
	if err != nil {
		return "", errors.Wrap(err, "sign token")
	}
	return signed, nil
}
