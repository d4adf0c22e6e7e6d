package jwt

import (
	"errors"
	"fmt"
	"time"

	"github.com/dgrijalva/jwt-go"
)

var (
	// ErrNoSecret is returned when signing or validating without a key
	ErrNoSecret = errors.New("jwt secret is not configured")
	// ErrInvalidToken is returned for tokens that fail validation
	ErrInvalidToken = errors.New("invalid token")
)

// Claims identify an operator of the control API
type Claims struct {
	Subject string `json:"sub"`
	Role    string `json:"role"`
	jwt.StandardClaims
}

// Signer issues and validates HS256 tokens with one shared secret
type Signer struct {
	key []byte
}

func NewSigner(secret string) *Signer {
	return &Signer{key: []byte(secret)}
}

// GenerateToken issues a token for subject that expires after ttl
func (s *Signer) GenerateToken(subject, role string, ttl time.Duration) (string, error) {
	if len(s.key) == 0 {
		return "", ErrNoSecret
	}
	now := time.Now()
	claims := &Claims{
		Subject: subject,
		Role:    role,
		StandardClaims: jwt.StandardClaims{
			IssuedAt:  now.Unix(),
			ExpiresAt: now.Add(ttl).Unix(),
			Issuer:    "krakenwifi",
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	return token.SignedString(s.key)
}

// ValidateToken checks the signature, the algorithm and the expiry
func (s *Signer) ValidateToken(tokenString string) (*Claims, error) {
	if len(s.key) == 0 {
		return nil, ErrNoSecret
	}
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return s.key, nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
