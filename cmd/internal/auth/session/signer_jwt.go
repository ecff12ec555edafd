package session

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// jwtSigner signs HS256 JWTs; used where credentials must interoperate with JWT tooling.
type jwtSigner struct {
	issuer    string
	clockSkew time.Duration
	key       []byte
}

func NewJWTSigner(cfg Config) (Signer, error) {
	if len(cfg.JWTSecret) < 32 {
		return nil, fmt.Errorf("%w: jwt secret must be at least 32 bytes", ErrConfig)
	}
	return &jwtSigner{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		key:       []byte(cfg.JWTSecret),
	}, nil
}

func (j *jwtSigner) Sign(c Claims) (string, error) {
	if strings.TrimSpace(c.SubjectID) == "" {
		return "", fmt.Errorf("session: empty subject")
	}
	rc := jwt.RegisteredClaims{
		Issuer:    j.issuer,
		Subject:   c.SubjectID,
		IssuedAt:  jwt.NewNumericDate(c.IssuedAt),
		NotBefore: jwt.NewNumericDate(c.IssuedAt),
		ExpiresAt: jwt.NewNumericDate(c.ExpiresAt),
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, rc).SignedString(j.key)
}

func (j *jwtSigner) keyFunc(t *jwt.Token) (any, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
	}
	return j.key, nil
}

func (j *jwtSigner) Verify(signed string, now time.Time) (Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(signed, &rc, j.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(j.issuer),
		jwt.WithExpirationRequired(),
		jwt.WithLeeway(j.clockSkew),
		jwt.WithTimeFunc(func() time.Time { return now }),
	)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Claims{}, ErrCredentialExpired
		}
		return Claims{}, ErrInvalidSignature
	}
	return jwtClaims(rc)
}

func (j *jwtSigner) Inspect(signed string) (Claims, error) {
	var rc jwt.RegisteredClaims
	_, err := jwt.ParseWithClaims(signed, &rc, j.keyFunc,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithoutClaimsValidation(),
	)
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	return jwtClaims(rc)
}

func jwtClaims(rc jwt.RegisteredClaims) (Claims, error) {
	if rc.Subject == "" || rc.ExpiresAt == nil {
		return Claims{}, ErrInvalidSignature
	}
	c := Claims{SubjectID: rc.Subject, ExpiresAt: rc.ExpiresAt.Time, Issuer: rc.Issuer}
	if rc.IssuedAt != nil {
		c.IssuedAt = rc.IssuedAt.Time
	}
	return c, nil
}
