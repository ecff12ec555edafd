package session

import (
	"fmt"
	"strings"
	"time"

	paseto "aidanwoods.dev/go-paseto"
)

type pasetoSigner struct {
	issuer    string
	clockSkew time.Duration

	secret paseto.V4AsymmetricSecretKey
	public paseto.V4AsymmetricPublicKey
}

// NewPasetoSigner builds a PASETO v4.public Signer from cfg.PasetoV4SecretKeyHex (Ed25519).
func NewPasetoSigner(cfg Config) (Signer, error) {
	secret, err := paseto.NewV4AsymmetricSecretKeyFromHex(strings.TrimSpace(cfg.PasetoV4SecretKeyHex))
	if err != nil {
		return nil, fmt.Errorf("%w: paseto secret key", ErrConfig)
	}
	return &pasetoSigner{
		issuer:    cfg.Issuer,
		clockSkew: cfg.ClockSkew,
		secret:    secret,
		public:    secret.Public(),
	}, nil
}

func (p *pasetoSigner) Sign(c Claims) (string, error) {
	if strings.TrimSpace(c.SubjectID) == "" {
		return "", fmt.Errorf("session: empty subject")
	}

	tok := paseto.NewToken()
	tok.SetIssuer(p.issuer)
	tok.SetSubject(c.SubjectID)
	tok.SetIssuedAt(c.IssuedAt)
	tok.SetNotBefore(c.IssuedAt)
	tok.SetExpiration(c.ExpiresAt)

	return tok.V4Sign(p.secret, nil), nil
}

func (p *pasetoSigner) Verify(signed string, now time.Time) (Claims, error) {
	parser := paseto.MakeParser([]paseto.Rule{paseto.IssuedBy(p.issuer)})
	tok, err := parser.ParseV4Public(p.public, signed, nil)
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}

	c, err := pasetoClaims(tok)
	if err != nil {
		return Claims{}, err
	}

	if nbf, err := tok.GetNotBefore(); err == nil && nbf.After(now.Add(p.clockSkew)) {
		return Claims{}, ErrInvalidSignature
	}
	if !now.Add(-p.clockSkew).Before(c.ExpiresAt) {
		return Claims{}, ErrCredentialExpired
	}
	return c, nil
}

func (p *pasetoSigner) Inspect(signed string) (Claims, error) {
	parser := paseto.MakeParser(nil)
	tok, err := parser.ParseV4Public(p.public, signed, nil)
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	return pasetoClaims(tok)
}

func pasetoClaims(tok *paseto.Token) (Claims, error) {
	sub, err := tok.GetSubject()
	if err != nil || sub == "" {
		return Claims{}, ErrInvalidSignature
	}
	exp, err := tok.GetExpiration()
	if err != nil {
		return Claims{}, ErrInvalidSignature
	}
	iat, _ := tok.GetIssuedAt()
	iss, _ := tok.GetIssuer()

	return Claims{SubjectID: sub, IssuedAt: iat, ExpiresAt: exp, Issuer: iss}, nil
}
