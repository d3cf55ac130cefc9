package fspiop

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrSignatureMissing  = errors.New("fspiop signature missing")
	ErrSignatureInvalid  = errors.New("fspiop signature invalid")
	ErrSignatureMismatch = errors.New("fspiop signature does not match request")
)

// SignatureClaims binds a signature to one request.
type SignatureClaims struct {
	Source      string `json:"src"`
	Destination string `json:"dst,omitempty"`
	Method      string `json:"mth"`
	URI         string `json:"uri"`
	BodyDigest  string `json:"dgst"`
	jwt.RegisteredClaims
}

// Signer produces and checks FSPIOP-Signature headers with a shared HMAC secret.
type Signer struct {
	secret []byte
	maxAge time.Duration
	now    func() time.Time
}

// NewSigner returns nil when secret is empty, which disables signing.
func NewSigner(secret string) *Signer {
	if secret == "" {
		return nil
	}
	return &Signer{secret: []byte(secret), maxAge: 5 * time.Minute, now: time.Now}
}

func bodyDigest(body []byte) string {
	sum := sha256.Sum256(body)
	return hex.EncodeToString(sum[:])
}

// Sign returns a compact HS256 token for the given request fields.
func (s *Signer) Sign(method, uri, source, destination string, body []byte) (string, error) {
	claims := SignatureClaims{
		Source:      source,
		Destination: destination,
		Method:      method,
		URI:         uri,
		BodyDigest:  bodyDigest(body),
		RegisteredClaims: jwt.RegisteredClaims{
			IssuedAt: jwt.NewNumericDate(s.now()),
		},
	}
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to sign request: %w", err)
	}
	return signed, nil
}

// SignRequest sets the signature header on an outgoing request. A nil signer is a no-op.
func (s *Signer) SignRequest(req *http.Request, body []byte) error {
	if s == nil {
		return nil
	}
	signed, err := s.Sign(req.Method, req.URL.RequestURI(), req.Header.Get(HeaderSource), req.Header.Get(HeaderDestination), body)
	if err != nil {
		return err
	}
	req.Header.Set(HeaderSignature, signed)
	return nil
}

// VerifyRequest checks the signature header of an inbound request against its body.
func (s *Signer) VerifyRequest(r *http.Request, body []byte) error {
	if s == nil {
		return nil
	}
	raw := r.Header.Get(HeaderSignature)
	if raw == "" {
		return ErrSignatureMissing
	}

	var claims SignatureClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(t *jwt.Token) (interface{}, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuedAt(),
		jwt.WithTimeFunc(s.now),
	)
	if err != nil || !token.Valid {
		return fmt.Errorf("%w: %v", ErrSignatureInvalid, err)
	}
	if claims.IssuedAt == nil {
		return fmt.Errorf("%w: iat claim missing", ErrSignatureInvalid)
	}
	if s.now().Sub(claims.IssuedAt.Time) > s.maxAge {
		return fmt.Errorf("%w: signature too old", ErrSignatureInvalid)
	}

	switch {
	case claims.Method != r.Method,
		claims.URI != r.URL.RequestURI(),
		claims.Source != r.Header.Get(HeaderSource),
		claims.Destination != r.Header.Get(HeaderDestination),
		claims.BodyDigest != bodyDigest(body):
		return ErrSignatureMismatch
	}
	return nil
}
