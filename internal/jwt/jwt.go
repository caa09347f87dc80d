// Package jwt verifies the bearer tokens that guard the admin API.
package jwt

import (
	"crypto/x509"
	"encoding/pem"
	"errors"
	"fmt"
	"os"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

type Validator struct {
	keys   map[string]any // certificate CN -> public key
	first  any
	parser *jwt.Parser
}

// NewValidator loads PEM certificates. The token's "kid" header selects a
// certificate by common name; tokens without a known kid use the first one.
func NewValidator(pemPaths []string, issuer, audience string) (*Validator, error) {
	if len(pemPaths) == 0 {
		return nil, errors.New("no public keys configured")
	}
	v := &Validator{keys: make(map[string]any, len(pemPaths))}
	for _, p := range pemPaths {
		b, err := os.ReadFile(p)
		if err != nil {
			return nil, err
		}
		c, err := parseCertificate(b)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", p, err)
		}
		v.keys[c.Subject.CommonName] = c.PublicKey
		if v.first == nil {
			v.first = c.PublicKey
		}
	}

	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{"RS256", "RS384", "RS512", "ES256", "ES384", "ES512", "EdDSA"})}
	if issuer != "" {
		opts = append(opts, jwt.WithIssuer(issuer))
	}
	if audience != "" {
		opts = append(opts, jwt.WithAudience(audience))
	}
	v.parser = jwt.NewParser(opts...)
	return v, nil
}

func parseCertificate(b []byte) (*x509.Certificate, error) {
	block, _ := pem.Decode(b)
	if block == nil {
		return nil, errors.New("invalid pem")
	}
	return x509.ParseCertificate(block.Bytes)
}

func (v *Validator) Verify(tokenStr string) (jwt.MapClaims, error) {
	claims := jwt.MapClaims{}
	tok, err := v.parser.ParseWithClaims(tokenStr, claims, func(t *jwt.Token) (any, error) {
		if kid, _ := t.Header["kid"].(string); kid != "" {
			if k, ok := v.keys[kid]; ok {
				return k, nil
			}
		}
		return v.first, nil
	})
	if err != nil || !tok.Valid {
		return nil, ErrInvalidToken
	}
	return claims, nil
}
