// Package admission issues and validates the short-lived signed
// tokens that bind a client identity to a set of authorised topics.
// golang-jwt/jwt/v4 is present in prysmaticlabs-prysm's go.mod; no
// pack repo implements channel token admission itself, so the claim
// shape (subject, scope/topic-prefix, issued-at, expiration) is
// original to this package.
package admission

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v4"
)

// DefaultExpiration is the token lifetime when none is configured.
const DefaultExpiration = 10 * 365 * 24 * time.Hour

// DefaultIDLength is the byte length of a randomly generated client
// ID, hex-encoded in the resulting token.
const DefaultIDLength = 12

// Claims is the token payload: subject client ID, authorised scope
// (a topic or topic prefix; empty means "all permitted"), issued-at,
// and expiration.
type Claims struct {
	jwt.RegisteredClaims
	Scope string `json:"scope"`
}

// Issuer issues and verifies admission tokens with a shared HMAC
// secret.
type Issuer struct {
	secret     []byte
	expiration time.Duration
	idLength   int
}

// New returns an Issuer. expiration <= 0 uses DefaultExpiration;
// idLength <= 0 uses DefaultIDLength.
func New(secret string, expiration time.Duration, idLength int) *Issuer {
	if expiration <= 0 {
		expiration = DefaultExpiration
	}
	if idLength <= 0 {
		idLength = DefaultIDLength
	}
	return &Issuer{secret: []byte(secret), expiration: expiration, idLength: idLength}
}

// Issue mints a signed token for the given client and scope. An empty
// clientID generates a random one; an empty scope means "all
// permitted".
func (iss *Issuer) Issue(clientID, scope string) (token string, subject string, err error) {
	if clientID == "" {
		clientID, err = randomID(iss.idLength)
		if err != nil {
			return "", "", fmt.Errorf("admission issue: %w", err)
		}
	}

	now := time.Now()
	claims := Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   clientID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(iss.expiration)),
		},
		Scope: scope,
	}

	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(iss.secret)
	if err != nil {
		return "", "", fmt.Errorf("admission sign: %w", err)
	}
	return signed, clientID, nil
}

// Verify parses and validates token, returning its claims. Validation
// (including the expiration check and the HMAC signature, which
// jwt-go compares in constant time) is entirely local — no round trip
// to any other service is required.
func (iss *Issuer) Verify(token string) (Claims, error) {
	var claims Claims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return iss.secret, nil
	})
	if err != nil {
		return Claims{}, fmt.Errorf("admission verify: %w", err)
	}
	if !parsed.Valid {
		return Claims{}, fmt.Errorf("admission verify: invalid token")
	}
	return claims, nil
}

// Authorizes reports whether claims authorise topic: an empty Scope
// means every topic is permitted; otherwise the scope must equal
// topic exactly or match its final segment as a prefix.
func Authorizes(claims Claims, topic string) bool {
	if claims.Scope == "" {
		return true
	}
	if claims.Scope == topic {
		return true
	}
	return len(topic) > len(claims.Scope) &&
		topic[:len(claims.Scope)] == claims.Scope &&
		topic[len(claims.Scope)] == ':'
}

func randomID(length int) (string, error) {
	buf := make([]byte, length)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("generate client id: %w", err)
	}
	return hex.EncodeToString(buf), nil
}
