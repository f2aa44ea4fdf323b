package push

import (
	"crypto/ecdsa"
	"encoding/base64"
	"fmt"
	"net/url"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// vapidClaims is the JWT body of an RFC 8292 VAPID token. golang-jwt's
// ES256 signer already emits the raw r||s signature the RFC requires, so
// producing a VAPID token needs only this claim set and the server's EC
// signing key, not a different JWT library.
type vapidClaims struct {
	Audience string `json:"aud"`
	Expiry   int64  `json:"exp"`
	Subject  string `json:"sub"`
}

func (c vapidClaims) GetExpirationTime() (*jwt.NumericDate, error) {
	return jwt.NewNumericDate(time.Unix(c.Expiry, 0)), nil
}
func (c vapidClaims) GetIssuedAt() (*jwt.NumericDate, error)  { return nil, nil }
func (c vapidClaims) GetNotBefore() (*jwt.NumericDate, error) { return nil, nil }
func (c vapidClaims) GetIssuer() (string, error)              { return "", nil }
func (c vapidClaims) GetSubject() (string, error)              { return c.Subject, nil }
func (c vapidClaims) GetAudience() (jwt.ClaimStrings, error)   { return jwt.ClaimStrings{c.Audience}, nil }

// authHeader builds the RFC 8292 Authorization header value for a push
// request to endpoint, signed by serverKey and identifying the operator as
// subject (a "mailto:" URL).
func authHeader(serverKey *ecdsa.PrivateKey, endpoint, subject string, lifetime time.Duration, now time.Time) (string, error) {
	aud, err := origin(endpoint)
	if err != nil {
		return "", fmt.Errorf("vapid: %w", err)
	}

	claims := vapidClaims{
		Audience: aud,
		Expiry:   now.Add(lifetime).Unix(),
		Subject:  subject,
	}
	token := jwt.NewWithClaims(jwt.SigningMethodES256, claims)
	signed, err := token.SignedString(serverKey)
	if err != nil {
		return "", fmt.Errorf("vapid: signing JWT: %w", err)
	}

	ecdhKey, err := serverKey.ECDH()
	if err != nil {
		return "", fmt.Errorf("vapid: server key is not on a Weierstrass ECDH curve: %w", err)
	}
	k := base64.RawURLEncoding.EncodeToString(ecdhKey.PublicKey().Bytes())
	return fmt.Sprintf("vapid t=%s,k=%s", signed, k), nil
}

// origin reduces endpoint to its scheme://host[:port] form, the JWT
// audience RFC 8292 requires.
func origin(endpoint string) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return "", fmt.Errorf("endpoint URL missing scheme or host: %q", endpoint)
	}
	return fmt.Sprintf("%s://%s", u.Scheme, u.Host), nil
}
