package utils // package utils provides helpers shared by the server, its tools and tests

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// AccessToken is a signed HS256 JWT along with its expiry.
type AccessToken struct {
	Token string
	Exp   time.Time
}

// NewAccessToken signs a token carrying the subject and role claims the
// API's JWTAuth middleware reads.  Production tokens come from the
// identity service; this helper mints compatible ones for local runs and
// tests.
func NewAccessToken(secret, userID, role string, ttl time.Duration) (AccessToken, error) {
	if secret == "" || userID == "" {
		return AccessToken{}, errors.New("secret and user id are required")
	}
	now := time.Now().UTC()
	exp := now.Add(ttl)
	claims := jwt.MapClaims{
		"sub":  userID,
		"role": role,
		"exp":  exp.Unix(),
		"iat":  now.Unix(),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return AccessToken{}, err
	}
	return AccessToken{Token: signed, Exp: exp}, nil
}
