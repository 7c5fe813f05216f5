// Package auth verifies player and operator tokens.
// Tokens are issued by the operator platform; this package only checks them.
package auth

import (
	"errors"
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrTokenExpired = errors.New("token expired")
	ErrForbidden    = errors.New("insufficient role")
)

// Roles carried in the role claim
const (
	RolePlayer   = "player"
	RoleOperator = "operator"
)

// Claims are the token claims understood by the engine
type Claims struct {
	PlayerID string `json:"player_id"`
	Role     string `json:"role,omitempty"`
	jwt.RegisteredClaims
}

// Identity is the verified caller
type Identity struct {
	PlayerID string
	Role     string
}

// IsOperator reports whether the caller may use operator endpoints
func (i Identity) IsOperator() bool {
	return i.Role == RoleOperator
}

// Verifier checks HS256 tokens against a shared secret
type Verifier struct {
	secret []byte
	issuer string
}

// NewVerifier creates a verifier; an empty issuer accepts any issuer
func NewVerifier(secret, issuer string) *Verifier {
	return &Verifier{secret: []byte(secret), issuer: issuer}
}

// Verify parses the token and returns the caller identity
func (v *Verifier) Verify(tokenString string) (Identity, error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if v.issuer != "" {
		opts = append(opts, jwt.WithIssuer(v.issuer))
	}

	var claims Claims
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.secret, nil
	}, opts...)
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return Identity{}, ErrTokenExpired
		}
		return Identity{}, fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	if !token.Valid {
		return Identity{}, ErrInvalidToken
	}

	playerID := claims.PlayerID
	if playerID == "" {
		playerID = claims.Subject
	}
	if playerID == "" {
		return Identity{}, fmt.Errorf("%w: missing player id", ErrInvalidToken)
	}
	role := claims.Role
	if role == "" {
		role = RolePlayer
	}
	return Identity{PlayerID: playerID, Role: role}, nil
}

// Issue signs a token with the verifier's secret. Used by tests and
// operator tooling; production tokens come from the platform.
func (v *Verifier) Issue(playerID, role string, ttl time.Duration) (string, error) {
	now := time.Now().UTC()
	claims := Claims{
		PlayerID: playerID,
		Role:     role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   playerID,
			Issuer:    v.issuer,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(v.secret)
}
