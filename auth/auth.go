package auth

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

var ErrInvalidToken = errors.New("invalid token")

// Issuer signs and verifies the HS256 session tokens accepted by the push server.
type Issuer struct {
	secret []byte
	ttl    time.Duration
}

func NewIssuer(secret []byte, ttl time.Duration) *Issuer {
	if ttl <= 0 {
		ttl = 24 * time.Hour
	}
	return &Issuer{secret: secret, ttl: ttl}
}

// Issue returns a signed token for userID.
func (i *Issuer) Issue(userID string) (string, error) {
	if userID == "" {
		return "", fmt.Errorf("could not sign token: empty user id")
	}

	now := time.Now()
	claims := jwt.MapClaims{
		"sub": userID,
		"exp": now.Add(i.ttl).Unix(),
		"iat": now.Unix(),
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	signedToken, err := token.SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("could not sign token: %w", err)
	}

	return signedToken, nil
}

// Verify checks the signature and expiry of tokenString and returns its subject.
func (i *Issuer) Verify(tokenString string) (string, error) {
	if tokenString == "" {
		return "", fmt.Errorf("%w: token not provided", ErrInvalidToken)
	}
	token, err := jwt.Parse(tokenString, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return i.secret, nil
	})
	if err != nil || !token.Valid {
		return "", fmt.Errorf("%w: %v", ErrInvalidToken, err)
	}
	claims, ok := token.Claims.(jwt.MapClaims)
	if !ok {
		return "", fmt.Errorf("%w: invalid claims", ErrInvalidToken)
	}
	userID, ok := claims["sub"].(string)
	if !ok || userID == "" {
		return "", fmt.Errorf("%w: invalid subject", ErrInvalidToken)
	}
	return userID, nil
}

// TokenFromRequest reads a bearer token, falling back to the token query
// parameter used by browser EventSource and WebSocket clients.
func TokenFromRequest(r *http.Request) string {
	if h := r.Header.Get("Authorization"); h != "" {
		if token, ok := strings.CutPrefix(h, "Bearer "); ok {
			return strings.TrimSpace(token)
		}
	}
	return r.URL.Query().Get("token")
}

// GenerateToken issues a token for the user named in the "user" query
// parameter. Only mounted when development tokens are enabled.
func (i *Issuer) GenerateToken(w http.ResponseWriter, r *http.Request) {
	userID := r.URL.Query().Get("user")
	if userID == "" {
		http.Error(w, "user not provided", http.StatusBadRequest)
		return
	}

	tokenString, err := i.Issue(userID)
	if err != nil {
		http.Error(w, "Failed to create token", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]string{"token": tokenString})
}
