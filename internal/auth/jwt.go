package auth

import (
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const tokenTTL = 24 * time.Hour

type CustomClaims struct {
	UserID    uuid.UUID `json:"user_id"`
	Anonymous bool      `json:"anonymous,omitempty"`
	jwt.RegisteredClaims
}

// Manager signs and validates access tokens. The key comes from
// config.Load().AuthKey; inject it once at startup instead of
// re-reading the environment per call.
type Manager struct {
	key []byte
}

func NewManager(key string) *Manager {
	if key == "" {
		log.Printf("[AUTH] WARNING: signing key is empty!")
	}
	return &Manager{key: []byte(key)}
}

func (m *Manager) GenerateToken(userID uuid.UUID, anonymous bool) (string, error) {
	expiresAt := time.Now().Add(tokenTTL)

	claims := &CustomClaims{
		UserID:    userID,
		Anonymous: anonymous,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "VanishChat",
			IssuedAt:  jwt.NewNumericDate(time.Now()),
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			NotBefore: jwt.NewNumericDate(time.Now()),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)

	tokenString, err := token.SignedString(m.key)
	if err != nil {
		log.Printf("[AUTH] ERROR: Failed to sign token for user %s: %v", userID, err)
		return "", err
	}

	return tokenString, nil
}

func (m *Manager) ValidateToken(tokenString string) (*CustomClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &CustomClaims{}, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			errDetail := fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
			log.Printf("[AUTH] VALIDATION FAILED: %v", errDetail)
			return nil, errDetail
		}
		return m.key, nil
	})

	if err != nil {
		return nil, err
	}

	if claims, ok := token.Claims.(*CustomClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token")
}
