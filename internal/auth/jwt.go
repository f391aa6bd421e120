package auth

import (
	"errors"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"go.uber.org/zap"

	"github.com/rl1809/farm-fulfillment/internal/core/domain"
)

const issuer = "farm-fulfillment"

var (
	ErrInvalidToken = errors.New("invalid token")
	ErrExpiredToken = errors.New("token expired")
)

// JWTClaims carries the actor; Subject holds the actor id.
type JWTClaims struct {
	DisplayName string `json:"name,omitempty"`
	jwt.RegisteredClaims
}

type JWTManager struct {
	secretKey []byte
	ttl       time.Duration
	logger    *zap.Logger
	now       func() time.Time
}

func NewJWTManager(secretKey string, ttl time.Duration, logger *zap.Logger) *JWTManager {
	return &JWTManager{
		secretKey: []byte(secretKey),
		ttl:       ttl,
		logger:    logger,
		now:       time.Now,
	}
}

// GenerateToken signs an HS256 token for the actor.
func (j *JWTManager) GenerateToken(actor domain.Actor) (string, time.Time, error) {
	now := j.now()
	expiresAt := now.Add(j.ttl)

	claims := JWTClaims{
		DisplayName: actor.DisplayName,
		RegisteredClaims: jwt.RegisteredClaims{
			ExpiresAt: jwt.NewNumericDate(expiresAt),
			IssuedAt:  jwt.NewNumericDate(now),
			NotBefore: jwt.NewNumericDate(now),
			Issuer:    issuer,
			Subject:   actor.ID,
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	tokenString, err := token.SignedString(j.secretKey)
	if err != nil {
		j.logger.Error("Failed to generate token", zap.Error(err))
		return "", time.Time{}, err
	}

	j.logger.Info("Token generated",
		zap.String("actor_id", actor.ID),
		zap.Time("expires_at", expiresAt),
	)
	return tokenString, expiresAt, nil
}

// ValidateToken returns the actor a token was issued for.
func (j *JWTManager) ValidateToken(tokenString string) (domain.Actor, error) {
	token, err := jwt.ParseWithClaims(tokenString, &JWTClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, ErrInvalidToken
		}
		return j.secretKey, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			j.logger.Warn("Token expired", zap.Error(err))
			return domain.Actor{}, ErrExpiredToken
		}
		j.logger.Warn("Invalid token", zap.Error(err))
		return domain.Actor{}, ErrInvalidToken
	}

	claims, ok := token.Claims.(*JWTClaims)
	if !ok || !token.Valid || claims.Subject == "" {
		j.logger.Warn("Invalid token claims")
		return domain.Actor{}, ErrInvalidToken
	}

	return domain.Actor{ID: claims.Subject, DisplayName: claims.DisplayName}, nil
}
