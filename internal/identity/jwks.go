package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/MicahParks/keyfunc/v2"
	"github.com/golang-jwt/jwt/v5"
	"go.uber.org/zap"
)

// JWKSVerifier validates attendant tokens signed by an external identity
// provider that publishes its keys as a JWKS document.
type JWKSVerifier struct {
	jwks   *keyfunc.JWKS
	issuer string
}

// NewJWKSVerifier fetches the key set at jwksURL and keeps it refreshed in the background.
func NewJWKSVerifier(ctx context.Context, jwksURL, issuer string, logger *zap.Logger) (*JWKSVerifier, error) {
	jwks, err := keyfunc.Get(jwksURL, keyfunc.Options{
		Ctx:               ctx,
		RefreshInterval:   5 * time.Minute,
		RefreshRateLimit:  time.Minute,
		RefreshUnknownKID: true,
		RefreshErrorHandler: func(err error) {
			logger.Error("jwks refresh failed", zap.String("url", jwksURL), zap.Error(err))
		},
	})
	if err != nil {
		return nil, fmt.Errorf("fetch jwks: %w", err)
	}
	logger.Info("jwks loaded", zap.String("url", jwksURL))
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &JWKSVerifier{jwks: jwks, issuer: issuer}, nil
}

// VerifyAttendant validates an attendant access token and returns its user id.
func (v *JWKSVerifier) VerifyAttendant(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.jwks.Keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(AttendantAudience),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("attendant token: %w", err)
	}
	return subjectUserID(claims.Subject)
}

// Close stops the background refresh.
func (v *JWKSVerifier) Close() {
	v.jwks.EndBackground()
}
