// Package identity resolves who sits behind a connection or request.
package identity

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
)

const (
	// AttendantAudience is the audience of attendant access tokens.
	AttendantAudience = "roboteasy"
	// ClientAudience is the audience of client tokens issued at chat start.
	ClientAudience = "roboteasy-client"
	// DefaultIssuer is the issuer used when none is configured.
	DefaultIssuer = "roboteasy"
)

// ErrUnauthenticated is returned when no credential resolves to an identity.
var ErrUnauthenticated = errors.New("unauthenticated")

type clientClaims struct {
	jwt.RegisteredClaims
	ClientID int64 `json:"client_id"`
}

// HMACVerifier validates HS256 tokens signed with a shared secret.
type HMACVerifier struct {
	secret []byte
	issuer string
}

// NewHMACVerifier creates a verifier for tokens signed with secret.
func NewHMACVerifier(secret, issuer string) *HMACVerifier {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	return &HMACVerifier{secret: []byte(secret), issuer: issuer}
}

func (v *HMACVerifier) keyfunc(token *jwt.Token) (interface{}, error) {
	if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, jwt.ErrSignatureInvalid
	}
	return v.secret, nil
}

// VerifyAttendant validates an attendant access token and returns its user id.
func (v *HMACVerifier) VerifyAttendant(tokenString string) (int64, error) {
	claims := &jwt.RegisteredClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(AttendantAudience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("attendant token: %w", err)
	}
	return subjectUserID(claims.Subject)
}

// VerifyClient validates a client token and returns its client id.
func (v *HMACVerifier) VerifyClient(tokenString string) (int64, error) {
	claims := &clientClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, v.keyfunc,
		jwt.WithIssuer(v.issuer),
		jwt.WithAudience(ClientAudience),
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return 0, fmt.Errorf("client token: %w", err)
	}
	if claims.ClientID <= 0 {
		return 0, fmt.Errorf("client token: missing client_id")
	}
	return claims.ClientID, nil
}

func subjectUserID(sub string) (int64, error) {
	id, err := strconv.ParseInt(sub, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("attendant token: invalid subject %q", sub)
	}
	return id, nil
}

// Issuer mints tokens accepted by HMACVerifier.
type Issuer struct {
	secret    []byte
	issuer    string
	clientTTL time.Duration
	now       func() time.Time
}

// NewIssuer creates a token issuer. clientTTL defaults to 24h.
func NewIssuer(secret, issuer string, clientTTL time.Duration) *Issuer {
	if issuer == "" {
		issuer = DefaultIssuer
	}
	if clientTTL <= 0 {
		clientTTL = 24 * time.Hour
	}
	return &Issuer{secret: []byte(secret), issuer: issuer, clientTTL: clientTTL, now: time.Now}
}

// IssueClientToken mints the credential a client uses for its realtime connection.
func (i *Issuer) IssueClientToken(clientID int64) (string, time.Time, error) {
	now := i.now()
	exp := now.Add(i.clientTTL)
	claims := clientClaims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    i.issuer,
			Audience:  jwt.ClaimStrings{ClientAudience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
		ClientID: clientID,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign client token: %w", err)
	}
	return signed, exp, nil
}

// IssueAttendantToken mints an attendant access token. Production tokens come
// from the login service; this is used by the dev CLI and tests.
func (i *Issuer) IssueAttendantToken(userID int64, ttl time.Duration) (string, error) {
	now := i.now()
	claims := jwt.RegisteredClaims{
		Issuer:    i.issuer,
		Subject:   strconv.FormatInt(userID, 10),
		Audience:  jwt.ClaimStrings{AttendantAudience},
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(i.secret)
	if err != nil {
		return "", fmt.Errorf("sign attendant token: %w", err)
	}
	return signed, nil
}
