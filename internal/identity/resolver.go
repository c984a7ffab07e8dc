package identity

import (
	"net/http"
	"strings"

	"github.com/jrluiz96/roboteasy/internal/domain"
)

// AttendantVerifier validates attendant access tokens.
type AttendantVerifier interface {
	VerifyAttendant(token string) (int64, error)
}

// ClientVerifier validates client tokens.
type ClientVerifier interface {
	VerifyClient(token string) (int64, error)
}

// Credentials are the raw values carried by a connection request.
type Credentials struct {
	AccessToken string
	ClientToken string
	Monitor     bool
}

// CredentialsFromRequest reads access_token, client_token and monitor from the
// query string. A bearer Authorization header is accepted for the access token.
func CredentialsFromRequest(r *http.Request) Credentials {
	q := r.URL.Query()
	creds := Credentials{
		AccessToken: q.Get("access_token"),
		ClientToken: q.Get("client_token"),
		Monitor:     strings.EqualFold(q.Get("monitor"), "true"),
	}
	if creds.AccessToken == "" {
		creds.AccessToken = BearerToken(r.Header.Get("Authorization"))
	}
	return creds
}

// BearerToken extracts the token from an "Authorization: Bearer <token>" value.
func BearerToken(header string) string {
	scheme, token, ok := strings.Cut(strings.TrimSpace(header), " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

// Resolved is the outcome of a successful resolution.
type Resolved struct {
	Identity domain.Identity
	// Monitor is only ever true for attendants.
	Monitor bool
}

// Resolver maps connection credentials to exactly one identity.
type Resolver struct {
	attendants AttendantVerifier
	clients    ClientVerifier
}

// NewResolver creates a resolver. Either verifier may be nil to disable that side.
func NewResolver(attendants AttendantVerifier, clients ClientVerifier) *Resolver {
	return &Resolver{attendants: attendants, clients: clients}
}

// Resolve returns the single identity the credentials prove. When neither or
// both credential kinds resolve, it returns ErrUnauthenticated.
func (r *Resolver) Resolve(creds Credentials) (Resolved, error) {
	var (
		userID, clientID int64
		hasUser, hasCli  bool
	)
	if creds.AccessToken != "" && r.attendants != nil {
		if id, err := r.attendants.VerifyAttendant(creds.AccessToken); err == nil {
			userID, hasUser = id, true
		}
	}
	if creds.ClientToken != "" && r.clients != nil {
		if id, err := r.clients.VerifyClient(creds.ClientToken); err == nil {
			clientID, hasCli = id, true
		}
	}

	switch {
	case hasUser && !hasCli:
		return Resolved{Identity: domain.AttendantIdentity(userID), Monitor: creds.Monitor}, nil
	case hasCli && !hasUser:
		return Resolved{Identity: domain.ClientIdentity(clientID)}, nil
	default:
		return Resolved{}, ErrUnauthenticated
	}
}

// ResolveAttendant validates a bare attendant access token.
func (r *Resolver) ResolveAttendant(token string) (domain.Identity, error) {
	if token == "" || r.attendants == nil {
		return domain.Identity{}, ErrUnauthenticated
	}
	id, err := r.attendants.VerifyAttendant(token)
	if err != nil {
		return domain.Identity{}, ErrUnauthenticated
	}
	return domain.AttendantIdentity(id), nil
}

// ResolveClient validates a bare client token.
func (r *Resolver) ResolveClient(token string) (domain.Identity, error) {
	if token == "" || r.clients == nil {
		return domain.Identity{}, ErrUnauthenticated
	}
	id, err := r.clients.VerifyClient(token)
	if err != nil {
		return domain.Identity{}, ErrUnauthenticated
	}
	return domain.ClientIdentity(id), nil
}
