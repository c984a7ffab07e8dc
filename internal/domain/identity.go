package domain

import (
	"strconv"
	"strings"
)

// Identity is who sits behind a connection: an attendant or an external client.
type Identity struct {
	Kind     IdentityKind
	UserID   int64
	ClientID int64
}

// AttendantIdentity returns the identity of an authenticated attendant.
func AttendantIdentity(userID int64) Identity {
	return Identity{Kind: IdentityAttendant, UserID: userID}
}

// ClientIdentity returns the identity of an external client.
func ClientIdentity(clientID int64) Identity {
	return Identity{Kind: IdentityClient, ClientID: clientID}
}

// IsAttendant reports whether the identity is an attendant.
func (i Identity) IsAttendant() bool { return i.Kind == IdentityAttendant }

// IsClient reports whether the identity is an external client.
func (i Identity) IsClient() bool { return i.Kind == IdentityClient }

// Key is a stable map key, e.g. "user:7" or "client:42".
func (i Identity) Key() string {
	switch i.Kind {
	case IdentityAttendant:
		return "user:" + strconv.FormatInt(i.UserID, 10)
	case IdentityClient:
		return "client:" + strconv.FormatInt(i.ClientID, 10)
	default:
		return ""
	}
}

// UserIDPtr returns the attendant id as a nullable value for wire payloads.
func (i Identity) UserIDPtr() *int64 {
	if i.Kind != IdentityAttendant {
		return nil
	}
	id := i.UserID
	return &id
}

// ClientIDPtr returns the client id as a nullable value for wire payloads.
func (i Identity) ClientIDPtr() *int64 {
	if i.Kind != IdentityClient {
		return nil
	}
	id := i.ClientID
	return &id
}

func (i Identity) String() string {
	if k := i.Key(); k != "" {
		return k
	}
	return "anonymous"
}

// ParseIdentityKey is the inverse of Identity.Key.
func ParseIdentityKey(key string) (Identity, bool) {
	kind, raw, ok := strings.Cut(key, ":")
	if !ok {
		return Identity{}, false
	}
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || id <= 0 {
		return Identity{}, false
	}
	switch kind {
	case "user":
		return AttendantIdentity(id), true
	case "client":
		return ClientIdentity(id), true
	default:
		return Identity{}, false
	}
}
