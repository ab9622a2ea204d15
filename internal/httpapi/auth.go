package httpapi

import (
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/example/nurse-dispatch/internal/models"
)

// ErrUnauthorized means no actor could be resolved for the call.
var ErrUnauthorized = errors.New("unauthenticated")

// AuthProvider resolves an inbound request to an actor. Session issuance
// and role storage live outside this service; any identity backend plugs in
// behind this interface.
type AuthProvider interface {
	Authenticate(r *http.Request) (models.Actor, error)
}

// StaticTokenProvider maps bearer tokens to actors. Used for local runs and
// tests.
type StaticTokenProvider struct {
	Tokens map[string]models.Actor
}

func (p *StaticTokenProvider) Authenticate(r *http.Request) (models.Actor, error) {
	tok, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
	if !ok || tok == "" {
		return models.Actor{}, ErrUnauthorized
	}
	actor, ok := p.Tokens[tok]
	if !ok {
		return models.Actor{}, ErrUnauthorized
	}
	return actor, nil
}

// ParseStaticTokens parses "token:userID:role,..." (the AUTH_TOKENS env
// format) into a provider.
func ParseStaticTokens(raw string) (*StaticTokenProvider, error) {
	p := &StaticTokenProvider{Tokens: make(map[string]models.Actor)}
	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.Split(entry, ":")
		if len(parts) != 3 {
			return nil, fmt.Errorf("bad token entry %q, want token:user:role", entry)
		}
		role := models.Role(parts[2])
		switch role {
		case models.RolePatient, models.RoleNurse, models.RoleAdmin:
		default:
			return nil, fmt.Errorf("bad role %q in token entry", parts[2])
		}
		p.Tokens[parts[0]] = models.Actor{UserID: parts[1], Role: role}
	}
	return p, nil
}
