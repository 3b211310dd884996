package live

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/classlive/backend/internal/models"
)

// tokenGrant binds a reconnection token to the participant's state at
// disconnect time.
type tokenGrant struct {
	sessionID uuid.UUID
	identity  uuid.UUID
	role      models.SessionRole
	roomID    uuid.UUID
	expires   time.Time
	used      bool
}

// tokenVault issues and consumes single-use reconnection tokens for one
// session. Invoked under the owning session's lock.
type tokenVault struct {
	sessionID  uuid.UUID
	grants     map[string]*tokenGrant
	byIdentity map[uuid.UUID]string
}

func newTokenVault(sessionID uuid.UUID) *tokenVault {
	return &tokenVault{
		sessionID:  sessionID,
		grants:     make(map[string]*tokenGrant),
		byIdentity: make(map[uuid.UUID]string),
	}
}

// issue creates a token for the identity, replacing any earlier token. The
// token value is opaque to clients; the session prefix lets the core detect
// cross-session presentation.
func (v *tokenVault) issue(identity uuid.UUID, role models.SessionRole, roomID uuid.UUID, expires time.Time) string {
	if prev, ok := v.byIdentity[identity]; ok {
		delete(v.grants, prev)
	}
	token := v.sessionID.String() + "." + uuid.NewString()
	v.grants[token] = &tokenGrant{
		sessionID: v.sessionID,
		identity:  identity,
		role:      role,
		roomID:    roomID,
		expires:   expires,
	}
	v.byIdentity[identity] = token
	return token
}

// consume validates and invalidates a token. A second consume of the same
// token fails with ErrTokenAlreadyUsed; a token minted for another session
// fails with ErrTokenScopeMismatch.
func (v *tokenVault) consume(token string, now time.Time) (*tokenGrant, error) {
	if sid, ok := tokenSession(token); ok && sid != v.sessionID {
		return nil, ErrTokenScopeMismatch
	}
	grant, ok := v.grants[token]
	if !ok {
		return nil, ErrTokenExpired
	}
	if grant.used {
		return nil, ErrTokenAlreadyUsed
	}
	if now.After(grant.expires) {
		return nil, ErrTokenExpired
	}
	grant.used = true
	delete(v.byIdentity, grant.identity)
	return grant, nil
}

// revoke invalidates the identity's outstanding token, if any.
func (v *tokenVault) revoke(identity uuid.UUID) {
	if token, ok := v.byIdentity[identity]; ok {
		delete(v.grants, token)
		delete(v.byIdentity, identity)
	}
}

// revokeAll invalidates every outstanding token. Called on session end.
func (v *tokenVault) revokeAll() {
	v.grants = make(map[string]*tokenGrant)
	v.byIdentity = make(map[uuid.UUID]string)
}

// outstanding returns the identity's current token, if one is live.
func (v *tokenVault) outstanding(identity uuid.UUID) (string, bool) {
	token, ok := v.byIdentity[identity]
	return token, ok
}

// tokenSession extracts the session ID prefix from a token.
func tokenSession(token string) (uuid.UUID, bool) {
	i := strings.IndexByte(token, '.')
	if i < 0 {
		return uuid.Nil, false
	}
	id, err := uuid.Parse(token[:i])
	if err != nil {
		return uuid.Nil, false
	}
	return id, true
}

// TokenSession reports which session a reconnection token was minted for,
// letting callers route a reconnect to the right session.
func TokenSession(token string) (uuid.UUID, bool) {
	return tokenSession(token)
}
