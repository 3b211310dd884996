package live

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/classlive/backend/internal/models"
)

func TestTokenVaultIssueReplaces(t *testing.T) {
	sessionID := uuid.New()
	v := newTokenVault(sessionID)
	identity := uuid.New()
	now := time.Now()

	first := v.issue(identity, models.RoleAttendee, models.MainRoom, now.Add(time.Minute))
	second := v.issue(identity, models.RoleAttendee, models.MainRoom, now.Add(time.Minute))
	require.NotEqual(t, first, second)

	// The replaced token is gone entirely.
	_, err := v.consume(first, now)
	assert.ErrorIs(t, err, ErrTokenExpired)

	grant, err := v.consume(second, now)
	require.NoError(t, err)
	assert.Equal(t, identity, grant.identity)
}

func TestTokenVaultGrantState(t *testing.T) {
	sessionID := uuid.New()
	v := newTokenVault(sessionID)
	identity := uuid.New()
	room := uuid.New()
	now := time.Now()

	token := v.issue(identity, models.RoleCoHost, room, now.Add(time.Minute))
	sid, ok := TokenSession(token)
	require.True(t, ok)
	assert.Equal(t, sessionID, sid)

	grant, err := v.consume(token, now)
	require.NoError(t, err)
	assert.Equal(t, models.RoleCoHost, grant.role)
	assert.Equal(t, room, grant.roomID)

	_, err = v.consume(token, now)
	assert.ErrorIs(t, err, ErrTokenAlreadyUsed)
}

func TestTokenVaultRevokeAll(t *testing.T) {
	v := newTokenVault(uuid.New())
	now := time.Now()
	token := v.issue(uuid.New(), models.RoleAttendee, models.MainRoom, now.Add(time.Minute))

	v.revokeAll()
	_, err := v.consume(token, now)
	assert.ErrorIs(t, err, ErrTokenExpired)
}

func TestTokenSessionParse(t *testing.T) {
	_, ok := TokenSession("garbage")
	assert.False(t, ok)
	_, ok = TokenSession("not-a-uuid.suffix")
	assert.False(t, ok)

	id := uuid.New()
	sid, ok := TokenSession(id.String() + "." + uuid.NewString())
	require.True(t, ok)
	assert.Equal(t, id, sid)
}
