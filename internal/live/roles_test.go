package live

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/classlive/backend/internal/models"
)

func TestPermits(t *testing.T) {
	assert.True(t, Permits(models.RoleHost, ActionStartSession))
	assert.True(t, Permits(models.RoleHost, ActionPromote))

	assert.True(t, Permits(models.RoleCoHost, ActionAdmit))
	assert.True(t, Permits(models.RoleCoHost, ActionEndSession))
	assert.False(t, Permits(models.RoleCoHost, ActionStartSession))
	assert.False(t, Permits(models.RoleCoHost, ActionPromote))

	assert.False(t, Permits(models.RoleAttendee, ActionAdmit))
	assert.False(t, Permits(models.RoleAttendee, ActionOpenPoll))

	assert.False(t, Permits(models.SessionRole("unknown"), ActionAdmit))
}
