package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "8080", cfg.Server.Port)
	assert.Equal(t, 90*time.Second, cfg.Session.ReconnectGrace)
	assert.Equal(t, 10*time.Second, cfg.Session.ImmediateRejoin)
	assert.Equal(t, 200, cfg.Session.MaxParticipants)
	assert.True(t, cfg.Session.WaitingRoom)
	require.Len(t, cfg.WebRTC.ICEServers, 1)
	assert.Equal(t, "stun:stun.l.google.com:19302", cfg.WebRTC.ICEServers[0].URL)
}

func TestLoadFromEnv(t *testing.T) {
	t.Setenv("PORT", "9999")
	t.Setenv("SESSION_RECONNECT_GRACE", "2m")
	t.Setenv("SESSION_WAITING_ROOM", "false")
	t.Setenv("SESSION_MAX_PARTICIPANTS", "25")

	cfg, err := Load()
	require.NoError(t, err)
	assert.Equal(t, "9999", cfg.Server.Port)
	assert.Equal(t, 2*time.Minute, cfg.Session.ReconnectGrace)
	assert.False(t, cfg.Session.WaitingRoom)
	assert.Equal(t, 25, cfg.Session.MaxParticipants)
}

func TestParseICEServers(t *testing.T) {
	servers := parseICEServers("stun:stun.example.org:3478, turn:turn.example.org:3478|alice|secret")
	require.Len(t, servers, 2)
	assert.Equal(t, "stun:stun.example.org:3478", servers[0].URL)
	assert.Empty(t, servers[0].Username)
	assert.Equal(t, "turn:turn.example.org:3478", servers[1].URL)
	assert.Equal(t, "alice", servers[1].Username)
	assert.Equal(t, "secret", servers[1].Credential)

	assert.Empty(t, parseICEServers(""))
}

func TestDatabaseDSN(t *testing.T) {
	c := DatabaseConfig{Host: "db", Port: "5432", User: "app", Password: "pw", DBName: "classlive", SSLMode: "disable"}
	assert.Equal(t, "postgres://app:pw@db:5432/classlive?sslmode=disable", c.DSN())

	c.URL = "postgres://override"
	assert.Equal(t, "postgres://override", c.DSN())
}
