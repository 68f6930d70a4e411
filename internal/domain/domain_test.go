package domain

import (
	"regexp"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMeetingCodeFormat(t *testing.T) {
	re := regexp.MustCompile(`^[a-z]{3}-[a-z]{4}-[a-z]{3}$`)
	seen := map[RoomID]bool{}
	for i := 0; i < 50; i++ {
		code := NewMeetingCode()
		require.Regexp(t, re, string(code))
		seen[code] = true
	}
	assert.Greater(t, len(seen), 1)
}

func TestNewUserValidation(t *testing.T) {
	u, err := NewUser("u1", "  Ann  ")
	require.NoError(t, err)
	assert.Equal(t, "Ann", u.Username)

	_, err = NewUser("", "Ann")
	assert.ErrorIs(t, err, ErrUserIDEmpty)
	_, err = NewUser(UserID(strings.Repeat("x", MaxUserIDLen+1)), "Ann")
	assert.ErrorIs(t, err, ErrUserIDTooLong)
	_, err = NewUser("u1", " ")
	assert.ErrorIs(t, err, ErrUsernameEmpty)
	_, err = NewUser("u1", strings.Repeat("n", MaxUsernameLen+1))
	assert.ErrorIs(t, err, ErrUsernameTooLong)
}

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindScreen, KindOf("screen-1234", "video"))
	assert.Equal(t, KindVideo, KindOf("video-1234", "video"))
	assert.Equal(t, KindAudio, KindOf("audio", "audio"))
	assert.Equal(t, KindVideo, KindOf("{b7c0-browser-id}", "video"))
	assert.False(t, MediaKind("data").Valid())
}

func TestJoinStatusTerminal(t *testing.T) {
	assert.False(t, JoinPending.Terminal())
	assert.False(t, JoinNotRequested.Terminal())
	assert.True(t, JoinAccepted.Terminal())
	assert.True(t, JoinRejected.Terminal())
}
