package persistence

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/healthassistant/internal/deadletter"
)

func TestCursorRoundTrip(t *testing.T) {
	c := &deadletter.Cursor{CreatedAt: time.Date(2024, 3, 10, 8, 30, 0, 123, time.UTC), ID: "5f0c"}

	decoded, err := DecodeCursor(EncodeCursor(c))
	require.NoError(t, err)
	require.True(t, c.CreatedAt.Equal(decoded.CreatedAt))
	require.Equal(t, c.ID, decoded.ID)
}

func TestDecodeCursorBlankAndInvalid(t *testing.T) {
	c, err := DecodeCursor("  ")
	require.NoError(t, err)
	require.Nil(t, c)

	_, err = DecodeCursor("not base64!")
	require.Error(t, err)

	require.Empty(t, EncodeCursor(nil))
}
