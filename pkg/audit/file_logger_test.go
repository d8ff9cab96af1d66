package audit

import (
	"bufio"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileLogger_WritesJSONLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit", "audit.log")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)

	require.NoError(t, logger.Log(Event{
		EventType:   EventTypeAccessDenied,
		Transport:   "http",
		Resource:    "profile",
		Reason:      "not authenticated",
		PrincipalID: "",
	}))
	require.NoError(t, logger.Log(Event{
		EventType:    EventTypeAccessDenied,
		Transport:    "socket",
		Resource:     "socket:subscribe",
		Reason:       "insufficient privilege",
		PrincipalID:  "u1",
		RequireAdmin: true,
	}))
	require.NoError(t, logger.Close())

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	var events []Event
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		var e Event
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &e))
		events = append(events, e)
	}
	require.NoError(t, scanner.Err())

	require.Len(t, events, 2)
	assert.Equal(t, "not authenticated", events[0].Reason)
	assert.False(t, events[0].Timestamp.IsZero(), "timestamp must be filled in")
	assert.Equal(t, "u1", events[1].PrincipalID)
	assert.True(t, events[1].RequireAdmin)
}

func TestFileLogger_LogAfterClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "audit.log")

	logger, err := NewFileLogger(path)
	require.NoError(t, err)
	require.NoError(t, logger.Close())

	assert.Error(t, logger.Log(Event{EventType: EventTypeAuthLogin}))
	assert.NoError(t, logger.Close(), "double close is harmless")
}
