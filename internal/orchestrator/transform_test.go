package orchestrator

import (
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/brensch/mpduck/internal/api"
)

func TestTransformEvent(t *testing.T) {
	row, err := transformEvent(api.RawEvent{
		Event: "Purchase",
		Properties: map[string]any{
			"time":        1704067200.5,
			"distinct_id": "user-1",
			"$insert_id":  "ins-1",
			"amount":      12.5,
		},
	})
	require.NoError(t, err)
	require.Len(t, row, 5)
	assert.Equal(t, "Purchase", row[0])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 500_000_000, time.UTC), row[1])
	assert.Equal(t, "user-1", row[2])
	assert.Equal(t, "ins-1", row[3])

	var props map[string]any
	require.NoError(t, json.Unmarshal([]byte(row[4].(string)), &props))
	assert.Equal(t, map[string]any{"amount": 12.5}, props)
}

func TestTransformEvent_SyntheticInsertIDIsStable(t *testing.T) {
	ev := func() api.RawEvent {
		return api.RawEvent{Event: "View", Properties: map[string]any{"time": float64(1704067200000), "distinct_id": float64(42), "page": "/"}}
	}
	a, err := transformEvent(ev())
	require.NoError(t, err)
	b, err := transformEvent(ev())
	require.NoError(t, err)

	assert.Equal(t, "42", a[2])
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), a[1], "millisecond epochs are detected")
	assert.NotEmpty(t, a[3])
	assert.Equal(t, a[3], b[3])

	other := ev()
	other.Properties["page"] = "/pricing"
	c, err := transformEvent(other)
	require.NoError(t, err)
	assert.NotEqual(t, a[3], c[3])
}

func TestTransformEvent_MissingTime(t *testing.T) {
	row, err := transformEvent(api.RawEvent{Event: "E"})
	require.NoError(t, err)
	assert.Nil(t, row[1])
	assert.Equal(t, "{}", row[4])
}

func TestTransformProfile(t *testing.T) {
	row, err := transformProfile(api.RawProfile{
		DistinctID: "u1",
		Properties: map[string]any{"$last_seen": "2024-03-01T12:30:00", "$email": "a@example.com"},
	})
	require.NoError(t, err)
	assert.Equal(t, "u1", row[0])
	seen, ok := row[1].(*time.Time)
	require.True(t, ok)
	require.NotNil(t, seen)
	assert.Equal(t, time.Date(2024, 3, 1, 12, 30, 0, 0, time.UTC), *seen)
	assert.Contains(t, row[2], `"$email":"a@example.com"`)

	row, err = transformProfile(api.RawProfile{DistinctID: "u2"})
	require.NoError(t, err)
	assert.Nil(t, row[1].(*time.Time))
	assert.Equal(t, "{}", row[2])
}
