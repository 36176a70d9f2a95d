package orchestrator

import (
	"fmt"
	"strconv"
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/brensch/mpduck/internal/api"
	"github.com/brensch/mpduck/internal/db"
	"github.com/brensch/mpduck/internal/util"
)

// insertIDNamespace seeds synthetic insert ids for events exported without $insert_id.
var insertIDNamespace = uuid.MustParse("6f1b2c1e-52a4-4b55-9d1e-6a0f3f0f7a10")

// transformEvent maps a raw export record onto the events schema:
// event_name, event_time, distinct_id, insert_id, properties.
func transformEvent(ev api.RawEvent) (db.Row, error) {
	rest := make(map[string]any, len(ev.Properties))
	for k, v := range ev.Properties {
		rest[k] = v
	}

	var eventTime any
	if ts, ok := popNumber(rest, "time"); ok {
		eventTime = util.EpochToTime(ts)
	}
	distinctID := popString(rest, "distinct_id")
	insertID := popString(rest, "$insert_id")

	props, err := json.Marshal(rest)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties of %q event: %w", ev.Event, err)
	}

	if insertID == "" {
		var tsPart string
		if t, ok := eventTime.(time.Time); ok {
			tsPart = strconv.FormatInt(t.UnixNano(), 10)
		}
		insertID = uuid.NewSHA1(insertIDNamespace, []byte(ev.Event+"\x00"+distinctID+"\x00"+tsPart+"\x00"+string(props))).String()
	}
	return db.Row{ev.Event, eventTime, distinctID, insertID, string(props)}, nil
}

// transformProfile maps an engage record onto the profiles schema:
// distinct_id, last_seen, properties.
func transformProfile(p api.RawProfile) (db.Row, error) {
	var lastSeen *time.Time
	if s, ok := p.Properties["$last_seen"].(string); ok {
		if t, ok := util.ParseISOTime(s); ok {
			lastSeen = &t
		}
	}
	props := p.Properties
	if props == nil {
		props = map[string]any{}
	}
	b, err := json.Marshal(props)
	if err != nil {
		return nil, fmt.Errorf("failed to encode properties of profile %q: %w", p.DistinctID, err)
	}
	return db.Row{p.DistinctID, lastSeen, string(b)}, nil
}

func popString(m map[string]any, key string) string {
	v, ok := m[key]
	if !ok {
		return ""
	}
	delete(m, key)
	switch s := v.(type) {
	case string:
		return s
	case nil:
		return ""
	case float64:
		return strconv.FormatFloat(s, 'f', -1, 64)
	default:
		return fmt.Sprint(s)
	}
}

func popNumber(m map[string]any, key string) (float64, bool) {
	v, ok := m[key]
	if !ok {
		return 0, false
	}
	delete(m, key)
	switch n := v.(type) {
	case float64:
		return n, true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	case string:
		f, err := strconv.ParseFloat(n, 64)
		return f, err == nil
	}
	return 0, false
}
