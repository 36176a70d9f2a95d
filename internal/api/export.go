package api

import (
	"bufio"
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"

	"github.com/goccy/go-json"
)

// maxExportLine bounds a single JSONL record; events with huge property bags exceed bufio's 64KB default.
const maxExportLine = 16 * 1024 * 1024

// RawEvent is one record of the raw export stream.
type RawEvent struct {
	Event      string         `json:"event"`
	Properties map[string]any `json:"properties"`
}

// EventQuery selects raw events for an inclusive date range.
type EventQuery struct {
	FromDate string   // YYYY-MM-DD
	ToDate   string   // YYYY-MM-DD
	Events   []string // empty means all events
	Where    string
	Limit    int // 0 means no limit
}

// StreamEvents downloads the raw export for q and calls fn for each event in
// stream order. Iteration stops at the first error from fn, which is returned as is.
func (c *Client) StreamEvents(ctx context.Context, q EventQuery, fn func(RawEvent) error) error {
	params := url.Values{}
	params.Set("from_date", q.FromDate)
	params.Set("to_date", q.ToDate)
	if c.cfg.ProjectID != "" {
		params.Set("project_id", c.cfg.ProjectID)
	}
	if len(q.Events) > 0 {
		names, err := json.Marshal(q.Events)
		if err != nil {
			return fmt.Errorf("failed to encode event names: %w", err)
		}
		params.Set("event", string(names))
	}
	if q.Where != "" {
		params.Set("where", q.Where)
	}
	if q.Limit > 0 {
		params.Set("limit", fmt.Sprint(q.Limit))
	}
	endpoint := c.cfg.DataHost() + "/api/2.0/export"

	resp, err := c.do(ctx, "export", func(ctx context.Context) (*http.Request, error) {
		return http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"?"+params.Encode(), nil)
	})
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 64*1024), maxExportLine)
	line := 0
	for scanner.Scan() {
		line++
		b := bytes.TrimSpace(scanner.Bytes())
		if len(b) == 0 {
			continue
		}
		var ev RawEvent
		if err := json.Unmarshal(b, &ev); err != nil {
			return &Error{Kind: KindTransport, Endpoint: "export", Message: fmt.Sprintf("malformed record on line %d", line), Cause: err}
		}
		if err := fn(ev); err != nil {
			return err
		}
	}
	if err := scanner.Err(); err != nil {
		return &Error{Kind: KindTransport, Endpoint: "export", Message: "reading export stream failed", Cause: err}
	}
	return nil
}
