package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"github.com/goccy/go-json"
)

// RawProfile is one record of an engage query page.
type RawProfile struct {
	DistinctID string         `json:"$distinct_id"`
	Properties map[string]any `json:"$properties"`
}

// ProfileQuery selects user profiles. All filters are optional.
type ProfileQuery struct {
	Where            string
	CohortID         string
	DistinctIDs      []string
	OutputProperties []string
	Behaviors        string
	AsOfTimestamp    int64
	IncludeAllUsers  bool
}

// ProfilePage is one page of profile results.
type ProfilePage struct {
	Page      int
	PageSize  int
	Total     int // only reported on page 0
	SessionID string
	Profiles  []RawProfile
}

// NumPages reports how many pages the result set spans according to page 0's
// total. An empty result still has one (empty) page.
func (p *ProfilePage) NumPages() int {
	if p.PageSize <= 0 || p.Total <= 0 {
		return 1
	}
	return (p.Total + p.PageSize - 1) / p.PageSize
}

type engageResponse struct {
	Page      int          `json:"page"`
	PageSize  int          `json:"page_size"`
	Total     int          `json:"total"`
	SessionID string       `json:"session_id"`
	Status    string       `json:"status"`
	Results   []RawProfile `json:"results"`
}

// FetchProfilesPage fetches one page of q. Page 0 must be fetched first; its
// SessionID is then passed for every later page of the same query.
func (c *Client) FetchProfilesPage(ctx context.Context, q ProfileQuery, page int, sessionID string) (*ProfilePage, error) {
	if page > 0 && sessionID == "" {
		return nil, fmt.Errorf("page %d requested without a session id", page)
	}
	form, err := engageForm(q, page, sessionID)
	if err != nil {
		return nil, err
	}
	endpoint := c.cfg.QueryHost() + "/api/2.0/engage"
	if c.cfg.ProjectID != "" {
		endpoint += "?project_id=" + url.QueryEscape(c.cfg.ProjectID)
	}
	body := form.Encode()

	resp, err := c.do(ctx, "engage", func(ctx context.Context) (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, strings.NewReader(body))
		if err != nil {
			return nil, err
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		return req, nil
	})
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	var out engageResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, &Error{Kind: KindTransport, Endpoint: "engage", Message: "failed to decode response", Cause: err}
	}
	return &ProfilePage{
		Page:      out.Page,
		PageSize:  out.PageSize,
		Total:     out.Total,
		SessionID: out.SessionID,
		Profiles:  out.Results,
	}, nil
}

func engageForm(q ProfileQuery, page int, sessionID string) (url.Values, error) {
	form := url.Values{}
	if page > 0 {
		form.Set("page", strconv.Itoa(page))
		form.Set("session_id", sessionID)
	}
	if q.Where != "" {
		form.Set("where", q.Where)
	}
	if q.CohortID != "" {
		filter, err := json.Marshal(map[string]string{"id": q.CohortID})
		if err != nil {
			return nil, err
		}
		form.Set("filter_by_cohort", string(filter))
	}
	if len(q.DistinctIDs) > 0 {
		ids, err := json.Marshal(q.DistinctIDs)
		if err != nil {
			return nil, err
		}
		form.Set("distinct_ids", string(ids))
	}
	if len(q.OutputProperties) > 0 {
		props, err := json.Marshal(q.OutputProperties)
		if err != nil {
			return nil, err
		}
		form.Set("output_properties", string(props))
	}
	if q.Behaviors != "" {
		form.Set("behaviors", q.Behaviors)
	}
	if q.AsOfTimestamp > 0 {
		form.Set("as_of_timestamp", strconv.FormatInt(q.AsOfTimestamp, 10))
	}
	if q.IncludeAllUsers {
		form.Set("include_all_users", "true")
	}
	return form, nil
}
