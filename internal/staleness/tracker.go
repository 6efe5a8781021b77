package staleness

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// HTTPTracker reads issue state from a Jira-compatible REST endpoint. Only
// the status category and resolution date are consumed.
type HTTPTracker struct {
	baseURL string
	token   string
	client  *http.Client
}

func NewHTTPTracker(baseURL, token string) *HTTPTracker {
	return &HTTPTracker{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type trackerIssue struct {
	Fields struct {
		ResolutionDate string `json:"resolutiondate"`
		Status         struct {
			StatusCategory struct {
				Key string `json:"key"`
			} `json:"statusCategory"`
		} `json:"status"`
	} `json:"fields"`
}

// IssueClosedAt fetches the issue and reports whether it is done. Transport
// and decode failures bubble up so the evaluator can count them as
// condition errors for this run.
func (t *HTTPTracker) IssueClosedAt(ctx context.Context, key string) (time.Time, bool, error) {
	endpoint := fmt.Sprintf("%s/rest/api/2/issue/%s?fields=status,resolutiondate", t.baseURL, url.PathEscape(key))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("build tracker request: %w", err)
	}
	if t.token != "" {
		req.Header.Set("Authorization", "Bearer "+t.token)
	}

	resp, err := t.client.Do(req)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("tracker request for %s: %w", key, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		// Deleted issues cannot close a document.
		return time.Time{}, false, nil
	}
	if resp.StatusCode != http.StatusOK {
		return time.Time{}, false, fmt.Errorf("tracker returned %d for %s", resp.StatusCode, key)
	}

	var issue trackerIssue
	if err := json.NewDecoder(resp.Body).Decode(&issue); err != nil {
		return time.Time{}, false, fmt.Errorf("decode tracker response for %s: %w", key, err)
	}

	if issue.Fields.Status.StatusCategory.Key != "done" {
		return time.Time{}, false, nil
	}

	closedAt, err := time.Parse("2006-01-02T15:04:05.000-0700", issue.Fields.ResolutionDate)
	if err != nil {
		// Closed without a parseable resolution date: fall back to RFC3339.
		closedAt, err = time.Parse(time.RFC3339, issue.Fields.ResolutionDate)
		if err != nil {
			return time.Time{}, false, fmt.Errorf("parse resolution date %q for %s: %w", issue.Fields.ResolutionDate, key, err)
		}
	}
	return closedAt, true, nil
}
