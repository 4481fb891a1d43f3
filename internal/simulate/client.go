package simulate

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	model "github.com/okian/leadscore/internal/domain/model"
	"github.com/okian/leadscore/internal/domain/types"
)

// Submission results.
const (
	ResultAccepted  = "accepted"
	ResultDuplicate = "duplicate"
	ResultFailed    = "failed"
)

// ErrUnexpectedStatus is returned for responses outside the documented set.
var ErrUnexpectedStatus = errors.New("unexpected status")

// Client talks to the lead scoring HTTP API.
type Client struct {
	baseURL string
	http    *http.Client
}

// NewClient creates a client for baseURL with a per-request timeout.
func NewClient(baseURL string, timeout time.Duration) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		http:    &http.Client{Timeout: timeout},
	}
}

type eventBody struct {
	EventID   string         `json:"eventId"`
	LeadID    string         `json:"leadId"`
	EventType string         `json:"eventType"`
	Timestamp time.Time      `json:"timestamp"`
	Metadata  map[string]any `json:"metadata,omitempty"`
}

func bodyOf(e model.Event) eventBody {
	return eventBody{EventID: e.EventID, LeadID: e.LeadID, EventType: e.EventType, Timestamp: e.Timestamp, Metadata: e.Metadata}
}

// Health checks GET /healthz.
func (c *Client) Health(ctx context.Context) error {
	resp, err := c.do(ctx, http.MethodGet, "/healthz", nil)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("healthz: %w: %d", ErrUnexpectedStatus, resp.StatusCode)
	}
	return nil
}

// SubmitEvent posts one event and classifies the response.
func (c *Client) SubmitEvent(ctx context.Context, e model.Event) (string, error) {
	resp, err := c.do(ctx, http.MethodPost, "/api/events", bodyOf(e))
	if err != nil {
		return ResultFailed, err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)

	switch resp.StatusCode {
	case http.StatusAccepted:
		return ResultAccepted, nil
	case http.StatusConflict:
		return ResultDuplicate, nil
	default:
		return ResultFailed, fmt.Errorf("submit %s: %w: %d", e.EventID, ErrUnexpectedStatus, resp.StatusCode)
	}
}

// SubmitBatch posts events as one batch and returns how many were processed.
func (c *Client) SubmitBatch(ctx context.Context, events []model.Event) (int, error) {
	bodies := make([]eventBody, len(events))
	for i, e := range events {
		bodies[i] = bodyOf(e)
	}
	var out struct {
		Processed int `json:"processed"`
	}
	if err := c.getJSON(ctx, http.MethodPost, "/api/events/batch", bodies, &out); err != nil {
		return 0, err
	}
	return out.Processed, nil
}

// Leaderboard fetches GET /api/leads.
func (c *Client) Leaderboard(ctx context.Context, search string, limit int) ([]types.Entry, error) {
	q := url.Values{}
	if limit > 0 {
		q.Set("limit", strconv.Itoa(limit))
	}
	if search != "" {
		q.Set("search", search)
	}
	path := "/api/leads"
	if len(q) > 0 {
		path += "?" + q.Encode()
	}
	var out []types.Entry
	return out, c.getJSON(ctx, http.MethodGet, path, nil, &out)
}

// Lead fetches GET /api/leads/{id}.
func (c *Client) Lead(ctx context.Context, leadID string) (types.LeadDetail, error) {
	var out types.LeadDetail
	return out, c.getJSON(ctx, http.MethodGet, "/api/leads/"+url.PathEscape(leadID), nil, &out)
}

// Rules fetches GET /api/rules.
func (c *Client) Rules(ctx context.Context) ([]model.ScoringRule, error) {
	var out []model.ScoringRule
	return out, c.getJSON(ctx, http.MethodGet, "/api/rules", nil, &out)
}

// UpsertRule posts to /api/rules.
func (c *Client) UpsertRule(ctx context.Context, r model.ScoringRule) (model.ScoringRule, error) {
	var out model.ScoringRule
	return out, c.getJSON(ctx, http.MethodPost, "/api/rules", r, &out)
}

func (c *Client) getJSON(ctx context.Context, method, path string, in, out any) error {
	resp, err := c.do(ctx, method, path, in)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("%s %s: read body: %w", method, path, err)
	}
	if resp.StatusCode != http.StatusOK {
		var e struct {
			Message string `json:"message"`
		}
		_ = json.Unmarshal(body, &e)
		return fmt.Errorf("%s %s: %w: %d %s", method, path, ErrUnexpectedStatus, resp.StatusCode, e.Message)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("%s %s: decode: %w", method, path, err)
	}
	return nil
}

func (c *Client) do(ctx context.Context, method, path string, in any) (*http.Response, error) {
	var body io.Reader
	if in != nil {
		b, err := json.Marshal(in)
		if err != nil {
			return nil, fmt.Errorf("marshal request body: %w", err)
		}
		body = bytes.NewReader(b)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	return resp, nil
}
