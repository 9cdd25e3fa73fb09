package signupsdk

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// Client is a minimal sign-up sheet HTTP API client.
type Client struct {
	BaseURL     string
	BasePath    string
	BearerToken string
	HTTPClient  *http.Client
	Timeout     time.Duration
}

// New creates a client with sane defaults.
func New(baseURL, token string) *Client {
	return &Client{
		BaseURL:     baseURL,
		BasePath:    "/v1",
		BearerToken: token,
		Timeout:     10 * time.Second,
	}
}

type Assignment struct {
	ID                    string `json:"id"`
	Name                  string `json:"name"`
	InstructorID          string `json:"instructor_id"`
	IsMicrotask           bool   `json:"is_microtask"`
	HasStaggeredDeadlines bool   `json:"has_staggered_deadlines"`
	IsBiddingEnabled      bool   `json:"is_bidding_enabled"`
}

type Team struct {
	ID           string   `json:"id"`
	AssignmentID string   `json:"assignment_id"`
	Name         string   `json:"name"`
	Members      []string `json:"members,omitempty"`
}

// Topic is one row of the topic sheet. The ledger figures are only filled by
// TopicSheet.
type Topic struct {
	ID           string `json:"id"`
	AssignmentID string `json:"assignment_id"`
	Name         string `json:"name"`
	Identifier   string `json:"identifier,omitempty"`
	Category     string `json:"category,omitempty"`
	Capacity     int    `json:"capacity"`
	State        string `json:"state"`
	SuggestedBy  string `json:"suggested_by,omitempty"`
	Occupancy    int    `json:"occupancy"`
	Available    int    `json:"available"`
	WaitlistSize int    `json:"waitlist_size"`
}

type SignUp struct {
	ID           string `json:"id"`
	AssignmentID string `json:"assignment_id"`
	TeamID       string `json:"team_id"`
	TopicID      string `json:"topic_id"`
	IsWaitlisted bool   `json:"is_waitlisted"`
	QueuePos     int64  `json:"queue_pos"`
	Source       string `json:"source"`
}

type Withdrawal struct {
	Withdrawn SignUp   `json:"withdrawn"`
	Promoted  []SignUp `json:"promoted,omitempty"`
}

type Placement struct {
	SignUp   SignUp   `json:"signup"`
	Evicted  []SignUp `json:"evicted,omitempty"`
	Promoted []SignUp `json:"promoted,omitempty"`
}

type Bid struct {
	TeamID   string `json:"team_id"`
	TopicID  string `json:"topic_id"`
	Priority int    `json:"priority"`
}

type Resolution struct {
	AssignmentID string   `json:"assignment_id"`
	Confirmed    []SignUp `json:"confirmed"`
	Waitlisted   []SignUp `json:"waitlisted"`
	Kept         []SignUp `json:"kept,omitempty"`
	Unplaced     []string `json:"unplaced,omitempty"`
}

type Event struct {
	ID           int64          `json:"id"`
	TS           string         `json:"ts"`
	Type         string         `json:"type"`
	AssignmentID string         `json:"assignment_id"`
	EntityKind   string         `json:"entity_kind"`
	EntityID     string         `json:"entity_id"`
	ActorID      string         `json:"actor_id"`
	Payload      map[string]any `json:"payload"`
}

// APIError wraps non-2xx responses. Code carries the error envelope's code
// when the body had one.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
	Body       string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("api error: status=%d code=%s: %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("api error: status=%d body=%s", e.StatusCode, e.Body)
}

func (c *Client) CreateAssignment(ctx context.Context, id, name string, bidding bool) (Assignment, error) {
	body := map[string]any{"id": id, "name": name, "is_bidding_enabled": bidding}
	var resp Assignment
	err := c.do(ctx, http.MethodPost, "assignments", body, &resp)
	return resp, err
}

func (c *Client) CreateTeam(ctx context.Context, assignmentID, id, name string, members []string) (Team, error) {
	body := map[string]any{"id": id, "name": name, "members": members}
	var resp Team
	err := c.do(ctx, http.MethodPost, path("assignments", assignmentID, "teams"), body, &resp)
	return resp, err
}

func (c *Client) CreateTopic(ctx context.Context, assignmentID, id, name string, capacity int) (Topic, error) {
	body := map[string]any{"id": id, "name": name, "capacity": capacity}
	var resp Topic
	err := c.do(ctx, http.MethodPost, path("assignments", assignmentID, "topics"), body, &resp)
	return resp, err
}

// TopicSheet lists approved topics with occupancy and waitlist sizes.
func (c *Client) TopicSheet(ctx context.Context, assignmentID string) ([]Topic, error) {
	var resp struct {
		Items []Topic `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, path("assignments", assignmentID, "topics"), nil, &resp)
	return resp.Items, err
}

// SignUp confirms or waitlists a team on a topic.
func (c *Client) SignUp(ctx context.Context, teamID, topicID string) (SignUp, error) {
	var resp SignUp
	err := c.do(ctx, http.MethodPost, path("topics", topicID, "signups"), map[string]any{"team_id": teamID}, &resp)
	return resp, err
}

func (c *Client) Withdraw(ctx context.Context, teamID, topicID string) (Withdrawal, error) {
	var resp Withdrawal
	err := c.do(ctx, http.MethodDelete, path("topics", topicID, "signups", teamID), nil, &resp)
	return resp, err
}

func (c *Client) Assign(ctx context.Context, teamID, topicID string) (Placement, error) {
	var resp Placement
	err := c.do(ctx, http.MethodPost, path("topics", topicID, "placements"), map[string]any{"team_id": teamID}, &resp)
	return resp, err
}

func (c *Client) Waitlist(ctx context.Context, topicID string) ([]SignUp, error) {
	var resp struct {
		Items []SignUp `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, path("topics", topicID, "waitlist"), nil, &resp)
	return resp.Items, err
}

func (c *Client) SetBid(ctx context.Context, teamID, topicID string, priority int) (Bid, error) {
	var resp Bid
	err := c.do(ctx, http.MethodPut, path("teams", teamID, "bids", topicID), map[string]any{"priority": priority}, &resp)
	return resp, err
}

func (c *Client) Resolve(ctx context.Context, assignmentID string) (Resolution, error) {
	var resp Resolution
	err := c.do(ctx, http.MethodPost, path("assignments", assignmentID, "resolve"), nil, &resp)
	return resp, err
}

// Events returns recent events of an assignment, newest first.
func (c *Client) Events(ctx context.Context, assignmentID string, limit int) ([]Event, error) {
	endpoint := path("assignments", assignmentID, "events")
	if limit > 0 {
		endpoint = fmt.Sprintf("%s?limit=%d", endpoint, limit)
	}
	var resp struct {
		Items []Event `json:"items"`
	}
	err := c.do(ctx, http.MethodGet, endpoint, nil, &resp)
	return resp.Items, err
}

func (c *Client) do(ctx context.Context, method, endpoint string, body any, out any) error {
	if c.HTTPClient == nil {
		c.HTTPClient = &http.Client{Timeout: c.Timeout}
	}
	target := c.base() + "/" + strings.TrimLeft(endpoint, "/")
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			return err
		}
	}
	req, err := http.NewRequestWithContext(ctx, method, target, &buf)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.BearerToken != "" {
		req.Header.Set("Authorization", "Bearer "+c.BearerToken)
	}
	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		b, _ := io.ReadAll(resp.Body)
		apiErr := &APIError{StatusCode: resp.StatusCode, Body: string(b)}
		var envelope struct {
			Error struct {
				Code    string `json:"code"`
				Message string `json:"message"`
			} `json:"error"`
		}
		if json.Unmarshal(b, &envelope) == nil {
			apiErr.Code = envelope.Error.Code
			apiErr.Message = envelope.Error.Message
		}
		return apiErr
	}
	if out != nil && resp.StatusCode != http.StatusNoContent {
		return json.NewDecoder(resp.Body).Decode(out)
	}
	return nil
}

func path(parts ...string) string {
	escaped := make([]string, len(parts))
	for i, p := range parts {
		escaped[i] = url.PathEscape(p)
	}
	return strings.Join(escaped, "/")
}

func (c *Client) base() string {
	base := strings.TrimRight(c.BaseURL, "/")
	if c.BasePath != "" {
		base += "/" + strings.Trim(c.BasePath, "/")
	}
	return base
}
