package zut

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"time"

	"github.com/planzut/plan-sync/internal/schedule"
)

const userAgent = "plan-sync/1.0"

// retryDelay is the base backoff between attempts; attempt n waits n times
// this long.
var retryDelay = 400 * time.Millisecond

// Config holds the configuration for the portal client.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

func (c Config) validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL is required")
	}
	if _, err := url.Parse(c.BaseURL); err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	return nil
}

// Client talks to the plan.zut.edu.pl schedule endpoints.
// Thread-safe for concurrent use.
type Client struct {
	config     Config
	httpClient *http.Client
}

// NewClient creates a new portal client with the given configuration.
func NewClient(config Config) (*Client, error) {
	if err := config.validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	return &Client{
		config: config,
		httpClient: &http.Client{
			Timeout: config.Timeout,
		},
	}, nil
}

// Rooms lists every room name the portal knows about, sorted and deduped.
// The server sometimes returns duplicates.
func (c *Client) Rooms(ctx context.Context) ([]string, error) {
	var raw []json.RawMessage
	if err := c.fetchJSON(ctx, "/schedule.php?kind=room&query=", 3, &raw); err != nil {
		return nil, err
	}

	seen := make(map[string]struct{}, len(raw))
	for _, item := range raw {
		name := roomName(item)
		if name == "" {
			continue
		}
		seen[name] = struct{}{}
	}

	ret := make([]string, 0, len(seen))
	for name := range seen {
		ret = append(ret, name)
	}
	sort.Strings(ret)
	return ret, nil
}

// roomName extracts a room name from one rooms-response element, which is
// either a bare string or an object with an "item" field.
func roomName(raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var obj struct {
		Item string `json:"item"`
	}
	if err := json.Unmarshal(raw, &obj); err == nil {
		return obj.Item
	}
	return ""
}

// RoomSchedule returns the lessons visible in one room during the range.
func (c *Client) RoomSchedule(ctx context.Context, room string, r schedule.Range) ([]schedule.Lesson, error) {
	return c.lessons(ctx, url.Values{
		"room":  {room},
		"start": {r.StartAPI()},
		"end":   {r.EndAPI()},
	})
}

// GroupSchedule returns the lessons of one student group during the range.
func (c *Client) GroupSchedule(ctx context.Context, group string, r schedule.Range) ([]schedule.Lesson, error) {
	return c.lessons(ctx, url.Values{
		"group": {group},
		"start": {r.StartAPI()},
		"end":   {r.EndAPI()},
	})
}

// StudentSchedule returns the lessons of one student (by album number)
// during the range.
func (c *Client) StudentSchedule(ctx context.Context, albumNumber string, r schedule.Range) ([]schedule.Lesson, error) {
	return c.lessons(ctx, url.Values{
		"number": {albumNumber},
		"start":  {r.StartAPI()},
		"end":    {r.EndAPI()},
	})
}

func (c *Client) lessons(ctx context.Context, params url.Values) ([]schedule.Lesson, error) {
	var ret []schedule.Lesson
	if err := c.fetchJSON(ctx, "/schedule_student.php?"+params.Encode(), 2, &ret); err != nil {
		return nil, err
	}
	return ret, nil
}

// fetchJSON performs a GET with retries and decodes the body into out. The
// portal is flaky under load, so every failure is retried.
func (c *Client) fetchJSON(ctx context.Context, path string, retries int, out any) error {
	var lastErr error
	for attempt := 1; attempt <= retries; attempt++ {
		if attempt > 1 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(time.Duration(attempt-1) * retryDelay):
			}
		}

		lastErr = c.fetchJSONOnce(ctx, path, out)
		if lastErr == nil {
			return nil
		}
		if ctx.Err() != nil {
			return lastErr
		}
	}
	return fmt.Errorf("fetch %s: %w", path, lastErr)
}

func (c *Client) fetchJSONOnce(ctx context.Context, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.config.BaseURL+path, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json,text/plain,*/*")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(body, out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
