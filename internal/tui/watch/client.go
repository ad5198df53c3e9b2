package watch

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mattjoyce/crewgate/internal/events"
	"github.com/mattjoyce/crewgate/internal/jobs"
)

// Health mirrors GET /healthz.
type Health struct {
	Status        string `json:"status"`
	UptimeSeconds int64  `json:"uptime_seconds"`
	JobsRunning   int    `json:"jobs_running"`
	JobsTracked   int    `json:"jobs_tracked"`
}

// Client talks to a running crewgate API.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	stream  *http.Client
}

// NewClient creates a Client for baseURL authenticating with token.
func NewClient(baseURL, token string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 5 * time.Second},
		stream:  &http.Client{},
	}
}

func (c *Client) do(ctx context.Context, method, path string, out any) error {
	return c.doWith(ctx, c.http, method, path, out)
}

func (c *Client) doWith(ctx context.Context, hc *http.Client, method, path string, out any) error {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := hc.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var e struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&e)
		if e.Error == "" {
			e.Error = resp.Status
		}
		return fmt.Errorf("%s %s: %s", method, path, e.Error)
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

// Health fetches /healthz.
func (c *Client) Health(ctx context.Context) (Health, error) {
	var h Health
	err := c.do(ctx, http.MethodGet, "/healthz", &h)
	return h, err
}

// Jobs lists jobs matching filter.
func (c *Client) Jobs(ctx context.Context, filter jobs.Filter, limit int) ([]jobs.Info, error) {
	q := url.Values{}
	q.Set("status", string(filter))
	q.Set("limit", strconv.Itoa(limit))
	var out struct {
		Jobs []jobs.Info `json:"jobs"`
	}
	err := c.do(ctx, http.MethodGet, "/jobs?"+q.Encode(), &out)
	return out.Jobs, err
}

// Job fetches one job with its stdout preview.
func (c *Client) Job(ctx context.Context, id string) (jobs.Info, error) {
	var info jobs.Info
	err := c.do(ctx, http.MethodGet, "/jobs/"+url.PathEscape(id), &info)
	return info, err
}

// Kill terminates a job.
func (c *Client) Kill(ctx context.Context, id string) (jobs.Info, error) {
	var info jobs.Info
	err := c.do(ctx, http.MethodPost, "/jobs/"+url.PathEscape(id)+"/kill", &info)
	return info, err
}

// WaitResult is a finished (or still running) job with its full output.
type WaitResult struct {
	jobs.WaitResult
	TimedOut bool `json:"timed_out"`
}

// Wait blocks until the job finishes or timeout passes on the server side.
// It bypasses the short request timeout used for everything else.
func (c *Client) Wait(ctx context.Context, id string, timeout time.Duration) (WaitResult, error) {
	var out WaitResult
	path := "/jobs/" + url.PathEscape(id) + "/wait"
	if timeout > 0 {
		path += "?timeout_ms=" + strconv.FormatInt(timeout.Milliseconds(), 10)
	}
	err := c.doWith(ctx, c.stream, http.MethodPost, path, &out)
	return out, err
}

// Stream reads /events and sends each event to ch until the connection
// drops or ctx ends.
func (c *Client) Stream(ctx context.Context, ch chan<- events.Event) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/events", nil)
	if err != nil {
		return err
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.stream.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("GET /events: %s", resp.Status)
	}

	scanner := bufio.NewScanner(resp.Body)
	var cur events.Event
	for scanner.Scan() {
		line := scanner.Text()
		switch {
		case line == "":
			if len(cur.Data) > 0 {
				cur.At = time.Now()
				select {
				case ch <- cur:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			cur = events.Event{}
		case strings.HasPrefix(line, "id: "):
			if id, err := strconv.ParseInt(line[4:], 10, 64); err == nil {
				cur.ID = id
			}
		case strings.HasPrefix(line, "event: "):
			cur.Type = line[7:]
		case strings.HasPrefix(line, "data: "):
			cur.Data = json.RawMessage(line[6:])
		}
	}
	if err := scanner.Err(); err != nil {
		return err
	}
	return fmt.Errorf("event stream closed")
}
