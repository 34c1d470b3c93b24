package directory

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"
)

// ErrNotAllowed means the directory refused the class/presenter pairing.
var ErrNotAllowed = errors.New("directory refused the request")

// Client calls the class/attendee directory service. The engine does not own
// rosters; it asks the directory once at session start whether the class
// exists and the presenter teaches it. Claim-time membership checks are the
// directory's problem, not ours.
type Client struct {
	BaseURL string
	HTTP    *http.Client
	Skip    bool
}

// New creates a client. With skip set every check passes, for deployments
// without a directory service.
func New(baseURL string, skip bool) *Client {
	return &Client{
		BaseURL: baseURL,
		Skip:    skip,
		HTTP: &http.Client{
			Timeout: 5 * time.Second,
		},
	}
}

type verifyResponse struct {
	Allowed bool   `json:"allowed"`
	Reason  string `json:"reason"`
}

// VerifyClass checks that the class exists and the presenter may run a
// session for it.
func (c *Client) VerifyClass(ctx context.Context, classID, presenterID string) error {
	return c.verify(ctx, "/v1/roster/verify-class", map[string]string{
		"class_id":     classID,
		"presenter_id": presenterID,
	})
}

// VerifyPresenter checks that the presenter identity exists.
func (c *Client) VerifyPresenter(ctx context.Context, presenterID string) error {
	return c.verify(ctx, "/v1/roster/verify-presenter", map[string]string{
		"presenter_id": presenterID,
	})
}

func (c *Client) verify(ctx context.Context, path string, payload map[string]string) error {
	if c.Skip {
		return nil
	}
	body, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return fmt.Errorf("directory request failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory returned status %d", resp.StatusCode)
	}

	var out verifyResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return fmt.Errorf("directory response decode failed: %w", err)
	}
	if !out.Allowed {
		if out.Reason != "" {
			return fmt.Errorf("%w: %s", ErrNotAllowed, out.Reason)
		}
		return ErrNotAllowed
	}
	return nil
}

// Health pings the directory service.
func (c *Client) Health(ctx context.Context) error {
	if c.Skip {
		return nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.BaseURL+"/healthz", nil)
	if err != nil {
		return err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("directory unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
