package httpapi

import (
	stdcontext "context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Paintersrp/devrun/internal/api"
)

// Client talks to a running control API.
type Client struct {
	base string
	http *http.Client
}

// NewClient returns a client for the server listening on addr.
func NewClient(addr string, timeout time.Duration) *Client {
	base := strings.TrimRight(addr, "/")
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "http://" + normalizeAddr(base)
	}
	return &Client{base: base, http: &http.Client{Timeout: timeout}}
}

// Projects fetches the report for every registered project.
func (c *Client) Projects(ctx stdcontext.Context) ([]api.ProjectReport, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.base+projectsPath, nil)
	if err != nil {
		return nil, err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var body errorBody
		if err := json.NewDecoder(resp.Body).Decode(&body); err == nil && body.Message != "" {
			return nil, fmt.Errorf("control api: %s: %s", body.Code, body.Message)
		}
		return nil, fmt.Errorf("control api: unexpected status %d", resp.StatusCode)
	}
	var payload struct {
		Projects []api.ProjectReport `json:"projects"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("control api: decode projects: %w", err)
	}
	return payload.Projects, nil
}
