package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"
)

type httpProber struct {
	client *http.Client
	url    string
}

func newHTTPProber(url string) Prober {
	return &httpProber{
		client: &http.Client{
			CheckRedirect: func(*http.Request, []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		url: url,
	}
}

// Probe succeeds for any response below 500; a dev server answering 404 on
// the requested path is still up.
func (p *httpProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.url, nil)
	if err != nil {
		return fmt.Errorf("request: %w", err)
	}
	resp, err := p.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64*1024))

	if resp.StatusCode >= 500 {
		return fmt.Errorf("status=%d", resp.StatusCode)
	}
	return nil
}
