package probe

import (
	"context"
	"fmt"
	"net"
	"net/url"
)

var defaultPorts = map[string]string{"http": "80", "https": "443"}

// tcpProber only checks that the endpoint's port accepts connections, which
// catches servers that are up but slow to answer HTTP.
type tcpProber struct {
	address string
	dial    func(ctx context.Context, network, address string) (net.Conn, error)
}

func newTCPProber(u *url.URL) *tcpProber {
	port := u.Port()
	if port == "" {
		port = defaultPorts[u.Scheme]
	}
	d := &net.Dialer{KeepAlive: -1}
	return &tcpProber{
		address: net.JoinHostPort(u.Hostname(), port),
		dial:    d.DialContext,
	}
}

func (p *tcpProber) Probe(ctx context.Context) error {
	conn, err := p.dial(ctx, "tcp", p.address)
	if err != nil {
		return fmt.Errorf("dial %s: %w", p.address, err)
	}
	return conn.Close()
}
