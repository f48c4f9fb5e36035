package probe

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"
)

// Status captures the reachability condition surfaced by a probe.
type Status string

const (
	// StatusUnknown is used internally to track transitions and is not
	// emitted on the public channel.
	StatusUnknown Status = "unknown"
	// StatusReady indicates the endpoint answered.
	StatusReady Status = "ready"
	// StatusUnready indicates the endpoint failed the configured number of
	// consecutive attempts.
	StatusUnready Status = "unready"
)

// Event describes a reachability transition or a one-off check result.
type Event struct {
	Status  Status
	Reason  string
	Err     error
	At      time.Time
	Latency time.Duration
}

// Prober defines the behaviour required by Check and Watch.
type Prober interface {
	Probe(ctx context.Context) error
}

// Spec tunes Watch.
type Spec struct {
	GracePeriod      time.Duration
	Interval         time.Duration
	Timeout          time.Duration
	SuccessThreshold int
	FailureThreshold int
}

// New builds a prober for a detected endpoint URL. The HTTP request and a
// plain TCP dial race; the first success wins, so servers that answer with
// odd status codes on / still count as reachable.
func New(endpoint string) (Prober, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return nil, fmt.Errorf("probe: parse %q: %w", endpoint, err)
	}
	if _, ok := defaultPorts[u.Scheme]; !ok {
		return nil, fmt.Errorf("probe: unsupported scheme %q", u.Scheme)
	}
	return newMultiProber(
		probeTerm{alias: "http", probe: newHTTPProber(endpoint)},
		probeTerm{alias: "tcp", probe: newTCPProber(u)},
	), nil
}

// Check runs a single attempt bounded by timeout.
func Check(ctx context.Context, prober Prober, timeout time.Duration) Event {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	start := time.Now()
	err := prober.Probe(ctx)
	event := Event{At: time.Now(), Latency: time.Since(start)}
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && timeout > 0 {
			err = fmt.Errorf("timeout after %s", timeout)
		}
		event.Status = StatusUnready
		event.Reason = err.Error()
		event.Err = err
		return event
	}
	event.Status = StatusReady
	return event
}

// Watch continuously executes the provided prober until the context is
// cancelled. Transitions between ready and unready states are emitted on the
// returned channel. The channel is closed once the context is cancelled.
func Watch(ctx context.Context, prober Prober, spec Spec, nowFn func() time.Time) <-chan Event {
	events := make(chan Event, 1)
	if ctx == nil {
		close(events)
		return events
	}
	if nowFn == nil {
		nowFn = time.Now
	}
	go func() {
		defer close(events)
		if prober == nil {
			return
		}

		successNeeded := spec.SuccessThreshold
		if successNeeded <= 0 {
			successNeeded = 1
		}
		failureAllowed := spec.FailureThreshold
		if failureAllowed <= 0 {
			failureAllowed = 1
		}

		if gp := spec.GracePeriod; gp > 0 {
			timer := time.NewTimer(gp)
			defer timer.Stop()
			select {
			case <-ctx.Done():
				return
			case <-timer.C:
			}
		}

		successes := 0
		failures := 0
		status := StatusUnknown

		for {
			attemptCtx := ctx
			cancel := func() {}
			if spec.Timeout > 0 {
				attemptCtx, cancel = context.WithTimeout(ctx, spec.Timeout)
			}

			err := prober.Probe(attemptCtx)
			cancel()

			if ctx.Err() != nil {
				return
			}

			if err == nil {
				successes++
				failures = 0
				if successes >= successNeeded && status != StatusReady {
					status = StatusReady
					if !sendEvent(ctx, events, Event{Status: StatusReady, At: nowFn()}) {
						return
					}
				}
			} else {
				if attemptCtx.Err() == context.DeadlineExceeded && errors.Is(err, context.DeadlineExceeded) {
					err = fmt.Errorf("timeout after %s", spec.Timeout)
				}

				successes = 0
				failures++
				if failures >= failureAllowed && status != StatusUnready {
					status = StatusUnready
					event := Event{Status: StatusUnready, Reason: err.Error(), Err: err, At: nowFn()}
					if !sendEvent(ctx, events, event) {
						return
					}
				}
			}

			if spec.Interval <= 0 {
				select {
				case <-ctx.Done():
					return
				default:
				}
				continue
			}

			timer := time.NewTimer(spec.Interval)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}
		}
	}()
	return events
}

func sendEvent(ctx context.Context, events chan<- Event, event Event) bool {
	select {
	case <-ctx.Done():
		return false
	case events <- event:
		return true
	}
}

type multiProber struct {
	terms []probeTerm
}

type probeTerm struct {
	alias string
	probe Prober
}

func newMultiProber(terms ...probeTerm) Prober {
	return &multiProber{terms: terms}
}

func (m *multiProber) Probe(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	type result struct {
		alias string
		err   error
	}

	results := make(chan result, len(m.terms))
	for _, term := range m.terms {
		go func(alias string, prober Prober) {
			err := prober.Probe(ctx)
			results <- result{alias: alias, err: err}
		}(term.alias, term.probe)
	}

	var errs []error
	for i := 0; i < len(m.terms); i++ {
		res := <-results
		if res.err == nil {
			return nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", res.alias, res.err))
	}

	if len(errs) == 0 {
		return errors.New("no probes executed")
	}
	return errors.Join(errs...)
}
