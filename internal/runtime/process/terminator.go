package process

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"strconv"
	"time"

	gnet "github.com/shirou/gopsutil/v4/net"
	gproc "github.com/shirou/gopsutil/v4/process"

	"github.com/Paintersrp/devrun/internal/metrics"
	"github.com/Paintersrp/devrun/internal/runtime"
)

// DefaultLookupTimeout bounds a single kill pass, including every process
// table and socket table lookup it performs.
const DefaultLookupTimeout = 3 * time.Second

// Terminator kills process trees and port holders with SIGKILL. Every
// operation is best effort: lookup and signal failures are logged at debug
// level and otherwise ignored, because a dev server that is already gone is
// the expected outcome.
type Terminator struct {
	logger  *slog.Logger
	timeout time.Duration
	self    int

	children  func(ctx context.Context, pid int) ([]int, error)
	listeners func(ctx context.Context, port int) ([]int, error)
	kill      func(pid int) error
	killGroup func(pid int) error
	killTree  func(pid int)
}

// TerminatorOption configures a Terminator.
type TerminatorOption func(*Terminator)

// WithTerminatorLogger sets the logger used for swallowed failures.
func WithTerminatorLogger(logger *slog.Logger) TerminatorOption {
	return func(t *Terminator) {
		if logger != nil {
			t.logger = logger
		}
	}
}

// WithLookupTimeout bounds each kill pass.
func WithLookupTimeout(d time.Duration) TerminatorOption {
	return func(t *Terminator) {
		if d > 0 {
			t.timeout = d
		}
	}
}

// NewTerminator constructs a Terminator backed by the host process table.
func NewTerminator(opts ...TerminatorOption) *Terminator {
	t := &Terminator{
		logger:    slog.Default(),
		timeout:   DefaultLookupTimeout,
		self:      os.Getpid(),
		children:  childPIDs,
		listeners: listeningPIDs,
		kill:      sigkill,
		killGroup: killGroup,
		killTree:  killTreeNative,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

var _ runtime.Terminator = (*Terminator)(nil)

// Descendants walks the tree below root breadth first and returns every
// discovered pid in discovery order.
func (t *Terminator) Descendants(ctx context.Context, root int) []int {
	var result []int
	seen := map[int]bool{root: true}
	queue := []int{root}
	for len(queue) > 0 {
		pid := queue[0]
		queue = queue[1:]

		kids, err := t.children(ctx, pid)
		if err != nil {
			t.logger.Debug("list children failed", "pid", pid, "err", err)
			continue
		}
		for _, kid := range kids {
			if seen[kid] {
				continue
			}
			seen[kid] = true
			result = append(result, kid)
			queue = append(queue, kid)
		}
	}
	return result
}

// KillTree kills the descendants of root leaves first, so a parent cannot
// respawn a child that was just killed, then root, then root's process group.
func (t *Terminator) KillTree(ctx context.Context, root int) {
	if root <= 1 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	sent := 0
	descendants := t.Descendants(ctx, root)
	for i := len(descendants) - 1; i >= 0; i-- {
		sent += t.signal(descendants[i])
	}
	sent += t.signal(root)
	sent += t.signalGroup(root)
	t.killTree(root)

	metrics.AddKillSignals("tree", sent)
	t.logger.Debug("killed process tree", "pid", root, "descendants", len(descendants))
}

// KillByPort kills every process with a listening TCP socket on port. It
// catches children that left the process group, such as bundler workers.
func (t *Terminator) KillByPort(ctx context.Context, port int) {
	if port <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, t.timeout)
	defer cancel()

	pids, err := t.listeners(ctx, port)
	if err != nil {
		t.logger.Debug("port lookup failed", "port", port, "err", err)
		return
	}
	sent := 0
	for _, pid := range pids {
		sent += t.signal(pid)
	}
	metrics.AddKillSignals("port", sent)
}

// Sweep re-kills root and its group and the port holders.
func (t *Terminator) Sweep(ctx context.Context, root, port int) {
	if root > 1 {
		sent := t.signal(root) + t.signalGroup(root)
		metrics.AddKillSignals("sweep", sent)
	}
	t.KillByPort(ctx, port)
}

func (t *Terminator) signal(pid int) int {
	if pid <= 1 || pid == t.self {
		return 0
	}
	if err := t.kill(pid); err != nil {
		t.logger.Debug("kill failed", "pid", pid, "err", err)
		return 0
	}
	return 1
}

func (t *Terminator) signalGroup(pid int) int {
	if pid <= 1 || pid == t.self {
		return 0
	}
	if err := t.killGroup(pid); err != nil {
		t.logger.Debug("kill group failed", "pgid", pid, "err", err)
		return 0
	}
	return 1
}

func childPIDs(ctx context.Context, pid int) ([]int, error) {
	proc, err := gproc.NewProcessWithContext(ctx, int32(pid))
	if err != nil {
		if errors.Is(err, gproc.ErrorProcessNotRunning) {
			return nil, nil
		}
		return pgrepChildren(ctx, pid)
	}
	kids, err := proc.ChildrenWithContext(ctx)
	if err != nil {
		if errors.Is(err, gproc.ErrorNoChildren) {
			return nil, nil
		}
		return pgrepChildren(ctx, pid)
	}
	pids := make([]int, 0, len(kids))
	for _, kid := range kids {
		pids = append(pids, int(kid.Pid))
	}
	return pids, nil
}

func pgrepChildren(ctx context.Context, pid int) ([]int, error) {
	return runPIDTool(ctx, "pgrep", "-P", strconv.Itoa(pid))
}

func listeningPIDs(ctx context.Context, port int) ([]int, error) {
	pids, err := socketPIDs(ctx, port)
	if err == nil {
		return pids, nil
	}
	fallback, lsofErr := runPIDTool(ctx, "lsof", "-nP", "-t", fmt.Sprintf("-iTCP:%d", port), "-sTCP:LISTEN")
	if lsofErr != nil {
		return nil, errors.Join(err, lsofErr)
	}
	return fallback, nil
}

func socketPIDs(ctx context.Context, port int) ([]int, error) {
	conns, err := gnet.ConnectionsWithContext(ctx, "tcp")
	if err != nil {
		return nil, err
	}
	seen := make(map[int]bool)
	var pids []int
	for _, conn := range conns {
		if conn.Status != "LISTEN" || conn.Laddr.Port != uint32(port) || conn.Pid <= 0 {
			continue
		}
		pid := int(conn.Pid)
		if seen[pid] {
			continue
		}
		seen[pid] = true
		pids = append(pids, pid)
	}
	return pids, nil
}

// runPIDTool runs a pgrep/lsof style utility and parses one pid per line.
// Both tools exit with status 1 when nothing matched.
func runPIDTool(ctx context.Context, name string, args ...string) ([]int, error) {
	out, err := exec.CommandContext(ctx, name, args...).Output()
	if err != nil {
		var exitErr *exec.ExitError
		if errors.As(err, &exitErr) && exitErr.ExitCode() == 1 {
			return nil, nil
		}
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	return parsePIDs(out), nil
}

func parsePIDs(out []byte) []int {
	var pids []int
	for _, field := range bytes.Fields(out) {
		pid, err := strconv.Atoi(string(field))
		if err != nil || pid <= 0 {
			continue
		}
		pids = append(pids, pid)
	}
	return pids
}
