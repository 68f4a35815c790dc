// Package server runs the static file server a crawl fetches pages from.
// A Supervisor starts the server as a child process, waits for it to announce
// readiness on stdout, keeps both output streams drained while the caller
// works, and kills the process when the caller returns.
package server

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strconv"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultReadyMarker is the stdout substring that signals the server is bound.
const DefaultReadyMarker = "Listening on"

var (
	// ErrServerStartup means the process exited or closed stdout before
	// printing the ready marker.
	ErrServerStartup = errors.New("server exited before becoming ready")
	// ErrReadyTimeout means Config.ReadyTimeout elapsed before the ready marker.
	ErrReadyTimeout = errors.New("server did not become ready in time")
	// ErrNoCommand is returned by New when Config.Command is empty.
	ErrNoCommand = errors.New("server command is required")
)

// State is the lifecycle position of one supervised process.
type State string

// Lifecycle states, logged on every transition.
const (
	StateStarting   State = "starting"
	StateListening  State = "listening"
	StateDraining   State = "draining"
	StateTerminated State = "terminated"
	StateFailed     State = "failed"
)

// Config describes the process to supervise.
type Config struct {
	// Command is the argv template; "{dir}" and "{port}" are substituted in
	// every element.
	Command []string
	// Env is appended to the current environment.
	Env         []string
	ReadyMarker string
	// ReadyTimeout bounds the readiness wait. Zero waits indefinitely.
	ReadyTimeout time.Duration
}

// Supervisor starts and stops server processes described by one Config.
type Supervisor struct {
	cfg    Config
	logger *zap.Logger
}

// New validates cfg and returns a Supervisor.
func New(cfg Config, logger *zap.Logger) (*Supervisor, error) {
	if len(cfg.Command) == 0 || strings.TrimSpace(cfg.Command[0]) == "" {
		return nil, ErrNoCommand
	}
	if cfg.ReadyMarker == "" {
		cfg.ReadyMarker = DefaultReadyMarker
	}
	if cfg.ReadyTimeout < 0 {
		return nil, fmt.Errorf("ready timeout must be >= 0, got %s", cfg.ReadyTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Supervisor{cfg: cfg, logger: logger.Named("server")}, nil
}

// WithServer starts a server rooted at dir on port, waits for readiness,
// then calls fn. The process is killed when WithServer returns, including
// when fn panics. fn's error is returned unchanged.
func (s *Supervisor) WithServer(ctx context.Context, dir string, port int, fn func(ctx context.Context, port int) error) error {
	argv := expandCommand(s.cfg.Command, dir, port)
	logger := s.logger.With(zap.String("command", strings.Join(argv, " ")), zap.Int("port", port))

	p, err := s.start(argv, dir, logger)
	if err != nil {
		return err
	}
	defer p.terminate()

	if err := s.awaitReady(ctx, p); err != nil {
		p.setState(StateFailed)
		return err
	}
	p.setState(StateListening)

	return fn(ctx, port)
}

func (s *Supervisor) start(argv []string, dir string, logger *zap.Logger) (*process, error) {
	cmd := exec.Command(argv[0], argv[1:]...) //nolint:gosec // command comes from operator config
	cmd.Dir = dir
	cmd.Env = append(os.Environ(), s.cfg.Env...)
	isolateProcessGroup(cmd)
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, fmt.Errorf("server stdout pipe: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return nil, fmt.Errorf("server stderr pipe: %w", err)
	}

	p := &process{cmd: cmd, logger: logger, ready: make(chan error, 1), state: StateStarting}
	logger.Info("Starting server", zap.String("dir", dir))
	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("%w: start %s: %v", ErrServerStartup, argv[0], err)
	}
	p.drainers.Go(func() error {
		_, err := io.Copy(io.Discard, stderr)
		return err
	})
	p.drainers.Go(func() error {
		return p.watchStdout(stdout, s.cfg.ReadyMarker)
	})
	return p, nil
}

func (s *Supervisor) awaitReady(ctx context.Context, p *process) error {
	var timeout <-chan time.Time
	if s.cfg.ReadyTimeout > 0 {
		t := time.NewTimer(s.cfg.ReadyTimeout)
		defer t.Stop()
		timeout = t.C
	}
	select {
	case err := <-p.ready:
		return err
	case <-timeout:
		return fmt.Errorf("%w after %s", ErrReadyTimeout, s.cfg.ReadyTimeout)
	case <-ctx.Done():
		return fmt.Errorf("await server readiness: %w", ctx.Err())
	}
}

func expandCommand(tmpl []string, dir string, port int) []string {
	r := strings.NewReplacer("{dir}", dir, "{port}", strconv.Itoa(port))
	argv := make([]string, len(tmpl))
	for i, arg := range tmpl {
		argv[i] = r.Replace(arg)
	}
	return argv
}

// process is one running server. It is never shared outside WithServer.
type process struct {
	cmd      *exec.Cmd
	logger   *zap.Logger
	ready    chan error
	drainers errgroup.Group
	stopOnce sync.Once

	mu    sync.Mutex
	state State
}

func (p *process) setState(next State) {
	p.mu.Lock()
	prev := p.state
	p.state = next
	p.mu.Unlock()
	p.logger.Debug("Server state changed", zap.String("from", string(prev)), zap.String("to", string(next)))
}

// maxLoggedLine caps how much of one output line is logged or quoted.
const maxLoggedLine = 512

// watchStdout logs stdout lines until the ready marker appears, then keeps
// discarding output until the pipe closes. If the pipe closes first the
// readiness waiter gets ErrServerStartup. Lines have no length limit.
func (p *process) watchStdout(stdout io.Reader, marker string) error {
	reader := bufio.NewReader(stdout)
	last := ""
	for {
		line, readErr := reader.ReadString('\n')
		if line != "" {
			line = strings.TrimRight(line, "\r\n")
			last = truncateLine(line)
			p.logger.Info("Server output", zap.String("line", last))
			if strings.Contains(line, marker) {
				p.ready <- nil
				p.setState(StateDraining)
				_, err := io.Copy(io.Discard, reader)
				return err
			}
		}
		if readErr != nil {
			p.ready <- fmt.Errorf("%w (last output %q): %v", ErrServerStartup, last, readErr)
			return nil
		}
	}
}

func truncateLine(line string) string {
	if len(line) <= maxLoggedLine {
		return line
	}
	return line[:maxLoggedLine] + "..."
}

// terminate kills the process once, reaps it, and joins both drainers.
func (p *process) terminate() {
	p.stopOnce.Do(func() {
		if err := killProcessGroup(p.cmd); err != nil && !errors.Is(err, os.ErrProcessDone) {
			p.logger.Warn("Server kill failed", zap.Error(err))
		}
		// Wait closes the read ends of both pipes, which unblocks the drainers.
		waitErr := p.cmd.Wait()
		if err := p.drainers.Wait(); err != nil && !errors.Is(err, os.ErrClosed) {
			p.logger.Debug("Server output drain ended", zap.Error(err))
		}
		p.setState(StateTerminated)
		p.logger.Info("Server stopped", zap.NamedError("exit", waitErr))
	})
}
