// Package supervisor ensures an opencode server exists and is healthy
// before the transport is handed any traffic. It detects externally
// started servers, and can locate, spawn, and own the lifecycle of a
// managed one.
package supervisor

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"os/exec"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/rs/zerolog"

	"github.com/opencode-ai/opencode-client/internal/api"
	"github.com/opencode-ai/opencode-client/internal/logging"
)

const (
	// BinaryName is the executable looked up on PATH.
	BinaryName = "opencode"

	// DefaultStartupTimeout bounds the wait for a spawned server to
	// report healthy.
	DefaultStartupTimeout = 30 * time.Second

	defaultPollInterval = 500 * time.Millisecond
)

// Options control a single EnsureServer invocation.
type Options struct {
	// AutoServe allows the supervisor to spawn a server when none is
	// reachable. When false, an unreachable server is an error.
	AutoServe bool
	// StartupTimeout bounds the health wait after a spawn.
	// Zero means DefaultStartupTimeout.
	StartupTimeout time.Duration
}

// Status reports the outcome of an EnsureServer call or a snapshot probe.
type Status struct {
	Running     bool
	ManagedByUs bool
	Version     string
}

// Supervisor owns at most one managed server process at a time. The
// slot is written only by start/stop and the shutdown hooks, and the
// hooks are registered at most once per supervisor lifetime.
type Supervisor struct {
	client *api.Client
	host   string
	port   string
	log    zerolog.Logger

	// startMu serializes EnsureServer: a second caller arriving while a
	// start is in flight waits and then observes the running server.
	startMu sync.Mutex

	procMu sync.Mutex
	proc   *managedProcess

	hooks sync.Once

	// Seams for tests.
	lookPath     func(file string) (string, error)
	startCommand func(path string, args []string) (*managedProcess, error)
	pollInterval time.Duration
}

// New builds a supervisor for the server the client points at. The
// spawn host and port are derived from the client's base URL.
func New(client *api.Client) (*Supervisor, error) {
	u, err := url.Parse(client.BaseURL())
	if err != nil {
		return nil, fmt.Errorf("invalid base URL %q: %w", client.BaseURL(), err)
	}
	host := u.Hostname()
	if host == "" {
		return nil, fmt.Errorf("base URL %q has no host", client.BaseURL())
	}
	port := u.Port()
	if port == "" {
		if u.Scheme == "https" {
			port = "443"
		} else {
			port = "80"
		}
	}

	return &Supervisor{
		client:       client,
		host:         host,
		port:         port,
		log:          logging.Component("supervisor"),
		lookPath:     exec.LookPath,
		startCommand: startProcess,
		pollInterval: defaultPollInterval,
	}, nil
}

// EnsureServer makes sure a healthy server is reachable, spawning one
// when allowed. An externally started server is detected and left
// alone; a spawned one becomes this supervisor's managed process.
func (s *Supervisor) EnsureServer(ctx context.Context, opts Options) (Status, error) {
	s.startMu.Lock()
	defer s.startMu.Unlock()

	if st := s.client.Health(ctx); st.Healthy {
		s.log.Debug().Str("version", st.Version).Msg("server already running")
		return Status{Running: true, Version: st.Version}, nil
	}

	if !opts.AutoServe {
		return Status{}, fmt.Errorf(
			"opencode server at %s is not responding: %w",
			s.client.BaseURL(), ErrManualStart)
	}

	return s.startServer(ctx, opts)
}

// startServer locates the binary, spawns it, and races the health poll
// against an early process exit. Exactly one outcome settles the call.
func (s *Supervisor) startServer(ctx context.Context, opts Options) (Status, error) {
	timeout := opts.StartupTimeout
	if timeout <= 0 {
		timeout = DefaultStartupTimeout
	}

	// exec.LookPath is the platform-appropriate search: PATH on unix,
	// PATH plus PATHEXT on Windows.
	path, err := s.lookPath(BinaryName)
	if err != nil {
		return Status{}, &BinaryMissingError{}
	}

	args := serveArgs(s.host, s.port)
	proc, err := s.startCommand(path, args)
	if err != nil {
		return Status{}, fmt.Errorf("failed to spawn %s serve: %w", BinaryName, err)
	}
	s.setProc(proc)
	s.registerShutdownHooks()

	s.log.Info().Str("binary", path).Strs("args", args).Msg("starting opencode server")
	start := time.Now()

	pollCtx, stopPolling := context.WithCancel(ctx)
	defer stopPolling()

	healthy := make(chan bool, 1)
	go s.pollHealth(pollCtx, timeout, healthy)

	select {
	case ok := <-healthy:
		if !ok {
			proc.kill()
			s.clearProc(proc)
			return Status{}, fmt.Errorf(
				"opencode server did not become healthy after %s%s",
				time.Since(start).Round(time.Millisecond), proc.tail())
		}

	case waitErr := <-proc.waitCh:
		// Any exit during startup is fatal, even code 0: a serve
		// process has no reason to stop while we are waiting on it.
		s.clearProc(proc)
		return Status{}, fmt.Errorf(
			"opencode server exited during startup after %s (%s)%s",
			time.Since(start).Round(time.Millisecond), exitReason(waitErr), proc.tail())

	case <-ctx.Done():
		proc.kill()
		s.clearProc(proc)
		return Status{}, ctx.Err()
	}

	st := s.client.Health(ctx)
	s.log.Info().
		Str("version", st.Version).
		Dur("elapsed", time.Since(start)).
		Msg("opencode server is healthy")
	return Status{Running: true, ManagedByUs: true, Version: st.Version}, nil
}

// pollHealth probes until healthy or the timeout elapses, then reports
// exactly once. Cancelling ctx abandons the poll without reporting.
func (s *Supervisor) pollHealth(ctx context.Context, timeout time.Duration, result chan<- bool) {
	deadline := time.NewTimer(timeout)
	defer deadline.Stop()
	ticker := time.NewTicker(s.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-deadline.C:
			result <- false
			return
		case <-ticker.C:
			if s.client.Health(ctx).Healthy {
				result <- true
				return
			}
		}
	}
}

// Stop kills the managed process, if any, and clears the slot. It is
// safe to call at any time and does nothing for external servers.
func (s *Supervisor) Stop() {
	s.procMu.Lock()
	proc := s.proc
	s.proc = nil
	s.procMu.Unlock()

	if proc != nil {
		s.log.Info().Msg("stopping managed opencode server")
		proc.kill()
	}
}

// Managed reports whether a spawned server is currently owned.
func (s *Supervisor) Managed() bool {
	s.procMu.Lock()
	defer s.procMu.Unlock()
	return s.proc != nil
}

// Status probes the server and reports a snapshot.
func (s *Supervisor) Status(ctx context.Context) Status {
	st := s.client.Health(ctx)
	return Status{
		Running:     st.Healthy,
		ManagedByUs: st.Healthy && s.Managed(),
		Version:     st.Version,
	}
}

// registerShutdownHooks installs SIGINT/SIGTERM handlers that kill the
// managed process before the host process dies. sync.Once keeps the
// registration to one per supervisor lifetime no matter how many starts
// happen.
func (s *Supervisor) registerShutdownHooks() {
	s.hooks.Do(func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
		go func() {
			sig := <-ch
			s.log.Info().Str("signal", sig.String()).Msg("signal received, cleaning up managed server")
			s.Stop()
			signal.Stop(ch)
			// Re-deliver so the host process observes the default action.
			if p, err := os.FindProcess(os.Getpid()); err == nil {
				_ = p.Signal(sig)
			}
		}()
	})
}

func (s *Supervisor) setProc(p *managedProcess) {
	s.procMu.Lock()
	s.proc = p
	s.procMu.Unlock()
}

// clearProc empties the slot only if it still holds p, so a concurrent
// Stop (or the shutdown hook) racing a failed start cannot drop a
// different process.
func (s *Supervisor) clearProc(p *managedProcess) {
	s.procMu.Lock()
	if s.proc == p {
		s.proc = nil
	}
	s.procMu.Unlock()
}

// serveArgs builds the spawn argument list. The hostname flag is only
// passed for non-loopback hosts; the server binds loopback by default.
func serveArgs(host, port string) []string {
	args := []string{"serve", "--port", port}
	if host != "127.0.0.1" && host != "localhost" {
		args = append(args, "--hostname", host)
	}
	return args
}

// exitReason describes a Wait result for diagnostics.
func exitReason(err error) string {
	if err == nil {
		return "exit code 0"
	}
	return err.Error()
}
