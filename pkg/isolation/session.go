package isolation

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"runtime"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/justyntemme/vst3host/pkg/debug"
	"github.com/justyntemme/vst3host/pkg/hosterr"
)

// Session defaults
const (
	DefaultResponseTimeout = 5 * time.Second
	DefaultShutdownTimeout = 2 * time.Second
)

// Config describes how to start a child
type Config struct {
	HelperPath string
	Args       []string
	Env        []string

	// ResponseTimeout bounds each SendCommand. A child that does not answer
	// in time is killed.
	ResponseTimeout time.Duration
	// ShutdownTimeout bounds the wait for a clean exit before the child is
	// killed.
	ShutdownTimeout time.Duration

	// Stderr receives the child's diagnostics. Defaults to os.Stderr.
	Stderr io.Writer
	Logger *debug.Logger
}

// Session owns one child process. Commands are serialized; a session whose
// channel broke is never reused.
type Session struct {
	*child
}

// child holds the process state. The exit watcher refers only to child, so
// an unreachable Session can still be finalized.
type child struct {
	id  uuid.UUID
	cfg Config
	log *debug.Logger

	cmd    *exec.Cmd
	stdin  *os.File
	stdout *os.File
	reader *bufio.Reader

	mu     sync.Mutex
	broken atomic.Bool

	exited  chan struct{}
	exitErr error

	shutdownOnce sync.Once
}

// Spawn starts the helper and returns a session connected to it. Cancelling
// ctx kills the child.
func Spawn(ctx context.Context, cfg Config) (*Session, error) {
	if cfg.HelperPath == "" {
		return nil, hosterr.New(hosterr.KindInvalidParameter, "isolation.spawn", "helper path is required")
	}
	if cfg.ResponseTimeout <= 0 {
		cfg.ResponseTimeout = DefaultResponseTimeout
	}
	if cfg.ShutdownTimeout <= 0 {
		cfg.ShutdownTimeout = DefaultShutdownTimeout
	}
	if cfg.Stderr == nil {
		cfg.Stderr = os.Stderr
	}

	// Plain pipes instead of cmd.StdinPipe/StdoutPipe: Wait must not close
	// the read side while a response is being read, and os.Pipe files
	// support read deadlines.
	inR, inW, err := os.Pipe()
	if err != nil {
		return nil, hosterr.Wrap(hosterr.KindIpcError, "isolation.spawn", err)
	}
	outR, outW, err := os.Pipe()
	if err != nil {
		inR.Close()
		inW.Close()
		return nil, hosterr.Wrap(hosterr.KindIpcError, "isolation.spawn", err)
	}

	cmd := exec.CommandContext(ctx, cfg.HelperPath, cfg.Args...)
	cmd.Stdin = inR
	cmd.Stdout = outW
	cmd.Stderr = cfg.Stderr
	cmd.Env = append(os.Environ(), cfg.Env...)

	if err := cmd.Start(); err != nil {
		inR.Close()
		inW.Close()
		outR.Close()
		outW.Close()
		return nil, hosterr.Wrap(hosterr.KindLoadFailed, "isolation.spawn", fmt.Errorf("start %s: %w", cfg.HelperPath, err))
	}
	// The child has its own copies.
	inR.Close()
	outW.Close()

	c := &child{
		id:     uuid.New(),
		cfg:    cfg,
		cmd:    cmd,
		stdin:  inW,
		stdout: outR,
		reader: bufio.NewReaderSize(outR, 64*1024),
		exited: make(chan struct{}),
	}
	c.log = debug.OrDefault(cfg.Logger).With("session", c.id.String(), "pid", cmd.Process.Pid)

	go c.wait()

	s := &Session{child: c}
	runtime.SetFinalizer(s, func(s *Session) {
		go s.child.shutdown()
	})
	c.log.Info("isolation: helper started: %s", cfg.HelperPath)
	return s, nil
}

func (c *child) wait() {
	err := c.cmd.Wait()
	c.exitErr = err
	close(c.exited)
	if err != nil {
		c.log.Warn("isolation: helper exited: %v", err)
	} else {
		c.log.Debug("isolation: helper exited")
	}
}

// ID identifies the session in logs and status displays
func (s *Session) ID() uuid.UUID {
	return s.id
}

// PID returns the child's process id
func (s *Session) PID() int {
	return s.cmd.Process.Pid
}

// Alive reports whether the child is running and the channel is usable
func (s *Session) Alive() bool {
	if s.broken.Load() {
		return false
	}
	select {
	case <-s.exited:
		return false
	default:
		return true
	}
}

// Done is closed when the child has exited
func (s *Session) Done() <-chan struct{} {
	return s.exited
}

// ExitErr returns the child's exit error once Done is closed.
func (s *Session) ExitErr() error {
	select {
	case <-s.exited:
		return s.exitErr
	default:
		return nil
	}
}

// SendCommand writes one request and reads its response. A broken channel,
// a dead child or a missed response deadline discards the session: the
// child is killed and every later call fails with an IpcError.
func (s *Session) SendCommand(cmd Command) (Response, error) {
	return s.send(cmd, s.cfg.ResponseTimeout)
}

func (c *child) send(cmd Command, timeout time.Duration) (Response, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	const op = "isolation.send"
	if c.broken.Load() {
		return Response{}, hosterr.New(hosterr.KindIpcError, op, "session is closed")
	}

	line, err := encodeLine(cmd)
	if err != nil {
		return Response{}, hosterr.Wrap(hosterr.KindInvalidParameter, op, err)
	}
	if _, err := c.stdin.Write(line); err != nil {
		return Response{}, c.fail(op, fmt.Errorf("write %s: %w", cmd.Kind, err))
	}

	if err := c.stdout.SetReadDeadline(time.Now().Add(timeout)); err != nil && !errors.Is(err, os.ErrNoDeadline) {
		return Response{}, c.fail(op, err)
	}
	reply, err := c.reader.ReadBytes('\n')
	if err != nil {
		if errors.Is(err, os.ErrDeadlineExceeded) {
			c.kill()
			err = hosterr.Newf(hosterr.KindTimeout, op, "no response to %s within %s, helper killed", cmd.Kind, timeout)
			return Response{}, c.fail(op, err)
		}
		return Response{}, c.fail(op, err)
	}

	var resp Response
	if err := json.Unmarshal(reply, &resp); err != nil {
		return Response{}, c.fail(op, fmt.Errorf("invalid response to %s: %w", cmd.Kind, err))
	}
	if cmd.Kind == CmdShutdown {
		c.broken.Store(true)
	}
	return resp, nil
}

// fail marks the session broken and explains why. When the child is gone
// its exit status decides between Crashed and IpcError.
func (c *child) fail(op string, cause error) error {
	c.broken.Store(true)

	select {
	case <-c.exited:
	case <-time.After(c.cfg.ShutdownTimeout):
		c.kill()
		<-c.exited
	}

	if c.exitErr != nil && !hosterr.IsKind(cause, hosterr.KindTimeout) {
		c.log.Error("isolation: helper died: %v", c.exitErr)
		return hosterr.Wrap(hosterr.KindCrashed, op, fmt.Errorf("helper died (%w) after: %v", c.exitErr, cause))
	}
	c.log.Error("isolation: channel broken: %v", cause)
	return hosterr.Wrap(hosterr.KindIpcError, op, cause)
}

func (c *child) kill() {
	if err := c.cmd.Process.Kill(); err != nil && !errors.Is(err, os.ErrProcessDone) {
		c.log.Warn("isolation: kill failed: %v", err)
	}
}

// Shutdown asks the child to exit, waits up to the shutdown timeout and then
// kills it. It is safe to call more than once and from any goroutine.
func (s *Session) Shutdown() error {
	runtime.SetFinalizer(s, nil)
	s.child.shutdown()
	return nil
}

func (c *child) shutdown() {
	c.shutdownOnce.Do(func() {
		if !c.broken.Load() {
			if _, err := c.send(Simple(CmdShutdown), c.cfg.ShutdownTimeout); err != nil {
				c.log.Debug("isolation: shutdown request failed: %v", err)
			}
		}
		c.broken.Store(true)
		c.stdin.Close()

		select {
		case <-c.exited:
		case <-time.After(c.cfg.ShutdownTimeout):
			c.log.Warn("isolation: helper did not exit, killing")
			c.kill()
			<-c.exited
		}
		c.mu.Lock()
		c.stdout.Close()
		c.mu.Unlock()
		c.log.Info("isolation: session closed")
	})
}
