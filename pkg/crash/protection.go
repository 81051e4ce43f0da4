// Package crash wraps calls into a component so that a panic or an overrun
// becomes a recorded status instead of taking the host down.
//
// Deadline checks are after the fact: a call that overruns is measured, not
// interrupted. Only an isolated child process can be stopped mid-call.
package crash

import (
	"errors"
	"fmt"
	"runtime/debug"
	"sync/atomic"
	"time"

	"github.com/justyntemme/vst3host/pkg/hosterr"
)

// DefaultMaxProcessingTime is about one 512 sample block at 48kHz.
const DefaultMaxProcessingTime = 10 * time.Millisecond

// State is the health of a component
type State int

const (
	StateOK State = iota
	StateCrashed
	StateTimeout
	StateError
)

func (s State) String() string {
	switch s {
	case StateOK:
		return "ok"
	case StateCrashed:
		return "crashed"
	case StateTimeout:
		return "timeout"
	case StateError:
		return "error"
	default:
		return "unknown"
	}
}

// Status is a State plus its detail.
type Status struct {
	State   State
	Reason  string
	Elapsed time.Duration
}

// OK reports whether the status is healthy
func (s Status) OK() bool {
	return s.State == StateOK
}

func (s Status) String() string {
	switch s.State {
	case StateOK:
		return "OK"
	case StateCrashed:
		return "Crashed: " + s.Reason
	case StateTimeout:
		return fmt.Sprintf("Timeout: %v", s.Elapsed)
	case StateError:
		return "Error: " + s.Reason
	default:
		return s.State.String()
	}
}

// Err converts a non-OK status into a hosterr error
func (s Status) Err() error {
	switch s.State {
	case StateCrashed:
		return hosterr.New(hosterr.KindCrashed, "", s.Reason)
	case StateTimeout:
		return hosterr.Newf(hosterr.KindTimeout, "", "took %v", s.Elapsed)
	case StateError:
		return hosterr.New(hosterr.KindProcessingError, "", s.Reason)
	default:
		return nil
	}
}

// Fault is a recovered panic
type Fault struct {
	Reason string
	Value  any
	Stack  []byte
}

func (f *Fault) Error() string {
	return f.Reason
}

// Is lets errors.Is(err, hosterr.Crashed) match faults.
func (f *Fault) Is(target error) bool {
	return target == hosterr.Crashed
}

func faultFrom(v any) *Fault {
	var reason string
	switch x := v.(type) {
	case string:
		reason = "plugin panicked: " + x
	case error:
		reason = "plugin panicked: " + x.Error()
	case fmt.Stringer:
		reason = "plugin panicked: " + x.String()
	default:
		reason = "plugin panicked with unknown error"
	}
	return &Fault{Reason: reason, Value: v, Stack: debug.Stack()}
}

// Call runs f and turns a panic into a *Fault.
func Call[R any](f func() R) (result R, err error) {
	defer func() {
		if v := recover(); v != nil {
			err = faultFrom(v)
		}
	}()
	return f(), nil
}

// CallWithTimeout runs f under Call and also measures it. A panic yields
// StateCrashed; a normal return slower than deadline yields StateTimeout
// together with the result, which the caller may still use.
func CallWithTimeout[R any](f func() R, deadline time.Duration) (R, Status) {
	start := time.Now()
	result, err := Call(f)
	elapsed := time.Since(start)

	if err != nil {
		return result, Status{State: StateCrashed, Reason: err.Error(), Elapsed: elapsed}
	}
	if deadline > 0 && elapsed > deadline {
		return result, Status{State: StateTimeout, Elapsed: elapsed}
	}
	return result, Status{State: StateOK, Elapsed: elapsed}
}

// Protection is the crash state of one component. All methods are lock free
// so the audio thread can use them.
type Protection struct {
	maxTime   atomic.Int64
	status    atomic.Pointer[Status]
	crashes   atomic.Uint32
	lastCrash atomic.Int64
}

var okStatus = &Status{State: StateOK}

// New creates a healthy Protection with the default deadline.
func New() *Protection {
	p := &Protection{}
	p.maxTime.Store(int64(DefaultMaxProcessingTime))
	p.status.Store(okStatus)
	return p
}

// SetMaxProcessingTime changes the deadline used by Run.
func (p *Protection) SetMaxProcessingTime(d time.Duration) {
	p.maxTime.Store(int64(d))
}

// MaxProcessingTime returns the deadline used by Run.
func (p *Protection) MaxProcessingTime() time.Duration {
	return time.Duration(p.maxTime.Load())
}

// Status returns the current status
func (p *Protection) Status() Status {
	return *p.status.Load()
}

// IsHealthy reports whether the status is OK
func (p *Protection) IsHealthy() bool {
	return p.status.Load().State == StateOK
}

// IsCrashed reports whether the component must not be called again
func (p *Protection) IsCrashed() bool {
	return p.status.Load().State == StateCrashed
}

// MarkCrashed records a crash
func (p *Protection) MarkCrashed(reason string) {
	p.status.Store(&Status{State: StateCrashed, Reason: reason})
	p.crashes.Add(1)
	p.lastCrash.Store(time.Now().UnixNano())
}

// MarkTimeout records an overrun. Overruns count as crashes in the history.
func (p *Protection) MarkTimeout(elapsed time.Duration) {
	p.status.Store(&Status{State: StateTimeout, Elapsed: elapsed})
	p.crashes.Add(1)
	p.lastCrash.Store(time.Now().UnixNano())
}

// MarkError records a non-fatal error
func (p *Protection) MarkError(reason string) {
	p.status.Store(&Status{State: StateError, Reason: reason})
}

// Reset returns to OK. Crash count and last crash time are kept.
func (p *Protection) Reset() {
	p.status.Store(okStatus)
}

// CrashCount returns the number of crashes and timeouts seen
func (p *Protection) CrashCount() uint32 {
	return p.crashes.Load()
}

// LastCrashTime returns when the last crash happened, or the zero time.
func (p *Protection) LastCrashTime() time.Time {
	n := p.lastCrash.Load()
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n)
}

// Run calls f under the deadline and records the outcome. The returned
// Status describes this call only. An error from f is classified with
// hosterr: Crashed and IpcError kinds are treated as crashes, anything
// else as a processing error.
func (p *Protection) Run(f func() error) Status {
	err, st := CallWithTimeout(f, p.MaxProcessingTime())

	switch {
	case st.State == StateCrashed:
		p.MarkCrashed(st.Reason)
		return st
	case err != nil && (errors.Is(err, hosterr.Crashed) || errors.Is(err, hosterr.IpcError)):
		st = Status{State: StateCrashed, Reason: err.Error(), Elapsed: st.Elapsed}
		p.MarkCrashed(st.Reason)
		return st
	case err != nil:
		st = Status{State: StateError, Reason: err.Error(), Elapsed: st.Elapsed}
		p.MarkError(st.Reason)
		return st
	case st.State == StateTimeout:
		p.MarkTimeout(st.Elapsed)
		return st
	}
	return st
}
