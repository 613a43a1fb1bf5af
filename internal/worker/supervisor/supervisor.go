// Package supervisor is the supervised task pool spec.md §9's design notes
// call for: every long-running component (digest worker, each
// consolidation stage, both regulators, the scheduler) registers as a
// Task and runs under a single restart-on-crash lifecycle instead of as a
// bare fire-and-forget goroutine.
//
// Grounded on the teacher's internal/executive start/stop lifecycle
// (Start/Stop, a log line on each transition) generalized from the
// teacher's single Claude-session process into a pool of N named tasks,
// each restarted with backoff if its Run returns unexpectedly, and on the
// teacher's internal/budget/cpuwatcher.go poll-loop shape (reused in
// hostwatch.go for host-level backpressure instead of per-process CPU
// tracking).
package supervisor

import (
	"context"
	"sync"
	"time"

	"github.com/cogloop/core/internal/logging"
)

// Task is one long-running component the supervisor owns. Run should block
// until ctx is cancelled; returning before ctx is done (including via
// panic) is treated as a crash and triggers a backoff-restart.
type Task struct {
	Name string
	Run  func(ctx context.Context)
}

// restartBackoff bounds how quickly a crash-looping task is retried.
const (
	restartBackoffMin = time.Second
	restartBackoffMax = 30 * time.Second
)

// Supervisor runs a fixed set of tasks, restarting any that return early,
// and exposes a snapshot of each task's last-known state for health checks.
type Supervisor struct {
	mu     sync.Mutex
	tasks  []Task
	status map[string]string
}

func New() *Supervisor {
	return &Supervisor{status: make(map[string]string)}
}

// Register adds a task. Call before Run; tasks cannot be added once the
// supervisor is running.
func (s *Supervisor) Register(t Task) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tasks = append(s.tasks, t)
	s.status[t.Name] = "registered"
}

// Run starts every registered task in its own goroutine and blocks until
// ctx is cancelled, restarting any task whose Run returns early with
// exponential backoff.
func (s *Supervisor) Run(ctx context.Context) {
	var wg sync.WaitGroup
	s.mu.Lock()
	tasks := append([]Task(nil), s.tasks...)
	s.mu.Unlock()

	for _, t := range tasks {
		wg.Add(1)
		go func(t Task) {
			defer wg.Done()
			s.superviseOne(ctx, t)
		}(t)
	}
	wg.Wait()
}

func (s *Supervisor) superviseOne(ctx context.Context, t Task) {
	l := logging.For("worker.supervisor")
	backoff := restartBackoffMin
	for {
		select {
		case <-ctx.Done():
			s.setStatus(t.Name, "stopped")
			return
		default:
		}

		s.setStatus(t.Name, "running")
		l.Info().Str("task", t.Name).Msg("starting task")
		start := time.Now()
		runOnce(ctx, t)

		if ctx.Err() != nil {
			s.setStatus(t.Name, "stopped")
			return
		}

		// A task that dies immediately after starting is crash-looping;
		// back off harder. One that ran a while before dying resets the
		// backoff, since it was making progress.
		if time.Since(start) > restartBackoffMax {
			backoff = restartBackoffMin
		}
		s.setStatus(t.Name, "crashed")
		l.Error().Str("task", t.Name).Dur("backoff", backoff).Msg("task exited unexpectedly, restarting")

		select {
		case <-ctx.Done():
			s.setStatus(t.Name, "stopped")
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > restartBackoffMax {
			backoff = restartBackoffMax
		}
	}
}

// runOnce isolates one task invocation so a panicking Run is logged and
// treated as a crash to restart from, rather than taking the whole
// supervisor down.
func runOnce(ctx context.Context, t Task) {
	defer func() {
		if r := recover(); r != nil {
			logging.For("worker.supervisor").Error().
				Str("task", t.Name).Interface("panic", r).Msg("task panicked")
		}
	}()
	t.Run(ctx)
}

func (s *Supervisor) setStatus(name, state string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status[name] = state
}

// Status returns a point-in-time snapshot of every task's state, the
// health channel cmd/cogctl's "serve" subcommand exposes over HTTP.
func (s *Supervisor) Status() map[string]string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make(map[string]string, len(s.status))
	for k, v := range s.status {
		out[k] = v
	}
	return out
}
