// Package runnertest provides a recording Executor for tests.
package runnertest

import (
	"context"
	"strings"
	"sync"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// Handler produces the result of a matched command.
type Handler func(c runner.Cmd) (runner.Result, error)

type rule struct {
	prefix  string
	handler Handler
}

// Fake records every command and answers from prefix rules matched against
// the space-joined argv (sudo included). Later rules win. Unmatched commands
// succeed with empty output.
type Fake struct {
	mu    sync.Mutex
	calls []runner.Cmd
	rules []rule
}

// New returns an empty fake.
func New() *Fake {
	return &Fake{}
}

// Handle registers a handler for commands starting with prefix.
func (f *Fake) Handle(prefix string, h Handler) *Fake {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{prefix: prefix, handler: h})
	return f
}

// Output makes matching commands succeed with stdout.
func (f *Fake) Output(prefix, stdout string) *Fake {
	return f.Handle(prefix, func(runner.Cmd) (runner.Result, error) {
		return runner.Result{OK: true, Stdout: stdout}, nil
	})
}

// Fail makes matching commands exit with status 1 and stderr.
func (f *Fake) Fail(prefix, stderr string) *Fake {
	return f.Handle(prefix, func(runner.Cmd) (runner.Result, error) {
		return runner.Result{Code: 1, Stderr: stderr}, nil
	})
}

// Missing makes matching commands fail to start.
func (f *Fake) Missing(prefix string) *Fake {
	return f.Handle(prefix, func(c runner.Cmd) (runner.Result, error) {
		return runner.Result{}, kdterr.Errorf(kdterr.KindToolchain, "failed to run %s: executable file not found", c.Argv()[0])
	})
}

// Run implements runner.Executor.
func (f *Fake) Run(_ context.Context, c runner.Cmd) (runner.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	line := strings.Join(c.Argv(), " ")
	var h Handler
	for i := len(f.rules) - 1; i >= 0; i-- {
		if strings.HasPrefix(line, f.rules[i].prefix) {
			h = f.rules[i].handler
			break
		}
	}
	f.mu.Unlock()

	if h == nil {
		return runner.Result{OK: true}, nil
	}
	return h(c)
}

// Calls returns the recorded commands.
func (f *Fake) Calls() []runner.Cmd {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]runner.Cmd(nil), f.calls...)
}

// Lines returns the recorded commands as space-joined argv strings.
func (f *Fake) Lines() []string {
	var lines []string
	for _, c := range f.Calls() {
		lines = append(lines, strings.Join(c.Argv(), " "))
	}
	return lines
}

// Find returns the first recorded command starting with prefix.
func (f *Fake) Find(prefix string) (runner.Cmd, bool) {
	for _, c := range f.Calls() {
		if strings.HasPrefix(strings.Join(c.Argv(), " "), prefix) {
			return c, true
		}
	}
	return runner.Cmd{}, false
}

// Count returns how many recorded commands start with prefix.
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, line := range f.Lines() {
		if strings.HasPrefix(line, prefix) {
			n++
		}
	}
	return n
}
