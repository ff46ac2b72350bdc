// Package shelltest provides a scriptable shell.Executor for tests.
package shelltest

import (
	"context"
	"strings"
	"sync"

	"github.com/tira-io/tirad/internal/shell"
)

// Handler answers one command. Returning a nil error with a nonzero exit
// code lets Fake apply the command's FailOnExit semantics.
type Handler func(c shell.Command) (shell.Result, error)

type rule struct {
	prefix  string
	handler Handler
}

// Fake records every command and answers by longest matching prefix of the
// rendered command line. Unmatched commands succeed with empty output.
type Fake struct {
	mu    sync.Mutex
	rules []rule
	calls []shell.Command
}

// On registers a handler for commands whose rendered form starts with prefix.
func (f *Fake) On(prefix string, h Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rules = append(f.rules, rule{prefix: prefix, handler: h})
}

// Stdout registers a fixed stdout answer for prefix.
func (f *Fake) Stdout(prefix, stdout string) {
	f.On(prefix, func(shell.Command) (shell.Result, error) {
		return shell.Result{Stdout: stdout}, nil
	})
}

// Fail registers a nonzero exit with the given stderr for prefix.
func (f *Fake) Fail(prefix, stderr string) {
	f.On(prefix, func(shell.Command) (shell.Result, error) {
		return shell.Result{Stderr: stderr, ExitCode: 1}, nil
	})
}

// Exec implements shell.Executor.
func (f *Fake) Exec(_ context.Context, c shell.Command) (shell.Result, error) {
	f.mu.Lock()
	f.calls = append(f.calls, c)
	line := c.String()
	var best *rule
	for i := range f.rules {
		r := &f.rules[i]
		if strings.HasPrefix(line, r.prefix) && (best == nil || len(r.prefix) > len(best.prefix)) {
			best = r
		}
	}
	f.mu.Unlock()

	if best == nil {
		return shell.Result{}, nil
	}
	res, err := best.handler(c)
	if err != nil {
		return res, err
	}
	if c.FailOnExit && res.ExitCode != 0 {
		return res, &shell.ToolError{Command: line, ExitCode: res.ExitCode, Stdout: res.Stdout, Stderr: res.Stderr}
	}
	return res, nil
}

// Calls returns the rendered command lines executed so far.
func (f *Fake) Calls() []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]string, len(f.calls))
	for i, c := range f.calls {
		out[i] = c.String()
	}
	return out
}

// Count returns how many executed commands start with prefix.
func (f *Fake) Count(prefix string) int {
	n := 0
	for _, c := range f.Calls() {
		if strings.HasPrefix(c, prefix) {
			n++
		}
	}
	return n
}
