// Package runner executes the external tools kdt orchestrates. Every
// subprocess of the kdt commands goes through a Runner so that debug mode can
// print the mutating steps instead of executing them.
package runner

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"os/exec"
	"sort"
	"strings"

	"github.com/magefile/mage/sh"
	"go.uber.org/zap"

	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/logging"
)

// Trace controls how a command behaves in debug mode.
type Trace int

const (
	// Silent commands are queries: never printed, always executed.
	Silent Trace = iota
	// Echo commands are printed and executed.
	Echo
	// Plan commands are printed but not executed in debug mode.
	Plan
)

// Output selects where the subprocess output goes.
type Output int

const (
	// Capture collects stdout and stderr into the Result.
	Capture Output = iota
	// Stream attaches the subprocess to the terminal.
	Stream
	// Discard drops the output.
	Discard
)

// Cmd is one subprocess invocation. Args are passed verbatim, there is no
// shell in between.
type Cmd struct {
	Args   []string
	Sudo   bool
	Dir    string
	Env    map[string]string
	Output Output
	Trace  Trace
}

// Result is the outcome of a command that could be started.
type Result struct {
	OK     bool
	Code   int
	Stdout string
	Stderr string
}

// Combined returns stdout and stderr joined by a newline.
func (r Result) Combined() string {
	switch {
	case r.Stdout == "":
		return r.Stderr
	case r.Stderr == "":
		return r.Stdout
	}
	return r.Stdout + "\n" + r.Stderr
}

// Executor runs commands. *Runner is the real one; tests use fakes.
type Executor interface {
	Run(ctx context.Context, c Cmd) (Result, error)
}

// Runner executes commands with os/exec.
type Runner struct {
	// Debug enables print-before-execute.
	Debug bool
	// Out receives debug lines and streamed output.
	Out io.Writer
	Log *zap.SugaredLogger
}

// New returns a runner writing to stdout.
func New(debug bool, log *zap.SugaredLogger) *Runner {
	if log == nil {
		log = logging.Nop()
	}
	return &Runner{Debug: debug, Out: os.Stdout, Log: log}
}

// Argv returns the full argument vector including sudo.
func (c Cmd) Argv() []string {
	if c.Sudo {
		return append([]string{"sudo"}, c.Args...)
	}
	return append([]string(nil), c.Args...)
}

// Run executes c. A command that cannot be started is a toolchain error; a
// non-zero exit status is reported through Result.OK only.
func (r *Runner) Run(ctx context.Context, c Cmd) (Result, error) {
	argv := c.Argv()
	if len(argv) == 0 {
		return Result{}, kdterr.Errorf(kdterr.KindUsage, "empty command")
	}

	if r.Debug && c.Trace != Silent {
		fmt.Fprintln(r.out(), Display(argv))
		if c.Trace == Plan {
			return Result{OK: true}, nil
		}
	}
	r.Log.Debugw("exec", "argv", argv, "dir", c.Dir)

	cmd := exec.CommandContext(ctx, argv[0], argv[1:]...)
	cmd.Dir = c.Dir
	if len(c.Env) > 0 {
		cmd.Env = mergeEnv(os.Environ(), c.Env)
	}

	var stdout, stderr bytes.Buffer
	switch c.Output {
	case Stream:
		cmd.Stdin = os.Stdin
		cmd.Stdout = r.out()
		cmd.Stderr = os.Stderr
	case Capture:
		cmd.Stdout = &stdout
		cmd.Stderr = &stderr
	}

	err := cmd.Run()
	res := Result{
		Stdout: strings.TrimSuffix(stdout.String(), "\n"),
		Stderr: strings.TrimSuffix(stderr.String(), "\n"),
	}
	if err != nil && !sh.CmdRan(err) {
		return res, kdterr.Errorf(kdterr.KindToolchain, "failed to run %s: %w", argv[0], err)
	}
	res.Code = sh.ExitStatus(err)
	res.OK = res.Code == 0
	if !res.OK {
		r.Log.Debugw("command failed", "argv", argv, "code", res.Code)
	}
	return res, nil
}

func (r *Runner) out() io.Writer {
	if r.Out == nil {
		return os.Stdout
	}
	return r.Out
}

// mergeEnv overrides or appends the extra variables in a KEY=VALUE list.
func mergeEnv(base []string, extra map[string]string) []string {
	env := make([]string, 0, len(base)+len(extra))
	for _, kv := range base {
		key := kv
		if i := strings.Index(kv, "="); i >= 0 {
			key = kv[:i]
		}
		if _, ok := extra[key]; ok {
			continue
		}
		env = append(env, kv)
	}
	keys := make([]string, 0, len(extra))
	for k := range extra {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		env = append(env, k+"="+extra[k])
	}
	return env
}

// Must runs c and turns a non-zero exit status into a command error carrying
// the captured output.
func Must(ctx context.Context, e Executor, c Cmd) (Result, error) {
	res, err := e.Run(ctx, c)
	if err != nil {
		return res, err
	}
	if !res.OK {
		msg := res.Combined()
		if msg == "" {
			msg = fmt.Sprintf("exit status %d", res.Code)
		}
		return res, kdterr.Errorf(kdterr.KindCommand, "%s failed: %s", Display(c.Argv()), msg)
	}
	return res, nil
}

// Available checks for an optional tool. Any failure, including a missing
// executable, reports false.
func Available(ctx context.Context, e Executor, argv ...string) bool {
	res, err := e.Run(ctx, Cmd{Args: argv, Output: Discard, Trace: Silent})
	return err == nil && res.OK
}

// Display renders argv for debug output. The ssh transport of rsync and
// arguments with whitespace are quoted; ssh "-o key=value" options are not.
func Display(argv []string) string {
	parts := make([]string, len(argv))
	for i, a := range argv {
		switch {
		case strings.HasPrefix(a, "-e ") && strings.ContainsAny(a[3:], " \t"):
			parts[i] = `-e "` + a[3:] + `"`
		case strings.HasPrefix(a, "-o "):
			parts[i] = a
		case a == "":
			parts[i] = `""`
		case strings.ContainsAny(a, " \t\n"):
			parts[i] = `"` + a + `"`
		default:
			parts[i] = a
		}
	}
	return strings.Join(parts, " ")
}
