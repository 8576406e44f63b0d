// Package logging sets up the diagnostic logger and the colored progress
// lines shared by the kdt commands.
package logging

import (
	"fmt"
	"io"

	"github.com/fatih/color"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New returns a console logger writing to stderr. Only warnings and errors
// are shown unless verbose is set.
func New(verbose bool) *zap.SugaredLogger {
	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(zapcore.WarnLevel)
	if verbose {
		cfg.Level.SetLevel(zapcore.DebugLevel)
	}
	cfg.DisableCaller = true
	cfg.DisableStacktrace = true
	cfg.EncoderConfig.TimeKey = ""
	cfg.OutputPaths = []string{"stderr"}
	cfg.ErrorOutputPaths = []string{"stderr"}

	logger, err := cfg.Build()
	if err != nil {
		return zap.NewNop().Sugar()
	}
	return logger.Sugar()
}

// Nop returns a logger that discards everything. Used by tests and library
// callers that do not care about diagnostics.
func Nop() *zap.SugaredLogger {
	return zap.NewNop().Sugar()
}

var (
	blue    = color.New(color.FgBlue)
	magenta = color.New(color.FgMagenta)
	cyan    = color.New(color.FgCyan)
	red     = color.New(color.FgRed)
	green   = color.New(color.FgGreen)
)

// Printer writes the "# Step" progress lines.
type Printer struct {
	Out io.Writer
}

// Step prints a blue header, e.g. "# Building the kernel".
func (p Printer) Step(format string, args ...interface{}) {
	blue.Fprintln(p.Out, fmt.Sprintf(format, args...))
}

// StepDetail prints a blue header followed by a highlighted detail.
func (p Printer) StepDetail(header, detail string) {
	fmt.Fprintln(p.Out, blue.Sprint(header)+" "+cyan.Sprint(detail))
}

// Version prints the kernel release line.
func (p Printer) Version(version string) {
	fmt.Fprintln(p.Out, blue.Sprint("# Kernel Version:")+" "+magenta.Sprint(version))
}

// Section prints a magenta sub-header.
func (p Printer) Section(text string) {
	magenta.Fprintln(p.Out, text)
}

// Good prints a green "✅ Good" line followed by the subject.
func (p Printer) Good(subject string) {
	fmt.Fprintln(p.Out, green.Sprint("✅ Good ")+blue.Sprint(subject))
}

// Bad prints a red "❌ Bad" line followed by the subject.
func (p Printer) Bad(subject string) {
	fmt.Fprintln(p.Out, red.Sprint("❌ Bad ")+blue.Sprint(subject))
}

// Fail prints a red line.
func (p Printer) Fail(format string, args ...interface{}) {
	red.Fprintln(p.Out, fmt.Sprintf(format, args...))
}
