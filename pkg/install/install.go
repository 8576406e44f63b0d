// Package install runs the interactive first-run setup: it writes the
// kernel_builder settings, hooks the git helpers into the shell and links
// the tools into ~/.local/bin.
package install

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"

	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/layout"
	"github.com/kdt-dev/kdt/pkg/runner"
)

// GitFunction routes "git format-patch" to git-fp.
const GitFunction = `
function git {
    if [[ "$1" == "format-patch" && "$@" != *"--help"* ]]; then
        shift 1
        command git fp "$@"
    else
        command git "$@"
    fi
}
`

// PathLine puts the linked tools on the PATH.
const PathLine = "PATH=~/" + layout.LocalBin + ":$PATH"

// Prompter asks questions on a terminal.
type Prompter struct {
	in  *bufio.Reader
	out io.Writer
}

// NewPrompter reads answers from r and writes questions to w.
func NewPrompter(r io.Reader, w io.Writer) *Prompter {
	return &Prompter{in: bufio.NewReader(r), out: w}
}

// Ask prints question and returns the trimmed answer. End of input is an
// empty answer.
func (p *Prompter) Ask(question string) (string, error) {
	fmt.Fprint(p.out, question)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("failed to read answer: %w", err)
	}
	return strings.TrimSpace(line), nil
}

// Confirm asks a yes/no question, no is the default.
func (p *Prompter) Confirm(question string) (bool, error) {
	answer, err := p.Ask(question)
	if err != nil {
		return false, err
	}
	return yes(answer), nil
}

func yes(answer string) bool {
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true
	}
	return false
}

// Installer holds everything the setup touches.
type Installer struct {
	Store  *config.Store
	Exec   runner.Executor
	Prompt *Prompter
	Log    *zap.SugaredLogger
	Out    io.Writer
	// Home is the user's home directory.
	Home string
	// BinDir holds the kdt binaries to link.
	BinDir string
}

// Default returns an installer for the current user on the terminal. The
// binaries are linked from the folder of the running executable.
func Default(e runner.Executor, log *zap.SugaredLogger) (*Installer, error) {
	store, err := config.OpenDefault()
	if err != nil {
		return nil, err
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return nil, fmt.Errorf("failed to find home directory: %w", err)
	}
	exe, err := os.Executable()
	if err != nil {
		return nil, fmt.Errorf("failed to locate the kdt binaries: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return &Installer{
		Store:  store,
		Exec:   e,
		Prompt: NewPrompter(os.Stdin, os.Stdout),
		Log:    log,
		Out:    os.Stdout,
		Home:   home,
		BinDir: filepath.Dir(exe),
	}, nil
}

type setting struct {
	key      string
	question string
	def      string
	isBool   bool
}

func (i *Installer) tilde(path string) string {
	if i.Home != "" && strings.HasPrefix(path, i.Home) {
		return "~" + strings.TrimPrefix(path, i.Home)
	}
	return path
}

// Settings asks for the kernel_builder keys that are missing or empty and
// saves the section.
func (i *Installer) Settings() error {
	sec, ok, err := i.Store.ReadSection(config.SectionBuilder)
	if err != nil {
		return err
	}
	if !ok {
		sec = config.NewSection(config.SectionBuilder)
	}

	boards := filepath.Join(i.Home, "kdt", "boards")
	build := filepath.Join(i.Home, ".kdt_kernel_builds")
	settings := []setting{
		{config.KeyBoards, fmt.Sprintf("Enter the folder where kernel configs will be stored.\nEmpty for default [%s]: ", i.tilde(boards)), boards, false},
		{config.KeyBuild, fmt.Sprintf("Enter kernel build output path. Empty for default [%s]: ", i.tilde(build)), build, false},
		{config.KeyEclipse, "Enable eclipse links? Empty for default [y/N]: ", "no", true},
	}
	for _, s := range settings {
		if sec.Value(s.key) != "" {
			continue
		}
		answer, err := i.Prompt.Ask(s.question)
		if err != nil {
			return err
		}
		if answer == "" {
			answer = s.def
		}
		if s.isBool {
			answer = map[bool]string{true: "yes", false: "no"}[yes(answer)]
		}
		sec.Set(s.key, answer)
	}
	if err := i.Store.WriteSection(sec); err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// Run is the complete interactive setup.
func (i *Installer) Run(ctx context.Context) error {
	if err := i.Settings(); err != nil {
		return err
	}

	formatPatch, err := i.Prompt.Confirm("Enable git format-patch overload? [y/N] ")
	if err != nil {
		return err
	}
	gitDiff, err := i.Prompt.Confirm("Enable git diff using an external viewer? [y/N] ")
	if err != nil {
		return err
	}
	getIP, err := i.Prompt.Confirm("Enable get IP tool? [y/N] ")
	if err != nil {
		return err
	}

	var bashrc []string
	if formatPatch {
		bashrc = append(bashrc, GitFunction)
	}
	bashrc = append(bashrc, "\n"+PathLine+"\n")
	if err := i.appendBashrc(bashrc); err != nil {
		return err
	}
	if formatPatch {
		fmt.Fprintln(i.Out, "Git overload of format-patch enabled.")
	}

	links := []string{"kb"}
	if gitDiff {
		if _, err := runner.Must(ctx, i.Exec, runner.Cmd{
			Args:  []string{"git", "config", "--global", "diff.external", "kdt-diff"},
			Trace: runner.Echo,
		}); err != nil {
			return err
		}
		links = append(links, "kdt-diff")
		fmt.Fprintln(i.Out, "Git diff using an external viewer enabled.")
	}
	if formatPatch {
		links = append(links, "git-fp")
	}
	if getIP {
		if _, err := PromptHosts(i.Store, i.Prompt); err != nil {
			return err
		}
		links = append(links, "gip")
	}
	if err := i.Link(links...); err != nil {
		return err
	}

	fmt.Fprintln(i.Out, "Restart bash or source bashrc to start using kdt tools.")
	return nil
}

// appendBashrc appends the snippets that are not in ~/.bashrc yet.
func (i *Installer) appendBashrc(snippets []string) error {
	path := filepath.Join(i.Home, ".bashrc")
	current, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("failed to read %s: %w", path, err)
	}

	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	for _, s := range snippets {
		if strings.Contains(string(current), strings.TrimSpace(s)) {
			i.Log.Debugw("Already in bashrc", "snippet", strings.TrimSpace(s))
			continue
		}
		if _, err := f.WriteString(s); err != nil {
			return fmt.Errorf("failed to write %s: %w", path, err)
		}
	}
	return nil
}

// Link points ~/.local/bin/<name> at the binaries in BinDir, replacing
// existing links.
func (i *Installer) Link(names ...string) error {
	localBin := filepath.Join(i.Home, layout.LocalBin)
	if err := os.MkdirAll(localBin, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", localBin, err)
	}
	if filepath.Clean(i.BinDir) == localBin {
		return nil
	}

	for _, name := range names {
		target := filepath.Join(i.BinDir, name)
		link := filepath.Join(localBin, name)
		if _, err := os.Stat(target); err != nil {
			i.Log.Warnw("binary not found, link skipped", "binary", target)
			continue
		}
		if err := os.Remove(link); err != nil && !os.IsNotExist(err) {
			return fmt.Errorf("failed to replace %s: %w", link, err)
		}
		if err := os.Symlink(target, link); err != nil {
			return fmt.Errorf("failed to link %s: %w", name, err)
		}
		i.Log.Debugw("Linked", "link", link, "target", target)
	}
	return nil
}
