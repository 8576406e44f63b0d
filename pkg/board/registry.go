// Package board resolves a board/arch pair from the board registry
// (boards_config) into a typed build configuration.
package board

import (
	"sort"
	"strings"

	"go.uber.org/zap"

	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/logging"
)

// Registry is the parsed board registry. Section names are <board>_<arch>.
type Registry struct {
	sections []*config.Section
	log      *zap.SugaredLogger
}

// Load reads the registry file.
func Load(path string, log *zap.SugaredLogger) (*Registry, error) {
	f, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(f.Sections(), log), nil
}

// New builds a registry from already parsed sections.
func New(sections []*config.Section, log *zap.SugaredLogger) *Registry {
	if log == nil {
		log = logging.Nop()
	}
	return &Registry{sections: sections, log: log}
}

// splitName splits a section name on its first underscore.
func splitName(name string) (board, arch string, ok bool) {
	i := strings.Index(name, "_")
	if i <= 0 || i == len(name)-1 {
		return "", "", false
	}
	return name[:i], name[i+1:], true
}

// AvailableBoards maps each board to its architectures in file order.
func (r *Registry) AvailableBoards() map[string][]string {
	boards := make(map[string][]string)
	for _, sec := range r.sections {
		board, arch, ok := splitName(sec.Name())
		if !ok {
			r.log.Debugf("ignoring section %q: not a <board>_<arch> name", sec.Name())
			continue
		}
		boards[board] = append(boards[board], arch)
	}
	return boards
}

// BoardNames returns the configured boards sorted by name.
func (r *Registry) BoardNames() []string {
	var names []string
	for name := range r.AvailableBoards() {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Section returns the raw section for a board/arch pair.
func (r *Registry) Section(board, arch string) (*config.Section, bool) {
	name := board + "_" + arch
	for _, sec := range r.sections {
		if sec.Name() == name {
			return sec, true
		}
	}
	return nil, false
}

// selectArch applies the user's choice or the default tie-break: a single
// arch wins, otherwise x86_64, x86 and arm64 in that order.
func selectArch(board, requested string, arches []string) (string, error) {
	has := func(a string) bool {
		for _, x := range arches {
			if x == a {
				return true
			}
		}
		return false
	}

	if requested != "" {
		if !has(requested) {
			return "", kdterr.Errorf(kdterr.KindBoard, "arch %q not configured for %s", requested, board)
		}
		return requested, nil
	}
	if len(arches) == 1 {
		return arches[0], nil
	}
	for _, preferred := range []string{"x86_64", "x86", "arm64"} {
		if has(preferred) {
			return preferred, nil
		}
	}
	return "", kdterr.Errorf(kdterr.KindBoard, "arch not selected for %s. Please select: %s\nExample: export arch=%s",
		board, strings.Join(arches, " or "), arches[0])
}
