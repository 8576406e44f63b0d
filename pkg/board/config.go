package board

import (
	"fmt"
	"os"
	"strings"

	"github.com/mitchellh/mapstructure"

	"github.com/kdt-dev/kdt/pkg/config"
	"github.com/kdt-dev/kdt/pkg/kdterr"
)

// Environment variables read by SelectionFromEnv.
const (
	EnvBoard        = "board"
	EnvArch         = "arch"
	EnvConfigTarget = "config_target"
	EnvConfigFile   = "config_file"
	EnvConfigGz     = "config_gz"
)

// SourceKind is how the kernel gets configured.
type SourceKind int

const (
	// SourceTarget runs a make target such as defconfig.
	SourceTarget SourceKind = iota + 1
	// SourceFile copies a config file and runs olddefconfig.
	SourceFile
	// SourceGz decompresses /proc/config.gz and runs olddefconfig.
	SourceGz
)

func (k SourceKind) String() string {
	switch k {
	case SourceTarget:
		return "config_target"
	case SourceFile:
		return "config_file"
	case SourceGz:
		return "config_gz"
	default:
		return "none"
	}
}

// Sources are the three mutually exclusive configuration sources as written
// in the environment or in a board section.
type Sources struct {
	Target string `mapstructure:"config_target"`
	File   string `mapstructure:"config_file"`
	Gz     string `mapstructure:"config_gz"`
}

func isSet(v string) bool {
	v = strings.TrimSpace(v)
	if v == "" {
		return false
	}
	switch strings.ToLower(v) {
	case "0", "n", "no", "false", "off":
		return false
	}
	return true
}

func (s Sources) any() bool {
	return isSet(s.Target) || isSet(s.File) || isSet(s.Gz)
}

// pick returns the single configured source. Zero or several set sources
// are both errors.
func (s Sources) pick() (SourceKind, error) {
	var set []SourceKind
	if isSet(s.Target) {
		set = append(set, SourceTarget)
	}
	if isSet(s.File) {
		set = append(set, SourceFile)
	}
	if isSet(s.Gz) {
		set = append(set, SourceGz)
	}
	switch len(set) {
	case 0:
		return 0, kdterr.Errorf(kdterr.KindBoard, "no config options are set")
	case 1:
		return set[0], nil
	default:
		names := make([]string, len(set))
		for i, k := range set {
			names[i] = k.String()
		}
		return 0, kdterr.Errorf(kdterr.KindBoard, "more than one kernel config is set: %s", strings.Join(names, ", "))
	}
}

// Selection is what the user picked outside boards_config.
type Selection struct {
	Board     string
	Arch      string
	Overrides Sources
}

// SelectionFromEnv reads the board selection from environment variables.
func SelectionFromEnv(getenv func(string) string) Selection {
	return Selection{
		Board: getenv(EnvBoard),
		Arch:  getenv(EnvArch),
		Overrides: Sources{
			Target: getenv(EnvConfigTarget),
			File:   getenv(EnvConfigFile),
			Gz:     getenv(EnvConfigGz),
		},
	}
}

// fields mirrors the key vocabulary of a board section.
type fields struct {
	KernelTarget string `mapstructure:"kernel_target"`
	KernelFile   string `mapstructure:"kernel_file"`
	PkgFolder    string `mapstructure:"pkg_folder"`
	RamfsFile    string `mapstructure:"ramfs_file"`
	UpdateRamfs  string `mapstructure:"update_ramfs"`
	DtbPath      string `mapstructure:"dtb_path"`
	Vendor       string `mapstructure:"vendor"`
	OverlayPath  string `mapstructure:"overlay_path"`
	On           string `mapstructure:"on"`
	Off          string `mapstructure:"off"`
	CC           string `mapstructure:"cc"`
	CCPath       string `mapstructure:"cc_path"`
	Sources      `mapstructure:",squash"`
}

// Config is the resolved, read-only build configuration of one board/arch.
type Config struct {
	Board string
	Arch  string

	KernelTarget string
	KernelFile   string
	PkgFolder    string
	RamfsFile    string
	UpdateRamfs  string
	DtbPath      string
	Vendor       string
	OverlayPath  string
	On           string
	Off          string
	CC           string
	CCPath       string

	// Source is the selected configuration source. ConfigTarget or
	// ConfigFile hold its argument.
	Source       SourceKind
	ConfigTarget string
	ConfigFile   string

	// Section is the raw board section.
	Section *config.Section
}

// SectionName returns the registry section name, <board>_<arch>.
func (c *Config) SectionName() string {
	return c.Board + "_" + c.Arch
}

// IsX86 reports whether this is an Intel/AMD build.
func (c *Config) IsX86() bool {
	return c.Arch == "x86_64" || c.Arch == "x86"
}

// HasDeviceTrees reports whether the board needs the dtbs target.
func (c *Config) HasDeviceTrees() bool {
	return c.DtbPath != "" || c.Vendor != "" || c.OverlayPath != ""
}

// BuildTargets returns the make targets for a plain build.
func (c *Config) BuildTargets() []string {
	targets := []string{c.KernelTarget, "modules"}
	if c.HasDeviceTrees() {
		targets = append(targets, "dtbs")
	}
	return targets
}

// Resolve validates a selection against the registry and returns the typed
// board configuration.
func (r *Registry) Resolve(sel Selection, home, boardsDir string) (*Config, error) {
	available := r.AvailableBoards()
	if sel.Board == "" {
		names := r.BoardNames()
		if len(names) == 0 {
			return nil, kdterr.Errorf(kdterr.KindBoard, "board not selected and no boards are configured")
		}
		return nil, kdterr.Errorf(kdterr.KindBoard, "board not selected. Please select: %s\nExample: export board=%s",
			strings.Join(names, " or "), names[0])
	}
	arches, ok := available[sel.Board]
	if !ok {
		return nil, kdterr.Errorf(kdterr.KindBoard, "board %s not configured", sel.Board)
	}
	arch, err := selectArch(sel.Board, sel.Arch, arches)
	if err != nil {
		return nil, err
	}
	sec, _ := r.Section(sel.Board, arch)

	expand := func(v string) string {
		v = strings.ReplaceAll(v, "~", home)
		return strings.ReplaceAll(v, "$kdt_boards", boardsDir)
	}
	values := make(map[string]string, sec.Len())
	for k, v := range sec.Map() {
		values[k] = expand(v)
	}
	var f fields
	if err := mapstructure.Decode(values, &f); err != nil {
		return nil, kdterr.Errorf(kdterr.KindConfig, "failed to decode section %s: %w", sec.Name(), err)
	}

	mandatory := map[string]string{"kernel_target": f.KernelTarget, "kernel_file": f.KernelFile}
	if f.RamfsFile != "" {
		mandatory["update_ramfs"] = f.UpdateRamfs
	}
	for _, key := range []string{"kernel_target", "kernel_file", "update_ramfs"} {
		if v, needed := mandatory[key]; needed && v == "" {
			return nil, kdterr.Errorf(kdterr.KindConfig, "missing %q in board configuration section %s", key, sec.Name())
		}
	}

	cfg := &Config{
		Board:        sel.Board,
		Arch:         arch,
		KernelTarget: f.KernelTarget,
		KernelFile:   f.KernelFile,
		PkgFolder:    f.PkgFolder,
		RamfsFile:    f.RamfsFile,
		UpdateRamfs:  f.UpdateRamfs,
		DtbPath:      f.DtbPath,
		Vendor:       f.Vendor,
		OverlayPath:  f.OverlayPath,
		On:           f.On,
		Off:          f.Off,
		CC:           f.CC,
		CCPath:       f.CCPath,
		Section:      sec,
	}

	// Exported overrides win as a group over the board section.
	sources := f.Sources
	if sel.Overrides.any() {
		sources = sel.Overrides
		sources.File = config.ExpandHome(sources.File, home)
	}
	if cfg.Source, err = sources.pick(); err != nil {
		return nil, err
	}
	switch cfg.Source {
	case SourceTarget:
		cfg.ConfigTarget = strings.TrimSpace(sources.Target)
	case SourceFile:
		if _, err := os.Stat(sources.File); err != nil {
			return nil, kdterr.Errorf(kdterr.KindBoard, "file %s doesn't exist", sources.File)
		}
		cfg.ConfigFile = sources.File
	}
	return cfg, nil
}

// String is used in debug logs.
func (c *Config) String() string {
	return fmt.Sprintf("%s (%s, %s)", c.SectionName(), c.KernelTarget, c.Source)
}
