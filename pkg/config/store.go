// Package config reads and writes the INI files used by the kdt tools: the
// per-user settings file (~/.kdt) and the project board registry.
package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"gopkg.in/ini.v1"

	"github.com/kdt-dev/kdt/pkg/kdterr"
)

// EnvPath overrides the location of the settings file.
const EnvPath = "KDT_CONFIG"

// Well known sections of the settings file.
const (
	SectionBuilder = "kernel_builder"
	SectionGetIP   = "get_ip"
	SectionGitDiff = "git_diff"
)

// Keys of the kernel_builder section.
const (
	KeyBoards  = "kdt_boards"
	KeyBuild   = "kdt_build"
	KeyEclipse = "kdt_eclipse"
)

// ErrNotInstalled is returned when the kernel_builder section is missing,
// i.e. the install flow never ran.
var ErrNotInstalled = errors.New("kdt is not installed yet")

// Values are shell snippets, so '#' and ';' must reach the caller untouched.
var loadOptions = ini.LoadOptions{
	InsensitiveKeys:     true,
	IgnoreInlineComment: true,
}

// DefaultPath returns $KDT_CONFIG or ~/.kdt.
func DefaultPath() (string, error) {
	if p := os.Getenv(EnvPath); p != "" {
		return p, nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to find home directory: %w", err)
	}
	return filepath.Join(home, ".kdt"), nil
}

// File is a parsed INI file.
type File struct {
	Path     string
	sections []*Section
	index    map[string]*Section
}

// Load parses an INI file. A malformed file is a fatal config error.
func Load(path string) (*File, error) {
	cfg, err := ini.LoadSources(loadOptions, path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, kdterr.Errorf(kdterr.KindConfig, "configuration file %s does not exist", path)
		}
		return nil, kdterr.Errorf(kdterr.KindConfig, "failed to parse %s: %w", path, err)
	}

	// Keys of the DEFAULT section are inherited by every other section.
	defaults := cfg.Section(ini.DefaultSection).Keys()

	f := &File{Path: path, index: make(map[string]*Section)}
	for _, sec := range cfg.Sections() {
		if sec.Name() == ini.DefaultSection {
			continue
		}
		s := NewSection(sec.Name())
		for _, key := range sec.Keys() {
			s.Set(key.Name(), key.Value())
		}
		for _, key := range defaults {
			if _, ok := s.Get(key.Name()); !ok {
				s.Set(key.Name(), key.Value())
			}
		}
		f.sections = append(f.sections, s)
		f.index[s.Name()] = s
	}
	return f, nil
}

// Sections returns the sections in file order.
func (f *File) Sections() []*Section {
	return append([]*Section(nil), f.sections...)
}

// Section returns a named section.
func (f *File) Section(name string) (*Section, bool) {
	s, ok := f.index[name]
	return s, ok
}

// Store is the per-user settings file.
type Store struct {
	Path string
}

// Open returns a store backed by path. The file does not need to exist.
func Open(path string) *Store {
	return &Store{Path: path}
}

// OpenDefault opens the store at DefaultPath.
func OpenDefault() (*Store, error) {
	path, err := DefaultPath()
	if err != nil {
		return nil, err
	}
	return Open(path), nil
}

// Exists reports whether the settings file is present.
func (s *Store) Exists() bool {
	_, err := os.Stat(s.Path)
	return err == nil
}

// ReadSection returns the named section. A missing file or section is not
// an error: found is false.
func (s *Store) ReadSection(name string) (*Section, bool, error) {
	if !s.Exists() {
		return nil, false, nil
	}
	f, err := Load(s.Path)
	if err != nil {
		return nil, false, err
	}
	sec, ok := f.Section(name)
	return sec, ok, nil
}

// WriteSection replaces the section with the same name, keeping every other
// section, and creates the file when needed. The file is replaced atomically.
func (s *Store) WriteSection(section *Section) error {
	cfg := ini.Empty(loadOptions)
	if s.Exists() {
		var err error
		cfg, err = ini.LoadSources(loadOptions, s.Path)
		if err != nil {
			return kdterr.Errorf(kdterr.KindConfig, "failed to parse %s: %w", s.Path, err)
		}
	}

	cfg.DeleteSection(section.Name())
	sec, err := cfg.NewSection(section.Name())
	if err != nil {
		return fmt.Errorf("failed to create section %s: %w", section.Name(), err)
	}
	for _, key := range section.Keys() {
		if _, err := sec.NewKey(key, section.Value(key)); err != nil {
			return fmt.Errorf("failed to set %s.%s: %w", section.Name(), key, err)
		}
	}

	dir := filepath.Dir(s.Path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create %s: %w", dir, err)
	}
	tmp, err := os.CreateTemp(dir, ".kdt-*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create temp file: %w", err)
	}
	defer os.Remove(tmp.Name())

	if _, err := cfg.WriteTo(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to write %s: %w", s.Path, err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write %s: %w", s.Path, err)
	}
	if err := os.Chmod(tmp.Name(), 0644); err != nil {
		return fmt.Errorf("failed to set permissions: %w", err)
	}
	if err := os.Rename(tmp.Name(), s.Path); err != nil {
		return fmt.Errorf("failed to save %s: %w", s.Path, err)
	}
	return nil
}

// Settings is the kernel_builder section.
type Settings struct {
	// Boards is the folder holding boards_config and the kernel configs.
	Boards string
	// Build is the root of all kernel build output.
	Build string
	// Eclipse enables the include links used by Eclipse indexing.
	Eclipse bool
}

// BoardsFile is the board registry inside the boards folder.
func (s *Settings) BoardsFile() string {
	return filepath.Join(s.Boards, "boards_config")
}

// Builder reads the kernel_builder section. ErrNotInstalled is returned when
// the section does not exist.
func (s *Store) Builder() (*Settings, error) {
	sec, ok, err := s.ReadSection(SectionBuilder)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, ErrNotInstalled
	}

	home, _ := os.UserHomeDir()
	settings := &Settings{}
	for key, dst := range map[string]*string{KeyBoards: &settings.Boards, KeyBuild: &settings.Build} {
		v, ok := sec.Get(key)
		if !ok {
			return nil, kdterr.Errorf(kdterr.KindConfig, "configuration file missing %q", key)
		}
		*dst = ExpandHome(v, home)
	}
	settings.Eclipse = Truthy(sec.Value(KeyEclipse))
	return settings, nil
}
