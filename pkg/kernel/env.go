package kernel

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/kdt-dev/kdt/pkg/board"
	"github.com/kdt-dev/kdt/pkg/kdterr"
	"github.com/kdt-dev/kdt/pkg/layout"
)

// Output formats of env and section.
const (
	FormatText = "text"
	FormatJSON = "json"
	FormatYAML = "yaml"
)

// Environment is the build setup of the selected board.
type Environment struct {
	Board        string `json:"board" yaml:"board"`
	Arch         string `json:"arch" yaml:"arch"`
	CrossCompile string `json:"cross_compile,omitempty" yaml:"cross_compile,omitempty"`
	BuildPath    string `json:"build_path" yaml:"build_path"`
	ConfigSource string `json:"config_source" yaml:"config_source"`
	Config       string `json:"config" yaml:"config"`
	PkgSource    string `json:"pkg_source,omitempty" yaml:"pkg_source,omitempty"`
	PkgBuild     string `json:"pkg_build,omitempty" yaml:"pkg_build,omitempty"`
	Path         string `json:"path,omitempty" yaml:"path,omitempty"`
}

// Environment describes the build setup. home is replaced by ~ in the PATH
// entry.
func (b *Builder) Environment(home string) Environment {
	env := Environment{
		Board:        b.board.Board,
		Arch:         b.board.Arch,
		CrossCompile: b.crossCompile(),
		BuildPath:    b.paths.KernelBuild,
		ConfigSource: b.board.Source.String(),
	}
	switch b.board.Source {
	case board.SourceTarget:
		env.Config = b.board.ConfigTarget
	case board.SourceFile:
		env.Config = b.board.ConfigFile
	case board.SourceGz:
		env.Config = layout.ProcConfigGz
	}
	if b.board.PkgFolder != "" {
		env.PkgSource = b.board.PkgFolder
		env.PkgBuild = b.paths.Package
	}
	if !b.board.IsX86() {
		p := b.path
		if p == "" {
			p = os.Getenv("PATH")
		}
		entries := strings.Split(p, ":")
		if len(entries) > 2 {
			entries = entries[:2]
		}
		p = strings.Join(entries, ":")
		if home != "" {
			p = strings.ReplaceAll(p, home, "~")
		}
		env.Path = p + ":$PATH"
	}
	return env
}

// Format checks an output format name. Empty means text.
func Format(name string) (string, error) {
	switch strings.ToLower(name) {
	case "", FormatText:
		return FormatText, nil
	case FormatJSON:
		return FormatJSON, nil
	case FormatYAML, "yml":
		return FormatYAML, nil
	}
	return "", kdterr.Errorf(kdterr.KindUsage, "unknown output format %q, use text, json or yaml", name)
}

func encode(w io.Writer, format string, v interface{}) error {
	switch format {
	case FormatJSON:
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(v)
	case FormatYAML:
		enc := yaml.NewEncoder(w)
		enc.SetIndent(2)
		if err := enc.Encode(v); err != nil {
			return err
		}
		return enc.Close()
	}
	return fmt.Errorf("unsupported format %q", format)
}

// WriteEnvironment prints the environment as aligned text or encoded.
func (b *Builder) WriteEnvironment(w io.Writer, format, home string) error {
	env := b.Environment(home)
	if format != FormatText {
		return encode(w, format, env)
	}

	line := func(label, value string) {
		fmt.Fprintf(w, "%-18s %s\n", label, value)
	}
	line("Board:", env.Board)
	line("ARCH:", env.Arch)
	if env.CrossCompile != "" {
		line("CROSS_COMPILE:", env.CrossCompile)
	}
	line("Build Path:", env.BuildPath)
	if b.board.Source == board.SourceTarget {
		line("Config Target:", env.Config)
	} else {
		line("Config File:", env.Config)
	}
	if env.PkgSource != "" {
		line("Source PKGBUILD:", env.PkgSource)
		line("Build PKGBUILD:", env.PkgBuild)
	}
	if env.Path != "" {
		line("PATH:", env.Path)
	}
	return nil
}

// WriteSection prints the raw board section in file order.
func (b *Builder) WriteSection(w io.Writer, format string) error {
	sec := b.board.Section
	if sec == nil {
		return fmt.Errorf("no section loaded for %s", b.board.SectionName())
	}
	if format != FormatText {
		node := &yaml.Node{Kind: yaml.MappingNode}
		ordered := make([]string, 0, sec.Len())
		for _, key := range sec.Keys() {
			node.Content = append(node.Content,
				&yaml.Node{Kind: yaml.ScalarNode, Value: key},
				&yaml.Node{Kind: yaml.ScalarNode, Value: sec.Value(key)})
			ordered = append(ordered, key)
		}
		if format == FormatYAML {
			return encode(w, format, node)
		}
		return writeOrderedJSON(w, ordered, sec.Map())
	}
	for _, key := range sec.Keys() {
		fmt.Fprintf(w, "%-15s = %s\n", key, sec.Value(key))
	}
	return nil
}

// writeOrderedJSON writes a flat string object keeping key order.
func writeOrderedJSON(w io.Writer, keys []string, values map[string]string) error {
	var sb strings.Builder
	sb.WriteString("{\n")
	for i, k := range keys {
		kb, err := json.Marshal(k)
		if err != nil {
			return err
		}
		vb, err := json.Marshal(values[k])
		if err != nil {
			return err
		}
		sb.WriteString("  " + string(kb) + ": " + string(vb))
		if i < len(keys)-1 {
			sb.WriteString(",")
		}
		sb.WriteString("\n")
	}
	sb.WriteString("}\n")
	_, err := io.WriteString(w, sb.String())
	return err
}
