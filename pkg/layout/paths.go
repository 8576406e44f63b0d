package layout

import (
	"os"
	"path/filepath"
)

// Paths is the build tree of one board under the global build root. It is
// computed per invocation and never persisted.
type Paths struct {
	Root           string
	KernelBuild    string
	Package        string
	InstallModules string
	EclipseInclude string
}

// ForBoard returns the tree <root>/<board>/{kernel,package,install_modules}
// and the shared <root>/eclipse_include.
func ForBoard(root, board string) Paths {
	boardDir := filepath.Join(root, board)
	return Paths{
		Root:           root,
		KernelBuild:    filepath.Join(boardDir, "kernel"),
		Package:        filepath.Join(boardDir, "package"),
		InstallModules: filepath.Join(boardDir, "install_modules"),
		EclipseInclude: filepath.Join(root, "eclipse_include"),
	}
}

// Ensure creates the per-board directories.
func (p Paths) Ensure() error {
	for _, dir := range []string{p.KernelBuild, p.Package, p.InstallModules} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return err
		}
	}
	return nil
}

// Config is the .config of the build tree.
func (p Paths) Config() string {
	return filepath.Join(p.KernelBuild, DotConfig)
}

// Configured reports whether the kernel has been configured.
func (p Paths) Configured() bool {
	_, err := os.Stat(filepath.Join(p.KernelBuild, AutoConf))
	return err == nil
}

// BootDir is arch/<arch>/boot in the build tree.
func (p Paths) BootDir(arch string) string {
	return filepath.Join(p.KernelBuild, "arch", arch, "boot")
}

// KernelImage is the built kernel for a make target.
func (p Paths) KernelImage(arch, target string) string {
	return filepath.Join(p.BootDir(arch), target)
}

// DtsDir holds the compiled device trees.
func (p Paths) DtsDir(arch string) string {
	return filepath.Join(p.BootDir(arch), "dts")
}

// Modules is the installed module tree of a kernel release.
func (p Paths) Modules(release string) string {
	return filepath.Join(p.InstallModules, "lib", "modules", release)
}

// ArchInclude is the include directory of an arch, relative to the tree.
// x86_64 shares the x86 headers.
func ArchInclude(arch string) string {
	if arch == "x86_64" {
		arch = "x86"
	}
	return filepath.Join("arch", arch, "include")
}
