// Package layout defines where kdt reads and writes files: the per-board
// build tree, the host files it rewrites and the artifacts a deploy needs.
package layout

// Host paths used by the tools.
const (
	// ProcConfigGz is the running kernel's configuration.
	ProcConfigGz = "/proc/config.gz"

	// HostsFile is rewritten by gip.
	HostsFile = "/etc/hosts"

	// HostsMarker tags the /etc/hosts lines owned by gip. Lines carrying
	// it are replaced on every scan.
	HostsMarker = "#gip added"

	// BoardsFileName is the board registry inside kdt_boards.
	BoardsFileName = "boards_config"

	// PackageGlob matches the archives produced by makepkg.
	PackageGlob = "*.pkg.tar.zst"

	// LocalBin is where kdt-install links the binaries, relative to home.
	LocalBin = ".local/bin"

	// DatabaseName is the sighting history file, relative to home.
	DatabaseName = ".kdt.db"

	// EnvDatabase overrides the sighting history location.
	EnvDatabase = "KDT_DB"

	// EnvOutput selects json or yaml output for the printing commands.
	EnvOutput = "KDT_OUTPUT"
)

// Kernel tree paths, relative to the build directory.
const (
	// AutoConf exists once the kernel has been configured.
	AutoConf = "include/config/auto.conf"

	// DotConfig is the kernel configuration.
	DotConfig = ".config"

	// GeneratedUAPI exists after modules_prepare.
	GeneratedUAPI = "include/generated/uapi"
)

// Tools installed by kdt-install.
var Binaries = []string{"kb", "gip", "git-fp", "kdt-diff"}
