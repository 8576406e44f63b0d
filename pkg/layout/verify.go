package layout

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/kdt-dev/kdt/pkg/kdterr"
)

// VerificationError describes a missing build artifact.
type VerificationError struct {
	Path    string
	Reason  string
	Details string
}

func (e VerificationError) Error() string {
	return fmt.Sprintf("BUILD CHECK FAIL: %s - %s", e.Path, e.Reason)
}

// VerificationResult is the outcome of VerifyBuild.
type VerificationResult struct {
	Success  bool
	Errors   []VerificationError
	Warnings []string
}

// Artifacts names what a deploy is going to copy.
type Artifacts struct {
	Arch         string
	KernelTarget string
	// Release is the kernel release; the module tree is checked when set.
	Release     string
	DeviceTrees bool
	Overlays    bool
}

// VerifyBuild checks that the build tree holds everything a deploy copies.
func VerifyBuild(p Paths, a Artifacts) *VerificationResult {
	result := &VerificationResult{Success: true}
	missing := func(path, reason string) {
		result.Success = false
		result.Errors = append(result.Errors, VerificationError{
			Path:    path,
			Reason:  reason,
			Details: "Build the kernel first",
		})
	}

	kernel := p.KernelImage(a.Arch, a.KernelTarget)
	if _, err := os.Stat(kernel); err != nil {
		missing(kernel, fmt.Sprintf("kernel image %s not built", a.KernelTarget))
	}

	if a.Release != "" {
		modules := p.Modules(a.Release)
		if info, err := os.Stat(modules); err != nil || !info.IsDir() {
			missing(modules, "modules not installed")
		}
	}

	if a.DeviceTrees {
		dts := p.DtsDir(a.Arch)
		if info, err := os.Stat(dts); err != nil || !info.IsDir() {
			missing(dts, "device trees not built")
		} else if a.Overlays {
			if _, err := os.Stat(dts + "/overlays"); err != nil {
				result.Warnings = append(result.Warnings, fmt.Sprintf("Missing overlays: %s/overlays", dts))
			}
		}
	}
	return result
}

// Err converts a failed result into a command error.
func (r *VerificationResult) Err() error {
	if r.Success {
		return nil
	}
	var paths []string
	for _, e := range r.Errors {
		paths = append(paths, e.Path)
	}
	return kdterr.Errorf(kdterr.KindCommand, "build the kernel first, missing: %s", strings.Join(paths, ", "))
}

// PrintVerificationResult prints the result in the usual marker format.
func PrintVerificationResult(w io.Writer, result *VerificationResult) {
	if result.Success {
		fmt.Fprintln(w, "✅ Build artifacts present")
	} else {
		fmt.Fprintln(w, "❌ Build artifacts missing")
		for _, err := range result.Errors {
			fmt.Fprintf(w, "  ❌ %s\n", err.Path)
			fmt.Fprintf(w, "     Reason: %s\n", err.Reason)
			if err.Details != "" {
				fmt.Fprintf(w, "     Details: %s\n", err.Details)
			}
		}
	}

	for _, warning := range result.Warnings {
		fmt.Fprintf(w, "  ⚠️  %s\n", warning)
	}
}
