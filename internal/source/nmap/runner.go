package nmap

import (
	"bytes"
	"context"
	"fmt"
	"os"
	"os/exec"
	"strings"
)

// DefaultBinaries are tried in order when no binary is configured.
var DefaultBinaries = []string{"/usr/bin/nmap", "/usr/local/bin/nmap"}

// DefaultSudo elevates the SYN scan.
const DefaultSudo = "/usr/bin/sudo"

// Runner scans one target and returns the tool's XML report.
type Runner interface {
	Scan(ctx context.Context, target string) ([]byte, error)
}

// ExecRunner runs the scan tool as a child process.
type ExecRunner struct {
	// Sudo prefixes the command when set.
	Sudo   string
	Binary string
}

// NewExecRunner resolves the binary, falling back to the first existing
// default location.
func NewExecRunner(sudo, binary string) *ExecRunner {
	if binary == "" {
		binary = DefaultBinaries[len(DefaultBinaries)-1]
		for _, candidate := range DefaultBinaries {
			if _, err := os.Stat(candidate); err == nil {
				binary = candidate
				break
			}
		}
	}
	return &ExecRunner{Sudo: sudo, Binary: binary}
}

// Args returns the command line for target: SYN scan, verbose, XML on stdout.
func (r *ExecRunner) Args(target string) []string {
	var args []string
	if r.Sudo != "" {
		args = append(args, r.Sudo)
	}
	return append(args, r.Binary, "-oX", "-", "-v", "-sS", target)
}

// Scan runs the tool and returns its standard output.
func (r *ExecRunner) Scan(ctx context.Context, target string) ([]byte, error) {
	args := r.Args(target)

	var stdout, stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, args[0], args[1:]...) //nolint:gosec // fixed binary, target is a parsed prefix
	cmd.Stdout = &stdout
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		return nil, fmt.Errorf("run %s: %w: %s", args[0], err, strings.TrimSpace(stderr.String()))
	}
	return stdout.Bytes(), nil
}
