//go:build stave

package main

import (
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/yaklabco/stave/pkg/sh"
	"github.com/yaklabco/stave/pkg/st"
)

// Default target when running `stave` with no arguments.
var Default = Build

// Aliases for common targets.
var Aliases = map[string]interface{}{
	"b": Build,
	"t": Test,
	"l": Lint,
	"d": Demo,
	"c": Clean,
}

const (
	binaryName = "scanshare"
	mainPkg    = "./cmd/scanshare"
	binDir     = "bin"
	demoDir    = "bin/demo"
)

// All lints, tests and builds.
func All() error {
	st.Deps(Lint, Test)
	st.Deps(Build)
	return nil
}

// Build compiles the scanshare binary.
func Build() error {
	if err := os.MkdirAll(binDir, 0o755); err != nil {
		return fmt.Errorf("creating bin directory: %w", err)
	}
	return sh.RunV("go", "build", "-ldflags", buildLdflags(), "-o", binaryPath(), mainPkg)
}

// Install copies the binary to GOBIN, GOPATH/bin or /usr/local/bin.
func Install() error {
	st.Deps(Build)

	bin, err := installDir()
	if err != nil {
		return err
	}
	dst := filepath.Join(bin, filepath.Base(binaryPath()))
	if st.Verbose() {
		fmt.Printf("Installing %s to %s\n", binaryPath(), dst)
	}
	return sh.Copy(dst, binaryPath())
}

// Test runs all tests with race detection and coverage.
func Test() error {
	return sh.RunV("go", "test", "-race", "-cover", "./...")
}

// Stress repeats the scheduler and pool tests to shake out ordering bugs.
func Stress() error {
	return sh.RunV("go", "test", "-race", "-count=20",
		"./pkg/scanshare/scheduler/...", "./pkg/scanshare/chunkdisk/...", "./pkg/scanshare/pool/...")
}

// Lint runs golangci-lint.
func Lint() error {
	return sh.RunV("golangci-lint", "run", "./...")
}

// Demo writes chunk files under bin/demo and runs a shared-scan workload
// over them with the live view.
func Demo() error {
	st.Deps(Build)

	cfgPath := filepath.Join(demoDir, "config.yaml")
	if err := os.MkdirAll(demoDir, 0o755); err != nil {
		return err
	}
	cfg := fmt.Sprintf(`disks:
  - {name: disk0, root: %[1]s/disk0}
  - {name: disk1, root: %[1]s/disk1}
history:
  path: %[1]s/history
logging:
  path: %[1]s/scanshare.log
`, demoDir)
	if err := os.WriteFile(cfgPath, []byte(cfg), 0o644); err != nil {
		return err
	}

	bin := binaryPath()
	if err := sh.RunV(bin, "--config", cfgPath, "gen", "--chunks", "24", "--size", "16MiB", "-o", "plain"); err != nil {
		return err
	}
	return sh.RunV(bin, "--config", cfgPath, "run", "--queries", "12", "--chunks-per-query", "8", "--stagger", "200ms", "--tui")
}

// Clean removes build artifacts.
func Clean() error {
	if st.Verbose() {
		fmt.Printf("Removing %s/\n", binDir)
	}
	return sh.Rm(binDir + "/")
}

// Fmt formats all Go code.
func Fmt() error {
	if err := sh.Run("gofmt", "-w", "."); err != nil {
		return fmt.Errorf("running gofmt: %w", err)
	}
	return sh.Run("goimports", "-w", ".")
}

// Tidy runs go mod tidy.
func Tidy() error {
	return sh.RunV("go", "mod", "tidy")
}

func binaryPath() string {
	p := filepath.Join(binDir, binaryName)
	if runtime.GOOS == "windows" {
		p += ".exe"
	}
	return p
}

func installDir() (string, error) {
	gocmd := st.GoCmd()
	bin, err := sh.Output(gocmd, "env", "GOBIN")
	if err != nil {
		return "", fmt.Errorf("determining GOBIN: %w", err)
	}
	if bin != "" {
		return bin, nil
	}
	gopath, err := sh.Output(gocmd, "env", "GOPATH")
	if err != nil {
		return "", fmt.Errorf("determining GOPATH: %w", err)
	}
	if gopath == "" {
		return "/usr/local/bin", nil
	}
	return filepath.Join(gopath, "bin"), nil
}

// buildLdflags returns ldflags for version injection.
func buildLdflags() string {
	version := "dev"
	commit := "unknown"
	date := time.Now().Format(time.RFC3339)

	if v, err := sh.Output("git", "describe", "--tags", "--always"); err == nil && v != "" {
		version = strings.TrimSpace(v)
	}
	if c, err := sh.Output("git", "rev-parse", "--short", "HEAD"); err == nil && c != "" {
		commit = strings.TrimSpace(c)
	}

	pkg := "main"
	return fmt.Sprintf("-X %s.version=%s -X %s.commit=%s -X %s.date=%s",
		pkg, version, pkg, commit, pkg, date)
}
