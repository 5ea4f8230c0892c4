//go:build mage
// +build mage

package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/magefile/mage/mg"
	"github.com/magefile/mage/sh"

	"github.com/microfe-scout/app/mage"
)

var cfg = mage.NewBuildConfig()

// ===============================
// Debugging Stuff
// ===============================

// Displays the current build configuration
func ShowConfig() {
	mage.PrettyPrint(cfg)
}

// ===============================
// Mage Aliases
// ===============================

var Aliases = map[string]interface{}{
	"clean":           Clean.Build,
	"clean-all":       Clean.All,
	"clean-build":     Clean.Build,
	"clean-go-cache":  Clean.GoCache,
	"deps":            Deps.Go,
	"go-update-check": QC.GoUpdateCheck,
	"go-update-fix":   QC.GoUpdateFix,
	"test":            Test.Unit,
	"test-cov":        Test.Coverage,
	"test-race":       Test.Race,
	"vet":             QC.Vet,
}

// ===============================
// Dependency Management Tasks
// ===============================

type Deps mg.Namespace

// Installs Go dependencies
func (Deps) Go() error {
	fmt.Println("Installing go dependencies...")
	return sh.RunV("go", "mod", "tidy")
}

// ===============================
// Cleanup Tasks
// ===============================

type Clean mg.Namespace

// Cleans build artifacts
func (Clean) Build() error {
	fmt.Println("\n🧹 Cleaning build directory...")
	os.RemoveAll(cfg.BuildDir)
	return nil
}

// Cleans the Go cache
func (Clean) GoCache() error {
	goCacheDir, _ := exec.Command("go", "env", "GOCACHE").Output()
	fmt.Println("\n🧹 Cleaning Go cache...")
	os.RemoveAll(string(goCacheDir))
	return nil
}

// Cleans all build artifacts and caches
func (Clean) All() {
	mg.SerialDeps(Clean.Build, Clean.GoCache)
}

// ===============================
// Build Tasks
// ===============================

// Builds the service binary
func Build() error {
	fmt.Printf("\n🔨 Building %s %s (%s/%s)...\n", cfg.AppName, cfg.Version, cfg.OsType, cfg.ArchType)
	return sh.RunV("go", cfg.BuildArgs...)
}

// Runs the service against the ambient kubeconfig
func Run() error {
	mg.Deps(Build)
	return sh.RunV(cfg.BuildDir + "/" + cfg.AppName)
}

// ===============================
// Quality Checks
// ===============================

type QC mg.Namespace

// Runs go vet and staticcheck
func (QC) Vet() error {
	fmt.Println("\n🔎 Running go vet...")
	if err := sh.RunV("go", "vet", "./..."); err != nil {
		return err
	}
	fmt.Println("\n🔎 Running staticcheck...")
	return sh.RunV("staticcheck", "./...")
}

// Check for outdated Go modules
func (QC) GoUpdateCheck() error {
	fmt.Println("\n🔎 Checking for outdated Go modules...")
	return sh.RunV("sh", "-c", `go list -u -m all | grep '\['`)
}

// Update outdated Go modules
func (QC) GoUpdateFix() error {
	fmt.Println("\n🔄 Updating outdated Go modules...")
	return sh.RunV("go", "get", "-u", "./...")
}

// ===============================
// Test Tasks
// ===============================

type Test mg.Namespace

// Runs the Go test suite
func (Test) Unit() error {
	fmt.Println("\n🧪 Running tests...")
	return sh.RunV("go", "test", "./...")
}

// Runs the Go test suite with the race detector
func (Test) Race() error {
	fmt.Println("\n🧪 Running tests with the race detector...")
	return sh.RunV("go", "test", "-race", "./...")
}

// Runs the Go test suite with coverage reporting
func (Test) Coverage() error {
	fmt.Println("\n🧪 Running tests with coverage...")
	if err := os.MkdirAll(cfg.BuildDir, 0o755); err != nil {
		return err
	}
	profile := cfg.BuildDir + "/coverage.out"
	if err := sh.RunV("go", "test", "-coverprofile", profile, "./..."); err != nil {
		return err
	}
	return sh.RunV("go", "tool", "cover", "-func", profile)
}
