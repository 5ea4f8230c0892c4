package mage

import (
	"runtime"
	"time"
)

type BuildConfig struct {
	AppName     string   // Name of the application and produced binary
	ArchType    string   // Architecture type (e.g., amd64, arm64)
	BuildArgs   []string // Arguments for the build command
	BuildDir    string   // Directory to place build outputs
	BuildTime   string   // Build time in RFC3339 format
	Commit      string   // Git commit hash
	OsType      string   // Operating system type (e.g., linux, windows)
	PackagePath string   // Go module package path
	Version     string   // Version of the app build
}

func NewBuildConfig() BuildConfig {
	appName := "microfescout"
	now := time.Now().UTC()

	cfg := BuildConfig{
		AppName:     appName,
		ArchType:    runtime.GOARCH,
		BuildDir:    "build",
		BuildTime:   now.Format(time.RFC3339),
		Commit:      gitRevParse(),
		OsType:      runtime.GOOS,
		PackagePath: "github.com/microfe-scout/app",
		Version:     gitVersion(),
	}
	cfg.BuildArgs = []string{
		"build",
		"-trimpath",
		"-ldflags", cfg.ldflags(),
		"-o", cfg.BuildDir + "/" + appName,
		".",
	}
	return cfg
}

func (cfg BuildConfig) ldflags() string {
	return "-s -w" +
		" -X main.buildVersion=" + cfg.Version +
		" -X main.buildCommit=" + cfg.Commit +
		" -X main.buildTime=" + cfg.BuildTime
}
