/*
 * backend/internal/config/config.go
 *
 * Application configuration: built-in defaults, an optional JSON file in
 * the working directory and environment variable overrides, in that order.
 */

package config

import (
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/microfe-scout/app/backend/internal/limits"
)

// DefaultAppName is the lower-case application name used when the APP_NAME
// environment variable is not set. It drives the config file name
// (<name>.json) and the environment variable prefix (<NAME>_...).
const DefaultAppName = "microfescout"

// AppConfig is the application configuration root.
type AppConfig struct {
	API     APIConfig     `mapstructure:"api" json:"api"`
	Ingress IngressConfig `mapstructure:"ingress" json:"ingress"`
	Limits  LimitsConfig  `mapstructure:"limits" json:"limits"`
	Monitor MonitorConfig `mapstructure:"monitor" json:"monitor"`

	appName string
}

// APIConfig configures the exposed REST API.
type APIConfig struct {
	// Address is the IP address to bind to.
	Address string `mapstructure:"address" json:"address"`
	// Port is the IP port to bind to.
	Port uint16 `mapstructure:"port" json:"port"`
}

// ListenAddr returns the host:port string for the HTTP listener.
func (c APIConfig) ListenAddr() string {
	return net.JoinHostPort(c.Address, strconv.Itoa(int(c.Port)))
}

// IngressConfig configures detection of labeled ingresses and the
// annotation filtering applied to them.
type IngressConfig struct {
	// Labels holds comma separated key=value pairs an ingress must carry.
	Labels string `mapstructure:"labels" json:"labels"`
	// AnnotationPrefix selects the annotations exposed to API clients.
	AnnotationPrefix string `mapstructure:"annotationprefix" json:"annotationprefix"`
	// Namespaces holds a comma separated namespace list. Empty means the
	// ambient client context namespace.
	Namespaces string `mapstructure:"namespaces" json:"namespaces"`
}

// NamespaceList splits the configured namespaces, trimming whitespace.
func (c IngressConfig) NamespaceList() []string {
	if strings.TrimSpace(c.Namespaces) == "" {
		return nil
	}
	parts := strings.Split(c.Namespaces, ",")
	out := make([]string, 0, len(parts))
	for _, part := range parts {
		if trimmed := strings.TrimSpace(part); trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}

// LimitsConfig carries the detected or overridden resource limits.
type LimitsConfig struct {
	// CPUs is the number of cores assigned to the app.
	CPUs float64 `mapstructure:"cpus" json:"cpus"`
	// Memory is the number of bytes assigned to the app; 0 when unknown.
	Memory uint64 `mapstructure:"memory" json:"memory,omitempty"`
}

// Parallelism returns the supported level of parallelism, at least 1.
func (c LimitsConfig) Parallelism() int {
	if c.CPUs < 1 {
		return 1
	}
	return int(c.CPUs)
}

// MonitorConfig configures the watcher hierarchy.
type MonitorConfig struct {
	// SweepInterval is the cadence of the pod owner reconciliation pass.
	SweepInterval time.Duration `mapstructure:"sweepinterval" json:"sweepinterval"`
}

// AppName returns the lower-case application name, honouring an APP_NAME
// environment override.
func AppName() string {
	if name := os.Getenv("APP_NAME"); name != "" {
		return strings.ToLower(name)
	}
	return DefaultAppName
}

// FilePath returns the location of the optional configuration file for the
// given application name.
func FilePath(appName string) string {
	dir, err := os.Getwd()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, appName+".json")
}

// Load builds the configuration from defaults, the optional config file and
// environment overrides.
func Load() (*AppConfig, error) {
	appName := AppName()
	detected := limits.Detect()

	v := viper.New()
	v.SetDefault("api.address", "0.0.0.0")
	v.SetDefault("api.port", 8083)
	v.SetDefault("ingress.labels", "microfe=true")
	v.SetDefault("ingress.annotationprefix", "microfe/")
	v.SetDefault("ingress.namespaces", "")
	v.SetDefault("limits.cpus", detected.CPUs)
	if detected.MemoryBytes > 0 {
		v.SetDefault("limits.memory", detected.MemoryBytes)
	}
	v.SetDefault("monitor.sweepinterval", "60s")

	v.SetConfigFile(FilePath(appName))
	v.SetConfigType("json")
	if err := v.ReadInConfig(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("reading %s: %w", FilePath(appName), err)
		}
	}

	v.SetEnvPrefix(strings.ToUpper(appName))
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg := &AppConfig{appName: appName}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, fmt.Errorf("parsing configuration: %w", err)
	}
	return cfg, nil
}

// AppNameLowercase returns the application name this configuration was
// loaded for.
func (c *AppConfig) AppNameLowercase() string {
	return c.appName
}
