package config

import (
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/viper"

	"github.com/loykin/auditweb/internal/logger"
)

// EnvPrefix is prepended to every environment override, e.g. AUDITWEB_AUDIT_SCRIPT.
const EnvPrefix = "AUDITWEB"

// Config is the top-level configuration. Every key can come from the config
// file (TOML, YAML or JSON by extension) or from the environment.
type Config struct {
	// BaseDir anchors relative audit paths. Defaults to the config file's
	// directory, or the executable's directory when no file is used.
	BaseDir string        `mapstructure:"base_dir"`
	Server  ServerConfig  `mapstructure:"server"`
	Audit   AuditConfig   `mapstructure:"audit"`
	Log     LogConfig     `mapstructure:"log"`
	Metrics MetricsConfig `mapstructure:"metrics"`
	History HistoryConfig `mapstructure:"history"`

	// File is the config file that was read, empty when none.
	File string `mapstructure:"-"`
}

type ServerConfig struct {
	Listen        string     `mapstructure:"listen"`
	Port          int        `mapstructure:"port"`
	BasePath      string     `mapstructure:"base_path"`
	PIDFile       string     `mapstructure:"pidfile"`
	LogFile       string     `mapstructure:"logfile"`
	TLS           *TLSConfig `mapstructure:"tls"`
	TLSMinVersion string     `mapstructure:"tls_min_version"`
	TLSMaxVersion string     `mapstructure:"tls_max_version"`
}

type TLSConfig struct {
	Enabled      bool        `mapstructure:"enabled"`
	CertFile     string      `mapstructure:"cert_file"`
	KeyFile      string      `mapstructure:"key_file"`
	Dir          string      `mapstructure:"dir"`
	AutoGenerate bool        `mapstructure:"auto_generate"`
	AutoGen      *AutoGenTLS `mapstructure:"auto_gen"`
}

type AutoGenTLS struct {
	CommonName   string   `mapstructure:"common_name"`
	Organization string   `mapstructure:"organization"`
	DNSNames     []string `mapstructure:"dns_names"`
	IPAddresses  []string `mapstructure:"ip_addresses"`
	ValidDays    int      `mapstructure:"valid_days"`
}

type AuditConfig struct {
	Script       string        `mapstructure:"script"`
	ReportDir    string        `mapstructure:"report_dir"`
	ReportPrefix string        `mapstructure:"report_prefix"`
	Timeout      time.Duration `mapstructure:"timeout"`
	Locale       string        `mapstructure:"locale"`
	Env          []string      `mapstructure:"env"`
	EnvFiles     []string      `mapstructure:"env_files"`
}

type LogConfig struct {
	Level      string `mapstructure:"level"`
	Format     string `mapstructure:"format"`
	Color      bool   `mapstructure:"color"`
	File       string `mapstructure:"file"`
	MaxSizeMB  int    `mapstructure:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days"`
	Compress   bool   `mapstructure:"compress"`
}

type MetricsConfig struct {
	Enabled bool   `mapstructure:"enabled"`
	Listen  string `mapstructure:"listen"`
}

type HistoryConfig struct {
	Enabled bool          `mapstructure:"enabled"`
	Sinks   []string      `mapstructure:"sinks"`
	Timeout time.Duration `mapstructure:"timeout"`
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("base_dir", "")

	v.SetDefault("server.listen", "0.0.0.0")
	v.SetDefault("server.port", 5000)
	v.SetDefault("server.base_path", "")
	v.SetDefault("server.pidfile", "")
	v.SetDefault("server.logfile", "")
	v.SetDefault("server.tls_min_version", "")
	v.SetDefault("server.tls_max_version", "")
	v.SetDefault("server.tls.enabled", false)
	v.SetDefault("server.tls.cert_file", "")
	v.SetDefault("server.tls.key_file", "")
	v.SetDefault("server.tls.dir", "")
	v.SetDefault("server.tls.auto_generate", false)

	v.SetDefault("audit.script", "scripts/debian_system_audit.sh")
	v.SetDefault("audit.report_dir", "reports")
	v.SetDefault("audit.report_prefix", "debian_system_audit")
	v.SetDefault("audit.timeout", "0s")
	v.SetDefault("audit.locale", "C.UTF-8")
	v.SetDefault("audit.env", []string{})
	v.SetDefault("audit.env_files", []string{})

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
	v.SetDefault("log.color", false)
	v.SetDefault("log.file", "")
	v.SetDefault("log.max_size_mb", logger.DefaultMaxSizeMB)
	v.SetDefault("log.max_backups", logger.DefaultMaxBackups)
	v.SetDefault("log.max_age_days", logger.DefaultMaxAgeDays)
	v.SetDefault("log.compress", false)

	v.SetDefault("metrics.enabled", false)
	v.SetDefault("metrics.listen", ":9090")

	v.SetDefault("history.enabled", false)
	v.SetDefault("history.sinks", []string{})
	v.SetDefault("history.timeout", "5s")
}

// New returns a viper instance with defaults and environment bindings applied.
// The legacy PORT variable maps to server.port; AUDITWEB_SERVER_PORT wins when both are set.
func New() *viper.Viper {
	v := viper.New()
	setDefaults(v)
	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	_ = v.BindEnv("server.port", EnvPrefix+"_SERVER_PORT", "PORT")
	return v
}

// Load reads path (optional) and the environment into a Config.
func Load(path string) (*Config, error) {
	return LoadWith(New(), path)
}

// LoadWith is Load on a caller-prepared viper, e.g. one with bound CLI flags.
func LoadWith(v *viper.Viper, path string) (*Config, error) {
	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}
	var c Config
	if err := v.Unmarshal(&c); err != nil {
		return nil, fmt.Errorf("decode config: %w", err)
	}
	if path != "" {
		abs, err := filepath.Abs(path)
		if err != nil {
			return nil, err
		}
		c.File = abs
	}
	if c.BaseDir == "" {
		dir, err := defaultBaseDir(c.File)
		if err != nil {
			return nil, err
		}
		c.BaseDir = dir
	}
	return &c, nil
}

func defaultBaseDir(file string) (string, error) {
	if file != "" {
		return filepath.Dir(file), nil
	}
	exe, err := os.Executable()
	if err != nil {
		return "", fmt.Errorf("locate executable: %w", err)
	}
	if resolved, err := filepath.EvalSymlinks(exe); err == nil {
		exe = resolved
	}
	return filepath.Dir(exe), nil
}

// Resolve anchors a relative path at BaseDir.
func (c *Config) Resolve(p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}
	return filepath.Join(c.BaseDir, p)
}

func (c *Config) ScriptPath() string { return c.Resolve(c.Audit.Script) }
func (c *Config) ReportDir() string  { return c.Resolve(c.Audit.ReportDir) }

// ListenAddr is the host:port the HTTP server binds.
func (c *Config) ListenAddr() string {
	return net.JoinHostPort(c.Server.Listen, strconv.Itoa(c.Server.Port))
}

// LoggerConfig converts the [log] section for logger.New.
func (c *Config) LoggerConfig() logger.Config {
	return logger.Config{
		Level:  c.Log.Level,
		Format: c.Log.Format,
		Color:  c.Log.Color,
		File: logger.FileConfig{
			Path:       c.Resolve(c.Log.File),
			MaxSizeMB:  c.Log.MaxSizeMB,
			MaxBackups: c.Log.MaxBackups,
			MaxAgeDays: c.Log.MaxAgeDays,
			Compress:   c.Log.Compress,
		},
	}
}

// AuditEnv merges env_files in order, then the env list overrides last.
// Entries are KEY=VALUE; expansion happens when the script environment is built.
func (c *Config) AuditEnv() ([]string, error) {
	m := make(map[string]string)
	var order []string
	set := func(k, v string) {
		if _, ok := m[k]; !ok {
			order = append(order, k)
		}
		m[k] = v
	}
	for _, p := range c.Audit.EnvFiles {
		pairs, err := loadEnvFile(c.Resolve(p))
		if err != nil {
			return nil, err
		}
		for _, kv := range pairs {
			set(kv[0], kv[1])
		}
	}
	for _, kv := range c.Audit.Env {
		if i := strings.IndexByte(kv, '='); i > 0 {
			set(kv[:i], kv[i+1:])
		}
	}
	out := make([]string, 0, len(order))
	for _, k := range order {
		out = append(out, k+"="+m[k])
	}
	return out, nil
}

// loadEnvFile parses a simple .env file with KEY=VALUE lines (no export, no quotes). Lines starting with # are ignored.
func loadEnvFile(path string) ([][2]string, error) {
	clean := filepath.Clean(path)
	b, err := os.ReadFile(clean)
	if err != nil {
		return nil, err
	}
	var out [][2]string
	for _, line := range strings.Split(string(b), "\n") {
		line = strings.TrimSpace(line)
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		if i := strings.IndexByte(line, '='); i > 0 {
			out = append(out, [2]string{strings.TrimSpace(line[:i]), strings.TrimSpace(line[i+1:])})
		}
	}
	return out, nil
}

// Validate reports every invalid setting at once.
func (c *Config) Validate() error {
	var errs []error
	if c.Server.Port <= 0 || c.Server.Port > 65535 {
		errs = append(errs, fmt.Errorf("server.port %d out of range", c.Server.Port))
	}
	if c.Server.BasePath != "" && !strings.HasPrefix(c.Server.BasePath, "/") {
		errs = append(errs, fmt.Errorf("server.base_path %q must start with /", c.Server.BasePath))
	}
	if t := c.Server.TLS; t != nil && t.Enabled {
		if (t.CertFile == "") != (t.KeyFile == "") {
			errs = append(errs, errors.New("server.tls requires both cert_file and key_file"))
		}
		if t.CertFile == "" && t.Dir == "" {
			errs = append(errs, errors.New("server.tls enabled without cert_file/key_file or dir"))
		}
	}
	if strings.TrimSpace(c.Audit.Script) == "" {
		errs = append(errs, errors.New("audit.script is required"))
	}
	if strings.TrimSpace(c.Audit.ReportDir) == "" {
		errs = append(errs, errors.New("audit.report_dir is required"))
	}
	if c.Audit.Timeout < 0 {
		errs = append(errs, fmt.Errorf("audit.timeout %s is negative", c.Audit.Timeout))
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		errs = append(errs, fmt.Errorf("log.level: %w", err))
	}
	switch strings.ToLower(c.Log.Format) {
	case "", "text", "json":
	default:
		errs = append(errs, fmt.Errorf("log.format %q must be text or json", c.Log.Format))
	}
	if c.Metrics.Enabled && c.Metrics.Listen == "" {
		errs = append(errs, errors.New("metrics.listen is required when metrics are enabled"))
	}
	if c.History.Timeout < 0 {
		errs = append(errs, fmt.Errorf("history.timeout %s is negative", c.History.Timeout))
	}
	if c.History.Enabled && len(c.History.Sinks) == 0 {
		errs = append(errs, errors.New("history.enabled requires at least one sink"))
	}
	return errors.Join(errs...)
}
