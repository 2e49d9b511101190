// Package config handles YAML job configuration for discovery.
package config

import (
	"errors"
	"fmt"
	"net/netip"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// ErrInvalid wraps every validation failure.
var ErrInvalid = errors.New("invalid config")

// MinScanPrefix is the widest datacenter range accepted for scanning.
const MinScanPrefix = 16

// Environment variables consulted for fields the file leaves empty.
const (
	EnvReportDir       = "REPORT_DIR"
	EnvQualysBasicAuth = "QUALYS_CREDS_BASIC_AUTH"
	envGooglePrefix    = "GOOGLE_API_"
	envOpenStackPrefix = "OPENSTACK_"
)

// Config is the root configuration structure.
type Config struct {
	StorageDir  string          `yaml:"storage_dir"`
	API         APIConfig       `yaml:"api"`
	AWS         AWSConfig       `yaml:"aws"`
	Qualys      QualysConfig    `yaml:"qualys"`
	Datacenters []Datacenter    `yaml:"datacenters"`
	Nmap        NmapConfig      `yaml:"nmap"`
	Clusters    []Cluster       `yaml:"clusters"`
	OpenStack   OpenStackConfig `yaml:"openstack"`
	Sheets      SheetsConfig    `yaml:"sheets"`
	OTEL        OTELConfig      `yaml:"otel"`
	Log         LogConfig       `yaml:"log"`
}

// APIConfig holds spreadsheet rate limiting.
type APIConfig struct {
	Delay       time.Duration `yaml:"delay"`
	RetryWindow time.Duration `yaml:"retry_window"`
	ChunkSize   int           `yaml:"chunk_size"`
}

// AWSConfig holds cloud-account settings.
type AWSConfig struct {
	Region      string `yaml:"region"`
	RoleName    string `yaml:"role_name"`
	SessionName string `yaml:"session_name"`
}

// QualysConfig holds inventory search settings.
type QualysConfig struct {
	SearchURL      string        `yaml:"search_url"`
	BasicAuth      string        `yaml:"basic_auth"`
	OpenStackTagID string        `yaml:"openstack_tag_id"`
	PageSize       int           `yaml:"page_size"`
	Timeout        time.Duration `yaml:"timeout"`
}

// Datacenter is a named address range to scan.
type Datacenter struct {
	Name    string `yaml:"name"`
	IPRange string `yaml:"ip_range"`
}

// NmapConfig locates the scan tool.
type NmapConfig struct {
	Binary string `yaml:"binary"`
	// Sudo defaults to /usr/bin/sudo; "none" runs the tool directly.
	Sudo string `yaml:"sudo"`
}

// Cluster is one OpenStack deployment.
type Cluster struct {
	Env      string `yaml:"env"`
	URL      string `yaml:"url"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// OpenStackConfig holds OpenStack endpoint settings.
type OpenStackConfig struct {
	IdentityPort int           `yaml:"identity_port"`
	ComputePort  int           `yaml:"compute_port"`
	Timeout      time.Duration `yaml:"timeout"`
}

// SheetsConfig holds the spreadsheet destination.
type SheetsConfig struct {
	Access  SheetAccess  `yaml:"access"`
	Reports SheetReports `yaml:"reports"`
}

// SheetAccess holds the service account and spreadsheet URL.
type SheetAccess struct {
	SheetURL          string `yaml:"sheet_url"`
	ProjectID         string `yaml:"project_id"`
	PrivateKeyID      string `yaml:"private_key_id"`
	PrivateKey        string `yaml:"private_key"`
	ClientEmail       string `yaml:"client_email"`
	ClientID          string `yaml:"client_id"`
	ClientX509CertURL string `yaml:"client_x509_cert_url"`
}

// SheetReport maps a report onto a worksheet.
type SheetReport struct {
	Sheet  string `yaml:"-"`
	ID     string `yaml:"id"`
	Header string `yaml:"header"`
	Rows   string `yaml:"rows"`
}

// SheetReports keeps the order in which worksheets appear in the file.
type SheetReports []SheetReport

// UnmarshalYAML decodes a mapping of sheet name to report.
func (r *SheetReports) UnmarshalYAML(value *yaml.Node) error {
	if value.Kind != yaml.MappingNode {
		return fmt.Errorf("line %d: reports must be a mapping of sheet name to report", value.Line)
	}
	out := make(SheetReports, 0, len(value.Content)/2)
	for i := 0; i+1 < len(value.Content); i += 2 {
		var rep SheetReport
		if err := value.Content[i+1].Decode(&rep); err != nil {
			return err
		}
		rep.Sheet = value.Content[i].Value
		out = append(out, rep)
	}
	*r = out
	return nil
}

// OTELConfig holds OpenTelemetry settings.
type OTELConfig struct {
	Endpoint    string        `yaml:"endpoint"`
	Insecure    bool          `yaml:"insecure"`
	ServiceName string        `yaml:"service_name"`
	Traces      TracesConfig  `yaml:"traces"`
	Metrics     MetricsConfig `yaml:"metrics"`
}

// TracesConfig holds tracing settings.
type TracesConfig struct {
	Enabled    bool    `yaml:"enabled"`
	SampleRate float64 `yaml:"sample_rate"`
}

// MetricsConfig holds metrics settings.
type MetricsConfig struct {
	Enabled bool `yaml:"enabled"`
}

// LogConfig holds logging settings.
type LogConfig struct {
	Level string `yaml:"level"`
}

// Load reads the YAML file at path, then fills what it left empty from
// the environment and finally from defaults. An empty path skips the file.
func Load(path string) (*Config, error) {
	cfg := &Config{}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnv(cfg, os.Getenv)
	applyDefaults(cfg)

	return cfg, nil
}

// LoadDotEnv loads a .env file into the environment without overriding
// variables that are already set. A missing file is not an error.
func LoadDotEnv(path string) error {
	if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("load %s: %w", path, err)
	}
	return nil
}

func applyEnv(cfg *Config, getenv func(string) string) {
	setIfEmpty(&cfg.StorageDir, getenv(EnvReportDir))
	setIfEmpty(&cfg.Qualys.BasicAuth, getenv(EnvQualysBasicAuth))

	for i := range cfg.Clusters {
		c := &cfg.Clusters[i]
		prefix := envOpenStackPrefix + envName(c.Env) + "_"
		setIfEmpty(&c.Username, getenv(prefix+"USERNAME"))
		setIfEmpty(&c.Password, getenv(prefix+"PASSWORD"))
	}

	a := &cfg.Sheets.Access
	setIfEmpty(&a.SheetURL, getenv(envGooglePrefix+"SHEET_URL"))
	setIfEmpty(&a.ProjectID, getenv(envGooglePrefix+"PROJECT_ID"))
	setIfEmpty(&a.PrivateKeyID, getenv(envGooglePrefix+"PRIVATE_KEY_ID"))
	setIfEmpty(&a.PrivateKey, getenv(envGooglePrefix+"PRIVATE_KEY"))
	setIfEmpty(&a.ClientEmail, getenv(envGooglePrefix+"CLIENT_EMAIL"))
	setIfEmpty(&a.ClientID, getenv(envGooglePrefix+"CLIENT_ID"))
	setIfEmpty(&a.ClientX509CertURL, getenv(envGooglePrefix+"CLIENT_X509_CERT_URL"))
}

func applyDefaults(cfg *Config) {
	if cfg.API.Delay == 0 {
		cfg.API.Delay = 5 * time.Second
	}
	if cfg.API.RetryWindow == 0 {
		cfg.API.RetryWindow = 60 * time.Second
	}
	if cfg.API.ChunkSize == 0 {
		cfg.API.ChunkSize = 1000
	}
	if cfg.AWS.RoleName == "" {
		cfg.AWS.RoleName = "QualysDiscovery"
	}
	if cfg.AWS.SessionName == "" {
		cfg.AWS.SessionName = "qualys_assume"
	}
	if cfg.Qualys.PageSize == 0 {
		cfg.Qualys.PageSize = 500
	}
	if cfg.Qualys.Timeout == 0 {
		cfg.Qualys.Timeout = 600 * time.Second
	}
	if cfg.Nmap.Sudo == "" {
		cfg.Nmap.Sudo = "/usr/bin/sudo"
	}
	if cfg.OpenStack.IdentityPort == 0 {
		cfg.OpenStack.IdentityPort = 13000
	}
	if cfg.OpenStack.ComputePort == 0 {
		cfg.OpenStack.ComputePort = 13774
	}
	if cfg.OpenStack.Timeout == 0 {
		cfg.OpenStack.Timeout = 30 * time.Second
	}
	if cfg.OTEL.ServiceName == "" {
		cfg.OTEL.ServiceName = "discovery"
	}
	if cfg.Log.Level == "" {
		cfg.Log.Level = "info"
	}
}

// SudoPath returns the sudo binary, or "" when elevation is disabled.
func (n NmapConfig) SudoPath() string {
	if n.Sudo == "none" {
		return ""
	}
	return n.Sudo
}

// Validate checks the configuration is valid.
func (c *Config) Validate() error {
	if c.API.Delay < 0 {
		return fmt.Errorf("%w: api.delay must not be negative (got %s)", ErrInvalid, c.API.Delay)
	}
	if c.API.ChunkSize < 0 {
		return fmt.Errorf("%w: api.chunk_size must not be negative (got %d)", ErrInvalid, c.API.ChunkSize)
	}
	for _, dc := range c.Datacenters {
		prefix, err := netip.ParsePrefix(dc.IPRange)
		if err != nil {
			return fmt.Errorf("%w: datacenter %q: bad ip_range %q", ErrInvalid, dc.Name, dc.IPRange)
		}
		if !prefix.Addr().Is4() {
			return fmt.Errorf("%w: datacenter %q: ip_range %q is not IPv4", ErrInvalid, dc.Name, dc.IPRange)
		}
		if prefix.Bits() < MinScanPrefix {
			return fmt.Errorf("%w: datacenter %q: ip_range %q wider than /%d", ErrInvalid, dc.Name, dc.IPRange, MinScanPrefix)
		}
	}
	for i, cl := range c.Clusters {
		if cl.URL == "" {
			return fmt.Errorf("%w: clusters[%d]: url required", ErrInvalid, i)
		}
	}
	for _, r := range c.Sheets.Reports {
		if r.ID == "" || r.Header == "" || r.Rows == "" {
			return fmt.Errorf("%w: sheets.reports[%q]: id, header and rows required", ErrInvalid, r.Sheet)
		}
	}
	if c.OTEL.Traces.SampleRate < 0.0 || c.OTEL.Traces.SampleRate > 1.0 {
		return fmt.Errorf("%w: otel: traces.sample_rate must be between 0.0 and 1.0 (got %v)", ErrInvalid, c.OTEL.Traces.SampleRate)
	}
	return nil
}

func setIfEmpty(field *string, value string) {
	if *field == "" {
		*field = value
	}
}

// envName upper-cases s and replaces anything but letters and digits with _.
func envName(s string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z':
			return r - 'a' + 'A'
		case r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		default:
			return '_'
		}
	}, s)
}
