// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package config

import (
	"errors"
	"fmt"
	"net/mail"
	"net/url"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/tidwall/jsonc"
	"gopkg.in/yaml.v3"

	"github.com/bureau-foundation/sessionpack/lib/archive"
)

// EnvironmentVariable names the variable Load reads the config path
// from.
const EnvironmentVariable = "SESSIONPACK_CONFIG"

// Environment is the deployment type. It selects which of the
// development, staging, or production sections is applied on top of
// the base configuration.
type Environment string

const (
	// Development is a developer workstation. Sessions usually go to
	// a local file or a test mailbox.
	Development Environment = "development"

	// Staging is a pre-release installation reporting to a staging
	// collection server.
	Staging Environment = "staging"

	// Production is a shipped installation.
	Production Environment = "production"
)

// Config is the complete sessionpack configuration.
//
// Only the destination a command uses needs to be configured: email is
// validated once email.server is set, the collection server once
// server.url is set. keys.identity is required as soon as any sealed
// credential is present, since nothing else can open it.
type Config struct {
	Environment Environment `yaml:"environment"`

	Paths PathsConfig `yaml:"paths"`

	// Product and Application are the defaults for session selection.
	// Empty matches every product or application.
	Product     string `yaml:"product"`
	Application string `yaml:"application"`

	Package PackageConfig `yaml:"package"`
	Email   EmailConfig   `yaml:"email"`
	Server  ServerConfig  `yaml:"server"`
	Media   MediaConfig   `yaml:"media"`
	Keys    KeysConfig    `yaml:"keys"`

	Development *Overrides `yaml:"development,omitempty"`
	Staging     *Overrides `yaml:"staging,omitempty"`
	Production  *Overrides `yaml:"production,omitempty"`
}

// Overrides holds the per-environment sections. Non-empty fields of a
// section replace the matching base fields one by one; empty strings
// and zero numbers leave the base value. Booleans cannot tell unset
// from false, so an email section always decides use_tls.
type Overrides struct {
	Paths   *PathsConfig   `yaml:"paths,omitempty"`
	Package *PackageConfig `yaml:"package,omitempty"`
	Email   *EmailConfig   `yaml:"email,omitempty"`
	Server  *ServerConfig  `yaml:"server,omitempty"`
}

// PathsConfig locates on-disk state.
type PathsConfig struct {
	// Root is the base directory; other paths usually derive from it
	// through ${SESSIONPACK_ROOT}.
	Root string `yaml:"root"`

	// Sessions holds recorded fragment files.
	Sessions string `yaml:"sessions"`

	// Work holds containers while they are built and delivered.
	Work string `yaml:"work"`

	// Index is the session index database. Defaults to
	// <sessions>/index.db.
	Index string `yaml:"index"`
}

// PackageConfig controls container construction.
type PackageConfig struct {
	// Compression is store, deflate, zstd, or lz4.
	Compression string `yaml:"compression"`
}

// EmailConfig configures the email destination.
type EmailConfig struct {
	// Server and Port address the SMTP server. Port defaults to 587
	// (submission with STARTTLS).
	Server string `yaml:"server"`
	Port   int    `yaml:"port"`

	// UseTLS selects implicit TLS, as on port 465.
	UseTLS bool `yaml:"use_tls"`

	// User is the SMTP login. Authentication is skipped when User is
	// empty or no password is sealed.
	User string `yaml:"user"`

	// PasswordSealed is age ciphertext from "sessionpack seal".
	PasswordSealed string `yaml:"password_sealed"`

	From          string   `yaml:"from"`
	To            []string `yaml:"to"`
	SubjectPrefix string   `yaml:"subject_prefix"`

	// MaxMessageMB bounds each message, attachment included.
	MaxMessageMB int `yaml:"max_message_mb"`
}

// ServerConfig configures the collection server destination.
type ServerConfig struct {
	URL        string `yaml:"url"`
	Customer   string `yaml:"customer"`
	Repository string `yaml:"repository"`

	// TokenSealed is an optional bearer token, sealed like
	// EmailConfig.PasswordSealed.
	TokenSealed string `yaml:"token_sealed"`

	// Retries is the number of attempts after the first; RetryDelay
	// (a Go duration string) is the initial backoff, doubled per retry.
	Retries    int    `yaml:"retries"`
	RetryDelay string `yaml:"retry_delay"`

	// MaxPackageMB bounds each upload. Zero uses the file bound.
	MaxPackageMB int `yaml:"max_package_mb"`
}

// MediaConfig configures the removable media destination.
type MediaConfig struct {
	// Root is the media mount point, usually given on the command
	// line instead.
	Root   string `yaml:"root"`
	Folder string `yaml:"folder"`
}

// KeysConfig locates the age identity that opens sealed credentials.
type KeysConfig struct {
	// Identity is an age identity file, created by "sessionpack keygen"
	// with mode 0600.
	Identity string `yaml:"identity"`
}

// Default returns the base configuration that a file is merged into.
// Paths are left unexpanded; LoadFile expands them after the file and
// its environment section have been applied, so a file that only sets
// paths.root moves every derived path with it.
func Default() *Config {
	return &Config{
		Environment: Development,
		Paths: PathsConfig{
			Root:     "${HOME}/.local/share/sessionpack",
			Sessions: "${SESSIONPACK_ROOT}/sessions",
			Work:     "${SESSIONPACK_ROOT}/work",
		},
		Package: PackageConfig{Compression: string(archive.CompressionDeflate)},
		Email: EmailConfig{
			Port:         587,
			MaxMessageMB: 10,
		},
		Server: ServerConfig{
			Retries:    3,
			RetryDelay: "2s",
		},
		Media: MediaConfig{Folder: "Sessions"},
		Keys:  KeysConfig{Identity: "${SESSIONPACK_ROOT}/identity.txt"},
	}
}

// Load reads the file named by SESSIONPACK_CONFIG.
func Load() (*Config, error) {
	path := os.Getenv(EnvironmentVariable)
	if path == "" {
		return nil, fmt.Errorf("%s environment variable not set; "+
			"set it to the path of your sessionpack config file, or use --config", EnvironmentVariable)
	}
	return LoadFile(path)
}

// LoadFile reads one configuration file, applies the matching
// environment section, and expands path variables.
func LoadFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: %w", err)
	}
	return Parse(data, filepath.Ext(path))
}

// Parse decodes configuration data. extension selects the format:
// ".json" and ".jsonc" are JSON with comments, anything else is YAML.
func Parse(data []byte, extension string) (*Config, error) {
	switch strings.ToLower(extension) {
	case ".json", ".jsonc":
		// JSON is a subset of YAML once comments and trailing commas
		// are gone.
		data = jsonc.ToJSON(data)
	}
	config := Default()
	if err := yaml.Unmarshal(data, config); err != nil {
		return nil, fmt.Errorf("config: parsing: %w", err)
	}
	config.applyEnvironmentOverrides()
	config.expandVariables()
	return config, nil
}

func (c *Config) applyEnvironmentOverrides() {
	var overrides *Overrides
	switch c.Environment {
	case Development:
		overrides = c.Development
	case Staging:
		overrides = c.Staging
	case Production:
		overrides = c.Production
	}
	if overrides == nil {
		return
	}

	if paths := overrides.Paths; paths != nil {
		override(&c.Paths.Root, paths.Root)
		override(&c.Paths.Sessions, paths.Sessions)
		override(&c.Paths.Work, paths.Work)
		override(&c.Paths.Index, paths.Index)
	}
	if pkg := overrides.Package; pkg != nil {
		override(&c.Package.Compression, pkg.Compression)
	}
	if email := overrides.Email; email != nil {
		override(&c.Email.Server, email.Server)
		if email.Port != 0 {
			c.Email.Port = email.Port
		}
		// UseTLS is a bool; an environment section that mentions
		// email always decides it.
		c.Email.UseTLS = email.UseTLS
		override(&c.Email.User, email.User)
		override(&c.Email.PasswordSealed, email.PasswordSealed)
		override(&c.Email.From, email.From)
		if len(email.To) > 0 {
			c.Email.To = email.To
		}
		override(&c.Email.SubjectPrefix, email.SubjectPrefix)
		if email.MaxMessageMB != 0 {
			c.Email.MaxMessageMB = email.MaxMessageMB
		}
	}
	if server := overrides.Server; server != nil {
		override(&c.Server.URL, server.URL)
		override(&c.Server.Customer, server.Customer)
		override(&c.Server.Repository, server.Repository)
		override(&c.Server.TokenSealed, server.TokenSealed)
		override(&c.Server.RetryDelay, server.RetryDelay)
		if server.Retries != 0 {
			c.Server.Retries = server.Retries
		}
		if server.MaxPackageMB != 0 {
			c.Server.MaxPackageMB = server.MaxPackageMB
		}
	}
}

func override(target *string, value string) {
	if value != "" {
		*target = value
	}
}

func (c *Config) expandVariables() {
	vars := map[string]string{"HOME": os.Getenv("HOME")}
	c.Paths.Root = expandVars(c.Paths.Root, vars)
	vars["SESSIONPACK_ROOT"] = c.Paths.Root

	c.Paths.Sessions = expandVars(c.Paths.Sessions, vars)
	c.Paths.Work = expandVars(c.Paths.Work, vars)
	c.Paths.Index = expandVars(c.Paths.Index, vars)
	c.Media.Root = expandVars(c.Media.Root, vars)
	c.Keys.Identity = expandVars(c.Keys.Identity, vars)
}

var varPattern = regexp.MustCompile(`\$\{([^}:]+)(?::-([^}]*))?\}`)

// expandVars replaces ${NAME} and ${NAME:-default}. vars take
// precedence over the process environment.
func expandVars(s string, vars map[string]string) string {
	return varPattern.ReplaceAllStringFunc(s, func(match string) string {
		parts := varPattern.FindStringSubmatch(match)
		name, fallback := parts[1], parts[2]
		if value, ok := vars[name]; ok && value != "" {
			return value
		}
		if value := os.Getenv(name); value != "" {
			return value
		}
		return fallback
	})
}

// IndexPath returns Paths.Index, or the default inside Paths.Sessions.
func (c *Config) IndexPath() string {
	if c.Paths.Index != "" {
		return c.Paths.Index
	}
	return filepath.Join(c.Paths.Sessions, "index.db")
}

// RetryDelay parses Server.RetryDelay.
func (c *Config) RetryDelay() (time.Duration, error) {
	if c.Server.RetryDelay == "" {
		return 0, nil
	}
	delay, err := time.ParseDuration(c.Server.RetryDelay)
	if err != nil {
		return 0, fmt.Errorf("server.retry_delay: %w", err)
	}
	return delay, nil
}

// Validate reports every problem in the configuration at once.
// Destination sections are only checked when they are in use: email
// when email.server is set, server when server.url is set.
func (c *Config) Validate() error {
	var errs []error

	switch c.Environment {
	case Development, Staging, Production:
	default:
		errs = append(errs, fmt.Errorf("invalid environment: %q", c.Environment))
	}
	if c.Paths.Root == "" {
		errs = append(errs, errors.New("paths.root is required"))
	}
	if c.Paths.Sessions == "" {
		errs = append(errs, errors.New("paths.sessions is required"))
	}
	if c.Paths.Work == "" {
		errs = append(errs, errors.New("paths.work is required"))
	}
	if _, err := archive.ParseCompression(c.Package.Compression); err != nil {
		errs = append(errs, fmt.Errorf("package.compression: %w", err))
	}

	if c.Email.Server != "" {
		if c.Email.Port <= 0 || c.Email.Port > 65535 {
			errs = append(errs, fmt.Errorf("email.port %d out of range", c.Email.Port))
		}
		if _, err := mail.ParseAddress(c.Email.From); err != nil {
			errs = append(errs, fmt.Errorf("email.from: %w", err))
		}
		if len(c.Email.To) == 0 {
			errs = append(errs, errors.New("email.to needs at least one recipient"))
		}
		if c.Email.MaxMessageMB <= 0 {
			errs = append(errs, errors.New("email.max_message_mb must be positive"))
		}
	}

	if c.Server.URL != "" {
		if parsed, err := url.Parse(c.Server.URL); err != nil || parsed.Host == "" {
			errs = append(errs, fmt.Errorf("server.url %q is not an absolute URL", c.Server.URL))
		}
		if c.Server.Customer == "" {
			errs = append(errs, errors.New("server.customer is required with server.url"))
		}
		if c.Server.Retries < 0 {
			errs = append(errs, errors.New("server.retries must not be negative"))
		}
		if _, err := c.RetryDelay(); err != nil {
			errs = append(errs, err)
		}
	}

	if (c.Email.PasswordSealed != "" || c.Server.TokenSealed != "") && c.Keys.Identity == "" {
		errs = append(errs, errors.New("keys.identity is required to open sealed credentials"))
	}

	return errors.Join(errs...)
}

// EnsurePaths creates the session and work directories.
func (c *Config) EnsurePaths() error {
	for _, path := range []string{c.Paths.Root, c.Paths.Sessions, c.Paths.Work} {
		if path == "" {
			continue
		}
		if err := os.MkdirAll(path, 0o755); err != nil {
			return fmt.Errorf("config: creating %s: %w", path, err)
		}
	}
	return nil
}
