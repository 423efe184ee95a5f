package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/rflorenc/jenkins-workbench/internal/models"
	"gopkg.in/yaml.v3"
)

var validate *validator.Validate

func init() {
	validate = validator.New()
}

// Defaults applied to anything left unset.
const (
	DefaultListen       = ":8080"
	DefaultPollInterval = 3 * time.Second
	DefaultMaxPolls     = 200
)

// ConnectionConfig represents a pre-configured operations center in the
// config file.
type ConnectionConfig struct {
	Name             string `yaml:"name" validate:"required"`
	URL              string `yaml:"url" validate:"required,url"`
	OperationsCenter string `yaml:"operations_center"`
	Username         string `yaml:"username"`
	Token            string `yaml:"token"`
	// TokenEnv names an environment variable holding the API token. It is
	// used when Token is empty.
	TokenEnv   string `yaml:"token_env"`
	Insecure   bool   `yaml:"insecure"`
	CACertFile string `yaml:"ca_cert_file" validate:"omitempty,file"`
}

// PollConfig controls caller-side polling of queue items and builds.
type PollConfig struct {
	Interval    time.Duration `yaml:"interval" validate:"gte=0"`
	MaxAttempts int           `yaml:"max_attempts" validate:"gte=0"`
}

// Config holds all configuration (CLI flags + config file).
type Config struct {
	Listen      string             `yaml:"listen"`
	Verbose     bool               `yaml:"verbose"`
	Poll        PollConfig         `yaml:"poll"`
	Connections []ConnectionConfig `yaml:"connections" validate:"dive"`
}

// Load reads the YAML config file at path, if any, and overlays it under the
// values already set on c. Values set on c (from CLI flags) take precedence.
// Defaults are applied last and the result is validated.
func (c *Config) Load(path string) error {
	if path != "" {
		if err := c.loadFile(path); err != nil {
			return err
		}
	}
	c.applyDefaults()
	return c.Validate()
}

// loadFile reads a YAML config file. Values from the file are only applied
// if the corresponding CLI flag was not explicitly set.
func (c *Config) loadFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading %s: %w", path, err)
	}

	var file Config
	if err := yaml.Unmarshal(data, &file); err != nil {
		return fmt.Errorf("parsing %s: %w", path, err)
	}

	if c.Listen == "" {
		c.Listen = file.Listen
	}
	if !c.Verbose {
		c.Verbose = file.Verbose
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = file.Poll.Interval
	}
	if c.Poll.MaxAttempts == 0 {
		c.Poll.MaxAttempts = file.Poll.MaxAttempts
	}

	// Connections always come from config file
	c.Connections = file.Connections
	return nil
}

func (c *Config) applyDefaults() {
	if c.Listen == "" {
		c.Listen = DefaultListen
	}
	if c.Poll.Interval == 0 {
		c.Poll.Interval = DefaultPollInterval
	}
	if c.Poll.MaxAttempts == 0 {
		c.Poll.MaxAttempts = DefaultMaxPolls
	}
	for i := range c.Connections {
		if c.Connections[i].OperationsCenter == "" {
			c.Connections[i].OperationsCenter = models.DefaultOperationsCenter
		}
	}
}

// Validate checks struct tags and that connection names are unique.
func (c *Config) Validate() error {
	if err := validate.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	seen := make(map[string]bool)
	for _, cc := range c.Connections {
		if seen[cc.Name] {
			return fmt.Errorf("invalid config: duplicate connection name %q", cc.Name)
		}
		seen[cc.Name] = true
	}
	return nil
}

// Connection builds the runtime connection, resolving the token from the
// environment and the CA certificate from disk.
func (cc ConnectionConfig) Connection() (*models.Connection, error) {
	conn := &models.Connection{
		Name:             cc.Name,
		URL:              cc.URL,
		OperationsCenter: cc.OperationsCenter,
		Username:         cc.Username,
		Token:            cc.Token,
		Insecure:         cc.Insecure,
	}
	if conn.Token == "" && cc.TokenEnv != "" {
		conn.Token = os.Getenv(cc.TokenEnv)
	}
	if cc.CACertFile != "" {
		pem, err := os.ReadFile(cc.CACertFile)
		if err != nil {
			return nil, fmt.Errorf("connection %s: reading CA certificate: %w", cc.Name, err)
		}
		conn.CACert = string(pem)
	}
	return conn, nil
}

// Find returns the connection config with the given name. An empty name
// selects the only configured connection.
func (c *Config) Find(name string) (*ConnectionConfig, error) {
	if name == "" {
		switch len(c.Connections) {
		case 0:
			return nil, fmt.Errorf("no connections configured")
		case 1:
			return &c.Connections[0], nil
		default:
			return nil, fmt.Errorf("%d connections configured, pick one with --connection", len(c.Connections))
		}
	}
	for i := range c.Connections {
		if c.Connections[i].Name == name {
			return &c.Connections[i], nil
		}
	}
	return nil, fmt.Errorf("connection %q not found", name)
}
