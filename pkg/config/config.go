package config

import (
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/medbridge/clinsync/pkg/utils"
)

type ExtractConfig struct {
	FHIRDir      string `yaml:"fhir_dir"`
	LabResults   string `yaml:"lab_results"`
	Conditions   string `yaml:"conditions"`
	Appointments string `yaml:"appointments"`
}

type CRMConfig struct {
	InstanceURL   string `yaml:"instance_url"`
	TokenURL      string `yaml:"token_url"`
	ClientID      string `yaml:"client_id"`
	ClientSecret  string `yaml:"client_secret"`
	Username      string `yaml:"username"`
	Password      string `yaml:"password"`
	SecurityToken string `yaml:"security_token"`
	APIVersion    string `yaml:"api_version"`
	TimeoutSecs   int    `yaml:"timeout_seconds"`
}

// Timeout returns the HTTP client timeout for CRM calls.
func (c CRMConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSecs) * time.Second
}

type WarehouseConfig struct {
	Driver   string `yaml:"driver"`
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Username string `yaml:"username"`
	Password string `yaml:"password"`
	Database string `yaml:"database"`
	Dataset  string `yaml:"dataset"`
}

type MapperConfig struct {
	// DerivedFields maps a destination field name to an expression
	// evaluated against the mapped patient record.
	DerivedFields map[string]string `yaml:"derived_fields,omitempty"`
}

type AgentConfig struct {
	LLMEndpoint string `yaml:"llm_endpoint"`
	LLMModel    string `yaml:"llm_model"`
	LLMAPIKey   string `yaml:"llm_api_key"`
}

type ServerConfig struct {
	Addr     string `yaml:"addr"`
	Schedule string `yaml:"schedule,omitempty"`
	LockFile string `yaml:"lock_file,omitempty"`
}

type Config struct {
	Extract   ExtractConfig   `yaml:"extract"`
	CRM       CRMConfig       `yaml:"crm"`
	Warehouse WarehouseConfig `yaml:"warehouse"`
	Mapper    MapperConfig    `yaml:"mapper"`
	Agent     AgentConfig     `yaml:"agent"`
	Server    ServerConfig    `yaml:"server"`
}

func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	cfg.expandSecrets()
	cfg.applyDefaults()
	return &cfg, nil
}

// expandSecrets resolves ${VAR} placeholders so credentials can stay out of
// the config file.
func (c *Config) expandSecrets() {
	c.CRM.ClientID = utils.ExpandEnv(c.CRM.ClientID)
	c.CRM.ClientSecret = utils.ExpandEnv(c.CRM.ClientSecret)
	c.CRM.Username = utils.ExpandEnv(c.CRM.Username)
	c.CRM.Password = utils.ExpandEnv(c.CRM.Password)
	c.CRM.SecurityToken = utils.ExpandEnv(c.CRM.SecurityToken)
	c.Warehouse.Username = utils.ExpandEnv(c.Warehouse.Username)
	c.Warehouse.Password = utils.ExpandEnv(c.Warehouse.Password)
	c.Agent.LLMAPIKey = utils.ExpandEnv(c.Agent.LLMAPIKey)
}

func (c *Config) applyDefaults() {
	if c.CRM.APIVersion == "" {
		c.CRM.APIVersion = "v59.0"
	}
	if c.CRM.TimeoutSecs == 0 {
		c.CRM.TimeoutSecs = 30
	}
	if c.Server.Addr == "" {
		c.Server.Addr = ":8080"
	}
	if c.Server.LockFile == "" {
		c.Server.LockFile = "clinsync.lock"
	}
}
