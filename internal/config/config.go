package config

import (
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v2"
)

const (
	DefaultPath     = "azwebvm.yaml"
	DefaultProject  = "azure-test"
	DefaultStack    = "dev"
	DefaultParallel = 10
	DefaultStateDir = ".azwebvm"
)

// ProviderType is the discriminator of ProviderConfig
type ProviderType string

const (
	ProviderAzure  ProviderType = "azure"
	ProviderMemory ProviderType = "memory"
)

// AzureConfig holds Azure Resource Manager credentials and transport tuning
type AzureConfig struct {
	SubscriptionID string `yaml:"subscription_id"`
	TenantID       string `yaml:"tenant_id"`
	ClientID       string `yaml:"client_id"`
	ClientSecret   string `yaml:"client_secret"`

	// HTTP retry policy of the ARM transport
	RetryMax        int `yaml:"retry_max"`
	RetryWaitMinSec int `yaml:"retry_wait_min_sec"`
	RetryWaitMaxSec int `yaml:"retry_wait_max_sec"`
}

// MemoryConfig configures the in-process cloud
type MemoryConfig struct {
	// Addresses seeds public IP addresses, keyed "<resource group>/<ip name>"
	Addresses map[string]string `yaml:"addresses"`
	// FailOn makes creation of the listed physical names fail
	FailOn []string `yaml:"fail_on"`
}

// ProviderConfig is a discriminated union over supported clouds
type ProviderConfig struct {
	Type   ProviderType  `yaml:"type"`
	Azure  *AzureConfig  `yaml:"azure,omitempty"`
	Memory *MemoryConfig `yaml:"memory,omitempty"`
}

// BackendType is the discriminator of BackendConfig
type BackendType string

const (
	BackendFile   BackendType = "file"
	BackendEtcd   BackendType = "etcd"
	BackendS3     BackendType = "s3"
	BackendMemory BackendType = "memory"
)

type FileBackendConfig struct {
	Dir string `yaml:"dir"`
}

type EtcdConfig struct {
	Endpoints []string `yaml:"endpoints"`
}

type S3Config struct {
	Bucket          string `yaml:"bucket"`
	Prefix          string `yaml:"prefix"`
	Region          string `yaml:"region"`
	Endpoint        string `yaml:"endpoint"`
	AccessKeyID     string `yaml:"access_key_id"`
	SecretAccessKey string `yaml:"secret_access_key"`
	UsePathStyle    bool   `yaml:"use_path_style"`
}

// BackendConfig selects where stack snapshots are stored
type BackendConfig struct {
	Type BackendType        `yaml:"type"`
	File *FileBackendConfig `yaml:"file,omitempty"`
	Etcd *EtcdConfig        `yaml:"etcd,omitempty"`
	S3   *S3Config          `yaml:"s3,omitempty"`
}

// KeyStoreType selects the SSH key provider
type KeyStoreType string

const (
	KeyStoreFile KeyStoreType = "file"
	KeyStoreEtcd KeyStoreType = "etcd"
)

type SSHConfig struct {
	KeyStore KeyStoreType `yaml:"key_store"`
	KeyDir   string       `yaml:"key_dir"`
	Etcd     *EtcdConfig  `yaml:"etcd,omitempty"`
}

// Config contains application configuration
type Config struct {
	Project  string         `yaml:"project"`
	Stack    string         `yaml:"stack"`
	Parallel int            `yaml:"parallel"`
	Provider ProviderConfig `yaml:"provider"`
	Backend  BackendConfig  `yaml:"backend"`
	SSH      SSHConfig      `yaml:"ssh"`

	// Stacks holds per-stack configuration values, e.g.
	// stacks.dev["azure-test:username"]
	Stacks map[string]map[string]string `yaml:"stacks"`
}

// Bag returns the configuration values of the selected stack
func (c *Config) Bag() *Bag {
	return NewBag(c.Project, c.Stacks[c.Stack])
}

// Path returns the config file location from CONFIG_PATH or the default
func Path() string {
	if p := os.Getenv("CONFIG_PATH"); p != "" {
		return p
	}
	return DefaultPath
}

// Load loads configuration from the YAML file named by CONFIG_PATH
func Load() (*Config, error) {
	return LoadFile(Path())
}

// LoadFile loads configuration from path. A missing file yields defaults.
func LoadFile(path string) (*Config, error) {
	config := &Config{
		Project:  DefaultProject,
		Stack:    DefaultStack,
		Parallel: DefaultParallel,
		Provider: ProviderConfig{Type: ProviderAzure},
		Backend:  BackendConfig{Type: BackendFile},
		SSH:      SSHConfig{KeyStore: KeyStoreFile},
	}

	if _, err := os.Stat(path); err == nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("failed to read config file: %w", err)
		}

		if err := yaml.Unmarshal(data, config); err != nil {
			return nil, fmt.Errorf("failed to parse config file: %w", err)
		}
	}

	config.expandEnv()
	config.applyEnvOverrides()
	config.applyDefaults()

	if err := config.Validate(); err != nil {
		return nil, err
	}
	return config, nil
}

func (c *Config) expandEnv() {
	c.Project = os.ExpandEnv(c.Project)
	c.Stack = os.ExpandEnv(c.Stack)

	if az := c.Provider.Azure; az != nil {
		az.SubscriptionID = os.ExpandEnv(az.SubscriptionID)
		az.TenantID = os.ExpandEnv(az.TenantID)
		az.ClientID = os.ExpandEnv(az.ClientID)
		az.ClientSecret = os.ExpandEnv(az.ClientSecret)
	}
	if s3 := c.Backend.S3; s3 != nil {
		s3.AccessKeyID = os.ExpandEnv(s3.AccessKeyID)
		s3.SecretAccessKey = os.ExpandEnv(s3.SecretAccessKey)
		s3.Endpoint = os.ExpandEnv(s3.Endpoint)
	}
	if f := c.Backend.File; f != nil {
		f.Dir = os.ExpandEnv(f.Dir)
	}
	c.SSH.KeyDir = os.ExpandEnv(c.SSH.KeyDir)

	for _, values := range c.Stacks {
		for k, v := range values {
			if isLiteralKey(k) {
				continue
			}
			values[k] = os.ExpandEnv(v)
		}
	}
}

// isLiteralKey reports whether a stack value is taken verbatim. Passwords
// may legitimately contain '$'.
func isLiteralKey(key string) bool {
	name := strings.ToLower(key)
	if i := strings.LastIndex(name, ":"); i >= 0 {
		name = name[i+1:]
	}
	return strings.Contains(name, "password") || strings.Contains(name, "secret")
}

// applyEnvOverrides uses the variable names of the Azure CLI and Terraform
func (c *Config) applyEnvOverrides() {
	if stack := os.Getenv("AZWEBVM_STACK"); stack != "" {
		c.Stack = stack
	}

	if c.Provider.Type != ProviderAzure {
		return
	}
	if c.Provider.Azure == nil {
		c.Provider.Azure = &AzureConfig{}
	}
	az := c.Provider.Azure
	if v := os.Getenv("ARM_SUBSCRIPTION_ID"); v != "" {
		az.SubscriptionID = v
	}
	if v := os.Getenv("ARM_TENANT_ID"); v != "" {
		az.TenantID = v
	}
	if v := os.Getenv("ARM_CLIENT_ID"); v != "" {
		az.ClientID = v
	}
	if v := os.Getenv("ARM_CLIENT_SECRET"); v != "" {
		az.ClientSecret = v
	}
}

func (c *Config) applyDefaults() {
	if c.Parallel <= 0 {
		c.Parallel = DefaultParallel
	}
	if c.Backend.Type == BackendFile && c.Backend.File == nil {
		c.Backend.File = &FileBackendConfig{}
	}
	if c.Backend.File != nil && c.Backend.File.Dir == "" {
		c.Backend.File.Dir = DefaultStateDir
	}
	if c.SSH.KeyDir == "" {
		c.SSH.KeyDir = DefaultStateDir + "/keys"
	}
	if az := c.Provider.Azure; az != nil {
		if az.RetryMax == 0 {
			az.RetryMax = 4
		}
		if az.RetryWaitMinSec == 0 {
			az.RetryWaitMinSec = 1
		}
		if az.RetryWaitMaxSec == 0 {
			az.RetryWaitMaxSec = 30
		}
	}
}

// Validate checks the discriminated sub-configs
func (c *Config) Validate() error {
	if c.Project == "" {
		return fmt.Errorf("project name is required")
	}
	if c.Stack == "" {
		return fmt.Errorf("stack name is required (set stack in config file or AZWEBVM_STACK environment variable)")
	}

	switch c.Provider.Type {
	case ProviderAzure:
		if c.Provider.Azure == nil || c.Provider.Azure.SubscriptionID == "" {
			return fmt.Errorf("azure subscription ID is required (set provider.azure.subscription_id in config file or ARM_SUBSCRIPTION_ID environment variable)")
		}
	case ProviderMemory:
	default:
		return fmt.Errorf("unsupported provider type: %s", c.Provider.Type)
	}

	switch c.Backend.Type {
	case BackendFile, BackendMemory:
	case BackendEtcd:
		if c.Backend.Etcd == nil || len(c.Backend.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd backend requires at least one endpoint")
		}
	case BackendS3:
		if c.Backend.S3 == nil || c.Backend.S3.Bucket == "" {
			return fmt.Errorf("s3 backend requires a bucket")
		}
	default:
		return fmt.Errorf("unsupported backend type: %s", c.Backend.Type)
	}

	switch c.SSH.KeyStore {
	case KeyStoreFile:
	case KeyStoreEtcd:
		if c.SSH.Etcd == nil || len(c.SSH.Etcd.Endpoints) == 0 {
			return fmt.Errorf("etcd key store requires at least one endpoint")
		}
	default:
		return fmt.Errorf("unsupported ssh key store: %s", c.SSH.KeyStore)
	}
	return nil
}
