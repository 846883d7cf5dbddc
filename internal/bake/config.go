package bake

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

// Config configures a single AMI build. Immutable once the pipeline starts.
type Config struct {
	// Instance
	Name            string `yaml:"name"`
	InstanceType    string `yaml:"instance_type"`     // default: t3.medium
	SubnetID        string `yaml:"subnet_id"`         // required
	SecurityGroupID string `yaml:"security_group_id"` // required
	SourceAMI       string `yaml:"source_ami"`        // required
	Region          string `yaml:"region"`            // default: us-west-2
	RootVolumeSize  int32  `yaml:"root_volume_size"`  // GB, 0 = image default

	// SSH
	KeyName string `yaml:"key_name"` // required, AWS key pair name
	KeyPath string `yaml:"key_path"` // required, local private key file
	SSHUser string `yaml:"ssh_user"` // default: ubuntu
	SSHPort int32  `yaml:"ssh_port"` // default: 22

	// Chef
	ChefURL         string `yaml:"chef_url"`    // required
	ChefBranch      string `yaml:"chef_branch"` // default: master
	ChefRole        string `yaml:"chef_role"`   // required
	ChefEnvironment string `yaml:"chef_environment"`

	// Optional acceptance test script, executed on the instance after the
	// convergence run. Empty disables the step.
	AcceptanceTest string `yaml:"acceptance_test"`

	// Image
	Version  string `yaml:"version"` // default: current UTC timestamp
	NoReboot bool   `yaml:"no_reboot"`

	// Operational
	Terminate bool `yaml:"terminate"`
	Debug     bool `yaml:"debug"`

	// Polling constants. Zero values pick the defaults below; these are not
	// part of the file/flag surface.
	ProbeAttempts     int           `yaml:"-"` // default: 30
	ProbeInterval     time.Duration `yaml:"-"` // default: 10s
	ImagePollInterval time.Duration `yaml:"-"` // default: 60s
}

// Environment variables consulted for defaults during ApplyDefaults.
const (
	envRootVolumeSize = "AMIBAKE_ROOT_VOLUME_SIZE"
	envDebug          = "AMIBAKE_DEBUG"
)

// LoadFile reads a YAML build configuration. Flag values layered on top of
// the returned Config take precedence.
func LoadFile(path string) (Config, error) {
	var cfg Config
	cfg.Terminate = true
	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("failed to read config: %w", err)
	}
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return cfg, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func (c *Config) ApplyDefaults() {
	if c.InstanceType == "" {
		c.InstanceType = "t3.medium"
	}
	if c.Region == "" {
		c.Region = "us-west-2"
	}
	if c.SSHUser == "" {
		c.SSHUser = "ubuntu"
	}
	if c.SSHPort == 0 {
		c.SSHPort = 22
	}
	if c.ChefBranch == "" {
		c.ChefBranch = "master"
	}
	if c.Version == "" {
		c.Version = time.Now().UTC().Format("20060102-150405")
	}
	if c.Name == "" {
		c.Name = "amibake"
	}
	if c.ProbeAttempts == 0 {
		c.ProbeAttempts = 30
	}
	if c.ProbeInterval == 0 {
		c.ProbeInterval = 10 * time.Second
	}
	if c.ImagePollInterval == 0 {
		c.ImagePollInterval = 60 * time.Second
	}
	if c.RootVolumeSize == 0 {
		if v, ok := os.LookupEnv(envRootVolumeSize); ok {
			if size, err := strconv.ParseInt(v, 10, 32); err == nil {
				c.RootVolumeSize = int32(size)
			}
		}
	}
	if !c.Debug {
		_, c.Debug = os.LookupEnv(envDebug)
	}
}

func (c *Config) Validate() error {
	if c.SourceAMI == "" {
		return fmt.Errorf("source_ami is required")
	}
	if c.SubnetID == "" {
		return fmt.Errorf("subnet_id is required")
	}
	if c.SecurityGroupID == "" {
		return fmt.Errorf("security_group_id is required")
	}
	if c.KeyName == "" {
		return fmt.Errorf("key_name is required")
	}
	if c.KeyPath == "" {
		return fmt.Errorf("key_path is required")
	}
	if c.ChefURL == "" {
		return fmt.Errorf("chef_url is required")
	}
	if c.ChefRole == "" {
		return fmt.Errorf("chef_role is required")
	}
	// SSHPort is narrowed to uint16 when dialing; reject anything that
	// would not survive the conversion. Zero is allowed here because
	// ApplyDefaults turns it into 22.
	if c.SSHPort < 0 || c.SSHPort > 65535 {
		return fmt.Errorf("ssh_port must be between 1 and 65535, got %d", c.SSHPort)
	}
	return nil
}

// ImageName is the name given to the produced AMI.
func (c *Config) ImageName() string {
	return fmt.Sprintf("%s-%s", c.Name, c.Version)
}
