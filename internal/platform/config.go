package platform

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/aretw0/canopy/pkg/core"
)

// Config is the on-disk configuration read by the CLI.
//
//	servers: zk1:2181,zk2:2181
//	timeout: 5s
//	adapter: zk
//	acl:
//	  - {perms: 31, scheme: world, id: anyone}
type Config struct {
	Servers string        `yaml:"servers"`
	Timeout time.Duration `yaml:"timeout"`
	Adapter string        `yaml:"adapter"`
	ACL     []core.ACL    `yaml:"acl"`
	LogFile string        `yaml:"log_file"`
}

// LoadConfig reads a YAML config file. Unknown keys are rejected.
func LoadConfig(path string) (*Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open config: %w", err)
	}
	defer f.Close()

	var cfg Config
	dec := yaml.NewDecoder(f)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// Options turns the config into Connect options. Zero fields are skipped.
func (c *Config) Options() []Option {
	var opts []Option
	if c.Adapter != "" {
		opts = append(opts, WithAdapter(c.Adapter))
	}
	if c.Timeout > 0 {
		opts = append(opts, WithTimeout(c.Timeout))
	}
	if len(c.ACL) > 0 {
		opts = append(opts, WithACL(c.ACL))
	}
	return opts
}
