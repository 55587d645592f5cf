package commands

import (
	"fmt"
	"os"

	"github.com/caarlos0/env/v11"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/kode4food/changemaster"
)

// loadConfig layers the defaults, the YAML file, CHANGEMASTER_ variables
// and explicitly set flags, in that order
func loadConfig(cmd *cobra.Command, g *globalFlags) (changemaster.Config, error) {
	cfg := changemaster.DefaultConfig()

	if g.config != "" {
		data, err := os.ReadFile(g.config)
		if err != nil {
			return cfg, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return cfg, fmt.Errorf("parse config %s: %w", g.config, err)
		}
	}

	if err := env.ParseWithOptions(&cfg, env.Options{
		Prefix: changemaster.EnvPrefix,
	}); err != nil {
		return cfg, fmt.Errorf("parse environment: %w", err)
	}

	flags := cmd.Flags()
	if flags.Changed("backend") {
		cfg.Store.Backend = g.backend
	}
	if flags.Changed("dsn") {
		cfg.Store.DSN = g.dsn
	}
	if flags.Changed("path") {
		cfg.Store.Path = g.path
	}
	if flags.Changed("addr") {
		cfg.Store.Addr = g.addr
	}
	return cfg, nil
}
