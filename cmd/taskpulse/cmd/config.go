package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/brianly1003/taskpulse/internal/config"
)

// configCmd prints the effective configuration.
var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Display configuration",
	Long: `Display the effective taskpulse configuration.

Defaults, the config file and TASKPULSE_* environment variables are
merged before printing. Secret values are never part of the config;
only the names they are resolved under are shown.

Examples:
  taskpulse config              # Show effective config as YAML
  taskpulse config path         # Show config search paths
  taskpulse config get push.workers`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		return printConfig(cmd.OutOrStdout(), cfg)
	},
}

// configPathCmd shows config file locations.
var configPathCmd = &cobra.Command{
	Use:   "path",
	Short: "Show config file search paths",
	Run: func(cmd *cobra.Command, args []string) {
		out := cmd.OutOrStdout()
		fmt.Fprintln(out, "Config search paths (in order):")
		for i, loc := range configSearchPaths() {
			exists := "not found"
			if _, err := os.Stat(loc); err == nil {
				exists = "exists"
			}
			fmt.Fprintf(out, "  %d. %s (%s)\n", i+1, loc, exists)
		}
	},
}

// configGetCmd gets a config value.
var configGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Get a configuration value",
	Long: `Get a configuration value by key.

Keys use dot notation and the names from the config file.

Examples:
  taskpulse config get server.port
  taskpulse config get broker.driver
  taskpulse config get push.retry_delays`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return fmt.Errorf("failed to load config: %w", err)
		}
		value, err := getConfigValue(cfg, args[0])
		if err != nil {
			return err
		}
		return printValue(cmd.OutOrStdout(), value)
	},
}

func init() {
	configCmd.AddCommand(configPathCmd)
	configCmd.AddCommand(configGetCmd)
}

func printConfig(w io.Writer, cfg *config.Config) error {
	enc := yaml.NewEncoder(w)
	enc.SetIndent(2)
	if err := enc.Encode(cfg); err != nil {
		return fmt.Errorf("failed to encode config: %w", err)
	}
	return enc.Close()
}

func printValue(w io.Writer, v interface{}) error {
	out, err := yaml.Marshal(v)
	if err != nil {
		return err
	}
	_, err = w.Write(out)
	return err
}

func configSearchPaths() []string {
	if cfgFile != "" {
		return []string{cfgFile}
	}
	paths := []string{"./config.yaml"}
	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths, home+"/.taskpulse/config.yaml")
	}
	return append(paths, "/etc/taskpulse/config.yaml")
}

// getConfigValue walks the YAML form of cfg along a dotted key.
func getConfigValue(cfg *config.Config, key string) (interface{}, error) {
	raw, err := yaml.Marshal(cfg)
	if err != nil {
		return nil, err
	}
	var node interface{}
	if err := yaml.Unmarshal(raw, &node); err != nil {
		return nil, err
	}

	for _, part := range strings.Split(key, ".") {
		m, ok := node.(map[string]interface{})
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
		node, ok = m[part]
		if !ok {
			return nil, fmt.Errorf("unknown config key: %s", key)
		}
	}
	return node, nil
}
