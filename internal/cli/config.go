package cli

import (
	"fmt"

	"github.com/dairui1/vdt/internal/config"
	"github.com/spf13/cobra"
)

var configCmd = &cobra.Command{
	Use:   "config [key] [value]",
	Short: "Show or modify configuration",
	Long: `View or change vdt configuration stored in ~/.vdt/config.toml.

With no arguments, shows all configuration settings.
With one argument, shows the value of that key.
With two arguments, sets the key to the given value.

Settings:
  root               Session root directory (default .vdt)
  db_path            Path to the SQLite database (default <root>/vdt.db)
  default_format     Default output format: "table" or "json"
  log_level          Log level: debug, info, warn, error
  window_size        Error window size in events (default 50)
  window_stride      Error window stride (default window_size/2)
  density_threshold  Minimum error density of a window (default 0.1)
  max_retries        Reasoner retries after the first attempt (default 2)

Backend settings live in <root>/reasoners.toml; see vdt backends.`,
	Example: `  vdt config
  vdt config root
  vdt config root /tmp/vdt
  vdt config window_size 100
  vdt config max_retries 0
  vdt config default_format json`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := config.LoadFrom(configPath)
		if err != nil {
			return fmt.Errorf("load config: %w", err)
		}

		switch len(args) {
		case 0:
			return showConfig(cmd, c)
		case 1:
			return getConfig(cmd, c, args[0])
		default:
			return setConfig(cmd, c, args[0], args[1])
		}
	},
}

// configPath is the path to the config file, set by --config.
var configPath string

func init() {
	rootCmd.AddCommand(configCmd)
}

func showConfig(cmd *cobra.Command, c *config.Config) error {
	if jsonOutput {
		return printJSON(cmd.OutOrStdout(), c)
	}

	tbl := NewTable(cmd.OutOrStdout(), "KEY", "VALUE")
	for _, key := range config.ValidKeys() {
		val, _ := c.Get(key)
		if val == "" {
			val = "(not set)"
		}
		tbl.Row(key, val)
	}
	return tbl.Flush()
}

func getConfig(cmd *cobra.Command, c *config.Config, key string) error {
	val, err := c.Get(key)
	if err != nil {
		return err
	}
	if val == "" {
		return nil
	}
	fmt.Fprintln(cmd.OutOrStdout(), val)
	return nil
}

func setConfig(cmd *cobra.Command, c *config.Config, key, value string) error {
	if err := c.Set(key, value); err != nil {
		return err
	}
	if err := c.SaveTo(configPath); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "%s = %s\n", key, value)
	return nil
}
