package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Aman-CERP/amanrag/internal/config"
	"github.com/Aman-CERP/amanrag/internal/output"
)

func newConfigCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
		Long: `Manage the user configuration file and inspect effective settings.

Configuration precedence (lowest to highest):
  1. Built-in defaults
  2. User config (~/.config/amanrag/config.yaml)
  3. Project config (.amanrag.yaml)
  4. .env in the project directory
  5. Environment variables (AMANRAG_*)`,
		Example: `  amanrag config init
  amanrag config show --json
  amanrag config show --source user
  amanrag config path`,
	}

	cmd.AddCommand(newConfigInitCmd())
	cmd.AddCommand(newConfigShowCmd())
	cmd.AddCommand(newConfigPathCmd())
	return cmd
}

func newConfigInitCmd() *cobra.Command {
	var force bool

	cmd := &cobra.Command{
		Use:   "init",
		Short: "Create the user configuration file",
		Long: `Write the default configuration to ~/.config/amanrag/config.yaml
($XDG_CONFIG_HOME/amanrag/config.yaml when XDG_CONFIG_HOME is set).

With --force an existing file is backed up, then rewritten with current
defaults filled in around your settings.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigInit(cmd, force)
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "Back up and rewrite an existing configuration")
	return cmd
}

func runConfigInit(cmd *cobra.Command, force bool) error {
	out := output.New(cmd.OutOrStdout())
	path := config.GetUserConfigPath()

	if !config.UserConfigExists() {
		if err := config.NewConfig().WriteYAML(path); err != nil {
			return err
		}
		out.Success("Created user configuration")
		out.Statusf("📁", "Location: %s", path)
		return nil
	}

	if !force {
		out.Warning("User configuration already exists")
		out.Statusf("📁", "Location: %s", path)
		out.Status("💡", "Use --force to back it up and rewrite it with current defaults")
		return nil
	}

	backup, err := config.BackupFile(path, time.Now())
	if err != nil {
		return err
	}
	existing, err := config.LoadUserConfig()
	if err != nil {
		return err
	}
	// Decoding over the defaults keeps user values and fills new fields.
	merged := config.NewConfig()
	if existing != nil {
		data, err := os.ReadFile(path)
		if err != nil {
			return fmt.Errorf("failed to read user config: %w", err)
		}
		if err := yaml.Unmarshal(data, merged); err != nil {
			return fmt.Errorf("failed to parse user config: %w", err)
		}
	}
	if err := merged.WriteYAML(path); err != nil {
		return err
	}

	out.Success("Configuration rewritten")
	out.Statusf("📁", "Location: %s", path)
	out.Statusf("💾", "Backup: %s", backup)
	return nil
}

func newConfigShowCmd() *cobra.Command {
	var (
		jsonOutput bool
		source     string
	)

	cmd := &cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runConfigShow(cmd, jsonOutput, source)
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "Output as JSON")
	cmd.Flags().StringVar(&source, "source", "merged", "Config source: merged, user, project, defaults")
	return cmd
}

func runConfigShow(cmd *cobra.Command, jsonOutput bool, source string) error {
	format := output.FormatText
	if jsonOutput {
		format = output.FormatJSON
	}
	out := output.NewWithFormat(cmd.OutOrStdout(), format)

	var cfg *config.Config
	switch source {
	case "merged":
		var err error
		if cfg, err = loadConfig(); err != nil {
			return err
		}
	case "defaults":
		cfg = config.NewConfig()
	case "user":
		path := config.GetUserConfigPath()
		if !config.UserConfigExists() {
			out.Warning("No user configuration file found")
			out.Statusf("💡", "Run 'amanrag config init' to create %s", path)
			return nil
		}
		var err error
		if cfg, err = readConfigFile(path); err != nil {
			return err
		}
	case "project":
		dir, err := projectDir()
		if err != nil {
			return err
		}
		path := filepath.Join(dir, config.ProjectConfigFile)
		if _, err := os.Stat(path); err != nil {
			alt := filepath.Join(dir, config.ProjectConfigFileAlt)
			if _, altErr := os.Stat(alt); altErr != nil {
				out.Warningf("No %s found in %s", config.ProjectConfigFile, dir)
				return nil
			}
			path = alt
		}
		if cfg, err = readConfigFile(path); err != nil {
			return err
		}
	default:
		return fmt.Errorf("unknown source %q (use merged, user, project or defaults)", source)
	}

	data, err := yaml.Marshal(cfg)
	if err != nil {
		return fmt.Errorf("failed to marshal config: %w", err)
	}
	return out.Result(cfg, string(data))
}

// readConfigFile parses one YAML file without defaults or overrides.
func readConfigFile(path string) (*config.Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", path, err)
	}
	var cfg config.Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", path, err)
	}
	return &cfg, nil
}

// projectDir is --config-dir, or the project root above the working
// directory.
func projectDir() (string, error) {
	if configDir != "" {
		return configDir, nil
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", err
	}
	return config.FindProjectRoot(cwd)
}

func newConfigPathCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "path",
		Short: "Print the user config file path",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, err := fmt.Fprintln(cmd.OutOrStdout(), config.GetUserConfigPath())
			return err
		},
	}
}
