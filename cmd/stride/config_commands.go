package main

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/pelletier/go-toml/v2"
	"github.com/spf13/cobra"

	"stride/internal/config"
	"stride/internal/preflight"
)

const redacted = "<redacted>"

func newConfigCommand(ctx *commandContext) *cobra.Command {
	configCmd := &cobra.Command{
		Use:   "config",
		Short: "Create, check, or print the configuration",
	}
	configCmd.AddCommand(
		newConfigInitCommand(),
		newConfigValidateCommand(ctx),
		newConfigShowCommand(ctx),
	)
	return configCmd
}

// configTarget resolves the destination for config init, defaulting to the
// per-user location.
func configTarget(raw string) (string, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		path, err := config.DefaultConfigPath()
		if err != nil {
			return "", fmt.Errorf("determine default config path: %w", err)
		}
		return path, nil
	}
	path, err := config.ExpandPath(raw)
	if err != nil {
		return "", fmt.Errorf("resolve config path: %w", err)
	}
	return path, nil
}

func newConfigInitCommand() *cobra.Command {
	var (
		targetPath string
		overwrite  bool
	)
	cmd := &cobra.Command{
		Use:         "init",
		Short:       "Write a commented sample configuration",
		Annotations: map[string]string{skipConfigLoadAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			target, err := configTarget(targetPath)
			if err != nil {
				return err
			}
			if !overwrite {
				switch _, err := os.Stat(target); {
				case err == nil:
					return fmt.Errorf("config file already exists at %s (use --overwrite to replace it)", target)
				case !errors.Is(err, fs.ErrNotExist):
					return fmt.Errorf("check config path: %w", err)
				}
			}
			if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
				return fmt.Errorf("create config directory: %w", err)
			}
			if err := config.CreateSample(target); err != nil {
				return fmt.Errorf("create sample config: %w", err)
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Wrote sample configuration to %s\nSet analysis.engine and gateway.url before starting strided.\n", target)
			return nil
		},
	}
	cmd.Flags().StringVarP(&targetPath, "path", "p", "", "Destination for the configuration file")
	cmd.Flags().BoolVar(&overwrite, "overwrite", false, "Replace an existing configuration file")
	return cmd
}

func newConfigValidateCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:         "validate",
		Short:       "Load the configuration and check its directories",
		Annotations: map[string]string{skipConfigLoadAnnotation: "true"},
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, path, exists, err := config.Load(strings.TrimSpace(ctx.flags.config))
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			if err := cfg.EnsureDirectories(); err != nil {
				return fmt.Errorf("ensure directories: %w", err)
			}

			sw := newStatusWriter(cmd.OutOrStdout())
			sw.header("Configuration")
			if exists {
				sw.line("File", statusOK, path)
			} else {
				sw.line("File", statusWarn, path+" (missing; defaults were used)")
			}
			sw.line("Analysis engine", statusInfo, orDash(cfg.Analysis.Engine))
			sw.line("Gateway", statusInfo, orDash(cfg.Gateway.URL))
			checks := preflight.Directories(cfg)
			for _, check := range checks {
				kind := statusOK
				if !check.Passed {
					kind = statusError
				}
				sw.line(check.Name, kind, check.Detail)
			}
			if failed := preflight.Failed(checks); len(failed) > 0 {
				return fmt.Errorf("%d directory check(s) failed", len(failed))
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Configuration valid")
			return nil
		},
	}
}

func newConfigShowCommand(ctx *commandContext) *cobra.Command {
	var reveal bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration as TOML",
		RunE: func(cmd *cobra.Command, _ []string) error {
			loaded, err := ctx.ensureConfig()
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			cfg := *loaded
			if !reveal {
				redactSecrets(&cfg)
			}
			data, err := toml.Marshal(cfg)
			if err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			_, err = cmd.OutOrStdout().Write(data)
			return err
		},
	}
	cmd.Flags().BoolVar(&reveal, "show-secrets", false, "Print tokens and API keys unmasked")
	return cmd
}

func redactSecrets(cfg *config.Config) {
	for _, secret := range []*string{&cfg.Paths.APIToken, &cfg.Gateway.APIKey, &cfg.Analysis.APIKey} {
		if *secret != "" {
			*secret = redacted
		}
	}
}
