package cli

import (
	"fmt"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/Paintersrp/streamsup/internal/cliutil"
	"github.com/Paintersrp/streamsup/internal/config"
)

const redactedValue = "[redacted]"

func newConfigCmd(ctx *context) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Work with streamsup configuration files",
	}
	cmd.AddCommand(newConfigValidateCmd(ctx))
	cmd.AddCommand(newConfigShowCmd(ctx))
	return cmd
}

func newConfigValidateCmd(ctx *context) *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Validate a configuration file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if ctx.configPath == "" {
				return fmt.Errorf("--config is required")
			}
			cfg, err := ctx.loadConfig()
			if err != nil {
				fmt.Fprintln(cmd.ErrOrStderr(), err)
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s: OK\n", cfg.Source)
			return nil
		},
	}
}

func newConfigShowCmd(ctx *context) *cobra.Command {
	var showSecrets bool
	cmd := &cobra.Command{
		Use:   "show",
		Short: "Print the effective configuration with defaults applied",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := ctx.loadConfig()
			if err != nil {
				return err
			}
			if !showSecrets {
				redactConfig(cfg)
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			enc.SetIndent(2)
			if err := enc.Encode(cfg); err != nil {
				return fmt.Errorf("encode config: %w", err)
			}
			return enc.Close()
		},
	}
	cmd.Flags().BoolVar(&showSecrets, "show-secrets", false, "Print destination credentials and env values unmasked")
	return cmd
}

func redactConfig(cfg *config.Config) {
	cfg.Stream.Destination = cliutil.RedactURL(cfg.Stream.Destination)
	for k := range cfg.Stream.Env {
		cfg.Stream.Env[k] = redactedValue
	}
}
