package main

import (
	"fmt"
	"os"

	"github.com/ethpandaops/dbbot/pkg/config"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"
)

const redacted = "<redacted>"

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Print the effective configuration",
	Long: `Print the configuration after merging config files, defaults and
DBBOT_* environment overrides. Secrets are redacted.`,
	Args: cobra.NoArgs,
	RunE: runConfig,
}

func init() {
	rootCmd.AddCommand(configCmd)
}

func runConfig(_ *cobra.Command, _ []string) error {
	cfg, err := loadConfig("")
	if err != nil {
		return err
	}

	enc := yaml.NewEncoder(os.Stdout)
	enc.SetIndent(2)

	if err := enc.Encode(redactSecrets(cfg)); err != nil {
		return fmt.Errorf("encoding config: %w", err)
	}

	return enc.Close()
}

// redactSecrets returns a copy of cfg with credentials masked.
func redactSecrets(cfg *config.Config) *config.Config {
	cp := *cfg

	if cp.Database.Postgres.Password != "" {
		cp.Database.Postgres.Password = redacted
	}

	if cp.Upload.S3.SecretAccessKey != "" {
		cp.Upload.S3.SecretAccessKey = redacted
	}

	users := make([]config.BasicAuthUser, len(cp.API.Auth.Basic.Users))
	for i, u := range cp.API.Auth.Basic.Users {
		users[i] = config.BasicAuthUser{Username: u.Username, PasswordHash: redacted}
	}

	cp.API.Auth.Basic.Users = users

	return &cp
}
