package cmd

import (
	"fmt"
	"sort"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/beaconsec/identra/internal/credentials"
)

var vaultCmd = &cobra.Command{
	Use:   "vault",
	Short: "Manage encrypted provider credentials",
	Long: `Manage the AES-GCM encrypted credential vault.

Secrets are keyed "provider.field", e.g. okta.api_token. The vault
passphrase is read from the environment variable named by
credentials.master_key_env (default IDENTRA_VAULT_KEY).

Example:
  identra vault set okta.api_token SSWS-token-here
  identra vault list`,
}

var vaultSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Store one secret in the vault",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, err := credentials.Open(cfg.Credentials, log)
		if err != nil {
			return err
		}
		vault.Set(args[0], args[1])
		if err := vault.Save(); err != nil {
			return err
		}
		color.Green("Stored %s\n", args[0])
		return nil
	},
}

var vaultGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print one secret from the vault",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, err := credentials.Open(cfg.Credentials, log)
		if err != nil {
			return err
		}
		value := vault.Get(args[0])
		if value == "" {
			return fmt.Errorf("no secret stored under %q", args[0])
		}
		fmt.Println(value)
		return nil
	},
}

var vaultListCmd = &cobra.Command{
	Use:   "list",
	Short: "List stored secret names",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		vault, err := credentials.Open(cfg.Credentials, log)
		if err != nil {
			return err
		}
		keys := vault.Keys()
		if len(keys) == 0 {
			color.Yellow("Vault is empty\n")
			return nil
		}
		sort.Strings(keys)
		for _, key := range keys {
			fmt.Println(key)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(vaultCmd)
	vaultCmd.AddCommand(vaultSetCmd)
	vaultCmd.AddCommand(vaultGetCmd)
	vaultCmd.AddCommand(vaultListCmd)
}
