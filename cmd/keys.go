package cmd

import (
	"encoding/base64"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/example/court-scheduler/internal/session"
)

func newKeysCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "keys",
		Short: "Generate a SESSION_SECRET for sealing the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			secret := session.GenerateSecret()
			if secret == nil {
				return fmt.Errorf("could not read random bytes")
			}
			fmt.Fprintf(cmd.OutOrStdout(), "export SESSION_SECRET=%s\n", base64.RawURLEncoding.EncodeToString(secret))
			return nil
		},
	}
}
