package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pubkeyCmd fetches and stores the user's public key from the signer.
func pubkeyCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "pubkey",
		Short: "Fetch the user's public key from the remote signer",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := activeSessionID(sessionID)
			if err != nil {
				return err
			}
			pk, err := wire.Signer.FetchUserPublicKey(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Println(pk)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: active session)")
	return cmd
}
