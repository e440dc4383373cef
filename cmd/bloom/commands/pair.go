package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

// pairCmd pairs from a signer-issued bunker:// URI and runs the connect
// handshake.
func pairCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "pair <bunker-uri>",
		Short: "Pair with a remote signer from its bunker:// URI",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := wire.Signer.PairWithURI(cmd.Context(), args[0])
			if err != nil {
				return fmt.Errorf("pairing failed: %w", err)
			}
			fmt.Printf("Paired. Session %s is %s, user pubkey %s\n", sess.ID, sess.Status, sess.UserPubkey)
			return nil
		},
	}
}
