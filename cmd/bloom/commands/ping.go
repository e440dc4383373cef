package commands

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"bloom/internal/domain"
)

// pingCmd round-trips a ping through the signer.
func pingCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "ping",
		Short: "Check that the remote signer is reachable",
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := activeSessionID(sessionID)
			if err != nil {
				return err
			}
			start := time.Now()
			if _, err := wire.Signer.SendRequest(cmd.Context(), id, domain.MethodPing, nil, ""); err != nil {
				return err
			}
			fmt.Printf("pong in %s\n", time.Since(start).Round(time.Millisecond))
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: active session)")
	return cmd
}
