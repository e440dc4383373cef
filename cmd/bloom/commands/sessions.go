package commands

import (
	"fmt"

	"github.com/spf13/cobra"
)

func sessionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "sessions",
		Short: "Inspect and manage pairings",
		RunE: func(cmd *cobra.Command, args []string) error {
			snap := wire.Sessions.Snapshot()
			if len(snap.Sessions) == 0 {
				fmt.Println("No sessions. Run `bloom invite` or `bloom pair`.")
				return nil
			}
			for _, s := range snap.Sessions {
				marker := " "
				if s.ID == snap.ActiveSessionID {
					marker = "*"
				}
				fmt.Printf("%s %-10s %s\n", marker, s.Status, s.ID)
				if s.Metadata.Name != "" {
					fmt.Printf("    app:    %s\n", s.Metadata.Name)
				}
				fmt.Printf("    relays: %v\n", s.Relays)
				if s.LastError != nil {
					fmt.Printf("    error:  %s\n", *s.LastError)
				}
				if s.AuthChallengeURL != nil {
					fmt.Printf("    approve at: %s\n", *s.AuthChallengeURL)
				}
			}
			return nil
		},
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "use <session-id>",
		Short: "Make a session the active one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.Sessions.SetActive(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "rm <session-id>",
		Short: "Remove a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return wire.Sessions.Remove(cmd.Context(), args[0])
		},
	})
	cmd.AddCommand(&cobra.Command{
		Use:   "connect <session-id>",
		Short: "Re-run the connect handshake for a session",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sess, err := wire.Signer.ConnectSession(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Printf("Session %s is %s\n", sess.ID, sess.Status)
			return nil
		},
	})
	return cmd
}
