package commands

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"bloom/internal/domain"
)

// activeSessionID resolves the explicit --session flag or falls back to
// the active pointer.
func activeSessionID(flag string) (string, error) {
	if flag != "" {
		return flag, nil
	}
	sess, ok := wire.Sessions.GetActiveSession()
	if !ok {
		return "", errors.New("no active session; pair first or pass --session")
	}
	return sess.ID, nil
}

// signCmd asks the remote signer to sign an event given as JSON.
func signCmd() *cobra.Command {
	var sessionID string
	cmd := &cobra.Command{
		Use:   "sign [event-json]",
		Short: "Have the remote signer sign an event (reads stdin without an argument)",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var eventJSON string
			if len(args) == 1 {
				eventJSON = args[0]
			} else {
				raw, err := io.ReadAll(os.Stdin)
				if err != nil {
					return err
				}
				eventJSON = string(raw)
			}

			id, err := activeSessionID(sessionID)
			if err != nil {
				return err
			}
			resp, err := wire.Signer.SendRequest(cmd.Context(), id, domain.MethodSignEvent, []string{eventJSON}, "")
			if err != nil {
				return err
			}
			fmt.Println(resp.Result)
			return nil
		},
	}
	cmd.Flags().StringVar(&sessionID, "session", "", "session id (default: active session)")
	return cmd
}
