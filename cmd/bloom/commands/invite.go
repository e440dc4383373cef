package commands

import (
	"fmt"
	"os"

	qrterminal "github.com/mdp/qrterminal/v3"
	"github.com/spf13/cobra"

	"bloom/internal/domain"
	"bloom/internal/services/signer"
)

// inviteCmd creates a client-initiated pairing and prints the invitation
// URI as text and QR code for the signer to scan.
func inviteCmd() *cobra.Command {
	var (
		secret string
		perms  []string
		name   string
		noQR   bool
	)
	cmd := &cobra.Command{
		Use:   "invite",
		Short: "Create a pairing invitation for a remote signer",
		RunE: func(cmd *cobra.Command, args []string) error {
			inv, err := wire.Signer.CreateInvitation(cmd.Context(), signer.InvitationOptions{
				Relays:   relays,
				Secret:   secret,
				Perms:    perms,
				Metadata: domain.SessionMetadata{Name: name},
			})
			if err != nil {
				return err
			}

			fmt.Printf("Session %s created, waiting for the signer to connect.\n\n", inv.Session.ID)
			fmt.Println(inv.URI)
			if !noQR {
				fmt.Println()
				qrterminal.GenerateWithConfig(inv.URI, qrterminal.Config{
					Level:     qrterminal.M,
					Writer:    os.Stdout,
					BlackChar: qrterminal.BLACK,
					WhiteChar: qrterminal.WHITE,
					QuietZone: 1,
				})
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&secret, "secret", "", "pairing secret (random when empty)")
	cmd.Flags().StringSliceVar(&perms, "perm", nil, "extra permission (repeatable)")
	cmd.Flags().StringVar(&name, "name", "bloom", "application name shown by the signer")
	cmd.Flags().BoolVar(&noQR, "no-qr", false, "skip the QR code")
	return cmd
}
