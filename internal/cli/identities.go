package cli

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/pendergraft/rolewarden/internal/storage"
	"github.com/pendergraft/rolewarden/internal/validation"
)

func createIdentitiesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "identities",
		Short: "Manage identity links",
	}

	cmd.AddCommand(createIdentitiesListCmd())
	cmd.AddCommand(createIdentitiesUnlinkCmd())

	return cmd
}

func createIdentitiesListCmd() *cobra.Command {
	var jsonOutput bool

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List linked identities",
		Long: `List every address linked to a Discord account.

EXAMPLES:
  # Table output
  rolewarden identities list

  # Output as JSON
  rolewarden identities list --json
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentitiesList(jsonOutput)
		},
	}

	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")

	return cmd
}

func createIdentitiesUnlinkCmd() *cobra.Command {
	var address string
	var discordID string

	cmd := &cobra.Command{
		Use:   "unlink",
		Short: "Remove an identity link",
		Long: `Remove the link between an address and a Discord account.

Unlinking does not revoke granted roles and does not delete stored
verification records for the address.

EXAMPLES:
  rolewarden identities unlink --address 0xabc...
  rolewarden identities unlink --discord-id 123456789012345678
`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runIdentitiesUnlink(address, discordID)
		},
	}

	cmd.Flags().StringVar(&address, "address", "", "linked address to unlink")
	cmd.Flags().StringVar(&discordID, "discord-id", "", "Discord account ID to unlink")

	return cmd
}

func runIdentitiesList(jsonOutput bool) error {
	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	links, err := store.ListLinks(ctx)
	if err != nil {
		return fmt.Errorf("listing identities: %w", err)
	}

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(map[string]any{
			"identities": links,
			"count":      len(links),
		})
	}

	if len(links) == 0 {
		fmt.Println("No identities linked")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "ADDRESS\tDISCORD ID\tATTEMPTS\tCREATED")
	for _, l := range links {
		fmt.Fprintf(w, "%s\t%s\t%d\t%s\n", l.Address, l.DiscordID, l.Attempts, l.CreatedAt)
	}
	w.Flush()

	return nil
}

func runIdentitiesUnlink(address, discordID string) error {
	if (address == "") == (discordID == "") {
		return fmt.Errorf("provide exactly one of --address or --discord-id")
	}

	ctx := context.Background()

	store, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer store.Close()

	if address != "" {
		address = validation.NormalizeAddress(address)
		if err := validation.ValidateAddress(address); err != nil {
			return err
		}
	} else {
		link, err := store.GetLinkByDiscordID(ctx, discordID)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				return fmt.Errorf("no link found for Discord ID %s", discordID)
			}
			return fmt.Errorf("looking up link: %w", err)
		}
		address = link.Address
	}

	if err := store.DeleteLink(ctx, address); err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no link found for %s", address)
		}
		return fmt.Errorf("deleting link: %w", err)
	}

	fmt.Printf("✅ Unlinked %s\n", address)
	return nil
}
