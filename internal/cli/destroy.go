package cli

import (
	"bufio"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var flagAutoApprove bool

var destroyCmd = &cobra.Command{
	Use:   "destroy [scope/path]",
	Short: "Destroy managed resources",
	Long: `Destroys every resource recorded under the given scope path, deepest
scope first. With no argument the whole root scope is destroyed.

Records marked retain are removed from state without touching the remote
object.`,
	Args: cobra.MaximumNArgs(1),
	RunE: runDestroy,
}

func init() {
	destroyCmd.Flags().BoolVar(&flagAutoApprove, "auto-approve", false, "skip the confirmation prompt")
	destroyCmd.Flags().StringP("id", "i", "", "destroy a single resource by logical id within the scope")
}

func runDestroy(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	eng, err := newEngine(store)
	if err != nil {
		return err
	}

	var scopePath []string
	if len(args) == 1 {
		scopePath = parseScopePath(args[0])
	}
	scope, err := eng.Root().Descend(scopePath...)
	if err != nil {
		return err
	}

	if id, _ := cmd.Flags().GetString("id"); id != "" {
		if !confirmDestroy(fmt.Sprintf("resource %s", formatAddress(scopePath, id))) {
			fmt.Println("Destroy cancelled.")
			return nil
		}
		if err := eng.DestroyResource(ctx, scope, id); err != nil {
			return err
		}
		fmt.Printf("Destroyed %s\n", formatAddress(scopePath, id))
		return nil
	}

	records, err := store.List(ctx, scopePath)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No resources in state, nothing to destroy.")
		return nil
	}

	fmt.Printf("The following %d resource(s) will be destroyed:\n\n", len(records))
	for _, rec := range records {
		note := ""
		if rec.Retain {
			note = " (retained: removed from state only)"
		}
		fmt.Printf("  - %s (%s)%s\n", formatAddress(rec.ScopePath, rec.ID), rec.Kind, note)
	}
	fmt.Println()

	target := "all managed resources"
	if len(scopePath) > 0 {
		target = fmt.Sprintf("scope %s", strings.Join(scopePath, "/"))
	}
	if !confirmDestroy(target) {
		fmt.Println("Destroy cancelled.")
		return nil
	}

	if err := eng.Destroy(ctx, scope); err != nil {
		return err
	}
	fmt.Printf("Destroy complete. %d resource(s) deleted.\n", len(records))
	return nil
}

func confirmDestroy(target string) bool {
	if flagAutoApprove {
		return true
	}
	fmt.Printf("Destroy %s? Only 'yes' will be accepted: ", target)
	line, err := bufio.NewReader(os.Stdin).ReadString('\n')
	if err != nil {
		return false
	}
	return strings.TrimSpace(line) == "yes"
}
