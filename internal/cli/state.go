package cli

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"

	"github.com/spf13/cobra"

	"github.com/convergent-io/convergent/internal/state"
)

var stateCmd = &cobra.Command{
	Use:   "state",
	Short: "Inspect and modify stored resource records",
}

var stateListCmd = &cobra.Command{
	Use:   "list [scope/path]",
	Short: "List resource records, optionally under a scope path",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runStateList,
}

var stateShowCmd = &cobra.Command{
	Use:   "show <scope/path/id>",
	Short: "Show a single resource record",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateShow,
}

var stateRmCmd = &cobra.Command{
	Use:   "rm <scope/path/id>",
	Short: "Remove a record from state (does not destroy the remote object)",
	Args:  cobra.ExactArgs(1),
	RunE:  runStateRm,
}

func init() {
	stateCmd.AddCommand(stateListCmd)
	stateCmd.AddCommand(stateShowCmd)
	stateCmd.AddCommand(stateRmCmd)
}

func runStateList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	var scopePath []string
	if len(args) == 1 {
		scopePath = parseScopePath(args[0])
	}

	records, err := store.List(ctx, scopePath)
	if err != nil {
		return fmt.Errorf("failed to read state: %w", err)
	}
	if len(records) == 0 {
		fmt.Println("No resources in state.")
		return nil
	}

	sort.Slice(records, func(i, j int) bool {
		return state.Key(records[i].ScopePath, records[i].ID) < state.Key(records[j].ScopePath, records[j].ID)
	})
	for _, rec := range records {
		fmt.Printf("  %s (%s, %s)\n", formatAddress(rec.ScopePath, rec.ID), rec.Kind, rec.Status)
	}
	fmt.Printf("\nTotal: %d resource(s)\n", len(records))
	return nil
}

func runStateShow(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	scopePath, id, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	rec, err := store.Get(ctx, scopePath, id)
	if err != nil {
		if errors.Is(err, state.ErrRecordNotFound) {
			return fmt.Errorf("resource %s not found in state", args[0])
		}
		return fmt.Errorf("failed to read state: %w", err)
	}

	// Secret values stay as ciphertext envelopes; show never decrypts.
	raw, err := json.MarshalIndent(rec, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(raw))
	return nil
}

func runStateRm(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()

	store, closeStore, err := openStore(ctx)
	if err != nil {
		return err
	}
	defer closeStore()

	scopePath, id, err := parseAddress(args[0])
	if err != nil {
		return err
	}

	if _, err := store.Get(ctx, scopePath, id); err != nil {
		if errors.Is(err, state.ErrRecordNotFound) {
			return fmt.Errorf("resource %s not found in state", args[0])
		}
		return fmt.Errorf("failed to read state: %w", err)
	}
	if err := store.Delete(ctx, scopePath, id); err != nil {
		return fmt.Errorf("failed to remove record: %w", err)
	}

	fmt.Printf("Removed %s from state (resource was NOT destroyed)\n", args[0])
	return nil
}
