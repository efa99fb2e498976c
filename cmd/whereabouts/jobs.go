package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/systemshift/whereabouts/internal/batch"
	"github.com/systemshift/whereabouts/internal/client"
	"github.com/systemshift/whereabouts/internal/location"
)

var relateGroupCmd = &cobra.Command{
	Use:   "relate-group <group-csid>",
	Short: "Relate every object in a group to the group's movement",
	Long: `Relate every object in a group to the single movement related to the group.
Objects already related to that movement are skipped, so the job can be run
again safely. The outcome is printed as JSON.`,
	Args: cobra.ExactArgs(1),
	RunE: runRelateGroup,
}

var recomputeCmd = &cobra.Command{
	Use:   "recompute <item-csid>",
	Short: "Recompute the current location of one item",
	Args:  cobra.ExactArgs(1),
	RunE:  runRecompute,
}

func runRelateGroup(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	out, err := relateGroup(ctx, args[0])
	if err != nil {
		return err
	}
	if err := printJSON(out); err != nil {
		return err
	}
	if !out.OK() {
		return fmt.Errorf("%s", out.Message)
	}
	return nil
}

func relateGroup(ctx context.Context, groupID string) (batch.Outcome, error) {
	if rootFlags.server != "" {
		return client.New(rootFlags.server).RelateMovementToGroup(ctx, groupID)
	}
	a, err := newApp(ctx)
	if err != nil {
		return batch.Outcome{}, err
	}
	defer a.Close(context.Background())
	return a.linker.Run(ctx, groupID), nil
}

func runRecompute(cmd *cobra.Command, args []string) error {
	ctx := commandContext(cmd)
	upd, err := recompute(ctx, args[0])
	if err != nil {
		return err
	}
	return printJSON(upd)
}

func recompute(ctx context.Context, itemID string) (*location.Update, error) {
	if rootFlags.server != "" {
		return client.New(rootFlags.server).RecomputeLocation(ctx, itemID)
	}
	a, err := newApp(ctx)
	if err != nil {
		return nil, err
	}
	defer a.Close(context.Background())
	return a.resolver.RecomputeItem(ctx, itemID)
}

func commandContext(cmd *cobra.Command) context.Context {
	if ctx := cmd.Context(); ctx != nil {
		return ctx
	}
	return context.Background()
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
