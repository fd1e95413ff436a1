package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/homeatlas/homeatlas/pkg/entities"
)

var flagTransitionReason string

// statusCmd groups lifecycle operations.
var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Manage entity lifecycle status",
}

var statusSweepCmd = &cobra.Command{
	Use:   "sweep",
	Short: "Deactivate entities idle past their grace period",
	RunE:  runStatusSweep,
}

var statusTransitionCmd = &cobra.Command{
	Use:   "transition <entity-id> <status>",
	Short: "Manually transition an entity, cascading to dependents",
	Args:  cobra.ExactArgs(2),
	RunE:  runStatusTransition,
}

func init() {
	statusTransitionCmd.Flags().StringVar(&flagTransitionReason, "reason", "", "reason recorded on the transition (required)")
	_ = statusTransitionCmd.MarkFlagRequired("reason")

	statusCmd.AddCommand(statusSweepCmd, statusTransitionCmd)
	rootCmd.AddCommand(statusCmd)
}

func runStatusSweep(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	res, err := engine.Lifecycle().Sweep(ctx)
	if err != nil {
		return err
	}

	total := 0
	for t, n := range res.Deactivated {
		fmt.Printf("Deactivated %d %s entities\n", n, t)
		total += n
	}
	if res.Proposed > 0 {
		fmt.Printf("Proposed %d inactivation changes for review\n", res.Proposed)
	}
	if res.Skipped > 0 {
		fmt.Printf("Skipped %d entities with newer manual changes\n", res.Skipped)
	}
	if total == 0 && res.Proposed == 0 {
		fmt.Println("Nothing to sweep")
	}
	return nil
}

func runStatusTransition(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Lifecycle().Transition(ctx, args[0], entities.Status(args[1]), flagTransitionReason); err != nil {
		return err
	}
	fmt.Printf("Transitioned %s to %s\n", args[0], args[1])
	return nil
}
