package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
	"github.com/homeatlas/homeatlas/pkg/review"
)

var (
	flagChangeStatus string
	flagChangeType   string
	flagChangeLimit  int
	flagReviewer     string
	flagNotes        string
	flagBulkAction   string
)

// changesCmd groups change review operations.
var changesCmd = &cobra.Command{
	Use:   "changes",
	Short: "Review and apply proposed changes",
}

var changesListCmd = &cobra.Command{
	Use:   "list",
	Short: "List proposed changes",
	RunE:  runChangesList,
}

var changesApproveCmd = &cobra.Command{
	Use:   "approve <change-id>",
	Short: "Approve a pending change",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangesApprove,
}

var changesRejectCmd = &cobra.Command{
	Use:   "reject <change-id>",
	Short: "Reject a pending change",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangesReject,
}

var changesApplyCmd = &cobra.Command{
	Use:   "apply <change-id>",
	Short: "Apply an approved change to the system of record",
	Args:  cobra.ExactArgs(1),
	RunE:  runChangesApply,
}

var changesAutoApproveCmd = &cobra.Command{
	Use:   "auto-approve",
	Short: "Approve pending changes above the confidence threshold",
	RunE:  runChangesAutoApprove,
}

var changesBulkCmd = &cobra.Command{
	Use:   "bulk-review <change-id>...",
	Short: "Review multiple changes, reporting each outcome",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runChangesBulk,
}

func init() {
	changesListCmd.Flags().StringVar(&flagChangeStatus, "status", string(collection.ChangePending), "filter by status")
	changesListCmd.Flags().StringVar(&flagChangeType, "type", "", "filter by entity type")
	changesListCmd.Flags().IntVar(&flagChangeLimit, "limit", 50, "maximum changes to list")

	for _, c := range []*cobra.Command{changesApproveCmd, changesRejectCmd, changesBulkCmd} {
		c.Flags().StringVar(&flagReviewer, "reviewer", "", "reviewer identity (required)")
		c.Flags().StringVar(&flagNotes, "notes", "", "review notes")
		_ = c.MarkFlagRequired("reviewer")
	}
	changesBulkCmd.Flags().StringVar(&flagBulkAction, "action", string(review.BulkApprove), "approve, reject, or apply")

	changesCmd.AddCommand(changesListCmd, changesApproveCmd, changesRejectCmd,
		changesApplyCmd, changesAutoApproveCmd, changesBulkCmd)
	rootCmd.AddCommand(changesCmd)
}

func runChangesList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	changes, err := engine.Store().ListChanges(ctx, store.ChangeFilter{
		Status:     collection.ChangeStatus(flagChangeStatus),
		EntityType: entities.Type(flagChangeType),
		Limit:      flagChangeLimit,
	})
	if err != nil {
		return err
	}
	if len(changes) == 0 {
		fmt.Println("No changes found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tENTITY\tFIELD\tKIND\tCONFIDENCE\tSTATUS")
	for _, c := range changes {
		field := c.Field
		if c.IsNewEntity {
			field = "(new entity)"
		}
		target := c.EntityID
		if target == "" {
			target = "-"
		}
		fmt.Fprintf(w, "%s\t%s/%s\t%s\t%s\t%.2f\t%s\n",
			c.ID, c.EntityType, target, field, c.Kind, c.Confidence, c.Status)
	}
	return w.Flush()
}

func runChangesApprove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Review().Approve(ctx, args[0], flagReviewer, flagNotes); err != nil {
		return err
	}
	fmt.Printf("Approved change %s\n", args[0])
	return nil
}

func runChangesReject(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Review().Reject(ctx, args[0], flagReviewer, flagNotes); err != nil {
		return err
	}
	fmt.Printf("Rejected change %s\n", args[0])
	return nil
}

func runChangesApply(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	if err := engine.Review().Apply(ctx, args[0]); err != nil {
		return err
	}
	fmt.Printf("Applied change %s\n", args[0])
	return nil
}

func runChangesAutoApprove(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	n, err := engine.Review().AutoApprove(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Auto-approved %d changes\n", n)
	return nil
}

func runChangesBulk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	outcomes := engine.Review().BulkReview(ctx, args, review.BulkAction(flagBulkAction), flagReviewer, flagNotes)
	failed := 0
	for _, o := range outcomes {
		if o.Err != nil {
			failed++
			fmt.Printf("%s: %v\n", o.ChangeID, o.Err)
		} else {
			fmt.Printf("%s: ok\n", o.ChangeID)
		}
	}
	fmt.Printf("%d succeeded, %d failed\n", len(outcomes)-failed, failed)
	return nil
}
