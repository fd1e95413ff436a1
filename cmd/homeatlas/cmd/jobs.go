package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/homeatlas/homeatlas/internal/store"
	"github.com/homeatlas/homeatlas/pkg/collection"
	"github.com/homeatlas/homeatlas/pkg/entities"
)

var (
	flagJobKind     string
	flagJobPriority int
	flagJobStatus   string
	flagJobType     string
	flagJobLimit    int
	flagRunCount    int
)

// jobsCmd groups collection job operations.
var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Manage collection jobs",
}

var jobsCreateCmd = &cobra.Command{
	Use:   "create <entity-type> <entity-id>",
	Short: "Queue a collection job for an entity",
	Args:  cobra.ExactArgs(2),
	RunE:  runJobsCreate,
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List collection jobs",
	RunE:  runJobsList,
}

var jobsGetCmd = &cobra.Command{
	Use:   "get <job-id>",
	Short: "Show one job",
	Args:  cobra.ExactArgs(1),
	RunE:  runJobsGet,
}

var jobsRunCmd = &cobra.Command{
	Use:   "run",
	Short: "Execute pending jobs",
	RunE:  runJobsRun,
}

func init() {
	jobsCreateCmd.Flags().StringVar(&flagJobKind, "kind", string(collection.JobKindUpdate), "job kind: update, discovery, or inventory")
	jobsCreateCmd.Flags().IntVar(&flagJobPriority, "priority", 0, "scheduling priority, higher runs first")
	jobsListCmd.Flags().StringVar(&flagJobStatus, "status", "", "filter by status")
	jobsListCmd.Flags().StringVar(&flagJobType, "type", "", "filter by entity type")
	jobsListCmd.Flags().IntVar(&flagJobLimit, "limit", 50, "maximum jobs to list")
	jobsRunCmd.Flags().IntVar(&flagRunCount, "count", 10, "maximum jobs to execute")

	jobsCmd.AddCommand(jobsCreateCmd, jobsListCmd, jobsGetCmd, jobsRunCmd)
	rootCmd.AddCommand(jobsCmd)
}

func runJobsCreate(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	entityType, err := entities.ParseType(args[0])
	if err != nil {
		return err
	}

	job := &collection.Job{
		EntityType: entityType,
		EntityID:   args[1],
		Kind:       collection.JobKind(flagJobKind),
		Priority:   flagJobPriority,
	}
	if err := engine.Scheduler().Submit(ctx, job); err != nil {
		return err
	}

	fmt.Printf("Queued %s job %s for %s\n", job.Kind, job.ID, job.Target())
	return nil
}

func runJobsList(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	jobs, err := engine.Store().ListJobs(ctx, store.JobFilter{
		Status:     collection.JobStatus(flagJobStatus),
		EntityType: entities.Type(flagJobType),
		Limit:      flagJobLimit,
	})
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No jobs found")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTARGET\tKIND\tSTATUS\tCHANGES\tCREATED")
	for _, j := range jobs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%d\t%s\n",
			j.ID, j.Target(), j.Kind, j.Status, j.ChangesDetected,
			j.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runJobsGet(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	job, err := engine.Store().GetJob(ctx, args[0])
	if err != nil {
		return err
	}

	fmt.Printf("Job %s\n", job.ID)
	fmt.Printf("  Target:     %s\n", job.Target())
	fmt.Printf("  Kind:       %s\n", job.Kind)
	fmt.Printf("  Status:     %s\n", job.Status)
	fmt.Printf("  Priority:   %d\n", job.Priority)
	if job.ParentJobID != "" {
		fmt.Printf("  Parent job: %s (depth %d)\n", job.ParentJobID, job.CascadeDepth)
	}
	fmt.Printf("  Items found: %d, changes: %d, discovered: %d\n",
		job.ItemsFound, job.ChangesDetected, job.EntitiesDiscovered)
	if job.Error != "" {
		fmt.Printf("  Error:      %s\n", job.Error)
	}
	return nil
}

func runJobsRun(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	engine, err := newEngine(ctx)
	if err != nil {
		return err
	}
	defer engine.Close()

	jobs, err := engine.Scheduler().RunPending(ctx, flagRunCount)
	if err != nil {
		return err
	}
	if len(jobs) == 0 {
		fmt.Println("No pending jobs")
		return nil
	}

	for _, j := range jobs {
		if j.Error != "" {
			fmt.Printf("%s %s: %s (%s)\n", j.ID, j.Target(), j.Status, j.Error)
		} else {
			fmt.Printf("%s %s: %s, %d changes\n", j.ID, j.Target(), j.Status, j.ChangesDetected)
		}
	}
	return nil
}
