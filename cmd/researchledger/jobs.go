package main

import (
	"fmt"
	"os"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/researchledger/internal/model"
)

var jobsLimit int

var jobsCmd = &cobra.Command{
	Use:   "jobs",
	Short: "Inspect stored research jobs",
}

var jobsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List recent jobs",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		jobs, err := db.ListJobs(jobsLimit)
		if err != nil {
			return err
		}
		if len(jobs) == 0 {
			fmt.Println("No jobs yet. Start one with: researchledger run \"<question>\"")
			return nil
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tSTATE\tROWS\tCOST\tQUESTION")
		for _, j := range jobs {
			q := j.Question
			if len(q) > 60 {
				q = q[:60] + "..."
			}
			fmt.Fprintf(w, "%s\t%s\t%d\t$%.4f\t%s\n", j.ID, j.State, j.RowCount, j.Cost.EstimatedCostUSD, q)
		}
		return w.Flush()
	},
}

var jobsShowCmd = &cobra.Command{
	Use:   "show [id]",
	Short: "Show a job's plan, decisions and evidence ledger",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		job, err := db.GetJob(args[0])
		if err != nil {
			return err
		}
		if job == nil {
			return fmt.Errorf("job %s not found", args[0])
		}

		fmt.Printf("Job %s\n", job.ID)
		fmt.Printf("Question: %s\n", job.Question)
		fmt.Printf("State: %s\n", job.State)
		if job.StopReason != nil {
			fmt.Printf("Stopped: %s\n", *job.StopReason)
		}
		if job.Plan != nil {
			fmt.Println()
			fmt.Println(model.FormatPlan(*job.Plan))
		}

		decisions, err := db.GetDecisions(job.ID)
		if err != nil {
			return err
		}
		for _, d := range decisions {
			line := fmt.Sprintf("Revision %d: %s", d.Revision, d.Action)
			if d.Feedback != nil && *d.Feedback != "" {
				line += " (" + *d.Feedback + ")"
			}
			fmt.Println(line)
		}

		rows, err := db.GetRows(job.ID)
		if err != nil {
			return err
		}
		if len(rows) == 0 {
			fmt.Println("\nNo evidence rows.")
			return nil
		}

		var dynamic []string
		if job.Schema != nil {
			dynamic = job.Schema.DynamicNames()
		}
		fmt.Printf("\nEvidence ledger (%d rows):\n", len(rows))
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		header := append([]string{"#", "Q", "CONFIDENCE", "DATE", "SOURCE", "STATEMENT"}, dynamic...)
		fmt.Fprintln(w, strings.Join(header, "\t"))
		for _, r := range rows {
			cells := []string{
				fmt.Sprint(r.RowID), r.QuestionID, string(r.Confidence), r.SourceDate, r.SourceName, r.Statement,
			}
			for _, name := range dynamic {
				cells = append(cells, r.DynamicFields[name])
			}
			fmt.Fprintln(w, strings.Join(cells, "\t"))
		}
		return w.Flush()
	},
}

func init() {
	jobsListCmd.Flags().IntVarP(&jobsLimit, "limit", "n", 20, "Number of jobs to list")
	jobsCmd.AddCommand(jobsListCmd)
	jobsCmd.AddCommand(jobsShowCmd)
}
