package cmd

import (
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/winerank/winecrawl/internal/store"
)

var statusLimit int

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show recent crawl jobs",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cfg, log, err := setup()
		if err != nil {
			return err
		}
		defer log.Sync()

		stores, err := store.NewPostgres(cmd.Context(), store.PostgresConfig{
			DSN:      cfg.DB.DSN,
			MaxConns: cfg.DB.MaxConns,
			MinConns: cfg.DB.MinConns,
		})
		if err != nil {
			return fmt.Errorf("connecting database: %w", err)
		}
		defer stores.Close()

		jobs, err := stores.Jobs().RecentJobs(cmd.Context(), statusLimit)
		if err != nil {
			return fmt.Errorf("listing jobs: %w", err)
		}

		w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ID\tKIND\tLEVEL\tSTATUS\tPAGE\tFOUND\tPROCESSED\tDOWNLOADED\tSTARTED\tERROR")
		for _, j := range jobs {
			errMsg := j.ErrorMessage
			if len(errMsg) > 60 {
				errMsg = errMsg[:57] + "..."
			}
			fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d/%d\t%d\t%d\t%d\t%s\t%s\n",
				j.ID, j.Kind, j.LevelFilter, j.Status,
				j.CurrentPage, j.TotalPages,
				j.Found, j.Processed, j.Downloaded,
				j.StartedAt.Format("2006-01-02 15:04"), errMsg)
		}
		return w.Flush()
	},
}

func init() {
	statusCmd.Flags().IntVar(&statusLimit, "limit", 10, "number of jobs to show")
	rootCmd.AddCommand(statusCmd)
}
