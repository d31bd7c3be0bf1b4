package queuecmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
)

// Command groups queue inspection helpers. They talk to a running api
// instance; queues live in its process, not in shared storage.
func Command() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Queue inspection utilities",
	}

	cmd.AddCommand(statsCommand())
	return cmd
}

type queueStats struct {
	Enabled bool `json:"enabled"`
	Depth   int  `json:"depth"`
	Workers int  `json:"workers"`
}

func statsCommand() *cobra.Command {
	var apiURL string

	c := &cobra.Command{
		Use:   "stats",
		Short: "Show per-queue depth and worker counts",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: 10 * time.Second}
			resp, err := client.Get(apiURL + "/api/v1/admin/queues")
			if err != nil {
				return fmt.Errorf("fetch queue stats: %w", err)
			}
			defer resp.Body.Close() // nolint:errcheck
			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("api returned status %d", resp.StatusCode)
			}

			var payload struct {
				Queues map[string]queueStats `json:"queues"`
			}
			if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
				return fmt.Errorf("decode queue stats: %w", err)
			}

			names := make([]string, 0, len(payload.Queues))
			for name := range payload.Queues {
				names = append(names, name)
			}
			sort.Strings(names)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "Queue\tEnabled\tDepth\tWorkers")
			for _, name := range names {
				s := payload.Queues[name]
				fmt.Fprintf(w, "%s\t%t\t%d\t%d\n", name, s.Enabled, s.Depth, s.Workers)
			}
			return w.Flush()
		},
	}

	c.Flags().StringVar(&apiURL, "api-url", "http://localhost:3000", "Base URL of the dispatch api")

	return c
}
