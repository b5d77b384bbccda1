package cmd

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

type statsResponse struct {
	Window      time.Duration  `json:"window"`
	Counts      map[string]int `json:"counts"`
	DueForRetry int            `json:"due_for_retry"`
}

var statsWindow string

var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show ledger activity over a rolling window",
	RunE: func(cmd *cobra.Command, args []string) error {
		var stats statsResponse
		if err := makeRequest("GET", "/v1/stats?window="+url.QueryEscape(statsWindow), &stats); err != nil {
			return err
		}
		if outputJSON {
			printOutput(stats)
			return nil
		}

		fmt.Printf("Window: %s\n", statsWindow)
		for _, status := range []string{"pending", "processing", "completed", "failed", "skipped"} {
			if n, ok := stats.Counts[status]; ok {
				fmt.Printf("  %-12s %d\n", status, n)
			}
		}
		fmt.Printf("Due for retry: %d\n", stats.DueForRetry)
		return nil
	},
}

func init() {
	statsCmd.Flags().StringVar(&statsWindow, "window", "1h", "rolling window (Go duration, e.g. 30m, 24h)")
	rootCmd.AddCommand(statsCmd)
}
