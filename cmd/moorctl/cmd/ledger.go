package cmd

import (
	"fmt"
	"net/url"
	"time"

	"github.com/spf13/cobra"
)

type ledgerEntry struct {
	EventID     string     `json:"event_id"`
	EventType   string     `json:"event_type"`
	APIVersion  string     `json:"api_version"`
	Status      string     `json:"status"`
	RetryCount  int        `json:"retry_count"`
	MaxRetries  int        `json:"max_retries"`
	NextRetryAt *time.Time `json:"next_retry_at,omitempty"`
	LastError   string     `json:"last_error,omitempty"`
	ProcessedBy string     `json:"processed_by"`
	CreatedAt   time.Time  `json:"created_at"`
	UpdatedAt   time.Time  `json:"updated_at"`
}

type ledgerList struct {
	Entries []ledgerEntry `json:"entries"`
	Count   int           `json:"count"`
}

var (
	ledgerStatus string
	ledgerLimit  int
)

var ledgerCmd = &cobra.Command{
	Use:   "ledger",
	Short: "Inspect the idempotency ledger",
}

var ledgerGetCmd = &cobra.Command{
	Use:   "get <event-id>",
	Short: "Show a single ledger entry",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var entry ledgerEntry
		if err := makeRequest("GET", "/v1/ledger/"+url.PathEscape(args[0]), &entry); err != nil {
			return err
		}
		if outputJSON {
			printOutput(entry)
			return nil
		}
		printEntry(entry)
		return nil
	},
}

var ledgerListCmd = &cobra.Command{
	Use:   "list",
	Short: "List ledger entries, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		path := fmt.Sprintf("/v1/ledger?limit=%d", ledgerLimit)
		if ledgerStatus != "" {
			path += "&status=" + url.QueryEscape(ledgerStatus)
		}
		var list ledgerList
		if err := makeRequest("GET", path, &list); err != nil {
			return err
		}
		if outputJSON {
			printOutput(list)
			return nil
		}
		printEntries(list.Entries)
		return nil
	},
}

var retriesCmd = &cobra.Command{
	Use:   "retries",
	Short: "Inspect the retry backlog",
}

var retriesDueCmd = &cobra.Command{
	Use:   "due",
	Short: "List failed entries currently due for retry",
	RunE: func(cmd *cobra.Command, args []string) error {
		var list ledgerList
		if err := makeRequest("GET", fmt.Sprintf("/v1/retries/due?limit=%d", ledgerLimit), &list); err != nil {
			return err
		}
		if outputJSON {
			printOutput(list)
			return nil
		}
		printEntries(list.Entries)
		return nil
	},
}

func printEntry(e ledgerEntry) {
	fmt.Printf("Event ID:     %s\n", e.EventID)
	fmt.Printf("Type:         %s\n", e.EventType)
	if e.APIVersion != "" {
		fmt.Printf("API Version:  %s\n", e.APIVersion)
	}
	fmt.Printf("Status:       %s\n", e.Status)
	fmt.Printf("Retries:      %d/%d\n", e.RetryCount, e.MaxRetries)
	if e.NextRetryAt != nil {
		fmt.Printf("Next Retry:   %s\n", e.NextRetryAt.Format(time.RFC3339))
	}
	if e.LastError != "" {
		fmt.Printf("Last Error:   %s\n", e.LastError)
	}
	fmt.Printf("Processed By: %s\n", e.ProcessedBy)
	fmt.Printf("Created:      %s\n", e.CreatedAt.Format(time.RFC3339))
	fmt.Printf("Updated:      %s\n", e.UpdatedAt.Format(time.RFC3339))
}

func printEntries(entries []ledgerEntry) {
	if len(entries) == 0 {
		fmt.Println("No entries found.")
		return
	}
	fmt.Printf("%-28s %-24s %-12s %-8s %s\n", "EVENT ID", "TYPE", "STATUS", "RETRIES", "UPDATED")
	for _, e := range entries {
		fmt.Printf("%-28s %-24s %-12s %d/%-6d %s\n",
			e.EventID, e.EventType, e.Status, e.RetryCount, e.MaxRetries,
			e.UpdatedAt.Format(time.RFC3339))
	}
}

func init() {
	ledgerListCmd.Flags().StringVar(&ledgerStatus, "status", "", "filter by status (pending|processing|completed|failed|skipped)")
	ledgerListCmd.Flags().IntVar(&ledgerLimit, "limit", 50, "max entries to return")
	retriesDueCmd.Flags().IntVar(&ledgerLimit, "limit", 100, "max entries to return")

	ledgerCmd.AddCommand(ledgerGetCmd)
	ledgerCmd.AddCommand(ledgerListCmd)
	retriesCmd.AddCommand(retriesDueCmd)
	rootCmd.AddCommand(ledgerCmd)
	rootCmd.AddCommand(retriesCmd)
}
