package cmd

import (
	"fmt"
	"net/url"

	"github.com/spf13/cobra"
)

type replayResponse struct {
	EventID    string `json:"event_id"`
	Dispatched bool   `json:"dispatched"`
}

var replayCmd = &cobra.Command{
	Use:   "replay <event-id>",
	Short: "Re-queue a failed event for another processing attempt",
	Long: `Replay makes a failed ledger entry due immediately. If the entry's
retry budget is exhausted it is granted one extra attempt. Completed and
skipped entries cannot be replayed.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp replayResponse
		if err := makeRequest("POST", "/v1/ledger/"+url.PathEscape(args[0])+"/replay", &resp); err != nil {
			return err
		}
		if outputJSON {
			printOutput(resp)
			return nil
		}
		if resp.Dispatched {
			fmt.Printf("Event %s replay dispatched to the retry queue.\n", resp.EventID)
		} else {
			fmt.Printf("Event %s scheduled; the sweeper will dispatch it shortly.\n", resp.EventID)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(replayCmd)
}
