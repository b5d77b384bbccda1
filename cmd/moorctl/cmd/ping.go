package cmd

import (
	"fmt"

	"github.com/spf13/cobra"
)

var pingCmd = &cobra.Command{
	Use:   "ping",
	Short: "Check connectivity to the receiver",
	RunE: func(cmd *cobra.Command, args []string) error {
		var resp struct {
			Status  string `json:"status"`
			Service string `json:"service"`
		}
		if err := makeRequest("GET", "/v1/ping", &resp); err != nil {
			return err
		}
		if outputJSON {
			printOutput(resp)
			return nil
		}
		fmt.Printf("%s: %s\n", resp.Service, resp.Status)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(pingCmd)
}
