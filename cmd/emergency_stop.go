package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var emergencyStopCmd = &cobra.Command{
	Use:          "emergency-stop",
	Short:        "Cancel every queued and executing query immediately",
	SilenceUsage: true,
	Long: `Emergency-stop cancels all in-flight and queued work on a running
gateway. Use it when the upstream database needs relief right now — it is
not a graceful drain.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		addr := viper.GetString("addr")
		resp, err := http.Post(fmt.Sprintf("http://%s/emergency-stop", addr), "application/json", nil)
		if err != nil {
			return fmt.Errorf("emergency-stop request failed: %w", err)
		}
		defer resp.Body.Close()

		var result struct {
			CancelledExecuting int
			CancelledQueued    int
		}
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decoding emergency-stop response: %w", err)
		}
		fmt.Printf("cancelled %d executing, %d queued\n", result.CancelledExecuting, result.CancelledQueued)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(emergencyStopCmd)
}
