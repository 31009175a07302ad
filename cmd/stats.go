package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethalo/queryguard/internal/gateway"
	"github.com/nethalo/queryguard/internal/output"
)

var statsCmd = &cobra.Command{
	Use:          "stats",
	Short:        "Show the gateway's current queue, load and circuit state",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		report, _ := cmd.Flags().GetBool("report")
		addr := viper.GetString("addr")
		renderer := output.NewRenderer(viper.GetString("format"), os.Stdout)

		path := "/stats"
		if report {
			path = "/performance-report"
		}
		resp, err := http.Get(fmt.Sprintf("http://%s%s", addr, path))
		if err != nil {
			return fmt.Errorf("stats request failed: %w", err)
		}
		defer resp.Body.Close()

		if report {
			// metrics.PerformanceReport embeds Snapshot anonymously, so its
			// JSON form is flat; mirrored here field-for-field to avoid
			// importing internal/metrics into the CLI layer.
			var perf struct {
				AverageExecutionTimeMs float64
				QueueLength            int
				InFlight               int
				SuccessRate            float64
				TimeoutRate            float64
				Alerts                 []string
			}
			if err := json.NewDecoder(resp.Body).Decode(&perf); err != nil {
				return fmt.Errorf("decoding performance report: %w", err)
			}
			renderer.RenderPerformanceReport(output.PerformanceReportView{
				SuccessRate:        perf.SuccessRate,
				TimeoutRate:        perf.TimeoutRate,
				AverageExecutionMs: perf.AverageExecutionTimeMs,
				QueueLength:        perf.QueueLength,
				InFlight:           perf.InFlight,
				Alerts:             perf.Alerts,
			})
			return nil
		}

		var stats gateway.Stats
		if err := json.NewDecoder(resp.Body).Decode(&stats); err != nil {
			return fmt.Errorf("decoding stats: %w", err)
		}
		renderer.RenderStats(stats)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statsCmd)
	statsCmd.Flags().Bool("report", false, "Show the alerting performance report instead of raw stats")
}
