package cmd

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethalo/queryguard/internal/gateway"
	"github.com/nethalo/queryguard/internal/output"
)

var submitCmd = &cobra.Command{
	Use:          "submit [SQL statement]",
	Short:        "Submit a query to a running gateway and wait for its outcome",
	SilenceUsage: true,
	Long: `Submit sends a query to a "queryguard serve" process over its HTTP
API, prints the admission decision, and then polls for the execution
outcome (unless --no-wait is given).`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		sqlText, err := getSQLInput(cmd, args)
		if err != nil {
			return err
		}

		tenantID, _ := cmd.Flags().GetString("tenant")
		if tenantID == "" {
			return fmt.Errorf("--tenant is required")
		}
		mode, _ := cmd.Flags().GetString("mode")
		priority, _ := cmd.Flags().GetInt("priority")
		noWait, _ := cmd.Flags().GetBool("no-wait")
		waitTimeoutMs, _ := cmd.Flags().GetInt("wait-timeout-ms")

		addr := viper.GetString("addr")
		renderer := output.NewRenderer(viper.GetString("format"), os.Stdout)

		body, _ := json.Marshal(map[string]any{
			"rawQuery": sqlText,
			"tenantId": tenantID,
			"mode":     mode,
			"priority": priority,
		})
		resp, err := http.Post(fmt.Sprintf("http://%s/submit", addr), "application/json", bytes.NewReader(body))
		if err != nil {
			return fmt.Errorf("submit request failed: %w", err)
		}
		defer resp.Body.Close()

		var result gateway.SubmitResult
		if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
			return fmt.Errorf("decoding submit response: %w", err)
		}
		renderer.RenderSubmit(result)

		if !result.Accepted || noWait {
			return nil
		}

		url := fmt.Sprintf("http://%s/await?queryId=%s&waitTimeoutMs=%d", addr, result.QueryID, waitTimeoutMs)
		awaitResp, err := http.Get(url)
		if err != nil {
			return fmt.Errorf("await request failed: %w", err)
		}
		defer awaitResp.Body.Close()

		var outcome struct {
			QueryID string `json:"queryId"`
			gateway.ExecutionOutcome
		}
		if err := json.NewDecoder(awaitResp.Body).Decode(&outcome); err != nil {
			return fmt.Errorf("decoding await response: %w", err)
		}
		renderer.RenderOutcome(outcome.QueryID, outcome.ExecutionOutcome)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(submitCmd)
	submitCmd.Flags().String("file", "", "Read SQL from file instead of argument")
	submitCmd.Flags().String("tenant", "", "Tenant ID the query runs on behalf of (required)")
	submitCmd.Flags().String("mode", "audit", "Workflow mode: audit or lending")
	submitCmd.Flags().Int("priority", 5, "Lower priority values are scheduled first")
	submitCmd.Flags().Bool("no-wait", false, "Print the admission decision and exit without awaiting execution")
	submitCmd.Flags().Int("wait-timeout-ms", int(10*time.Second/time.Millisecond), "How long to wait for the outcome before giving up")
}

// validateSQLFilePath checks if the file path is safe to read.
// This prevents path traversal attacks and reading sensitive system files.
func validateSQLFilePath(filePath string) error {
	cleanPath := filepath.Clean(filePath)

	absPath, err := filepath.Abs(cleanPath)
	if err != nil {
		return fmt.Errorf("invalid file path: %w", err)
	}

	fileInfo, err := os.Stat(absPath)
	if err != nil {
		return fmt.Errorf("cannot access file: %w", err)
	}

	if !fileInfo.Mode().IsRegular() {
		return fmt.Errorf("not a regular file: %s", absPath)
	}

	const maxFileSize = 10 * 1024 * 1024 // 10 MB
	if fileInfo.Size() > maxFileSize {
		return fmt.Errorf("file too large (>10MB): %s - this may not be a SQL file", absPath)
	}

	sensitivePaths := []string{"/etc/", "/sys/", "/proc/", "/dev/"}
	for _, sensitive := range sensitivePaths {
		if strings.HasPrefix(absPath, sensitive) {
			fmt.Fprintf(os.Stderr, "warning: reading from system path %s\n", absPath)
			break
		}
	}

	return nil
}

func getSQLInput(cmd *cobra.Command, args []string) (string, error) {
	filePath, _ := cmd.Flags().GetString("file")

	if filePath != "" {
		if err := validateSQLFilePath(filePath); err != nil {
			return "", fmt.Errorf("file validation failed: %w", err)
		}

		data, err := os.ReadFile(filePath)
		if err != nil {
			return "", fmt.Errorf("could not read file %s: %w", filePath, err)
		}
		return strings.TrimSpace(string(data)), nil
	}

	if len(args) > 0 {
		return strings.TrimSpace(args[0]), nil
	}

	return "", fmt.Errorf("provide a SQL statement as argument or use --file flag")
}
