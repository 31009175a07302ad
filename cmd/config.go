package cmd

import (
	"bufio"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethalo/queryguard/internal/gateway"
)

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Manage queryguard configuration",
}

var configInitCmd = &cobra.Command{
	Use:          "init",
	Short:        "Create config file interactively",
	SilenceUsage: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		home, err := os.UserHomeDir()
		if err != nil {
			return err
		}

		configDir := filepath.Join(home, ".queryguard")
		configPath := filepath.Join(configDir, "config.yaml")

		reader := bufio.NewReader(os.Stdin)

		// Check if config already exists
		if _, err := os.Stat(configPath); err == nil {
			fmt.Printf("Config file already exists at %s\n", configPath)
			fmt.Print("Overwrite? [y/N]: ")
			answer, _ := reader.ReadString('\n')
			if strings.TrimSpace(strings.ToLower(answer)) != "y" {
				fmt.Println("Aborted.")
				return nil
			}
		}

		// Create config directory
		if err := os.MkdirAll(configDir, 0700); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		fmt.Println("queryguard configuration setup")
		fmt.Println("───────────────────────────────")
		fmt.Println()

		fmt.Print("MySQL host [127.0.0.1]: ")
		host, _ := reader.ReadString('\n')
		host = strings.TrimSpace(host)
		if host == "" {
			host = "127.0.0.1"
		}

		fmt.Print("MySQL port [3306]: ")
		port, _ := reader.ReadString('\n')
		port = strings.TrimSpace(port)
		if port == "" {
			port = "3306"
		}

		fmt.Print("MySQL user [queryguard]: ")
		user, _ := reader.ReadString('\n')
		user = strings.TrimSpace(user)
		if user == "" {
			user = "queryguard"
		}

		fmt.Print("Default database: ")
		database, _ := reader.ReadString('\n')
		database = strings.TrimSpace(database)

		fmt.Print("API address [127.0.0.1:8077]: ")
		addr, _ := reader.ReadString('\n')
		addr = strings.TrimSpace(addr)
		if addr == "" {
			addr = "127.0.0.1:8077"
		}

		fmt.Print("Default output format [text]: ")
		format, _ := reader.ReadString('\n')
		format = strings.TrimSpace(format)
		if format == "" {
			format = "text"
		}

		def := gateway.DefaultPolicy()

		var config strings.Builder
		config.WriteString("# queryguard configuration\n\n")

		config.WriteString("connections:\n")
		config.WriteString("  default:\n")
		config.WriteString(fmt.Sprintf("    host: %s\n", host))
		config.WriteString(fmt.Sprintf("    port: %s\n", port))
		config.WriteString(fmt.Sprintf("    user: %s\n", user))
		config.WriteString("    # password: omitted for security, will prompt\n")
		if database != "" {
			config.WriteString(fmt.Sprintf("    database: %s\n", database))
		}

		config.WriteString("\ndefaults:\n")
		config.WriteString(fmt.Sprintf("  format: %s\n", format))
		config.WriteString(fmt.Sprintf("  addr: %s\n", addr))

		config.WriteString("\n# Policy knobs, spec §6's Configuration Surface. Every field below is\n")
		config.WriteString("# optional; unset fields keep the gateway's compiled-in default.\n")
		config.WriteString("policy:\n")
		config.WriteString(fmt.Sprintf("  max_concurrent: %d\n", def.MaxConcurrent))
		config.WriteString(fmt.Sprintf("  max_per_minute: %d\n", def.MaxPerMinute))
		config.WriteString(fmt.Sprintf("  max_queue_size: %d\n", def.MaxQueueSize))
		config.WriteString(fmt.Sprintf("  execution_timeout_ms: %d\n", def.ExecutionTimeoutMs))
		config.WriteString(fmt.Sprintf("  enforce_tenant_filter: %t\n", def.EnforceTenantFilter))
		config.WriteString(fmt.Sprintf("  enforce_upload_id: %t\n", def.EnforceUploadID))
		config.WriteString(fmt.Sprintf("  max_row_limit: %d\n", def.MaxRowLimit))
		config.WriteString(fmt.Sprintf("  max_join_count: %d\n", def.MaxJoinCount))
		config.WriteString(fmt.Sprintf("  tenant_column: %s\n", def.TenantColumn))
		config.WriteString(fmt.Sprintf("  failure_threshold: %d\n", def.FailureThreshold))
		config.WriteString(fmt.Sprintf("  recovery_timeout_ms: %d\n", def.RecoveryTimeoutMs))
		config.WriteString(fmt.Sprintf("  half_open_max_probes: %d\n", def.HalfOpenMaxProbes))
		config.WriteString(fmt.Sprintf("  audit_retention_days: %d\n", def.AuditRetentionDays))
		config.WriteString(fmt.Sprintf("  reject_critical: %t\n", def.RejectCritical))

		if err := os.WriteFile(configPath, []byte(config.String()), 0600); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("\nConfig written to %s\n", configPath)

		if user != "root" {
			fmt.Println("\nRecommended: create a read-only MySQL user for queryguard:")
			fmt.Println()
			fmt.Printf("  CREATE USER '%s'@'%%' IDENTIFIED BY '<password>';\n", user)
			fmt.Printf("  GRANT SELECT ON *.* TO '%s'@'%%';\n", user)
			fmt.Println()
		}

		return nil
	},
}

var configShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show current configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		out := cmd.OutOrStdout()
		configFile := viper.ConfigFileUsed()
		if configFile == "" {
			fmt.Fprintln(out, "No config file found.")
			fmt.Fprintln(out, "Run 'queryguard config init' to create one.")
			return nil
		}

		fmt.Fprintf(out, "Config file: %s\n\n", configFile)

		data, err := os.ReadFile(configFile)
		if err != nil {
			return fmt.Errorf("reading config: %w", err)
		}

		fmt.Fprintln(out, string(data))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(configCmd)
	configCmd.AddCommand(configInitCmd)
	configCmd.AddCommand(configShowCmd)
}
