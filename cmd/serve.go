package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/nethalo/queryguard/internal/api"
	"github.com/nethalo/queryguard/internal/audit"
	"github.com/nethalo/queryguard/internal/gateway"
	"github.com/nethalo/queryguard/internal/mysql"
)

var serveCmd = &cobra.Command{
	Use:          "serve",
	Short:        "Start the gateway and its HTTP API",
	SilenceUsage: true,
	Long: `Start the query gateway: connect to MySQL, build the admission,
queue, circuit-breaker and audit machinery from the policy config, and
serve /submit, /await, /stats, /emergency-stop and /metrics until
interrupted.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		connCfg := mysql.ConnectionConfig{
			Host:     viper.GetString("host"),
			Port:     viper.GetInt("port"),
			User:     viper.GetString("user"),
			Password: viper.GetString("password"),
			Database: viper.GetString("database"),
			Socket:   viper.GetString("socket"),
			TLSMode:  viper.GetString("tls"),
			TLSCA:    viper.GetString("tls_ca"),
		}
		if connCfg.Host == "" && connCfg.Socket == "" {
			connCfg.Host = "127.0.0.1"
		}
		if connCfg.User == "" {
			connCfg.User = "queryguard"
		}
		if connCfg.Database == "" {
			return fmt.Errorf("database not specified: use -d flag or set connections.default.database")
		}
		if connCfg.Password == "" {
			connCfg.Password = mysql.PromptPassword()
		}

		policy := policyFromViper()
		connCfg.MaxOpenConns = policy.MaxConcurrent

		db, err := mysql.Connect(connCfg)
		if err != nil {
			return fmt.Errorf("connection failed: %w", err)
		}
		defer db.Close()

		logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
		if viper.GetBool("verbose") {
			logger = logger.Level(zerolog.DebugLevel)
		}

		sink := audit.NewSink(logger, 1024)

		tableStats := &mysql.TableStatsProvider{DB: db, Database: connCfg.Database}
		uploadChecker := &mysql.UploadTableExistenceChecker{DB: db}

		gw := gateway.New(policy, gateway.Collaborators{
			UploadExists: uploadChecker.Exists,
			TableStats:   tableStats.Stats,
			DBExecute: func(ctx context.Context, governedSQL, tenantID, workflowMode string) ([]map[string]any, int, error) {
				return mysql.Execute(ctx, db, governedSQL, tenantID, workflowMode)
			},
			AuditSink: sink,
			Logger:    logger,
		})

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		go gw.Run(ctx)

		addr := viper.GetString("addr")
		srv := api.NewServer(gw, logger)
		errCh := make(chan error, 1)
		go func() { errCh <- srv.ListenAndServe(addr) }()

		select {
		case <-ctx.Done():
			logger.Info().Msg("shutting down")
			return nil
		case err := <-errCh:
			return fmt.Errorf("api server: %w", err)
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// policyFromViper builds a gateway.Policy from the "policy.*" config keys,
// falling back to gateway.DefaultPolicy() for anything unset. Mirrors the
// Configuration Surface table: every field is independently overridable via
// QUERYGUARD_POLICY_* env vars or the policy: section of config.yaml.
func policyFromViper() gateway.Policy {
	p := gateway.DefaultPolicy()

	setInt := func(key string, dst *int) {
		if viper.IsSet(key) {
			*dst = viper.GetInt(key)
		}
	}
	setUint32 := func(key string, dst *uint32) {
		if viper.IsSet(key) {
			*dst = uint32(viper.GetInt(key))
		}
	}
	setBool := func(key string, dst *bool) {
		if viper.IsSet(key) {
			*dst = viper.GetBool(key)
		}
	}
	setString := func(key string, dst *string) {
		if viper.IsSet(key) {
			*dst = viper.GetString(key)
		}
	}
	setStrings := func(key string, dst *[]string) {
		if viper.IsSet(key) {
			*dst = viper.GetStringSlice(key)
		}
	}

	setInt("policy.max_concurrent", &p.MaxConcurrent)
	setInt("policy.max_per_minute", &p.MaxPerMinute)
	setInt("policy.max_queue_size", &p.MaxQueueSize)
	setInt("policy.execution_timeout_ms", &p.ExecutionTimeoutMs)
	setBool("policy.enforce_tenant_filter", &p.EnforceTenantFilter)
	setBool("policy.enforce_upload_id", &p.EnforceUploadID)
	setInt("policy.max_row_limit", &p.MaxRowLimit)
	setInt("policy.max_join_count", &p.MaxJoinCount)
	setStrings("policy.dangerous_functions", &p.DangerousFunctions)
	setString("policy.tenant_column", &p.TenantColumn)
	setStrings("policy.tenant_columns", &p.TenantColumns)
	setStrings("policy.upload_patterns", &p.UploadPatterns)
	setUint32("policy.failure_threshold", &p.FailureThreshold)
	setInt("policy.recovery_timeout_ms", &p.RecoveryTimeoutMs)
	setUint32("policy.half_open_max_probes", &p.HalfOpenMaxProbes)
	setInt("policy.audit_retention_days", &p.AuditRetentionDays)
	setBool("policy.reject_critical", &p.RejectCritical)

	return p
}
