package cmd

import (
	"testing"

	"github.com/spf13/viper"

	"github.com/nethalo/queryguard/internal/gateway"
)

func TestServeCmd_Structure(t *testing.T) {
	if serveCmd == nil {
		t.Fatal("serveCmd should not be nil")
	}
	if serveCmd.Use != "serve" {
		t.Errorf("serveCmd.Use = %q, want %q", serveCmd.Use, "serve")
	}

	found := false
	for _, c := range rootCmd.Commands() {
		if c.Use == "serve" {
			found = true
		}
	}
	if !found {
		t.Error("serve command should be registered with root command")
	}
}

func TestPolicyFromViper_Defaults(t *testing.T) {
	viper.Reset()
	got := policyFromViper()
	want := gateway.DefaultPolicy()
	if got.MaxConcurrent != want.MaxConcurrent {
		t.Errorf("MaxConcurrent = %d, want %d", got.MaxConcurrent, want.MaxConcurrent)
	}
	if got.TenantColumn != want.TenantColumn {
		t.Errorf("TenantColumn = %q, want %q", got.TenantColumn, want.TenantColumn)
	}
}

func TestPolicyFromViper_Overrides(t *testing.T) {
	viper.Reset()
	viper.Set("policy.max_concurrent", 42)
	viper.Set("policy.tenant_column", "account_id")
	viper.Set("policy.reject_critical", false)
	viper.Set("policy.dangerous_functions", []string{"LOAD_FILE"})

	got := policyFromViper()
	if got.MaxConcurrent != 42 {
		t.Errorf("MaxConcurrent = %d, want 42", got.MaxConcurrent)
	}
	if got.TenantColumn != "account_id" {
		t.Errorf("TenantColumn = %q, want account_id", got.TenantColumn)
	}
	if got.RejectCritical {
		t.Error("RejectCritical should be false when overridden")
	}
	if len(got.DangerousFunctions) != 1 || got.DangerousFunctions[0] != "LOAD_FILE" {
		t.Errorf("DangerousFunctions = %v, want [LOAD_FILE]", got.DangerousFunctions)
	}
}
