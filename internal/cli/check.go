package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"text/tabwriter"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/direct"
	"github.com/relayguard/relayguard/internal/logging"
	"github.com/relayguard/relayguard/internal/models"
)

// checkCmd represents the check command
var checkCmd = &cobra.Command{
	Use:     "check",
	Aliases: []string{"c", "health"},
	Short:   "One-shot health check",
	Long: `Perform a one-shot health check of the RelayGuard setup.

This command checks:
- Configuration validity
- Routing rule coverage
- Direct endpoint reachability
- Gateway websocket reachability

Example:
  relayguard check`,
	RunE: runCheck,
}

func runCheck(cmd *cobra.Command, args []string) error {
	if globalFlags.Verbose {
		log.Println("Starting health check...")
	}

	results := []CheckResult{checkConfiguration()}

	loader := config.NewLoader(globalFlags.Config)
	cfg, err := loader.Load()
	if err == nil {
		results = append(results,
			checkRules(cfg),
			checkDirect(cfg),
			checkGateway(cfg),
		)
	}

	return outputCheckResults(results)
}

// CheckResult represents the result of a single health check
type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

func checkConfiguration() CheckResult {
	result := CheckResult{
		Name:   "Configuration",
		Status: "OK",
	}

	cfg, err := config.NewLoader(globalFlags.Config).Load()
	if err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Failed to load configuration: %v", err)
		return result
	}

	if err := cfg.Validate(); err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Configuration validation failed: %v", err)
		return result
	}

	result.Message = "Configuration valid"
	result.Details = fmt.Sprintf("Server: %s:%d, Rules: %d", cfg.Server.Host, cfg.Server.HTTPPort, len(cfg.Router.Rules))
	return result
}

func checkRules(cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:   "Routing rules",
		Status: "OK",
	}

	if len(cfg.Router.Rules) == 0 {
		result.Status = "WARNING"
		result.Message = "No routing rules configured, all operations will be rejected"
		return result
	}

	withFallback := 0
	for _, r := range cfg.Router.Rules {
		if r.FallbackRoute != models.RouteNone && r.FallbackRoute != "" {
			withFallback++
		}
	}
	result.Message = fmt.Sprintf("%d rules configured, %d with a fallback route", len(cfg.Router.Rules), withFallback)
	return result
}

func checkDirect(cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:   "Direct endpoint",
		Status: "OK",
	}

	if cfg.Direct.Endpoint == "" {
		result.Status = "WARNING"
		result.Message = "No direct endpoint configured"
		return result
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	client := direct.NewClient(cfg.Direct, logging.NewNop())
	record, err := client.HealthCheck(ctx)
	if err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Direct endpoint unreachable: %v", err)
		return result
	}

	result.Message = fmt.Sprintf("Direct endpoint reachable at %s", cfg.Direct.Endpoint)
	result.Details = fmt.Sprintf("Latency: %s", record.Latency)
	return result
}

func checkGateway(cfg *config.Config) CheckResult {
	result := CheckResult{
		Name:   "Gateway",
		Status: "OK",
	}

	if cfg.Gateway.Endpoint == "" {
		result.Status = "WARNING"
		result.Message = "No gateway endpoint configured"
		return result
	}

	dialer := websocket.Dialer{HandshakeTimeout: 5 * time.Second}
	conn, _, err := dialer.Dial(cfg.Gateway.Endpoint, nil)
	if err != nil {
		result.Status = "FAIL"
		result.Message = fmt.Sprintf("Gateway unreachable: %v", err)
		return result
	}
	conn.Close()

	result.Message = fmt.Sprintf("Gateway reachable at %s", cfg.Gateway.Endpoint)
	return result
}

func outputCheckResults(results []CheckResult) error {
	if globalFlags.JSON {
		encoder := json.NewEncoder(os.Stdout)
		encoder.SetIndent("", "  ")
		return encoder.Encode(results)
	}
	return outputCheckResultsTable(results)
}

func outputCheckResultsTable(results []CheckResult) error {
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CHECK\tSTATUS\tMESSAGE\tDETAILS")

	allPassed := true
	for _, r := range results {
		statusIcon := "✓"
		if r.Status == "FAIL" {
			statusIcon = "✗"
			allPassed = false
		} else if r.Status == "WARNING" {
			statusIcon = "!"
		}

		details := r.Details
		if details == "" {
			details = "-"
		}

		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", r.Name, statusIcon+" "+r.Status, r.Message, details)
	}

	if err := w.Flush(); err != nil {
		log.Printf("Error flushing tabwriter: %v", err)
	}

	fmt.Println()
	if allPassed {
		fmt.Println("All checks passed")
		return nil
	}
	return fmt.Errorf("one or more checks failed")
}
