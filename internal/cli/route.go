package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/relayguard/relayguard/internal/config"
	"github.com/relayguard/relayguard/internal/models"
)

var routeCmd = &cobra.Command{
	Use:   "route [operation]",
	Short: "Show routing rules or the rule for one operation",
	Long: `Show the configured routing rules without executing anything.

With no argument all rules are listed. With an operation type the matching
rule is printed together with the route that would be attempted first.

Examples:
  relayguard route
  relayguard route emergency
  relayguard route standard --json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runRoute,
}

func runRoute(cmd *cobra.Command, args []string) error {
	cfg, err := config.NewLoader(globalFlags.Config).Load()
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	rules := cfg.Router.Rules
	if len(args) == 1 {
		op := models.OperationType(args[0])
		if !models.ValidOperationType(op) {
			return fmt.Errorf("unknown operation type %q", args[0])
		}
		var match *models.RoutingRule
		for i := range rules {
			if rules[i].Operation == op {
				match = &rules[i]
				break
			}
		}
		if match == nil {
			return fmt.Errorf("no routing rule configured for %q", args[0])
		}
		rules = []models.RoutingRule{*match}
	}

	if globalFlags.JSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(rules)
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "OPERATION\tPRIORITY\tPRIMARY\tFALLBACK\tHEALTH GATE\tBUDGET")
	for _, r := range rules {
		fallback := string(r.FallbackRoute)
		if r.FallbackRoute == models.RouteNone {
			fallback = "-"
		}
		gate := "no"
		if r.HealthCheckRequired {
			gate = "yes"
		}
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.Operation, r.Priority, r.PrimaryRoute, fallback, gate, r.LatencyRequirement)
	}
	return w.Flush()
}
