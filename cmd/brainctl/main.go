// Package main implements the brainctl CLI for manual operations against
// the braind HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/yseeku/braind/internal/tenant"
)

var (
	// serverURL is the base URL for the braind HTTP server
	serverURL string
	// tenantID scopes every API call
	tenantID string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "brainctl",
	Short: "CLI for braind governance operations",
	Long: `brainctl is a command-line interface for the braind HTTP server.
It provides commands for executing action batches, reviewing the override
queue, and inspecting action effectiveness.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:9090", "braind server URL")
	rootCmd.PersistentFlags().StringVar(&tenantID, "tenant", tenant.DefaultID(), "tenant to operate on")
	rootCmd.AddCommand(healthCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(queueCmd)
	rootCmd.AddCommand(statsCmd)
	rootCmd.AddCommand(overrideCmd)
	rootCmd.AddCommand(recommendationsCmd)
	rootCmd.AddCommand(effectivenessCmd)
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check braind server health",
	Long: `Check the health status of the braind HTTP server.

Examples:
  # Check health
  brainctl health

  # Check health on a different server
  brainctl health --server http://localhost:8080`,
	RunE: runHealth,
}

// executeCmd submits an action batch from a file or stdin
var executeCmd = &cobra.Command{
	Use:   "execute [file]",
	Short: "Execute a planned action batch from a file or stdin",
	Long: `Execute a planned action batch against the braind server.

The input is a JSON document with a mode and an actions list:

  {"mode": "enforced", "actions": [{"type": "alert", "target": "system", "reason": "trust collapse"}]}

Examples:
  # Execute a batch file in advisory mode
  brainctl execute batch.json

  # Execute from stdin
  cat batch.json | brainctl execute -`,
	Args: cobra.MaximumNArgs(1),
	RunE: runExecute,
}

// queueCmd lists actions awaiting review
var queueCmd = &cobra.Command{
	Use:   "queue",
	Short: "List actions awaiting override review",
	RunE:  runQueue,
}

// statsCmd shows override decision statistics
var statsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show override decision statistics",
	RunE:  runStats,
}

// overrideCmd processes one override decision
var overrideCmd = &cobra.Command{
	Use:   "override <action-id> <approve|reject>",
	Short: "Approve or reject an executed action",
	Long: `Process an override decision for one action.

Approving an irreversible action reverts its effect. A justification of
at least 10 characters is required for irreversible action types.

Examples:
  # Approve (revert) a ban
  brainctl override 9f1c... approve --reason "banned on a false positive" --user operator-1

  # Reject an override request
  brainctl override 9f1c... reject --reason "ban was warranted" --user operator-1`,
	Args: cobra.ExactArgs(2),
	RunE: runOverride,
}

// recommendationsCmd shows per-type usage recommendations
var recommendationsCmd = &cobra.Command{
	Use:   "recommendations",
	Short: "Show per-action-type usage recommendations",
	RunE:  runRecommendations,
}

// effectivenessCmd scores one action type
var effectivenessCmd = &cobra.Command{
	Use:   "effectiveness <action-type>",
	Short: "Show the effectiveness score for one action type",
	Args:  cobra.ExactArgs(1),
	RunE:  runEffectiveness,
}

var (
	overrideReason string
	overrideUser   string
)

func init() {
	overrideCmd.Flags().StringVar(&overrideReason, "reason", "", "justification for the decision")
	overrideCmd.Flags().StringVar(&overrideUser, "user", "", "reviewing user ID")
	_ = overrideCmd.MarkFlagRequired("reason")
	_ = overrideCmd.MarkFlagRequired("user")
}

func runHealth(cmd *cobra.Command, args []string) error {
	body, err := apiGet("/health")
	if err != nil {
		return err
	}
	fmt.Println(string(body))
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	var input []byte
	var err error

	if len(args) == 0 || args[0] == "-" {
		input, err = io.ReadAll(os.Stdin)
		if err != nil {
			return fmt.Errorf("failed to read stdin: %w", err)
		}
	} else {
		input, err = os.ReadFile(args[0])
		if err != nil {
			return fmt.Errorf("failed to read file: %w", err)
		}
	}

	// Round-trip through json to fail on malformed input before the
	// server sees it.
	var payload map[string]any
	if err := json.Unmarshal(input, &payload); err != nil {
		return fmt.Errorf("invalid batch document: %w", err)
	}

	cycleID := fmt.Sprintf("cli-%d", time.Now().Unix())
	body, err := apiPost(fmt.Sprintf("/api/v1/tenants/%s/cycles/%s/actions", tenantID, cycleID), input)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runQueue(cmd *cobra.Command, args []string) error {
	body, err := apiGet(fmt.Sprintf("/api/v1/tenants/%s/override/queue", tenantID))
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runStats(cmd *cobra.Command, args []string) error {
	body, err := apiGet(fmt.Sprintf("/api/v1/tenants/%s/override/stats", tenantID))
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runOverride(cmd *cobra.Command, args []string) error {
	decision := args[1]
	if decision != "approve" && decision != "reject" {
		return fmt.Errorf("decision must be approve or reject, got %q", decision)
	}

	payload, err := json.Marshal(map[string]string{
		"action_id": args[0],
		"decision":  decision,
		"reason":    overrideReason,
		"user_id":   overrideUser,
	})
	if err != nil {
		return err
	}

	body, err := apiPost(fmt.Sprintf("/api/v1/tenants/%s/override", tenantID), payload)
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runRecommendations(cmd *cobra.Command, args []string) error {
	body, err := apiGet(fmt.Sprintf("/api/v1/tenants/%s/feedback/recommendations", tenantID))
	if err != nil {
		return err
	}
	return printJSON(body)
}

func runEffectiveness(cmd *cobra.Command, args []string) error {
	body, err := apiGet(fmt.Sprintf("/api/v1/tenants/%s/feedback/effectiveness/%s", tenantID, args[0]))
	if err != nil {
		return err
	}
	return printJSON(body)
}

var httpClient = &http.Client{Timeout: 30 * time.Second}

func apiGet(path string) ([]byte, error) {
	resp, err := httpClient.Get(serverURL + path)
	if err != nil {
		return nil, fmt.Errorf("request failed: %w (is braind running at %s?)", err, serverURL)
	}
	defer resp.Body.Close()
	return readResponse(resp)
}

func apiPost(path string, payload []byte) ([]byte, error) {
	resp, err := httpClient.Post(serverURL+path, "application/json", bytes.NewReader(payload))
	if err != nil {
		return nil, fmt.Errorf("request failed: %w (is braind running at %s?)", err, serverURL)
	}
	defer resp.Body.Close()
	return readResponse(resp)
}

func readResponse(resp *http.Response) ([]byte, error) {
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("server returned %s: %s", resp.Status, bytes.TrimSpace(body))
	}
	return body, nil
}

func printJSON(body []byte) error {
	var out bytes.Buffer
	if err := json.Indent(&out, body, "", "  "); err != nil {
		fmt.Println(string(body))
		return nil
	}
	fmt.Println(out.String())
	return nil
}
