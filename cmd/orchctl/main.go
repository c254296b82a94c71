// Package main implements the orchctl CLI for manual operations against the
// orchestd HTTP server.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

var (
	// serverURL is the base URL for the orchestd HTTP server
	serverURL string
	// role is the acting role for execute
	role string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "orchctl",
	Short: "CLI for orchestd plan operations",
	Long: `orchctl is a command-line interface for the orchestd daemon.
It proposes plans from natural-language commands, walks them through the
approval gate, executes them, and retrieves execution reports.`,
	Version: version,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "http://localhost:8420", "orchestd server URL")
	executeCmd.Flags().StringVar(&role, "role", "", "acting role for authorization (required)")
	_ = executeCmd.MarkFlagRequired("role")

	rootCmd.AddCommand(proposeCmd)
	rootCmd.AddCommand(approveCmd)
	rootCmd.AddCommand(cancelCmd)
	rootCmd.AddCommand(executeCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(reportCmd)
	rootCmd.AddCommand(healthCmd)
}

// proposeCmd turns a command into a pending plan
var proposeCmd = &cobra.Command{
	Use:   "propose <command...>",
	Short: "Propose a plan from a natural-language command",
	Long: `Propose an execution plan from a natural-language command.
The plan is stored pending approval; review it with status, then approve
or cancel it.

Examples:
  # Propose a production deployment
  orchctl propose deploy service payments to production

  # Propose against a different server
  orchctl propose --server http://localhost:8080 rollback service api`,
	Args: cobra.MinimumNArgs(1),
	RunE: runPropose,
}

// approveCmd approves a pending plan
var approveCmd = &cobra.Command{
	Use:   "approve <plan-id>",
	Short: "Approve a pending plan for execution",
	Args:  cobra.ExactArgs(1),
	RunE:  runApprove,
}

// cancelCmd discards a pending plan
var cancelCmd = &cobra.Command{
	Use:   "cancel <plan-id>",
	Short: "Cancel a pending plan and free the active slot",
	Args:  cobra.ExactArgs(1),
	RunE:  runCancel,
}

// executeCmd runs an approved plan
var executeCmd = &cobra.Command{
	Use:   "execute <plan-id>",
	Short: "Execute an approved plan under a role",
	Long: `Execute an approved plan. The role is checked against the
permission table before each step is dispatched.

Examples:
  orchctl execute 1b9d6bcd-bbfd-4b2d-9b5d-ab8dfbbd4bed --role sre`,
	Args: cobra.ExactArgs(1),
	RunE: runExecute,
}

// statusCmd shows a stored plan
var statusCmd = &cobra.Command{
	Use:   "status <plan-id>",
	Short: "Show a plan's steps, risk, and status",
	Args:  cobra.ExactArgs(1),
	RunE:  runStatus,
}

// reportCmd retrieves the execution report
var reportCmd = &cobra.Command{
	Use:   "report <plan-id>",
	Short: "Show the execution report of a plan's last run",
	Args:  cobra.ExactArgs(1),
	RunE:  runReport,
}

// healthCmd checks server health
var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Check orchestd server health",
	RunE:  runHealth,
}

// Wire types matching internal/server request and response bodies. Kept as
// loose maps where the CLI only renders fields.

// ProposeRequest matches internal/server ProposeRequest
type ProposeRequest struct {
	Command string `json:"command"`
}

// ExecuteRequest matches internal/server ExecuteRequest
type ExecuteRequest struct {
	Role string `json:"role"`
}

// HealthResponse matches internal/server HealthResponse
type HealthResponse struct {
	Status string `json:"status"`
}

// planView renders the fields of a stored plan.
type planView struct {
	ID          string `json:"id"`
	Status      string `json:"status"`
	OverallRisk string `json:"overall_risk"`
	Intent      struct {
		Action      string `json:"action"`
		Target      string `json:"target"`
		Environment string `json:"environment"`
	} `json:"intent"`
	Steps []struct {
		Name      string   `json:"name"`
		ServerID  string   `json:"server_id"`
		Action    string   `json:"action"`
		RiskTier  string   `json:"risk_tier"`
		DependsOn []string `json:"depends_on"`
	} `json:"steps"`
}

// reportView renders the fields of an execution report.
type reportView struct {
	PlanID      string `json:"plan_id"`
	Status      string `json:"status"`
	FailedStep  string `json:"failed_step,omitempty"`
	AuthzDenied string `json:"authz_denied,omitempty"`
	Records     []struct {
		StepName string `json:"step_name"`
		Status   string `json:"status"`
		Attempts int    `json:"attempts"`
		Error    string `json:"error,omitempty"`
	} `json:"records"`
	Recovery *struct {
		Outcome    string `json:"outcome"`
		UserImpact string `json:"user_impact"`
		RootCause  struct {
			Type        string `json:"type"`
			LikelyCause string `json:"likely_cause"`
		} `json:"root_cause"`
	} `json:"recovery,omitempty"`
}

func runPropose(cmd *cobra.Command, args []string) error {
	reqJSON, err := json.Marshal(ProposeRequest{Command: strings.Join(args, " ")})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := doRequest("POST", "/v1/plans", reqJSON, http.StatusCreated)
	if err != nil {
		return err
	}

	var p planView
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	printPlan(&p)
	fmt.Printf("\nApprove with: orchctl approve %s\n", p.ID)
	return nil
}

func runApprove(cmd *cobra.Command, args []string) error {
	if _, err := doRequest("POST", "/v1/plans/"+args[0]+"/approve", nil, http.StatusNoContent); err != nil {
		return err
	}
	fmt.Printf("Plan %s approved\n", args[0])
	return nil
}

func runCancel(cmd *cobra.Command, args []string) error {
	if _, err := doRequest("POST", "/v1/plans/"+args[0]+"/cancel", nil, http.StatusNoContent); err != nil {
		return err
	}
	fmt.Printf("Plan %s cancelled\n", args[0])
	return nil
}

func runExecute(cmd *cobra.Command, args []string) error {
	reqJSON, err := json.Marshal(ExecuteRequest{Role: role})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	body, err := doRequest("POST", "/v1/plans/"+args[0]+"/execute", reqJSON, http.StatusOK)
	if err != nil {
		return err
	}

	var r reportView
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	printReport(&r)
	return nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	body, err := doRequest("GET", "/v1/plans/"+args[0], nil, http.StatusOK)
	if err != nil {
		return err
	}

	var p planView
	if err := json.Unmarshal(body, &p); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	printPlan(&p)
	return nil
}

func runReport(cmd *cobra.Command, args []string) error {
	body, err := doRequest("GET", "/v1/plans/"+args[0]+"/report", nil, http.StatusOK)
	if err != nil {
		return err
	}

	var r reportView
	if err := json.Unmarshal(body, &r); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}
	printReport(&r)
	return nil
}

func runHealth(cmd *cobra.Command, args []string) error {
	body, err := doRequest("GET", "/healthz", nil, http.StatusOK)
	if err != nil {
		return err
	}

	var healthResp HealthResponse
	if err := json.Unmarshal(body, &healthResp); err != nil {
		return fmt.Errorf("failed to decode response: %w", err)
	}

	fmt.Printf("Server Status: %s\n", healthResp.Status)
	fmt.Printf("Server URL: %s\n", serverURL)
	return nil
}

// doRequest performs one HTTP round trip against the server and returns
// the response body when the status matches.
func doRequest(method, path string, body []byte, wantStatus int) ([]byte, error) {
	url := serverURL + path
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	httpReq, err := http.NewRequest(method, url, reader)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	if body != nil {
		httpReq.Header.Set("Content-Type", "application/json")
	}

	client := &http.Client{
		Timeout: 5 * time.Minute, // execute blocks for the full plan run
	}

	resp, err := client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to send request to %s: %w", url, err)
	}
	defer resp.Body.Close()

	respBody, readErr := io.ReadAll(resp.Body)
	if resp.StatusCode != wantStatus {
		if readErr != nil {
			return nil, fmt.Errorf("server returned status %d (failed to read response body: %w)", resp.StatusCode, readErr)
		}
		return nil, fmt.Errorf("server returned status %d: %s", resp.StatusCode, string(respBody))
	}
	if readErr != nil {
		return nil, fmt.Errorf("failed to read response body: %w", readErr)
	}
	return respBody, nil
}

// printPlan writes a human-readable plan summary to stdout.
func printPlan(p *planView) {
	fmt.Printf("Plan:    %s\n", p.ID)
	fmt.Printf("Status:  %s\n", p.Status)
	fmt.Printf("Risk:    %s\n", p.OverallRisk)
	fmt.Printf("Intent:  %s %s (%s)\n", p.Intent.Action, p.Intent.Target, p.Intent.Environment)
	fmt.Printf("Steps:\n")
	for _, s := range p.Steps {
		deps := ""
		if len(s.DependsOn) > 0 {
			deps = " <- " + strings.Join(s.DependsOn, ", ")
		}
		fmt.Printf("  [%s] %s (%s/%s)%s\n", s.RiskTier, s.Name, s.ServerID, s.Action, deps)
	}
}

// printReport writes a human-readable execution report to stdout.
func printReport(r *reportView) {
	fmt.Printf("Plan:    %s\n", r.PlanID)
	fmt.Printf("Status:  %s\n", r.Status)
	if r.AuthzDenied != "" {
		fmt.Printf("Denied:  %s\n", r.AuthzDenied)
	}
	if r.FailedStep != "" {
		fmt.Printf("Failed:  %s\n", r.FailedStep)
	}
	fmt.Printf("Steps:\n")
	for _, rec := range r.Records {
		line := fmt.Sprintf("  %-12s %s", rec.Status, rec.StepName)
		if rec.Attempts > 1 {
			line += fmt.Sprintf(" (attempts: %d)", rec.Attempts)
		}
		if rec.Error != "" {
			line += " error: " + rec.Error
		}
		fmt.Println(line)
	}
	if r.Recovery != nil {
		fmt.Printf("Recovery:\n")
		fmt.Printf("  Outcome:     %s\n", r.Recovery.Outcome)
		fmt.Printf("  User impact: %s\n", r.Recovery.UserImpact)
		fmt.Printf("  Root cause:  %s (%s)\n", r.Recovery.RootCause.Type, r.Recovery.RootCause.LikelyCause)
	}
}
