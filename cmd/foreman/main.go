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
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foreman",
	Short: "Foreman - crash-recoverable multi-agent execution engine",
	Long: `Foreman executes a project task manifest with one Team Lead per
service, each driving tasks through a three-stage agent pipeline
(CodeWriter, UnitTester, QATester). Every outcome is checkpointed to
disk, so a crashed run resumes exactly where it stopped.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Foreman version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(startCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pauseCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(retryCmd)
}

// ── Control-plane client commands ───────────────────────────────────

var serverAddr string

func init() {
	for _, cmd := range []*cobra.Command{statusCmd, pauseCmd, resumeCmd, retryCmd} {
		cmd.Flags().StringVar(&serverAddr, "addr", "http://127.0.0.1:8765", "Control-plane address")
	}
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show the status of the running engine",
	RunE: func(cmd *cobra.Command, args []string) error {
		body, err := controlPlane(http.MethodGet, "/v1/status", nil)
		if err != nil {
			return err
		}
		var pretty bytes.Buffer
		if err := json.Indent(&pretty, body, "", "  "); err != nil {
			fmt.Println(string(body))
			return nil
		}
		fmt.Println(pretty.String())
		return nil
	},
}

var pauseCmd = &cobra.Command{
	Use:   "pause [service]",
	Short: "Pause all services, or one service",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/pause"
		if len(args) == 1 {
			path = "/v1/services/" + args[0] + "/pause"
		}
		if _, err := controlPlane(http.MethodPost, path, nil); err != nil {
			return err
		}
		fmt.Println("✓ Paused")
		return nil
	},
}

var resumeCmd = &cobra.Command{
	Use:   "resume [service]",
	Short: "Resume all services, or one service",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		path := "/v1/resume"
		if len(args) == 1 {
			path = "/v1/services/" + args[0] + "/resume"
		}
		if _, err := controlPlane(http.MethodPost, path, nil); err != nil {
			return err
		}
		fmt.Println("✓ Resumed")
		return nil
	},
}

var retryCmd = &cobra.Command{
	Use:   "retry <service>",
	Short: "Resume a paused or stuck service",
	Long: `Retry resumes the named service. Failed tasks are not re-run
within a live engine; restart the engine to requeue interrupted work.`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if _, err := controlPlane(http.MethodPost, "/v1/services/"+args[0]+"/resume", nil); err != nil {
			return err
		}
		fmt.Printf("✓ Service %s resumed\n", args[0])
		return nil
	},
}

// controlPlane issues one request against the running engine
func controlPlane(method, path string, body io.Reader) ([]byte, error) {
	client := &http.Client{Timeout: 10 * time.Second}
	req, err := http.NewRequest(method, serverAddr+path, body)
	if err != nil {
		return nil, err
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("cannot reach engine at %s: %w", serverAddr, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("engine returned %s: %s", resp.Status, string(data))
	}
	return data, nil
}
