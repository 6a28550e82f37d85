package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
)

type healthReport struct {
	Status      string            `json:"status"`
	Environment string            `json:"environment"`
	Services    map[string]string `json:"services"`
}

func defaultServerURL() string {
	if s := os.Getenv("ROSEGLASS_URL"); s != "" {
		return s
	}
	port := os.Getenv("PORT")
	if port == "" {
		port = "8000"
	}
	return "http://localhost:" + port
}

func newHealthCmd(stdout io.Writer) *cobra.Command {
	var (
		serverURL  string
		jsonOutput bool
		timeout    time.Duration
	)
	cmd := &cobra.Command{
		Use:     "health",
		Short:   "Check a running server's health",
		GroupID: "ops",
		RunE: func(cmd *cobra.Command, args []string) error {
			client := &http.Client{Timeout: timeout}
			resp, err := client.Get(strings.TrimRight(serverURL, "/") + "/health")
			if err != nil {
				return fmt.Errorf("checking health: %w", err)
			}
			defer resp.Body.Close()

			var report healthReport
			if err := json.NewDecoder(resp.Body).Decode(&report); err != nil {
				return fmt.Errorf("decoding health response: %w", err)
			}

			if jsonOutput {
				data, err := json.MarshalIndent(report, "", "  ")
				if err != nil {
					return fmt.Errorf("marshaling JSON: %w", err)
				}
				_, _ = fmt.Fprintln(stdout, string(data))
			} else {
				_, _ = headerColor.Fprintln(stdout, "Rose Glass")
				statusColor := goodColor
				if report.Status != "healthy" {
					statusColor = badColor
				}
				printKV(stdout, "Status", statusColor.Sprint(report.Status))
				printKV(stdout, "Environment", report.Environment)
				for _, name := range []string{"api", "llm", "database"} {
					if v, ok := report.Services[name]; ok {
						printKV(stdout, name, v)
					}
				}
			}

			if resp.StatusCode != http.StatusOK {
				return fmt.Errorf("unhealthy: %s", report.Status)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&serverURL, "url", defaultServerURL(), "server base URL")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Second, "request timeout")
	return cmd
}
