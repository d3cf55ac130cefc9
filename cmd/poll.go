package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/pkg/disbursementclient"
	"github.com/transfa/disbursement-service/pkg/poller"
)

func pollCmd() *cobra.Command {
	var (
		baseURL     string
		apiKey      string
		interval    time.Duration
		maxAttempts int
		asJSON      bool
	)

	cmd := &cobra.Command{
		Use:   "poll [bulk-id]",
		Short: "Poll a bulk transfer until it finishes",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			bulkID, err := uuid.Parse(args[0])
			if err != nil {
				return fmt.Errorf("invalid bulk id: %w", err)
			}
			if apiKey == "" {
				apiKey = os.Getenv("INTERNAL_API_KEY")
			}

			client := disbursementclient.NewClient(baseURL, apiKey)
			policy := poller.Policy{Interval: interval, MaxAttempts: maxAttempts, Backoff: 1}
			out := cmd.OutOrStdout()

			status, err := client.WaitForTerminal(cmd.Context(), bulkID, policy, func(s *domain.BulkStatus) {
				if !asJSON {
					fmt.Fprintf(out, "state=%s completed=%d/%d progress=%.2f%%\n", s.State, s.Completed, s.Total, s.ProgressPercent)
				}
			})
			if errors.Is(err, poller.ErrPollingTimeout) {
				return fmt.Errorf("bulk %s still %s after %d attempts: %w", bulkID, stateOf(status), maxAttempts, err)
			}
			if err != nil {
				return err
			}
			if asJSON {
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(status)
			}
			fmt.Fprintf(out, "bulk %s finished: %s\n", bulkID, status.State)
			return nil
		},
	}

	defaults := poller.DefaultPolicy()
	cmd.Flags().StringVar(&baseURL, "url", "http://localhost:8080", "disbursement service base URL")
	cmd.Flags().StringVar(&apiKey, "api-key", "", "internal API key (defaults to INTERNAL_API_KEY)")
	cmd.Flags().DurationVar(&interval, "interval", defaults.Interval, "wait between polls")
	cmd.Flags().IntVar(&maxAttempts, "max-attempts", defaults.MaxAttempts, "polling attempt budget")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the final status as JSON")
	return cmd
}

func stateOf(s *domain.BulkStatus) string {
	if s == nil {
		return "unknown"
	}
	return string(s.State)
}
