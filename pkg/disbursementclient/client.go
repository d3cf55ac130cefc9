/**
 * @description
 * Client for the disbursement-service operator API, used by the `poll`
 * command and by other services that wait on a bulk's outcome.
 */
package disbursementclient

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/transfa/disbursement-service/internal/domain"
	"github.com/transfa/disbursement-service/pkg/poller"
)

var ErrBulkNotFound = errors.New("bulk transfer not found")

// Client is a client for the disbursement service.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient creates a new disbursement service client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL:    strings.TrimSuffix(baseURL, "/"),
		apiKey:     strings.TrimSpace(apiKey),
		httpClient: &http.Client{Timeout: 15 * time.Second},
	}
}

// GetStatus fetches one status snapshot.
func (c *Client) GetStatus(ctx context.Context, bulkID uuid.UUID) (*domain.BulkStatus, error) {
	if c.baseURL == "" {
		return nil, fmt.Errorf("disbursement service base URL is not configured")
	}
	url := fmt.Sprintf("%s/api/bulk-transfers/%s/status", c.baseURL, bulkID)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		req.Header.Set("X-Internal-API-Key", c.apiKey)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("failed to execute request to disbursement service: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNotFound {
		return nil, ErrBulkNotFound
	}
	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("disbursement service returned error status %d", resp.StatusCode)
	}

	var status domain.BulkStatus
	if err := json.NewDecoder(resp.Body).Decode(&status); err != nil {
		return nil, fmt.Errorf("failed to decode status response: %w", err)
	}
	return &status, nil
}

// WaitForTerminal polls the status until the bulk is terminal or the policy's
// attempt budget runs out. Transient fetch failures are retried; an unknown
// bulk stops polling at once. On timeout the last snapshot seen is returned
// together with an error matching poller.ErrPollingTimeout.
func (c *Client) WaitForTerminal(ctx context.Context, bulkID uuid.UUID, policy poller.Policy, onPoll func(*domain.BulkStatus)) (*domain.BulkStatus, error) {
	return poller.Poll(ctx, policy, func(ctx context.Context) (*domain.BulkStatus, error) {
		status, err := c.GetStatus(ctx, bulkID)
		if errors.Is(err, ErrBulkNotFound) {
			return nil, poller.Permanent(err)
		}
		if err != nil {
			return nil, err
		}
		if onPoll != nil {
			onPoll(status)
		}
		return status, nil
	}, func(s *domain.BulkStatus) bool {
		return s != nil && s.State.IsTerminal()
	})
}
