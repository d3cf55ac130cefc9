/**
 * @description
 * HTTP client for the payment hub's FSPIOP endpoints. Every call here only
 * obtains the hub's acknowledgment; the business answer arrives later as a
 * callback on the service's own API.
 *
 * @dependencies
 * - net/http, encoding/json: transport and payload encoding.
 * - pkg/fspiop: wire payloads, headers and request signing.
 */
package hubclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/transfa/disbursement-service/pkg/fspiop"
)

// Client sends FSPIOP requests on behalf of one participant.
type Client struct {
	BaseURL    string
	Source     string
	HTTPClient *http.Client
	Signer     *fspiop.Signer
	Now        func() time.Time
}

// NewClient creates a hub client presenting itself as source.
func NewClient(baseURL, source string, signer *fspiop.Signer) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		Source:  source,
		HTTPClient: &http.Client{
			Timeout: 15 * time.Second,
		},
		Signer: signer,
		Now:    time.Now,
	}
}

// ErrorResponse is returned when the hub refuses to acknowledge a request.
type ErrorResponse struct {
	StatusCode int
	Info       *fspiop.ErrorInformation
}

func (e *ErrorResponse) Error() string {
	if e.Info != nil {
		return fmt.Sprintf("hub rejected request: status=%d code=%s description=%s", e.StatusCode, e.Info.ErrorCode, e.Info.ErrorDescription)
	}
	return fmt.Sprintf("hub rejected request: status=%d", e.StatusCode)
}

// GetParties asks the hub to resolve a payee.
func (c *Client) GetParties(ctx context.Context, idType, identifier, correlationID string) error {
	path := "/parties/" + url.PathEscape(idType) + "/" + url.PathEscape(identifier)
	return c.do(ctx, http.MethodGet, path, fspiop.ResourceParties, "", correlationID, nil)
}

// PostQuote asks the payee FSP, through the hub, for a quote.
func (c *Client) PostQuote(ctx context.Context, quote fspiop.QuoteRequest, destination string) error {
	return c.do(ctx, http.MethodPost, "/quotes", fspiop.ResourceQuotes, destination, quote.QuoteID, quote)
}

// PostTransfer asks the hub to commit a quoted transfer.
func (c *Client) PostTransfer(ctx context.Context, transfer fspiop.TransferRequest, destination string) error {
	return c.do(ctx, http.MethodPost, "/transfers", fspiop.ResourceTransfers, destination, transfer.TransferID, transfer)
}

// Put delivers a callback. The hub simulator uses it to answer requests.
func (c *Client) Put(ctx context.Context, path, resource, destination, correlationID string, payload interface{}) error {
	return c.do(ctx, http.MethodPut, path, resource, destination, correlationID, payload)
}

func (c *Client) do(ctx context.Context, method, path, resource, destination, correlationID string, payload interface{}) error {
	var body []byte
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return fmt.Errorf("failed to marshal %s request: %w", resource, err)
		}
		body = encoded
	}

	req, err := http.NewRequestWithContext(ctx, method, c.BaseURL+path, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create %s request: %w", resource, err)
	}
	fspiop.SetHeaders(req.Header, resource, c.Source, destination, correlationID, c.Now())
	if err := c.Signer.SignRequest(req, body); err != nil {
		return err
	}

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to execute %s request: %w", resource, err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(io.LimitReader(resp.Body, 64<<10))
	if err != nil {
		return fmt.Errorf("failed to read %s response: %w", resource, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		errResp := &ErrorResponse{StatusCode: resp.StatusCode}
		var wire fspiop.ErrorResponse
		if len(bodyBytes) > 0 && json.Unmarshal(bodyBytes, &wire) == nil && wire.ErrorInformation.ErrorCode != "" {
			errResp.Info = &wire.ErrorInformation
		}
		log.Printf("level=warn component=hub_client op=%s method=%s path=%s status=%d msg=\"non-2xx acknowledgment\"", resource, method, path, resp.StatusCode)
		return errResp
	}
	return nil
}
