/**
 * @description
 * This package provides a client for the external mobile-money payment
 * service provider (PSP). It encapsulates the logic for making authenticated
 * HTTP requests to the PSP's disbursement endpoints, handling request body
 * construction, and normalizing responses into the internal taxonomy.
 *
 * The client is a pure boundary adapter: it holds no durable state and
 * performs no business logic. Network failures on submission are normalized
 * to a rejection with reason `GatewayUnreachable` so the payout state machine
 * can decide to retry.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package pspclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"strings"
	"time"
)

// Rejection reasons produced by the adapter itself.
const (
	ReasonGatewayUnreachable = "GatewayUnreachable"
	ReasonGatewayRejected    = "GatewayRejected"
)

// Resolution statuses reported by the PSP.
const (
	StatusSuccess    = "success"
	StatusFailed     = "failed"
	StatusProcessing = "processing"
)

// Client is a client for the PSP disbursement API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new PSP API client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// SubmitRequest is the payload for a disbursement submission.
type SubmitRequest struct {
	Amount         int64  `json:"amount"`
	Currency       string `json:"currency"`
	IdempotencyKey string `json:"idempotencyKey"`
	Destination    struct {
		Type   string `json:"type"`
		MSISDN string `json:"msisdn"`
	} `json:"destination"`
}

// SubmitResult is the normalized outcome of a submission attempt.
type SubmitResult struct {
	Accepted     bool
	PSPReference string
	Reason       string
}

// ResolveResult is the normalized outcome of a status poll or callback.
type ResolveResult struct {
	PSPReference string
	Status       string
	Detail       string
}

// submitResponse is the wire shape of the PSP's submission response.
type submitResponse struct {
	Accepted     bool   `json:"accepted"`
	Rejected     bool   `json:"rejected"`
	PSPReference string `json:"pspReference"`
	Reason       string `json:"reason"`
}

// resolveResponse is the wire shape of the PSP's status resource.
type resolveResponse struct {
	PSPReference string `json:"pspReference"`
	Status       string `json:"status"`
	Detail       string `json:"detail"`
}

// Submit sends a disbursement request to the PSP. Transport failures and
// timeouts never surface as errors: they come back as a rejection with
// reason `GatewayUnreachable`.
func (c *Client) Submit(ctx context.Context, req SubmitRequest) (*SubmitResult, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal submit request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, "POST", c.BaseURL+"/v1/disbursements", bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create submit request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)
	httpReq.Header.Set("Idempotency-Key", req.IdempotencyKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		log.Printf("level=warn component=psp_client op=submit idempotency_key=%s msg=\"gateway unreachable\" err=%v", req.IdempotencyKey, err)
		return &SubmitResult{Accepted: false, Reason: ReasonGatewayUnreachable}, nil
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		log.Printf("level=warn component=psp_client op=submit idempotency_key=%s msg=\"response read failed\" err=%v", req.IdempotencyKey, err)
		return &SubmitResult{Accepted: false, Reason: ReasonGatewayUnreachable}, nil
	}

	var wire submitResponse
	if err := json.Unmarshal(bodyBytes, &wire); err != nil {
		log.Printf("level=warn component=psp_client op=submit idempotency_key=%s status=%d msg=\"unparsable response body\"", req.IdempotencyKey, resp.StatusCode)
		return &SubmitResult{Accepted: false, Reason: fmt.Sprintf("%s: unparsable response (status %d)", ReasonGatewayRejected, resp.StatusCode)}, nil
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 || wire.Rejected || !wire.Accepted {
		reason := strings.TrimSpace(wire.Reason)
		if reason == "" {
			reason = fmt.Sprintf("%s: status %d", ReasonGatewayRejected, resp.StatusCode)
		}
		log.Printf("level=warn component=psp_client op=submit idempotency_key=%s status=%d reason=%q", req.IdempotencyKey, resp.StatusCode, reason)
		return &SubmitResult{Accepted: false, Reason: reason}, nil
	}

	return &SubmitResult{Accepted: true, PSPReference: wire.PSPReference}, nil
}

// Resolve polls the PSP for the current status of a previously submitted
// disbursement. Unlike Submit, transport failures are returned as errors:
// an unreachable gateway tells us nothing about the transfer's fate, so the
// caller must keep the payout in its current state.
func (c *Client) Resolve(ctx context.Context, pspReference string) (*ResolveResult, error) {
	httpReq, err := http.NewRequestWithContext(ctx, "GET", c.BaseURL+"/v1/disbursements/"+pspReference, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create resolve request: %w", err)
	}
	httpReq.Header.Set("Accept", "application/json")
	httpReq.Header.Set("x-api-key", c.APIKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to execute resolve request: %w", err)
	}
	defer resp.Body.Close()

	bodyBytes, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read resolve response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		log.Printf("level=warn component=psp_client op=resolve psp_reference=%s status=%d msg=\"non-2xx response\"", pspReference, resp.StatusCode)
		return nil, fmt.Errorf("psp resolve failed with status %d", resp.StatusCode)
	}

	var wire resolveResponse
	if err := json.Unmarshal(bodyBytes, &wire); err != nil {
		return nil, fmt.Errorf("failed to decode resolve response: %w", err)
	}

	status := strings.TrimSpace(strings.ToLower(wire.Status))
	switch status {
	case "success", "successful", "completed":
		status = StatusSuccess
	case "failed", "failure", "rejected":
		status = StatusFailed
	case "processing", "pending", "initiated":
		status = StatusProcessing
	}

	ref := wire.PSPReference
	if ref == "" {
		ref = pspReference
	}
	return &ResolveResult{PSPReference: ref, Status: status, Detail: wire.Detail}, nil
}
