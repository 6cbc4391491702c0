/**
 * @description
 * This package provides a client for the payment gateway's order API. The
 * dunning engine uses it to recreate a chargeable order for a failed payment.
 * It encapsulates the logic for making authenticated HTTP requests, handling
 * request body construction, and parsing responses.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package gatewayclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"net/http"
	"time"
)

// Client is a client for the payment gateway API.
type Client struct {
	BaseURL    string
	APIKey     string
	HTTPClient *http.Client
}

// NewClient creates a new payment gateway client.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		BaseURL: baseURL,
		APIKey:  apiKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// OrderMetadata links a retry order back to the payment it recovers, so the
// gateway's webhook can be reconciled idempotently on our side.
type OrderMetadata struct {
	PaymentID      string `json:"payment_id"`
	SubscriptionID string `json:"subscription_id"`
	AttemptNumber  int    `json:"attempt_number"`
	Source         string `json:"source"`
}

// CreateOrderRequest represents the payload for a gateway order creation call.
type CreateOrderRequest struct {
	Data struct {
		Type       string `json:"type"`
		Attributes struct {
			Currency string        `json:"currency"`
			Amount   int64         `json:"amount"`
			Reason   string        `json:"reason"`
			Metadata OrderMetadata `json:"metadata"`
		} `json:"attributes"`
	} `json:"data"`
}

// OrderResponse is the expected response from the gateway's order endpoint.
type OrderResponse struct {
	Data struct {
		ID         string `json:"id"`
		Type       string `json:"type"`
		Attributes struct {
			Status string `json:"status"`
			Fee    int64  `json:"fee"`
		} `json:"attributes"`
	} `json:"data"`
}

// ErrorResponse represents an error from the gateway API.
type ErrorResponse struct {
	Errors []struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Status string `json:"status"`
	} `json:"errors"`
}

func (e *ErrorResponse) Error() string {
	if len(e.Errors) > 0 {
		return fmt.Sprintf("gateway api error: %s - %s", e.Errors[0].Title, e.Errors[0].Detail)
	}
	return "unknown gateway api error"
}

// CreateOrder asks the gateway to create a chargeable order for a dunning retry.
// Returns the gateway order on success; any transport or rejection error is
// returned for the caller to convert into a retry outcome.
func (c *Client) CreateOrder(ctx context.Context, amount int64, currency, reason string, metadata OrderMetadata) (*OrderResponse, error) {
	reqPayload := CreateOrderRequest{}
	reqPayload.Data.Type = "PaymentOrder"
	reqPayload.Data.Attributes.Currency = currency
	reqPayload.Data.Attributes.Amount = amount
	reqPayload.Data.Attributes.Reason = reason
	reqPayload.Data.Attributes.Metadata = metadata

	body, err := json.Marshal(reqPayload)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal order request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v1/orders", c.BaseURL)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create order request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-gateway-key", c.APIKey)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("gateway request failed: %w", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read gateway response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		var errResp ErrorResponse
		if err := json.Unmarshal(respBody, &errResp); err == nil && len(errResp.Errors) > 0 {
			return nil, &errResp
		}
		log.Printf("level=warn component=gateway_client msg=\"unparseable error response\" status=%d body=%s", resp.StatusCode, string(respBody))
		return nil, fmt.Errorf("gateway returned status %d", resp.StatusCode)
	}

	var orderResp OrderResponse
	if err := json.Unmarshal(respBody, &orderResp); err != nil {
		return nil, fmt.Errorf("failed to parse gateway response: %w", err)
	}
	return &orderResp, nil
}
