/**
 * @description
 * This package provides a client for the Cardcom payment gateway. It creates
 * hosted "low profile" checkout sessions: the customer pays on a Cardcom
 * hosted page and the result comes back asynchronously on our webhook.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package cardcom

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the Cardcom API.
type Client struct {
	BaseURL        string
	TerminalNumber string
	APIName        string
	HTTPClient     *http.Client
}

// NewClient creates a new Cardcom API client.
func NewClient(baseURL, terminalNumber, apiName string) *Client {
	return &Client{
		BaseURL:        baseURL,
		TerminalNumber: terminalNumber,
		APIName:        apiName,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// CheckoutRequest describes one hosted checkout session to create.
type CheckoutRequest struct {
	CustomerID  string
	PackageID   string
	ProductName string
	Amount      int64 // in agorot
	Currency    string
	SuccessURL  string
	FailureURL  string
	WebhookURL  string
}

// CheckoutSession is the created hosted payment page.
type CheckoutSession struct {
	LowProfileID string `json:"LowProfileId"`
	URL          string `json:"Url"`
}

type createLowProfileRequest struct {
	TerminalNumber string              `json:"TerminalNumber"`
	APIName        string              `json:"ApiName"`
	Amount         float64             `json:"Amount"`
	ISOCoinID      int                 `json:"ISOCoinId"`
	SuccessURL     string              `json:"SuccessRedirectUrl"`
	FailureURL     string              `json:"FailedRedirectUrl"`
	WebhookURL     string              `json:"WebHookUrl"`
	ProductName    string              `json:"ProductName"`
	ReturnValue    string              `json:"ReturnValue"`
	Document       *lowProfileDocument `json:"Document,omitempty"`
}

type lowProfileDocument struct {
	Products []lowProfileProduct `json:"Products"`
}

type lowProfileProduct struct {
	Description string  `json:"Description"`
	UnitCost    float64 `json:"UnitCost"`
}

type createLowProfileResponse struct {
	ResponseCode int    `json:"ResponseCode"`
	Description  string `json:"Description"`
	LowProfileID string `json:"LowProfileId"`
	URL          string `json:"Url"`
}

// isoCoinILS is Cardcom's coin id for new Israeli shekels.
const isoCoinILS = 1

// CreateCheckoutSession creates a hosted checkout page for one package
// purchase. The ReturnValue round-trips customer and package ids so the
// payment webhook can be correlated without extra state.
func (c *Client) CreateCheckoutSession(ctx context.Context, req CheckoutRequest) (*CheckoutSession, error) {
	payload := createLowProfileRequest{
		TerminalNumber: c.TerminalNumber,
		APIName:        c.APIName,
		Amount:         float64(req.Amount) / 100.0,
		ISOCoinID:      isoCoinILS,
		SuccessURL:     req.SuccessURL,
		FailureURL:     req.FailureURL,
		WebhookURL:     req.WebhookURL,
		ProductName:    req.ProductName,
		ReturnValue:    fmt.Sprintf("%s|%s", req.CustomerID, req.PackageID),
		Document: &lowProfileDocument{
			Products: []lowProfileProduct{
				{Description: req.ProductName, UnitCost: float64(req.Amount) / 100.0},
			},
		},
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("failed to encode checkout request: %w", err)
	}

	url := fmt.Sprintf("%s/api/v11/LowProfile/Create", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("cardcom request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return nil, fmt.Errorf("cardcom returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out createLowProfileResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, fmt.Errorf("failed to decode cardcom response: %w", err)
	}
	if out.ResponseCode != 0 {
		return nil, fmt.Errorf("cardcom rejected checkout creation (code %d): %s", out.ResponseCode, out.Description)
	}

	return &CheckoutSession{LowProfileID: out.LowProfileID, URL: out.URL}, nil
}
