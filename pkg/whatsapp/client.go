/**
 * @description
 * This package provides a client for the WhatsApp Business Cloud API. It
 * encapsulates sending templated messages to customers; receiving messages is
 * handled elsewhere (webhook endpoint and queue bridge).
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the WhatsApp Business Cloud API.
type Client struct {
	BaseURL       string
	PhoneNumberID string
	Token         string
	LanguageCode  string
	HTTPClient    *http.Client
}

// NewClient creates a new WhatsApp API client.
func NewClient(baseURL, phoneNumberID, token string) *Client {
	return &Client{
		BaseURL:       baseURL,
		PhoneNumberID: phoneNumberID,
		Token:         token,
		LanguageCode:  "he",
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

type templateMessage struct {
	MessagingProduct string          `json:"messaging_product"`
	To               string          `json:"to"`
	Type             string          `json:"type"`
	Template         templatePayload `json:"template"`
}

type templatePayload struct {
	Name       string              `json:"name"`
	Language   templateLanguage    `json:"language"`
	Components []templateComponent `json:"components,omitempty"`
}

type templateLanguage struct {
	Code string `json:"code"`
}

type templateComponent struct {
	Type       string              `json:"type"`
	Parameters []templateParameter `json:"parameters"`
}

type templateParameter struct {
	Type string `json:"type"`
	Text string `json:"text"`
}

// SendTemplate sends a pre-approved template message to the given canonical
// phone number. Map iteration order is not stable, so body parameters are
// emitted in a fixed slot order that every template used by this service
// follows: name first, then any link or package parameter.
func (c *Client) SendTemplate(ctx context.Context, to, templateKey string, params map[string]string) error {
	var parameters []templateParameter
	// Fixed parameter slots; templates reference them positionally.
	for _, key := range []string{"name", "checkout_url", "package", "url"} {
		if v, ok := params[key]; ok {
			parameters = append(parameters, templateParameter{Type: "text", Text: v})
		}
	}

	msg := templateMessage{
		MessagingProduct: "whatsapp",
		To:               to,
		Type:             "template",
		Template: templatePayload{
			Name:     templateKey,
			Language: templateLanguage{Code: c.LanguageCode},
		},
	}
	if len(parameters) > 0 {
		msg.Template.Components = []templateComponent{{Type: "body", Parameters: parameters}}
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("failed to encode template message: %w", err)
	}

	url := fmt.Sprintf("%s/%s/messages", c.BaseURL, c.PhoneNumberID)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.Token)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("whatsapp send failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("whatsapp send returned status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
