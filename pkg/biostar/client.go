/**
 * @description
 * This package provides a client for the BioStar 2 access-control API. The
 * lifecycle-service uses it for one thing: registering a face template for a
 * customer so the door terminal can identify them on arrival.
 *
 * @dependencies
 * - bytes, context, encoding/json, fmt, net/http, time: Standard Go libraries.
 */
package biostar

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// Client is a client for the BioStar 2 API.
type Client struct {
	BaseURL    string
	SessionKey string
	HTTPClient *http.Client
}

// NewClient creates a new BioStar API client. SessionKey is the long-lived
// bs-session-id issued to the integration account.
func NewClient(baseURL, sessionKey string) *Client {
	return &Client{
		BaseURL:    baseURL,
		SessionKey: sessionKey,
		HTTPClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// EnrollRequest carries one face enrollment.
type EnrollRequest struct {
	CustomerID  string
	FullName    string
	ImageBase64 string
}

type enrollUserPayload struct {
	User struct {
		UserID string `json:"user_id"`
		Name   string `json:"name"`
		Faces  []struct {
			RawImage string `json:"raw_image"`
		} `json:"credentials_face"`
	} `json:"User"`
}

type enrollUserResponse struct {
	User struct {
		UserID string `json:"user_id"`
	} `json:"User"`
	Response struct {
		Code    string `json:"code"`
		Message string `json:"message"`
	} `json:"Response"`
}

// EnrollFace creates (or updates) the BioStar user for the customer and
// attaches the captured face image as a credential. It returns the BioStar
// user id, which the orchestrator stores as the customer's
// face_recognition_id.
func (c *Client) EnrollFace(ctx context.Context, req EnrollRequest) (string, error) {
	var payload enrollUserPayload
	payload.User.UserID = req.CustomerID
	payload.User.Name = req.FullName
	payload.User.Faces = []struct {
		RawImage string `json:"raw_image"`
	}{{RawImage: req.ImageBase64}}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to encode enrollment payload: %w", err)
	}

	url := fmt.Sprintf("%s/api/users", c.BaseURL)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to build request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("bs-session-id", c.SessionKey)

	resp, err := c.HTTPClient.Do(httpReq)
	if err != nil {
		return "", fmt.Errorf("biostar request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return "", fmt.Errorf("biostar returned status %d: %s", resp.StatusCode, string(respBody))
	}

	var out enrollUserResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return "", fmt.Errorf("failed to decode biostar response: %w", err)
	}
	if out.User.UserID == "" {
		return "", fmt.Errorf("biostar enrollment returned no user id (code %s: %s)", out.Response.Code, out.Response.Message)
	}
	return out.User.UserID, nil
}
