package whatsapp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/ClareAI/astra-call-orchestrator/pkg/logger"
	"go.uber.org/zap"
)

// Client calls the WhatsApp Business calling control-plane endpoints.
type Client struct {
	BaseURL    string
	HTTPClient *http.Client
}

// NewClient creates a control-plane client for the Graph API base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		BaseURL: baseURL,
		HTTPClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CallAcceptRequest carries the SDP answer for a call accept.
type CallAcceptRequest struct {
	Answer CallAnswer `json:"answer"`
}

// CallAnswer wraps the SDP answer payload.
type CallAnswer struct {
	SDP string `json:"sdp"`
}

// CallRejectRequest carries the reject reason.
type CallRejectRequest struct {
	Reason string `json:"reason"`
}

// Accept answers a ringing call with the negotiated SDP answer.
func (c *Client) Accept(ctx context.Context, accessToken, callID, sdpAnswer string) error {
	url := fmt.Sprintf("%s/calls/%s/accept", c.BaseURL, callID)
	body := CallAcceptRequest{Answer: CallAnswer{SDP: sdpAnswer}}
	if err := c.post(ctx, url, accessToken, body); err != nil {
		return fmt.Errorf("failed to accept call %s: %w", callID, err)
	}
	logger.Base().Info("Accepted call", zap.String("call_id", callID))
	return nil
}

// Reject declines a ringing call. A failed reject is logged by the caller
// and never blocks local cleanup.
func (c *Client) Reject(ctx context.Context, accessToken, callID, reason string) error {
	url := fmt.Sprintf("%s/calls/%s/reject", c.BaseURL, callID)
	body := CallRejectRequest{Reason: reason}
	if err := c.post(ctx, url, accessToken, body); err != nil {
		return fmt.Errorf("failed to reject call %s: %w", callID, err)
	}
	logger.Base().Info("Rejected call", zap.String("call_id", callID), zap.String("reason", reason))
	return nil
}

func (c *Client) post(ctx context.Context, url, accessToken string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+accessToken)

	resp, err := c.HTTPClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("unexpected status %d: %s", resp.StatusCode, string(respBody))
	}
	return nil
}
