package clients

import (
	"bytes"
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"
)

// VAAServiceRequest is the body of every VAA service call.
type VAAServiceRequest struct {
	VAA   string `json:"vaa"`
	Payer string `json:"payer,omitempty"`
}

// VAAServiceResponse is returned by every VAA service call.
type VAAServiceResponse struct {
	Success   bool   `json:"success"`
	Signature string `json:"signature,omitempty"`
	Error     string `json:"error,omitempty"`
	Message   string `json:"message,omitempty"`
}

// VAAServiceClient talks to the HTTP service that posts VAAs to the Solana
// core bridge and runs the propeller completion for swim transfers.
type VAAServiceClient struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger
}

func NewVAAServiceClient(logger *zap.Logger, baseURL string) *VAAServiceClient {
	return &VAAServiceClient{
		baseURL: strings.TrimSuffix(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 60 * time.Second,
		},
		logger: logger.With(zap.String("component", "VAAServiceClient")),
	}
}

// PostVAA asks the service to verify and post the VAA to the core bridge.
func (c *VAAServiceClient) PostVAA(ctx context.Context, vaaBytes []byte, payer string) (string, error) {
	return c.call(ctx, "/post-vaa", vaaBytes, payer)
}

// CompleteTransfer asks the service to redeem a posted swim transfer.
func (c *VAAServiceClient) CompleteTransfer(ctx context.Context, vaaBytes []byte, payer string) (string, error) {
	return c.call(ctx, "/complete-transfer", vaaBytes, payer)
}

func (c *VAAServiceClient) call(ctx context.Context, path string, vaaBytes []byte, payer string) (string, error) {
	c.logger.Debug("Calling VAA service", zap.String("path", path), zap.Int("vaaLength", len(vaaBytes)))

	body, err := json.Marshal(VAAServiceRequest{VAA: hex.EncodeToString(vaaBytes), Payer: payer})
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+path, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return "", fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return "", fmt.Errorf("failed to read response: %w", err)
	}

	var result VAAServiceResponse
	if err := json.Unmarshal(raw, &result); err != nil {
		return "", fmt.Errorf("failed to parse response: %w (status %d, body: %s)", err, resp.StatusCode, string(raw))
	}
	if !result.Success {
		return "", fmt.Errorf("VAA service error: %s", result.Error)
	}

	c.logger.Info("VAA service call succeeded",
		zap.String("path", path),
		zap.String("signature", result.Signature),
		zap.String("message", result.Message))
	return result.Signature, nil
}

// CheckHealth checks that the service is up.
func (c *VAAServiceClient) CheckHealth(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/health", nil)
	if err != nil {
		return fmt.Errorf("failed to create health check request: %v", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("health check failed: %v", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("VAA service unhealthy: status %d", resp.StatusCode)
	}
	return nil
}
