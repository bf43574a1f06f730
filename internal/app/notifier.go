package app

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"littlehero/pkg/domain"
)

// Notifier hands a generation request to the book generator. The generator
// reports back through the completion webhook, never through this call.
type Notifier interface {
	NotifyGeneration(ctx context.Context, req domain.GenerationRequest) error
}

// HTTPNotifier delivers generation requests to the generator's HTTP API,
// authenticated with the shared internal token.
type HTTPNotifier struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

// NewHTTPNotifier creates a notifier targeting baseURL.
func NewHTTPNotifier(baseURL, token string) (*HTTPNotifier, error) {
	baseURL = strings.TrimRight(strings.TrimSpace(baseURL), "/")
	if baseURL == "" {
		return nil, fmt.Errorf("generator URL is required")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, fmt.Errorf("internal token is required")
	}
	return &HTTPNotifier{
		baseURL:    baseURL,
		token:      token,
		httpClient: &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// NotifyGeneration posts the request to the generator.
func (n *HTTPNotifier) NotifyGeneration(ctx context.Context, genReq domain.GenerationRequest) error {
	payload, err := json.Marshal(genReq)
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, n.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+n.token)

	resp, err := n.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 400 {
		var errResp struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&errResp)
		msg := errResp.Error
		if msg == "" {
			msg = resp.Status
		}
		return fmt.Errorf("generator error: %s", msg)
	}
	return nil
}
