package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

// GatewaySMSSender implementa SMSSender contra un gateway HTTP genérico
// (POST JSON con api key por header).
type GatewaySMSSender struct {
	URL    string
	APIKey string
	From   string
	client *http.Client
}

// NewGatewaySMSSender crea un sender contra el gateway dado.
func NewGatewaySMSSender(url, apiKey, from string) *GatewaySMSSender {
	return &GatewaySMSSender{
		URL:    url,
		APIKey: apiKey,
		From:   from,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

type smsRequest struct {
	To      string `json:"to"`
	From    string `json:"from,omitempty"`
	Message string `json:"message"`
}

func (g *GatewaySMSSender) Send(ctx context.Context, phone, message string) error {
	body, err := json.Marshal(smsRequest{To: phone, From: g.From, Message: message})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, g.URL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if g.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+g.APIKey)
	}

	resp, err := g.client.Do(req)
	if err != nil {
		return fmt.Errorf("sms gateway: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("sms gateway: unexpected status %d", resp.StatusCode)
	}
	return nil
}
