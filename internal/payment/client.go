// Package payment предоставляет клиент платёжного провайдера и разбор его
// webhook-уведомлений.
package payment

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// LineItem описывает одну позицию платёжной сессии. UnitAmount задаётся в
// минорных единицах валюты.
type LineItem struct {
	Name       string `json:"name"`
	UnitAmount int64  `json:"unit_amount"`
	Quantity   int64  `json:"quantity"`
	Currency   string `json:"currency"`
}

// SessionRequest описывает запрос на открытие платёжной сессии.
// Metadata (идентификатор товара → количество) — единственная связь между
// сессией и последующим расчётом по уведомлению провайдера.
type SessionRequest struct {
	Mode             string            `json:"mode"`
	LineItems        []LineItem        `json:"line_items"`
	Metadata         map[string]string `json:"metadata"`
	AllowedCountries []string          `json:"allowed_countries"`
	SuccessURL       string            `json:"success_url"`
	CancelURL        string            `json:"cancel_url"`
	Locale           string            `json:"locale"`
}

// Session — открытая провайдером платёжная сессия.
type Session struct {
	ID  string `json:"id"`
	URL string `json:"url"`
}

// Client инкапсулирует HTTP-взаимодействие с платёжным провайдером.
type Client struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
}

// NewClient создаёт HTTP-клиент платёжного провайдера по указанному адресу.
func NewClient(baseURL, apiKey string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		apiKey:  apiKey,
		httpClient: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

// CreateSession открывает платёжную сессию у провайдера. Ошибки провайдера
// возвращаются вызывающему как есть, без внутренних повторов.
func (c *Client) CreateSession(ctx context.Context, req *SessionRequest) (*Session, error) {
	if c == nil || c.baseURL == "" {
		return nil, fmt.Errorf("payment client not configured")
	}

	base := c.baseURL
	if !strings.HasPrefix(base, "http://") && !strings.HasPrefix(base, "https://") {
		base = "https://" + base
	}

	body, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("marshal session request: %w", err)
	}

	url := base + "/v1/checkout/sessions"

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 1024))
		return nil, fmt.Errorf("unexpected status %d: %s", resp.StatusCode, strings.TrimSpace(string(msg)))
	}

	var session Session
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return nil, fmt.Errorf("decode response: %w", err)
	}

	return &session, nil
}
