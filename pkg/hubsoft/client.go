// Package hubsoft implements the HubSoft ERP API client: OAuth token
// management, rate limiting, circuit breaking and error classification.
// All calls go through the integration engine; nothing here is invoked
// directly from a user interaction.
package hubsoft

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/sony/gobreaker"
	"golang.org/x/time/rate"

	"github.com/GustSR/oncabito-gaming-bot-sub000/pkg/config"
)

// Client talks to the HubSoft API.
type Client struct {
	baseURL    string
	httpClient *http.Client
	tokens     *tokenManager
	limiter    *rate.Limiter
	breaker    *gobreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewClient builds a client from the HubSoft configuration.
func NewClient(cfg config.HubSoftConfig) *Client {
	httpClient := &http.Client{Timeout: cfg.RequestTimeout}

	rps := cfg.RequestsPerSecond
	if rps <= 0 {
		rps = 10
	}

	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:    "hubsoft",
		Timeout: 60 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		// Permanent 4xx responses are the caller's problem, not an
		// upstream outage; only transient failures trip the breaker.
		IsSuccessful: func(err error) bool {
			return err == nil || !Retryable(err)
		},
	})

	return &Client{
		baseURL:    strings.TrimRight(cfg.Host, "/"),
		httpClient: httpClient,
		tokens: newTokenManager(cfg.Host, cfg.ClientID, cfg.ClientSecret,
			cfg.User, cfg.Password, httpClient),
		limiter: rate.NewLimiter(rate.Limit(rps), int(rps)),
		breaker: breaker,
		logger:  slog.Default().With("component", "hubsoft-client"),
	}
}

// VerifyClientByCPF looks up the subscriber bound to the CPF. Returns
// ErrNotFound when the CPF is valid but not a subscriber.
func (c *Client) VerifyClientByCPF(ctx context.Context, cpf string) (*ClientInfo, error) {
	query := url.Values{"busca": {"cpf_cnpj"}, "termo_busca": {cpf}}
	data, err := c.do(ctx, http.MethodGet, "/api/v1/integracao/cliente?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}

	var lookup clientLookupData
	if err := json.Unmarshal(data, &lookup); err != nil {
		return nil, fmt.Errorf("decoding client lookup: %w", err)
	}
	if len(lookup.Clients) == 0 {
		return nil, ErrNotFound
	}

	first := lookup.Clients[0]
	info := &ClientInfo{Name: first.Name, Code: first.Code}
	if len(first.Services) > 0 {
		info.ServiceName = first.Services[0].Name
		info.ServiceStatus = first.Services[0].Status
		info.PlanName = first.Services[0].Plan
	}
	return info, nil
}

// CreateTicket opens an atendimento upstream.
func (c *Client) CreateTicket(ctx context.Context, req CreateTicketRequest) (*CreateTicketResult, error) {
	data, err := c.do(ctx, http.MethodPost, "/api/v1/integracao/cliente/atendimento", req)
	if err != nil {
		return nil, err
	}
	var result CreateTicketResult
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding create ticket response: %w", err)
	}
	return &result, nil
}

// UpdateTicket patches an existing atendimento.
func (c *Client) UpdateTicket(ctx context.Context, hubsoftID string, fields map[string]any) error {
	path := "/api/v1/integracao/cliente/atendimento/" + url.PathEscape(hubsoftID)
	_, err := c.do(ctx, http.MethodPut, path, fields)
	return err
}

// GetTicketStatus reads the current upstream state of an atendimento.
func (c *Client) GetTicketStatus(ctx context.Context, hubsoftID string) (*Atendimento, error) {
	path := "/api/v1/integracao/cliente/atendimento/" + url.PathEscape(hubsoftID)
	data, err := c.do(ctx, http.MethodGet, path, nil)
	if err != nil {
		return nil, err
	}
	var a Atendimento
	if err := json.Unmarshal(data, &a); err != nil {
		return nil, fmt.Errorf("decoding atendimento: %w", err)
	}
	if a.ID == "" {
		return nil, ErrNotFound
	}
	return &a, nil
}

// SearchTicketsByCPF lists the subscriber's atendimentos.
func (c *Client) SearchTicketsByCPF(ctx context.Context, cpf string) ([]Atendimento, error) {
	query := url.Values{"busca": {"cpf_cnpj"}, "termo_busca": {cpf}}
	data, err := c.do(ctx, http.MethodGet,
		"/api/v1/integracao/cliente/atendimento?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var body struct {
		Atendimentos []Atendimento `json:"atendimentos"`
	}
	if err := json.Unmarshal(data, &body); err != nil {
		return nil, fmt.Errorf("decoding atendimento search: %w", err)
	}
	return body.Atendimentos, nil
}

// ListAtendimentos fetches one page of the full atendimento listing.
// Used by reconciliation after an outage.
func (c *Client) ListAtendimentos(ctx context.Context, page, perPage int) (*AtendimentoPage, error) {
	query := url.Values{
		"pagina":           {strconv.Itoa(page)},
		"itens_por_pagina": {strconv.Itoa(perPage)},
	}
	data, err := c.do(ctx, http.MethodGet,
		"/api/v1/integracao/cliente/atendimento/paginado?"+query.Encode(), nil)
	if err != nil {
		return nil, err
	}
	var result AtendimentoPage
	if err := json.Unmarshal(data, &result); err != nil {
		return nil, fmt.Errorf("decoding atendimento page: %w", err)
	}
	return &result, nil
}

// AddMessage appends a note to an atendimento.
func (c *Client) AddMessage(ctx context.Context, hubsoftID, message string) error {
	path := "/api/v1/integracao/cliente/atendimento/" + url.PathEscape(hubsoftID) + "/mensagem"
	_, err := c.do(ctx, http.MethodPost, path, map[string]string{"mensagem": message})
	return err
}

// AddAttachment uploads a file to an atendimento as multipart form data.
func (c *Client) AddAttachment(ctx context.Context, hubsoftID, filename string, content io.Reader) error {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("anexo", filename)
	if err != nil {
		return fmt.Errorf("building attachment form: %w", err)
	}
	if _, err := io.Copy(part, content); err != nil {
		return fmt.Errorf("copying attachment: %w", err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("closing attachment form: %w", err)
	}

	path := "/api/v1/integracao/cliente/atendimento/" + url.PathEscape(hubsoftID) + "/anexo"
	_, err = c.doRaw(ctx, http.MethodPost, path, &buf, writer.FormDataContentType())
	return err
}

// CheckHealth probes the API. Any authenticated 2xx counts as healthy.
func (c *Client) CheckHealth(ctx context.Context) error {
	_, err := c.do(ctx, http.MethodGet, "/api/v1/integracao/status", nil)
	return err
}

// do sends a JSON request and unwraps the response envelope.
func (c *Client) do(ctx context.Context, method, path string, body any) (json.RawMessage, error) {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("encoding request body: %w", err)
		}
		reader = bytes.NewReader(raw)
	}
	return c.doRaw(ctx, method, path, reader, "application/json")
}

// doRaw sends one request through the limiter and breaker, retrying
// once after re-authentication on a 401.
func (c *Client) doRaw(ctx context.Context, method, path string, body io.Reader, contentType string) (json.RawMessage, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	// A 401 retry needs to resend the body, so buffer it once.
	var payload []byte
	if body != nil {
		var err error
		if payload, err = io.ReadAll(body); err != nil {
			return nil, fmt.Errorf("reading request body: %w", err)
		}
	}

	result, err := c.breaker.Execute(func() (any, error) {
		data, err := c.send(ctx, method, path, payload, contentType)
		if isUnauthorized(err) {
			c.logger.Warn("Upstream rejected token, re-authenticating", "path", path)
			c.tokens.Invalidate()
			data, err = c.send(ctx, method, path, payload, contentType)
		}
		return data, err
	})
	if err != nil {
		return nil, err
	}
	return result.(json.RawMessage), nil
}

func (c *Client) send(ctx context.Context, method, path string, payload []byte, contentType string) (json.RawMessage, error) {
	token, err := c.tokens.Token(ctx)
	if err != nil {
		return nil, fmt.Errorf("acquiring token: %w", err)
	}

	var body io.Reader
	if payload != nil {
		body = bytes.NewReader(payload)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	req.Header.Set("Accept", "application/json")
	if payload != nil {
		req.Header.Set("Content-Type", contentType)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 4<<20))
	if err != nil {
		return nil, fmt.Errorf("reading response from %s: %w", path, err)
	}

	if resp.StatusCode == http.StatusTooManyRequests {
		return nil, &APIError{
			StatusCode: resp.StatusCode,
			Message:    "rate limited",
			RetryAfter: parseRetryAfter(resp.Header.Get("Retry-After")),
		}
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: envelopeMessage(raw)}
	}

	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, fmt.Errorf("decoding response envelope from %s: %w", path, err)
	}
	if !envelope.ok() {
		return nil, &APIError{StatusCode: resp.StatusCode, Message: envelope.Message}
	}
	return envelope.Data, nil
}

func isUnauthorized(err error) bool {
	var apiErr *APIError
	return errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusUnauthorized
}

// envelopeMessage extracts the upstream message from an error body so
// diagnostics carry it even on non-2xx responses.
func envelopeMessage(raw []byte) string {
	var envelope apiResponse
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Message != "" {
		return envelope.Message
	}
	return "upstream error"
}

func parseRetryAfter(header string) time.Duration {
	if header == "" {
		return 0
	}
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return 0
}
