// Package apiclient is the device-side HTTP client for the expense API.
// Transport failures and response statuses are folded into the shared
// boundary sentinels so callers can classify errors with errors.Is.
package apiclient

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"pocketexpense/internal/core"
)

const (
	defaultTimeout = 10 * time.Second
	dateLayout     = "2006-01-02"
)

type Client struct {
	baseURL    string
	token      string
	httpClient *http.Client
}

func NewClient(baseURL string) *Client {
	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: defaultTimeout},
	}
}

// SetToken installs the bearer token used on authenticated calls.
func (c *Client) SetToken(token string) {
	c.token = token
}

type expensePayload struct {
	ID            string  `json:"id,omitempty"`
	ClientID      string  `json:"client_id,omitempty"`
	Amount        float64 `json:"amount"`
	Category      string  `json:"category"`
	PaymentMethod string  `json:"payment_method"`
	Date          string  `json:"date"`
	Note          string  `json:"note,omitempty"`
}

func toPayload(e core.Expense) expensePayload {
	return expensePayload{
		ClientID:      e.ClientID,
		Amount:        e.Amount.Float(),
		Category:      string(e.Category),
		PaymentMethod: string(e.PaymentMethod),
		Date:          e.Date.Format(dateLayout),
		Note:          e.Note,
	}
}

func (p expensePayload) toExpense(ownerID string) (core.Expense, error) {
	amount, err := core.MoneyFromFloat(p.Amount)
	if err != nil {
		return core.Expense{}, fmt.Errorf("response amount: %w", err)
	}
	date, err := time.Parse(dateLayout, p.Date)
	if err != nil {
		return core.Expense{}, fmt.Errorf("response date %q: %w", p.Date, err)
	}
	return core.Expense{
		ID:            p.ID,
		OwnerID:       ownerID,
		ClientID:      p.ClientID,
		Amount:        amount,
		Category:      core.Category(p.Category),
		PaymentMethod: core.PaymentMethod(p.PaymentMethod),
		Date:          core.Date{Time: date},
		Note:          p.Note,
	}, nil
}

type loginResponse struct {
	Token string `json:"token"`
	User  struct {
		ID    string `json:"id"`
		Email string `json:"email"`
		Name  string `json:"name"`
	} `json:"user"`
}

// Login authenticates and installs the returned token on the client.
func (c *Client) Login(ctx context.Context, email, password string) (token, userID, name string, err error) {
	body := map[string]string{"email": email, "password": password}

	var resp loginResponse
	if err := c.do(ctx, http.MethodPost, "/api/auth/login", body, &resp); err != nil {
		return "", "", "", err
	}

	c.token = resp.Token
	return resp.Token, resp.User.ID, resp.User.Name, nil
}

// CreateExpense posts a new expense. The ClientID rides along so replays of
// the same queued mutation resolve to the same server record.
func (c *Client) CreateExpense(ctx context.Context, e core.Expense) (core.Expense, error) {
	var resp expensePayload
	if err := c.do(ctx, http.MethodPost, "/api/expenses", toPayload(e), &resp); err != nil {
		return core.Expense{}, err
	}
	return resp.toExpense(e.OwnerID)
}

// UpdateExpense replaces the mutable fields of an existing expense.
func (c *Client) UpdateExpense(ctx context.Context, id string, e core.Expense) (core.Expense, error) {
	var resp expensePayload
	if err := c.do(ctx, http.MethodPut, "/api/expenses/"+id, toPayload(e), &resp); err != nil {
		return core.Expense{}, err
	}
	return resp.toExpense(e.OwnerID)
}

// Ping probes the server's liveness endpoint.
func (c *Client) Ping(ctx context.Context) error {
	return c.do(ctx, http.MethodGet, "/healthz", nil, nil)
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	var reqBody *bytes.Buffer
	if body != nil {
		reqBody = &bytes.Buffer{}
		if err := json.NewEncoder(reqBody).Encode(body); err != nil {
			return fmt.Errorf("encode request body: %w", err)
		}
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrUnavailable, err)
	}
	defer resp.Body.Close()

	if err := classifyStatus(resp.StatusCode); err != nil {
		var apiErr struct {
			Error string `json:"error"`
		}
		_ = json.NewDecoder(resp.Body).Decode(&apiErr)
		if apiErr.Error != "" {
			return fmt.Errorf("%w: %s", err, apiErr.Error)
		}
		return fmt.Errorf("%w: status %d", err, resp.StatusCode)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("decode response: %w", err)
		}
	}
	return nil
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized:
		return core.ErrUnauthorized
	case status == http.StatusNotFound:
		return core.ErrNotFound
	case status == http.StatusBadRequest || status == http.StatusUnprocessableEntity:
		return core.ErrInvalidInput
	default:
		// 5xx, 429 and anything unexpected are retryable.
		return core.ErrUnavailable
	}
}
