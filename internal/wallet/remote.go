package wallet

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	jsoniter "github.com/json-iterator/go"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/alexbotov/slotengine/internal/domain"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Error codes of the remote ledger API
const (
	CodeInsufficientBalance = "INSUFFICIENT_BALANCE"
	CodeInvalidAmount       = "INVALID_AMOUNT"
	CodeNotAuthorized       = "NOT_AUTHORIZED"
	CodeUnexpectedError     = "UNEXPECTED_ERROR"
)

// RemoteConfig holds the connection settings of a remote ledger
type RemoteConfig struct {
	BaseURL   string
	APIKey    string
	APISecret string
	SiteCode  string
	Timeout   time.Duration
}

// RemoteError is an error answered by the remote ledger
type RemoteError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func (e *RemoteError) Error() string {
	return e.Code + ": " + e.Message
}

// remoteResponse wraps the API response with either result or error
type remoteResponse[T any] struct {
	Result *T           `json:"result,omitempty"`
	Error  *RemoteError `json:"error,omitempty"`
}

// transferRequest is the body of /withdraw and /deposit.
// Amounts travel as decimal strings of minor units.
type transferRequest struct {
	SiteCode      string `json:"siteCode"`
	PlayerID      string `json:"playerId"`
	Currency      string `json:"currency"`
	TransactionID string `json:"transactionId"`
	Type          string `json:"type"`
	Amount        string `json:"amount"`
	Description   string `json:"description,omitempty"`
}

// transferResult is answered for a new or a repeated transaction id
type transferResult struct {
	TransactionID string `json:"transactionId"`
	BalanceBefore string `json:"balanceBefore"`
	Balance       string `json:"balance"`
}

type balanceRequest struct {
	SiteCode string `json:"siteCode"`
	PlayerID string `json:"playerId"`
	Currency string `json:"currency"`
}

type balanceResult struct {
	Balance string `json:"balance"`
}

// Remote is a Gateway backed by an external ledger over HTTP. Requests are
// signed with HMAC-SHA256 of the body; the transaction id is the request
// reference, so the ledger can answer repeats with the original result.
type Remote struct {
	config     RemoteConfig
	httpClient *http.Client
	log        *zap.Logger
}

var _ Gateway = (*Remote)(nil)

// NewRemote creates a remote ledger client. A nil httpClient gets one with
// the configured timeout.
func NewRemote(config RemoteConfig, httpClient *http.Client, log *zap.Logger) *Remote {
	if config.Timeout == 0 {
		config.Timeout = 10 * time.Second
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: config.Timeout}
	}
	return &Remote{config: config, httpClient: httpClient, log: log.Named("ledger")}
}

// computeHMAC computes the HMAC-SHA256 signature for the request body
func (c *Remote) computeHMAC(body []byte) string {
	h := hmac.New(sha256.New, []byte(c.config.APISecret))
	h.Write(body)
	return hex.EncodeToString(h.Sum(nil))
}

// doRequest posts a signed request. Transport failures and 5xx answers are
// reported as ErrUnavailable so the retry layer can repeat them.
func doRequest[T any](ctx context.Context, c *Remote, endpoint string, reqBody interface{}) (*T, error) {
	bodyBytes, err := json.Marshal(reqBody)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+endpoint, bytes.NewReader(bodyBytes))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("x-api-key", c.config.APIKey)
	req.Header.Set("x-api-hmac", c.computeHMAC(bodyBytes))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, unavailable(err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, unavailable(err)
	}
	if resp.StatusCode >= http.StatusInternalServerError {
		return nil, fmt.Errorf("%w: %s answered %d", ErrUnavailable, endpoint, resp.StatusCode)
	}

	var out remoteResponse[T]
	if err := json.Unmarshal(respBody, &out); err != nil {
		return nil, fmt.Errorf("failed to parse %s response (status %d): %w", endpoint, resp.StatusCode, err)
	}
	if out.Error != nil {
		switch out.Error.Code {
		case CodeInsufficientBalance:
			return nil, fmt.Errorf("%w: %s", ErrInsufficientFunds, out.Error.Message)
		case CodeInvalidAmount:
			return nil, fmt.Errorf("%w: %s", ErrInvalidAmount, out.Error.Message)
		case CodeUnexpectedError:
			return nil, fmt.Errorf("%w: %v", ErrUnavailable, out.Error)
		default:
			return nil, out.Error
		}
	}
	if out.Result == nil {
		return nil, fmt.Errorf("%s response carries no result", endpoint)
	}
	return out.Result, nil
}

func parseMinor(field, s string) (int64, error) {
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: %w", field, s, err)
	}
	if !d.IsInteger() {
		return 0, fmt.Errorf("%s %q is not a whole number of minor units", field, s)
	}
	return d.IntPart(), nil
}

func (c *Remote) transfer(ctx context.Context, endpoint string, req Request) (*domain.Transaction, error) {
	if req.Amount <= 0 {
		return nil, ErrInvalidAmount
	}
	if req.Reference == "" {
		return nil, errors.New("transaction reference is required")
	}

	res, err := doRequest[transferResult](ctx, c, endpoint, &transferRequest{
		SiteCode:      c.config.SiteCode,
		PlayerID:      req.PlayerID,
		Currency:      req.Currency,
		TransactionID: req.Reference,
		Type:          string(req.Type),
		Amount:        decimal.NewFromInt(req.Amount).String(),
		Description:   req.Description,
	})
	if err != nil {
		return nil, err
	}

	after, err := parseMinor("balance", res.Balance)
	if err != nil {
		return nil, err
	}
	before := after + req.Amount
	if !req.Type.IsDebit() {
		before = after - req.Amount
	}
	if res.BalanceBefore != "" {
		if before, err = parseMinor("balanceBefore", res.BalanceBefore); err != nil {
			return nil, err
		}
	}

	id := res.TransactionID
	if id == "" {
		id = uuid.New().String()
	}
	return &domain.Transaction{
		ID:            id,
		PlayerID:      req.PlayerID,
		Type:          req.Type,
		Amount:        req.Amount,
		Currency:      req.Currency,
		BalanceBefore: before,
		BalanceAfter:  after,
		Reference:     req.Reference,
		Description:   req.Description,
		CreatedAt:     time.Now().UTC(),
	}, nil
}

// Debit withdraws req.Amount for a wager
func (c *Remote) Debit(ctx context.Context, req Request) (*domain.Transaction, error) {
	if req.Type == "" {
		req.Type = domain.TxTypeWager
	}
	if !req.Type.IsDebit() {
		return nil, fmt.Errorf("%s is not a debit", req.Type)
	}
	return c.transfer(ctx, "/withdraw", req)
}

// Credit deposits a win or jackpot award
func (c *Remote) Credit(ctx context.Context, req Request) (*domain.Transaction, error) {
	if req.Type == "" {
		req.Type = domain.TxTypeWin
	}
	if req.Type.IsDebit() {
		return nil, fmt.Errorf("%s is not a credit", req.Type)
	}
	tx, err := c.transfer(ctx, "/deposit", req)
	if err != nil && !errors.Is(err, ErrUnavailable) {
		c.log.Error("ledger rejected credit",
			zap.String("player_id", req.PlayerID),
			zap.String("reference", req.Reference),
			zap.Int64("amount", req.Amount),
			zap.Error(err))
	}
	return tx, err
}

// Balance retrieves the player's current balance
func (c *Remote) Balance(ctx context.Context, playerID, currency string) (int64, error) {
	res, err := doRequest[balanceResult](ctx, c, "/balance", &balanceRequest{
		SiteCode: c.config.SiteCode,
		PlayerID: playerID,
		Currency: currency,
	})
	if err != nil {
		return 0, err
	}
	return parseMinor("balance", res.Balance)
}
