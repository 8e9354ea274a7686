package paystack

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"

	"github.com/sparehub/sparehub-backend/pkg/config"
	pkgerrors "github.com/sparehub/sparehub-backend/pkg/errors"
	"github.com/sparehub/sparehub-backend/pkg/logger"
)

const mockReferencePrefix = "mock_"

// StatusSuccess is the gateway's terminal success state for a transaction.
const StatusSuccess = "success"

var errLoggerRequired = errors.New("paystack logger is required")

// Client wraps the Paystack REST API with centralized auth, timeouts, and
// error mapping. When no secret key is configured the client runs in
// offline mode and fabricates mock references, mirroring how the sandbox
// behaves for local development.
type Client struct {
	http    *resty.Client
	cfg     config.PaystackConfig
	logger  *logger.Logger
	offline bool
}

// InitializeParams is the input for creating a checkout session.
type InitializeParams struct {
	Email       string
	AmountKobo  int64
	Reference   string
	CallbackURL string
}

// InitializeResult carries the gateway handles for a new transaction.
type InitializeResult struct {
	AuthorizationURL string
	AccessCode       string
	Reference        string
}

// VerifyResult is the settlement snapshot for a reference. Mock marks
// offline-mode results whose amount cannot be trusted.
type VerifyResult struct {
	Reference  string
	Status     string
	AmountKobo int64
	GatewayRsp string
	Mock       bool
}

// NewClient initializes the Paystack wrapper.
func NewClient(cfg config.PaystackConfig, logg *logger.Logger) (*Client, error) {
	if logg == nil {
		return nil, errLoggerRequired
	}

	offline := cfg.Offline()
	httpClient := resty.New().
		SetBaseURL(strings.TrimRight(cfg.BaseURL, "/")).
		SetTimeout(cfg.Timeout).
		SetHeader("Content-Type", "application/json")
	if !offline {
		httpClient.SetAuthToken(cfg.SecretKey)
	}

	return &Client{
		http:    httpClient,
		cfg:     cfg,
		logger:  logg,
		offline: offline,
	}, nil
}

// Offline reports whether the client fabricates mock transactions.
func (c *Client) Offline() bool {
	return c != nil && c.offline
}

// NewReference mints a unique transaction reference.
func (c *Client) NewReference() string {
	if c.Offline() {
		return mockReferencePrefix + uuid.NewString()
	}
	return "sh_" + uuid.NewString()
}

// IsMockReference reports whether the reference was minted offline.
func IsMockReference(reference string) bool {
	return strings.HasPrefix(reference, mockReferencePrefix)
}

type apiEnvelope[T any] struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    T      `json:"data"`
}

type initializeData struct {
	AuthorizationURL string `json:"authorization_url"`
	AccessCode       string `json:"access_code"`
	Reference        string `json:"reference"`
}

type verifyData struct {
	Status          string `json:"status"`
	Reference       string `json:"reference"`
	Amount          int64  `json:"amount"`
	GatewayResponse string `json:"gateway_response"`
}

// InitializeTransaction opens a checkout session for the given amount.
func (c *Client) InitializeTransaction(ctx context.Context, params InitializeParams) (*InitializeResult, error) {
	if params.AmountKobo <= 0 {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "amount must be positive")
	}
	reference := strings.TrimSpace(params.Reference)
	if reference == "" {
		reference = c.NewReference()
	}

	if c.Offline() {
		c.log(ctx, "initialize_transaction", map[string]any{"reference": reference, "mock": true})
		return &InitializeResult{
			AuthorizationURL: "https://checkout.paystack.test/" + reference,
			AccessCode:       reference,
			Reference:        reference,
		}, nil
	}

	var out apiEnvelope[initializeData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(map[string]any{
			"email":        params.Email,
			"amount":       params.AmountKobo,
			"reference":    reference,
			"callback_url": params.CallbackURL,
		}).
		SetResult(&out).
		Post("/transaction/initialize")
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paystack initialize failed")
	}
	if err := c.checkResponse(resp, out.Status, out.Message, "initialize"); err != nil {
		return nil, err
	}

	c.log(ctx, "initialize_transaction", map[string]any{"reference": out.Data.Reference})
	return &InitializeResult{
		AuthorizationURL: out.Data.AuthorizationURL,
		AccessCode:       out.Data.AccessCode,
		Reference:        out.Data.Reference,
	}, nil
}

// VerifyTransaction fetches the settlement state for a reference.
func (c *Client) VerifyTransaction(ctx context.Context, reference string) (*VerifyResult, error) {
	reference = strings.TrimSpace(reference)
	if reference == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "reference is required")
	}

	if c.Offline() || IsMockReference(reference) {
		c.log(ctx, "verify_transaction", map[string]any{"reference": reference, "mock": true})
		return &VerifyResult{
			Reference:  reference,
			Status:     StatusSuccess,
			GatewayRsp: "Approved (mock)",
			Mock:       true,
		}, nil
	}

	var out apiEnvelope[verifyData]
	resp, err := c.http.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/transaction/verify/" + reference)
	if err != nil {
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "paystack verify failed")
	}
	if err := c.checkResponse(resp, out.Status, out.Message, "verify"); err != nil {
		return nil, err
	}

	c.log(ctx, "verify_transaction", map[string]any{
		"reference": out.Data.Reference,
		"status":    out.Data.Status,
	})
	return &VerifyResult{
		Reference:  out.Data.Reference,
		Status:     out.Data.Status,
		AmountKobo: out.Data.Amount,
		GatewayRsp: out.Data.GatewayResponse,
	}, nil
}

func (c *Client) checkResponse(resp *resty.Response, ok bool, message, op string) error {
	if resp.IsError() {
		code := domainCodeForStatus(resp.StatusCode())
		return pkgerrors.New(code, fmt.Sprintf("paystack %s failed: %s", op, strings.TrimSpace(message)))
	}
	if !ok {
		return pkgerrors.New(pkgerrors.CodeDependency, fmt.Sprintf("paystack %s rejected: %s", op, strings.TrimSpace(message)))
	}
	return nil
}

func domainCodeForStatus(status int) pkgerrors.Code {
	switch status {
	case http.StatusUnauthorized, http.StatusForbidden:
		return pkgerrors.CodeUnauthorized
	case http.StatusNotFound:
		return pkgerrors.CodeNotFound
	case http.StatusBadRequest, http.StatusUnprocessableEntity:
		return pkgerrors.CodeValidation
	default:
		return pkgerrors.CodeDependency
	}
}

func (c *Client) log(ctx context.Context, op string, fields map[string]any) {
	if c == nil || c.logger == nil {
		return
	}
	logFields := map[string]any{"operation": op}
	for k, v := range fields {
		logFields[k] = v
	}
	ctx = c.logger.WithFields(ctx, logFields)
	c.logger.Info(ctx, "paystack "+op)
}
