package backend

import (
	"bytes"
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strings"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
)

const (
	modelMpesaTransaction   = "mpesa.transaction"
	modelPesapalTransaction = "pesapal.transaction"

	methodMakePayment          = "action_make_payment"
	methodValidatePayment      = "action_validate_payment"
	methodValidateTillPayment  = "action_validate_till_payment"
	methodCreateTemporaryOrder = "createTemporaryOrder"
)

// RemoteError is a JSON-RPC error object returned by the ERP.
type RemoteError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Data    struct {
		Name    string `json:"name"`
		Message string `json:"message"`
	} `json:"data"`
}

func (e *RemoteError) Error() string {
	if e.Data.Message != "" {
		return fmt.Sprintf("backend error %d: %s: %s", e.Code, e.Message, e.Data.Message)
	}
	return fmt.Sprintf("backend error %d: %s", e.Code, e.Message)
}

// HTTPError is returned when the ERP answers with a non 2xx status.
type HTTPError struct {
	StatusCode int
	Body       string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("backend responded with %d: %s", e.StatusCode, e.Body)
}

// TransportError wraps failures to reach the ERP at all, timeouts included.
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error {
	return e.Err
}

// Timeout reports whether the failure was a deadline being exceeded.
func (e *TransportError) Timeout() bool {
	if errors.Is(e.Err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	return errors.As(e.Err, &netErr) && netErr.Timeout()
}

type rpcRequest struct {
	JSONRPC string    `json:"jsonrpc"`
	Method  string    `json:"method"`
	ID      int64     `json:"id"`
	Params  rpcParams `json:"params"`
}

type rpcParams struct {
	Model  string         `json:"model"`
	Method string         `json:"method"`
	Args   []any          `json:"args"`
	Kwargs map[string]any `json:"kwargs"`
}

type rpcResponse struct {
	ID     int64           `json:"id"`
	Result json.RawMessage `json:"result"`
	Error  *RemoteError    `json:"error"`
}

// RPCClient talks to the ERP over its call_kw JSON-RPC endpoint.
type RPCClient struct {
	BaseURL    string
	APIKey     string
	HttpClient *http.Client //nolint:staticcheck // matches the field name used across clients

	requestID atomic.Int64
}

// New creates a client for the ERP at baseURL.
func New(baseURL, apiKey string, timeout time.Duration) *RPCClient {
	tr := &http.Transport{
		TLSClientConfig: &tls.Config{
			MinVersion: tls.VersionTLS12,
		},
		MaxIdleConns:       10,
		IdleConnTimeout:    30 * time.Second,
		DisableCompression: true,
	}

	return &RPCClient{
		BaseURL: strings.TrimRight(baseURL, "/"),
		APIKey:  apiKey,
		HttpClient: &http.Client{
			Transport: tr,
			Timeout:   timeout,
		},
	}
}

// Initiate asks the ERP to send an STK push to request.Phone.
func (c *RPCClient) Initiate(ctx context.Context, request InitiateRequest) (*InitiateResponse, error) {
	amount, _ := request.Amount.Float64()
	args := []any{request.Phone, amount, optionalID(request.CashierID), optionalID(request.ConfigID)}

	var response InitiateResponse
	if err := c.call(ctx, modelMpesaTransaction, methodMakePayment, args, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ValidateByTransaction reads the status of an STK transaction.
func (c *RPCClient) ValidateByTransaction(ctx context.Context, transactionID string) (*StatusResponse, error) {
	var response StatusResponse
	if err := c.call(ctx, modelMpesaTransaction, methodValidatePayment, []any{transactionID}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// ValidateByAmount reads the status of a till payment matched by amount.
func (c *RPCClient) ValidateByAmount(ctx context.Context, amount decimal.Decimal) (*StatusResponse, error) {
	value, _ := amount.Float64()

	var response StatusResponse
	if err := c.call(ctx, modelMpesaTransaction, methodValidateTillPayment, []any{value}, &response); err != nil {
		return nil, err
	}
	return &response, nil
}

// CreateTemporaryOrder registers a pending order against the cashier.
func (c *RPCClient) CreateTemporaryOrder(ctx context.Context, cashierID int64, paymentRef string) error {
	return c.call(ctx, modelPesapalTransaction, methodCreateTemporaryOrder, []any{cashierID, paymentRef}, nil)
}

func (c *RPCClient) call(ctx context.Context, model, method string, args []any, out any) error {
	url := fmt.Sprintf("%s/web/dataset/call_kw/%s/%s", c.BaseURL, model, method)
	logger := logrus.WithField("model", model).WithField("method", method)

	body := rpcRequest{
		JSONRPC: "2.0",
		Method:  "call",
		ID:      c.requestID.Add(1),
		Params: rpcParams{
			Model:  model,
			Method: method,
			Args:   args,
			Kwargs: map[string]any{},
		},
	}

	jsonBody, err := json.Marshal(body)
	if err != nil {
		return err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewBuffer(jsonBody))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.APIKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.APIKey)
	}

	resp, err := c.HttpClient.Do(req)
	if err != nil {
		return &TransportError{Op: model + "." + method, Err: err}
	}
	defer func() {
		if closeErr := resp.Body.Close(); closeErr != nil {
			logger.WithError(closeErr).Warn("failed to close response body")
		}
	}()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return &TransportError{Op: model + "." + method, Err: err}
	}

	if resp.StatusCode < http.StatusOK || resp.StatusCode >= http.StatusMultipleChoices {
		return &HTTPError{StatusCode: resp.StatusCode, Body: string(respBody)}
	}

	var rpcResp rpcResponse
	if err := json.Unmarshal(respBody, &rpcResp); err != nil {
		return fmt.Errorf("failed to decode %s.%s response: %w", model, method, err)
	}

	if rpcResp.Error != nil {
		logger.WithField("code", rpcResp.Error.Code).Warn("backend returned an error")
		return rpcResp.Error
	}

	if out == nil || len(rpcResp.Result) == 0 || string(rpcResp.Result) == "null" {
		return nil
	}

	if err := json.Unmarshal(rpcResp.Result, out); err != nil {
		return fmt.Errorf("failed to decode %s.%s result: %w", model, method, err)
	}

	logger.WithField("result", string(rpcResp.Result)).Debug("backend call completed")
	return nil
}

func optionalID(id *int64) any {
	if id == nil {
		return nil
	}
	return *id
}
