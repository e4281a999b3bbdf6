package gateway

import (
	"bytes"
	"context"
	"crypto/hmac"
	"crypto/sha512"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"strconv"
	"time"
)

const paystackBaseURL = "https://api.paystack.co"

// Paystack charges via transaction/initialize and signs webhooks with
// an HMAC-SHA512 of the raw body in the X-Paystack-Signature header.
type Paystack struct {
	secret  string
	baseURL string
	client  *http.Client
}

func NewPaystack(secret string) *Paystack {
	return &Paystack{
		secret:  secret,
		baseURL: paystackBaseURL,
		client:  &http.Client{Timeout: 15 * time.Second},
	}
}

func (p *Paystack) Name() string { return "paystack" }

type paystackInitReq struct {
	Email     string `json:"email"`
	Amount    int64  `json:"amount"` // kobo
	Reference string `json:"reference"`
	Currency  string `json:"currency,omitempty"`
}

type paystackInitResp struct {
	Status  bool   `json:"status"`
	Message string `json:"message"`
	Data    struct {
		AuthorizationURL string `json:"authorization_url"`
		AccessCode       string `json:"access_code"`
		Reference        string `json:"reference"`
	} `json:"data"`
}

func (p *Paystack) InitiateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	body, err := json.Marshal(paystackInitReq{
		Email:     req.CustomerEmail,
		Amount:    req.Amount,
		Reference: req.Reference,
		Currency:  req.Currency,
	})
	if err != nil {
		return ChargeResult{}, err
	}
	var out paystackInitResp
	status, err := p.do(ctx, http.MethodPost, "/transaction/initialize", bytes.NewReader(body), &out)
	if err != nil {
		return ChargeResult{}, err
	}
	if status >= 500 {
		return ChargeResult{}, fmt.Errorf("%w: initialize returned %d", ErrGatewayUnavailable, status)
	}
	if status >= 400 || !out.Status {
		return ChargeResult{}, fmt.Errorf("%w: %s", ErrGatewayRejected, out.Message)
	}
	ref := out.Data.Reference
	if ref == "" {
		ref = req.Reference
	}
	return ChargeResult{ProviderReference: ref, RedirectURL: out.Data.AuthorizationURL}, nil
}

type paystackVerifyResp struct {
	Status bool `json:"status"`
	Data   struct {
		Status string `json:"status"` // success | failed | abandoned | ongoing | ...
		Amount int64  `json:"amount"`
		PaidAt string `json:"paid_at"`
	} `json:"data"`
}

func (p *Paystack) VerifyCharge(ctx context.Context, providerReference string) (VerifyResult, error) {
	var out paystackVerifyResp
	status, err := p.do(ctx, http.MethodGet, "/transaction/verify/"+providerReference, nil, &out)
	if err != nil {
		return VerifyResult{}, err
	}
	if status == http.StatusNotFound {
		return VerifyResult{}, ErrNotFound
	}
	if status >= 400 {
		return VerifyResult{}, fmt.Errorf("%w: verify returned %d", ErrGatewayUnavailable, status)
	}
	res := VerifyResult{Status: paystackStatus(out.Data.Status), Amount: out.Data.Amount}
	if t, err := time.Parse(time.RFC3339, out.Data.PaidAt); err == nil {
		res.PaidAt = t
	}
	return res, nil
}

type paystackEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID        int64  `json:"id"`
		Reference string `json:"reference"`
		Status    string `json:"status"`
	} `json:"data"`
}

func (p *Paystack) ParseWebhook(payload []byte, signatureHeader string) (ParsedEvent, error) {
	// without a configured secret the HMAC key is known, so nothing
	// can be authenticated
	if p.secret == "" {
		return ParsedEvent{}, ErrInvalidSignature
	}
	mac := hmac.New(sha512.New, []byte(p.secret))
	mac.Write(payload)
	expected := hex.EncodeToString(mac.Sum(nil))
	if !hmac.Equal([]byte(expected), []byte(signatureHeader)) {
		return ParsedEvent{}, ErrInvalidSignature
	}
	var ev paystackEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ParsedEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Data.Reference == "" || ev.Data.ID == 0 {
		return ParsedEvent{}, fmt.Errorf("%w: missing reference or event id", ErrMalformed)
	}
	return ParsedEvent{
		ProviderReference: ev.Data.Reference,
		Status:            paystackStatus(ev.Data.Status),
		EventID:           ev.Event + ":" + strconv.FormatInt(ev.Data.ID, 10),
	}, nil
}

func paystackStatus(s string) Status {
	switch s {
	case "success":
		return StatusSuccess
	case "failed", "reversed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

// do runs one request and decodes the body into out. Network failures
// and timeouts map to ErrGatewayUnavailable; HTTP status handling is
// left to the caller.
func (p *Paystack) do(ctx context.Context, method, path string, body *bytes.Reader, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = body
	}
	req, err := http.NewRequestWithContext(ctx, method, p.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+p.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(req)
	if err != nil {
		return 0, gatewayNetErr("paystack", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode < 400 {
		return resp.StatusCode, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return resp.StatusCode, nil
}

func gatewayNetErr(provider string, err error) error {
	var nerr net.Error
	if errors.Is(err, context.DeadlineExceeded) || (errors.As(err, &nerr) && nerr.Timeout()) {
		return fmt.Errorf("%w: %s timeout: %v", ErrGatewayUnavailable, provider, err)
	}
	return fmt.Errorf("%w: %s: %v", ErrGatewayUnavailable, provider, err)
}
