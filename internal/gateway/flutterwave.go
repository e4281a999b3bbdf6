package gateway

import (
	"bytes"
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

const flutterwaveBaseURL = "https://api.flutterwave.com/v3"

// Flutterwave authenticates webhooks with a shared secret hash sent in
// the verif-hash header; there is no body signature.
type Flutterwave struct {
	secret    string // API secret key
	verifHash string // webhook shared hash
	baseURL   string
	client    *http.Client
}

func NewFlutterwave(secret, verifHash string) *Flutterwave {
	return &Flutterwave{
		secret:    secret,
		verifHash: verifHash,
		baseURL:   flutterwaveBaseURL,
		client:    &http.Client{Timeout: 15 * time.Second},
	}
}

func (f *Flutterwave) Name() string { return "flutterwave" }

type flwInitReq struct {
	TxRef    string `json:"tx_ref"`
	Amount   string `json:"amount"` // major units as string, per API
	Currency string `json:"currency"`
	Customer struct {
		Email string `json:"email"`
	} `json:"customer"`
}

type flwInitResp struct {
	Status  string `json:"status"`
	Message string `json:"message"`
	Data    struct {
		Link string `json:"link"`
	} `json:"data"`
}

func (f *Flutterwave) InitiateCharge(ctx context.Context, req ChargeRequest) (ChargeResult, error) {
	in := flwInitReq{
		TxRef:    req.Reference,
		Amount:   minorToMajor(req.Amount),
		Currency: req.Currency,
	}
	in.Customer.Email = req.CustomerEmail
	body, err := json.Marshal(in)
	if err != nil {
		return ChargeResult{}, err
	}
	var out flwInitResp
	status, err := f.do(ctx, http.MethodPost, "/payments", bytes.NewReader(body), &out)
	if err != nil {
		return ChargeResult{}, err
	}
	if status >= 500 {
		return ChargeResult{}, fmt.Errorf("%w: payments returned %d", ErrGatewayUnavailable, status)
	}
	if status >= 400 || out.Status != "success" {
		return ChargeResult{}, fmt.Errorf("%w: %s", ErrGatewayRejected, out.Message)
	}
	// flutterwave keys the charge by our tx_ref
	return ChargeResult{ProviderReference: req.Reference, RedirectURL: out.Data.Link}, nil
}

type flwVerifyResp struct {
	Status string `json:"status"`
	Data   struct {
		Status    string  `json:"status"` // successful | failed | pending
		Amount    float64 `json:"amount"`
		CreatedAt string  `json:"created_at"`
		TxRef     string  `json:"tx_ref"`
	} `json:"data"`
}

func (f *Flutterwave) VerifyCharge(ctx context.Context, providerReference string) (VerifyResult, error) {
	var out flwVerifyResp
	path := "/transactions/verify_by_reference?tx_ref=" + url.QueryEscape(providerReference)
	status, err := f.do(ctx, http.MethodGet, path, nil, &out)
	if err != nil {
		return VerifyResult{}, err
	}
	if status == http.StatusNotFound || out.Status == "error" {
		return VerifyResult{}, ErrNotFound
	}
	if status >= 400 {
		return VerifyResult{}, fmt.Errorf("%w: verify returned %d", ErrGatewayUnavailable, status)
	}
	res := VerifyResult{
		Status: flutterwaveStatus(out.Data.Status),
		Amount: int64(out.Data.Amount * 100),
	}
	if t, err := time.Parse(time.RFC3339, out.Data.CreatedAt); err == nil {
		res.PaidAt = t
	}
	return res, nil
}

type flwEvent struct {
	Event string `json:"event"`
	Data  struct {
		ID     int64   `json:"id"`
		TxRef  string  `json:"tx_ref"`
		Status string  `json:"status"`
		Amount float64 `json:"amount"`
	} `json:"data"`
}

func (f *Flutterwave) ParseWebhook(payload []byte, signatureHeader string) (ParsedEvent, error) {
	// an unset hash would make the empty header compare equal and let
	// unsigned webhooks through
	if f.verifHash == "" {
		return ParsedEvent{}, ErrInvalidSignature
	}
	if subtle.ConstantTimeCompare([]byte(f.verifHash), []byte(signatureHeader)) != 1 {
		return ParsedEvent{}, ErrInvalidSignature
	}
	var ev flwEvent
	if err := json.Unmarshal(payload, &ev); err != nil {
		return ParsedEvent{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	if ev.Data.TxRef == "" || ev.Data.ID == 0 {
		return ParsedEvent{}, fmt.Errorf("%w: missing tx_ref or event id", ErrMalformed)
	}
	return ParsedEvent{
		ProviderReference: ev.Data.TxRef,
		Status:            flutterwaveStatus(ev.Data.Status),
		EventID:           ev.Event + ":" + strconv.FormatInt(ev.Data.ID, 10),
	}, nil
}

func flutterwaveStatus(s string) Status {
	switch s {
	case "successful":
		return StatusSuccess
	case "failed":
		return StatusFailed
	default:
		return StatusUnknown
	}
}

func (f *Flutterwave) do(ctx context.Context, method, path string, body *bytes.Reader, out any) (int, error) {
	var reader io.Reader
	if body != nil {
		reader = body
	}
	req, err := http.NewRequestWithContext(ctx, method, f.baseURL+path, reader)
	if err != nil {
		return 0, err
	}
	req.Header.Set("Authorization", "Bearer "+f.secret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := f.client.Do(req)
	if err != nil {
		return 0, gatewayNetErr("flutterwave", err)
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil && resp.StatusCode < 400 {
		return resp.StatusCode, fmt.Errorf("%w: decode response: %v", ErrGatewayUnavailable, err)
	}
	return resp.StatusCode, nil
}

func minorToMajor(minor int64) string {
	return strconv.FormatInt(minor/100, 10) + "." + fmt.Sprintf("%02d", minor%100)
}
