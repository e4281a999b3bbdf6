package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
)

// PropertyService calls the property/lead subsystem directly so it can
// mark rent paid or close a sale lead.
type PropertyService struct {
	baseURL string
	client  *http.Client
}

func NewPropertyService(baseURL string) *PropertyService {
	return &PropertyService{
		baseURL: baseURL,
		client:  &http.Client{Timeout: 10 * time.Second},
	}
}

type paymentSucceededReq struct {
	TransactionID string `json:"transaction_id"`
	Kind          string `json:"kind"`
	PropertyID    string `json:"property_id"`
	PayerID       string `json:"payer_id"`
	Amount        int64  `json:"amount"`
}

func (s *PropertyService) PaymentSucceeded(ctx context.Context, tx models.Transaction) error {
	body, err := json.Marshal(paymentSucceededReq{
		TransactionID: tx.ID,
		Kind:          string(tx.Kind),
		PropertyID:    tx.PropertyID,
		PayerID:       tx.PayerID,
		Amount:        tx.Amount,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		s.baseURL+"/internal/payments/succeeded", bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("property service returned %d", resp.StatusCode)
	}
	return nil
}
