package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/api/httpx"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/api/validate"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/config"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/gateway"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/middleware"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/models"
	repo "github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/repository"
	"github.com/cypherthedeveloper/LagosStatePropertyPortal/internal/services"
)

const maxWebhookBody = 1 << 20

func NewRouter(cfg config.Config, ps *services.PaymentService, rec *services.Reconciler, authmw *middleware.AuthMiddleware) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID, middleware.Recover, middleware.HTTPMetrics, middleware.RateLimit(cfg.RateRPS))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: []string{"*"},
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"*"},
	}))

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) { _, _ = w.Write([]byte("ok")) })
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		// ---------- webhooks (the signature is the auth) ----------
		r.Post("/payments/webhook/{provider}", func(w http.ResponseWriter, r *http.Request) {
			provider := chi.URLParam(r, "provider")
			body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBody))
			if err != nil {
				httpx.WriteError(w, http.StatusBadRequest, "bad_request", "cannot read body", nil)
				return
			}
			sig := r.Header.Get("X-Paystack-Signature")
			if sig == "" {
				sig = r.Header.Get("verif-hash")
			}
			outcome, err := ps.HandleWebhook(r.Context(), provider, body, sig)
			if err != nil {
				switch {
				case errors.Is(err, gateway.ErrUnknownProvider):
					httpx.WriteError(w, http.StatusNotFound, "unknown_provider", "unknown provider", nil)
				case errors.Is(err, gateway.ErrInvalidSignature):
					httpx.WriteError(w, http.StatusUnauthorized, "invalid_signature", "signature verification failed", nil)
				case errors.Is(err, gateway.ErrMalformed):
					httpx.WriteError(w, http.StatusBadRequest, "malformed", "cannot decode payload", nil)
				case errors.Is(err, repo.ErrNotFound):
					httpx.WriteError(w, http.StatusNotFound, "not_found", "unknown reference", nil)
				default:
					// 5xx so the provider redelivers
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "event not accepted", nil)
				}
				return
			}
			httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": string(outcome)})
		})

		// ---------- payments (bearer token from the identity service) ----------
		r.Group(func(r chi.Router) {
			r.Use(authmw.Auth)

			r.Post("/payments/initiate", func(w http.ResponseWriter, r *http.Request) {
				user, _ := middleware.UserFrom(r.Context())
				var req struct {
					PropertyID string `json:"property_id"`
					PayeeID    string `json:"payee_id"`
					Amount     int64  `json:"amount"`
					Kind       string `json:"kind"`
					Provider   string `json:"provider"`
				}
				if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", "bad request", nil)
					return
				}
				var errs validate.Errs
				for _, e := range []*validate.ErrField{
					validate.Required("property_id", req.PropertyID),
					validate.Required("payee_id", req.PayeeID),
					validate.MinInt("amount", req.Amount, 1),
					validate.OneOf("kind", req.Kind, "rent", "sale", "utility"),
					validate.Required("provider", req.Provider),
				} {
					if e != nil {
						errs = append(errs, *e)
					}
				}
				if len(errs) > 0 {
					httpx.WriteError(w, http.StatusBadRequest, "validation", "validation failed", errs)
					return
				}

				res, err := ps.Initiate(r.Context(), services.InitiateRequest{
					Kind:           models.TransactionKind(req.Kind),
					Amount:         req.Amount,
					PayerID:        user.ID,
					PayerEmail:     user.Email,
					PayeeID:        req.PayeeID,
					PropertyID:     req.PropertyID,
					Provider:       req.Provider,
					IdempotencyKey: r.Header.Get("Idempotency-Key"),
				})
				switch {
				case err == nil:
					httpx.WriteJSON(w, http.StatusCreated, map[string]any{
						"transaction":  res.Transaction.Public(),
						"redirect_url": res.RedirectURL,
					})
				case errors.Is(err, services.ErrInvalidInput), errors.Is(err, gateway.ErrUnknownProvider):
					httpx.WriteError(w, http.StatusBadRequest, "bad_request", err.Error(), nil)
				case errors.Is(err, gateway.ErrGatewayRejected):
					httpx.WriteError(w, http.StatusUnprocessableEntity, "gateway_rejected", "payment rejected by gateway",
						res.Transaction.Public())
				case errors.Is(err, gateway.ErrGatewayUnavailable):
					// transaction stays retriable; resend with the same Idempotency-Key
					httpx.WriteError(w, http.StatusBadGateway, "gateway_unavailable", "gateway unavailable, retry later",
						res.Transaction.Public())
				default:
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
				}
			})

			r.Get("/payments/{id}", func(w http.ResponseWriter, r *http.Request) {
				tx, ok := loadVisible(w, r, ps)
				if !ok {
					return
				}
				httpx.WriteJSON(w, http.StatusOK, tx.Public())
			})

			r.Post("/payments/{id}/verify", func(w http.ResponseWriter, r *http.Request) {
				if _, ok := loadVisible(w, r, ps); !ok {
					return
				}
				tx, err := rec.ReconcileByID(r.Context(), chi.URLParam(r, "id"))
				if err != nil && tx.ID == "" {
					httpx.WriteError(w, http.StatusBadGateway, "verify_failed", "verification did not complete", nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, tx.Public())
			})

			r.Get("/payments/{id}/history", func(w http.ResponseWriter, r *http.Request) {
				tx, ok := loadVisible(w, r, ps)
				if !ok {
					return
				}
				logs, err := ps.History(r.Context(), tx.ID)
				if err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
					return
				}
				httpx.WriteJSON(w, http.StatusOK, logs)
			})

			r.Get("/payments", func(w http.ResponseWriter, r *http.Request) {
				user, _ := middleware.UserFrom(r.Context())
				limit, offset := pageParams(r)

				var (
					txs []models.Transaction
					err error
				)
				if r.URL.Query().Get("role") == "payee" {
					txs, err = ps.ListByPayee(r.Context(), user.ID, limit, offset)
				} else {
					txs, err = ps.ListByPayer(r.Context(), user.ID, limit, offset)
				}
				if err != nil {
					httpx.WriteError(w, http.StatusInternalServerError, "internal_error", "internal error", nil)
					return
				}
				views := make([]models.PublicView, 0, len(txs))
				for _, tx := range txs {
					views = append(views, tx.Public())
				}
				httpx.WriteJSON(w, http.StatusOK, views)
			})
		})
	})

	return r
}

// loadVisible fetches the transaction and enforces that only the
// payer, the payee or an admin can see it.
func loadVisible(w http.ResponseWriter, r *http.Request, ps *services.PaymentService) (models.Transaction, bool) {
	user, _ := middleware.UserFrom(r.Context())
	tx, err := ps.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		httpx.WriteError(w, http.StatusNotFound, "not_found", "not found", nil)
		return models.Transaction{}, false
	}
	if tx.PayerID != user.ID && tx.PayeeID != user.ID && user.Role != "admin" {
		httpx.WriteError(w, http.StatusForbidden, "forbidden", "forbidden", nil)
		return models.Transaction{}, false
	}
	return tx, true
}

func pageParams(r *http.Request) (limit, offset int) {
	limit, offset = 50, 0
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	if v := r.URL.Query().Get("offset"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 0 {
			offset = n
		}
	}
	return limit, offset
}
