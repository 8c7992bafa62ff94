// Package handlers provides HTTP handlers for the adjudication API.
package handlers

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/pbmlabs/rxadjudicator/internal/adjudication"
	"github.com/pbmlabs/rxadjudicator/internal/api/middleware"
	"github.com/pbmlabs/rxadjudicator/internal/domain/claim"
)

// ClaimsHandler handles claim adjudication endpoints
type ClaimsHandler struct {
	engine *adjudication.Engine
	reader adjudication.DecisionReader
	logger *zap.Logger
}

// NewClaimsHandler creates a new handler
func NewClaimsHandler(engine *adjudication.Engine, reader adjudication.DecisionReader, logger *zap.Logger) *ClaimsHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ClaimsHandler{engine: engine, reader: reader, logger: logger}
}

// Routes returns the handler routes
func (h *ClaimsHandler) Routes() chi.Router {
	r := chi.NewRouter()
	r.Post("/", h.Adjudicate)
	r.Get("/{id}", h.Get)
	return r
}

// AdjudicateRequest is the request body for adjudicating a claim. Dates are
// calendar days.
type AdjudicateRequest struct {
	MemberID           int64           `json:"member_id"`
	DrugID             int64           `json:"drug_id"`
	PharmacyID         int64           `json:"pharmacy_id"`
	PrescriptionNumber string          `json:"prescription_number"`
	DatePrescribed     string          `json:"date_prescribed"`
	DateFilled         string          `json:"date_filled"`
	DaysSupply         int             `json:"days_supply"`
	QuantityDispensed  decimal.Decimal `json:"quantity_dispensed"`
	PrescriberNPI      string          `json:"prescriber_npi"`
	IngredientCost     decimal.Decimal `json:"ingredient_cost"`
	DispensingFee      decimal.Decimal `json:"dispensing_fee"`
}

// AdjudicateResponse is the response for an adjudicated claim.
type AdjudicateResponse struct {
	ClaimID              int64           `json:"claim_id"`
	ClaimStatus          claim.Status    `json:"claim_status"`
	MemberCopay          decimal.Decimal `json:"member_copay"`
	PlanPaidAmount       decimal.Decimal `json:"plan_paid_amount"`
	RejectionCode        string          `json:"rejection_code,omitempty"`
	RejectionDescription string          `json:"rejection_description,omitempty"`
}

// Adjudicate handles POST /claims
func (h *ClaimsHandler) Adjudicate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	tracer := otel.Tracer("claims-handler")
	ctx, span := tracer.Start(ctx, "adjudicate_claim_request")
	defer span.End()

	var req AdjudicateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.jsonError(w, "invalid request body", http.StatusBadRequest)
		return
	}

	datePrescribed, err := parseDate(req.DatePrescribed)
	if err != nil {
		h.jsonError(w, "invalid date_prescribed: expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}
	dateFilled, err := parseDate(req.DateFilled)
	if err != nil {
		h.jsonError(w, "invalid date_filled: expected YYYY-MM-DD", http.StatusBadRequest)
		return
	}

	span.SetAttributes(
		attribute.Int64("member_id", req.MemberID),
		attribute.Int64("drug_id", req.DrugID),
	)

	decision, err := h.engine.Adjudicate(ctx, &claim.AdjudicationRequest{
		MemberID:           req.MemberID,
		DrugID:             req.DrugID,
		PharmacyID:         req.PharmacyID,
		PrescriptionNumber: req.PrescriptionNumber,
		DatePrescribed:     datePrescribed,
		DateFilled:         dateFilled,
		DaysSupply:         req.DaysSupply,
		QuantityDispensed:  req.QuantityDispensed,
		PrescriberNPI:      req.PrescriberNPI,
		IngredientCost:     req.IngredientCost,
		DispensingFee:      req.DispensingFee,
	})
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	h.logger.Info("claim decided",
		zap.Int64("claim_id", decision.ClaimID),
		zap.String("status", string(decision.Status)),
		zap.String("request_id", middleware.GetRequestID(ctx)),
	)

	resp := AdjudicateResponse{
		ClaimID:              decision.ClaimID,
		ClaimStatus:          decision.Status,
		MemberCopay:          decision.MemberCopay,
		PlanPaidAmount:       decision.PlanPaidAmount,
		RejectionCode:        string(decision.RejectionCode),
		RejectionDescription: decision.RejectionDescription,
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusCreated)
	json.NewEncoder(w).Encode(resp)
}

// Get handles GET /claims/{id}
func (h *ClaimsHandler) Get(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	claimID, err := strconv.ParseInt(chi.URLParam(r, "id"), 10, 64)
	if err != nil {
		h.jsonError(w, "invalid claim id", http.StatusBadRequest)
		return
	}

	decision, err := h.reader.Decision(ctx, claimID)
	if err != nil {
		h.writeError(w, r, err)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(decision)
}

// writeError maps engine errors onto HTTP status codes. Business rejections
// never land here: a rejected decision is a successful response.
func (h *ClaimsHandler) writeError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case claim.IsValidation(err):
		h.jsonError(w, err.Error(), http.StatusBadRequest)
	case claim.IsNotFound(err):
		h.jsonError(w, err.Error(), http.StatusNotFound)
	case claim.IsDataIntegrity(err), claim.IsComputation(err):
		h.logger.Error("adjudication failed",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
		h.jsonError(w, err.Error(), http.StatusUnprocessableEntity)
	case errors.Is(err, claim.ErrStoreUnavailable):
		h.logger.Error("store unavailable",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
		h.jsonError(w, "service unavailable, retry the request", http.StatusServiceUnavailable)
	default:
		h.logger.Error("unexpected error",
			zap.Error(err),
			zap.String("request_id", middleware.GetRequestID(r.Context())))
		h.jsonError(w, "internal server error", http.StatusInternalServerError)
	}
}

func (h *ClaimsHandler) jsonError(w http.ResponseWriter, message string, code int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(map[string]string{"error": message})
}

func parseDate(s string) (time.Time, error) {
	return time.ParseInLocation("2006-01-02", s, time.UTC)
}
