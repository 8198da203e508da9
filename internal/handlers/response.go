package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/galleryhq/marketplace/internal/fees"
	mw "github.com/galleryhq/marketplace/internal/middleware"
	"github.com/galleryhq/marketplace/internal/models"
	"github.com/galleryhq/marketplace/internal/payment"
	"github.com/galleryhq/marketplace/internal/registry"
	"github.com/galleryhq/marketplace/internal/services"
	"github.com/galleryhq/marketplace/internal/store"
	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"
)

const maxBodyBytes = 1_048_576

// ErrorResponse represents error response structure
type ErrorResponse struct {
	Error   string            `json:"error"`             // Error message
	Code    string            `json:"code"`              // Stable error code
	Details map[string]string `json:"details,omitempty"` // Validation details
}

// ValidationHelper provides shared validation functionality
type ValidationHelper struct {
	validator *validator.Validate
}

func NewValidationHelper() *ValidationHelper {
	return &ValidationHelper{
		validator: validator.New(),
	}
}

func (vh *ValidationHelper) ValidateStruct(s any) error {
	return vh.validator.Struct(s)
}

// SendErrorResponse sends a JSON error response
func SendErrorResponse(w http.ResponseWriter, message, code string, statusCode int, validationErr error) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)

	errorResp := ErrorResponse{Error: message, Code: code}
	var verrs validator.ValidationErrors
	if errors.As(validationErr, &verrs) {
		errorResp.Details = make(map[string]string)
		for _, err := range verrs {
			errorResp.Details[err.Field()] = fmt.Sprintf("Field Validation Failed on '%s' tag", err.Tag())
		}
	}

	json.NewEncoder(w).Encode(errorResp)
}

func sendJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// sendError maps engine, registry and payment errors onto HTTP responses.
func sendError(w http.ResponseWriter, log *zap.Logger, err error) {
	if me, ok := services.AsMarketError(err); ok {
		SendErrorResponse(w, err.Error(), me.Code, me.Status, nil)
		return
	}

	switch {
	case errors.Is(err, registry.ErrUnknownCollection):
		SendErrorResponse(w, err.Error(), "UNKNOWN_COLLECTION", http.StatusNotFound, nil)
	case errors.Is(err, registry.ErrNonexistentToken):
		SendErrorResponse(w, err.Error(), "NONEXISTENT_TOKEN", http.StatusNotFound, nil)
	case errors.Is(err, registry.ErrNotAuthorized):
		SendErrorResponse(w, err.Error(), "NOT_AUTHORIZED", http.StatusForbidden, nil)
	case errors.Is(err, registry.ErrIncorrectMintFee):
		SendErrorResponse(w, err.Error(), "INCORRECT_MINT_FEE", http.StatusBadRequest, nil)
	case errors.Is(err, registry.ErrInvalidRoyalty), errors.Is(err, registry.ErrInvalidMintFee):
		SendErrorResponse(w, err.Error(), "INVALID_COLLECTION", http.StatusBadRequest, nil)
	case errors.Is(err, payment.ErrInsufficientFunds):
		SendErrorResponse(w, "Insufficient funds", "INSUFFICIENT_FUNDS", http.StatusPaymentRequired, nil)
	case errors.Is(err, payment.ErrInvalidAmount):
		SendErrorResponse(w, err.Error(), "INVALID_AMOUNT", http.StatusBadRequest, nil)
	case errors.Is(err, models.ErrAmountOverflow):
		SendErrorResponse(w, "Amount exceeds the supported range", "AMOUNT_OVERFLOW", http.StatusUnprocessableEntity, nil)
	case errors.Is(err, store.ErrNegativeBalance):
		SendErrorResponse(w, err.Error(), "NEGATIVE_BALANCE", http.StatusConflict, nil)
	case errors.Is(err, fees.ErrFeesExceedPrice):
		SendErrorResponse(w, err.Error(), "FEES_EXCEED_PRICE", http.StatusUnprocessableEntity, nil)
	case errors.Is(err, fees.ErrInvalidBps), errors.Is(err, fees.ErrInvalidAmount):
		SendErrorResponse(w, err.Error(), "INVALID_FEE", http.StatusUnprocessableEntity, nil)
	default:
		log.Error("Request failed", zap.Error(err))
		SendErrorResponse(w, "Internal server error", "INTERNAL", http.StatusInternalServerError, nil)
	}
}

// decodeJSON reads a single JSON object into dst and validates it. It writes
// the error response itself and reports whether the handler may continue.
func decodeJSON(w http.ResponseWriter, r *http.Request, vh *ValidationHelper, dst any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()

	if err := dec.Decode(dst); err != nil {
		SendErrorResponse(w, "Invalid request body", "INVALID_REQUEST", http.StatusBadRequest, nil)
		return false
	}

	if err := dec.Decode(&struct{}{}); err != io.EOF {
		SendErrorResponse(w, "Request body must only contain a single JSON object", "INVALID_REQUEST", http.StatusBadRequest, nil)
		return false
	}

	if err := vh.ValidateStruct(dst); err != nil {
		SendErrorResponse(w, "Validation failed", "VALIDATION_FAILED", http.StatusBadRequest, err)
		return false
	}
	return true
}

func addressParam(w http.ResponseWriter, r *http.Request, name string) (string, bool) {
	addr, ok := models.NormalizeAddress(chi.URLParam(r, name))
	if !ok {
		SendErrorResponse(w, "Invalid "+name+" address", "INVALID_REQUEST", http.StatusBadRequest, nil)
		return "", false
	}
	return addr, true
}

func uintParam(w http.ResponseWriter, r *http.Request, name string) (uint64, bool) {
	v, err := strconv.ParseUint(chi.URLParam(r, name), 10, 64)
	if err != nil {
		SendErrorResponse(w, "Invalid "+name, "INVALID_REQUEST", http.StatusBadRequest, nil)
		return 0, false
	}
	return v, true
}

// tokenParams reads the {collection}/{tokenId} pair shared by listing and
// token routes.
func tokenParams(w http.ResponseWriter, r *http.Request) (string, uint64, bool) {
	collection, ok := addressParam(w, r, "collection")
	if !ok {
		return "", 0, false
	}
	tokenID, ok := uintParam(w, r, "tokenId")
	if !ok {
		return "", 0, false
	}
	return collection, tokenID, true
}

func normalize(addr string) string {
	if n, ok := models.NormalizeAddress(addr); ok {
		return n
	}
	return addr
}

func requireCaller(w http.ResponseWriter, r *http.Request) (string, bool) {
	caller, ok := mw.CallerFrom(r.Context())
	if !ok {
		SendErrorResponse(w, "Unauthorized", "UNAUTHORIZED", http.StatusUnauthorized, nil)
		return "", false
	}
	return caller, true
}
