package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"reflect"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/eshaffer321/commission-recon/internal/api/dto"
	"github.com/eshaffer321/commission-recon/internal/apperr"
	"github.com/eshaffer321/commission-recon/internal/application/service"
	"github.com/eshaffer321/commission-recon/internal/infrastructure/logging"
)

// maxBodyBytes caps request bodies.
const maxBodyBytes = 1 << 20

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Base provides shared functionality for all handlers.
type Base struct {
	svc    *service.ReconService
	logger *slog.Logger
}

// NewBase creates a new base handler around the reconciliation service.
func NewBase(svc *service.ReconService, logger *slog.Logger) *Base {
	if logger == nil {
		logger = logging.Discard()
	}
	return &Base{svc: svc, logger: logger}
}

// WriteJSON writes a JSON response with the given status code.
func (b *Base) WriteJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

// WriteError writes an error response with the given status code.
func (b *Base) WriteError(w http.ResponseWriter, status int, err dto.APIError) {
	b.WriteJSON(w, status, err)
}

// WriteServiceError maps a service failure onto a status code. Anything
// that is not a classified failure is logged and reported as internal.
func (b *Base) WriteServiceError(w http.ResponseWriter, r *http.Request, err error) {
	msg := apperr.MessageOf(err)
	switch apperr.KindOf(err) {
	case apperr.KindInputMalformed:
		b.WriteError(w, http.StatusBadRequest, dto.BadRequestError(msg))
	case apperr.KindNotFound:
		b.WriteError(w, http.StatusNotFound, dto.NotFoundError(msg))
	case apperr.KindInvalidState:
		b.WriteError(w, http.StatusConflict, dto.ConflictError(msg))
	default:
		b.logger.Error("request failed",
			"method", r.Method,
			"path", r.URL.Path,
			"error", err,
		)
		b.WriteError(w, http.StatusInternalServerError, dto.InternalError())
	}
}

// DecodeJSON reads and validates a request body into v. On failure the
// error response has already been written and false is returned.
func (b *Base) DecodeJSON(w http.ResponseWriter, r *http.Request, v interface{}) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		b.WriteError(w, http.StatusBadRequest, dto.BadRequestError("invalid JSON body: "+err.Error()))
		return false
	}
	if err := validate.Struct(v); err != nil {
		b.WriteError(w, http.StatusBadRequest, dto.ValidationError(describeValidation(err)))
		return false
	}
	return true
}

func describeValidation(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		switch fe.Tag() {
		case "required":
			msgs = append(msgs, fe.Field()+" is required")
		case "max":
			msgs = append(msgs, fmt.Sprintf("%s must be at most %s characters", fe.Field(), fe.Param()))
		default:
			msgs = append(msgs, fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag()))
		}
	}
	return strings.Join(msgs, "; ")
}

// ParseIntParam parses an integer query parameter with a default value.
func ParseIntParam(r *http.Request, name string, defaultVal int) int {
	val := r.URL.Query().Get(name)
	if val == "" {
		return defaultVal
	}
	parsed, err := strconv.Atoi(val)
	if err != nil {
		return defaultVal
	}
	return parsed
}
