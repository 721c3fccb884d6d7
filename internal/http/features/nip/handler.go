// Package nip exposes the public NIP reset endpoints consumed by the
// browser modal: lookup, send-link, token-info and confirm.
package nip

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/tracmex/nip-reset/internal/directory"
	"github.com/tracmex/nip-reset/internal/domain"
	"github.com/tracmex/nip-reset/internal/httputil"
	"github.com/tracmex/nip-reset/internal/reset"
)

// Fixed user-facing messages. These strings are part of the compatibility
// surface consumed by the frontend; do not reword them.
const (
	msgDatosIncorrectos = "Datos incorrectos"
	msgLigaInvalida     = "Liga invalida o expirada."
	msgLinkSent         = "Hemos enviado al correo registrado la URL para reiniciar tu NIP."
	msgConfirmOK        = "Listo, tu NIP ha sido actualizado."
	msgNIPMismatch      = "Los NIP no coinciden."
	msgRateLimited      = "Demasiadas solicitudes. Intenta de nuevo mas tarde."
	msgUnavailable      = "El servicio no esta disponible. Intenta de nuevo mas tarde."
	msgInternal         = "Ocurrio un error. Intenta de nuevo."

	stepSingleVehicle = "confirmar_vehiculo_unico"
	stepMultiVehicle  = "seleccionar_vehiculo"
)

// ResetService is the token lifecycle surface the handler drives.
type ResetService interface {
	IsRateLimited(ctx context.Context, customerID, vehicleID string) (bool, error)
	Issue(ctx context.Context, params reset.IssueParams) (string, error)
	Invalidate(ctx context.Context, customerID, vehicleID string) error
	TokenInfo(ctx context.Context, rawToken string) (*domain.ResetToken, error)
	Confirm(ctx context.Context, rawToken, nip, nipConfirm string) error
}

// LinkMailer delivers the reset URL out-of-band.
type LinkMailer interface {
	SendResetLinkEmail(to, resetURL, vehicleLabel string) error
}

// Handler handles NIP reset endpoints.
type Handler struct {
	logger     *slog.Logger
	service    ResetService
	resolver   directory.Resolver
	mailer     LinkMailer
	validate   *validator.Validate
	appBaseURL string
}

// NewHandler creates a new NIP reset handler.
func NewHandler(
	logger *slog.Logger,
	service ResetService,
	resolver directory.Resolver,
	mailer LinkMailer,
	appBaseURL string,
) *Handler {
	return &Handler{
		logger:     logger,
		service:    service,
		resolver:   resolver,
		mailer:     mailer,
		validate:   validator.New(),
		appBaseURL: appBaseURL,
	}
}

// LookupRequest identifies a customer by email and phone.
type LookupRequest struct {
	Email string `json:"email" validate:"required,email"`
	Phone string `json:"phone" validate:"required"`
}

type vehicleOption struct {
	VehicleID string `json:"vehicle_id"`
	Label     string `json:"label"`
}

// LookupResponse tells the frontend which step to render next.
type LookupResponse struct {
	Step       string          `json:"step"`
	CustomerID string          `json:"customer_id"`
	Vehicles   []vehicleOption `json:"vehicles"`
}

// Lookup resolves email+phone against the vehicle directory.
// POST /v1/nip/lookup
func (h *Handler) Lookup(w http.ResponseWriter, r *http.Request) {
	var req LookupRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgDatosIncorrectos)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgDatosIncorrectos)
		return
	}

	result, err := h.resolver.Lookup(r.Context(), req.Email, req.Phone)
	if err != nil {
		h.logger.Error("directory lookup failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, msgInternal)
		return
	}

	switch result.Outcome {
	case directory.OutcomeNotFound:
		httputil.Error(w, http.StatusNotFound, msgDatosIncorrectos)
	case directory.OutcomeSingleVehicle:
		httputil.JSON(w, http.StatusOK, lookupResponse(stepSingleVehicle, result))
	case directory.OutcomeMultipleVehicles:
		httputil.JSON(w, http.StatusOK, lookupResponse(stepMultiVehicle, result))
	default:
		h.logger.Error("unknown lookup outcome", "outcome", int(result.Outcome))
		httputil.Error(w, http.StatusInternalServerError, msgInternal)
	}
}

func lookupResponse(step string, result *directory.LookupResult) LookupResponse {
	vehicles := make([]vehicleOption, 0, len(result.Vehicles))
	for _, v := range result.Vehicles {
		vehicles = append(vehicles, vehicleOption{VehicleID: v.VehicleID, Label: v.Label})
	}
	return LookupResponse{
		Step:       step,
		CustomerID: result.CustomerID,
		Vehicles:   vehicles,
	}
}

// SendLinkRequest asks for a reset link for one customer/vehicle pairing.
type SendLinkRequest struct {
	Email      string `json:"email" validate:"required,email"`
	Phone      string `json:"phone" validate:"required"`
	CustomerID string `json:"customer_id" validate:"required"`
	VehicleID  string `json:"vehicle_id" validate:"required"`
}

// SendLink re-validates the pairing, issues a token and emails the link.
// POST /v1/nip/send-link
func (h *Handler) SendLink(w http.ResponseWriter, r *http.Request) {
	var req SendLinkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgDatosIncorrectos)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgDatosIncorrectos)
		return
	}

	vehicle, err := h.resolver.Vehicle(r.Context(), req.Email, req.Phone, req.CustomerID, req.VehicleID)
	if err != nil {
		if errors.Is(err, domain.ErrDirectoryMismatch) {
			httputil.Error(w, http.StatusNotFound, msgDatosIncorrectos)
			return
		}
		h.logger.Error("directory validation failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, msgInternal)
		return
	}

	limited, err := h.service.IsRateLimited(r.Context(), req.CustomerID, req.VehicleID)
	if err != nil {
		h.logger.Error("rate limit check failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, msgInternal)
		return
	}
	if limited {
		httputil.Error(w, http.StatusTooManyRequests, msgRateLimited)
		return
	}

	secret, err := h.service.Issue(r.Context(), reset.IssueParams{
		CustomerID:   req.CustomerID,
		VehicleID:    req.VehicleID,
		VehicleLabel: vehicle.Label,
		Contract:     vehicle.Contract,
		Plates:       vehicle.Plates,
		Serial:       vehicle.Serial,
		IP:           r.RemoteAddr,
		UserAgent:    r.UserAgent(),
	})
	if err != nil {
		h.logger.Error("token issuance failed", "error", err, "customer_id", req.CustomerID, "vehicle_id", req.VehicleID)
		httputil.Error(w, http.StatusInternalServerError, msgInternal)
		return
	}

	resetURL := fmt.Sprintf("%s/reiniciar-nip?token=%s", h.appBaseURL, secret)
	if err := h.mailer.SendResetLinkEmail(req.Email, resetURL, vehicle.Label); err != nil {
		// The link never reached the customer; leave no usable token behind.
		if invErr := h.service.Invalidate(r.Context(), req.CustomerID, req.VehicleID); invErr != nil {
			h.logger.Error("failed to invalidate undelivered token", "error", invErr, "customer_id", req.CustomerID, "vehicle_id", req.VehicleID)
		}
		h.logger.Error("reset link email failed", "error", err, "customer_id", req.CustomerID, "vehicle_id", req.VehicleID)
		httputil.Error(w, http.StatusInternalServerError, msgInternal)
		return
	}

	h.logger.Info("reset link sent", "customer_id", req.CustomerID, "vehicle_id", req.VehicleID)
	httputil.JSON(w, http.StatusOK, map[string]string{"message": msgLinkSent})
}

// TokenInfoResponse describes the subject a valid token is scoped to. It
// never carries the token or any secret.
type TokenInfoResponse struct {
	CustomerID string `json:"customer_id"`
	VehicleID  string `json:"vehicle_id"`
	Label      string `json:"label"`
}

// TokenInfo resolves a token for the reset page.
// GET /v1/nip/token-info?token=...
func (h *Handler) TokenInfo(w http.ResponseWriter, r *http.Request) {
	rawToken := r.URL.Query().Get("token")
	if rawToken == "" {
		httputil.Error(w, http.StatusForbidden, msgLigaInvalida)
		return
	}

	token, err := h.service.TokenInfo(r.Context(), rawToken)
	if err != nil {
		if errors.Is(err, domain.ErrTokenInvalid) {
			httputil.Error(w, http.StatusForbidden, msgLigaInvalida)
			return
		}
		h.logger.Error("token info failed", "error", err)
		httputil.Error(w, http.StatusInternalServerError, msgInternal)
		return
	}

	httputil.JSON(w, http.StatusOK, TokenInfoResponse{
		CustomerID: token.CustomerID,
		VehicleID:  token.VehicleID,
		Label:      token.VehicleLabel,
	})
}

// ConfirmRequest carries the token and the new 4-digit NIP pair.
type ConfirmRequest struct {
	Token      string `json:"token" validate:"required"`
	NIP        string `json:"nip" validate:"required,len=4,numeric"`
	NIPConfirm string `json:"nip_confirmacion" validate:"required"`
}

// Confirm finalizes the reset: validates the token, hands the new NIP to
// the external receiver and consumes the token.
// POST /v1/nip/confirm
func (h *Handler) Confirm(w http.ResponseWriter, r *http.Request) {
	var req ConfirmRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgDatosIncorrectos)
		return
	}
	if err := h.validate.Struct(req); err != nil {
		httputil.Error(w, http.StatusBadRequest, msgDatosIncorrectos)
		return
	}

	err := h.service.Confirm(r.Context(), req.Token, req.NIP, req.NIPConfirm)
	if err != nil {
		switch {
		case errors.Is(err, domain.ErrNIPMismatch):
			httputil.Error(w, http.StatusBadRequest, msgNIPMismatch)
		case errors.Is(err, domain.ErrTokenInvalid):
			httputil.Error(w, http.StatusForbidden, msgLigaInvalida)
		case errors.Is(err, domain.ErrHandoffUnavailable):
			h.logger.Error("nip handoff unavailable", "error", err)
			httputil.Error(w, http.StatusServiceUnavailable, msgUnavailable)
		default:
			h.logger.Error("confirmation failed", "error", err)
			httputil.Error(w, http.StatusInternalServerError, msgInternal)
		}
		return
	}

	h.logger.Info("nip reset confirmed")
	httputil.JSON(w, http.StatusOK, map[string]string{"message": msgConfirmOK})
}
