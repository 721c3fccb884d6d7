package nip

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"strings"
	"testing"
	"time"

	"github.com/brianvoe/gofakeit/v6"
	"github.com/tracmex/nip-reset/internal/directory"
	"github.com/tracmex/nip-reset/internal/domain"
	"github.com/tracmex/nip-reset/internal/reset"
)

type fakeService struct {
	limited     bool
	limitErr    error
	issueSecret string
	issueErr    error
	issueCalls  int
	lastIssue   reset.IssueParams
	invalidated int
	token       *domain.ResetToken
	tokenErr    error
	confirmErr  error
	confirmArgs []string
}

func (f *fakeService) IsRateLimited(_ context.Context, _, _ string) (bool, error) {
	return f.limited, f.limitErr
}

func (f *fakeService) Issue(_ context.Context, params reset.IssueParams) (string, error) {
	f.issueCalls++
	f.lastIssue = params
	return f.issueSecret, f.issueErr
}

func (f *fakeService) Invalidate(_ context.Context, _, _ string) error {
	f.invalidated++
	return nil
}

func (f *fakeService) TokenInfo(_ context.Context, _ string) (*domain.ResetToken, error) {
	return f.token, f.tokenErr
}

func (f *fakeService) Confirm(_ context.Context, rawToken, nip, nipConfirm string) error {
	f.confirmArgs = []string{rawToken, nip, nipConfirm}
	return f.confirmErr
}

type fakeResolver struct {
	lookup     *directory.LookupResult
	lookupErr  error
	vehicle    *directory.Vehicle
	vehicleErr error
}

func (f *fakeResolver) Lookup(_ context.Context, _, _ string) (*directory.LookupResult, error) {
	return f.lookup, f.lookupErr
}

func (f *fakeResolver) Vehicle(_ context.Context, _, _, _, _ string) (*directory.Vehicle, error) {
	return f.vehicle, f.vehicleErr
}

type fakeMailer struct {
	to   string
	url  string
	err  error
	sent int
}

func (f *fakeMailer) SendResetLinkEmail(to, resetURL, _ string) error {
	f.sent++
	f.to = to
	f.url = resetURL
	return f.err
}

func newHandler(service *fakeService, resolver *fakeResolver, mailer *fakeMailer) *Handler {
	logger := slog.New(slog.NewTextHandler(os.Stdout, nil))
	return NewHandler(logger, service, resolver, mailer, "https://app.example.com")
}

func doJSON(t *testing.T, fn http.HandlerFunc, method, target string, payload any) *httptest.ResponseRecorder {
	t.Helper()
	var body bytes.Buffer
	if payload != nil {
		if err := json.NewEncoder(&body).Encode(payload); err != nil {
			t.Fatalf("encode payload: %v", err)
		}
	}
	req := httptest.NewRequest(method, target, &body)
	w := httptest.NewRecorder()
	fn(w, req)
	return w
}

func decodeBody(t *testing.T, w *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var resp map[string]any
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid json response: %v", err)
	}
	return resp
}

func TestLookup_UnknownEmail(t *testing.T) {
	h := newHandler(&fakeService{}, &fakeResolver{
		lookup: &directory.LookupResult{Outcome: directory.OutcomeNotFound},
	}, &fakeMailer{})

	w := doJSON(t, h.Lookup, http.MethodPost, "/v1/nip/lookup", map[string]string{
		"email": gofakeit.Email(),
		"phone": "5512345678",
	})

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "Datos incorrectos" {
		t.Errorf("message = %v, want Datos incorrectos", got)
	}
}

func TestLookup_SingleVehicle(t *testing.T) {
	h := newHandler(&fakeService{}, &fakeResolver{
		lookup: &directory.LookupResult{
			Outcome:    directory.OutcomeSingleVehicle,
			CustomerID: "c-1",
			Vehicles:   []directory.Vehicle{{VehicleID: "v-1", Label: "Nissan Versa ABC-123"}},
		},
	}, &fakeMailer{})

	w := doJSON(t, h.Lookup, http.MethodPost, "/v1/nip/lookup", map[string]string{
		"email": gofakeit.Email(),
		"phone": "5512345678",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	resp := decodeBody(t, w)
	if resp["step"] != "confirmar_vehiculo_unico" {
		t.Errorf("step = %v, want confirmar_vehiculo_unico", resp["step"])
	}
	if resp["customer_id"] != "c-1" {
		t.Errorf("customer_id = %v, want c-1", resp["customer_id"])
	}
}

func TestLookup_MultipleVehicles(t *testing.T) {
	h := newHandler(&fakeService{}, &fakeResolver{
		lookup: &directory.LookupResult{
			Outcome:    directory.OutcomeMultipleVehicles,
			CustomerID: "c-1",
			Vehicles: []directory.Vehicle{
				{VehicleID: "v-1", Label: "Nissan Versa ABC-123"},
				{VehicleID: "v-2", Label: "Kia Rio XYZ-987"},
			},
		},
	}, &fakeMailer{})

	w := doJSON(t, h.Lookup, http.MethodPost, "/v1/nip/lookup", map[string]string{
		"email": gofakeit.Email(),
		"phone": "5512345678",
	})

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["step"] != "seleccionar_vehiculo" {
		t.Errorf("step = %v, want seleccionar_vehiculo", resp["step"])
	}
	vehicles, ok := resp["vehicles"].([]any)
	if !ok || len(vehicles) != 2 {
		t.Errorf("vehicles = %v, want 2 entries", resp["vehicles"])
	}
}

func TestLookup_InvalidEmail(t *testing.T) {
	h := newHandler(&fakeService{}, &fakeResolver{}, &fakeMailer{})

	w := doJSON(t, h.Lookup, http.MethodPost, "/v1/nip/lookup", map[string]string{
		"email": "not-an-email",
		"phone": "5512345678",
	})

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func sendLinkPayload() map[string]string {
	return map[string]string{
		"email":       gofakeit.Email(),
		"phone":       "5512345678",
		"customer_id": "c-1",
		"vehicle_id":  "v-1",
	}
}

func TestSendLink_Success(t *testing.T) {
	service := &fakeService{issueSecret: "sekret-token"}
	mailer := &fakeMailer{}
	h := newHandler(service, &fakeResolver{
		vehicle: &directory.Vehicle{VehicleID: "v-1", Label: "Nissan Versa ABC-123", Contract: "K-42"},
	}, mailer)

	w := doJSON(t, h.SendLink, http.MethodPost, "/v1/nip/send-link", sendLinkPayload())

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	want := "Hemos enviado al correo registrado la URL para reiniciar tu NIP."
	if got := decodeBody(t, w)["message"]; got != want {
		t.Errorf("message = %v, want %q", got, want)
	}
	if service.issueCalls != 1 {
		t.Errorf("issueCalls = %d, want 1", service.issueCalls)
	}
	if mailer.sent != 1 {
		t.Errorf("mailer.sent = %d, want 1", mailer.sent)
	}
	if !strings.Contains(mailer.url, "token=sekret-token") {
		t.Errorf("reset URL %q should carry the raw token", mailer.url)
	}
	if service.lastIssue.Contract != "K-42" {
		t.Errorf("Contract = %q, want K-42", service.lastIssue.Contract)
	}
}

func TestSendLink_PairingMismatch(t *testing.T) {
	service := &fakeService{}
	h := newHandler(service, &fakeResolver{vehicleErr: domain.ErrDirectoryMismatch}, &fakeMailer{})

	w := doJSON(t, h.SendLink, http.MethodPost, "/v1/nip/send-link", sendLinkPayload())

	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want 404", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "Datos incorrectos" {
		t.Errorf("message = %v, want Datos incorrectos", got)
	}
	if service.issueCalls != 0 {
		t.Error("no token should be issued on a pairing mismatch")
	}
}

func TestSendLink_RateLimited(t *testing.T) {
	service := &fakeService{limited: true}
	h := newHandler(service, &fakeResolver{
		vehicle: &directory.Vehicle{VehicleID: "v-1", Label: "label"},
	}, &fakeMailer{})

	w := doJSON(t, h.SendLink, http.MethodPost, "/v1/nip/send-link", sendLinkPayload())

	if w.Code != http.StatusTooManyRequests {
		t.Fatalf("status = %d, want 429", w.Code)
	}
	if service.issueCalls != 0 {
		t.Error("no token should be issued when rate limited")
	}
}

func TestSendLink_EmailFailureInvalidatesToken(t *testing.T) {
	service := &fakeService{issueSecret: "sekret-token"}
	mailer := &fakeMailer{err: errors.New("smtp down")}
	h := newHandler(service, &fakeResolver{
		vehicle: &directory.Vehicle{VehicleID: "v-1", Label: "label"},
	}, mailer)

	w := doJSON(t, h.SendLink, http.MethodPost, "/v1/nip/send-link", sendLinkPayload())

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	if service.invalidated != 1 {
		t.Errorf("invalidated = %d, want 1 (undelivered token must not stay usable)", service.invalidated)
	}
	if body := w.Body.String(); strings.Contains(body, "sekret-token") {
		t.Error("response must never leak the token")
	}
}

func TestTokenInfo_Valid(t *testing.T) {
	now := time.Now()
	service := &fakeService{token: &domain.ResetToken{
		CustomerID:   "c-1",
		VehicleID:    "v-1",
		VehicleLabel: "Nissan Versa ABC-123",
		CreatedAt:    now,
		ExpiresAt:    now.Add(time.Hour),
	}}
	h := newHandler(service, &fakeResolver{}, &fakeMailer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/nip/token-info?token=raw", nil)
	w := httptest.NewRecorder()
	h.TokenInfo(w, req)

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", w.Code)
	}
	resp := decodeBody(t, w)
	if resp["customer_id"] != "c-1" || resp["vehicle_id"] != "v-1" {
		t.Errorf("unexpected body %v", resp)
	}
	if _, hasToken := resp["token"]; hasToken {
		t.Error("token-info must never echo the token")
	}
}

func TestTokenInfo_InvalidOrExpired(t *testing.T) {
	service := &fakeService{tokenErr: domain.ErrTokenInvalid}
	h := newHandler(service, &fakeResolver{}, &fakeMailer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/nip/token-info?token=stale", nil)
	w := httptest.NewRecorder()
	h.TokenInfo(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "Liga invalida o expirada." {
		t.Errorf("message = %v, want Liga invalida o expirada.", got)
	}
}

func TestTokenInfo_MissingToken(t *testing.T) {
	h := newHandler(&fakeService{}, &fakeResolver{}, &fakeMailer{})

	req := httptest.NewRequest(http.MethodGet, "/v1/nip/token-info", nil)
	w := httptest.NewRecorder()
	h.TokenInfo(w, req)

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
}

func confirmPayload(nip, confirm string) map[string]string {
	return map[string]string{
		"token":            "raw-token",
		"nip":              nip,
		"nip_confirmacion": confirm,
	}
}

func TestConfirm_Success(t *testing.T) {
	service := &fakeService{}
	h := newHandler(service, &fakeResolver{}, &fakeMailer{})

	w := doJSON(t, h.Confirm, http.MethodPost, "/v1/nip/confirm", confirmPayload("4321", "4321"))

	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (%s)", w.Code, w.Body.String())
	}
	if got := decodeBody(t, w)["message"]; got != "Listo, tu NIP ha sido actualizado." {
		t.Errorf("message = %v", got)
	}
	if len(service.confirmArgs) != 3 || service.confirmArgs[1] != "4321" {
		t.Errorf("confirm args = %v", service.confirmArgs)
	}
}

func TestConfirm_Mismatch(t *testing.T) {
	service := &fakeService{confirmErr: domain.ErrNIPMismatch}
	h := newHandler(service, &fakeResolver{}, &fakeMailer{})

	w := doJSON(t, h.Confirm, http.MethodPost, "/v1/nip/confirm", confirmPayload("1234", "5678"))

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
}

func TestConfirm_MalformedNIP(t *testing.T) {
	service := &fakeService{}
	h := newHandler(service, &fakeResolver{}, &fakeMailer{})

	tests := []string{"12a4", "123", "12345", ""}
	for _, nip := range tests {
		w := doJSON(t, h.Confirm, http.MethodPost, "/v1/nip/confirm", confirmPayload(nip, nip))
		if w.Code != http.StatusBadRequest {
			t.Errorf("nip %q: status = %d, want 400", nip, w.Code)
		}
	}
	if service.confirmArgs != nil {
		t.Error("malformed input must never reach the service")
	}
}

func TestConfirm_InvalidToken(t *testing.T) {
	service := &fakeService{confirmErr: domain.ErrTokenInvalid}
	h := newHandler(service, &fakeResolver{}, &fakeMailer{})

	w := doJSON(t, h.Confirm, http.MethodPost, "/v1/nip/confirm", confirmPayload("4321", "4321"))

	if w.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", w.Code)
	}
	if got := decodeBody(t, w)["message"]; got != "Liga invalida o expirada." {
		t.Errorf("message = %v", got)
	}
}

func TestConfirm_HandoffUnavailable(t *testing.T) {
	service := &fakeService{confirmErr: domain.ErrHandoffUnavailable}
	h := newHandler(service, &fakeResolver{}, &fakeMailer{})

	w := doJSON(t, h.Confirm, http.MethodPost, "/v1/nip/confirm", confirmPayload("4321", "4321"))

	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", w.Code)
	}
}
