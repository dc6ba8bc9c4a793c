package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/platform/auth"
	"github.com/axleworks/api/internal/platform/httpx"
	"github.com/axleworks/api/internal/services"
)

const maxProfileBodySize = 64 * 1024

var (
	errBodyTooLarge     = errors.New("request body too large")
	errEmptyBody        = errors.New("request body is required")
	errNoEditableFields = errors.New("no editable fields provided")
)

// MeHandlers exposes authenticated profile endpoints for the current user.
type MeHandlers struct {
	authn *auth.Authenticator
	users services.UserService
}

// NewMeHandlers constructs handlers enforcing Firebase authentication before invoking the user service.
func NewMeHandlers(authn *auth.Authenticator, users services.UserService) *MeHandlers {
	return &MeHandlers{
		authn: authn,
		users: users,
	}
}

// Routes wires the /me endpoints onto the provided router.
func (h *MeHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getProfile)
	r.Put("/", h.updateProfile)
	r.Get("/payment-methods", h.listPaymentMethods)
}

func (h *MeHandlers) getProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	profile, err := h.users.GetProfile(ctx, identity.UID)
	if err != nil {
		writeUserProfileError(ctx, w, err)
		return
	}

	payload := meResponse{Profile: buildProfilePayload(profile, identity)}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MeHandlers) updateProfile(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxProfileBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	updateReq, err := parseUpdateProfileRequest(body)
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	cmd := services.UpdateProfileCommand{
		UserID: identity.UID,
		Phone:  updateReq.phone,
	}
	if updateReq.billing != nil {
		billing := updateReq.billing.toDomain()
		cmd.Billing = &billing
	}
	if updateReq.shipping != nil {
		shipping := updateReq.shipping.toDomain()
		cmd.Shipping = &shipping
	}

	if err := h.users.UpdateProfile(ctx, cmd); err != nil {
		writeUserProfileError(ctx, w, err)
		return
	}

	profile, err := h.users.GetProfile(ctx, identity.UID)
	if err != nil {
		writeUserProfileError(ctx, w, err)
		return
	}

	payload := meResponse{Profile: buildProfilePayload(profile, identity)}
	writeJSONResponse(w, http.StatusOK, payload)
}

func (h *MeHandlers) listPaymentMethods(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.users == nil {
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	methods, err := h.users.ListPaymentMethods(ctx, identity.UID)
	if err != nil {
		writeUserProfileError(ctx, w, err)
		return
	}

	items := make([]paymentMethodPayload, 0, len(methods))
	for _, method := range methods {
		items = append(items, paymentMethodPayload{
			ID:        method.ID,
			Provider:  method.Provider,
			Brand:     method.Brand,
			Last4:     method.Last4,
			ExpMonth:  method.ExpMonth,
			ExpYear:   method.ExpYear,
			CreatedAt: formatTime(method.CreatedAt),
		})
	}
	writeJSONResponse(w, http.StatusOK, paymentMethodsResponse{PaymentMethods: items})
}

type meResponse struct {
	Profile meProfilePayload `json:"profile"`
}

type meProfilePayload struct {
	ID           string          `json:"id"`
	FirstName    string          `json:"first_name,omitempty"`
	LastName     string          `json:"last_name,omitempty"`
	Email        string          `json:"email,omitempty"`
	Phone        string          `json:"phone,omitempty"`
	Role         string          `json:"role,omitempty"`
	Billing      *addressPayload `json:"billing,omitempty"`
	Shipping     *addressPayload `json:"shipping,omitempty"`
	CreatedAt    string          `json:"created_at,omitempty"`
	UpdatedAt    string          `json:"updated_at,omitempty"`
	LastSyncTime string          `json:"last_sync_time,omitempty"`
}

type paymentMethodsResponse struct {
	PaymentMethods []paymentMethodPayload `json:"payment_methods"`
}

// paymentMethodPayload exposes display metadata only. The PSP reference and
// anything beyond brand, last4 and expiry never leave the server.
type paymentMethodPayload struct {
	ID        string `json:"id"`
	Provider  string `json:"provider"`
	Brand     string `json:"brand,omitempty"`
	Last4     string `json:"last4,omitempty"`
	ExpMonth  int    `json:"exp_month,omitempty"`
	ExpYear   int    `json:"exp_year,omitempty"`
	CreatedAt string `json:"created_at,omitempty"`
}

// addressPayload is the wire shape shared by profile, checkout and order
// endpoints.
type addressPayload struct {
	FirstName string `json:"first_name,omitempty"`
	LastName  string `json:"last_name,omitempty"`
	Address1  string `json:"address1,omitempty"`
	Address2  string `json:"address2,omitempty"`
	City      string `json:"city,omitempty"`
	State     string `json:"state,omitempty"`
	Zip       string `json:"zip,omitempty"`
	Country   string `json:"country,omitempty"`
	Phone     string `json:"phone,omitempty"`
	Email     string `json:"email,omitempty"`
}

func buildAddressPayload(addr domain.Address) addressPayload {
	n := addr.Normalize()
	return addressPayload{
		FirstName: n.FirstName,
		LastName:  n.LastName,
		Address1:  n.Address1,
		Address2:  n.Address2,
		City:      n.City,
		State:     n.State,
		Zip:       n.Zip,
		Country:   n.Country,
		Phone:     n.Phone,
		Email:     n.Email,
	}
}

func (p addressPayload) toDomain() domain.Address {
	return domain.Address{
		FirstName: p.FirstName,
		LastName:  p.LastName,
		Address1:  p.Address1,
		Address2:  p.Address2,
		City:      p.City,
		State:     p.State,
		Zip:       p.Zip,
		Country:   p.Country,
		Phone:     p.Phone,
		Email:     p.Email,
	}.Normalize()
}

type updateProfileRequest struct {
	billing  *addressPayload
	shipping *addressPayload
	phone    string
}

func parseUpdateProfileRequest(data []byte) (updateProfileRequest, error) {
	var req updateProfileRequest

	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return req, fmt.Errorf("invalid JSON payload: %w", err)
	}
	if len(raw) == 0 {
		return req, errNoEditableFields
	}

	updateFields := 0
	for key, value := range raw {
		switch key {
		case "billing":
			if isJSONNull(value) {
				continue
			}
			var addr addressPayload
			if err := json.Unmarshal(value, &addr); err != nil {
				return req, errors.New("billing must be an address object")
			}
			req.billing = &addr
			updateFields++
		case "shipping":
			if isJSONNull(value) {
				continue
			}
			var addr addressPayload
			if err := json.Unmarshal(value, &addr); err != nil {
				return req, errors.New("shipping must be an address object")
			}
			req.shipping = &addr
			updateFields++
		case "phone":
			if isJSONNull(value) {
				continue
			}
			var phone string
			if err := json.Unmarshal(value, &phone); err != nil {
				return req, errors.New("phone must be a string")
			}
			req.phone = strings.TrimSpace(phone)
			updateFields++
		default:
			return req, fmt.Errorf("field %q is not editable", key)
		}
	}

	if updateFields == 0 {
		return req, errNoEditableFields
	}
	return req, nil
}

func buildProfilePayload(profile services.UserProfile, identity *auth.Identity) meProfilePayload {
	email := strings.TrimSpace(strings.ToLower(profile.Email))
	if email == "" && identity != nil {
		email = strings.TrimSpace(strings.ToLower(identity.Email))
	}

	role := strings.TrimSpace(profile.Role)
	if role == "" && identity != nil && len(identity.Roles) > 0 {
		role = identity.Roles[0]
	}

	payload := meProfilePayload{
		ID:           strings.TrimSpace(profile.ID),
		FirstName:    profile.FirstName,
		LastName:     profile.LastName,
		Email:        email,
		Phone:        profile.Phone,
		Role:         role,
		CreatedAt:    formatTime(profile.CreatedAt),
		UpdatedAt:    formatTime(profile.UpdatedAt),
		LastSyncTime: formatTime(profile.LastSyncTime),
	}
	if profile.Billing != nil {
		addr := buildAddressPayload(*profile.Billing)
		payload.Billing = &addr
	}
	if profile.Shipping != nil {
		addr := buildAddressPayload(*profile.Shipping)
		payload.Shipping = &addr
	}
	return payload
}

func requireIdentity(ctx context.Context, w http.ResponseWriter) (*auth.Identity, bool) {
	identity, ok := auth.IdentityFromContext(ctx)
	if !ok || identity == nil || strings.TrimSpace(identity.UID) == "" {
		httpx.WriteError(ctx, w, httpx.NewError("unauthenticated", "authentication required", http.StatusUnauthorized))
		return nil, false
	}
	return identity, true
}

func readLimitedBody(r *http.Request, limit int64) ([]byte, error) {
	if r == nil || r.Body == nil {
		return nil, errEmptyBody
	}
	if limit <= 0 {
		limit = maxProfileBodySize
	}
	reader := io.LimitReader(r.Body, limit+1)
	data, err := io.ReadAll(reader)
	if err != nil {
		return nil, err
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, errEmptyBody
	}
	if int64(len(data)) > limit {
		return nil, errBodyTooLarge
	}
	return data, nil
}

func writeBodyError(ctx context.Context, w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, errBodyTooLarge):
		httpx.WriteError(ctx, w, httpx.NewError("payload_too_large", "request body exceeds allowed size", http.StatusRequestEntityTooLarge))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	}
}

func isJSONNull(value json.RawMessage) bool {
	return strings.EqualFold(strings.TrimSpace(string(value)), "null")
}

func parseRFC3339(value string) (time.Time, error) {
	layouts := []string{time.RFC3339Nano, time.RFC3339}
	for _, layout := range layouts {
		if parsed, err := time.Parse(layout, value); err == nil {
			return parsed.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("invalid time %q", value)
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func writeJSONResponse(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeUserProfileError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrUserInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrUserUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("profile_service_unavailable", "profile backend unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("profile_error", err.Error(), http.StatusInternalServerError))
	}
}
