package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/platform/auth"
	"github.com/axleworks/api/internal/platform/httpx"
	"github.com/axleworks/api/internal/services"
)

const maxCartBodySize = 64 * 1024

// CartHandlers exposes authenticated cart endpoints for the current user.
type CartHandlers struct {
	authn *auth.Authenticator
	carts services.CartService
}

// NewCartHandlers constructs handlers enforcing Firebase authentication before invoking the cart service.
func NewCartHandlers(authn *auth.Authenticator, carts services.CartService) *CartHandlers {
	return &CartHandlers{
		authn: authn,
		carts: carts,
	}
}

// Routes wires the /cart endpoints onto the provided router.
func (h *CartHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth())
	}
	r.Get("/", h.getCart)
	r.Put("/", h.replaceLines)
	r.Delete("/", h.clearCart)
	r.Patch("/items/{productID}", h.setQuantity)
}

func (h *CartHandlers) getCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	cart, err := h.carts.GetCart(ctx, identity.UID)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) replaceLines(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req replaceCartRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}

	lines := make([]domain.CartLine, 0, len(req.Lines))
	for _, line := range req.Lines {
		lines = append(lines, line.toDomain())
	}

	cart, err := h.carts.ReplaceLines(ctx, identity.UID, lines)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) setQuantity(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	if productID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "product id is required", http.StatusBadRequest))
		return
	}

	body, err := readLimitedBody(r, maxCartBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return
	}

	var req setQuantityRequest
	if err := json.Unmarshal(body, &req); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return
	}
	if req.Quantity == nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "quantity is required", http.StatusBadRequest))
		return
	}

	cart, err := h.carts.SetQuantity(ctx, identity.UID, productID, *req.Quantity)
	if err != nil {
		writeCartError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, cartResponse{Cart: buildCartPayload(cart)})
}

func (h *CartHandlers) clearCart(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.carts == nil {
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
		return
	}

	identity, ok := requireIdentity(ctx, w)
	if !ok {
		return
	}

	if err := h.carts.ClearCart(ctx, identity.UID); err != nil {
		writeCartError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func writeCartError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCartInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCartNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("cart_not_found", "cart not found", http.StatusNotFound))
	case errors.Is(err, services.ErrPurchaseOrderForbidden):
		httpx.WriteError(ctx, w, httpx.NewError("purchase_order_forbidden", "purchase order belongs to another dealer", http.StatusForbidden))
	case errors.Is(err, services.ErrCartUnavailable):
		httpx.WriteError(ctx, w, httpx.NewError("cart_service_unavailable", "cart service is unavailable", http.StatusServiceUnavailable))
	default:
		httpx.WriteError(ctx, w, httpx.NewError("cart_error", "cart operation failed", http.StatusInternalServerError))
	}
}

type cartResponse struct {
	Cart cartPayload `json:"cart"`
}

type cartPayload struct {
	ID            string            `json:"id"`
	UserID        string            `json:"user_id"`
	Currency      string            `json:"currency"`
	Lines         []cartLinePayload `json:"lines"`
	SubtotalCents int64             `json:"subtotal_cents"`
	UpdatedAt     string            `json:"updated_at,omitempty"`
}

type cartLinePayload struct {
	ProductID      string               `json:"product_id"`
	Name           string               `json:"name,omitempty"`
	PartNumber     string               `json:"part_number,omitempty"`
	UnitPriceCents int64                `json:"unit_price_cents"`
	Quantity       int                  `json:"quantity"`
	LineTotalCents int64                `json:"line_total_cents,omitempty"`
	AddOns         []addOnPayload       `json:"add_ons,omitempty"`
	Variant        *variantPayload      `json:"variant,omitempty"`
	Shipping       *shippingAttrPayload `json:"shipping,omitempty"`
	Manufacturer   string               `json:"manufacturer,omitempty"`
	PlatformLabel  string               `json:"platform_label,omitempty"`
	YearRange      string               `json:"year_range,omitempty"`
	ImageRef       string               `json:"image_ref,omitempty"`
}

type addOnPayload struct {
	Kind       string `json:"kind"`
	Name       string `json:"name,omitempty"`
	PriceCents int64  `json:"price_cents"`
}

type variantPayload struct {
	ColorID   string `json:"color_id,omitempty"`
	ColorName string `json:"color_name,omitempty"`
	Size      string `json:"size,omitempty"`
}

type shippingAttrPayload struct {
	WeightLbs float64 `json:"weight_lbs,omitempty"`
	Length    float64 `json:"length,omitempty"`
	Width     float64 `json:"width,omitempty"`
	Height    float64 `json:"height,omitempty"`
}

type replaceCartRequest struct {
	Lines []cartLinePayload `json:"lines"`
}

type setQuantityRequest struct {
	Quantity *int `json:"quantity"`
}

func buildCartPayload(cart services.Cart) cartPayload {
	payload := cartPayload{
		ID:       strings.TrimSpace(cart.ID),
		UserID:   strings.TrimSpace(cart.UserID),
		Currency: strings.ToUpper(strings.TrimSpace(cart.Currency)),
		Lines:    make([]cartLinePayload, 0, len(cart.Lines)),
	}
	for _, line := range cart.Lines {
		payload.Lines = append(payload.Lines, buildCartLinePayload(line))
		payload.SubtotalCents += line.LineTotalCents()
	}
	if !cart.UpdatedAt.IsZero() {
		payload.UpdatedAt = formatTime(cart.UpdatedAt)
	}
	return payload
}

func buildCartLinePayload(line domain.CartLine) cartLinePayload {
	entry := cartLinePayload{
		ProductID:      strings.TrimSpace(line.ProductID),
		Name:           line.Name,
		PartNumber:     line.PartNumber,
		UnitPriceCents: line.UnitPriceCents,
		Quantity:       line.Quantity,
		LineTotalCents: line.LineTotalCents(),
		Manufacturer:   line.Manufacturer,
		PlatformLabel:  line.PlatformLabel,
		YearRange:      line.YearRange,
		ImageRef:       line.ImageRef,
	}
	for _, addOn := range line.AddOns {
		entry.AddOns = append(entry.AddOns, addOnPayload{
			Kind:       string(addOn.Kind),
			Name:       addOn.Name,
			PriceCents: addOn.PriceCents,
		})
	}
	if line.Variant != nil {
		entry.Variant = &variantPayload{
			ColorID:   line.Variant.ColorID,
			ColorName: line.Variant.ColorName,
			Size:      line.Variant.Size,
		}
	}
	if line.Shipping != (domain.ShippingAttrs{}) {
		entry.Shipping = &shippingAttrPayload{
			WeightLbs: line.Shipping.WeightLbs,
			Length:    line.Shipping.Length,
			Width:     line.Shipping.Width,
			Height:    line.Shipping.Height,
		}
	}
	return entry
}

func (p cartLinePayload) toDomain() domain.CartLine {
	line := domain.CartLine{
		ProductID:      strings.TrimSpace(p.ProductID),
		Name:           strings.TrimSpace(p.Name),
		PartNumber:     strings.TrimSpace(p.PartNumber),
		UnitPriceCents: p.UnitPriceCents,
		Quantity:       p.Quantity,
		Manufacturer:   strings.TrimSpace(p.Manufacturer),
		PlatformLabel:  strings.TrimSpace(p.PlatformLabel),
		YearRange:      strings.TrimSpace(p.YearRange),
		ImageRef:       strings.TrimSpace(p.ImageRef),
	}
	for _, addOn := range p.AddOns {
		line.AddOns = append(line.AddOns, domain.AddOnSelection{
			Kind:       domain.AddOnKind(strings.TrimSpace(addOn.Kind)),
			Name:       strings.TrimSpace(addOn.Name),
			PriceCents: addOn.PriceCents,
		})
	}
	if p.Variant != nil {
		line.Variant = &domain.VariantSelection{
			ColorID:   strings.TrimSpace(p.Variant.ColorID),
			ColorName: strings.TrimSpace(p.Variant.ColorName),
			Size:      strings.TrimSpace(p.Variant.Size),
		}
	}
	if p.Shipping != nil {
		line.Shipping = domain.ShippingAttrs{
			WeightLbs: p.Shipping.WeightLbs,
			Length:    p.Shipping.Length,
			Width:     p.Shipping.Width,
			Height:    p.Shipping.Height,
		}
	}
	return line
}
