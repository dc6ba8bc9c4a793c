package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/platform/auth"
	"github.com/axleworks/api/internal/platform/httpx"
	"github.com/axleworks/api/internal/repositories"
	"github.com/axleworks/api/internal/services"
)

const maxAdminBodySize = 256 * 1024

// AdminCatalogHandlers exposes the admin-only catalog and coupon CRUD surface.
type AdminCatalogHandlers struct {
	authn   *auth.Authenticator
	catalog services.CatalogService
	coupons repositories.CouponRepository
}

// NewAdminCatalogHandlers constructs the admin handlers. Every route requires
// the admin role.
func NewAdminCatalogHandlers(authn *auth.Authenticator, catalog services.CatalogService, coupons repositories.CouponRepository) *AdminCatalogHandlers {
	return &AdminCatalogHandlers{
		authn:   authn,
		catalog: catalog,
		coupons: coupons,
	}
}

// Routes wires the /admin endpoints onto the provided router.
func (h *AdminCatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	if h.authn != nil {
		r.Use(h.authn.RequireFirebaseAuth(domain.RoleAdmin))
	}
	r.Post("/products", h.upsertProduct)
	r.Delete("/products/{productID}", h.deleteProduct)
	r.Post("/brands", h.upsertBrand)
	r.Delete("/brands/{brandID}", h.deleteBrand)
	r.Post("/categories", h.upsertCategory)
	r.Delete("/categories/{categoryID}", h.deleteCategory)
	r.Post("/platforms", h.upsertPlatform)
	r.Delete("/platforms/{platformID}", h.deletePlatform)
	r.Post("/vehicles", h.upsertVehicle)
	r.Delete("/vehicles/{vehicleID}", h.deleteVehicle)
	r.Post("/coupons", h.upsertCoupon)
	r.Delete("/coupons/{couponID}", h.deleteCoupon)
}

func (h *AdminCatalogHandlers) upsertProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	var req productPayload
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	product, err := h.catalog.UpsertProduct(ctx, services.UpsertProductCommand{Product: req.toDomain()})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *AdminCatalogHandlers) deleteProduct(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, "productID", func(ctx context.Context, id string) error {
		return h.catalog.DeleteProduct(ctx, id)
	})
}

func (h *AdminCatalogHandlers) upsertBrand(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	var req brandPayload
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	brand, err := h.catalog.UpsertBrand(ctx, services.UpsertBrandCommand{
		ID:      req.ID,
		Name:    req.Name,
		Slug:    req.Slug,
		LogoRef: req.LogoRef,
		Active:  req.Active,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]brandPayload{"brand": buildBrandPayload(brand)})
}

func (h *AdminCatalogHandlers) deleteBrand(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, "brandID", func(ctx context.Context, id string) error {
		return h.catalog.DeleteBrand(ctx, id)
	})
}

func (h *AdminCatalogHandlers) upsertCategory(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	var req categoryPayload
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	category, err := h.catalog.UpsertCategory(ctx, services.UpsertCategoryCommand{
		ID:        req.ID,
		Name:      req.Name,
		Slug:      req.Slug,
		ParentID:  req.ParentID,
		SortOrder: req.SortOrder,
		Active:    req.Active,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]categoryPayload{"category": buildCategoryPayload(category)})
}

func (h *AdminCatalogHandlers) deleteCategory(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, "categoryID", func(ctx context.Context, id string) error {
		return h.catalog.DeleteCategory(ctx, id)
	})
}

func (h *AdminCatalogHandlers) upsertPlatform(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	var req platformPayload
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	platform, err := h.catalog.UpsertPlatform(ctx, services.UpsertPlatformCommand{
		ID:        req.ID,
		Name:      req.Name,
		Slug:      req.Slug,
		YearStart: req.YearStart,
		YearEnd:   req.YearEnd,
		Active:    req.Active,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]platformPayload{"platform": buildPlatformPayload(platform)})
}

func (h *AdminCatalogHandlers) deletePlatform(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, "platformID", func(ctx context.Context, id string) error {
		return h.catalog.DeletePlatform(ctx, id)
	})
}

func (h *AdminCatalogHandlers) upsertVehicle(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	var req vehiclePayload
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	vehicle, err := h.catalog.UpsertVehicle(ctx, services.UpsertVehicleCommand{
		ID:         req.ID,
		PlatformID: req.PlatformID,
		Make:       req.Make,
		Model:      req.Model,
		YearStart:  req.YearStart,
		YearEnd:    req.YearEnd,
	})
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]vehiclePayload{"vehicle": buildVehiclePayload(vehicle)})
}

func (h *AdminCatalogHandlers) deleteVehicle(w http.ResponseWriter, r *http.Request) {
	h.deleteEntity(w, r, "vehicleID", func(ctx context.Context, id string) error {
		return h.catalog.DeleteVehicle(ctx, id)
	})
}

func (h *AdminCatalogHandlers) upsertCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon storage is unavailable", http.StatusServiceUnavailable))
		return
	}

	var req couponPayload
	if !decodeAdminBody(ctx, w, r, &req) {
		return
	}

	coupon, err := req.toDomain()
	if err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
		return
	}

	saved, err := h.coupons.Upsert(ctx, coupon)
	if err != nil {
		writeAdminRepoError(ctx, w, err, "coupon")
		return
	}
	writeJSONResponse(w, http.StatusOK, map[string]couponPayload{"coupon": buildCouponPayload(saved)})
}

func (h *AdminCatalogHandlers) deleteCoupon(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.coupons == nil {
		httpx.WriteError(ctx, w, httpx.NewError("coupon_service_unavailable", "coupon storage is unavailable", http.StatusServiceUnavailable))
		return
	}

	couponID := strings.TrimSpace(chi.URLParam(r, "couponID"))
	if couponID == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "coupon id is required", http.StatusBadRequest))
		return
	}
	if err := h.coupons.Delete(ctx, couponID); err != nil {
		writeAdminRepoError(ctx, w, err, "coupon")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *AdminCatalogHandlers) deleteEntity(w http.ResponseWriter, r *http.Request, param string, del func(context.Context, string) error) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	id := strings.TrimSpace(chi.URLParam(r, param))
	if id == "" {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "id is required", http.StatusBadRequest))
		return
	}
	if err := del(ctx, id); err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func decodeAdminBody(ctx context.Context, w http.ResponseWriter, r *http.Request, dest any) bool {
	body, err := readLimitedBody(r, maxAdminBodySize)
	if err != nil {
		writeBodyError(ctx, w, err)
		return false
	}
	if err := json.Unmarshal(body, dest); err != nil {
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", "invalid JSON payload", http.StatusBadRequest))
		return false
	}
	return true
}

func writeAdminRepoError(ctx context.Context, w http.ResponseWriter, err error, entity string) {
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		switch {
		case repoErr.IsNotFound():
			httpx.WriteError(ctx, w, httpx.NewError(entity+"_not_found", entity+" not found", http.StatusNotFound))
			return
		case repoErr.IsUnavailable():
			httpx.WriteError(ctx, w, httpx.NewError(entity+"_unavailable", entity+" storage unavailable", http.StatusServiceUnavailable))
			return
		}
	}
	httpx.WriteError(ctx, w, httpx.NewError(entity+"_error", err.Error(), http.StatusInternalServerError))
}

type couponPayload struct {
	ID               string `json:"id,omitempty"`
	Code             string `json:"code"`
	Name             string `json:"name,omitempty"`
	DiscountType     string `json:"discount_type"`
	DiscountValue    int64  `json:"discount_value"`
	FreeShipping     bool   `json:"free_shipping,omitempty"`
	Lower48Only      bool   `json:"lower48_only,omitempty"`
	MinSubtotalCents int64  `json:"min_subtotal_cents,omitempty"`
	Active           bool   `json:"active"`
	StartsAt         string `json:"starts_at,omitempty"`
	ExpiresAt        string `json:"expires_at,omitempty"`
}

func (p couponPayload) toDomain() (domain.Coupon, error) {
	code := strings.ToUpper(strings.TrimSpace(p.Code))
	if code == "" {
		return domain.Coupon{}, errors.New("code is required")
	}
	discountType := domain.DiscountType(strings.TrimSpace(p.DiscountType))
	if discountType != domain.DiscountPercentage && discountType != domain.DiscountFixed {
		return domain.Coupon{}, errors.New("discount_type must be percentage or fixed")
	}
	if p.DiscountValue < 0 {
		return domain.Coupon{}, errors.New("discount_value must not be negative")
	}

	coupon := domain.Coupon{
		ID:               strings.TrimSpace(p.ID),
		Code:             code,
		Name:             strings.TrimSpace(p.Name),
		DiscountType:     discountType,
		DiscountValue:    p.DiscountValue,
		FreeShipping:     p.FreeShipping,
		Lower48Only:      p.Lower48Only,
		MinSubtotalCents: p.MinSubtotalCents,
		Active:           p.Active,
	}
	if raw := strings.TrimSpace(p.StartsAt); raw != "" {
		starts, err := parseRFC3339(raw)
		if err != nil {
			return domain.Coupon{}, errors.New("starts_at must be an RFC3339 timestamp")
		}
		coupon.StartsAt = starts
	}
	if raw := strings.TrimSpace(p.ExpiresAt); raw != "" {
		expires, err := parseRFC3339(raw)
		if err != nil {
			return domain.Coupon{}, errors.New("expires_at must be an RFC3339 timestamp")
		}
		coupon.ExpiresAt = expires
	}
	return coupon, nil
}

func buildCouponPayload(coupon domain.Coupon) couponPayload {
	payload := couponPayload{
		ID:               coupon.ID,
		Code:             coupon.Code,
		Name:             coupon.Name,
		DiscountType:     string(coupon.DiscountType),
		DiscountValue:    coupon.DiscountValue,
		FreeShipping:     coupon.FreeShipping,
		Lower48Only:      coupon.Lower48Only,
		MinSubtotalCents: coupon.MinSubtotalCents,
		Active:           coupon.Active,
	}
	if !coupon.StartsAt.IsZero() {
		payload.StartsAt = coupon.StartsAt.UTC().Format(time.RFC3339)
	}
	if !coupon.ExpiresAt.IsZero() {
		payload.ExpiresAt = coupon.ExpiresAt.UTC().Format(time.RFC3339)
	}
	return payload
}

func (p productPayload) toDomain() domain.Product {
	product := domain.Product{
		ID:           strings.TrimSpace(p.ID),
		Name:         strings.TrimSpace(p.Name),
		PartNumber:   strings.TrimSpace(p.PartNumber),
		BrandID:      strings.TrimSpace(p.BrandID),
		CategoryID:   strings.TrimSpace(p.CategoryID),
		PlatformID:   strings.TrimSpace(p.PlatformID),
		PriceCents:   p.PriceCents,
		Manufacturer: strings.TrimSpace(p.Manufacturer),
		Description:  strings.TrimSpace(p.Description),
		Active:       p.Active,
	}
	for _, color := range p.Colors {
		product.Colors = append(product.Colors, domain.ProductColor{
			ID:   strings.TrimSpace(color.ID),
			Name: strings.TrimSpace(color.Name),
		})
	}
	for _, addOn := range p.AddOns {
		product.AddOns = append(product.AddOns, domain.ProductAddOn{
			Kind:       domain.AddOnKind(strings.TrimSpace(addOn.Kind)),
			Name:       strings.TrimSpace(addOn.Name),
			PriceCents: addOn.PriceCents,
		})
	}
	for _, image := range p.Images {
		product.Images = append(product.Images, domain.ProductImage{
			Ref:     strings.TrimSpace(image.Ref),
			ColorID: strings.TrimSpace(image.ColorID),
			Primary: image.Primary,
		})
	}
	if p.Shipping != nil {
		product.Shipping = domain.ShippingAttrs{
			WeightLbs: p.Shipping.WeightLbs,
			Length:    p.Shipping.Length,
			Width:     p.Shipping.Width,
			Height:    p.Shipping.Height,
		}
	}
	return product
}
