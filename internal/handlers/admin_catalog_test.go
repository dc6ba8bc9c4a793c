package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/repositories"
	"github.com/axleworks/api/internal/services"
)

type stubRepoError struct {
	msg         string
	notFound    bool
	conflict    bool
	unavailable bool
}

func (e stubRepoError) Error() string       { return e.msg }
func (e stubRepoError) IsNotFound() bool    { return e.notFound }
func (e stubRepoError) IsConflict() bool    { return e.conflict }
func (e stubRepoError) IsUnavailable() bool { return e.unavailable }

type stubCouponRepository struct {
	findByCode func(ctx context.Context, code string) (domain.Coupon, error)
	upsert     func(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error)
	deleteFn   func(ctx context.Context, couponID string) error
}

func (s *stubCouponRepository) FindByCode(ctx context.Context, code string) (domain.Coupon, error) {
	if s.findByCode == nil {
		return domain.Coupon{}, stubRepoError{msg: "not found", notFound: true}
	}
	return s.findByCode(ctx, code)
}

func (s *stubCouponRepository) Upsert(ctx context.Context, coupon domain.Coupon) (domain.Coupon, error) {
	if s.upsert == nil {
		return coupon, nil
	}
	return s.upsert(ctx, coupon)
}

func (s *stubCouponRepository) Delete(ctx context.Context, couponID string) error {
	if s.deleteFn == nil {
		return nil
	}
	return s.deleteFn(ctx, couponID)
}

func newAdminRouter(catalog services.CatalogService, coupons repositories.CouponRepository) chi.Router {
	h := NewAdminCatalogHandlers(nil, catalog, coupons)
	r := chi.NewRouter()
	r.Route("/admin", h.Routes)
	return r
}

func TestAdminCatalogUpsertBrand(t *testing.T) {
	var captured services.UpsertBrandCommand
	catalog := &stubCatalogService{
		upsertBrand: func(_ context.Context, cmd services.UpsertBrandCommand) (domain.Brand, error) {
			captured = cmd
			return domain.Brand{ID: "brand-1", Name: cmd.Name, Slug: cmd.Slug, Active: cmd.Active}, nil
		},
	}

	router := newAdminRouter(catalog, &stubCouponRepository{})
	body := `{"name":"Hardrace","slug":"hardrace","active":true}`
	req := identified(httptest.NewRequest(http.MethodPost, "/admin/brands", strings.NewReader(body)), "admin-1", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if captured.Name != "Hardrace" || !captured.Active {
		t.Fatalf("unexpected command: %+v", captured)
	}
	var resp map[string]brandPayload
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp["brand"].ID != "brand-1" {
		t.Fatalf("brand id = %q, want brand-1", resp["brand"].ID)
	}
}

func TestAdminCatalogUpsertProduct(t *testing.T) {
	var captured domain.Product
	catalog := &stubCatalogService{
		upsertProduct: func(_ context.Context, cmd services.UpsertProductCommand) (domain.Product, error) {
			captured = cmd.Product
			captured.ID = "prod-1"
			return captured, nil
		},
	}

	router := newAdminRouter(catalog, &stubCouponRepository{})
	body := `{"name":"Rear Camber Kit","part_number":"RCK-100","price_cents":18900,"active":true,"shipping":{"weight_lbs":6,"length":14,"width":10,"height":4},"add_ons":[{"kind":"hardware","name":"Bolt kit","price_cents":1200}]}`
	req := identified(httptest.NewRequest(http.MethodPost, "/admin/products", strings.NewReader(body)), "admin-1", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if captured.PartNumber != "RCK-100" || captured.PriceCents != 18900 {
		t.Fatalf("unexpected product command: %+v", captured)
	}
	if len(captured.AddOns) != 1 || captured.AddOns[0].Kind != domain.AddOnHardware {
		t.Fatalf("add-ons not decoded: %+v", captured.AddOns)
	}
	if captured.Shipping.WeightLbs != 6 {
		t.Fatalf("shipping attrs not decoded: %+v", captured.Shipping)
	}
}

func TestAdminCatalogDeleteProduct(t *testing.T) {
	var deletedKind, deletedID string
	catalog := &stubCatalogService{
		deleteEntity: func(kind string, id string) error {
			deletedKind, deletedID = kind, id
			return nil
		},
	}

	router := newAdminRouter(catalog, &stubCouponRepository{})
	req := identified(httptest.NewRequest(http.MethodDelete, "/admin/products/prod-1", nil), "admin-1", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNoContent {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNoContent)
	}
	if deletedKind != "product" || deletedID != "prod-1" {
		t.Fatalf("deleted %s/%s, want product/prod-1", deletedKind, deletedID)
	}
}

func TestAdminCatalogDeleteMapsNotFound(t *testing.T) {
	catalog := &stubCatalogService{
		deleteEntity: func(string, string) error {
			return services.ErrCatalogNotFound
		},
	}

	router := newAdminRouter(catalog, &stubCouponRepository{})
	req := identified(httptest.NewRequest(http.MethodDelete, "/admin/categories/missing", nil), "admin-1", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
}

func TestAdminCatalogUpsertCoupon(t *testing.T) {
	var captured domain.Coupon
	coupons := &stubCouponRepository{
		upsert: func(_ context.Context, coupon domain.Coupon) (domain.Coupon, error) {
			captured = coupon
			captured.ID = "coupon-1"
			return captured, nil
		},
	}

	router := newAdminRouter(&stubCatalogService{}, coupons)
	body := `{"code":"spring10","discount_type":"percentage","discount_value":10,"active":true,"lower48_only":true,"expires_at":"2026-12-31T23:59:59Z"}`
	req := identified(httptest.NewRequest(http.MethodPost, "/admin/coupons", strings.NewReader(body)), "admin-1", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if captured.Code != "SPRING10" {
		t.Fatalf("code = %q, want uppercased SPRING10", captured.Code)
	}
	if captured.DiscountType != domain.DiscountPercentage || captured.DiscountValue != 10 {
		t.Fatalf("unexpected discount: %+v", captured)
	}
	if !captured.Lower48Only {
		t.Fatal("lower48_only not carried through")
	}
	if captured.ExpiresAt.IsZero() {
		t.Fatal("expires_at not parsed")
	}
}

func TestAdminCatalogUpsertCouponRejectsBadType(t *testing.T) {
	router := newAdminRouter(&stubCatalogService{}, &stubCouponRepository{})
	body := `{"code":"X","discount_type":"bogus","discount_value":10}`
	req := identified(httptest.NewRequest(http.MethodPost, "/admin/coupons", strings.NewReader(body)), "admin-1", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusBadRequest)
	}
}

func TestAdminCatalogDeleteCouponNotFound(t *testing.T) {
	coupons := &stubCouponRepository{
		deleteFn: func(context.Context, string) error {
			return stubRepoError{msg: "coupon missing", notFound: true}
		},
	}

	router := newAdminRouter(&stubCatalogService{}, coupons)
	req := identified(httptest.NewRequest(http.MethodDelete, "/admin/coupons/missing", nil), "admin-1", "admin")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	payload := decodeErrorEnvelope(t, rec)
	if payload["error"] != "coupon_not_found" {
		t.Fatalf("error code = %v, want coupon_not_found", payload["error"])
	}
}
