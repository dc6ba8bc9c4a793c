package handlers

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/services"
)

type stubCatalogService struct {
	getProduct     func(ctx context.Context, id string) (domain.Product, error)
	listProducts   func(ctx context.Context, filter services.CatalogListFilter) (domain.CursorPage[domain.Product], error)
	listBrands     func(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.Brand], error)
	listCategories func(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.Category], error)
	listPlatforms  func(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.VehiclePlatform], error)
	listVehicles   func(ctx context.Context, platformID string, page domain.Pagination) (domain.CursorPage[domain.Vehicle], error)
	upsertProduct  func(ctx context.Context, cmd services.UpsertProductCommand) (domain.Product, error)
	upsertBrand    func(ctx context.Context, cmd services.UpsertBrandCommand) (domain.Brand, error)
	upsertCategory func(ctx context.Context, cmd services.UpsertCategoryCommand) (domain.Category, error)
	upsertPlatform func(ctx context.Context, cmd services.UpsertPlatformCommand) (domain.VehiclePlatform, error)
	upsertVehicle  func(ctx context.Context, cmd services.UpsertVehicleCommand) (domain.Vehicle, error)
	deleteEntity   func(kind string, id string) error
}

func (s *stubCatalogService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	if s.getProduct == nil {
		return domain.Product{}, services.ErrCatalogNotFound
	}
	return s.getProduct(ctx, id)
}

func (s *stubCatalogService) ListProducts(ctx context.Context, filter services.CatalogListFilter) (domain.CursorPage[domain.Product], error) {
	if s.listProducts == nil {
		return domain.CursorPage[domain.Product]{}, nil
	}
	return s.listProducts(ctx, filter)
}

func (s *stubCatalogService) ListBrands(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.Brand], error) {
	if s.listBrands == nil {
		return domain.CursorPage[domain.Brand]{}, nil
	}
	return s.listBrands(ctx, page)
}

func (s *stubCatalogService) ListCategories(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.Category], error) {
	if s.listCategories == nil {
		return domain.CursorPage[domain.Category]{}, nil
	}
	return s.listCategories(ctx, page)
}

func (s *stubCatalogService) ListPlatforms(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.VehiclePlatform], error) {
	if s.listPlatforms == nil {
		return domain.CursorPage[domain.VehiclePlatform]{}, nil
	}
	return s.listPlatforms(ctx, page)
}

func (s *stubCatalogService) ListVehicles(ctx context.Context, platformID string, page domain.Pagination) (domain.CursorPage[domain.Vehicle], error) {
	if s.listVehicles == nil {
		return domain.CursorPage[domain.Vehicle]{}, nil
	}
	return s.listVehicles(ctx, platformID, page)
}

func (s *stubCatalogService) UpsertProduct(ctx context.Context, cmd services.UpsertProductCommand) (domain.Product, error) {
	if s.upsertProduct == nil {
		return cmd.Product, nil
	}
	return s.upsertProduct(ctx, cmd)
}

func (s *stubCatalogService) UpsertBrand(ctx context.Context, cmd services.UpsertBrandCommand) (domain.Brand, error) {
	if s.upsertBrand == nil {
		return domain.Brand{ID: cmd.ID, Name: cmd.Name, Slug: cmd.Slug, LogoRef: cmd.LogoRef, Active: cmd.Active}, nil
	}
	return s.upsertBrand(ctx, cmd)
}

func (s *stubCatalogService) UpsertCategory(ctx context.Context, cmd services.UpsertCategoryCommand) (domain.Category, error) {
	if s.upsertCategory == nil {
		return domain.Category{ID: cmd.ID, Name: cmd.Name, Slug: cmd.Slug, ParentID: cmd.ParentID, SortOrder: cmd.SortOrder, Active: cmd.Active}, nil
	}
	return s.upsertCategory(ctx, cmd)
}

func (s *stubCatalogService) UpsertPlatform(ctx context.Context, cmd services.UpsertPlatformCommand) (domain.VehiclePlatform, error) {
	if s.upsertPlatform == nil {
		return domain.VehiclePlatform{ID: cmd.ID, Name: cmd.Name, Slug: cmd.Slug, YearStart: cmd.YearStart, YearEnd: cmd.YearEnd, Active: cmd.Active}, nil
	}
	return s.upsertPlatform(ctx, cmd)
}

func (s *stubCatalogService) UpsertVehicle(ctx context.Context, cmd services.UpsertVehicleCommand) (domain.Vehicle, error) {
	if s.upsertVehicle == nil {
		return domain.Vehicle{ID: cmd.ID, PlatformID: cmd.PlatformID, Make: cmd.Make, Model: cmd.Model, YearStart: cmd.YearStart, YearEnd: cmd.YearEnd}, nil
	}
	return s.upsertVehicle(ctx, cmd)
}

func (s *stubCatalogService) DeleteProduct(_ context.Context, id string) error {
	return s.delete("product", id)
}

func (s *stubCatalogService) DeleteBrand(_ context.Context, id string) error {
	return s.delete("brand", id)
}

func (s *stubCatalogService) DeleteCategory(_ context.Context, id string) error {
	return s.delete("category", id)
}

func (s *stubCatalogService) DeletePlatform(_ context.Context, id string) error {
	return s.delete("platform", id)
}

func (s *stubCatalogService) DeleteVehicle(_ context.Context, id string) error {
	return s.delete("vehicle", id)
}

func (s *stubCatalogService) delete(kind string, id string) error {
	if s.deleteEntity == nil {
		return nil
	}
	return s.deleteEntity(kind, id)
}

func newCatalogRouter(catalog services.CatalogService) chi.Router {
	h := NewCatalogHandlers(catalog)
	r := chi.NewRouter()
	r.Route("/public", h.Routes)
	return r
}

func TestCatalogHandlersListProductsFilter(t *testing.T) {
	var captured services.CatalogListFilter
	catalog := &stubCatalogService{
		listProducts: func(_ context.Context, filter services.CatalogListFilter) (domain.CursorPage[domain.Product], error) {
			captured = filter
			return domain.CursorPage[domain.Product]{
				Items:         []domain.Product{{ID: "p1", Name: "Control Arm", PriceCents: 24900, Active: true}},
				NextPageToken: "tok-2",
			}, nil
		},
	}

	router := newCatalogRouter(catalog)
	req := httptest.NewRequest(http.MethodGet, "/public/products?category_id=suspension&page_size=10&page_token=tok-1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d (body %s)", rec.Code, http.StatusOK, rec.Body.String())
	}
	if captured.CategoryID != "suspension" {
		t.Fatalf("category filter = %q, want suspension", captured.CategoryID)
	}
	if !captured.ActiveOnly {
		t.Fatal("public listing must be active-only")
	}
	if captured.Page.PageSize != 10 || captured.Page.PageToken != "tok-1" {
		t.Fatalf("pagination = %+v", captured.Page)
	}

	var resp productListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Products) != 1 || resp.Products[0].ID != "p1" {
		t.Fatalf("unexpected products: %+v", resp.Products)
	}
	if resp.NextPageToken != "tok-2" {
		t.Fatalf("next page token = %q, want tok-2", resp.NextPageToken)
	}
}

func TestCatalogHandlersGetProduct(t *testing.T) {
	catalog := &stubCatalogService{
		getProduct: func(_ context.Context, id string) (domain.Product, error) {
			if id != "p1" {
				return domain.Product{}, services.ErrCatalogNotFound
			}
			return domain.Product{ID: "p1", Name: "Control Arm", PriceCents: 24900, Active: true}, nil
		},
	}

	router := newCatalogRouter(catalog)
	req := httptest.NewRequest(http.MethodGet, "/public/products/p1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp productResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Product.ID != "p1" || resp.Product.PriceCents != 24900 {
		t.Fatalf("unexpected product payload: %+v", resp.Product)
	}
}

func TestCatalogHandlersGetProductHidesInactive(t *testing.T) {
	catalog := &stubCatalogService{
		getProduct: func(context.Context, string) (domain.Product, error) {
			return domain.Product{ID: "p1", Name: "Retired Part", Active: false}, nil
		},
	}

	router := newCatalogRouter(catalog)
	req := httptest.NewRequest(http.MethodGet, "/public/products/p1", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusNotFound {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusNotFound)
	}
	payload := decodeErrorEnvelope(t, rec)
	if payload["error"] != "product_not_found" {
		t.Fatalf("error code = %v, want product_not_found", payload["error"])
	}
}

func TestCatalogHandlersListVehicles(t *testing.T) {
	catalog := &stubCatalogService{
		listVehicles: func(_ context.Context, platformID string, _ domain.Pagination) (domain.CursorPage[domain.Vehicle], error) {
			if platformID != "plat-1" {
				t.Fatalf("platform id = %q, want plat-1", platformID)
			}
			return domain.CursorPage[domain.Vehicle]{
				Items: []domain.Vehicle{{ID: "v1", PlatformID: "plat-1", Make: "Honda", Model: "Civic", YearStart: 2016, YearEnd: 2021}},
			}, nil
		},
	}

	router := newCatalogRouter(catalog)
	req := httptest.NewRequest(http.MethodGet, "/public/platforms/plat-1/vehicles", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusOK)
	}
	var resp vehicleListResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(resp.Vehicles) != 1 || resp.Vehicles[0].Model != "Civic" {
		t.Fatalf("unexpected vehicles: %+v", resp.Vehicles)
	}
}

func TestCatalogHandlersUnavailable(t *testing.T) {
	catalog := &stubCatalogService{
		listBrands: func(context.Context, domain.Pagination) (domain.CursorPage[domain.Brand], error) {
			return domain.CursorPage[domain.Brand]{}, services.ErrCatalogUnavailable
		},
	}

	router := newCatalogRouter(catalog)
	req := httptest.NewRequest(http.MethodGet, "/public/brands", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want %d", rec.Code, http.StatusServiceUnavailable)
	}
}
