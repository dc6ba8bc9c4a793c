package services

import (
	"context"
	"errors"
	"testing"
	"time"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/repositories"
)

type stubCatalogRepo struct {
	products  map[string]domain.Product
	brands    map[string]domain.Brand
	listQuery repositories.CatalogListQuery
}

func newStubCatalogRepo() *stubCatalogRepo {
	return &stubCatalogRepo{
		products: map[string]domain.Product{},
		brands:   map[string]domain.Brand{},
	}
}

func (r *stubCatalogRepo) FindProduct(_ context.Context, productID string) (domain.Product, error) {
	product, ok := r.products[productID]
	if !ok {
		return domain.Product{}, fakeRepoError{notFound: true}
	}
	return product, nil
}

func (r *stubCatalogRepo) ListProducts(_ context.Context, query repositories.CatalogListQuery) (domain.CursorPage[domain.Product], error) {
	r.listQuery = query
	items := make([]domain.Product, 0, len(r.products))
	for _, p := range r.products {
		items = append(items, p)
	}
	return domain.CursorPage[domain.Product]{Items: items}, nil
}

func (r *stubCatalogRepo) UpsertProduct(_ context.Context, product domain.Product) (domain.Product, error) {
	r.products[product.ID] = product
	return product, nil
}

func (r *stubCatalogRepo) DeleteProduct(_ context.Context, productID string) error {
	if _, ok := r.products[productID]; !ok {
		return fakeRepoError{notFound: true}
	}
	delete(r.products, productID)
	return nil
}

func (r *stubCatalogRepo) ListBrands(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.Brand], error) {
	items := make([]domain.Brand, 0, len(r.brands))
	for _, b := range r.brands {
		items = append(items, b)
	}
	return domain.CursorPage[domain.Brand]{Items: items}, nil
}

func (r *stubCatalogRepo) UpsertBrand(_ context.Context, brand domain.Brand) (domain.Brand, error) {
	r.brands[brand.ID] = brand
	return brand, nil
}

func (r *stubCatalogRepo) DeleteBrand(_ context.Context, brandID string) error {
	delete(r.brands, brandID)
	return nil
}

func (r *stubCatalogRepo) ListCategories(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.Category], error) {
	return domain.CursorPage[domain.Category]{}, nil
}

func (r *stubCatalogRepo) UpsertCategory(_ context.Context, category domain.Category) (domain.Category, error) {
	return category, nil
}

func (r *stubCatalogRepo) DeleteCategory(_ context.Context, _ string) error { return nil }

func (r *stubCatalogRepo) ListPlatforms(_ context.Context, _ domain.Pagination) (domain.CursorPage[domain.VehiclePlatform], error) {
	return domain.CursorPage[domain.VehiclePlatform]{}, nil
}

func (r *stubCatalogRepo) UpsertPlatform(_ context.Context, platform domain.VehiclePlatform) (domain.VehiclePlatform, error) {
	return platform, nil
}

func (r *stubCatalogRepo) DeletePlatform(_ context.Context, _ string) error { return nil }

func (r *stubCatalogRepo) ListVehicles(_ context.Context, _ string, _ domain.Pagination) (domain.CursorPage[domain.Vehicle], error) {
	return domain.CursorPage[domain.Vehicle]{}, nil
}

func (r *stubCatalogRepo) UpsertVehicle(_ context.Context, vehicle domain.Vehicle) (domain.Vehicle, error) {
	return vehicle, nil
}

func (r *stubCatalogRepo) DeleteVehicle(_ context.Context, _ string) error { return nil }

func newTestCatalogService(t *testing.T, repo *stubCatalogRepo) CatalogService {
	t.Helper()
	svc, err := NewCatalogService(CatalogServiceDeps{
		Catalog: repo,
		Clock:   func() time.Time { return time.Date(2026, 5, 4, 12, 0, 0, 0, time.UTC) },
		IDGenerator: func() string {
			return "generated-id"
		},
	})
	if err != nil {
		t.Fatalf("NewCatalogService returned error: %v", err)
	}
	return svc
}

func TestGetProductNotFound(t *testing.T) {
	svc := newTestCatalogService(t, newStubCatalogRepo())

	if _, err := svc.GetProduct(context.Background(), "missing"); !errors.Is(err, ErrCatalogNotFound) {
		t.Fatalf("err = %v, want ErrCatalogNotFound", err)
	}
	if _, err := svc.GetProduct(context.Background(), "  "); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("err = %v, want ErrCatalogInvalidInput", err)
	}
}

func TestListProductsClampsPageSize(t *testing.T) {
	repo := newStubCatalogRepo()
	svc := newTestCatalogService(t, repo)

	if _, err := svc.ListProducts(context.Background(), CatalogListFilter{
		Page: domain.Pagination{PageSize: 500},
	}); err != nil {
		t.Fatalf("ListProducts returned error: %v", err)
	}
	if repo.listQuery.Pager.PageSize != 100 {
		t.Fatalf("page size = %d, want clamped 100", repo.listQuery.Pager.PageSize)
	}

	if _, err := svc.ListProducts(context.Background(), CatalogListFilter{}); err != nil {
		t.Fatalf("ListProducts returned error: %v", err)
	}
	if repo.listQuery.Pager.PageSize != 20 {
		t.Fatalf("page size = %d, want default 20", repo.listQuery.Pager.PageSize)
	}
}

func TestUpsertProductAssignsIDAndTimestamps(t *testing.T) {
	repo := newStubCatalogRepo()
	svc := newTestCatalogService(t, repo)

	saved, err := svc.UpsertProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{Name: "  Adjustable Track Bar ", PriceCents: 24900},
	})
	if err != nil {
		t.Fatalf("UpsertProduct returned error: %v", err)
	}
	if saved.ID != "generated-id" {
		t.Fatalf("id = %q, want generated", saved.ID)
	}
	if saved.Name != "Adjustable Track Bar" {
		t.Fatalf("name not trimmed: %q", saved.Name)
	}
	if saved.CreatedAt.IsZero() || saved.UpdatedAt.IsZero() {
		t.Fatalf("timestamps not set: %+v", saved)
	}
}

func TestUpsertProductRejectsNegativePrices(t *testing.T) {
	svc := newTestCatalogService(t, newStubCatalogRepo())

	if _, err := svc.UpsertProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{Name: "Bar", PriceCents: -1},
	}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("err = %v, want ErrCatalogInvalidInput", err)
	}

	if _, err := svc.UpsertProduct(context.Background(), UpsertProductCommand{
		Product: domain.Product{
			Name:       "Bar",
			PriceCents: 100,
			AddOns:     []domain.ProductAddOn{{Kind: domain.AddOnGrease, PriceCents: -5}},
		},
	}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("err = %v, want ErrCatalogInvalidInput for add-on", err)
	}
}

func TestUpsertBrandSlugify(t *testing.T) {
	svc := newTestCatalogService(t, newStubCatalogRepo())

	brand, err := svc.UpsertBrand(context.Background(), UpsertBrandCommand{
		Name:   "Synergy Mfg & Co.",
		Active: true,
	})
	if err != nil {
		t.Fatalf("UpsertBrand returned error: %v", err)
	}
	if brand.Slug != "synergy-mfg-co" {
		t.Fatalf("slug = %q, want synergy-mfg-co", brand.Slug)
	}
}

func TestUpsertVehicleYearRange(t *testing.T) {
	svc := newTestCatalogService(t, newStubCatalogRepo())

	if _, err := svc.UpsertVehicle(context.Background(), UpsertVehicleCommand{
		PlatformID: "jk",
		Make:       "Jeep",
		Model:      "Wrangler",
		YearStart:  2012,
		YearEnd:    2007,
	}); !errors.Is(err, ErrCatalogInvalidInput) {
		t.Fatalf("err = %v, want ErrCatalogInvalidInput", err)
	}
}

func TestProductImageForColor(t *testing.T) {
	product := domain.Product{Images: []domain.ProductImage{
		{Ref: "img-black", ColorID: "black"},
		{Ref: "img-primary", Primary: true},
		{Ref: "img-red", ColorID: "red"},
	}}

	if got := product.ImageForColor("red"); got != "img-red" {
		t.Fatalf("color match = %q, want img-red", got)
	}
	if got := product.ImageForColor("green"); got != "img-primary" {
		t.Fatalf("fallback = %q, want primary", got)
	}
	if got := (domain.Product{}).ImageForColor("red"); got != "" {
		t.Fatalf("empty product returned %q", got)
	}
}
