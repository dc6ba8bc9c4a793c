package services

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/repositories"
)

var slugSanitizer = regexp.MustCompile(`[^a-z0-9]+`)

var (
	// ErrCatalogRepositoryMissing indicates the repository dependency is absent.
	ErrCatalogRepositoryMissing = errors.New("catalog service: repository is not configured")
	// ErrCatalogInvalidInput indicates the caller supplied invalid data to a catalog mutation.
	ErrCatalogInvalidInput = errors.New("catalog service: invalid input")
	// ErrCatalogNotFound indicates the requested catalog entity does not exist.
	ErrCatalogNotFound = errors.New("catalog service: not found")
	// ErrCatalogUnavailable indicates the catalog backend could not be reached.
	ErrCatalogUnavailable = errors.New("catalog service: unavailable")
)

// CatalogServiceDeps bundles constructor inputs for the catalog service.
type CatalogServiceDeps struct {
	Catalog     repositories.CatalogRepository
	Clock       func() time.Time
	IDGenerator func() string
}

type catalogService struct {
	repo  repositories.CatalogRepository
	clock func() time.Time
	newID func() string
}

// NewCatalogService constructs the catalog service with the supplied dependencies.
func NewCatalogService(deps CatalogServiceDeps) (CatalogService, error) {
	if deps.Catalog == nil {
		return nil, ErrCatalogRepositoryMissing
	}
	clock := deps.Clock
	if clock == nil {
		clock = time.Now
	}
	idGen := deps.IDGenerator
	if idGen == nil {
		idGen = func() string { return ulid.Make().String() }
	}
	return &catalogService{
		repo:  deps.Catalog,
		clock: func() time.Time { return clock().UTC() },
		newID: idGen,
	}, nil
}

func (s *catalogService) GetProduct(ctx context.Context, id string) (domain.Product, error) {
	pid := strings.TrimSpace(id)
	if pid == "" {
		return domain.Product{}, fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	product, err := s.repo.FindProduct(ctx, pid)
	if err != nil {
		return domain.Product{}, translateCatalogRepoError(err)
	}
	return product, nil
}

func (s *catalogService) ListProducts(ctx context.Context, filter CatalogListFilter) (domain.CursorPage[domain.Product], error) {
	page, err := s.repo.ListProducts(ctx, repositories.CatalogListQuery{
		CategoryID: strings.TrimSpace(filter.CategoryID),
		PlatformID: strings.TrimSpace(filter.PlatformID),
		BrandID:    strings.TrimSpace(filter.BrandID),
		ActiveOnly: filter.ActiveOnly,
		Pager:      normalisePager(filter.Page),
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, translateCatalogRepoError(err)
	}
	return page, nil
}

func (s *catalogService) ListBrands(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.Brand], error) {
	result, err := s.repo.ListBrands(ctx, normalisePager(page))
	if err != nil {
		return domain.CursorPage[domain.Brand]{}, translateCatalogRepoError(err)
	}
	return result, nil
}

func (s *catalogService) ListCategories(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.Category], error) {
	result, err := s.repo.ListCategories(ctx, normalisePager(page))
	if err != nil {
		return domain.CursorPage[domain.Category]{}, translateCatalogRepoError(err)
	}
	return result, nil
}

func (s *catalogService) ListPlatforms(ctx context.Context, page domain.Pagination) (domain.CursorPage[domain.VehiclePlatform], error) {
	result, err := s.repo.ListPlatforms(ctx, normalisePager(page))
	if err != nil {
		return domain.CursorPage[domain.VehiclePlatform]{}, translateCatalogRepoError(err)
	}
	return result, nil
}

func (s *catalogService) ListVehicles(ctx context.Context, platformID string, page domain.Pagination) (domain.CursorPage[domain.Vehicle], error) {
	pid := strings.TrimSpace(platformID)
	if pid == "" {
		return domain.CursorPage[domain.Vehicle]{}, fmt.Errorf("%w: platform id is required", ErrCatalogInvalidInput)
	}
	result, err := s.repo.ListVehicles(ctx, pid, normalisePager(page))
	if err != nil {
		return domain.CursorPage[domain.Vehicle]{}, translateCatalogRepoError(err)
	}
	return result, nil
}

func (s *catalogService) UpsertProduct(ctx context.Context, cmd UpsertProductCommand) (domain.Product, error) {
	product := cmd.Product
	product.ID = strings.TrimSpace(product.ID)
	product.Name = strings.TrimSpace(product.Name)
	product.PartNumber = strings.TrimSpace(product.PartNumber)
	product.Manufacturer = strings.TrimSpace(product.Manufacturer)
	product.Description = strings.TrimSpace(product.Description)

	if product.Name == "" {
		return domain.Product{}, fmt.Errorf("%w: product name is required", ErrCatalogInvalidInput)
	}
	if product.PriceCents < 0 {
		return domain.Product{}, fmt.Errorf("%w: price must be non-negative", ErrCatalogInvalidInput)
	}
	for _, addOn := range product.AddOns {
		if addOn.PriceCents < 0 {
			return domain.Product{}, fmt.Errorf("%w: add-on price must be non-negative", ErrCatalogInvalidInput)
		}
	}

	now := s.clock()
	if product.ID == "" {
		product.ID = s.newID()
		product.CreatedAt = now
	}
	product.UpdatedAt = now

	saved, err := s.repo.UpsertProduct(ctx, product)
	if err != nil {
		return domain.Product{}, translateCatalogRepoError(err)
	}
	return saved, nil
}

func (s *catalogService) DeleteProduct(ctx context.Context, id string) error {
	pid := strings.TrimSpace(id)
	if pid == "" {
		return fmt.Errorf("%w: product id is required", ErrCatalogInvalidInput)
	}
	if err := s.repo.DeleteProduct(ctx, pid); err != nil {
		return translateCatalogRepoError(err)
	}
	return nil
}

func (s *catalogService) UpsertBrand(ctx context.Context, cmd UpsertBrandCommand) (domain.Brand, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return domain.Brand{}, fmt.Errorf("%w: brand name is required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	brand := domain.Brand{
		ID:        strings.TrimSpace(cmd.ID),
		Name:      name,
		Slug:      slugify(firstNonEmptyString(cmd.Slug, name)),
		LogoRef:   strings.TrimSpace(cmd.LogoRef),
		Active:    cmd.Active,
		UpdatedAt: now,
	}
	if brand.ID == "" {
		brand.ID = s.newID()
		brand.CreatedAt = now
	}

	saved, err := s.repo.UpsertBrand(ctx, brand)
	if err != nil {
		return domain.Brand{}, translateCatalogRepoError(err)
	}
	return saved, nil
}

func (s *catalogService) UpsertCategory(ctx context.Context, cmd UpsertCategoryCommand) (domain.Category, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return domain.Category{}, fmt.Errorf("%w: category name is required", ErrCatalogInvalidInput)
	}

	now := s.clock()
	category := domain.Category{
		ID:        strings.TrimSpace(cmd.ID),
		Name:      name,
		Slug:      slugify(firstNonEmptyString(cmd.Slug, name)),
		ParentID:  strings.TrimSpace(cmd.ParentID),
		SortOrder: cmd.SortOrder,
		Active:    cmd.Active,
		UpdatedAt: now,
	}
	if category.ID == "" {
		category.ID = s.newID()
		category.CreatedAt = now
	}

	saved, err := s.repo.UpsertCategory(ctx, category)
	if err != nil {
		return domain.Category{}, translateCatalogRepoError(err)
	}
	return saved, nil
}

func (s *catalogService) UpsertPlatform(ctx context.Context, cmd UpsertPlatformCommand) (domain.VehiclePlatform, error) {
	name := strings.TrimSpace(cmd.Name)
	if name == "" {
		return domain.VehiclePlatform{}, fmt.Errorf("%w: platform name is required", ErrCatalogInvalidInput)
	}
	if cmd.YearEnd != 0 && cmd.YearEnd < cmd.YearStart {
		return domain.VehiclePlatform{}, fmt.Errorf("%w: year range is inverted", ErrCatalogInvalidInput)
	}

	now := s.clock()
	platform := domain.VehiclePlatform{
		ID:        strings.TrimSpace(cmd.ID),
		Name:      name,
		Slug:      slugify(firstNonEmptyString(cmd.Slug, name)),
		YearStart: cmd.YearStart,
		YearEnd:   cmd.YearEnd,
		Active:    cmd.Active,
		UpdatedAt: now,
	}
	if platform.ID == "" {
		platform.ID = s.newID()
		platform.CreatedAt = now
	}

	saved, err := s.repo.UpsertPlatform(ctx, platform)
	if err != nil {
		return domain.VehiclePlatform{}, translateCatalogRepoError(err)
	}
	return saved, nil
}

func (s *catalogService) UpsertVehicle(ctx context.Context, cmd UpsertVehicleCommand) (domain.Vehicle, error) {
	platformID := strings.TrimSpace(cmd.PlatformID)
	make := strings.TrimSpace(cmd.Make)
	model := strings.TrimSpace(cmd.Model)
	if platformID == "" || make == "" || model == "" {
		return domain.Vehicle{}, fmt.Errorf("%w: platform, make and model are required", ErrCatalogInvalidInput)
	}
	if cmd.YearEnd != 0 && cmd.YearEnd < cmd.YearStart {
		return domain.Vehicle{}, fmt.Errorf("%w: year range is inverted", ErrCatalogInvalidInput)
	}

	now := s.clock()
	vehicle := domain.Vehicle{
		ID:         strings.TrimSpace(cmd.ID),
		PlatformID: platformID,
		Make:       make,
		Model:      model,
		YearStart:  cmd.YearStart,
		YearEnd:    cmd.YearEnd,
		UpdatedAt:  now,
	}
	if vehicle.ID == "" {
		vehicle.ID = s.newID()
		vehicle.CreatedAt = now
	}

	saved, err := s.repo.UpsertVehicle(ctx, vehicle)
	if err != nil {
		return domain.Vehicle{}, translateCatalogRepoError(err)
	}
	return saved, nil
}

func (s *catalogService) DeleteBrand(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, id, s.repo.DeleteBrand)
}

func (s *catalogService) DeleteCategory(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, id, s.repo.DeleteCategory)
}

func (s *catalogService) DeletePlatform(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, id, s.repo.DeletePlatform)
}

func (s *catalogService) DeleteVehicle(ctx context.Context, id string) error {
	return s.deleteEntity(ctx, id, s.repo.DeleteVehicle)
}

func (s *catalogService) deleteEntity(ctx context.Context, id string, del func(context.Context, string) error) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return fmt.Errorf("%w: id is required", ErrCatalogInvalidInput)
	}
	if err := del(ctx, trimmed); err != nil {
		return translateCatalogRepoError(err)
	}
	return nil
}

func normalisePager(page domain.Pagination) domain.Pagination {
	if page.PageSize <= 0 {
		page.PageSize = 20
	}
	if page.PageSize > 100 {
		page.PageSize = 100
	}
	page.PageToken = strings.TrimSpace(page.PageToken)
	return page
}

func slugify(v string) string {
	slug := strings.ToLower(strings.TrimSpace(v))
	slug = slugSanitizer.ReplaceAllString(slug, "-")
	return strings.Trim(slug, "-")
}

func firstNonEmptyString(values ...string) string {
	for _, v := range values {
		if trimmed := strings.TrimSpace(v); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func translateCatalogRepoError(err error) error {
	if err == nil {
		return nil
	}
	var repoErr repositories.RepositoryError
	if errors.As(err, &repoErr) {
		if repoErr.IsNotFound() {
			return ErrCatalogNotFound
		}
	}
	return ErrCatalogUnavailable
}
