package firestore

import (
	"context"
	"errors"
	"strings"
	"time"

	"cloud.google.com/go/firestore"

	domain "github.com/axleworks/api/internal/domain"
	pfirestore "github.com/axleworks/api/internal/platform/firestore"
	"github.com/axleworks/api/internal/platform/pagination"
	"github.com/axleworks/api/internal/repositories"
)

const (
	productCollection  = "products"
	brandCollection    = "brands"
	categoryCollection = "categories"
	platformCollection = "vehiclePlatforms"
	vehicleCollection  = "vehicles"
)

// CatalogRepository stores the browsable catalog across five Firestore
// collections.
type CatalogRepository struct {
	products   *pfirestore.BaseRepository[productDocument]
	brands     *pfirestore.BaseRepository[brandDocument]
	categories *pfirestore.BaseRepository[categoryDocument]
	platforms  *pfirestore.BaseRepository[platformDocument]
	vehicles   *pfirestore.BaseRepository[vehicleDocument]
}

// NewCatalogRepository constructs a Firestore-backed catalog repository.
func NewCatalogRepository(provider *pfirestore.Provider) (*CatalogRepository, error) {
	if provider == nil {
		return nil, errors.New("catalog repository requires firestore provider")
	}
	return &CatalogRepository{
		products:   pfirestore.NewBaseRepository[productDocument](provider, productCollection, nil, nil),
		brands:     pfirestore.NewBaseRepository[brandDocument](provider, brandCollection, nil, nil),
		categories: pfirestore.NewBaseRepository[categoryDocument](provider, categoryCollection, nil, nil),
		platforms:  pfirestore.NewBaseRepository[platformDocument](provider, platformCollection, nil, nil),
		vehicles:   pfirestore.NewBaseRepository[vehicleDocument](provider, vehicleCollection, nil, nil),
	}, nil
}

// FindProduct loads one product by ID.
func (r *CatalogRepository) FindProduct(ctx context.Context, productID string) (domain.Product, error) {
	id := strings.TrimSpace(productID)
	if id == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}
	doc, err := r.products.Get(ctx, id)
	if err != nil {
		return domain.Product{}, err
	}
	return doc.Data.toDomain(doc.ID), nil
}

// ListProducts pages products newest first with optional filters. Firestore
// equality filters compose, so every filter maps to a Where clause.
func (r *CatalogRepository) ListProducts(ctx context.Context, query repositories.CatalogListQuery) (domain.CursorPage[domain.Product], error) {
	pageSize := pagination.Clamp(query.Pager.PageSize)
	cursor, err := pagination.DecodeToken(query.Pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	docs, err := r.products.Query(ctx, func(q firestore.Query) firestore.Query {
		if id := strings.TrimSpace(query.CategoryID); id != "" {
			q = q.Where("categoryId", "==", id)
		}
		if id := strings.TrimSpace(query.PlatformID); id != "" {
			q = q.Where("platformId", "==", id)
		}
		if id := strings.TrimSpace(query.BrandID); id != "" {
			q = q.Where("brandId", "==", id)
		}
		if query.ActiveOnly {
			q = q.Where("active", "==", true)
		}
		q = q.OrderBy("createdAt", firestore.Desc).Limit(pageSize + 1)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Product]{}, err
	}

	page := domain.CursorPage[domain.Product]{Items: make([]domain.Product, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{docs[i-1].Data.CreatedAt},
			})
			if err != nil {
				return domain.CursorPage[domain.Product]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

// UpsertProduct writes the full product document.
func (r *CatalogRepository) UpsertProduct(ctx context.Context, product domain.Product) (domain.Product, error) {
	id := strings.TrimSpace(product.ID)
	if id == "" {
		return domain.Product{}, errors.New("catalog repository: product id is required")
	}
	doc := encodeProduct(product)
	if _, err := r.products.Set(ctx, id, doc); err != nil {
		return domain.Product{}, err
	}
	return doc.toDomain(id), nil
}

// DeleteProduct removes the product document.
func (r *CatalogRepository) DeleteProduct(ctx context.Context, productID string) error {
	return r.deleteDoc(ctx, r.products.DocumentRef, productID, "products.delete")
}

// ListBrands pages brands by name.
func (r *CatalogRepository) ListBrands(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Brand], error) {
	return listNamed(ctx, r.brands, pager, func(doc pfirestore.Document[brandDocument]) domain.Brand {
		return doc.Data.toDomain(doc.ID)
	}, func(doc pfirestore.Document[brandDocument]) any { return doc.Data.Name })
}

// UpsertBrand writes the brand document.
func (r *CatalogRepository) UpsertBrand(ctx context.Context, brand domain.Brand) (domain.Brand, error) {
	id := strings.TrimSpace(brand.ID)
	if id == "" {
		return domain.Brand{}, errors.New("catalog repository: brand id is required")
	}
	doc := brandDocument{
		Name:      strings.TrimSpace(brand.Name),
		Slug:      strings.TrimSpace(brand.Slug),
		LogoRef:   strings.TrimSpace(brand.LogoRef),
		Active:    brand.Active,
		CreatedAt: brand.CreatedAt.UTC(),
		UpdatedAt: brand.UpdatedAt.UTC(),
	}
	if _, err := r.brands.Set(ctx, id, doc); err != nil {
		return domain.Brand{}, err
	}
	return doc.toDomain(id), nil
}

// DeleteBrand removes the brand document.
func (r *CatalogRepository) DeleteBrand(ctx context.Context, brandID string) error {
	return r.deleteDoc(ctx, r.brands.DocumentRef, brandID, "brands.delete")
}

// ListCategories pages categories by sort order then name.
func (r *CatalogRepository) ListCategories(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.Category], error) {
	return listNamed(ctx, r.categories, pager, func(doc pfirestore.Document[categoryDocument]) domain.Category {
		return doc.Data.toDomain(doc.ID)
	}, func(doc pfirestore.Document[categoryDocument]) any { return doc.Data.Name })
}

// UpsertCategory writes the category document.
func (r *CatalogRepository) UpsertCategory(ctx context.Context, category domain.Category) (domain.Category, error) {
	id := strings.TrimSpace(category.ID)
	if id == "" {
		return domain.Category{}, errors.New("catalog repository: category id is required")
	}
	doc := categoryDocument{
		Name:      strings.TrimSpace(category.Name),
		Slug:      strings.TrimSpace(category.Slug),
		ParentID:  strings.TrimSpace(category.ParentID),
		SortOrder: category.SortOrder,
		Active:    category.Active,
		CreatedAt: category.CreatedAt.UTC(),
		UpdatedAt: category.UpdatedAt.UTC(),
	}
	if _, err := r.categories.Set(ctx, id, doc); err != nil {
		return domain.Category{}, err
	}
	return doc.toDomain(id), nil
}

// DeleteCategory removes the category document.
func (r *CatalogRepository) DeleteCategory(ctx context.Context, categoryID string) error {
	return r.deleteDoc(ctx, r.categories.DocumentRef, categoryID, "categories.delete")
}

// ListPlatforms pages vehicle platforms by name.
func (r *CatalogRepository) ListPlatforms(ctx context.Context, pager domain.Pagination) (domain.CursorPage[domain.VehiclePlatform], error) {
	return listNamed(ctx, r.platforms, pager, func(doc pfirestore.Document[platformDocument]) domain.VehiclePlatform {
		return doc.Data.toDomain(doc.ID)
	}, func(doc pfirestore.Document[platformDocument]) any { return doc.Data.Name })
}

// UpsertPlatform writes the vehicle platform document.
func (r *CatalogRepository) UpsertPlatform(ctx context.Context, platform domain.VehiclePlatform) (domain.VehiclePlatform, error) {
	id := strings.TrimSpace(platform.ID)
	if id == "" {
		return domain.VehiclePlatform{}, errors.New("catalog repository: platform id is required")
	}
	doc := platformDocument{
		Name:      strings.TrimSpace(platform.Name),
		Slug:      strings.TrimSpace(platform.Slug),
		YearStart: platform.YearStart,
		YearEnd:   platform.YearEnd,
		Active:    platform.Active,
		CreatedAt: platform.CreatedAt.UTC(),
		UpdatedAt: platform.UpdatedAt.UTC(),
	}
	if _, err := r.platforms.Set(ctx, id, doc); err != nil {
		return domain.VehiclePlatform{}, err
	}
	return doc.toDomain(id), nil
}

// DeletePlatform removes the platform document.
func (r *CatalogRepository) DeletePlatform(ctx context.Context, platformID string) error {
	return r.deleteDoc(ctx, r.platforms.DocumentRef, platformID, "platforms.delete")
}

// ListVehicles pages vehicles for a platform ordered by make and model.
func (r *CatalogRepository) ListVehicles(ctx context.Context, platformID string, pager domain.Pagination) (domain.CursorPage[domain.Vehicle], error) {
	pid := strings.TrimSpace(platformID)
	if pid == "" {
		return domain.CursorPage[domain.Vehicle]{}, errors.New("catalog repository: platform id is required")
	}

	pageSize := pagination.Clamp(pager.PageSize)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[domain.Vehicle]{}, err
	}

	docs, err := r.vehicles.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.Where("platformId", "==", pid).
			OrderBy("make", firestore.Asc).
			OrderBy("model", firestore.Asc).
			Limit(pageSize + 1)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[domain.Vehicle]{}, err
	}

	page := domain.CursorPage[domain.Vehicle]{Items: make([]domain.Vehicle, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{docs[i-1].Data.Make, docs[i-1].Data.Model},
			})
			if err != nil {
				return domain.CursorPage[domain.Vehicle]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, doc.Data.toDomain(doc.ID))
	}
	return page, nil
}

// UpsertVehicle writes the vehicle document.
func (r *CatalogRepository) UpsertVehicle(ctx context.Context, vehicle domain.Vehicle) (domain.Vehicle, error) {
	id := strings.TrimSpace(vehicle.ID)
	if id == "" {
		return domain.Vehicle{}, errors.New("catalog repository: vehicle id is required")
	}
	doc := vehicleDocument{
		PlatformID: strings.TrimSpace(vehicle.PlatformID),
		Make:       strings.TrimSpace(vehicle.Make),
		Model:      strings.TrimSpace(vehicle.Model),
		YearStart:  vehicle.YearStart,
		YearEnd:    vehicle.YearEnd,
		CreatedAt:  vehicle.CreatedAt.UTC(),
		UpdatedAt:  vehicle.UpdatedAt.UTC(),
	}
	if _, err := r.vehicles.Set(ctx, id, doc); err != nil {
		return domain.Vehicle{}, err
	}
	return doc.toDomain(id), nil
}

// DeleteVehicle removes the vehicle document.
func (r *CatalogRepository) DeleteVehicle(ctx context.Context, vehicleID string) error {
	return r.deleteDoc(ctx, r.vehicles.DocumentRef, vehicleID, "vehicles.delete")
}

func (r *CatalogRepository) deleteDoc(ctx context.Context, refFn func(context.Context, string) (*firestore.DocumentRef, error), id string, op string) error {
	trimmed := strings.TrimSpace(id)
	if trimmed == "" {
		return errors.New("catalog repository: id is required")
	}
	ref, err := refFn(ctx, trimmed)
	if err != nil {
		return err
	}
	if _, err := ref.Delete(ctx); err != nil {
		return pfirestore.WrapError(op, err)
	}
	return nil
}

func listNamed[D any, T any](
	ctx context.Context,
	base *pfirestore.BaseRepository[D],
	pager domain.Pagination,
	toDomain func(pfirestore.Document[D]) T,
	cursorValue func(pfirestore.Document[D]) any,
) (domain.CursorPage[T], error) {
	pageSize := pagination.Clamp(pager.PageSize)
	cursor, err := pagination.DecodeToken(pager.PageToken)
	if err != nil {
		return domain.CursorPage[T]{}, err
	}

	docs, err := base.Query(ctx, func(q firestore.Query) firestore.Query {
		q = q.OrderBy("name", firestore.Asc).Limit(pageSize + 1)
		if len(cursor.StartAfter) > 0 {
			q = q.StartAfter(cursor.StartAfter...)
		}
		return q
	})
	if err != nil {
		return domain.CursorPage[T]{}, err
	}

	page := domain.CursorPage[T]{Items: make([]T, 0, len(docs))}
	for i, doc := range docs {
		if i == pageSize {
			token, err := pagination.EncodeToken(pagination.Cursor{
				StartAfter: []any{cursorValue(docs[i-1])},
			})
			if err != nil {
				return domain.CursorPage[T]{}, err
			}
			page.NextPageToken = token
			break
		}
		page.Items = append(page.Items, toDomain(doc))
	}
	return page, nil
}

type productDocument struct {
	Name         string            `firestore:"name"`
	PartNumber   string            `firestore:"partNumber,omitempty"`
	BrandID      string            `firestore:"brandId,omitempty"`
	CategoryID   string            `firestore:"categoryId,omitempty"`
	PlatformID   string            `firestore:"platformId,omitempty"`
	PriceCents   int64             `firestore:"priceCents"`
	Colors       []productColorDoc `firestore:"colors,omitempty"`
	AddOns       []productAddOnDoc `firestore:"addOns,omitempty"`
	Images       []productImageDoc `firestore:"images,omitempty"`
	WeightLbs    float64           `firestore:"weightLbs,omitempty"`
	Length       float64           `firestore:"length,omitempty"`
	Width        float64           `firestore:"width,omitempty"`
	Height       float64           `firestore:"height,omitempty"`
	Manufacturer string            `firestore:"manufacturer,omitempty"`
	Description  string            `firestore:"description,omitempty"`
	Active       bool              `firestore:"active"`
	CreatedAt    time.Time         `firestore:"createdAt"`
	UpdatedAt    time.Time         `firestore:"updatedAt"`
}

type productColorDoc struct {
	ID   string `firestore:"id"`
	Name string `firestore:"name"`
}

type productAddOnDoc struct {
	Kind       string `firestore:"kind"`
	Name       string `firestore:"name"`
	PriceCents int64  `firestore:"priceCents"`
}

type productImageDoc struct {
	Ref     string `firestore:"ref"`
	ColorID string `firestore:"colorId,omitempty"`
	Primary bool   `firestore:"primary,omitempty"`
}

func encodeProduct(product domain.Product) productDocument {
	doc := productDocument{
		Name:         strings.TrimSpace(product.Name),
		PartNumber:   strings.TrimSpace(product.PartNumber),
		BrandID:      strings.TrimSpace(product.BrandID),
		CategoryID:   strings.TrimSpace(product.CategoryID),
		PlatformID:   strings.TrimSpace(product.PlatformID),
		PriceCents:   product.PriceCents,
		WeightLbs:    product.Shipping.WeightLbs,
		Length:       product.Shipping.Length,
		Width:        product.Shipping.Width,
		Height:       product.Shipping.Height,
		Manufacturer: strings.TrimSpace(product.Manufacturer),
		Description:  strings.TrimSpace(product.Description),
		Active:       product.Active,
		CreatedAt:    product.CreatedAt.UTC(),
		UpdatedAt:    product.UpdatedAt.UTC(),
	}
	for _, color := range product.Colors {
		doc.Colors = append(doc.Colors, productColorDoc{ID: color.ID, Name: color.Name})
	}
	for _, addOn := range product.AddOns {
		doc.AddOns = append(doc.AddOns, productAddOnDoc{
			Kind:       string(addOn.Kind),
			Name:       addOn.Name,
			PriceCents: addOn.PriceCents,
		})
	}
	for _, image := range product.Images {
		doc.Images = append(doc.Images, productImageDoc{
			Ref:     image.Ref,
			ColorID: image.ColorID,
			Primary: image.Primary,
		})
	}
	return doc
}

func (d productDocument) toDomain(id string) domain.Product {
	product := domain.Product{
		ID:         id,
		Name:       d.Name,
		PartNumber: d.PartNumber,
		BrandID:    d.BrandID,
		CategoryID: d.CategoryID,
		PlatformID: d.PlatformID,
		PriceCents: d.PriceCents,
		Shipping: domain.ShippingAttrs{
			WeightLbs: d.WeightLbs,
			Length:    d.Length,
			Width:     d.Width,
			Height:    d.Height,
		},
		Manufacturer: d.Manufacturer,
		Description:  d.Description,
		Active:       d.Active,
		CreatedAt:    d.CreatedAt,
		UpdatedAt:    d.UpdatedAt,
	}
	for _, color := range d.Colors {
		product.Colors = append(product.Colors, domain.ProductColor{ID: color.ID, Name: color.Name})
	}
	for _, addOn := range d.AddOns {
		product.AddOns = append(product.AddOns, domain.ProductAddOn{
			Kind:       domain.AddOnKind(addOn.Kind),
			Name:       addOn.Name,
			PriceCents: addOn.PriceCents,
		})
	}
	for _, image := range d.Images {
		product.Images = append(product.Images, domain.ProductImage{
			Ref:     image.Ref,
			ColorID: image.ColorID,
			Primary: image.Primary,
		})
	}
	return product
}

type brandDocument struct {
	Name      string    `firestore:"name"`
	Slug      string    `firestore:"slug,omitempty"`
	LogoRef   string    `firestore:"logoRef,omitempty"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d brandDocument) toDomain(id string) domain.Brand {
	return domain.Brand{
		ID:        id,
		Name:      d.Name,
		Slug:      d.Slug,
		LogoRef:   d.LogoRef,
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type categoryDocument struct {
	Name      string    `firestore:"name"`
	Slug      string    `firestore:"slug,omitempty"`
	ParentID  string    `firestore:"parentId,omitempty"`
	SortOrder int       `firestore:"sortOrder,omitempty"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d categoryDocument) toDomain(id string) domain.Category {
	return domain.Category{
		ID:        id,
		Name:      d.Name,
		Slug:      d.Slug,
		ParentID:  d.ParentID,
		SortOrder: d.SortOrder,
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type platformDocument struct {
	Name      string    `firestore:"name"`
	Slug      string    `firestore:"slug,omitempty"`
	YearStart int       `firestore:"yearStart,omitempty"`
	YearEnd   int       `firestore:"yearEnd,omitempty"`
	Active    bool      `firestore:"active"`
	CreatedAt time.Time `firestore:"createdAt"`
	UpdatedAt time.Time `firestore:"updatedAt"`
}

func (d platformDocument) toDomain(id string) domain.VehiclePlatform {
	return domain.VehiclePlatform{
		ID:        id,
		Name:      d.Name,
		Slug:      d.Slug,
		YearStart: d.YearStart,
		YearEnd:   d.YearEnd,
		Active:    d.Active,
		CreatedAt: d.CreatedAt,
		UpdatedAt: d.UpdatedAt,
	}
}

type vehicleDocument struct {
	PlatformID string    `firestore:"platformId"`
	Make       string    `firestore:"make"`
	Model      string    `firestore:"model"`
	YearStart  int       `firestore:"yearStart,omitempty"`
	YearEnd    int       `firestore:"yearEnd,omitempty"`
	CreatedAt  time.Time `firestore:"createdAt"`
	UpdatedAt  time.Time `firestore:"updatedAt"`
}

func (d vehicleDocument) toDomain(id string) domain.Vehicle {
	return domain.Vehicle{
		ID:         id,
		PlatformID: d.PlatformID,
		Make:       d.Make,
		Model:      d.Model,
		YearStart:  d.YearStart,
		YearEnd:    d.YearEnd,
		CreatedAt:  d.CreatedAt,
		UpdatedAt:  d.UpdatedAt,
	}
}

var _ repositories.CatalogRepository = (*CatalogRepository)(nil)
