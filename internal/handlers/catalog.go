package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	domain "github.com/axleworks/api/internal/domain"
	"github.com/axleworks/api/internal/platform/httpx"
	"github.com/axleworks/api/internal/services"
)

// CatalogHandlers exposes unauthenticated catalog browsing endpoints.
type CatalogHandlers struct {
	catalog services.CatalogService
}

// NewCatalogHandlers constructs the public catalog handlers.
func NewCatalogHandlers(catalog services.CatalogService) *CatalogHandlers {
	return &CatalogHandlers{catalog: catalog}
}

// Routes wires the public catalog endpoints onto the provided router.
func (h *CatalogHandlers) Routes(r chi.Router) {
	if r == nil {
		return
	}
	r.Get("/products", h.listProducts)
	r.Get("/products/{productID}", h.getProduct)
	r.Get("/brands", h.listBrands)
	r.Get("/categories", h.listCategories)
	r.Get("/platforms", h.listPlatforms)
	r.Get("/platforms/{platformID}/vehicles", h.listVehicles)
}

func (h *CatalogHandlers) listProducts(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	filter := services.CatalogListFilter{
		CategoryID: strings.TrimSpace(r.URL.Query().Get("category_id")),
		PlatformID: strings.TrimSpace(r.URL.Query().Get("platform_id")),
		BrandID:    strings.TrimSpace(r.URL.Query().Get("brand_id")),
		ActiveOnly: true,
		Page:       paginationFromQuery(r),
	}

	page, err := h.catalog.ListProducts(ctx, filter)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]productPayload, 0, len(page.Items))
	for _, product := range page.Items {
		items = append(items, buildProductPayload(product))
	}
	writeJSONResponse(w, http.StatusOK, productListResponse{
		Products:      items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CatalogHandlers) getProduct(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	productID := strings.TrimSpace(chi.URLParam(r, "productID"))
	product, err := h.catalog.GetProduct(ctx, productID)
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}
	if !product.Active {
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "product not found", http.StatusNotFound))
		return
	}
	writeJSONResponse(w, http.StatusOK, productResponse{Product: buildProductPayload(product)})
}

func (h *CatalogHandlers) listBrands(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	page, err := h.catalog.ListBrands(ctx, paginationFromQuery(r))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]brandPayload, 0, len(page.Items))
	for _, brand := range page.Items {
		items = append(items, buildBrandPayload(brand))
	}
	writeJSONResponse(w, http.StatusOK, brandListResponse{
		Brands:        items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CatalogHandlers) listCategories(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	page, err := h.catalog.ListCategories(ctx, paginationFromQuery(r))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]categoryPayload, 0, len(page.Items))
	for _, category := range page.Items {
		items = append(items, buildCategoryPayload(category))
	}
	writeJSONResponse(w, http.StatusOK, categoryListResponse{
		Categories:    items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CatalogHandlers) listPlatforms(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	page, err := h.catalog.ListPlatforms(ctx, paginationFromQuery(r))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]platformPayload, 0, len(page.Items))
	for _, platform := range page.Items {
		items = append(items, buildPlatformPayload(platform))
	}
	writeJSONResponse(w, http.StatusOK, platformListResponse{
		Platforms:     items,
		NextPageToken: page.NextPageToken,
	})
}

func (h *CatalogHandlers) listVehicles(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if h.catalog == nil {
		writeCatalogUnavailable(ctx, w)
		return
	}

	platformID := strings.TrimSpace(chi.URLParam(r, "platformID"))
	page, err := h.catalog.ListVehicles(ctx, platformID, paginationFromQuery(r))
	if err != nil {
		writeCatalogError(ctx, w, err)
		return
	}

	items := make([]vehiclePayload, 0, len(page.Items))
	for _, vehicle := range page.Items {
		items = append(items, buildVehiclePayload(vehicle))
	}
	writeJSONResponse(w, http.StatusOK, vehicleListResponse{
		Vehicles:      items,
		NextPageToken: page.NextPageToken,
	})
}

func paginationFromQuery(r *http.Request) domain.Pagination {
	page := domain.Pagination{
		PageToken: strings.TrimSpace(r.URL.Query().Get("page_token")),
	}
	if raw := strings.TrimSpace(r.URL.Query().Get("page_size")); raw != "" {
		if size, err := strconv.Atoi(raw); err == nil && size > 0 {
			page.PageSize = size
		}
	}
	return page
}

func writeCatalogUnavailable(ctx context.Context, w http.ResponseWriter) {
	httpx.WriteError(ctx, w, httpx.NewError("catalog_service_unavailable", "catalog service is unavailable", http.StatusServiceUnavailable))
}

func writeCatalogError(ctx context.Context, w http.ResponseWriter, err error) {
	if err == nil {
		return
	}
	switch {
	case errors.Is(err, services.ErrCatalogInvalidInput):
		httpx.WriteError(ctx, w, httpx.NewError("invalid_request", err.Error(), http.StatusBadRequest))
	case errors.Is(err, services.ErrCatalogNotFound):
		httpx.WriteError(ctx, w, httpx.NewError("product_not_found", "catalog entity not found", http.StatusNotFound))
	case errors.Is(err, services.ErrCatalogUnavailable):
		writeCatalogUnavailable(ctx, w)
	default:
		httpx.WriteError(ctx, w, httpx.NewError("catalog_error", "catalog operation failed", http.StatusInternalServerError))
	}
}

type productListResponse struct {
	Products      []productPayload `json:"products"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type productResponse struct {
	Product productPayload `json:"product"`
}

type productPayload struct {
	ID           string                `json:"id"`
	Name         string                `json:"name"`
	PartNumber   string                `json:"part_number,omitempty"`
	BrandID      string                `json:"brand_id,omitempty"`
	CategoryID   string                `json:"category_id,omitempty"`
	PlatformID   string                `json:"platform_id,omitempty"`
	PriceCents   int64                 `json:"price_cents"`
	Colors       []productColorPayload `json:"colors,omitempty"`
	AddOns       []productAddOnPayload `json:"add_ons,omitempty"`
	Images       []productImagePayload `json:"images,omitempty"`
	Shipping     *shippingAttrPayload  `json:"shipping,omitempty"`
	Manufacturer string                `json:"manufacturer,omitempty"`
	Description  string                `json:"description,omitempty"`
	Active       bool                  `json:"active"`
	CreatedAt    string                `json:"created_at,omitempty"`
	UpdatedAt    string                `json:"updated_at,omitempty"`
}

type productColorPayload struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

type productAddOnPayload struct {
	Kind       string `json:"kind"`
	Name       string `json:"name"`
	PriceCents int64  `json:"price_cents"`
}

type productImagePayload struct {
	Ref     string `json:"ref"`
	ColorID string `json:"color_id,omitempty"`
	Primary bool   `json:"primary,omitempty"`
}

type brandListResponse struct {
	Brands        []brandPayload `json:"brands"`
	NextPageToken string         `json:"next_page_token,omitempty"`
}

type brandPayload struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Slug    string `json:"slug,omitempty"`
	LogoRef string `json:"logo_ref,omitempty"`
	Active  bool   `json:"active"`
}

type categoryListResponse struct {
	Categories    []categoryPayload `json:"categories"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type categoryPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug,omitempty"`
	ParentID  string `json:"parent_id,omitempty"`
	SortOrder int    `json:"sort_order,omitempty"`
	Active    bool   `json:"active"`
}

type platformListResponse struct {
	Platforms     []platformPayload `json:"platforms"`
	NextPageToken string            `json:"next_page_token,omitempty"`
}

type platformPayload struct {
	ID        string `json:"id"`
	Name      string `json:"name"`
	Slug      string `json:"slug,omitempty"`
	YearStart int    `json:"year_start,omitempty"`
	YearEnd   int    `json:"year_end,omitempty"`
	Active    bool   `json:"active"`
}

type vehicleListResponse struct {
	Vehicles      []vehiclePayload `json:"vehicles"`
	NextPageToken string           `json:"next_page_token,omitempty"`
}

type vehiclePayload struct {
	ID         string `json:"id"`
	PlatformID string `json:"platform_id"`
	Make       string `json:"make"`
	Model      string `json:"model"`
	YearStart  int    `json:"year_start,omitempty"`
	YearEnd    int    `json:"year_end,omitempty"`
}

func buildProductPayload(product domain.Product) productPayload {
	payload := productPayload{
		ID:           product.ID,
		Name:         product.Name,
		PartNumber:   product.PartNumber,
		BrandID:      product.BrandID,
		CategoryID:   product.CategoryID,
		PlatformID:   product.PlatformID,
		PriceCents:   product.PriceCents,
		Manufacturer: product.Manufacturer,
		Description:  product.Description,
		Active:       product.Active,
		CreatedAt:    formatTime(product.CreatedAt),
		UpdatedAt:    formatTime(product.UpdatedAt),
	}
	for _, color := range product.Colors {
		payload.Colors = append(payload.Colors, productColorPayload{ID: color.ID, Name: color.Name})
	}
	for _, addOn := range product.AddOns {
		payload.AddOns = append(payload.AddOns, productAddOnPayload{
			Kind:       string(addOn.Kind),
			Name:       addOn.Name,
			PriceCents: addOn.PriceCents,
		})
	}
	for _, image := range product.Images {
		payload.Images = append(payload.Images, productImagePayload{
			Ref:     image.Ref,
			ColorID: image.ColorID,
			Primary: image.Primary,
		})
	}
	if product.Shipping != (domain.ShippingAttrs{}) {
		payload.Shipping = &shippingAttrPayload{
			WeightLbs: product.Shipping.WeightLbs,
			Length:    product.Shipping.Length,
			Width:     product.Shipping.Width,
			Height:    product.Shipping.Height,
		}
	}
	return payload
}

func buildBrandPayload(brand domain.Brand) brandPayload {
	return brandPayload{
		ID:      brand.ID,
		Name:    brand.Name,
		Slug:    brand.Slug,
		LogoRef: brand.LogoRef,
		Active:  brand.Active,
	}
}

func buildCategoryPayload(category domain.Category) categoryPayload {
	return categoryPayload{
		ID:        category.ID,
		Name:      category.Name,
		Slug:      category.Slug,
		ParentID:  category.ParentID,
		SortOrder: category.SortOrder,
		Active:    category.Active,
	}
}

func buildPlatformPayload(platform domain.VehiclePlatform) platformPayload {
	return platformPayload{
		ID:        platform.ID,
		Name:      platform.Name,
		Slug:      platform.Slug,
		YearStart: platform.YearStart,
		YearEnd:   platform.YearEnd,
		Active:    platform.Active,
	}
}

func buildVehiclePayload(vehicle domain.Vehicle) vehiclePayload {
	return vehiclePayload{
		ID:         vehicle.ID,
		PlatformID: vehicle.PlatformID,
		Make:       vehicle.Make,
		Model:      vehicle.Model,
		YearStart:  vehicle.YearStart,
		YearEnd:    vehicle.YearEnd,
	}
}
