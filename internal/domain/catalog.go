package domain

import "time"

// Brand is a parts manufacturer shown in catalog browsing and admin CRUD.
type Brand struct {
	ID        string
	Name      string
	Slug      string
	LogoRef   string
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Category groups products, optionally nested one level under a parent.
type Category struct {
	ID        string
	Name      string
	Slug      string
	ParentID  string
	SortOrder int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// VehiclePlatform is a chassis family, e.g. "JK Wrangler".
type VehiclePlatform struct {
	ID        string
	Name      string
	Slug      string
	YearStart int
	YearEnd   int
	Active    bool
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Vehicle is a concrete make/model/year-range fitment under a platform.
type Vehicle struct {
	ID         string
	PlatformID string
	Make       string
	Model      string
	YearStart  int
	YearEnd    int
	CreatedAt  time.Time
	UpdatedAt  time.Time
}

// ProductImage references one catalog image, optionally tied to a color.
type ProductImage struct {
	Ref     string
	ColorID string
	Primary bool
}

// ProductColor is a selectable finish for a product.
type ProductColor struct {
	ID   string
	Name string
}

// ProductAddOn describes an optional extra offered with a product.
type ProductAddOn struct {
	Kind       AddOnKind
	Name       string
	PriceCents int64
}

// Product is the catalog entry cart lines are built from.
type Product struct {
	ID           string
	Name         string
	PartNumber   string
	BrandID      string
	CategoryID   string
	PlatformID   string
	PriceCents   int64
	Colors       []ProductColor
	AddOns       []ProductAddOn
	Images       []ProductImage
	Shipping     ShippingAttrs
	Manufacturer string
	Description  string
	Active       bool
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// ImageForColor picks a deterministic image for the chosen color, falling
// back to the primary image and then the first image.
func (p Product) ImageForColor(colorID string) string {
	for _, img := range p.Images {
		if colorID != "" && img.ColorID == colorID {
			return img.Ref
		}
	}
	for _, img := range p.Images {
		if img.Primary {
			return img.Ref
		}
	}
	if len(p.Images) > 0 {
		return p.Images[0].Ref
	}
	return ""
}
