package models

// Availability enumerates product stock states reported by the catalog.
type Availability string

const (
	InStock             Availability = "InStock"
	LimitedAvailability Availability = "LimitedAvailability"
	PreOrder            Availability = "PreOrder"
	BackOrder           Availability = "BackOrder"
	SoldOut             Availability = "SoldOut"
	OutOfStock          Availability = "OutOfStock"
	Discontinued        Availability = "Discontinued"
	AvailabilityUnknown Availability = "Unknown"
)

// Price holds the offer price for a product. CompareAtPrice, when set,
// is the pre-discount price used for strike-through display.
type Price struct {
	Price          float64  `json:"price"`
	CompareAtPrice *float64 `json:"compare_at_price,omitempty"`
	Currency       string   `json:"currency"`
}

// Variant is a sibling product (different color, size, etc.).
type Variant struct {
	ProductID string `json:"product_id"`
	Title     string `json:"title"`
	ImageURL  string `json:"image_url"`
}

// Product is one catalog entry as returned by the search provider.
// Search results populate ImageURL; the detail endpoint uses ImageURLs.
// ID may be absent in some provider payloads; consumers must fall back
// to a derived identity key in that case.
type Product struct {
	ID           string       `json:"id,omitempty"`
	Score        float64      `json:"score,omitempty"`
	URL          string       `json:"url,omitempty"`
	Title        string       `json:"title"`
	Description  string       `json:"description,omitempty"`
	BrandName    string       `json:"brand_name,omitempty"`
	ImageURL     string       `json:"image_url,omitempty"`
	ImageURLs    []string     `json:"image_urls,omitempty"`
	Price        Price        `json:"price"`
	Categories   []string     `json:"categories,omitempty"`
	Availability Availability `json:"availability,omitempty"`
	Gender       string       `json:"gender,omitempty"`
	Materials    []string     `json:"materials,omitempty"`
	KeyFeatures  []string     `json:"key_features,omitempty"`
	Variants     []Variant    `json:"variants,omitempty"`
}
