package catalog

// Source identifies which library section a product was scraped from.
type Source string

const (
	SourcePurchased Source = "purchased"
	SourceGift      Source = "gift"
)

// DownloadLink is one downloadable variant of a product.
type DownloadLink struct {
	URL               string `json:"url"`
	Label             string `json:"label"`
	IsMaterialVariant bool   `json:"isMaterialVariant"`
}

// Product is one purchased or gifted BOOTH item.
type Product struct {
	ID                 string         `json:"id"` // "booth_" + numeric product id
	Title              string         `json:"title"`
	Author             string         `json:"author,omitempty"`
	ProductURL         string         `json:"productUrl,omitempty"`
	ThumbnailURL       string         `json:"thumbnailUrl,omitempty"`
	LocalThumbnailPath string         `json:"localThumbnailPath,omitempty"`
	DownloadLinks      []DownloadLink `json:"downloadLinks,omitempty"`
	Installed          bool           `json:"installed"`
	ImportPath         string         `json:"importPath"`
	Source             Source         `json:"source,omitempty"`
	Notes              string         `json:"notes,omitempty"` // user-owned
}

// UpsertResult summarises one merge of a scraped batch.
type UpsertResult struct {
	Updated int
	Added   int
	Total   int
}

// IndexOf returns the position of the product with the given id, or -1.
func IndexOf(products []Product, id string) int {
	for i := range products {
		if products[i].ID == id {
			return i
		}
	}
	return -1
}
