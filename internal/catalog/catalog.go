// Package catalog is the read-only product collaborator. Products are loaded
// once from YAML and never mutated afterwards.
package catalog

import (
	"bytes"
	_ "embed"
	"errors"
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	"github.com/atmx/storefront-engine/internal/model"
)

//go:embed catalog.yaml
var defaultCatalog []byte

// ErrDuplicateProduct is returned when two records share an id.
var ErrDuplicateProduct = errors.New("catalog: duplicate product id")

var validate = validator.New()

type record struct {
	ID          int64    `yaml:"id" validate:"gt=0"`
	Name        string   `yaml:"name" validate:"required"`
	Price       string   `yaml:"price" validate:"required,numeric"`
	Category    string   `yaml:"category" validate:"required"`
	Brand       string   `yaml:"brand" validate:"required"`
	Rating      float64  `yaml:"rating" validate:"gte=0,lte=5"`
	ReviewCount int      `yaml:"review_count" validate:"gte=0"`
	Features    []string `yaml:"features"`
}

type document struct {
	Products []record `yaml:"products"`
}

// Catalog is an immutable, id-indexed product list.
type Catalog struct {
	products []model.Product
	byID     map[int64]int
}

// Default returns the catalog compiled into the binary.
func Default() (*Catalog, error) {
	return Load(bytes.NewReader(defaultCatalog))
}

// LoadFile reads a catalog from path, or the built-in one when path is empty.
func LoadFile(path string) (*Catalog, error) {
	if path == "" {
		return Default()
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("opening catalog %s: %w", path, err)
	}
	defer f.Close()
	return Load(f)
}

// Load parses and validates a YAML catalog.
func Load(r io.Reader) (*Catalog, error) {
	var doc document
	if err := yaml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, fmt.Errorf("parsing catalog: %w", err)
	}

	c := &Catalog{
		products: make([]model.Product, 0, len(doc.Products)),
		byID:     make(map[int64]int, len(doc.Products)),
	}
	for i, rec := range doc.Products {
		if err := validate.Struct(rec); err != nil {
			return nil, fmt.Errorf("catalog product #%d: %w", i+1, err)
		}
		if _, dup := c.byID[rec.ID]; dup {
			return nil, fmt.Errorf("%w: %d", ErrDuplicateProduct, rec.ID)
		}
		price, err := decimal.NewFromString(rec.Price)
		if err != nil || price.IsNegative() {
			return nil, fmt.Errorf("catalog product %d: invalid price %q", rec.ID, rec.Price)
		}
		c.byID[rec.ID] = len(c.products)
		c.products = append(c.products, model.Product{
			ID:          rec.ID,
			Name:        rec.Name,
			Price:       price,
			Category:    rec.Category,
			Brand:       rec.Brand,
			Rating:      rec.Rating,
			ReviewCount: rec.ReviewCount,
			Features:    rec.Features,
		})
	}
	return c, nil
}

// All returns every product in document order.
func (c *Catalog) All() []model.Product {
	out := make([]model.Product, len(c.products))
	copy(out, c.products)
	return out
}

// Len is the number of products.
func (c *Catalog) Len() int { return len(c.products) }

// Get looks up a product by id.
func (c *Catalog) Get(id int64) (model.Product, bool) {
	i, ok := c.byID[id]
	if !ok {
		return model.Product{}, false
	}
	return c.products[i], true
}

// Filter narrows the catalog. Zero-valued fields do not constrain.
type Filter struct {
	Category  string
	Brand     string
	MinPrice  decimal.Decimal
	MaxPrice  decimal.Decimal
	MinRating float64
}

func (f Filter) match(p model.Product) bool {
	if f.Category != "" && !strings.EqualFold(p.Category, f.Category) {
		return false
	}
	if f.Brand != "" && !strings.EqualFold(p.Brand, f.Brand) {
		return false
	}
	if !f.MinPrice.IsZero() && p.Price.LessThan(f.MinPrice) {
		return false
	}
	if !f.MaxPrice.IsZero() && p.Price.GreaterThan(f.MaxPrice) {
		return false
	}
	return p.Rating >= f.MinRating
}

// Filter returns the products matching f in document order.
func (c *Catalog) Filter(f Filter) []model.Product {
	out := []model.Product{}
	for _, p := range c.products {
		if f.match(p) {
			out = append(out, p)
		}
	}
	return out
}

// Categories returns the distinct categories, sorted.
func (c *Catalog) Categories() []string {
	seen := map[string]bool{}
	var out []string
	for _, p := range c.products {
		if !seen[p.Category] {
			seen[p.Category] = true
			out = append(out, p.Category)
		}
	}
	sort.Strings(out)
	return out
}
