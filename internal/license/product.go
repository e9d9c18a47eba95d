package license

import (
	"fmt"
	"sort"
	"strings"
)

// ProductCodeLength is the fixed width of a product code embedded in keys.
const ProductCodeLength = 4

type Product struct {
	Code   string `json:"code"`
	Name   string `json:"name"`
	Secret string `json:"-"`
}

// Registry maps product codes to products. It is built once at startup and
// never mutated afterwards, so it is safe to share between goroutines.
type Registry struct {
	products map[string]Product
	codes    []string
}

func NewRegistry(products ...Product) (*Registry, error) {
	r := &Registry{products: make(map[string]Product, len(products))}
	for _, p := range products {
		code := strings.ToUpper(strings.TrimSpace(p.Code))
		if len(code) != ProductCodeLength || !inAlphabet(code) {
			return nil, fmt.Errorf("invalid product code %q: must be %d characters from %s", p.Code, ProductCodeLength, Alphabet)
		}
		if p.Secret == "" {
			return nil, fmt.Errorf("product %s has an empty secret", code)
		}
		if _, dup := r.products[code]; dup {
			return nil, fmt.Errorf("duplicate product code %s", code)
		}
		if p.Name == "" {
			p.Name = code
		}
		p.Code = code
		r.products[code] = p
		r.codes = append(r.codes, code)
	}
	if len(r.products) == 0 {
		return nil, fmt.Errorf("product registry is empty")
	}
	sort.Strings(r.codes)
	return r, nil
}

func (r *Registry) Lookup(code string) (Product, bool) {
	p, ok := r.products[code]
	return p, ok
}

// Codes returns the registered product codes in sorted order.
func (r *Registry) Codes() []string {
	out := make([]string, len(r.codes))
	copy(out, r.codes)
	return out
}

func (r *Registry) Products() []Product {
	out := make([]Product, 0, len(r.codes))
	for _, code := range r.codes {
		out = append(out, r.products[code])
	}
	return out
}
