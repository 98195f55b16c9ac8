package catalog

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
)

// MaxItemsPerOrder caps the total quantity of a single checkout.
const MaxItemsPerOrder = 4

type Entry struct {
	ID       string  `json:"id"`
	Name     string  `json:"name"`
	Color    string  `json:"color"`
	Price    float64 `json:"price"`
	WeightKg float64 `json:"weightKg"`
}

type Catalog struct {
	entries map[string]Entry
}

func New(entries ...Entry) *Catalog {
	c := &Catalog{entries: make(map[string]Entry, len(entries))}
	for _, e := range entries {
		c.entries[e.ID] = e
	}
	return c
}

// Default is the plush catalog sold on the storefront.
func Default() *Catalog {
	return New(
		Entry{ID: "101", Name: "Sweetyx Orange", Color: "orange", Price: 34.99, WeightKg: 0.18},
		Entry{ID: "102", Name: "Sweetyx Bleu", Color: "bleu", Price: 34.99, WeightKg: 0.18},
		Entry{ID: "103", Name: "Sweetyx Rose", Color: "rose", Price: 34.99, WeightKg: 0.18},
		Entry{ID: "104", Name: "Sweetyx Marron", Color: "marron", Price: 34.99, WeightKg: 0.18},
	)
}

func (c *Catalog) Lookup(id string) (Entry, bool) {
	e, ok := c.entries[id]
	return e, ok
}

// All returns the entries sorted by id.
func (c *Catalog) All() []Entry {
	out := make([]Entry, 0, len(c.entries))
	for _, e := range c.entries {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// ProductID accepts both `101` and `"101"` on the wire.
type ProductID string

func (p *ProductID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) > 0 && b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*p = ProductID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("product id must be a string or a number: %w", err)
	}
	if _, err := strconv.ParseInt(n.String(), 10, 64); err != nil {
		return fmt.Errorf("product id must be an integer: %w", err)
	}
	*p = ProductID(n.String())
	return nil
}

// CartLine is the minimal cart descriptor carried in session metadata.
type CartLine struct {
	ID       ProductID `json:"id" validate:"required"`
	Quantity int       `json:"quantity"`
}
