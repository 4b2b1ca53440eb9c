package model

import (
	"encoding/json"
	"math"
)

// ProductRow is one deduplicated input row. NameVariations holds the search
// attempts in the order they should be tried.
type ProductRow struct {
	OriginalName   string
	NameVariations []string
	Quantity       int
}

// Offer is a priced search result from one distributor.
type Offer struct {
	Distributor string  `json:"distributor"`
	Priority    int     `json:"-"`
	Name        string  `json:"name"`
	Price       float64 `json:"price"`
}

// NotFound returns an offer that can never win a price comparison.
func NotFound(distributor string, priority int) Offer {
	return Offer{Distributor: distributor, Priority: priority, Price: math.Inf(1)}
}

// Found reports whether the offer carries a usable price.
func (o Offer) Found() bool {
	return !math.IsInf(o.Price, 0) && !math.IsNaN(o.Price)
}

type offerWire struct {
	Distributor string   `json:"distributor"`
	Name        string   `json:"name"`
	Price       *float64 `json:"price"`
}

// MarshalJSON encodes a not-found price as null since JSON has no infinity.
func (o Offer) MarshalJSON() ([]byte, error) {
	w := offerWire{Distributor: o.Distributor, Name: o.Name}
	if o.Found() {
		p := o.Price
		w.Price = &p
	}
	return json.Marshal(w)
}

// UnmarshalJSON is the inverse of MarshalJSON.
func (o *Offer) UnmarshalJSON(data []byte) error {
	var w offerWire
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	o.Distributor = w.Distributor
	o.Name = w.Name
	if w.Price == nil {
		o.Price = math.Inf(1)
	} else {
		o.Price = *w.Price
	}
	return nil
}

// Bought records a product placed in a distributor's cart.
type Bought struct {
	OriginalProductName   string  `json:"original_product_name"`
	Offers                []Offer `json:"all_pharmacy_product_infos"`
	BoughtFromDistributor string  `json:"bought_from_distributor"`
}

// Unbought records a product that could not be bought. Quantity is -1 when
// the input row had no usable quantity.
type Unbought struct {
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}

// Report is the final outcome of a task.
type Report struct {
	BoughtProducts   []Bought   `json:"bought_products"`
	UnboughtProducts []Unbought `json:"unbought_products"`
}

// Has reports whether the report already holds an outcome for name.
func (r *Report) Has(name string) bool {
	if r == nil {
		return false
	}
	for _, b := range r.BoughtProducts {
		if b.OriginalProductName == name {
			return true
		}
	}
	for _, u := range r.UnboughtProducts {
		if u.ProductName == name {
			return true
		}
	}
	return false
}
