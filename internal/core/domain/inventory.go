package domain

import "sort"

// Availability maps a SKU code to its in-stock flag as reported by the
// inventory oracle. It is never persisted.
type Availability map[string]bool

// Confirm reports which of the requested SKUs are flagged unavailable and
// which are absent from the result. Both slices are empty only when every
// requested SKU is confirmed in stock.
func (a Availability) Confirm(skus []string) (unavailable, unconfirmed []string) {
	for _, sku := range skus {
		inStock, ok := a[sku]
		switch {
		case !ok:
			unconfirmed = append(unconfirmed, sku)
		case !inStock:
			unavailable = append(unavailable, sku)
		}
	}
	sort.Strings(unavailable)
	sort.Strings(unconfirmed)
	return unavailable, unconfirmed
}
