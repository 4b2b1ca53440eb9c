// Package pricing picks the winning offer among distributor search results.
package pricing

import (
	"math"

	"github.com/sells-group/pharma-cart/internal/model"
)

// Select returns the offer with the strictly lowest finite price. On an
// exact tie the lower Priority wins, then the earlier offer. Offers priced
// at +Inf or NaN are never selected. ok is false when nothing is selectable.
func Select(offers []model.Offer) (best model.Offer, ok bool) {
	for _, o := range offers {
		if math.IsInf(o.Price, 0) || math.IsNaN(o.Price) {
			continue
		}
		if !ok || o.Price < best.Price || (o.Price == best.Price && o.Priority < best.Priority) {
			best, ok = o, true
		}
	}
	return best, ok
}
