package discovery

import (
	"strings"

	"github.com/Sternrassler/mandi-prices/pkg/market"
)

// MatchRecord returns the first record whose product name contains, or is
// contained in, the query name or category, ignoring case.
//
// Substring matching can pair unrelated products that share a fragment
// ("pea" and "peanut"). Records are not ranked.
func MatchRecord(records []market.RawPriceRecord, q market.ProductQuery) (market.RawPriceRecord, bool) {
	name := strings.ToLower(strings.TrimSpace(q.Name))
	category := strings.ToLower(strings.TrimSpace(q.Category))

	for _, r := range records {
		product := strings.ToLower(strings.TrimSpace(r.Product))
		if product == "" {
			continue
		}
		if contains(product, name) || contains(product, category) {
			return r, true
		}
	}
	return market.RawPriceRecord{}, false
}

func contains(a, b string) bool {
	if b == "" {
		return false
	}
	return strings.Contains(a, b) || strings.Contains(b, a)
}
