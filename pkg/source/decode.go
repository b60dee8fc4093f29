package source

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Sternrassler/mandi-prices/pkg/market"
	"github.com/shopspring/decimal"
)

// wireRecord is the provider's current-price record. Field aliases cover the
// shapes seen from different provider deployments.
type wireRecord struct {
	Product   string          `json:"product"`
	Commodity string          `json:"commodity"`
	Location  string          `json:"location"`
	Market    string          `json:"market"`
	Price     json.RawMessage `json:"price"`
	Modal     json.RawMessage `json:"modal_price"`
	Date      string          `json:"date"`
	Source    string          `json:"source"`
	Verified  json.RawMessage `json:"verified"`
}

type wirePoint struct {
	Date     string          `json:"date"`
	Price    json.RawMessage `json:"price"`
	Volume   json.RawMessage `json:"volume"`
	Location string          `json:"location"`
}

// unwrapCollection returns the JSON array in body. The array may be the body
// itself or wrapped under a "records" or "data" field.
func unwrapCollection(body []byte) (json.RawMessage, error) {
	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 {
		return nil, fmt.Errorf("%w: empty body", ErrInvalidResponse)
	}

	if trimmed[0] == '[' {
		return trimmed, nil
	}

	var envelope struct {
		Records json.RawMessage `json:"records"`
		Data    json.RawMessage `json:"data"`
	}
	if err := json.Unmarshal(trimmed, &envelope); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}

	for _, candidate := range []json.RawMessage{envelope.Records, envelope.Data} {
		candidate = bytes.TrimSpace(candidate)
		if len(candidate) > 0 && candidate[0] == '[' {
			return candidate, nil
		}
	}

	return nil, fmt.Errorf("%w: no records or data array", ErrInvalidResponse)
}

// parseAmount accepts a JSON number or a numeric string.
func parseAmount(raw json.RawMessage) (float64, bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || string(raw) == "null" {
		return 0, false
	}

	text := string(raw)
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return 0, false
		}
		text = strings.ReplaceAll(strings.TrimSpace(unquoted), ",", "")
	}

	d, err := decimal.NewFromString(text)
	if err != nil {
		return 0, false
	}
	f, _ := d.Float64()
	return f, true
}

// parseFlag accepts a JSON bool, a 0/1 number, or their string forms.
// Anything else reads as false.
func parseFlag(raw json.RawMessage) bool {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return false
	}

	text := string(raw)
	if raw[0] == '"' {
		unquoted, err := strconv.Unquote(text)
		if err != nil {
			return false
		}
		text = strings.TrimSpace(unquoted)
	}

	switch strings.ToLower(text) {
	case "true", "1", "yes", "y":
		return true
	default:
		return false
	}
}

// splitCollection unwraps body and splits the array into its elements so a
// malformed element can be dropped without failing the rest.
func splitCollection(body []byte) ([]json.RawMessage, error) {
	collection, err := unwrapCollection(body)
	if err != nil {
		return nil, err
	}

	var elements []json.RawMessage
	if err := json.Unmarshal(collection, &elements); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	return elements, nil
}

// parseDate accepts RFC3339 timestamps and bare YYYY-MM-DD dates.
func parseDate(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, true
	}
	if t, err := time.Parse(market.DateLayout, s); err == nil {
		return t, true
	}
	return time.Time{}, false
}

// decodeRecords normalizes a current-price body. Records that fail to decode,
// or carry an unparseable or non-positive price or an unparseable date, are
// dropped.
func decodeRecords(body []byte, fallbackLocation string) ([]market.RawPriceRecord, int, error) {
	elements, err := splitCollection(body)
	if err != nil {
		return nil, 0, err
	}

	records := make([]market.RawPriceRecord, 0, len(elements))
	dropped := 0
	for _, element := range elements {
		var w wireRecord
		if err := json.Unmarshal(element, &w); err != nil {
			dropped++
			continue
		}

		product := firstNonEmpty(w.Product, w.Commodity)
		price, ok := parseAmount(w.Price)
		if !ok {
			price, ok = parseAmount(w.Modal)
		}
		date, dateOK := parseDate(w.Date)
		if product == "" || !ok || price <= 0 || !dateOK {
			dropped++
			continue
		}

		records = append(records, market.RawPriceRecord{
			Product:   product,
			Location:  firstNonEmpty(w.Location, w.Market, fallbackLocation),
			Price:     price,
			Date:      date,
			SourceTag: w.Source,
			Verified:  parseFlag(w.Verified),
		})
	}

	return records, dropped, nil
}

// decodePoints normalizes a historical body into a series ordered oldest to newest.
func decodePoints(body []byte, fallbackLocation string) ([]market.HistoricalPoint, int, error) {
	elements, err := splitCollection(body)
	if err != nil {
		return nil, 0, err
	}

	points := make([]market.HistoricalPoint, 0, len(elements))
	dropped := 0
	for _, element := range elements {
		var w wirePoint
		if err := json.Unmarshal(element, &w); err != nil {
			dropped++
			continue
		}

		price, ok := parseAmount(w.Price)
		date, dateOK := parseDate(w.Date)
		if !ok || price <= 0 || !dateOK {
			dropped++
			continue
		}
		volume, _ := parseAmount(w.Volume)

		points = append(points, market.HistoricalPoint{
			Date:     date,
			Price:    price,
			Volume:   volume,
			Location: firstNonEmpty(w.Location, fallbackLocation),
		})
	}

	sort.SliceStable(points, func(i, j int) bool {
		return points[i].Date.Before(points[j].Date)
	})

	return points, dropped, nil
}

// decodeCatalog accepts an array of strings, or of objects carrying a "name".
func decodeCatalog(body []byte) ([]string, error) {
	collection, err := unwrapCollection(body)
	if err != nil {
		return nil, err
	}

	var names []string
	if err := json.Unmarshal(collection, &names); err == nil {
		return cleanNames(names), nil
	}

	var objects []struct {
		Name string `json:"name"`
	}
	if err := json.Unmarshal(collection, &objects); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidResponse, err)
	}
	names = make([]string, 0, len(objects))
	for _, o := range objects {
		names = append(names, o.Name)
	}
	return cleanNames(names), nil
}

func cleanNames(names []string) []string {
	out := make([]string, 0, len(names))
	for _, n := range names {
		if n = strings.TrimSpace(n); n != "" {
			out = append(out, n)
		}
	}
	return out
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}
