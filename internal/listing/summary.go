package listing

import (
	"strconv"
	"strings"
)

// priceUnit is the ten-thousand yuan suffix carried by total prices.
const priceUnit = "万"

// Summary aggregates price statistics over a set of records.
type Summary struct {
	Count        int     `json:"count"`
	PricedCount  int     `json:"priced_count"`
	MinPrice     float64 `json:"min_price"`
	MaxPrice     float64 `json:"max_price"`
	AveragePrice float64 `json:"average_price"`
}

// Summarize computes a Summary. Records whose total price is the sentinel or not numeric are ignored for prices.
func Summarize(records []Record) Summary {
	s := Summary{Count: len(records)}
	var total float64
	for _, r := range records {
		price, ok := ParseTotalPrice(r.TotalPrice)
		if !ok {
			continue
		}
		if s.PricedCount == 0 || price < s.MinPrice {
			s.MinPrice = price
		}
		if s.PricedCount == 0 || price > s.MaxPrice {
			s.MaxPrice = price
		}
		total += price
		s.PricedCount++
	}
	if s.PricedCount > 0 {
		s.AveragePrice = total / float64(s.PricedCount)
	}
	return s
}

// ParseTotalPrice converts a total price such as "380万" to 380.
func ParseTotalPrice(raw string) (float64, bool) {
	if raw == "" || raw == Unknown {
		return 0, false
	}
	trimmed := strings.TrimSpace(strings.ReplaceAll(raw, priceUnit, ""))
	v, err := strconv.ParseFloat(trimmed, 64)
	if err != nil {
		return 0, false
	}
	return v, true
}
