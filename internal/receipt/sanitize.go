package receipt

import (
	"math"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tbourn/splitbuddy/internal/calculator"
)

// RawItem is one line as returned by the OCR service. Amount is the quantity;
// it is optional and may be fractional or missing.
type RawItem struct {
	Item   string   `json:"item"`
	Amount *float64 `json:"amount,omitempty"`
	Price  float64  `json:"price"`
}

// CandidateItem is a cleaned line ready to be offered for table creation.
type CandidateItem struct {
	Name      string  `json:"name"`
	UnitPrice float64 `json:"unit_price"`
	Quantity  int     `json:"quantity"`
}

// Sanitize drops lines that cannot become table items (blank name, price not
// strictly positive, non-finite numbers, amounts past the calculator bounds),
// defaults the quantity to 1, and rounds prices to cents.
func Sanitize(raw []RawItem) []CandidateItem {
	out := make([]CandidateItem, 0, len(raw))
	for _, r := range raw {
		name := strings.Join(strings.Fields(r.Item), " ")
		if name == "" {
			continue
		}
		if math.IsNaN(r.Price) || math.IsInf(r.Price, 0) {
			continue
		}
		if r.Price > calculator.MaxAmount {
			continue
		}
		price, _ := decimal.NewFromFloat(r.Price).Round(2).Float64()
		if price <= 0 {
			continue
		}
		qty := 1
		if r.Amount != nil && !math.IsNaN(*r.Amount) && !math.IsInf(*r.Amount, 0) && *r.Amount >= 1 {
			if *r.Amount > calculator.MaxQuantity {
				continue
			}
			qty = int(math.Round(*r.Amount))
		}
		if !calculator.LineInRange(price, qty) {
			continue
		}
		out = append(out, CandidateItem{Name: name, UnitPrice: price, Quantity: qty})
	}
	return out
}
