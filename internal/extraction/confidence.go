package extraction

import (
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// Weights are the points each recovered field contributes to the extraction
// confidence. They are a tunable heuristic, not a probability model.
type Weights struct {
	Amount   float64 `json:"amount"`
	Merchant float64 `json:"merchant"`
	Date     float64 `json:"date"`
	Phone    float64 `json:"phone"`
	Items    float64 `json:"items"`
}

// DefaultWeights favors the total amount, then merchant and date.
var DefaultWeights = Weights{
	Amount:   40,
	Merchant: 25,
	Date:     20,
	Phone:    10,
	Items:    5,
}

// ParseWeights reads comma separated field=points pairs, for example
// "amount=50,phone=0". Fields not named keep their DefaultWeights value.
func ParseWeights(s string) (Weights, error) {
	w := DefaultWeights
	for _, pair := range strings.Split(s, ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		name, value, ok := strings.Cut(pair, "=")
		if !ok {
			return Weights{}, fmt.Errorf("weight %q: want field=points", pair)
		}
		points, err := strconv.ParseFloat(strings.TrimSpace(value), 64)
		if err != nil {
			return Weights{}, fmt.Errorf("weight %q: %w", pair, err)
		}
		if points < 0 {
			return Weights{}, fmt.Errorf("weight %q: must not be negative", pair)
		}
		switch strings.ToLower(strings.TrimSpace(name)) {
		case "amount":
			w.Amount = points
		case "merchant":
			w.Merchant = points
		case "date":
			w.Date = points
		case "phone":
			w.Phone = points
		case "items":
			w.Items = points
		default:
			return Weights{}, fmt.Errorf("weight %q: unknown field", pair)
		}
	}
	if w.sum() == 0 {
		return Weights{}, fmt.Errorf("weights must not all be zero")
	}
	return w, nil
}

func (w Weights) sum() float64 {
	return w.Amount + w.Merchant + w.Date + w.Phone + w.Items
}

// Scorer turns extracted entities into a confidence in [0,1].
type Scorer struct {
	weights Weights
}

// NewScorer creates a Scorer. Negative weights are treated as zero.
func NewScorer(w Weights) *Scorer {
	clamp := func(v float64) float64 {
		if v < 0 {
			return 0
		}
		return v
	}
	return &Scorer{weights: Weights{
		Amount:   clamp(w.Amount),
		Merchant: clamp(w.Merchant),
		Date:     clamp(w.Date),
		Phone:    clamp(w.Phone),
		Items:    clamp(w.Items),
	}}
}

// Score sums the weights of the fields present in e and normalizes by the
// total weight. A field only counts when it was actually extracted, so the
// fallback date and the "Unknown" merchant score nothing.
func (s *Scorer) Score(e Entities) float64 {
	total := s.weights.sum()
	if total == 0 {
		return 0
	}

	var points float64
	if e.TotalAmount > 0 {
		points += s.weights.Amount
	}
	if e.MerchantName != "" && e.MerchantName != UnknownMerchant && utf8.RuneCountInString(e.MerchantName) > 3 {
		points += s.weights.Merchant
	}
	if e.DateFound {
		points += s.weights.Date
	}
	if e.Phone != "" {
		points += s.weights.Phone
	}
	if len(e.Items) > 0 {
		points += s.weights.Items
	}

	score := points / total
	if score > 1 {
		return 1
	}
	return score
}
