package models

// ValuationStatus classifies a tile's net cost.
type ValuationStatus string

const (
	StatusWaiting ValuationStatus = "WAITING"
	StatusDebit   ValuationStatus = "DEBIT"
	StatusCredit  ValuationStatus = "CREDIT"
)

// LegQuote is one leg as resolved during valuation.
type LegQuote struct {
	Label    string     `json:"label"`
	Key      string     `json:"key"` // empty when the identifier could not be formed
	Strike   float64    `json:"strike"`
	Type     OptionType `json:"type"`
	Quantity int        `json:"quantity"`
	Price    float64    `json:"price"`
}

// ValuationResult is recomputed every cycle and never persisted by the core.
// Magnitude is zero and meaningless when Status is WAITING.
type ValuationResult struct {
	TileID     int             `json:"tile_id"`
	Underlying string          `json:"underlying"`
	Expiry     string          `json:"expiry"`
	Strategy   StrategyKind    `json:"strategy"`
	Status     ValuationStatus `json:"status"`
	Magnitude  float64         `json:"magnitude"`
	Legs       []LegQuote      `json:"legs"`
}

// NetCost returns the signed net cost: positive for debit, negative or zero for credit.
func (r ValuationResult) NetCost() float64 {
	if r.Status == StatusDebit {
		return r.Magnitude
	}
	return -r.Magnitude
}
