package pyth

// latestPriceResponse is the envelope returned by the Hermes
// /v2/updates/price/latest endpoint.
type latestPriceResponse struct {
	Parsed []PriceUpdate `json:"parsed"`
}

// PriceUpdate is one parsed feed entry from Hermes. Entries are matched to
// requests by feed id; Hermes does not guarantee response order.
type PriceUpdate struct {
	ID       string    `json:"id"`
	Price    PriceData `json:"price"`
	EMAPrice PriceData `json:"ema_price"`
}

// PriceData is a fixed-point price: value = Price * 10^Expo.
type PriceData struct {
	Price       string `json:"price"`
	Conf        string `json:"conf"`
	Expo        int32  `json:"expo"`
	PublishTime int64  `json:"publish_time"`
}
