package kraken

// AssetPair holds one tradable pair listing
type AssetPair struct {
	Altname string `json:"altname"`
	WSName  string `json:"wsname"`
	Base    string `json:"base"`
	Quote   string `json:"quote"`
}

// Asset holds one listed currency
type Asset struct {
	Aclass  string `json:"aclass"`
	Altname string `json:"altname"`
}

// TickerData is the raw public ticker payload for one pair. Kraken encodes
// numbers as strings and folds today/last-24h stats into arrays.
type TickerData struct {
	Ask    []string `json:"a"`
	Bid    []string `json:"b"`
	Last   []string `json:"c"`
	Volume []string `json:"v"`
	Low    []string `json:"l"`
	High   []string `json:"h"`
	Open   string   `json:"o"`
}
