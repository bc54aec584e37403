package extract

// Source tags which strategy produced a raw record, so the normalizer
// can apply per-source repair rules instead of duck typing.
type Source string

const (
	SourceStructuredData Source = "structured_data"
	SourceEmbeddedState  Source = "embedded_state"
	SourceGridLinks      Source = "grid_links"
)

// RawProduct is one strategy's loosely-shaped output before
// normalization. Price stays text here; parsing happens once,
// in ParsePrice, wherever the value is consumed.
type RawProduct struct {
	Source      Source
	Name        string
	PriceText   string
	Currency    string
	Brand       string
	SKU         string
	URL         string
	ImageURL    string
	Description string
}
