package enums

// PriceSource records where a line's unit price came from.
type PriceSource string

const (
	PriceSourceCatalog          PriceSource = "catalog"
	PriceSourceCartCache        PriceSource = "cart_cache"
	PriceSourcePriorityFallback PriceSource = "priority_fallback"
	PriceSourceNone             PriceSource = "none"
)

// Exact reports whether the price was quoted natively in the requested currency.
func (p PriceSource) Exact() bool {
	return p == PriceSourceCatalog
}
