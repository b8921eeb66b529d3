package registry

import (
	"context"
	"fmt"
	"sync"

	"autosell/logger"
	"autosell/models"

	"github.com/shopspring/decimal"
)

// PairLister is the slice of the exchange client the registry needs.
type PairLister interface {
	ListPairs(ctx context.Context) (map[string]models.Pair, error)
}

// Fallback minimum order sizes for common tickers, used when the
// catalog entry carries no ordermin.
var fallbackMinimums = map[string]decimal.Decimal{
	"BTC":  decimal.RequireFromString("0.0001"),
	"ETH":  decimal.RequireFromString("0.002"),
	"SOL":  decimal.RequireFromString("0.02"),
	"DOGE": decimal.RequireFromString("20"),
	"XRP":  decimal.RequireFromString("2"),
	"LTC":  decimal.RequireFromString("0.05"),
	"ADA":  decimal.RequireFromString("5"),
	"DOT":  decimal.RequireFromString("0.5"),
}

// genericMinimum is the last resort of the minimum-order cascade.
var genericMinimum = decimal.RequireFromString("0.0001")

// Registry answers pair and minimum-order questions for one target
// fiat currency. Immutable after Load except through Refresh.
type Registry struct {
	client     PairLister
	targetFiat string // standard form

	mu        sync.RWMutex
	pairs     map[string]models.Pair // keyed by symbol
	byAltname map[string]string      // altname -> symbol
	log       *logger.Log
}

// New creates an empty registry for the given target fiat (standard
// ticker, e.g. "USD"). Call Load before first use.
func New(client PairLister, targetFiat string) *Registry {
	return &Registry{
		client:     client,
		targetFiat: Standardize(targetFiat),
		log:        logger.GetLogger(),
	}
}

// TargetFiat returns the configured quote currency in standard form.
func (r *Registry) TargetFiat() string { return r.targetFiat }

// Standardize maps a native exchange code to its standard ticker.
func (r *Registry) Standardize(code string) string { return Standardize(code) }

// Load fetches the pair catalog once. Fatal to the caller on failure:
// without a catalog no market can be resolved.
func (r *Registry) Load(ctx context.Context) error {
	return r.Refresh(ctx)
}

// Refresh re-fetches the catalog. Not required for correctness; the
// catalog changes rarely.
func (r *Registry) Refresh(ctx context.Context) error {
	pairs, err := r.client.ListPairs(ctx)
	if err != nil {
		return fmt.Errorf("load pair catalog: %w", err)
	}

	byAltname := make(map[string]string, len(pairs))
	for symbol, p := range pairs {
		if p.Altname != "" {
			byAltname[p.Altname] = symbol
		}
	}

	r.mu.Lock()
	r.pairs = pairs
	r.byAltname = byAltname
	r.mu.Unlock()

	r.log.WithComponent("registry").WithFields(logger.Fields{
		"pairs":       len(pairs),
		"target_fiat": r.targetFiat,
	}).Info("pair catalog loaded")
	return nil
}

// PairFor resolves the market selling the given asset (standard form)
// into the target fiat. The same economic market can be listed under
// several symbol conventions, so an ordered set of candidate
// concatenations is tried; the first catalog hit wins.
func (r *Registry) PairFor(standardAsset string) (models.Pair, bool) {
	std := Standardize(standardAsset)
	if std == r.targetFiat {
		return models.Pair{}, false
	}

	r.mu.RLock()
	defer r.mu.RUnlock()

	nativeBase := Nativize(std)
	nativeQuote := Nativize(r.targetFiat)

	candidates := []string{
		nativeBase + nativeQuote,
		std + r.targetFiat,
		shortNative(nativeBase) + r.targetFiat,
		std + nativeQuote,
	}
	for _, symbol := range candidates {
		if p, ok := r.pairs[symbol]; ok {
			return p, true
		}
		if s, ok := r.byAltname[symbol]; ok {
			return r.pairs[s], true
		}
	}

	// Slow path: scan by base/quote identity.
	for _, p := range r.pairs {
		if p.Base == nativeBase && p.Quote == nativeQuote {
			return p, true
		}
	}
	return models.Pair{}, false
}

// MinimumOrderSize returns the smallest sellable volume for the asset,
// falling back from the catalog to a per-asset table to a generic
// floor.
func (r *Registry) MinimumOrderSize(standardAsset string) decimal.Decimal {
	if p, ok := r.PairFor(standardAsset); ok && p.OrderMin.IsPositive() {
		return p.OrderMin
	}
	if min, ok := fallbackMinimums[Standardize(standardAsset)]; ok {
		return min
	}
	return genericMinimum
}

// shortNative strips the single-letter class prefix from four-letter
// native codes (XXBT -> XBT) for the legacy altname convention.
func shortNative(native string) string {
	if len(native) == 4 && (native[0] == 'X' || native[0] == 'Z') {
		return native[1:]
	}
	return native
}
