package engine

import (
	"context"
	"fmt"
	"sync"
	"time"

	"autosell/kraken"
	"autosell/logger"
	"autosell/models"

	"github.com/shopspring/decimal"
)

const (
	submitMaxAttempts = 3
	submitBackoffBase = 2 * time.Second
	settleDelay       = 3 * time.Second
	residualDelay     = 2 * time.Second
	orderRetention    = 30 * time.Minute
)

// Exchange is the slice of the REST client the engine needs.
type Exchange interface {
	Balance(ctx context.Context) (map[string]decimal.Decimal, error)
	SubmitMarketSell(ctx context.Context, pair string, volume decimal.Decimal) (string, error)
	QueryOrder(ctx context.Context, txid string) (*models.Order, error)
}

// Catalog answers market-resolution questions.
type Catalog interface {
	TargetFiat() string
	PairFor(standardAsset string) (models.Pair, bool)
	MinimumOrderSize(standardAsset string) decimal.Decimal
	Standardize(code string) string
}

// Engine classifies balance movements and turns sellable ones into
// market orders. All mutable state lives behind one mutex; the status
// surface reads through the accessor methods only.
type Engine struct {
	exchange Exchange
	catalog  Catalog
	log      *logger.Log

	settle        time.Duration
	residualPause time.Duration
	retryBackoff  time.Duration

	wg sync.WaitGroup

	mu          sync.RWMutex
	reported    map[string]decimal.Decimal // latest balance per standard asset
	lastActed   map[string]decimal.Decimal // balance at the last dispatch per asset
	inFlight    map[string]bool
	ambiguous   map[string]ambiguousSubmission
	orders      map[string]*models.Order
	initialDone bool
}

// ambiguousSubmission records a sell whose outcome is unknown. The next
// snapshot settles it.
type ambiguousSubmission struct {
	Volume      decimal.Decimal
	BalanceAt   decimal.Decimal
	SubmittedAt time.Time
}

// New builds an engine over the given exchange and catalog.
func New(exchange Exchange, catalog Catalog) *Engine {
	return &Engine{
		exchange:      exchange,
		catalog:       catalog,
		log:           logger.GetLogger(),
		settle:        settleDelay,
		residualPause: residualDelay,
		retryBackoff:  submitBackoffBase,
		reported:      make(map[string]decimal.Decimal),
		lastActed:     make(map[string]decimal.Decimal),
		inFlight:      make(map[string]bool),
		ambiguous:     make(map[string]ambiguousSubmission),
		orders:        make(map[string]*models.Order),
	}
}

// ColdPass fetches the full balance once and runs every non-zero,
// non-fiat asset through the gates. It blocks until all cold-pass
// sells have finalized so the feed snapshot arriving later cannot
// duplicate work.
func (e *Engine) ColdPass(ctx context.Context) error {
	log := e.log.WithComponent("engine")

	balances, err := e.exchange.Balance(ctx)
	if err != nil {
		return fmt.Errorf("cold pass balance fetch: %w", err)
	}

	var coldWG sync.WaitGroup
	assets := 0
	for native, amount := range balances {
		std := e.catalog.Standardize(native)

		e.mu.Lock()
		e.reported[std] = amount
		e.mu.Unlock()

		if !amount.IsPositive() {
			continue
		}
		assets++
		if !e.claim(std) {
			continue
		}
		coldWG.Add(1)
		go func(asset string, amount decimal.Decimal) {
			defer coldWG.Done()
			e.sellCycle(ctx, asset, amount)
		}(std, amount)
	}
	coldWG.Wait()

	e.mu.Lock()
	e.initialDone = true
	e.mu.Unlock()

	log.WithFields(logger.Fields{"assets": assets}).Info("cold pass complete")
	return nil
}

// Start launches the feed consumer loop.
func (e *Engine) Start(ctx context.Context, in <-chan models.FeedMessage) {
	e.wg.Add(1)
	go func() {
		defer e.wg.Done()
		e.consume(ctx, in)
	}()
	e.log.WithComponent("engine").Info("engine started")
}

// Stop waits for the consumer and any in-flight sell cycles to finish.
// Cancel the Start context first; in-flight submissions are allowed to
// settle rather than being aborted mid-flight.
func (e *Engine) Stop() {
	e.log.WithComponent("engine").Info("stopping engine")
	e.wg.Wait()
	e.log.WithComponent("engine").Info("engine stopped")
}

func (e *Engine) consume(ctx context.Context, in <-chan models.FeedMessage) {
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-in:
			if !ok {
				return
			}
			switch msg.Kind {
			case models.FeedSnapshot:
				e.handleSnapshot(ctx, msg.Snapshot)
			case models.FeedUpdate:
				e.handleUpdate(ctx, msg.Changes)
			}
		}
	}
}

// handleSnapshot treats the snapshot as ground truth. Ambiguous
// submissions are settled here; any balance that differs from the
// last-acted amount is treated like a fresh deposit.
func (e *Engine) handleSnapshot(ctx context.Context, entries []models.AssetBalance) {
	log := e.log.WithComponent("engine")

	for _, entry := range entries {
		std := e.catalog.Standardize(entry.Asset)

		e.mu.Lock()
		e.reported[std] = entry.Balance
		amb, pending := e.ambiguous[std]
		if pending {
			delete(e.ambiguous, std)
		}
		last, acted := e.lastActed[std]
		e.mu.Unlock()

		if pending {
			if resolved := e.reconcileAmbiguous(std, amb, entry.Balance); resolved {
				continue
			}
			// The sell never happened; the asset competes again.
			acted = false
		}

		if !entry.Balance.IsPositive() {
			continue
		}
		if acted && entry.Balance.Equal(last) {
			continue
		}
		if e.claim(std) {
			e.wg.Add(1)
			go func(asset string, amount decimal.Decimal) {
				defer e.wg.Done()
				e.sellCycle(ctx, asset, amount)
			}(std, entry.Balance)
		} else {
			log.WithFields(logger.Fields{"asset": std}).Debug("snapshot delta while sell in flight, deferred")
		}
	}
}

// reconcileAmbiguous decides whether a sell with an unknown outcome
// actually executed. A balance drop of at least the submitted volume
// counts as success. Either way the asset's in-flight slot, held since
// the parked submission, is freed here.
func (e *Engine) reconcileAmbiguous(asset string, amb ambiguousSubmission, balance decimal.Decimal) bool {
	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"asset":  asset,
		"volume": amb.Volume.String(),
	})

	drop := amb.BalanceAt.Sub(balance)
	if drop.GreaterThanOrEqual(amb.Volume) {
		e.mu.Lock()
		e.lastActed[asset] = balance
		delete(e.inFlight, asset)
		e.mu.Unlock()
		log.Info("ambiguous submission reconciled as executed")
		return true
	}
	e.mu.Lock()
	delete(e.lastActed, asset)
	delete(e.inFlight, asset)
	e.mu.Unlock()
	log.Warn("ambiguous submission reconciled as not executed, asset re-eligible")
	return false
}

func (e *Engine) handleUpdate(ctx context.Context, changes []models.BalanceChange) {
	log := e.log.WithComponent("engine")

	for _, ch := range changes {
		std := e.catalog.Standardize(ch.Asset)

		e.mu.Lock()
		e.reported[std] = ch.Balance
		if ch.Balance.IsZero() {
			// The asset is gone; nothing left to act on or reconcile.
			// A parked slot has no running cycle, so it is freed here;
			// a live cycle keeps its own slot.
			e.lastActed[std] = decimal.Zero
			if _, pending := e.ambiguous[std]; pending {
				delete(e.ambiguous, std)
				delete(e.inFlight, std)
			}
		}
		e.mu.Unlock()

		if ch.Balance.IsZero() {
			continue
		}

		switch ch.Type {
		case models.EntryDeposit:
			if !ch.Amount.IsPositive() {
				continue
			}
			log.WithFields(logger.Fields{
				"asset":  std,
				"amount": ch.Amount.String(),
				"ledger": ch.LedgerID,
			}).Info("deposit detected")
			if e.claim(std) {
				e.wg.Add(1)
				go func(asset string, amount decimal.Decimal) {
					defer e.wg.Done()
					e.sellCycle(ctx, asset, amount)
				}(std, ch.Balance)
			}

		case models.EntryTrade:
			// Own sell echoing back; bookkeeping only.
			log.WithFields(logger.Fields{
				"asset":   std,
				"balance": ch.Balance.String(),
			}).Debug("trade echo")

		case models.EntryWithdrawal, models.EntryAdjustment, models.EntryTransfer:
			log.WithFields(logger.Fields{
				"asset": std,
				"type":  string(ch.Type),
			}).Debug("non-deposit ledger entry")
		}
	}
}

// claim takes the per-asset in-flight slot. False means the slot is
// held, by a running sell cycle or by a parked ambiguous submission;
// the caller drops the dispatch. A finished cycle does not re-examine
// the asset: funds that arrived meanwhile are acted on only by a later
// deposit update or by a snapshot whose balance differs from the
// last-acted amount.
func (e *Engine) claim(asset string) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.inFlight[asset] {
		return false
	}
	e.inFlight[asset] = true
	return true
}

func (e *Engine) release(asset string) {
	e.mu.Lock()
	delete(e.inFlight, asset)
	e.mu.Unlock()
}

// sellCycle runs one full dispatch for an asset: gates, submission,
// poll, residual follow-up. The caller must hold the asset's in-flight
// slot; the cycle releases it on exit, unless the submission outcome is
// ambiguous. A parked asset keeps its slot until snapshot
// reconciliation frees it, so no second cycle can start while an
// order's fate is unknown.
func (e *Engine) sellCycle(ctx context.Context, asset string, requested decimal.Decimal) {
	parked := false
	defer func() {
		if !parked {
			e.release(asset)
		}
	}()

	for {
		volume, pair, ok := e.gate(ctx, asset, requested)
		if !ok {
			return
		}

		e.mu.Lock()
		e.lastActed[asset] = e.reported[asset]
		e.mu.Unlock()

		txid, err := e.submit(ctx, asset, pair, volume)
		if err != nil {
			parked = kraken.IsAmbiguous(err)
			return
		}

		residual, again := e.poll(ctx, asset, txid, volume)
		if !again {
			return
		}

		select {
		case <-ctx.Done():
			return
		case <-time.After(e.residualPause):
		}
		requested = residual
	}
}

// gate runs the ordered dispatch checks. Returns the volume to sell
// (lesser of requested and verified live balance) and the resolved
// pair, or ok=false with the reason logged.
func (e *Engine) gate(ctx context.Context, asset string, requested decimal.Decimal) (decimal.Decimal, models.Pair, bool) {
	log := e.log.WithComponent("engine").WithFields(logger.Fields{"asset": asset})

	if asset == e.catalog.TargetFiat() {
		log.WithFields(logger.Fields{"reason": "target_currency"}).Debug("dispatch rejected")
		return decimal.Zero, models.Pair{}, false
	}

	pair, ok := e.catalog.PairFor(asset)
	if !ok {
		log.WithFields(logger.Fields{"reason": "no_market"}).Warn("dispatch rejected")
		return decimal.Zero, models.Pair{}, false
	}

	min := e.catalog.MinimumOrderSize(asset)
	if requested.LessThan(min) {
		log.WithFields(logger.Fields{
			"reason":    "below_minimum_order",
			"requested": requested.String(),
			"minimum":   min.String(),
		}).Info("dispatch rejected")
		return decimal.Zero, models.Pair{}, false
	}

	live, err := e.verifiedBalance(ctx, asset)
	if err != nil {
		log.WithError(err).Warn("balance verification failed, dispatch dropped")
		return decimal.Zero, models.Pair{}, false
	}
	if live.LessThan(min) {
		log.WithFields(logger.Fields{
			"reason":    "insufficient_available_balance",
			"requested": requested.String(),
			"available": live.String(),
		}).Warn("dispatch rejected")
		return decimal.Zero, models.Pair{}, false
	}

	volume := requested
	if live.LessThan(volume) {
		volume = live
	}
	return volume, pair, true
}

// verifiedBalance re-fetches the live balance for one asset so a stale
// feed figure can never oversell.
func (e *Engine) verifiedBalance(ctx context.Context, asset string) (decimal.Decimal, error) {
	balances, err := e.exchange.Balance(ctx)
	if err != nil {
		return decimal.Zero, err
	}
	for native, amount := range balances {
		if e.catalog.Standardize(native) == asset {
			e.mu.Lock()
			e.reported[asset] = amount
			e.mu.Unlock()
			return amount, nil
		}
	}
	return decimal.Zero, nil
}

// submit places the market sell with bounded retries. Ambiguous
// outcomes are never retried; they park the asset for snapshot
// reconciliation.
func (e *Engine) submit(ctx context.Context, asset string, pair models.Pair, volume decimal.Decimal) (string, error) {
	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"asset":  asset,
		"pair":   pair.Symbol,
		"volume": volume.String(),
	})

	var lastErr error
	for attempt := 1; attempt <= submitMaxAttempts; attempt++ {
		txid, err := e.exchange.SubmitMarketSell(ctx, pair.Symbol, volume)
		if err == nil {
			now := time.Now()
			e.mu.Lock()
			e.orders[txid] = &models.Order{
				TxID:            txid,
				Asset:           asset,
				Pair:            pair.Symbol,
				RequestedVolume: volume,
				State:           models.OrderPending,
				SubmittedAt:     now,
			}
			e.pruneOrdersLocked(now)
			e.mu.Unlock()
			log.WithFields(logger.Fields{"txid": txid}).Info("market sell submitted")
			return txid, nil
		}

		if kraken.IsAmbiguous(err) {
			e.mu.Lock()
			e.ambiguous[asset] = ambiguousSubmission{
				Volume:      volume,
				BalanceAt:   e.reported[asset],
				SubmittedAt: time.Now(),
			}
			e.mu.Unlock()
			log.WithError(err).Error("submission outcome unknown, awaiting snapshot reconciliation")
			return "", err
		}

		lastErr = err
		if !kraken.Retryable(err) {
			log.WithError(err).Error("market sell rejected")
			return "", err
		}

		delay := time.Duration(attempt) * e.retryBackoff
		log.WithError(err).WithFields(logger.Fields{
			"attempt": attempt,
			"delay":   delay.String(),
		}).Warn("market sell failed, retrying")
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(delay):
		}
	}

	log.WithError(lastErr).Error("market sell abandoned after retries")
	return "", lastErr
}

// poll queries the order once after the settle delay. Returns the
// residual volume and whether a follow-up attempt should run.
func (e *Engine) poll(ctx context.Context, asset, txid string, submitted decimal.Decimal) (decimal.Decimal, bool) {
	log := e.log.WithComponent("engine").WithFields(logger.Fields{
		"asset": asset,
		"txid":  txid,
	})

	select {
	case <-ctx.Done():
		return decimal.Zero, false
	case <-time.After(e.settle):
	}

	order, err := e.exchange.QueryOrder(ctx, txid)
	if err != nil {
		log.WithError(err).Warn("order status query failed, leaving order as recorded")
		return decimal.Zero, false
	}

	now := time.Now()
	e.mu.Lock()
	rec, tracked := e.orders[txid]
	if tracked {
		rec.State = order.State
		rec.FilledVolume = order.FilledVolume
		rec.Fills = order.Fills
		if order.State.Terminal() && rec.FinalizedAt == nil {
			rec.FinalizedAt = &now
		}
	}
	e.mu.Unlock()

	switch order.State {
	case models.OrderClosed:
		if order.FilledVolume.LessThan(submitted) {
			residual := submitted.Sub(order.FilledVolume)
			log.WithFields(logger.Fields{
				"filled":   order.FilledVolume.String(),
				"residual": residual.String(),
			}).Info("partial fill, scheduling residual")
			return residual, true
		}
		log.WithFields(logger.Fields{"filled": order.FilledVolume.String()}).Info("order filled")
	case models.OrderCanceled, models.OrderFailed:
		log.WithFields(logger.Fields{"state": string(order.State)}).Warn("order finished without fill")
	default:
		// Still open. The balance going to zero on a later update
		// closes the logical cycle.
		log.WithFields(logger.Fields{"state": string(order.State)}).Info("order still working")
	}
	return decimal.Zero, false
}

// pruneOrdersLocked drops finalized orders past the retention window.
// Caller holds e.mu.
func (e *Engine) pruneOrdersLocked(now time.Time) {
	for txid, o := range e.orders {
		if o.FinalizedAt != nil && now.Sub(*o.FinalizedAt) > orderRetention {
			delete(e.orders, txid)
		}
	}
}

// InitialPassComplete reports whether the cold pass has finished.
func (e *Engine) InitialPassComplete() bool {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.initialDone
}

// Balances returns a copy of the latest reported balances.
func (e *Engine) Balances() map[string]decimal.Decimal {
	e.mu.RLock()
	defer e.mu.RUnlock()
	out := make(map[string]decimal.Decimal, len(e.reported))
	for k, v := range e.reported {
		out[k] = v
	}
	return out
}

// BalanceOf returns the reported balance for one standard asset.
func (e *Engine) BalanceOf(asset string) (decimal.Decimal, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	v, ok := e.reported[asset]
	return v, ok
}

// TrackedOrder returns the engine's record of an order, if retained.
func (e *Engine) TrackedOrder(txid string) (models.Order, bool) {
	e.mu.RLock()
	defer e.mu.RUnlock()
	o, ok := e.orders[txid]
	if !ok {
		return models.Order{}, false
	}
	return *o, true
}
