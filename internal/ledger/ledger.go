// Package ledger implements the position/journal ledger: an append-only
// event journal paired with a current-state position table, from which
// subsidy balances are derived with high-watermark preservation under
// trimming.
package ledger

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/robjohncolson/decisioncore/pkg/money"
	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// PositionRecord is one row of the current-state position table.
type PositionRecord struct {
	PositionID int                    `json:"position_id"`
	SlotID     int                    `json:"slot_id"`
	TradeID    pairtypes.TradeID      `json:"trade_id"`
	SlotMode   pairtypes.SlotMode     `json:"slot_mode"`
	Cycle      int                    `json:"cycle"`

	EntryPrice      money.Amount `json:"entry_price"`
	EntryCost       money.Amount `json:"entry_cost"`
	EntryFee        money.Amount `json:"entry_fee"`
	EntryVolume     money.Amount `json:"entry_volume"`
	EntryTime       float64      `json:"entry_time"`
	EntryRegime     string       `json:"entry_regime"`
	EntryVolatility float64      `json:"entry_volatility"`

	CurrentExitPrice  money.Amount `json:"current_exit_price"`
	OriginalExitPrice money.Amount `json:"original_exit_price"`
	TargetProfitPct   float64      `json:"target_profit_pct"`
	ExitTxID          string       `json:"exit_txid"`

	ExitPrice  *money.Amount `json:"exit_price,omitempty"`
	ExitCost   *money.Amount `json:"exit_cost,omitempty"`
	ExitFee    *money.Amount `json:"exit_fee,omitempty"`
	ExitTime   *float64      `json:"exit_time,omitempty"`
	ExitRegime *string       `json:"exit_regime,omitempty"`
	NetProfit  *money.Amount `json:"net_profit,omitempty"`
	CloseReason *string      `json:"close_reason,omitempty"`

	Status       pairtypes.PositionStatus `json:"status"`
	TimesRepriced int                     `json:"times_repriced"`
}

// JournalRecord is one append-only journal row.
type JournalRecord struct {
	JournalID  int                    `json:"journal_id"`
	PositionID int                    `json:"position_id"`
	Timestamp  float64                `json:"timestamp"`
	EventType  string                 `json:"event_type"`
	Details    map[string]interface{} `json:"details"`
}

// EntryData is the immutable entry-side context passed to OpenPosition.
type EntryData struct {
	EntryPrice      float64
	EntryCost       float64
	EntryFee        float64
	EntryVolume     float64
	EntryTime       float64
	EntryRegime     string
	EntryVolatility float64
}

// ExitData is the initial mutable exit-intent context passed to OpenPosition.
type ExitData struct {
	CurrentExitPrice  float64
	OriginalExitPrice float64
	TargetProfitPct   float64
	ExitTxID          string
	TimesRepriced     int
}

// OutcomeData closes out a position via ClosePosition.
type OutcomeData struct {
	CloseReason string // "filled" | "cancelled" | "written_off" (default "filled")
	ExitPrice   float64
	ExitCost    float64
	ExitFee     float64
	ExitTime    float64
	ExitRegime  string
	NetProfit   float64
	Reason      string // used by cancelled/written_off journal rows
	AgeSeconds  float64
}

// ErrUnknownPosition and ErrDuplicatePosition are the ledger's two error
// conditions; everything else is coerced to a default, never raised.
type ErrUnknownPosition struct{ PositionID int }

func (e ErrUnknownPosition) Error() string { return fmt.Sprintf("unknown position_id %d", e.PositionID) }

type ErrDuplicatePosition struct{ PositionID int }

func (e ErrDuplicatePosition) Error() string {
	return fmt.Sprintf("position_id %d already exists", e.PositionID)
}

// Ledger is the mutex-guarded position/journal store.
type Ledger struct {
	mu sync.RWMutex

	enabled           bool
	journalLocalLimit int

	positions map[int]*PositionRecord
	journal   []JournalRecord

	nextPositionID int
	nextJournalID  int

	subsidyEarnedWatermark   map[int]float64
	subsidyConsumedWatermark map[int]float64
}

// New constructs a Ledger. journalLocalLimit is floored at 50.
func New(enabled bool, journalLocalLimit int) *Ledger {
	if journalLocalLimit < 50 {
		journalLocalLimit = 50
	}
	return &Ledger{
		enabled:                  enabled,
		journalLocalLimit:        journalLocalLimit,
		positions:                make(map[int]*PositionRecord),
		nextPositionID:           1,
		nextJournalID:            1,
		subsidyEarnedWatermark:   make(map[int]float64),
		subsidyConsumedWatermark: make(map[int]float64),
	}
}

// OpenPosition registers a new position and returns its id. Returns 0
// without effect if the ledger is disabled.
func (l *Ledger) OpenPosition(slotID int, tradeID pairtypes.TradeID, mode pairtypes.SlotMode, cycle int, entry EntryData, exit ExitData) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if !l.enabled {
		return 0, nil
	}

	pid := l.nextPositionID
	if _, exists := l.positions[pid]; exists {
		return 0, ErrDuplicatePosition{PositionID: pid}
	}
	if slotID < 0 {
		slotID = 0
	}
	if cycle < 0 {
		cycle = 0
	}

	rec := &PositionRecord{
		PositionID:        pid,
		SlotID:            slotID,
		TradeID:           tradeID,
		SlotMode:          mode,
		Cycle:             cycle,
		EntryPrice:        money.New(entry.EntryPrice),
		EntryCost:         money.New(entry.EntryCost),
		EntryFee:          money.New(maxf(0, entry.EntryFee)),
		EntryVolume:       money.New(maxf(0, entry.EntryVolume)),
		EntryTime:         entry.EntryTime,
		EntryRegime:       entry.EntryRegime,
		EntryVolatility:   maxf(0, entry.EntryVolatility),
		CurrentExitPrice:  money.New(exit.CurrentExitPrice),
		OriginalExitPrice: money.New(exit.OriginalExitPrice),
		TargetProfitPct:   exit.TargetProfitPct,
		ExitTxID:          exit.ExitTxID,
		Status:            pairtypes.StatusOpen,
		TimesRepriced:     maxi(0, exit.TimesRepriced),
	}
	l.positions[pid] = rec
	l.nextPositionID++
	return pid, nil
}

// JournalEvent appends a journal row for an existing position.
func (l *Ledger) JournalEvent(positionID int, eventType string, details map[string]interface{}, timestamp float64) (int, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.journalEventLocked(positionID, eventType, details, timestamp)
}

func (l *Ledger) journalEventLocked(positionID int, eventType string, details map[string]interface{}, timestamp float64) (int, error) {
	if !l.enabled {
		return 0, nil
	}
	if _, ok := l.positions[positionID]; !ok {
		return 0, ErrUnknownPosition{PositionID: positionID}
	}
	jid := l.nextJournalID
	if details == nil {
		details = map[string]interface{}{}
	}
	row := JournalRecord{
		JournalID:  jid,
		PositionID: positionID,
		Timestamp:  timestamp,
		EventType:  strings.TrimSpace(eventType),
		Details:    details,
	}
	l.journal = append(l.journal, row)
	l.nextJournalID++
	l.trimJournalIfNeeded()
	return jid, nil
}

// ClosePosition sets outcome fields, flips status to closed, and appends
// the matching journal row. Idempotent: a no-op if already closed.
func (l *Ledger) ClosePosition(positionID int, outcome OutcomeData) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.positions[positionID]
	if !ok {
		return ErrUnknownPosition{PositionID: positionID}
	}
	if rec.Status == pairtypes.StatusClosed {
		return nil
	}

	reason := strings.ToLower(strings.TrimSpace(outcome.CloseReason))
	if reason == "" {
		reason = "filled"
	}
	exitPrice := money.New(outcome.ExitPrice)
	exitCost := money.New(outcome.ExitCost)
	exitFee := money.New(maxf(0, outcome.ExitFee))
	exitTime := outcome.ExitTime
	exitRegime := outcome.ExitRegime
	netProfit := money.New(outcome.NetProfit)

	rec.ExitPrice = &exitPrice
	rec.ExitCost = &exitCost
	rec.ExitFee = &exitFee
	rec.ExitTime = &exitTime
	rec.ExitRegime = &exitRegime
	rec.NetProfit = &netProfit
	rec.CloseReason = &reason
	rec.Status = pairtypes.StatusClosed

	switch reason {
	case "filled":
		l.journalEventLocked(rec.PositionID, "filled", map[string]interface{}{
			"fill_price": outcome.ExitPrice,
			"fill_cost":  outcome.ExitCost,
			"fill_fee":   outcome.ExitFee,
			"net_profit": outcome.NetProfit,
		}, exitTime)
	case "cancelled":
		reasonStr := outcome.Reason
		if reasonStr == "" {
			reasonStr = "cancelled"
		}
		l.journalEventLocked(rec.PositionID, "cancelled", map[string]interface{}{
			"reason":      reasonStr,
			"age_seconds": outcome.AgeSeconds,
		}, exitTime)
	default:
		reasonStr := outcome.Reason
		if reasonStr == "" {
			reasonStr = reason
		}
		l.journalEventLocked(rec.PositionID, "written_off", map[string]interface{}{
			"close_price":   outcome.ExitPrice,
			"realized_loss": maxf(0, -outcome.NetProfit),
			"reason":        reasonStr,
		}, exitTime)
	}
	return nil
}

// BindExitTxID updates the live exit order reference for an open position.
func (l *Ledger) BindExitTxID(positionID int, txid string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	rec, ok := l.positions[positionID]
	if !ok || rec.Status != pairtypes.StatusOpen {
		return
	}
	rec.ExitTxID = txid
}

// RepriceOptions carries the mutation + journal fields for RepricePosition.
type RepriceOptions struct {
	NewExitPrice     float64
	NewExitTxID      string
	Reason           pairtypes.RepriceReason
	SubsidyConsumed  float64
	Timestamp        float64
	OldTxIDOverride  *string
}

// RepricePosition mutates current_exit_price, bumps times_repriced, and
// appends a "repriced" journal row with old/new price and txid.
func (l *Ledger) RepricePosition(positionID int, opts RepriceOptions) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	rec, ok := l.positions[positionID]
	if !ok {
		return ErrUnknownPosition{PositionID: positionID}
	}
	if rec.Status != pairtypes.StatusOpen {
		return nil
	}

	reason := opts.Reason
	switch reason {
	case pairtypes.RepriceTighten, pairtypes.RepriceSubsidy, pairtypes.RepriceOperator:
	default:
		reason = pairtypes.RepriceOperator
	}

	oldPrice := rec.CurrentExitPrice.Float64()
	oldTxID := rec.ExitTxID
	if opts.OldTxIDOverride != nil {
		oldTxID = *opts.OldTxIDOverride
	}
	rec.CurrentExitPrice = money.New(opts.NewExitPrice)
	rec.ExitTxID = opts.NewExitTxID
	rec.TimesRepriced++

	_, err := l.journalEventLocked(rec.PositionID, "repriced", map[string]interface{}{
		"old_price":        oldPrice,
		"new_price":        opts.NewExitPrice,
		"old_txid":         oldTxID,
		"new_txid":         rec.ExitTxID,
		"reason":           string(reason),
		"subsidy_consumed": maxf(0, opts.SubsidyConsumed),
	}, opts.Timestamp)
	return err
}

// GetPosition returns a copy of the position record, or nil if unknown.
func (l *Ledger) GetPosition(positionID int) *PositionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	rec, ok := l.positions[positionID]
	if !ok {
		return nil
	}
	cp := *rec
	return &cp
}

// GetOpenPositions returns open positions (optionally filtered by slot),
// sorted by entry time then position id.
func (l *Ledger) GetOpenPositions(slotID *int) []PositionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var rows []PositionRecord
	for _, rec := range l.positions {
		if rec.Status != pairtypes.StatusOpen {
			continue
		}
		if slotID != nil && rec.SlotID != *slotID {
			continue
		}
		rows = append(rows, *rec)
	}
	sort.Slice(rows, func(i, j int) bool {
		if rows[i].EntryTime != rows[j].EntryTime {
			return rows[i].EntryTime < rows[j].EntryTime
		}
		return rows[i].PositionID < rows[j].PositionID
	})
	return rows
}

// GetPositionHistory returns the most recent closed positions (optionally
// filtered by slot), newest-first, capped at limit.
func (l *Ledger) GetPositionHistory(slotID *int, limit int) []PositionRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if limit < 1 {
		limit = 1
	}
	var rows []PositionRecord
	for _, rec := range l.positions {
		if rec.Status != pairtypes.StatusClosed {
			continue
		}
		if slotID != nil && rec.SlotID != *slotID {
			continue
		}
		rows = append(rows, *rec)
	}
	sort.Slice(rows, func(i, j int) bool {
		ti, tj := 0.0, 0.0
		if rows[i].ExitTime != nil {
			ti = *rows[i].ExitTime
		}
		if rows[j].ExitTime != nil {
			tj = *rows[j].ExitTime
		}
		if ti != tj {
			return ti > tj
		}
		return rows[i].PositionID > rows[j].PositionID
	})
	if len(rows) > limit {
		rows = rows[:limit]
	}
	return rows
}

// GetJournal returns journal rows, optionally filtered by position id.
func (l *Ledger) GetJournal(positionID *int) []JournalRecord {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var rows []JournalRecord
	for _, row := range l.journal {
		if positionID != nil && row.PositionID != *positionID {
			continue
		}
		rows = append(rows, row)
	}
	return rows
}

// SubsidyTotals is the earned/consumed/balance triple for one slot (or all
// slots combined).
type SubsidyTotals struct {
	Earned   float64
	Consumed float64
	Balance  float64
}

// GetSubsidyBalance returns max(0, earned-consumed) for a single slot.
func (l *Ledger) GetSubsidyBalance(slotID int) float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	earned, consumed := l.subsidyTotalsForSlot(slotID)
	return maxf(0, earned-consumed)
}

// GetSubsidyTotals returns totals for a single slot, or aggregated across
// every slot that has ever appeared (live positions or watermarks) when
// slotID is nil.
func (l *Ledger) GetSubsidyTotals(slotID *int) SubsidyTotals {
	l.mu.RLock()
	defer l.mu.RUnlock()

	if slotID != nil {
		earned, consumed := l.subsidyTotalsForSlot(*slotID)
		return SubsidyTotals{Earned: earned, Consumed: consumed, Balance: maxf(0, earned-consumed)}
	}

	slots := map[int]struct{}{}
	for _, rec := range l.positions {
		slots[rec.SlotID] = struct{}{}
	}
	for sid := range l.subsidyEarnedWatermark {
		slots[sid] = struct{}{}
	}
	for sid := range l.subsidyConsumedWatermark {
		slots[sid] = struct{}{}
	}

	var earned, consumed float64
	for sid := range slots {
		e, c := l.subsidyTotalsForSlot(sid)
		earned += e
		consumed += c
	}
	return SubsidyTotals{Earned: earned, Consumed: consumed, Balance: maxf(0, earned-consumed)}
}

// subsidyTotalsForSlot aggregates the per-slot watermark plus whatever
// subsidy-relevant rows remain live in the (possibly trimmed) journal.
// Must be called with l.mu held.
func (l *Ledger) subsidyTotalsForSlot(slotID int) (earned, consumed float64) {
	earned = l.subsidyEarnedWatermark[slotID]
	consumed = l.subsidyConsumedWatermark[slotID]

	for _, row := range l.journal {
		rec, ok := l.positions[row.PositionID]
		if !ok || rec.SlotID != slotID {
			continue
		}
		e, c := subsidyContribution(row)
		earned += e
		consumed += c
	}
	return earned, consumed
}

// subsidyContribution extracts the earned/consumed contribution of a
// single journal row: churner_profit and over_performance rows earn,
// subsidy-reason reprices consume.
func subsidyContribution(row JournalRecord) (earned, consumed float64) {
	switch row.EventType {
	case "churner_profit":
		earned = toFloat(row.Details["net_profit"])
	case "over_performance":
		if v, ok := row.Details["excess"]; ok {
			earned = toFloat(v)
		} else {
			earned = toFloat(row.Details["net_profit"])
		}
	case "repriced":
		if reason, _ := row.Details["reason"].(string); reason == string(pairtypes.RepriceSubsidy) {
			consumed = toFloat(row.Details["subsidy_consumed"])
		}
	}
	return earned, consumed
}

func toFloat(v interface{}) float64 {
	switch n := v.(type) {
	case float64:
		return n
	case float32:
		return float64(n)
	case int:
		return float64(n)
	default:
		return 0
	}
}

// trimJournalIfNeeded removes the oldest rows once the journal exceeds
// journal_local_limit, folding each removed row's subsidy contribution
// into the owning slot's watermark first so derived totals stay exact.
// Must be called with l.mu held.
func (l *Ledger) trimJournalIfNeeded() {
	excess := len(l.journal) - l.journalLocalLimit
	if excess <= 0 {
		return
	}
	for i := 0; i < excess; i++ {
		row := l.journal[i]
		rec, ok := l.positions[row.PositionID]
		if !ok {
			continue
		}
		e, c := subsidyContribution(row)
		if e != 0 {
			l.subsidyEarnedWatermark[rec.SlotID] += e
		}
		if c != 0 {
			l.subsidyConsumedWatermark[rec.SlotID] += c
		}
	}
	l.journal = append([]JournalRecord(nil), l.journal[excess:]...)
}

func maxf(a, b float64) float64 {
	if a > b {
		return a
	}
	return b
}

func maxi(a, b int) int {
	if a > b {
		return a
	}
	return b
}
