package ledger

import (
	"testing"

	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

func openTestPosition(t *testing.T, l *Ledger) int {
	t.Helper()
	pid, err := l.OpenPosition(1, pairtypes.TradeA, pairtypes.SlotSticky, 1,
		EntryData{EntryPrice: 0.10, EntryCost: 1.0, EntryFee: 0.01, EntryVolume: 10, EntryTime: 0, EntryRegime: "ranging"},
		ExitData{CurrentExitPrice: 0.11, OriginalExitPrice: 0.11})
	if err != nil {
		t.Fatalf("OpenPosition failed: %v", err)
	}
	if pid == 0 {
		t.Fatalf("expected nonzero position id")
	}
	return pid
}

func TestOpenPositionRecordsEntryFields(t *testing.T) {
	t.Parallel()
	l := New(true, 50)
	pid := openTestPosition(t, l)

	rec := l.GetPosition(pid)
	if rec == nil {
		t.Fatalf("expected position to exist")
	}
	if rec.Status != pairtypes.StatusOpen {
		t.Fatalf("expected status open, got %v", rec.Status)
	}
	if rec.EntryPrice.Float64() != 0.10 {
		t.Fatalf("expected entry price 0.10, got %v", rec.EntryPrice.Float64())
	}
}

func TestClosePositionSetsOutcomeAndJournals(t *testing.T) {
	t.Parallel()
	l := New(true, 50)
	pid := openTestPosition(t, l)

	if err := l.ClosePosition(pid, OutcomeData{
		CloseReason: "filled",
		ExitPrice:   0.12,
		ExitCost:    1.2,
		ExitFee:     0.01,
		ExitTime:    100,
		ExitRegime:  "ranging",
		NetProfit:   0.18,
	}); err != nil {
		t.Fatalf("ClosePosition failed: %v", err)
	}

	rec := l.GetPosition(pid)
	if rec.Status != pairtypes.StatusClosed {
		t.Fatalf("expected status closed, got %v", rec.Status)
	}
	if rec.NetProfit == nil || rec.NetProfit.Float64() != 0.18 {
		t.Fatalf("expected net profit 0.18, got %v", rec.NetProfit)
	}

	rows := l.GetJournal(&pid)
	if len(rows) != 1 || rows[0].EventType != "filled" {
		t.Fatalf("expected one 'filled' journal row, got %v", rows)
	}
}

func TestClosePositionIsIdempotent(t *testing.T) {
	t.Parallel()
	l := New(true, 50)
	pid := openTestPosition(t, l)

	outcome := OutcomeData{CloseReason: "filled", ExitPrice: 0.12, ExitCost: 1.2, ExitTime: 100, NetProfit: 0.18}
	if err := l.ClosePosition(pid, outcome); err != nil {
		t.Fatalf("first close failed: %v", err)
	}
	if err := l.ClosePosition(pid, OutcomeData{CloseReason: "filled", ExitPrice: 0.99, ExitTime: 200, NetProfit: 999}); err != nil {
		t.Fatalf("second close failed: %v", err)
	}

	rec := l.GetPosition(pid)
	if rec.NetProfit.Float64() != 0.18 {
		t.Fatalf("expected outcome fields unchanged by a second close, got net profit %v", rec.NetProfit.Float64())
	}
	if len(l.GetJournal(&pid)) != 1 {
		t.Fatalf("expected idempotent close to append no extra journal row, got %d rows", len(l.GetJournal(&pid)))
	}
}

func TestClosePositionUnknownID(t *testing.T) {
	t.Parallel()
	l := New(true, 50)
	err := l.ClosePosition(999, OutcomeData{CloseReason: "filled"})
	if _, ok := err.(ErrUnknownPosition); !ok {
		t.Fatalf("expected ErrUnknownPosition, got %v", err)
	}
}

func TestRepricePositionMutatesAndJournals(t *testing.T) {
	t.Parallel()
	l := New(true, 50)
	pid := openTestPosition(t, l)

	if err := l.RepricePosition(pid, RepriceOptions{
		NewExitPrice: 0.105,
		NewExitTxID:  "tx-2",
		Reason:       pairtypes.RepriceTighten,
		Timestamp:    50,
	}); err != nil {
		t.Fatalf("RepricePosition failed: %v", err)
	}

	rec := l.GetPosition(pid)
	if rec.CurrentExitPrice.Float64() != 0.105 {
		t.Fatalf("expected current exit price updated, got %v", rec.CurrentExitPrice.Float64())
	}
	if rec.ExitTxID != "tx-2" {
		t.Fatalf("expected exit txid updated, got %v", rec.ExitTxID)
	}
	if rec.TimesRepriced != 1 {
		t.Fatalf("expected times_repriced incremented to 1, got %d", rec.TimesRepriced)
	}

	rows := l.GetJournal(&pid)
	if len(rows) != 1 || rows[0].EventType != "repriced" {
		t.Fatalf("expected one 'repriced' journal row, got %v", rows)
	}
}

func TestRepricePositionNoopOnceClosed(t *testing.T) {
	t.Parallel()
	l := New(true, 50)
	pid := openTestPosition(t, l)
	if err := l.ClosePosition(pid, OutcomeData{CloseReason: "filled", ExitPrice: 0.12, ExitTime: 10}); err != nil {
		t.Fatalf("close failed: %v", err)
	}

	if err := l.RepricePosition(pid, RepriceOptions{NewExitPrice: 0.5}); err != nil {
		t.Fatalf("expected no error repricing a closed position, got %v", err)
	}
	rec := l.GetPosition(pid)
	if rec.CurrentExitPrice.Float64() == 0.5 {
		t.Fatalf("expected reprice on a closed position to be a no-op")
	}
}

// TestSubsidyBalancePreservedAcrossTrim: once the journal exceeds its local limit,
// trimJournalIfNeeded folds each discarded row's subsidy contribution into
// a per-slot watermark before dropping it, so GetSubsidyBalance reports
// the same total a caller would get by summing every row ever appended,
// trimmed or not.
func TestSubsidyBalancePreservedAcrossTrim(t *testing.T) {
	t.Parallel()
	l := New(true, 50) // journalLocalLimit floors at 50
	pid := openTestPosition(t, l)

	const rows = 80 // comfortably past the 50-row floor, forcing a trim
	var wantEarned float64
	for i := 0; i < rows; i++ {
		amt := float64(i + 1)
		if _, err := l.JournalEvent(pid, "churner_profit", map[string]interface{}{"net_profit": amt}, float64(i)); err != nil {
			t.Fatalf("JournalEvent %d failed: %v", i, err)
		}
		wantEarned += amt
	}

	if got := len(l.GetJournal(nil)); got > 50 {
		t.Fatalf("expected the journal to have been trimmed to at most 50 rows, got %d", got)
	}
	if got := l.GetSubsidyBalance(1); got != wantEarned {
		t.Fatalf("subsidy balance not preserved across trim: got %v want %v", got, wantEarned)
	}
}

func TestSubsidyBalanceNetsReprice(t *testing.T) {
	t.Parallel()
	l := New(true, 50)
	pid := openTestPosition(t, l)

	if _, err := l.JournalEvent(pid, "churner_profit", map[string]interface{}{"net_profit": 10.0}, 0); err != nil {
		t.Fatalf("JournalEvent failed: %v", err)
	}
	if err := l.RepricePosition(pid, RepriceOptions{
		NewExitPrice:    0.12,
		Reason:          pairtypes.RepriceSubsidy,
		SubsidyConsumed: 4.0,
		Timestamp:       1,
	}); err != nil {
		t.Fatalf("RepricePosition failed: %v", err)
	}

	if got := l.GetSubsidyBalance(1); got != 6.0 {
		t.Fatalf("expected balance 10-4=6, got %v", got)
	}
}
