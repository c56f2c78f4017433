// Package ledgerstore persists the position ledger's current-state table
// and append-only journal to disk via gorm over a local sqlite file, so
// a restarted process can rebuild its in-memory ledger instead of
// starting from empty.
package ledgerstore

import (
	"encoding/json"
	"fmt"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/robjohncolson/decisioncore/internal/ledger"
	"github.com/robjohncolson/decisioncore/pkg/money"
	"github.com/robjohncolson/decisioncore/pkg/pairtypes"
)

// positionRow is the gorm table mirror of ledger.PositionRecord. Monetary
// fields are stored as decimal strings to avoid float round-trip drift.
type positionRow struct {
	PositionID int `gorm:"primaryKey;autoIncrement:false"`
	SlotID     int `gorm:"primaryKey;autoIncrement:false"`
	TradeID    string
	SlotMode   string
	Cycle      int

	EntryPrice      string
	EntryCost       string
	EntryFee        string
	EntryVolume     string
	EntryTime       float64
	EntryRegime     string
	EntryVolatility float64

	CurrentExitPrice  string
	OriginalExitPrice string
	TargetProfitPct   float64
	ExitTxID          string

	ExitPrice   *string
	ExitCost    *string
	ExitFee     *string
	ExitTime    *float64
	ExitRegime  *string
	NetProfit   *string
	CloseReason *string

	Status        string
	TimesRepriced int
}

func (positionRow) TableName() string { return "positions" }

// journalRow is the gorm table mirror of ledger.JournalRecord. Details is
// stored as a JSON blob, same shape as the in-memory map.
type journalRow struct {
	JournalID  int `gorm:"primaryKey;autoIncrement:false"`
	SlotID     int `gorm:"primaryKey;autoIncrement:false"`
	PositionID int `gorm:"index"`
	Timestamp  float64
	EventType  string
	Details    string
}

func (journalRow) TableName() string { return "journal" }

// Store is a gorm-backed durable mirror of a ledger.Ledger. It never
// replaces the in-memory ledger as the source of truth during normal
// operation. cmd/decisioncore writes each slot's open positions and
// retained journal rows to it once, when the slot finishes; it does not
// read them back at startup (slots restore from their JSON snapshot).
// LoadPositionsForSlot/LoadJournalForSlot return the persisted rows.
type Store struct {
	db *gorm.DB
}

// Open creates or attaches to a sqlite database file at path.
func Open(path string) (*Store, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("ledgerstore: open %s: %w", path, err)
	}
	if err := db.AutoMigrate(&positionRow{}, &journalRow{}); err != nil {
		return nil, fmt.Errorf("ledgerstore: migrate: %w", err)
	}
	return &Store{db: db}, nil
}

func toAmountStr(a money.Amount) string { return a.String() }

func toOptAmountStr(a *money.Amount) *string {
	if a == nil {
		return nil
	}
	s := a.String()
	return &s
}

func fromOptAmountStr(s *string) *money.Amount {
	if s == nil {
		return nil
	}
	a, err := money.NewFromString(*s)
	if err != nil {
		return nil
	}
	return &a
}

// SavePosition upserts one position row, matching the ledger's current
// in-memory record.
func (s *Store) SavePosition(rec ledger.PositionRecord) error {
	row := positionRow{
		PositionID: rec.PositionID,
		SlotID:     rec.SlotID,
		TradeID:    string(rec.TradeID),
		SlotMode:   string(rec.SlotMode),
		Cycle:      rec.Cycle,

		EntryPrice:      toAmountStr(rec.EntryPrice),
		EntryCost:       toAmountStr(rec.EntryCost),
		EntryFee:        toAmountStr(rec.EntryFee),
		EntryVolume:     toAmountStr(rec.EntryVolume),
		EntryTime:       rec.EntryTime,
		EntryRegime:     rec.EntryRegime,
		EntryVolatility: rec.EntryVolatility,

		CurrentExitPrice:  toAmountStr(rec.CurrentExitPrice),
		OriginalExitPrice: toAmountStr(rec.OriginalExitPrice),
		TargetProfitPct:   rec.TargetProfitPct,
		ExitTxID:          rec.ExitTxID,

		ExitPrice:   toOptAmountStr(rec.ExitPrice),
		ExitCost:    toOptAmountStr(rec.ExitCost),
		ExitFee:     toOptAmountStr(rec.ExitFee),
		ExitTime:    rec.ExitTime,
		ExitRegime:  rec.ExitRegime,
		NetProfit:   toOptAmountStr(rec.NetProfit),
		CloseReason: rec.CloseReason,

		Status:        string(rec.Status),
		TimesRepriced: rec.TimesRepriced,
	}
	return s.db.Save(&row).Error
}

// AppendJournal inserts one journal row scoped to slotID (journal IDs are
// only unique within a single in-memory Ledger, so the slot ID joins the
// primary key to keep multiple slots' rows from colliding in one
// database file). Journal rows are append-only — this never updates an
// existing row.
func (s *Store) AppendJournal(slotID int, rec ledger.JournalRecord) error {
	details, err := json.Marshal(rec.Details)
	if err != nil {
		return fmt.Errorf("ledgerstore: marshal journal details: %w", err)
	}
	row := journalRow{
		JournalID:  rec.JournalID,
		SlotID:     slotID,
		PositionID: rec.PositionID,
		Timestamp:  rec.Timestamp,
		EventType:  rec.EventType,
		Details:    string(details),
	}
	return s.db.Save(&row).Error
}

// LoadPositionsForSlot reconstructs every persisted position record
// belonging to slotID, for rebuilding a ledger.Ledger at startup.
func (s *Store) LoadPositionsForSlot(slotID int) ([]ledger.PositionRecord, error) {
	var rows []positionRow
	if err := s.db.Where("slot_id = ?", slotID).Order("position_id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ledgerstore: load positions: %w", err)
	}
	out := make([]ledger.PositionRecord, 0, len(rows))
	for _, r := range rows {
		entryPrice, _ := money.NewFromString(r.EntryPrice)
		entryCost, _ := money.NewFromString(r.EntryCost)
		entryFee, _ := money.NewFromString(r.EntryFee)
		entryVolume, _ := money.NewFromString(r.EntryVolume)
		curExit, _ := money.NewFromString(r.CurrentExitPrice)
		origExit, _ := money.NewFromString(r.OriginalExitPrice)

		out = append(out, ledger.PositionRecord{
			PositionID:        r.PositionID,
			SlotID:            r.SlotID,
			TradeID:           pairtypes.TradeID(r.TradeID),
			SlotMode:          pairtypes.SlotMode(r.SlotMode),
			Cycle:             r.Cycle,
			EntryPrice:        entryPrice,
			EntryCost:         entryCost,
			EntryFee:          entryFee,
			EntryVolume:       entryVolume,
			EntryTime:         r.EntryTime,
			EntryRegime:       r.EntryRegime,
			EntryVolatility:   r.EntryVolatility,
			CurrentExitPrice:  curExit,
			OriginalExitPrice: origExit,
			TargetProfitPct:   r.TargetProfitPct,
			ExitTxID:          r.ExitTxID,
			ExitPrice:         fromOptAmountStr(r.ExitPrice),
			ExitCost:          fromOptAmountStr(r.ExitCost),
			ExitFee:           fromOptAmountStr(r.ExitFee),
			ExitTime:          r.ExitTime,
			ExitRegime:        r.ExitRegime,
			NetProfit:         fromOptAmountStr(r.NetProfit),
			CloseReason:       r.CloseReason,
			Status:            pairtypes.PositionStatus(r.Status),
			TimesRepriced:     r.TimesRepriced,
		})
	}
	return out, nil
}

// LoadJournalForSlot reconstructs every persisted journal row belonging
// to slotID, oldest first.
func (s *Store) LoadJournalForSlot(slotID int) ([]ledger.JournalRecord, error) {
	var rows []journalRow
	if err := s.db.Where("slot_id = ?", slotID).Order("journal_id asc").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("ledgerstore: load journal: %w", err)
	}
	out := make([]ledger.JournalRecord, 0, len(rows))
	for _, r := range rows {
		var details map[string]interface{}
		if err := json.Unmarshal([]byte(r.Details), &details); err != nil {
			details = map[string]interface{}{}
		}
		out = append(out, ledger.JournalRecord{
			JournalID:  r.JournalID,
			PositionID: r.PositionID,
			Timestamp:  r.Timestamp,
			EventType:  r.EventType,
			Details:    details,
		})
	}
	return out, nil
}

// Close releases the underlying database connection.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
