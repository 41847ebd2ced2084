package storage

import (
	"fmt"
	"time"

	"gorm.io/gorm"
)

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

// Ledger

// AppendLedgerEntry writes one executed trade. A failure here is cycle-fatal
// for the caller: the next trade must not execute on top of an unpersisted
// one.
func (r *Repository) AppendLedgerEntry(entry *LedgerEntry) error {
	if err := r.db.Create(entry).Error; err != nil {
		return fmt.Errorf("append ledger entry: %w", err)
	}
	return nil
}

func (r *Repository) GetLedgerBetween(from, to time.Time) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := r.db.Where("executed_at >= ? AND executed_at < ?", from, to).
		Order("executed_at ASC, id ASC").Find(&entries).Error
	return entries, err
}

func (r *Repository) GetRecentLedger(limit int) ([]LedgerEntry, error) {
	var entries []LedgerEntry
	err := r.db.Order("executed_at DESC, id DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

func (r *Repository) CountLedgerEntries() (int64, error) {
	var n int64
	err := r.db.Model(&LedgerEntry{}).Count(&n).Error
	return n, err
}

func (r *Repository) GetTotalRealizedPnL() (float64, error) {
	var total float64
	err := r.db.Model(&LedgerEntry{}).
		Where("side = ?", "SELL").
		Select("COALESCE(SUM(realized_pnl), 0)").Scan(&total).Error
	return total, err
}

func (r *Repository) GetTodayRealizedPnL() (float64, error) {
	today := time.Now().Truncate(24 * time.Hour)
	var total float64
	err := r.db.Model(&LedgerEntry{}).
		Where("side = ? AND executed_at >= ?", "SELL", today).
		Select("COALESCE(SUM(realized_pnl), 0)").Scan(&total).Error
	return total, err
}

// Snapshots

func (r *Repository) SaveSnapshot(snapshot *PortfolioSnapshot) error {
	if err := r.db.Create(snapshot).Error; err != nil {
		return fmt.Errorf("save portfolio snapshot: %w", err)
	}
	return nil
}

func (r *Repository) GetLatestSnapshot() (*PortfolioSnapshot, error) {
	var snapshot PortfolioSnapshot
	err := r.db.Order("created_at DESC, id DESC").First(&snapshot).Error
	if err != nil {
		return nil, err
	}
	return &snapshot, nil
}

// Cycle logs

func (r *Repository) SaveCycleLog(log *CycleLog) error {
	return r.db.Create(log).Error
}
