package chatclient

import (
	"context"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/pkg/errors"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"

	"mentorchat/internal/chat"
)

// CachedMessage is a confirmed message held locally, tagged with the partner
// whose conversation it belongs to.
type CachedMessage struct {
	PartnerID      string    `gorm:"primaryKey;size:128;index:idx_cached_partner_created,priority:1"`
	ID             int64     `gorm:"primaryKey;autoIncrement:false"`
	ConversationID int64     `gorm:"not null"`
	SenderID       string    `gorm:"not null;size:128"`
	Text           string    `gorm:"not null"`
	ClientMsgID    string    `gorm:"size:64"`
	CreatedAt      time.Time `gorm:"index:idx_cached_partner_created,priority:2;autoCreateTime:false"`
}

func (CachedMessage) TableName() string { return "cached_messages" }

func fromRecord(partner string, r chat.Record) CachedMessage {
	return CachedMessage{
		PartnerID:      partner,
		ID:             r.ID,
		ConversationID: r.ConversationID,
		SenderID:       r.SenderID,
		Text:           r.Text,
		ClientMsgID:    r.ClientMsgID,
		CreatedAt:      r.Timestamp.UTC(),
	}
}

// Cache is the local durable message store, one table shared by every partner.
type Cache struct {
	db *gorm.DB
}

// OpenCache opens (creating if needed) the cache at path. ":memory:" gives a
// throwaway cache.
func OpenCache(path string) (*Cache, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, errors.Wrap(err, "open cache")
	}
	if path == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		sqlDB, err := db.DB()
		if err != nil {
			return nil, errors.Wrap(err, "cache pool")
		}
		sqlDB.SetMaxOpenConns(1)
	}
	if err := db.AutoMigrate(&CachedMessage{}); err != nil {
		return nil, errors.Wrap(err, "migrate cache")
	}
	return &Cache{db: db}, nil
}

func (c *Cache) Close() error {
	sqlDB, err := c.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Tail returns the cached conversation with partner in display order.
func (c *Cache) Tail(ctx context.Context, partner string) ([]CachedMessage, error) {
	var out []CachedMessage
	err := c.db.WithContext(ctx).
		Where("partner_id = ?", partner).
		Order("created_at ASC").
		Order("id ASC").
		Find(&out).Error
	if err != nil {
		return nil, errors.Wrapf(err, "tail %s", partner)
	}
	return out, nil
}

// LastID returns the newest cached message id for partner. ok is false when
// nothing is cached yet.
func (c *Cache) LastID(ctx context.Context, partner string) (id int64, ok bool, err error) {
	var max *int64
	err = c.db.WithContext(ctx).
		Model(&CachedMessage{}).
		Where("partner_id = ?", partner).
		Select("MAX(id)").
		Scan(&max).Error
	if err != nil {
		return 0, false, errors.Wrapf(err, "last id %s", partner)
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// Merge inserts the records that are not cached yet and returns those. Records
// already present are left untouched, so replays and duplicates are harmless.
func (c *Cache) Merge(ctx context.Context, partner string, records []chat.Record) ([]CachedMessage, error) {
	var inserted []CachedMessage
	err := c.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, r := range records {
			row := fromRecord(partner, r)
			res := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&row)
			if res.Error != nil {
				return res.Error
			}
			if res.RowsAffected == 1 {
				inserted = append(inserted, row)
			}
		}
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "merge %d records for %s", len(records), partner)
	}
	return inserted, nil
}
