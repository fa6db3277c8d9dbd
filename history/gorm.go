package history

import (
	"context"

	"penelope-batcher/models"

	"github.com/jinzhu/gorm"
)

// GormStore keeps history in the conversation_messages table.
type GormStore struct {
	db   *gorm.DB
	opts options
}

func NewGormStore(db *gorm.DB, opts ...Option) *GormStore {
	return &GormStore{db: db, opts: buildOptions(opts)}
}

// Append stores rec and trims the conversation to the newest records.
func (s *GormStore) Append(ctx context.Context, key string, rec models.Record) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = s.opts.now()
	}
	rec.CreatedAt = rec.CreatedAt.UTC()

	row, err := models.NewConversationMessage(key, rec, s.opts.ttl)
	if err != nil {
		return err
	}

	tx := s.db.Begin()
	if tx.Error != nil {
		return storageErr("append", key, tx.Error)
	}
	if err := tx.Create(&row).Error; err != nil {
		tx.Rollback()
		return storageErr("append", key, err)
	}

	var cut []int64
	if err := tx.Model(&models.ConversationMessage{}).
		Where("conversation_key = ?", key).
		Order("id desc").
		Offset(s.opts.keep).
		Limit(1).
		Pluck("id", &cut).Error; err != nil {
		tx.Rollback()
		return storageErr("append", key, err)
	}
	if len(cut) > 0 {
		if err := tx.
			Where("conversation_key = ? AND id <= ?", key, cut[0]).
			Delete(&models.ConversationMessage{}).Error; err != nil {
			tx.Rollback()
			return storageErr("append", key, err)
		}
	}

	if err := tx.Commit().Error; err != nil {
		return storageErr("append", key, err)
	}
	return nil
}

// Recent returns up to limit unexpired records, oldest first.
func (s *GormStore) Recent(ctx context.Context, key string, limit int) ([]models.Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if limit <= 0 {
		limit = DEFAULT_LIMIT
	}

	var rows []models.ConversationMessage
	if err := s.db.
		Where("conversation_key = ? AND expires_at > ?", key, s.opts.now().UTC()).
		Order("id desc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, storageErr("recent", key, err)
	}

	records := make([]models.Record, 0, len(rows))
	for i := len(rows) - 1; i >= 0; i-- {
		rec, err := rows[i].ToRecord()
		if err != nil {
			return nil, err
		}
		records = append(records, rec)
	}
	return records, nil
}

// Purge removes expired records of every conversation.
func (s *GormStore) Purge(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res := s.db.Where("expires_at <= ?", s.opts.now().UTC()).Delete(&models.ConversationMessage{})
	if res.Error != nil {
		return 0, storageErr("purge", "*", res.Error)
	}
	return int(res.RowsAffected), nil
}
