package mailbox

import (
	"context"
	"time"

	"penelope-batcher/models"

	"github.com/jinzhu/gorm"
)

// GormBackend stores mailboxes in the mailbox_events table.
// Times are written in UTC so sqlite string comparison stays ordered.
type GormBackend struct {
	db *gorm.DB
}

// NewGormBackend uses an open connection. The table must already exist
// (see db.Connect).
func NewGormBackend(db *gorm.DB) *GormBackend {
	return &GormBackend{db: db}
}

func (b *GormBackend) Push(ctx context.Context, ev models.Event, expiresAt time.Time, refresh bool, now time.Time) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	now = now.UTC()
	expiresAt = expiresAt.UTC()

	tx := b.db.Begin()
	if tx.Error != nil {
		return tx.Error
	}

	live := tx.Model(&models.MailboxEvent{}).
		Where("conversation_key = ? AND expires_at > ?", ev.Key, now)

	if refresh {
		if err := live.Update("expires_at", expiresAt).Error; err != nil {
			tx.Rollback()
			return err
		}
	} else {
		var first models.MailboxEvent
		err := live.Order("id asc").First(&first).Error
		switch {
		case err == nil:
			expiresAt = first.ExpiresAt
		case !gorm.IsRecordNotFoundError(err):
			tx.Rollback()
			return err
		}
	}

	row := models.MailboxEvent{
		ConversationKey: ev.Key,
		EventID:         ev.ID,
		Payload:         string(ev.Payload),
		ArrivedAt:       ev.ArrivedAt.UTC(),
		Seq:             ev.Seq,
		ExpiresAt:       expiresAt,
	}
	if err := tx.Create(&row).Error; err != nil {
		tx.Rollback()
		return err
	}
	return tx.Commit().Error
}

// PopAll deletes only the rows it read, so a row inserted by another process
// after the read survives for the next drain.
func (b *GormBackend) PopAll(ctx context.Context, key string, now time.Time) ([]models.Event, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	now = now.UTC()

	tx := b.db.Begin()
	if tx.Error != nil {
		return nil, tx.Error
	}

	var rows []models.MailboxEvent
	if err := tx.
		Where("conversation_key = ? AND expires_at > ?", key, now).
		Order("seq asc, id asc").
		Find(&rows).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if len(rows) == 0 {
		tx.Rollback()
		return nil, nil
	}

	ids := make([]int64, 0, len(rows))
	for _, r := range rows {
		ids = append(ids, r.ID)
	}
	if err := tx.
		Where("id IN (?)", ids).
		Delete(&models.MailboxEvent{}).Error; err != nil {
		tx.Rollback()
		return nil, err
	}
	if err := tx.Commit().Error; err != nil {
		return nil, err
	}

	events := make([]models.Event, 0, len(rows))
	for _, r := range rows {
		events = append(events, r.ToEvent())
	}
	return events, nil
}

func (b *GormBackend) Len(ctx context.Context, key string, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	var n int
	err := b.db.Model(&models.MailboxEvent{}).
		Where("conversation_key = ? AND expires_at > ?", key, now.UTC()).
		Count(&n).Error
	return n, err
}

func (b *GormBackend) Purge(ctx context.Context, now time.Time) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	res := b.db.Where("expires_at <= ?", now.UTC()).Delete(&models.MailboxEvent{})
	return int(res.RowsAffected), res.Error
}
