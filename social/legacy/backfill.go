package legacy

import (
	"context"

	"github.com/decantapp/decant/server/model"
	"github.com/decantapp/decant/server/social/visibility"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Backfill materializes comments_privacy on rows created before the
// per-section tiers existed, so reads can eventually stop consulting
// comments_scope.
type Backfill struct {
	db     *gorm.DB
	batch  int
	logger *zap.Logger
}

func NewBackfill(db *gorm.DB, batch int, logger *zap.Logger) *Backfill {
	if batch <= 0 {
		batch = 500
	}
	return &Backfill{db: db, batch: batch, logger: logger}
}

// RunOnce resolves one batch of unresolved rows and returns how many it
// updated. Zero means the backlog is drained or the remaining rows need
// manual attention.
func (b *Backfill) RunOnce(ctx context.Context) (int, error) {
	_, updated, err := b.runBatch(ctx)
	return updated, err
}

// Drain runs batches until the backlog is empty, for startup. The
// scheduler keeps ticking RunOnce afterwards to catch imported rows.
func (b *Backfill) Drain(ctx context.Context) (int, error) {
	total := 0
	for {
		fetched, updated, err := b.runBatch(ctx)
		total += updated
		if err != nil {
			return total, err
		}
		// Stop on a short batch (scanned to the end) or when a full
		// batch made no progress (every row invalid and skipped).
		if fetched < b.batch || updated == 0 {
			return total, nil
		}
	}
}

func (b *Backfill) runBatch(ctx context.Context) (fetched, updated int, err error) {
	var entries []model.Entry
	err = b.db.WithContext(ctx).
		Where("comments_privacy = '' OR comments_privacy IS NULL").
		Order("id asc").
		Limit(b.batch).
		Find(&entries).Error
	if err != nil {
		return 0, 0, err
	}

	for _, e := range entries {
		resolved := visibility.ResolveCommentsPrivacy(visibility.EntryView{
			OwnerID:         e.OwnerID,
			EntryPrivacy:    visibility.Tier(e.EntryPrivacy),
			CommentsPrivacy: visibility.Tier(e.CommentsPrivacy),
			CommentsScope:   visibility.CommentsScope(e.CommentsScope),
		})
		if !resolved.Valid() {
			b.logger.Warn("backfill: entry has no resolvable tier, fix by hand",
				zap.Int64("entry_id", e.ID),
				zap.String("entry_privacy", e.EntryPrivacy),
				zap.String("comments_scope", e.CommentsScope))
			continue
		}

		// The guard keeps a concurrent writer's explicit value intact.
		res := b.db.WithContext(ctx).Model(&model.Entry{}).
			Where("id = ? AND (comments_privacy = '' OR comments_privacy IS NULL)", e.ID).
			Update("comments_privacy", string(resolved))
		if res.Error != nil {
			return len(entries), updated, res.Error
		}
		updated += int(res.RowsAffected)
	}

	if updated > 0 {
		b.logger.Info("comments privacy backfill",
			zap.Int("updated", updated),
			zap.Int("fetched", len(entries)))
	}
	return len(entries), updated, nil
}
