package rdb

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/pkg/database"
)

// CheckpointStore 把 checkpoint 歷史存在 balance_checkpoints 表
type CheckpointStore struct {
	client *database.Client
}

func NewCheckpointStore(client *database.Client) *CheckpointStore {
	return &CheckpointStore{client: client}
}

// Save 位置不比目前最新的新就丟棄；同位置併發寫入由唯一索引擋下
func (s *CheckpointStore) Save(ctx context.Context, cp domain.Checkpoint) (bool, error) {
	latest, ok, err := s.Latest(ctx, cp.AccountID, time.Time{})
	if err != nil {
		return false, err
	}
	if ok && cp.AsOf.Compare(latest.AsOf) <= 0 {
		return false, nil
	}

	row := sqlCheckpoint{
		AccountID:     cp.AccountID,
		AsOfNano:      toNano(cp.AsOf.At),
		AsOfSeq:       cp.AsOf.Seq,
		Balance:       cp.Balance,
		Entries:       cp.Entries,
		CreatedAtNano: toNano(cp.CreatedAt),
	}
	err = s.client.DB().WithContext(ctx).Create(&row).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

func (s *CheckpointStore) Latest(ctx context.Context, accountID int64, upTo time.Time) (domain.Checkpoint, bool, error) {
	tx := s.client.DB().WithContext(ctx).Where("account_id = ?", accountID)
	if !upTo.IsZero() {
		tx = tx.Where("as_of <= ?", toNano(upTo))
	}
	var row sqlCheckpoint
	res := tx.Order("as_of DESC, as_of_seq DESC").Limit(1).Find(&row)
	if res.Error != nil {
		return domain.Checkpoint{}, false, res.Error
	}
	if res.RowsAffected == 0 {
		return domain.Checkpoint{}, false, nil
	}
	return row.toDomain(), true, nil
}

func (s *CheckpointStore) Delete(ctx context.Context, accountID int64) error {
	return s.client.DB().WithContext(ctx).Where("account_id = ?", accountID).Delete(&sqlCheckpoint{}).Error
}

var _ usecase.CheckpointStore = (*CheckpointStore)(nil)
