package rdb

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/JoeShih716/go-ledger/internal/app/core/domain"
	"github.com/JoeShih716/go-ledger/internal/app/core/usecase"
	"github.com/JoeShih716/go-ledger/pkg/database"
)

// AccountStore 帳戶資料表，不含餘額欄位
type AccountStore struct {
	client *database.Client
}

func NewAccountStore(client *database.Client) *AccountStore {
	return &AccountStore{client: client}
}

func (s *AccountStore) Create(ctx context.Context, account domain.Account) (domain.Account, error) {
	row := sqlAccount{
		OwnerID:       account.OwnerID,
		Currency:      account.Currency,
		CreatedAtNano: toNano(account.CreatedAt),
	}
	if err := s.client.DB().WithContext(ctx).Create(&row).Error; err != nil {
		return domain.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *AccountStore) Get(ctx context.Context, id int64) (domain.Account, error) {
	var row sqlAccount
	err := s.client.DB().WithContext(ctx).Where("id = ?", id).First(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return domain.Account{}, fmt.Errorf("%w: account %d", domain.ErrNotFound, id)
	}
	if err != nil {
		return domain.Account{}, err
	}
	return row.toDomain(), nil
}

func (s *AccountStore) List(ctx context.Context) ([]domain.Account, error) {
	var rows []sqlAccount
	if err := s.client.DB().WithContext(ctx).Order("id").Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(rows))
	for i := range rows {
		out = append(out, rows[i].toDomain())
	}
	return out, nil
}

var _ usecase.AccountStore = (*AccountStore)(nil)
