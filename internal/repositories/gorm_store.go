package repositories

import (
	"context"
	"errors"
	"hash/fnv"

	"gorm.io/gorm"
)

// GormStore - реализация Store поверх PostgreSQL
type GormStore struct {
	db   *gorm.DB
	inTx bool
}

func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

func (s *GormStore) Plans() PlanRepository {
	return &PlanRepositoryImpl{db: s.db}
}

func (s *GormStore) Addons() AddonRepository {
	return &AddonRepositoryImpl{db: s.db}
}

func (s *GormStore) Payments() PaymentRepository {
	return &PaymentRepositoryImpl{db: s.db}
}

func (s *GormStore) Subscriptions() SubscriptionRepository {
	return &SubscriptionRepositoryImpl{db: s.db}
}

func (s *GormStore) Users() UserRepository {
	return &UserRepositoryImpl{db: s.db}
}

// LockUser - pg_advisory_xact_lock, снимается на COMMIT/ROLLBACK
func (s *GormStore) LockUser(ctx context.Context, userID string) error {
	if !s.inTx {
		return ErrLockOutsideTransaction
	}
	return s.db.WithContext(ctx).Exec("SELECT pg_advisory_xact_lock(?)", advisoryKey("user:"+userID)).Error
}

func (s *GormStore) Transaction(ctx context.Context, fn func(tx Store) error) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(&GormStore{db: tx, inTx: true})
	})
}

func (s *GormStore) Ping(ctx context.Context) error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// advisoryKey - FNV-1a хеш строки в int64 ключ advisory lock
func advisoryKey(key string) int64 {
	h := fnv.New64a()
	h.Write([]byte(key))
	return int64(h.Sum64())
}

func notFound(err error, sentinel error) error {
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return sentinel
	}
	return err
}
