package middleware

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/charlesng35/inkroom/internal/models"
)

// DatabaseRateStore keeps rate limiting counters in the primary SQL database so that
// several server instances share one budget per client.
type DatabaseRateStore struct {
	db    *gorm.DB
	clock func() time.Time
}

// NewDatabaseRateStore constructs a database-backed RateStore.
func NewDatabaseRateStore(db *gorm.DB) *DatabaseRateStore {
	if db == nil {
		return nil
	}
	return &DatabaseRateStore{db: db, clock: time.Now}
}

func (s *DatabaseRateStore) Increment(ctx context.Context, key string, window time.Duration) (int, time.Duration, error) {
	if s == nil {
		return 0, 0, errors.New("rate store: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	if window <= 0 {
		window = time.Minute
	}

	now := s.clock()
	var counter models.RateCounter

	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		take := func() error {
			return tx.Clauses(clause.Locking{Strength: "UPDATE"}).
				Take(&counter, &models.RateCounter{Bucket: key}).Error
		}
		err := take()
		if errors.Is(err, gorm.ErrRecordNotFound) {
			counter = models.RateCounter{Bucket: key, Count: 1, ExpiresAt: now.Add(window)}
			created := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&counter)
			if created.Error != nil {
				return created.Error
			}
			if created.RowsAffected == 1 {
				return nil
			}
			// another instance created the row first
			err = take()
		}
		if err != nil {
			return err
		}

		if now.After(counter.ExpiresAt) {
			counter.Count = 1
			counter.ExpiresAt = now.Add(window)
		} else {
			counter.Count++
		}
		return tx.Model(&models.RateCounter{}).
			Where(&models.RateCounter{Bucket: key}).
			Updates(map[string]any{"count": counter.Count, "expires_at": counter.ExpiresAt}).Error
	})
	if err != nil {
		return 0, 0, err
	}

	return int(counter.Count), counter.ExpiresAt.Sub(now), nil
}

// PurgeExpired removes counters whose window closed before now.
func (s *DatabaseRateStore) PurgeExpired(ctx context.Context) (int64, error) {
	if s == nil {
		return 0, errors.New("rate store: database store not initialised")
	}
	if ctx == nil {
		ctx = context.Background()
	}
	result := s.db.WithContext(ctx).Where("expires_at < ?", s.clock()).Delete(&models.RateCounter{})
	return result.RowsAffected, result.Error
}
