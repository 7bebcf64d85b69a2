package ledger

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/multierr"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
)

type membershipRow struct {
	Device      string `gorm:"primaryKey;size:64"`
	SessionCode int    `gorm:"not null"`
	PlayerID    int    `gorm:"not null"`
	UpdatedAt   time.Time
}

func (membershipRow) TableName() string { return "memberships" }

type Postgres struct {
	db  *gorm.DB
	key string
}

func OpenPostgres(ctx context.Context, dsn, key string) (*Postgres, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open postgres ledger: %w", err)
	}
	return newPostgres(ctx, db, key)
}

// newPostgres migrates the schema and takes ownership of db. db is closed if
// the migration fails.
func newPostgres(ctx context.Context, db *gorm.DB, key string) (*Postgres, error) {
	if err := db.WithContext(ctx).AutoMigrate(&membershipRow{}); err != nil {
		err = fmt.Errorf("migrate postgres ledger: %w", err)
		if sqlDB, derr := db.DB(); derr == nil {
			err = multierr.Append(err, sqlDB.Close())
		}
		return nil, err
	}
	return &Postgres{db: db, key: key}, nil
}

func (l *Postgres) Save(ctx context.Context, m Membership) error {
	row := membershipRow{Device: l.key, SessionCode: m.SessionCode, PlayerID: m.PlayerID}
	err := l.db.WithContext(ctx).
		Clauses(clause.OnConflict{UpdateAll: true}).
		Create(&row).Error
	if err != nil {
		return fmt.Errorf("save membership: %w", err)
	}
	return nil
}

func (l *Postgres) Load(ctx context.Context) (Membership, error) {
	var row membershipRow
	err := l.db.WithContext(ctx).First(&row, "device = ?", l.key).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Membership{}, ErrNotFound
	}
	if err != nil {
		return Membership{}, fmt.Errorf("load membership: %w", err)
	}
	return Membership{SessionCode: row.SessionCode, PlayerID: row.PlayerID}, nil
}

func (l *Postgres) Clear(ctx context.Context) error {
	if err := l.db.WithContext(ctx).Delete(&membershipRow{}, "device = ?", l.key).Error; err != nil {
		return fmt.Errorf("clear membership: %w", err)
	}
	return nil
}

func (l *Postgres) Close() error {
	sqlDB, err := l.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
