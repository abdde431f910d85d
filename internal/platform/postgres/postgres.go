package postgres

import (
	"context"
	"time"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"gopherai-rag/internal/platform/database"
)

// New opens a pooled gorm connection to PostgreSQL and verifies it with a ping.
func New(ctx context.Context, dsn string) (*gorm.DB, error) {
	return database.Open(ctx, "postgres", postgres.Open(dsn), database.Pool{
		MaxIdleConns:    10,
		MaxOpenConns:    30,
		ConnMaxLifetime: 30 * time.Minute,
	})
}
