package mysql

import (
	"context"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"

	"gopherai-rag/internal/platform/database"
)

// New connects to MySQL. Fragment scans during queries are long reads, so
// the pool keeps more open connections than the Postgres one.
func New(ctx context.Context, dsn string) (*gorm.DB, error) {
	return database.Open(ctx, "mysql", mysql.Open(dsn), database.Pool{
		MaxIdleConns:    10,
		MaxOpenConns:    50,
		ConnMaxLifetime: time.Hour,
		ConnMaxIdleTime: 30 * time.Minute,
	})
}
