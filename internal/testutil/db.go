// Package testutil 测试用的内存数据库
package testutil

import (
	"fmt"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"SafeCircle/storage/database"
)

var dbSeq int64

// DB 每个测试一个独立的内存 SQLite，迁移与生产使用同一份模型列表
func DB(t testing.TB) *gorm.DB {
	t.Helper()

	dsn := fmt.Sprintf("file:safecircle_test_%d?mode=memory&cache=shared", atomic.AddInt64(&dbSeq, 1))

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Default.LogMode(gormlogger.Silent),
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	require.NoError(t, err)

	sqlDB, err := db.DB()
	require.NoError(t, err)
	// 内存库只在连接存活期间存在，单连接同时串行化并发写
	sqlDB.SetMaxOpenConns(1)

	require.NoError(t, database.Migrate(db))

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})
	return db
}
