package db

import (
	"fmt"
	"sync/atomic"
	"time"

	glebarez "github.com/glebarez/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

var testDBSeq atomic.Int64

// NewTest opens an isolated in-memory sqlite database. Every call gets its
// own schema namespace so tests in one package do not share tables.
func NewTest() (*gorm.DB, error) {
	dsn := fmt.Sprintf("file:tokenlens_test_%d?mode=memory&cache=shared", testDBSeq.Add(1))
	gdb, err := gorm.Open(glebarez.Open(dsn), &gorm.Config{
		Logger:  gormlogger.Discard,
		NowFunc: func() time.Time { return time.Now().UTC() },
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := gdb.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(1)
	sqlDB.SetMaxIdleConns(1)

	return gdb, nil
}

// NewTestConn wraps NewTest in a Conn for repository tests.
func NewTestConn() (*Conn, error) {
	gdb, err := NewTest()
	if err != nil {
		return nil, err
	}
	return &Conn{Backend: BackendSQL, SQL: gdb, OpTimeout: 5 * time.Second}, nil
}
