// Package dbtest contains supporting code for running tests that hit the DB.
package dbtest

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/carvexyz/carve/business/data/mirror"
	"github.com/carvexyz/carve/business/sys/database"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"
)

// Success and failure markers.
const (
	Success = "\u2713"
	Failed  = "\u2717"
)

// NewUnit opens an in-memory sqlite database named after the test and
// migrates the schema. The database goes away with the test.
func NewUnit(t *testing.T) (*zap.SugaredLogger, *gorm.DB) {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))

	log := zaptest.NewLogger(t).Sugar()

	db, err := database.Open(database.Config{
		Log:          log,
		Driver:       "sqlite",
		Path:         dsn,
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}

	if err := mirror.NewStore(log, db).Migrate(context.Background()); err != nil {
		t.Fatalf("migrate db: %v", err)
	}

	t.Cleanup(func() {
		_ = database.Close(db)
	})

	return log, db
}
