package database_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/carvexyz/carve/business/sys/database"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest"
	"go.uber.org/zap/zaptest/observer"
	"gorm.io/gorm"
)

type widget struct {
	ID   uint
	Name string
}

func TestOpenSQLite(t *testing.T) {
	db, err := database.Open(database.Config{
		Log:          zaptest.NewLogger(t).Sugar(),
		Driver:       "sqlite",
		Path:         "file:database_test?mode=memory&cache=shared",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	require.NoError(t, database.StatusCheck(ctx, db))

	require.NoError(t, db.AutoMigrate(&widget{}))

	log := zaptest.NewLogger(t).Sugar()
	failed := errors.New("boom")

	err = database.WithTx(ctx, log, db, func(tx *gorm.DB) error {
		if err := tx.Create(&widget{Name: "a"}).Error; err != nil {
			return err
		}
		return failed
	})
	require.ErrorIs(t, err, failed)

	var n int64
	require.NoError(t, db.Model(&widget{}).Count(&n).Error)
	require.Zero(t, n)
}

func TestOpenUnknownDriver(t *testing.T) {
	_, err := database.Open(database.Config{Driver: "oracle"})
	require.Error(t, err)
}

func TestQueryErrorsLogged(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)

	db, err := database.Open(database.Config{
		Log:          zap.New(core).Sugar(),
		Driver:       "sqlite",
		Path:         "file:database_logged?mode=memory&cache=shared",
		MaxIdleConns: 1,
		MaxOpenConns: 1,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = database.Close(db) })

	require.NoError(t, db.AutoMigrate(&widget{}))

	var w widget
	err = db.First(&w, 42).Error
	require.ErrorIs(t, err, gorm.ErrRecordNotFound)
	require.Zero(t, logs.Len(), "a missing record is not an error worth logging")

	err = db.Table("no_such_table").First(&w).Error
	require.Error(t, err)

	entries := logs.FilterMessage("database").FilterField(zap.String("status", "query failed")).All()
	require.Len(t, entries, 1)
	require.Equal(t, zapcore.ErrorLevel, entries[0].Level)
}
