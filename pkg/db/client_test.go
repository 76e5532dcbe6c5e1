package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/angelmondragon/storefront-checkout/pkg/config"
)

type ledgerRow struct {
	ID        int
	Reference string
}

func openSQLite(t *testing.T) *gorm.DB {
	t.Helper()
	name := strings.NewReplacer("/", "_", " ", "_").Replace(t.Name())
	conn, err := gorm.Open(sqlite.Open(fmt.Sprintf("file:%s?mode=memory&cache=shared", name)), &gorm.Config{
		SkipDefaultTransaction: true,
	})
	require.NoError(t, err)
	require.NoError(t, conn.AutoMigrate(&ledgerRow{}))
	return conn
}

func countRows(t *testing.T, conn *gorm.DB) int64 {
	t.Helper()
	var n int64
	require.NoError(t, conn.Model(&ledgerRow{}).Count(&n).Error)
	return n
}

func TestWithTx(t *testing.T) {
	conn := openSQLite(t)
	client := FromConn(conn)
	ctx := context.Background()

	err := client.WithTx(ctx, func(tx *gorm.DB) error {
		return tx.Create(&ledgerRow{Reference: "SF-1"}).Error
	})
	require.NoError(t, err)
	assert.EqualValues(t, 1, countRows(t, conn))

	failure := errors.New("reconcile failed")
	err = client.WithTx(ctx, func(tx *gorm.DB) error {
		require.NoError(t, tx.Create(&ledgerRow{Reference: "SF-2"}).Error)
		return failure
	})
	assert.ErrorIs(t, err, failure)
	assert.EqualValues(t, 1, countRows(t, conn), "failed transaction must roll back")

	assert.Panics(t, func() {
		_ = client.WithTx(ctx, func(tx *gorm.DB) error {
			require.NoError(t, tx.Create(&ledgerRow{Reference: "SF-3"}).Error)
			panic("boom")
		})
	})
	assert.EqualValues(t, 1, countRows(t, conn), "panicking transaction must roll back")
}

func TestPingAndClose(t *testing.T) {
	client := FromConn(openSQLite(t))
	require.NoError(t, client.Ping(context.Background()))
	require.NoError(t, client.Close())
	assert.Error(t, client.Ping(context.Background()))
}

func TestNewRequiresDSN(t *testing.T) {
	_, err := New(context.Background(), config.DBConfig{}, nil)
	assert.ErrorIs(t, err, errDSNRequired)
}

func TestIsUniqueViolation(t *testing.T) {
	const constraint = "ux_orders_payment_reference"
	tests := []struct {
		name       string
		err        error
		constraint string
		want       bool
	}{
		{name: "nil", want: false},
		{name: "gorm sentinel", err: gorm.ErrDuplicatedKey, want: true},
		{name: "postgres text", err: errors.New(`duplicate key value violates unique constraint "` + constraint + `"`), constraint: constraint, want: true},
		{name: "other constraint", err: errors.New(`duplicate key value violates unique constraint "ux_other"`), constraint: constraint, want: false},
		{name: "sqlite text", err: errors.New("UNIQUE constraint failed: orders.payment_reference"), want: true},
		{name: "unrelated", err: errors.New("connection refused"), want: false},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, IsUniqueViolation(tc.err, tc.constraint))
		})
	}
}

func TestUniqueViolationFromSQLite(t *testing.T) {
	conn := openSQLite(t)
	require.NoError(t, conn.Exec(`CREATE UNIQUE INDEX ux_ledger_reference ON ledger_rows (reference)`).Error)
	require.NoError(t, conn.Create(&ledgerRow{Reference: "SF-1"}).Error)

	err := conn.Create(&ledgerRow{Reference: "SF-1"}).Error
	assert.True(t, IsUniqueViolation(err, ""), "got %v", err)
	assert.True(t, IsNotFound(conn.First(&ledgerRow{}, "reference = ?", "SF-404").Error))
}
