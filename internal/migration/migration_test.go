package migration

import (
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

func TestSchemaFingerprint(t *testing.T) {
	first, err := SchemaFingerprint()
	require.NoError(t, err)
	assert.Equal(t, uint(1), first.Version)
	assert.Len(t, first.Checksum, 64)

	second, err := SchemaFingerprint()
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestParseMigrationVersion(t *testing.T) {
	v, ok := parseMigrationVersion("0007_add_refunds.up.sql")
	assert.True(t, ok)
	assert.Equal(t, uint(7), v)

	_, ok = parseMigrationVersion("init.up.sql")
	assert.False(t, ok)
	_, ok = parseMigrationVersion("0000_empty.up.sql")
	assert.False(t, ok)
}

func TestLockKeyIsStable(t *testing.T) {
	assert.Equal(t, lockKey(), lockKey())
	assert.NotZero(t, lockKey())
}

func TestRunAutoMigratesSqlite(t *testing.T) {
	conn, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	require.NoError(t, err)

	require.NoError(t, Run(conn, "sqlite", zap.NewNop()))
	for _, table := range []string{"customers", "customer_provider_links", "payment_intents", "refunds", "subscriptions", "webhook_events", "usage_events", "audit_logs"} {
		assert.True(t, conn.Migrator().HasTable(table), table)
	}

	require.Error(t, Run(conn, "oracle", zap.NewNop()))
}
