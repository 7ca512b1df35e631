package db

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"helpdesk-ingest-go/internal/config"
	"helpdesk-ingest-go/internal/model"
)

func TestInitSQLite(t *testing.T) {
	cfg := config.DatabaseConfig{
		Driver: "sqlite",
		Path:   filepath.Join(t.TempDir(), "helpdesk.db"),
	}

	conn, err := Init(cfg)
	require.NoError(t, err)
	sqlDB, err := conn.DB()
	require.NoError(t, err)
	defer sqlDB.Close()

	for _, table := range []interface{}{&model.Mailbox{}, &model.Case{}, &model.Exchange{}, &model.Counter{}, &model.ProcessedMessage{}, &model.IngestLog{}} {
		assert.True(t, conn.Migrator().HasTable(table))
	}
}

func TestDialectorForUnknownDriver(t *testing.T) {
	_, err := dialectorFor(config.DatabaseConfig{Driver: "oracle"})
	assert.Error(t, err)
}

func TestSQLiteDSN(t *testing.T) {
	assert.Equal(t, "a.db?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)", sqliteDSN("a.db"))
	assert.Equal(t, "file:x?mode=memory", sqliteDSN("file:x?mode=memory"))
}
