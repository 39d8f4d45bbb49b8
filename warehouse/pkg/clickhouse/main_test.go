package clickhouse_test

import (
	"context"
	"os"
	"testing"

	citylaketesting "github.com/malbeclabs/citylake/utils/pkg/testing"
	"github.com/malbeclabs/citylake/warehouse/pkg/clickhouse"
	clickhousetesting "github.com/malbeclabs/citylake/warehouse/pkg/clickhouse/testing"
	"github.com/stretchr/testify/require"
)

var (
	sharedDB *clickhousetesting.DB
)

func TestMain(m *testing.M) {
	log := citylaketesting.NewLogger()
	var err error
	sharedDB, err = clickhousetesting.NewDB(context.Background(), log, nil)
	if err != nil {
		log.Error("failed to create shared DB", "error", err)
		os.Exit(1)
	}
	code := m.Run()
	sharedDB.Close()
	os.Exit(code)
}

func testConn(t *testing.T, client clickhouse.Client) clickhouse.Connection {
	conn, err := client.Conn(t.Context())
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return conn
}
