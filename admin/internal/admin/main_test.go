package admin

import (
	"context"
	"os"
	"testing"

	citylaketesting "github.com/malbeclabs/citylake/utils/pkg/testing"
	clickhousetesting "github.com/malbeclabs/citylake/warehouse/pkg/clickhouse/testing"
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
