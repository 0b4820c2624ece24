package exports

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"path/filepath"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"github.com/xitongsys/parquet-go-source/local"
	"github.com/xitongsys/parquet-go/reader"
	"gorm.io/gorm"

	"creditindexer/numeric"
	"creditindexer/store"
)

func seed(t *testing.T) *store.Store {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	st, err := store.New(db)
	require.NoError(t, err)
	t.Cleanup(func() { _ = st.Close() })

	rows := []store.Transaction{
		{Record: store.Record{ID: "0xaa-1"}, Category: "SENIOR_POOL_DEPOSIT", User: "0xc1", BlockNumber: 10, Timestamp: 1000,
			SentAmount: numeric.IntFromInt64(500), SentToken: "USDC", ReceivedAmount: numeric.IntFromInt64(490), ReceivedToken: "FIDU",
			FiduPrice: numeric.MustDec("1.02")},
		{Record: store.Record{ID: "0xbb-2"}, Category: "TRANCHED_POOL_DEPOSIT", User: "0xc2", TranchedPool: "0xb1", BlockNumber: 11,
			SentAmount: numeric.IntFromInt64(70), SentToken: "USDC"},
		{Record: store.Record{ID: "0xcc-3"}, Category: "SENIOR_POOL_DEPOSIT", User: "0xc2", BlockNumber: 12,
			SentAmount: numeric.IntFromInt64(30), SentToken: "USDC"},
	}
	for i := range rows {
		row := rows[i]
		require.NoError(t, st.Transaction(context.Background(), row.BlockNumber, func(tx *store.Tx) error {
			return store.Save(tx, &row)
		}))
	}
	return st
}

func TestParseFormat(t *testing.T) {
	f, err := ParseFormat(" Parquet ")
	require.NoError(t, err)
	require.Equal(t, FormatParquet, f)
	f, err = ParseFormat("ndjson")
	require.NoError(t, err)
	require.Equal(t, FormatJSONL, f)
	_, err = ParseFormat("csv")
	require.ErrorIs(t, err, ErrUnknownFormat)
}

func TestExportJSONLFiltersAndOrders(t *testing.T) {
	st := seed(t)
	var buf bytes.Buffer
	n, err := Export(context.Background(), st, &buf, FormatJSONL, Filter{Category: "SENIOR_POOL_DEPOSIT"})
	require.NoError(t, err)
	require.Equal(t, 2, n)

	var got []Row
	scanner := bufio.NewScanner(&buf)
	for scanner.Scan() {
		var row Row
		require.NoError(t, json.Unmarshal(scanner.Bytes(), &row))
		got = append(got, row)
	}
	require.Len(t, got, 2)
	require.Equal(t, "0xaa-1", got[0].ID)
	require.Equal(t, "1.02", got[0].FiduPrice)
	require.Equal(t, "490", got[0].ReceivedAmount)
	require.Equal(t, "0xcc-3", got[1].ID)
}

func TestExportBlockRange(t *testing.T) {
	st := seed(t)
	var buf bytes.Buffer
	n, err := Export(context.Background(), st, &buf, FormatJSONL, Filter{FromBlock: 11, ToBlock: 11})
	require.NoError(t, err)
	require.Equal(t, 1, n)
	require.Contains(t, buf.String(), `"tranchedPool":"0xb1"`)

	n, err = Export(context.Background(), st, &buf, FormatJSONL, Filter{User: "0xC2"})
	require.NoError(t, err)
	require.Equal(t, 2, n)
}

func TestExportParquetRoundTrip(t *testing.T) {
	st := seed(t)
	path := filepath.Join(t.TempDir(), "audit.parquet")
	n, err := ExportFile(context.Background(), st, path, FormatParquet, Filter{})
	require.NoError(t, err)
	require.Equal(t, 3, n)

	fr, err := local.NewLocalFileReader(path)
	require.NoError(t, err)
	defer fr.Close()
	pr, err := reader.NewParquetReader(fr, new(Row), 1)
	require.NoError(t, err)
	defer pr.ReadStop()
	require.Equal(t, int64(3), pr.GetNumRows())

	rows := make([]Row, 3)
	require.NoError(t, pr.Read(&rows))
	require.Equal(t, "0xaa-1", rows[0].ID)
	require.Equal(t, int64(10), rows[0].BlockNumber)
	require.Equal(t, "TRANCHED_POOL_DEPOSIT", rows[1].Category)
	require.Equal(t, "30", rows[2].SentAmount)
}

func TestExportUnknownFormat(t *testing.T) {
	st := seed(t)
	_, err := Export(context.Background(), st, &bytes.Buffer{}, Format("xml"), Filter{})
	require.ErrorIs(t, err, ErrUnknownFormat)
}
