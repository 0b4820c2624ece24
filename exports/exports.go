// Package exports writes the audit log out of the entity store as Parquet or
// JSON Lines for offline reconciliation.
package exports

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"

	"creditindexer/store"
)

// Format selects the encoding.
type Format string

const (
	FormatParquet Format = "parquet"
	FormatJSONL   Format = "jsonl"
)

// ErrUnknownFormat is returned for a format other than parquet or jsonl.
var ErrUnknownFormat = errors.New("exports: unknown format")

const pageSize = 1000

// ParseFormat accepts the CLI spelling of a format.
func ParseFormat(raw string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "parquet":
		return FormatParquet, nil
	case "jsonl", "ndjson":
		return FormatJSONL, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownFormat, raw)
	}
}

// Filter narrows the exported transactions. Zero fields match everything;
// ToBlock is inclusive.
type Filter struct {
	Category  string
	User      string
	FromBlock uint64
	ToBlock   uint64
}

func (f Filter) query() store.Query {
	q := store.Query{Where: map[string]any{}, Order: "block_number"}
	if f.Category != "" {
		q.Where["category"] = f.Category
	}
	if f.User != "" {
		q.Where["user_id"] = strings.ToLower(f.User)
	}
	return q
}

func (f Filter) match(tx store.Transaction) bool {
	if tx.BlockNumber < f.FromBlock {
		return false
	}
	return f.ToBlock == 0 || tx.BlockNumber <= f.ToBlock
}

// Row is the flat export schema shared by both encodings.
type Row struct {
	ID             string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8" json:"id"`
	Category       string `parquet:"name=category, type=BYTE_ARRAY, convertedtype=UTF8" json:"category"`
	User           string `parquet:"name=user, type=BYTE_ARRAY, convertedtype=UTF8" json:"user"`
	TranchedPool   string `parquet:"name=tranched_pool, type=BYTE_ARRAY, convertedtype=UTF8" json:"tranchedPool,omitempty"`
	SentAmount     string `parquet:"name=sent_amount, type=BYTE_ARRAY, convertedtype=UTF8" json:"sentAmount"`
	SentToken      string `parquet:"name=sent_token, type=BYTE_ARRAY, convertedtype=UTF8" json:"sentToken"`
	ReceivedAmount string `parquet:"name=received_amount, type=BYTE_ARRAY, convertedtype=UTF8" json:"receivedAmount"`
	ReceivedToken  string `parquet:"name=received_token, type=BYTE_ARRAY, convertedtype=UTF8" json:"receivedToken"`
	FiduPrice      string `parquet:"name=fidu_price, type=BYTE_ARRAY, convertedtype=UTF8" json:"fiduPrice"`
	Timestamp      int64  `parquet:"name=timestamp, type=INT64" json:"timestamp"`
	BlockNumber    int64  `parquet:"name=block_number, type=INT64" json:"blockNumber"`
	TxHash         string `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8" json:"transactionHash"`
}

func toRow(tx store.Transaction) Row {
	return Row{
		ID:             tx.ID,
		Category:       tx.Category,
		User:           tx.User,
		TranchedPool:   tx.TranchedPool,
		SentAmount:     tx.SentAmount.String(),
		SentToken:      tx.SentToken,
		ReceivedAmount: tx.ReceivedAmount.String(),
		ReceivedToken:  tx.ReceivedToken,
		FiduPrice:      tx.FiduPrice.String(),
		Timestamp:      int64(tx.Timestamp),
		BlockNumber:    int64(tx.BlockNumber),
		TxHash:         tx.TxHash,
	}
}

// scan pages through the audit log in block order and hands matching rows to fn.
func scan(ctx context.Context, st *store.Store, f Filter, fn func(Row) error) (int, error) {
	q := f.query()
	q.Limit = pageSize
	written := 0
	for {
		if err := ctx.Err(); err != nil {
			return written, err
		}
		page, err := store.List[store.Transaction](st, q)
		if err != nil {
			return written, err
		}
		for _, tx := range page {
			if !f.match(tx) {
				continue
			}
			if err := fn(toRow(tx)); err != nil {
				return written, err
			}
			written++
		}
		if len(page) < pageSize {
			return written, nil
		}
		q.Offset += pageSize
	}
}

// Export streams the filtered audit log to w and returns the row count.
func Export(ctx context.Context, st *store.Store, w io.Writer, format Format, f Filter) (int, error) {
	switch format {
	case FormatJSONL:
		return writeJSONL(ctx, st, w, f)
	case FormatParquet:
		return writeParquet(ctx, st, w, f)
	default:
		return 0, fmt.Errorf("%w: %q", ErrUnknownFormat, format)
	}
}

// ExportFile writes the export to path, replacing any existing file.
func ExportFile(ctx context.Context, st *store.Store, path string, format Format, f Filter) (int, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, fmt.Errorf("exports: create %s: %w", path, err)
	}
	n, err := Export(ctx, st, file, format, f)
	if err != nil {
		file.Close()
		return n, err
	}
	if err := file.Close(); err != nil {
		return n, fmt.Errorf("exports: close %s: %w", path, err)
	}
	return n, nil
}

func writeJSONL(ctx context.Context, st *store.Store, w io.Writer, f Filter) (int, error) {
	buf := bufio.NewWriter(w)
	enc := json.NewEncoder(buf)
	n, err := scan(ctx, st, f, func(row Row) error {
		return enc.Encode(row)
	})
	if err != nil {
		return n, fmt.Errorf("exports: jsonl write: %w", err)
	}
	if err := buf.Flush(); err != nil {
		return n, fmt.Errorf("exports: jsonl flush: %w", err)
	}
	return n, nil
}

func writeParquet(ctx context.Context, st *store.Store, w io.Writer, f Filter) (int, error) {
	fw := writerfile.NewWriterFile(w)
	pw, err := writer.NewParquetWriter(fw, new(Row), 1)
	if err != nil {
		return 0, fmt.Errorf("exports: parquet schema: %w", err)
	}
	pw.RowGroupSize = 128 * 1024 * 1024
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	n, err := scan(ctx, st, f, func(row Row) error {
		return pw.Write(&row)
	})
	if err != nil {
		pw.WriteStop()
		return n, fmt.Errorf("exports: parquet write: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		return n, fmt.Errorf("exports: parquet flush: %w", err)
	}
	return n, nil
}
