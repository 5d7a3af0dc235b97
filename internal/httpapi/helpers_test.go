package httpapi

import (
	"context"
	"io"
	"testing"

	"github.com/roach88/stringpool/internal/codec"
	"github.com/roach88/stringpool/internal/ir"
)

func decodeResults(t *testing.T, r io.Reader) ir.Iterator[ir.WriteResult] {
	t.Helper()
	return codec.DecodeResults(context.Background(), r)
}

func decodeRecords(t *testing.T, r io.Reader) ir.Iterator[ir.Record] {
	t.Helper()
	return codec.Decode(context.Background(), r)
}
