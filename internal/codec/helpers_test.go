package codec

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/roach88/stringpool/internal/ir"
)

// fixtureRecords returns the two records used by the golden files.
func fixtureRecords() []ir.Record {
	return []ir.Record{
		{
			ID:              "C53D32FEF18A97F3B1403652DE1219CC",
			PlainText:       "Smith, J. 2001.",
			Parsed:          []byte(`<bib type="book"><author>Smith, J.</author> <year>2001</year></bib>`),
			ParseChecksum:   "0123456789ABCDEF0123456789ABCDEF",
			Type:            "book",
			CreateTime:      1700000000000,
			CreateDomain:    "node-a",
			CreateUser:      "alice",
			UpdateTime:      1700000000000,
			UpdateDomain:    "node-a",
			UpdateUser:      "alice",
			LocalUpdateTime: 1700000000500,
		},
		{
			ID:              "7043E919302936F1AF7E0ABF4844F4AD",
			CanonicalID:     "C53D32FEF18A97F3B1403652DE1219CC",
			PlainText:       "O'Brien & <Sons> - example",
			ParseError:      "text mismatch",
			CreateTime:      1700000001000,
			UpdateTime:      1700000002000,
			LocalUpdateTime: 1700000002100,
			Deleted:         true,
		},
	}
}

// encodeN returns a stringSet with n generated records.
func encodeN(t *testing.T, n int) []byte {
	t.Helper()
	recs := make([]ir.Record, n)
	for i := range recs {
		recs[i] = ir.Record{
			ID:         fmt.Sprintf("%032X", i+1),
			PlainText:  fmt.Sprintf("String number %d", i+1),
			CreateTime: int64(1000 + i),
			UpdateTime: int64(2000 + i),
		}
		if i%2 == 0 {
			recs[i].Parsed = []byte(fmt.Sprintf(`<bib><title>String number %d</title></bib>`, i+1))
		}
	}
	var buf bytes.Buffer
	require.NoError(t, EncodeRecords(&buf, recs))
	return buf.Bytes()
}

// withoutLocalTime clears the fields the encoder does not transmit.
func withoutLocalTime(recs []ir.Record) []ir.Record {
	out := make([]ir.Record, len(recs))
	for i, r := range recs {
		r.LocalUpdateTime = 0
		out[i] = r
	}
	return out
}
