package codec

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/roach88/stringpool/internal/ir"
)

// Element and attribute names of the wire format.
const (
	tagSet    = "stringSet"
	tagString = "string"
	tagPlain  = "stringPlain"
	tagParsed = "stringParsed"

	attrID              = "id"
	attrCanonicalID     = "canonicalId"
	attrCreateTime      = "createTime"
	attrCreateDomain    = "createDomain"
	attrCreateUser      = "createUser"
	attrUpdateTime      = "updateTime"
	attrUpdateDomain    = "updateDomain"
	attrUpdateUser      = "updateUser"
	attrLocalUpdateTime = "localUpdateTime"
	attrDeleted         = "deleted"
	attrParseChecksum   = "parseChecksum"
	attrParseError      = "parseError"
	attrType            = "type"
	attrCreated         = "created"
	attrUpdated         = "updated"
)

// errStop ends a Tokenize run early without reporting a failure.
var errStop = errors.New("stop")

// recordDecoder turns the token stream of a stringSet into records. It is
// fed by Tokenize and calls emit once per complete string element.
type recordDecoder struct {
	emit func(ir.WriteResult) error

	inRecord    bool
	current     ir.WriteResult
	inPlain     bool
	plain       strings.Builder
	parsedDepth int // >0 while inside stringParsed
	parsed      bytes.Buffer
	hasParsed   bool
	count       int
}

func (d *recordDecoder) handle(tok Token) error {
	if d.parsedDepth > 0 {
		return d.handleParsed(tok)
	}
	switch tok.Kind {
	case StartTag:
		switch tok.Name {
		case tagString:
			if d.inRecord {
				return fmt.Errorf("nested <%s> in record %q", tagString, d.current.ID)
			}
			rec, err := recordFromAttrs(tok)
			if err != nil {
				return err
			}
			d.inRecord = true
			d.current = rec
			d.plain.Reset()
			d.parsed.Reset()
			d.hasParsed = false
		case tagPlain:
			if d.inRecord {
				d.inPlain = true
			}
		case tagParsed:
			if d.inRecord {
				d.parsedDepth = 1
				d.hasParsed = true
			}
		}
	case EndTag:
		switch tok.Name {
		case tagPlain:
			d.inPlain = false
		case tagString:
			if !d.inRecord {
				return nil
			}
			d.inRecord = false
			d.current.PlainText = d.plain.String()
			if d.hasParsed && d.parsed.Len() > 0 {
				d.current.Parsed = bytes.Clone(d.parsed.Bytes())
			}
			d.count++
			return d.emit(d.current)
		}
	case Text:
		if d.inPlain {
			d.plain.WriteString(tok.Text)
		}
	}
	return nil
}

// handleParsed copies structured content through, tracking nesting so that
// tags named like envelope elements are treated as content.
func (d *recordDecoder) handleParsed(tok Token) error {
	switch tok.Kind {
	case StartTag:
		d.parsedDepth++
	case EndTag:
		d.parsedDepth--
		if d.parsedDepth == 0 {
			// closing stringParsed itself
			return nil
		}
	}
	writeToken(&d.parsed, tok)
	return nil
}

// pending returns the id of a record whose decoding was started but not
// finished, for error reporting.
func (d *recordDecoder) pending() (string, bool) {
	return d.current.ID, d.inRecord
}

func recordFromAttrs(tok Token) (ir.WriteResult, error) {
	var res ir.WriteResult
	for _, a := range tok.Attrs {
		v := a.Value
		var err error
		switch qualified(a.Name) {
		case attrID:
			res.ID = v
		case attrCanonicalID:
			res.CanonicalID = v
		case attrCreateTime:
			res.CreateTime, err = ParseTime(v)
		case attrCreateDomain:
			res.CreateDomain = v
		case attrCreateUser:
			res.CreateUser = v
		case attrUpdateTime:
			res.UpdateTime, err = ParseTime(v)
		case attrUpdateDomain:
			res.UpdateDomain = v
		case attrUpdateUser:
			res.UpdateUser = v
		case attrLocalUpdateTime:
			res.LocalUpdateTime, err = ParseTime(v)
		case attrDeleted:
			res.Deleted = v == "true"
		case attrParseChecksum:
			res.ParseChecksum = v
		case attrParseError:
			res.ParseError = v
		case attrType:
			res.Type = v
		case attrCreated:
			res.Created = v == "true"
		case attrUpdated:
			res.Updated = v == "true"
		}
		if err != nil {
			return res, fmt.Errorf("attribute %s of record %q: %w", qualified(a.Name), res.ID, err)
		}
	}
	return res, nil
}

// ParseTime parses a wire timestamp: epoch milliseconds, or an HTTP date
// (second resolution). Empty means zero.
func ParseTime(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, nil
	}
	if ms, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ms, nil
	}
	t, err := http.ParseTime(s)
	if err != nil {
		return 0, fmt.Errorf("invalid timestamp %q", s)
	}
	return t.UnixMilli(), nil
}

// decodeInto runs the push parse of r, calling emit per decoded record.
// A failure is classified as a DECODE error; when it interrupts a record,
// the error names that record so its absence is reported.
func decodeInto(r io.Reader, emit func(ir.WriteResult) error) error {
	d := &recordDecoder{emit: emit}
	err := Tokenize(r, d.handle)
	if err == nil || errors.Is(err, errStop) {
		return nil
	}
	if errors.Is(err, errClosed) || errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return err
	}
	var pe *ir.Error
	if errors.As(err, &pe) {
		return err
	}
	if id, ok := d.pending(); ok {
		return ir.NewDecodeError("codec.decode",
			fmt.Sprintf("truncated record %q after %d complete records", id, d.count), err)
	}
	return ir.NewDecodeError("codec.decode", fmt.Sprintf("after %d complete records", d.count), err)
}

// DecodeAll decodes every record of r into a slice. On error the records
// decoded before the failure are returned along with it.
func DecodeAll(r io.Reader) ([]ir.Record, error) {
	out := []ir.Record{}
	err := decodeInto(r, func(res ir.WriteResult) error {
		out = append(out, res.Record)
		return nil
	})
	return out, err
}
