package codec

import (
	"bufio"
	"bytes"
	"errors"
	"io"
	"strconv"

	"github.com/roach88/stringpool/internal/ir"
)

const header = `<?xml version="1.0" encoding="UTF-8"?>` + "\n"

// ErrEncoderClosed is returned when writing to a closed Encoder.
var ErrEncoderClosed = errors.New("encoder closed")

// Encoder streams a stringSet document to a writer, one element at a time.
// The envelope is opened by the first write and closed by Close.
type Encoder struct {
	w       *bufio.Writer
	buf     bytes.Buffer
	started bool
	closed  bool
}

// NewEncoder returns an Encoder writing to w.
func NewEncoder(w io.Writer) *Encoder {
	return &Encoder{w: bufio.NewWriter(w)}
}

// WriteRecord writes a full record: metadata, plain text and structured
// representation. The receiving node assigns its own localUpdateTime, so
// the sender's is not written.
func (e *Encoder) WriteRecord(rec *ir.Record) error {
	return e.writeElement(rec, nil)
}

// WriteResult writes an upload result: the record plus its flags.
func (e *Encoder) WriteResult(res *ir.WriteResult) error {
	return e.writeElement(&res.Record, res)
}

// WriteFeedEntry writes a content-free feed entry.
func (e *Encoder) WriteFeedEntry(fe *ir.FeedEntry) error {
	if err := e.open(); err != nil {
		return err
	}
	e.buf.Reset()
	e.buf.WriteString("<" + tagString)
	e.attr(attrID, fe.ID)
	e.attr(attrCanonicalID, fe.CanonicalID)
	e.timeAttr(attrCreateTime, fe.CreateTime)
	e.timeAttr(attrUpdateTime, fe.UpdateTime)
	e.timeAttr(attrLocalUpdateTime, fe.LocalUpdateTime)
	e.attr(attrDeleted, strconv.FormatBool(fe.Deleted))
	e.attr(attrParseChecksum, fe.ParseChecksum)
	e.buf.WriteString("/>\n")
	_, err := e.w.Write(e.buf.Bytes())
	return err
}

// Close writes the end of the envelope and flushes. An Encoder that never
// wrote an element still produces an empty, valid stringSet.
func (e *Encoder) Close() error {
	if e.closed {
		return nil
	}
	if err := e.open(); err != nil {
		return err
	}
	e.closed = true
	if _, err := e.w.WriteString("</" + tagSet + ">\n"); err != nil {
		return err
	}
	return e.w.Flush()
}

// Flush sends buffered output to the underlying writer.
func (e *Encoder) Flush() error {
	return e.w.Flush()
}

func (e *Encoder) open() error {
	if e.closed {
		return ErrEncoderClosed
	}
	if e.started {
		return nil
	}
	e.started = true
	_, err := e.w.WriteString(header + "<" + tagSet + ">\n")
	return err
}

func (e *Encoder) writeElement(rec *ir.Record, res *ir.WriteResult) error {
	if err := e.open(); err != nil {
		return err
	}
	e.buf.Reset()
	e.buf.WriteString("<" + tagString)
	e.attr(attrID, rec.ID)
	e.attr(attrCanonicalID, rec.CanonicalID)
	e.timeAttr(attrCreateTime, rec.CreateTime)
	e.attr(attrCreateDomain, rec.CreateDomain)
	e.attr(attrCreateUser, rec.CreateUser)
	e.timeAttr(attrUpdateTime, rec.UpdateTime)
	e.attr(attrUpdateDomain, rec.UpdateDomain)
	e.attr(attrUpdateUser, rec.UpdateUser)
	e.attr(attrDeleted, strconv.FormatBool(rec.Deleted))
	e.attr(attrParseChecksum, rec.ParseChecksum)
	e.attr(attrParseError, rec.ParseError)
	e.attr(attrType, rec.Type)
	if res != nil {
		e.attr(attrCreated, strconv.FormatBool(res.Created))
		e.attr(attrUpdated, strconv.FormatBool(res.Updated))
	}
	e.buf.WriteString(">")
	e.buf.WriteString("<" + tagPlain + ">")
	escape(&e.buf, rec.PlainText)
	e.buf.WriteString("</" + tagPlain + ">")
	if len(rec.Parsed) > 0 {
		e.buf.WriteString("<" + tagParsed + ">")
		e.buf.Write(rec.Parsed)
		e.buf.WriteString("</" + tagParsed + ">")
	}
	e.buf.WriteString("</" + tagString + ">\n")
	_, err := e.w.Write(e.buf.Bytes())
	return err
}

func (e *Encoder) attr(name, value string) {
	if value == "" {
		return
	}
	e.buf.WriteString(" " + name + `="`)
	escape(&e.buf, value)
	e.buf.WriteByte('"')
}

func (e *Encoder) timeAttr(name string, ms int64) {
	if ms == 0 {
		return
	}
	e.attr(name, strconv.FormatInt(ms, 10))
}

// EncodeRecords writes recs as one stringSet document.
func EncodeRecords(w io.Writer, recs []ir.Record) error {
	enc := NewEncoder(w)
	for i := range recs {
		if err := enc.WriteRecord(&recs[i]); err != nil {
			return err
		}
	}
	return enc.Close()
}

// EncodeFeed writes entries as one stringSet document.
func EncodeFeed(w io.Writer, entries []ir.FeedEntry) error {
	enc := NewEncoder(w)
	for i := range entries {
		if err := enc.WriteFeedEntry(&entries[i]); err != nil {
			return err
		}
	}
	return enc.Close()
}
