package codec

import (
	"bytes"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"strings"
)

// TokenKind identifies the type of a Token.
type TokenKind int

const (
	StartTag TokenKind = iota
	EndTag
	Text
)

// Token is one lexical unit of an XML document.
type Token struct {
	Kind  TokenKind
	Name  string // qualified tag name, StartTag and EndTag only
	Attrs []xml.Attr
	Text  string // unescaped character data, Text only
}

// Attr returns the value of the named attribute.
func (t Token) Attr(name string) (string, bool) {
	for _, a := range t.Attrs {
		if qualified(a.Name) == name {
			return a.Value, true
		}
	}
	return "", false
}

// TokenHandler receives tokens from Tokenize. Returning an error stops the
// parse and makes Tokenize return that error.
type TokenHandler func(Token) error

// ErrUnbalanced reports a document whose tags do not nest.
var ErrUnbalanced = errors.New("unbalanced tags")

// Tokenize parses r incrementally and pushes every start tag, end tag and
// character data run to h, in document order. Comments, processing
// instructions and directives are skipped. Tag nesting is verified.
func Tokenize(r io.Reader, h TokenHandler) error {
	d := xml.NewDecoder(r)
	d.Strict = true
	var open []string
	for {
		raw, err := d.RawToken()
		if err == io.EOF {
			if len(open) > 0 {
				return fmt.Errorf("%w: unexpected end of input inside <%s>", ErrUnbalanced, open[len(open)-1])
			}
			return nil
		}
		if err != nil {
			return err
		}
		var tok Token
		switch t := raw.(type) {
		case xml.StartElement:
			tok = Token{Kind: StartTag, Name: qualified(t.Name), Attrs: copyAttrs(t.Attr)}
			open = append(open, tok.Name)
		case xml.EndElement:
			name := qualified(t.Name)
			if len(open) == 0 || open[len(open)-1] != name {
				return fmt.Errorf("%w: unexpected </%s>", ErrUnbalanced, name)
			}
			open = open[:len(open)-1]
			tok = Token{Kind: EndTag, Name: name}
		case xml.CharData:
			tok = Token{Kind: Text, Text: string(t)}
		default:
			continue
		}
		if err := h(tok); err != nil {
			return err
		}
	}
}

func qualified(n xml.Name) string {
	if n.Space == "" {
		return n.Local
	}
	return n.Space + ":" + n.Local
}

func copyAttrs(attrs []xml.Attr) []xml.Attr {
	if len(attrs) == 0 {
		return nil
	}
	out := make([]xml.Attr, len(attrs))
	copy(out, attrs)
	return out
}

// writeToken serializes tok back to XML text.
func writeToken(buf *bytes.Buffer, tok Token) {
	switch tok.Kind {
	case StartTag:
		buf.WriteByte('<')
		buf.WriteString(tok.Name)
		for _, a := range tok.Attrs {
			buf.WriteByte(' ')
			buf.WriteString(qualified(a.Name))
			buf.WriteString(`="`)
			escape(buf, a.Value)
			buf.WriteByte('"')
		}
		buf.WriteByte('>')
	case EndTag:
		buf.WriteString("</")
		buf.WriteString(tok.Name)
		buf.WriteByte('>')
	case Text:
		escape(buf, tok.Text)
	}
}

func escape(buf *bytes.Buffer, s string) {
	_ = xml.EscapeText(buf, []byte(s))
}

func isBlank(s string) bool {
	return strings.TrimSpace(s) == ""
}
