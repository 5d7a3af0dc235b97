package codec

import (
	"bytes"
	"strings"
)

// Canonicalize returns the canonical serialization of a structured blob:
// tags and text re-serialized with uniform escaping, whitespace-only text
// between tags removed, comments and processing instructions dropped.
// Two blobs that differ only in layout canonicalize to the same bytes.
func Canonicalize(blob []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := Tokenize(bytes.NewReader(blob), func(tok Token) error {
		if tok.Kind == Text && isBlank(tok.Text) {
			return nil
		}
		writeToken(&buf, tok)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// TextContent returns the concatenated character data of a blob.
func TextContent(blob []byte) (string, error) {
	var sb strings.Builder
	err := Tokenize(bytes.NewReader(blob), func(tok Token) error {
		if tok.Kind == Text {
			sb.WriteString(tok.Text)
		}
		return nil
	})
	if err != nil {
		return "", err
	}
	return sb.String(), nil
}

// TypeOf returns the type attribute of the blob's root element.
func TypeOf(blob []byte) string {
	var typ string
	seen := false
	_ = Tokenize(bytes.NewReader(blob), func(tok Token) error {
		if tok.Kind != StartTag || seen {
			return nil
		}
		seen = true
		typ, _ = tok.Attr("type")
		return errStop
	})
	return typ
}

// Details flattens a blob into name/value pairs: the attributes of the root
// element, then the text of the first element of each name below it. Names
// already taken by root attributes win.
func Details(blob []byte) (map[string]string, error) {
	details := map[string]string{}
	depth := 0
	var stack []string
	texts := map[string]*strings.Builder{}
	done := map[string]bool{}
	err := Tokenize(bytes.NewReader(blob), func(tok Token) error {
		switch tok.Kind {
		case StartTag:
			depth++
			if depth == 1 {
				for _, a := range tok.Attrs {
					details[qualified(a.Name)] = a.Value
				}
				return nil
			}
			stack = append(stack, tok.Name)
			if _, ok := texts[tok.Name]; !ok && !done[tok.Name] {
				texts[tok.Name] = &strings.Builder{}
			}
		case EndTag:
			depth--
			if len(stack) == 0 {
				return nil
			}
			name := stack[len(stack)-1]
			stack = stack[:len(stack)-1]
			if sb, ok := texts[name]; ok && !done[name] && !contains(stack, name) {
				done[name] = true
				if _, taken := details[name]; !taken {
					details[name] = strings.Join(strings.Fields(sb.String()), " ")
				}
			}
		case Text:
			for _, name := range stack {
				if sb, ok := texts[name]; ok && !done[name] {
					sb.WriteString(tok.Text)
				}
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return details, nil
}

// Identifiers collects external identifiers: every element named ID with a
// type attribute contributes type -> text. The first value of a type wins.
func Identifiers(blob []byte) (map[string]string, error) {
	ids := map[string]string{}
	var current string
	var sb strings.Builder
	inID := false
	err := Tokenize(bytes.NewReader(blob), func(tok Token) error {
		switch tok.Kind {
		case StartTag:
			if tok.Name == "ID" {
				current, _ = tok.Attr("type")
				inID = true
				sb.Reset()
			}
		case EndTag:
			if tok.Name == "ID" && inID {
				inID = false
				value := strings.TrimSpace(sb.String())
				if _, ok := ids[current]; current != "" && value != "" && !ok {
					ids[current] = value
				}
			}
		case Text:
			if inID {
				sb.WriteString(tok.Text)
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return ids, nil
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

// Reserialize rewrites a blob in the form the decoder produces: every
// token re-serialized with uniform escaping, whitespace kept. Stored blobs
// use this form so a record decoded from a peer compares equal to the
// record the peer stored.
func Reserialize(blob []byte) ([]byte, error) {
	var buf bytes.Buffer
	err := Tokenize(bytes.NewReader(blob), func(tok Token) error {
		writeToken(&buf, tok)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
