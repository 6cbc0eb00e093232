package simpleasset

import (
	"bytes"
	"encoding/json"
	"fmt"
	"unicode/utf8"
)

// ContentKind tags the variant held by a Content value.
type ContentKind string

const (
	ContentEmpty      ContentKind = "empty"
	ContentText       ContentKind = "text"
	ContentStructured ContentKind = "structured"
)

// Content is the inline payload of a record: empty, raw text, or a
// structured JSON document. The zero value is empty content.
//
// Structured documents are held in canonical form, so Size is the charged
// byte count for every variant.
type Content struct {
	kind ContentKind
	text string
	doc  json.RawMessage
}

// EmptyContent returns content with no payload.
func EmptyContent() Content {
	return Content{kind: ContentEmpty}
}

// TextContent wraps a raw text payload. Invalid UTF-8 is replaced so that
// the charged size matches what is persisted.
func TextContent(s string) Content {
	if !utf8.ValidString(s) {
		s = string(bytes.ToValidUTF8([]byte(s), []byte("\uFFFD")))
	}
	return Content{kind: ContentText, text: s}
}

// StructuredContent canonicalizes any JSON-encodable document.
func StructuredContent(v any) (Content, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return Content{}, fmt.Errorf("%w: structured content: %v", ErrInvalidRequest, err)
	}
	return StructuredContentJSON(raw)
}

// StructuredContentJSON canonicalizes an encoded JSON document.
func StructuredContentJSON(raw []byte) (Content, error) {
	canon, err := canonicalJSON(raw)
	if err != nil {
		return Content{}, fmt.Errorf("%w: structured content: %v", ErrInvalidRequest, err)
	}
	return Content{kind: ContentStructured, doc: canon}, nil
}

// Kind returns the variant tag.
func (c Content) Kind() ContentKind {
	if c.kind == "" {
		return ContentEmpty
	}
	return c.kind
}

// Text returns the payload of a text variant.
func (c Content) Text() (string, bool) {
	return c.text, c.Kind() == ContentText
}

// Document returns the canonical JSON of a structured variant.
func (c Content) Document() (json.RawMessage, bool) {
	return c.doc, c.Kind() == ContentStructured
}

// Size returns the canonical byte size charged against quota.
func (c Content) Size() int64 {
	switch c.Kind() {
	case ContentText:
		return int64(len(c.text))
	case ContentStructured:
		return int64(len(c.doc))
	default:
		return 0
	}
}

// Equal reports whether both values hold the same canonical payload.
func (c Content) Equal(o Content) bool {
	if c.Kind() != o.Kind() {
		return false
	}
	switch c.Kind() {
	case ContentText:
		return c.text == o.text
	case ContentStructured:
		return bytes.Equal(c.doc, o.doc)
	default:
		return true
	}
}

type contentJSON struct {
	Kind     ContentKind     `json:"kind"`
	Text     *string         `json:"text,omitempty"`
	Document json.RawMessage `json:"document,omitempty"`
}

func (c Content) MarshalJSON() ([]byte, error) {
	out := contentJSON{Kind: c.Kind()}
	switch c.Kind() {
	case ContentText:
		text := c.text
		out.Text = &text
	case ContentStructured:
		out.Document = c.doc
	}
	return json.Marshal(out)
}

func (c *Content) UnmarshalJSON(data []byte) error {
	if bytes.Equal(bytes.TrimSpace(data), []byte("null")) {
		*c = EmptyContent()
		return nil
	}
	var in contentJSON
	if err := json.Unmarshal(data, &in); err != nil {
		return err
	}
	switch in.Kind {
	case "", ContentEmpty:
		*c = EmptyContent()
	case ContentText:
		if in.Text == nil {
			*c = TextContent("")
			return nil
		}
		*c = TextContent(*in.Text)
	case ContentStructured:
		if len(in.Document) == 0 {
			return fmt.Errorf("%w: structured content without document", ErrInvalidRequest)
		}
		parsed, err := StructuredContentJSON(in.Document)
		if err != nil {
			return err
		}
		*c = parsed
	default:
		return fmt.Errorf("%w: unknown content kind %q", ErrInvalidRequest, in.Kind)
	}
	return nil
}

// canonicalJSON re-encodes a document compactly with sorted object keys,
// no HTML escaping, and numbers kept as written.
func canonicalJSON(raw []byte) (json.RawMessage, error) {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after document")
	}

	var buf bytes.Buffer
	enc := json.NewEncoder(&buf)
	enc.SetEscapeHTML(false)
	if err := enc.Encode(v); err != nil {
		return nil, err
	}
	return json.RawMessage(bytes.TrimSuffix(buf.Bytes(), []byte("\n"))), nil
}
