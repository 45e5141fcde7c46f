// Package blocks decodes document content into an ordered list of typed blocks.
//
// Content arrives either as a bare JSON array of block records
// ({"id":..., "type":..., "content":..., ...type-specific fields}) or as a
// ProseMirror document ({"type":"doc","content":[...]}). Known block kinds
// decode into their own variant; anything else is kept as Unknown with the
// raw payload so callers can still compare it.
package blocks

import (
	"encoding/json"
	"errors"
	"strconv"
	"strings"
)

const (
	TypeParagraph        = "paragraph"
	TypeHeading          = "heading"
	TypeBulletListItem   = "bulletListItem"
	TypeNumberedListItem = "numberedListItem"
	TypeCheckListItem    = "checkListItem"
	TypeCodeBlock        = "codeBlock"
	TypeQuote            = "quote"
	TypeImage            = "image"
	TypeDivider          = "divider"
)

// ErrMalformedContent is returned when content does not decode into a block list.
var ErrMalformedContent = errors.New("malformed block content")

// Block is one addressable unit of document content.
// The set of implementations is closed to this package.
type Block interface {
	ID() string
	Type() string
	Text() string
	// attrs returns a canonical rendering of the type-specific fields.
	attrs() string
}

// Base carries the fields every block has.
type Base struct {
	BlockID string
	Content string
}

func (b Base) ID() string { return b.BlockID }
func (b Base) Text() string { return b.Content }

type Paragraph struct{ Base }

func (Paragraph) Type() string { return TypeParagraph }
func (Paragraph) attrs() string { return "" }

type Heading struct {
	Base
	Level int
}

func (Heading) Type() string { return TypeHeading }
func (h Heading) attrs() string { return "level=" + strconv.Itoa(h.Level) }

type BulletListItem struct{ Base }

func (BulletListItem) Type() string { return TypeBulletListItem }
func (BulletListItem) attrs() string { return "" }

type NumberedListItem struct{ Base }

func (NumberedListItem) Type() string { return TypeNumberedListItem }
func (NumberedListItem) attrs() string { return "" }

type CheckListItem struct {
	Base
	Checked bool
}

func (CheckListItem) Type() string { return TypeCheckListItem }
func (c CheckListItem) attrs() string { return "checked=" + strconv.FormatBool(c.Checked) }

type CodeBlock struct {
	Base
	Language string
}

func (CodeBlock) Type() string { return TypeCodeBlock }
func (c CodeBlock) attrs() string { return "language=" + c.Language }

type Quote struct{ Base }

func (Quote) Type() string { return TypeQuote }
func (Quote) attrs() string { return "" }

// Image keeps its caption as Content.
type Image struct {
	Base
	URL string
}

func (Image) Type() string { return TypeImage }
func (i Image) attrs() string { return "url=" + i.URL }

type Divider struct{ Base }

func (Divider) Type() string { return TypeDivider }
func (Divider) attrs() string { return "" }

// Unknown is any block whose type is not modelled above.
type Unknown struct {
	Base
	RawType string
	Raw     json.RawMessage
}

func (u Unknown) Type() string { return u.RawType }
func (u Unknown) attrs() string { return unknownSignature(u.Raw) }

// Equal reports whether two blocks have the same type, text and type-specific fields.
// Block ids are not compared.
func Equal(a, b Block) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return a.Type() == b.Type() && a.Text() == b.Text() && a.attrs() == b.attrs()
}

// Texts returns the text of each block in order.
func Texts(items []Block) []string {
	out := make([]string, 0, len(items))
	for _, item := range items {
		out = append(out, item.Text())
	}
	return out
}

// JoinText concatenates the text of every block.
func JoinText(items []Block) string {
	var builder strings.Builder
	for _, item := range items {
		builder.WriteString(item.Text())
	}
	return builder.String()
}

// Encode renders a block back into its wire record.
func Encode(b Block) map[string]any {
	out := map[string]any{
		"type":    b.Type(),
		"content": b.Text(),
	}
	if b.ID() != "" {
		out["id"] = b.ID()
	}
	switch v := b.(type) {
	case Heading:
		out["level"] = v.Level
	case CheckListItem:
		out["checked"] = v.Checked
	case CodeBlock:
		if v.Language != "" {
			out["language"] = v.Language
		}
	case Image:
		out["url"] = v.URL
	case Unknown:
		if len(v.Raw) > 0 {
			out["raw"] = v.Raw
		}
	}
	return out
}
