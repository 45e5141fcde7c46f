package blocks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Parse decodes raw content into an ordered block list. Empty input and JSON
// null decode to an empty list. Everything that is not a block array or a
// ProseMirror doc fails with ErrMalformedContent.
func Parse(raw []byte) ([]Block, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return []Block{}, nil
	}

	var decoded any
	if err := json.Unmarshal(trimmed, &decoded); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
	}

	var records []any
	switch value := decoded.(type) {
	case []any:
		records = value
	case map[string]any:
		if nodeType, _ := value["type"].(string); nodeType != "doc" {
			return nil, fmt.Errorf("%w: top-level object is not a doc", ErrMalformedContent)
		}
		content, ok := value["content"]
		if !ok || content == nil {
			return []Block{}, nil
		}
		records, ok = content.([]any)
		if !ok {
			return nil, fmt.Errorf("%w: doc content is not a list", ErrMalformedContent)
		}
	default:
		return nil, fmt.Errorf("%w: expected a block list", ErrMalformedContent)
	}

	out := make([]Block, 0, len(records))
	for idx, item := range records {
		node, ok := item.(map[string]any)
		if !ok {
			return nil, fmt.Errorf("%w: block %d is not an object", ErrMalformedContent, idx)
		}
		decodedBlocks, err := decodeNode(node)
		if err != nil {
			return nil, fmt.Errorf("block %d: %w", idx, err)
		}
		out = append(out, decodedBlocks...)
	}
	return out, nil
}

func decodeNode(node map[string]any) ([]Block, error) {
	nodeType, _ := node["type"].(string)
	nodeType = strings.TrimSpace(nodeType)
	if nodeType == "" {
		return nil, fmt.Errorf("%w: missing block type", ErrMalformedContent)
	}
	base := Base{BlockID: nodeID(node), Content: blockText(node)}

	switch nodeType {
	case TypeParagraph:
		return []Block{Paragraph{Base: base}}, nil
	case TypeHeading:
		return []Block{Heading{Base: base, Level: intField(node, "level", 1)}}, nil
	case TypeBulletListItem:
		return []Block{BulletListItem{Base: base}}, nil
	case TypeNumberedListItem:
		return []Block{NumberedListItem{Base: base}}, nil
	case TypeCheckListItem:
		return []Block{CheckListItem{Base: base, Checked: boolField(node, "checked")}}, nil
	case TypeCodeBlock:
		return []Block{CodeBlock{Base: base, Language: stringField(node, "language")}}, nil
	case TypeQuote, "blockquote":
		return []Block{Quote{Base: base}}, nil
	case TypeImage:
		if base.Content == "" {
			base.Content = stringField(node, "caption")
		}
		url := stringField(node, "url")
		if url == "" {
			url = stringField(node, "src")
		}
		return []Block{Image{Base: base, URL: url}}, nil
	case TypeDivider, "horizontalRule":
		return []Block{Divider{Base: base}}, nil
	case "bulletList", "orderedList", "taskList":
		return flattenList(nodeType, node), nil
	default:
		raw, err := json.Marshal(node)
		if err != nil {
			return nil, fmt.Errorf("%w: %v", ErrMalformedContent, err)
		}
		return []Block{Unknown{Base: base, RawType: nodeType, Raw: raw}}, nil
	}
}

// flattenList turns ProseMirror list containers into one block per item.
func flattenList(listType string, node map[string]any) []Block {
	children, _ := node["content"].([]any)
	out := make([]Block, 0, len(children))
	for _, child := range children {
		item, ok := child.(map[string]any)
		if !ok {
			continue
		}
		base := Base{BlockID: nodeID(item), Content: blockText(item)}
		switch listType {
		case "orderedList":
			out = append(out, NumberedListItem{Base: base})
		case "taskList":
			out = append(out, CheckListItem{Base: base, Checked: boolField(item, "checked")})
		default:
			out = append(out, BulletListItem{Base: base})
		}
	}
	return out
}

func blockText(node map[string]any) string {
	text, _ := node["text"].(string)
	return text + inlineText(node["content"])
}

func inlineText(value any) string {
	switch v := value.(type) {
	case string:
		return v
	case []any:
		var builder strings.Builder
		for _, item := range v {
			builder.WriteString(inlineText(item))
		}
		return builder.String()
	case map[string]any:
		if nodeType, _ := v["type"].(string); nodeType == "hardBreak" {
			return "\n"
		}
		return blockText(v)
	default:
		return ""
	}
}

func nodeID(node map[string]any) string {
	for _, key := range []string{"id", "nodeId"} {
		if value := stringField(node, key); value != "" {
			return value
		}
	}
	return ""
}

// lookup finds a type-specific field on the record itself, then in attrs
// (ProseMirror) and props (block editors).
func lookup(node map[string]any, key string) (any, bool) {
	if value, ok := node[key]; ok && value != nil {
		return value, true
	}
	for _, container := range []string{"attrs", "props"} {
		nested, ok := node[container].(map[string]any)
		if !ok {
			continue
		}
		if value, ok := nested[key]; ok && value != nil {
			return value, true
		}
	}
	return nil, false
}

func stringField(node map[string]any, key string) string {
	value, ok := lookup(node, key)
	if !ok {
		return ""
	}
	text, _ := value.(string)
	return strings.TrimSpace(text)
}

func intField(node map[string]any, key string, fallback int) int {
	value, ok := lookup(node, key)
	if !ok {
		return fallback
	}
	switch v := value.(type) {
	case float64:
		return int(v)
	case string:
		parsed, err := strconv.Atoi(strings.TrimSpace(v))
		if err != nil {
			return fallback
		}
		return parsed
	default:
		return fallback
	}
}

func boolField(node map[string]any, key string) bool {
	value, ok := lookup(node, key)
	if !ok {
		return false
	}
	switch v := value.(type) {
	case bool:
		return v
	case string:
		parsed, _ := strconv.ParseBool(v)
		return parsed
	default:
		return false
	}
}

func unknownSignature(raw json.RawMessage) string {
	var decoded map[string]any
	if err := json.Unmarshal(raw, &decoded); err != nil {
		return string(normalizeJSON(raw))
	}
	delete(decoded, "id")
	delete(decoded, "content")
	delete(decoded, "text")
	for _, container := range []string{"attrs", "props"} {
		if nested, ok := decoded[container].(map[string]any); ok {
			delete(nested, "id")
			delete(nested, "nodeId")
		}
	}
	normalized, err := json.Marshal(decoded)
	if err != nil {
		return ""
	}
	return string(normalized)
}
