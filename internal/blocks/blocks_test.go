package blocks

import (
	"errors"
	"testing"
)

func TestParseBlockArray(t *testing.T) {
	raw := []byte(`[
		{"id":"b1","type":"heading","level":2,"content":"Overview"},
		{"id":"b2","type":"paragraph","content":[{"type":"text","text":"Hello "},{"type":"text","text":"world"}]},
		{"type":"checkListItem","props":{"checked":true},"content":"ship it"},
		{"type":"codeBlock","language":"go","content":"x := 1"},
		{"type":"callout","emoji":"!","content":"note"}
	]`)

	items, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if len(items) != 5 {
		t.Fatalf("expected 5 blocks, got %d", len(items))
	}

	heading, ok := items[0].(Heading)
	if !ok || heading.Level != 2 || heading.Text() != "Overview" || heading.ID() != "b1" {
		t.Fatalf("unexpected heading: %#v", items[0])
	}
	if items[1].Text() != "Hello world" {
		t.Fatalf("expected inline text to be concatenated, got %q", items[1].Text())
	}
	if check, ok := items[2].(CheckListItem); !ok || !check.Checked {
		t.Fatalf("expected checked list item, got %#v", items[2])
	}
	if code, ok := items[3].(CodeBlock); !ok || code.Language != "go" {
		t.Fatalf("expected go code block, got %#v", items[3])
	}
	unknown, ok := items[4].(Unknown)
	if !ok || unknown.Type() != "callout" || len(unknown.Raw) == 0 {
		t.Fatalf("expected unknown callout block, got %#v", items[4])
	}
}

func TestParseProseMirrorDoc(t *testing.T) {
	raw := []byte(`{
		"type":"doc",
		"content":[
			{"type":"heading","attrs":{"level":1,"nodeId":"n-title"},"content":[{"type":"text","text":"Doc"}]},
			{"type":"bulletList","content":[
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"One"}]}]},
				{"type":"listItem","content":[{"type":"paragraph","content":[{"type":"text","text":"Two"}]}]}
			]},
			{"type":"blockquote","content":[{"type":"paragraph","content":[{"type":"text","text":"Quoted"}]}]},
			{"type":"horizontalRule"}
		]
	}`)

	items, err := Parse(raw)
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	wantTypes := []string{TypeHeading, TypeBulletListItem, TypeBulletListItem, TypeQuote, TypeDivider}
	if len(items) != len(wantTypes) {
		t.Fatalf("expected %d blocks, got %d", len(wantTypes), len(items))
	}
	for i, want := range wantTypes {
		if items[i].Type() != want {
			t.Fatalf("block %d: expected type %s, got %s", i, want, items[i].Type())
		}
	}
	if items[0].ID() != "n-title" {
		t.Fatalf("expected nodeId to become the block id, got %q", items[0].ID())
	}
	if items[2].Text() != "Two" {
		t.Fatalf("expected flattened list item text, got %q", items[2].Text())
	}
}

func TestParseEmptyInput(t *testing.T) {
	for _, raw := range []string{"", "  ", "null", `{"type":"doc"}`, "[]"} {
		items, err := Parse([]byte(raw))
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", raw, err)
		}
		if len(items) != 0 {
			t.Fatalf("Parse(%q): expected no blocks, got %d", raw, len(items))
		}
	}
}

func TestParseMalformed(t *testing.T) {
	cases := []string{
		`{not json`,
		`"just a string"`,
		`{"type":"paragraph"}`,
		`[1, 2]`,
		`[{"content":"no type"}]`,
		`{"type":"doc","content":"nope"}`,
	}
	for _, raw := range cases {
		if _, err := Parse([]byte(raw)); !errors.Is(err, ErrMalformedContent) {
			t.Fatalf("Parse(%q): expected ErrMalformedContent, got %v", raw, err)
		}
	}
}

func TestEqualIgnoresIDs(t *testing.T) {
	a := Paragraph{Base: Base{BlockID: "a", Content: "same"}}
	b := Paragraph{Base: Base{BlockID: "b", Content: "same"}}
	if !Equal(a, b) {
		t.Fatal("expected blocks with different ids to be equal")
	}
	if Equal(Heading{Base: Base{Content: "x"}, Level: 1}, Heading{Base: Base{Content: "x"}, Level: 2}) {
		t.Fatal("expected heading level to matter")
	}
	if Equal(a, Quote{Base: Base{Content: "same"}}) {
		t.Fatal("expected block type to matter")
	}

	first, err := Parse([]byte(`[{"id":"1","type":"callout","emoji":"!","content":"x"}]`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	second, err := Parse([]byte(`[{"id":"2","type":"callout","emoji":"!","content":"x"}]`))
	if err != nil {
		t.Fatalf("Parse() error = %v", err)
	}
	if !Equal(first[0], second[0]) {
		t.Fatal("expected unknown blocks to compare without ids")
	}
}

func TestHashIsCanonical(t *testing.T) {
	a := Hash([]byte(`[{"type":"paragraph","content":"x"}]`))
	b := Hash([]byte(` [ {"content":"x", "type":"paragraph"} ] `))
	if a != b {
		t.Fatalf("expected canonical hashes to match: %s != %s", a, b)
	}
	if a == Hash([]byte(`[{"type":"paragraph","content":"y"}]`)) {
		t.Fatal("expected different content to hash differently")
	}
	if len(a) != 64 {
		t.Fatalf("expected 32-byte hex digest, got %d chars", len(a))
	}
}
