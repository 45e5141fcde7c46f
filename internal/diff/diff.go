// Package diff compares two document snapshots at block level and, for
// modified blocks, at token level using a longest-common-subsequence alignment.
package diff

import (
	"encoding/json"
	"unicode"

	"folio/api/internal/blocks"
)

type BlockKind string

const (
	BlockAdded     BlockKind = "added"
	BlockRemoved   BlockKind = "removed"
	BlockModified  BlockKind = "modified"
	BlockUnchanged BlockKind = "unchanged"
)

type TokenKind string

const (
	TokenAdded     TokenKind = "added"
	TokenRemoved   TokenKind = "removed"
	TokenUnchanged TokenKind = "unchanged"
)

// TokenChange is one word or whitespace run in a text diff.
// Author is only set on added tokens.
type TokenChange struct {
	Kind   TokenKind `json:"kind"`
	Text   string    `json:"text"`
	Author string    `json:"author,omitempty"`
}

// DiffBlock is one row of a block diff. For removed blocks Content is the old
// block; otherwise it is the new one. Previous is set on modified rows.
type DiffBlock struct {
	Kind         BlockKind
	BlockType    string
	Content      blocks.Block
	Previous     blocks.Block
	TokenChanges []TokenChange
}

func (d DiffBlock) MarshalJSON() ([]byte, error) {
	payload := map[string]any{
		"kind":      d.Kind,
		"blockType": d.BlockType,
	}
	if d.Content != nil {
		payload["content"] = blocks.Encode(d.Content)
	}
	if d.Previous != nil {
		payload["previous"] = blocks.Encode(d.Previous)
	}
	if len(d.TokenChanges) > 0 {
		payload["tokenChanges"] = d.TokenChanges
	}
	return json.Marshal(payload)
}

// Result is the outcome of comparing two raw snapshots. When Comparable is
// false one side could not be parsed and Blocks is empty.
type Result struct {
	Comparable bool        `json:"comparable"`
	Reason     string      `json:"reason,omitempty"`
	Blocks     []DiffBlock `json:"blocks"`
	Summary    Summary     `json:"summary"`
}

type Summary struct {
	Added     int `json:"added"`
	Removed   int `json:"removed"`
	Modified  int `json:"modified"`
	Unchanged int `json:"unchanged"`
}

// ReasonMalformed marks a comparison that could not be computed.
const ReasonMalformed = "cannot compare: malformed content"

// Compare parses both snapshots and diffs them. A nil previous snapshot means
// the current one is the first version, so every block is added. Parse
// failures never escape; they produce a non-comparable result.
func Compare(previous, current []byte, author string) Result {
	var prevBlocks []blocks.Block
	if previous != nil {
		parsed, err := blocks.Parse(previous)
		if err != nil {
			return Result{Comparable: false, Reason: ReasonMalformed, Blocks: []DiffBlock{}}
		}
		prevBlocks = parsed
	}
	currBlocks, err := blocks.Parse(current)
	if err != nil {
		return Result{Comparable: false, Reason: ReasonMalformed, Blocks: []DiffBlock{}}
	}

	rows := ComputeBlockDiff(prevBlocks, currBlocks, author)
	return Result{Comparable: true, Blocks: rows, Summary: Summarize(rows)}
}

// ComputeBlockDiff pairs blocks by position.
func ComputeBlockDiff(prev, curr []blocks.Block, author string) []DiffBlock {
	total := len(prev)
	if len(curr) > total {
		total = len(curr)
	}
	out := make([]DiffBlock, 0, total)
	for i := 0; i < total; i++ {
		switch {
		case i >= len(prev):
			out = append(out, DiffBlock{Kind: BlockAdded, BlockType: curr[i].Type(), Content: curr[i]})
		case i >= len(curr):
			out = append(out, DiffBlock{Kind: BlockRemoved, BlockType: prev[i].Type(), Content: prev[i]})
		case blocks.Equal(prev[i], curr[i]):
			out = append(out, DiffBlock{Kind: BlockUnchanged, BlockType: curr[i].Type(), Content: curr[i]})
		default:
			out = append(out, DiffBlock{
				Kind:         BlockModified,
				BlockType:    curr[i].Type(),
				Content:      curr[i],
				Previous:     prev[i],
				TokenChanges: ComputeTextDiff(prev[i].Text(), curr[i].Text(), author),
			})
		}
	}
	return out
}

func Summarize(rows []DiffBlock) Summary {
	var summary Summary
	for _, row := range rows {
		switch row.Kind {
		case BlockAdded:
			summary.Added++
		case BlockRemoved:
			summary.Removed++
		case BlockModified:
			summary.Modified++
		case BlockUnchanged:
			summary.Unchanged++
		}
	}
	return summary
}

// ComputeTextDiff aligns the whitespace-delimited tokens of both texts.
// Concatenating unchanged+removed tokens yields oldText and unchanged+added
// tokens yields newText. When both sides could advance, removed is emitted first.
func ComputeTextDiff(oldText, newText, author string) []TokenChange {
	oldTokens := Tokenize(oldText)
	newTokens := Tokenize(newText)
	n, m := len(oldTokens), len(newTokens)

	// lcs[i][j] is the LCS length of oldTokens[i:] and newTokens[j:].
	lcs := make([][]int, n+1)
	for i := range lcs {
		lcs[i] = make([]int, m+1)
	}
	for i := n - 1; i >= 0; i-- {
		for j := m - 1; j >= 0; j-- {
			if oldTokens[i] == newTokens[j] {
				lcs[i][j] = lcs[i+1][j+1] + 1
			} else if lcs[i+1][j] >= lcs[i][j+1] {
				lcs[i][j] = lcs[i+1][j]
			} else {
				lcs[i][j] = lcs[i][j+1]
			}
		}
	}

	out := make([]TokenChange, 0, n+m)
	i, j := 0, 0
	for i < n && j < m {
		switch {
		case oldTokens[i] == newTokens[j]:
			out = append(out, TokenChange{Kind: TokenUnchanged, Text: oldTokens[i]})
			i++
			j++
		case lcs[i+1][j] >= lcs[i][j+1]:
			out = append(out, TokenChange{Kind: TokenRemoved, Text: oldTokens[i]})
			i++
		default:
			out = append(out, TokenChange{Kind: TokenAdded, Text: newTokens[j], Author: author})
			j++
		}
	}
	for ; i < n; i++ {
		out = append(out, TokenChange{Kind: TokenRemoved, Text: oldTokens[i]})
	}
	for ; j < m; j++ {
		out = append(out, TokenChange{Kind: TokenAdded, Text: newTokens[j], Author: author})
	}
	return out
}

// Tokenize splits text into alternating runs of whitespace and non-whitespace.
func Tokenize(text string) []string {
	if text == "" {
		return nil
	}
	tokens := make([]string, 0, 16)
	start := 0
	inSpace := false
	for idx, r := range text {
		space := unicode.IsSpace(r)
		if idx == 0 {
			inSpace = space
			continue
		}
		if space != inSpace {
			tokens = append(tokens, text[start:idx])
			start = idx
			inSpace = space
		}
	}
	return append(tokens, text[start:])
}
