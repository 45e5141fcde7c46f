package history

import (
	"folio/api/internal/blocks"
)

// ChangeAssessment describes how far two snapshots are apart.
type ChangeAssessment struct {
	StructuralDelta  int
	TextChangeRatio  float64
	BlockTypeChanged bool
}

// Classifier decides whether the change between two snapshots is worth a version.
type Classifier struct {
	MinStructureChanges int
	MinTextChangeRatio  float64
}

func NewClassifier(cfg Config) Classifier {
	cfg = cfg.withDefaults()
	return Classifier{
		MinStructureChanges: cfg.MinStructureChanges,
		MinTextChangeRatio:  cfg.MinTextChangeRatio,
	}
}

// Compare reports whether newContent differs significantly from oldContent.
// Content that does not parse counts as significant.
func (c Classifier) Compare(oldContent, newContent []byte) bool {
	oldBlocks, newBlocks, err := parsePair(oldContent, newContent)
	if err != nil {
		return true
	}
	if structuralDelta(oldBlocks, newBlocks) >= c.MinStructureChanges {
		return true
	}
	if textChangeRatio(oldBlocks, newBlocks) >= c.MinTextChangeRatio {
		return true
	}
	return blockTypeChanged(oldBlocks, newBlocks)
}

// Assess computes every metric without short-circuiting. It returns
// blocks.ErrMalformedContent when either side does not parse.
func (c Classifier) Assess(oldContent, newContent []byte) (ChangeAssessment, error) {
	oldBlocks, newBlocks, err := parsePair(oldContent, newContent)
	if err != nil {
		return ChangeAssessment{}, err
	}
	return ChangeAssessment{
		StructuralDelta:  structuralDelta(oldBlocks, newBlocks),
		TextChangeRatio:  textChangeRatio(oldBlocks, newBlocks),
		BlockTypeChanged: blockTypeChanged(oldBlocks, newBlocks),
	}, nil
}

// Significant applies the classifier thresholds to an assessment.
func (c Classifier) Significant(a ChangeAssessment) bool {
	return a.StructuralDelta >= c.MinStructureChanges ||
		a.TextChangeRatio >= c.MinTextChangeRatio ||
		a.BlockTypeChanged
}

func parsePair(oldContent, newContent []byte) ([]blocks.Block, []blocks.Block, error) {
	oldBlocks, err := blocks.Parse(oldContent)
	if err != nil {
		return nil, nil, err
	}
	newBlocks, err := blocks.Parse(newContent)
	if err != nil {
		return nil, nil, err
	}
	return oldBlocks, newBlocks, nil
}

func structuralDelta(oldBlocks, newBlocks []blocks.Block) int {
	delta := len(oldBlocks) - len(newBlocks)
	if delta < 0 {
		return -delta
	}
	return delta
}

// textChangeRatio is the edit distance between the concatenated block texts
// divided by the longer length, in runes.
func textChangeRatio(oldBlocks, newBlocks []blocks.Block) float64 {
	oldText := []rune(blocks.JoinText(oldBlocks))
	newText := []rune(blocks.JoinText(newBlocks))
	longest := max(len(oldText), len(newText))
	if longest == 0 {
		return 0
	}
	ratio := float64(editDistance(oldText, newText)) / float64(longest)
	return min(max(ratio, 0), 1)
}

func blockTypeChanged(oldBlocks, newBlocks []blocks.Block) bool {
	shared := min(len(oldBlocks), len(newBlocks))
	for i := 0; i < shared; i++ {
		if oldBlocks[i].Type() != newBlocks[i].Type() {
			return true
		}
	}
	return false
}

// editDistance is the Levenshtein distance, kept to two rows of the table.
func editDistance(a, b []rune) int {
	if len(a) == 0 {
		return len(b)
	}
	if len(b) == 0 {
		return len(a)
	}
	prev := make([]int, len(b)+1)
	curr := make([]int, len(b)+1)
	for j := range prev {
		prev[j] = j
	}
	for i := 1; i <= len(a); i++ {
		curr[0] = i
		for j := 1; j <= len(b); j++ {
			cost := 1
			if a[i-1] == b[j-1] {
				cost = 0
			}
			curr[j] = min(prev[j]+1, curr[j-1]+1, prev[j-1]+cost)
		}
		prev, curr = curr, prev
	}
	return prev[len(b)]
}
