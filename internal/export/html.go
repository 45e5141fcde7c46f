package export

import (
	"fmt"
	"html"
	"strings"

	"folio/api/internal/blocks"
	"folio/api/internal/diff"
)

// BlocksToHTML renders a block list. Consecutive list items of one kind are
// wrapped in a single list element.
func BlocksToHTML(items []blocks.Block) string {
	var out strings.Builder
	openList := ""
	closeList := func() {
		if openList != "" {
			out.WriteString("</" + listTag(openList) + ">\n")
			openList = ""
		}
	}

	for _, item := range items {
		kind := listKind(item)
		if kind != openList {
			closeList()
			if kind != "" {
				out.WriteString(listOpenTag(kind) + "\n")
				openList = kind
			}
		}
		out.WriteString(renderBlock(item, html.EscapeString(item.Text())))
	}
	closeList()
	return out.String()
}

// DiffToHTML renders a comparison. Added and removed blocks are wrapped in
// marker divs; modified blocks carry inline <ins>/<del> token changes.
func DiffToHTML(result diff.Result) string {
	if !result.Comparable {
		return fmt.Sprintf("<p class=\"diff-unavailable\">%s</p>\n", html.EscapeString(result.Reason))
	}

	var out strings.Builder
	for _, row := range result.Blocks {
		switch row.Kind {
		case diff.BlockAdded:
			out.WriteString("<div class=\"diff-added\">\n" + renderStandalone(row.Content) + "</div>\n")
		case diff.BlockRemoved:
			out.WriteString("<div class=\"diff-removed\">\n" + renderStandalone(row.Content) + "</div>\n")
		case diff.BlockModified:
			out.WriteString("<div class=\"diff-modified\">\n" + renderBlockBody(row.Content, renderTokens(row.TokenChanges)) + "</div>\n")
		default:
			out.WriteString(renderStandalone(row.Content))
		}
	}
	return out.String()
}

func renderTokens(changes []diff.TokenChange) string {
	var out strings.Builder
	for _, change := range changes {
		text := html.EscapeString(change.Text)
		switch change.Kind {
		case diff.TokenAdded:
			if change.Author != "" {
				fmt.Fprintf(&out, "<ins title=\"%s\">%s</ins>", html.EscapeString(change.Author), text)
			} else {
				out.WriteString("<ins>" + text + "</ins>")
			}
		case diff.TokenRemoved:
			out.WriteString("<del>" + text + "</del>")
		default:
			out.WriteString(text)
		}
	}
	return out.String()
}

// renderStandalone renders one block outside any surrounding list context.
func renderStandalone(item blocks.Block) string {
	if item == nil {
		return ""
	}
	return renderBlockBody(item, html.EscapeString(item.Text()))
}

func renderBlockBody(item blocks.Block, body string) string {
	if item == nil {
		return ""
	}
	if kind := listKind(item); kind != "" {
		return listOpenTag(kind) + "\n" + renderBlock(item, body) + "</" + listTag(kind) + ">\n"
	}
	return renderBlock(item, body)
}

// renderBlock renders a block with an already escaped body.
func renderBlock(item blocks.Block, body string) string {
	switch b := item.(type) {
	case blocks.Paragraph:
		return fmt.Sprintf("<p>%s</p>\n", body)
	case blocks.Heading:
		level := min(max(b.Level, 1), 6)
		return fmt.Sprintf("<h%d>%s</h%d>\n", level, body, level)
	case blocks.BulletListItem, blocks.NumberedListItem:
		return fmt.Sprintf("<li>%s</li>\n", body)
	case blocks.CheckListItem:
		checked := ""
		if b.Checked {
			checked = " checked"
		}
		return fmt.Sprintf("<li><input type=\"checkbox\" disabled%s> %s</li>\n", checked, body)
	case blocks.CodeBlock:
		if b.Language != "" {
			return fmt.Sprintf("<pre><code class=\"language-%s\">%s</code></pre>\n", html.EscapeString(b.Language), body)
		}
		return fmt.Sprintf("<pre><code>%s</code></pre>\n", body)
	case blocks.Quote:
		return fmt.Sprintf("<blockquote>%s</blockquote>\n", body)
	case blocks.Image:
		caption := ""
		if body != "" {
			caption = "<figcaption>" + body + "</figcaption>"
		}
		return fmt.Sprintf("<figure><img src=\"%s\" alt=\"%s\">%s</figure>\n", html.EscapeString(b.URL), html.EscapeString(b.Text()), caption)
	case blocks.Divider:
		return "<hr>\n"
	default:
		return fmt.Sprintf("<div data-block-type=\"%s\">%s</div>\n", html.EscapeString(item.Type()), body)
	}
}

func listKind(item blocks.Block) string {
	switch item.(type) {
	case blocks.BulletListItem, blocks.NumberedListItem, blocks.CheckListItem:
		return item.Type()
	default:
		return ""
	}
}

func listTag(kind string) string {
	if kind == blocks.TypeNumberedListItem {
		return "ol"
	}
	return "ul"
}

func listOpenTag(kind string) string {
	if kind == blocks.TypeCheckListItem {
		return "<ul class=\"checklist\">"
	}
	return "<" + listTag(kind) + ">"
}
