package export

import (
	"context"
	"fmt"
	"os/exec"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

const pdfTimeout = 30 * time.Second

// PageSetup is the printed page geometry in inches.
type PageSetup struct {
	Width  float64
	Height float64
	Margin float64
}

var (
	LetterPage = PageSetup{Width: 8.5, Height: 11, Margin: 0.75}
	A4Page     = PageSetup{Width: 8.27, Height: 11.69, Margin: 0.75}
)

// PageFor maps a paper name to its setup. Unknown names fall back to letter.
func PageFor(name string) PageSetup {
	if strings.EqualFold(strings.TrimSpace(name), "a4") {
		return A4Page
	}
	return LetterPage
}

var chromeBinaries = []string{"chromium-browser", "chromium", "google-chrome", "google-chrome-stable"}

func findChrome() (string, error) {
	for _, name := range chromeBinaries {
		if path, err := exec.LookPath(name); err == nil {
			return path, nil
		}
	}
	return "", fmt.Errorf("%w: no chrome or chromium binary on PATH", ErrPDFDependencyMissing)
}

// pdfConverter prints HTML through headless Chrome.
func pdfConverter(setup PageSetup) Converter {
	return func(parent context.Context, html, title string) (*Result, error) {
		chrome, err := findChrome()
		if err != nil {
			return nil, err
		}

		ctx, cancel := context.WithTimeout(parent, pdfTimeout)
		defer cancel()

		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.ExecPath(chrome),
			chromedp.Flag("headless", true),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
			chromedp.Flag("disable-dev-shm-usage", true),
		)
		allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
		defer cancelAlloc()
		taskCtx, cancelTask := chromedp.NewContext(allocCtx)
		defer cancelTask()

		var data []byte
		printPDF := chromedp.ActionFunc(func(ctx context.Context) error {
			var err error
			data, _, err = page.PrintToPDF().
				WithPrintBackground(true).
				WithPaperWidth(setup.Width).
				WithPaperHeight(setup.Height).
				WithMarginTop(setup.Margin).
				WithMarginBottom(setup.Margin).
				WithMarginLeft(setup.Margin).
				WithMarginRight(setup.Margin).
				WithPreferCSSPageSize(true).
				Do(ctx)
			return err
		})
		if err := chromedp.Run(taskCtx,
			chromedp.Navigate("data:text/html;charset=utf-8,"+percentEncodeForDataURL(html)),
			chromedp.WaitReady("body"),
			printPDF,
		); err != nil {
			return nil, fmt.Errorf("print pdf: %w", err)
		}

		return &Result{
			Data:     data,
			Filename: sanitizeFilename(title) + FormatPDF.extension(),
			MimeType: "application/pdf",
		}, nil
	}
}

const upperHex = "0123456789ABCDEF"

// percentEncodeForDataURL escapes everything outside the RFC 3986 unreserved
// set, byte by byte. Spaces become %20, never +.
func percentEncodeForDataURL(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for i := 0; i < len(s); i++ {
		c := s[i]
		if isUnreserved(c) {
			b.WriteByte(c)
			continue
		}
		b.WriteByte('%')
		b.WriteByte(upperHex[c>>4])
		b.WriteByte(upperHex[c&0x0F])
	}
	return b.String()
}

func isUnreserved(c byte) bool {
	switch {
	case 'a' <= c && c <= 'z', 'A' <= c && c <= 'Z', '0' <= c && c <= '9':
		return true
	case c == '-', c == '_', c == '.', c == '~':
		return true
	}
	return false
}

const maxFilenameLen = 50

// sanitizeFilename keeps ASCII letters, digits, dashes and underscores,
// turning spaces into dashes.
func sanitizeFilename(title string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r == ' ':
			return '-'
		case 'a' <= r && r <= 'z', 'A' <= r && r <= 'Z', '0' <= r && r <= '9', r == '-', r == '_':
			return r
		}
		return -1
	}, title)
	if len(name) > maxFilenameLen {
		name = name[:maxFilenameLen]
	}
	if name == "" {
		return "document"
	}
	return name
}
