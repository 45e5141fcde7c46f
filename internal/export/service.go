package export

import (
	"context"
	"errors"
	"fmt"
	"html/template"
	"log/slog"

	"folio/api/internal/blocks"
	"folio/api/internal/diff"
	"folio/api/internal/store"
)

// VersionReader loads stored versions.
type VersionReader interface {
	Get(ctx context.Context, versionID string) (store.Version, error)
}

// Archiver keeps a copy of exported artifacts and returns a download URL.
type Archiver interface {
	Upload(ctx context.Context, key string, result *Result) (string, error)
}

// Converter turns rendered HTML into a binary format.
type Converter func(ctx context.Context, html, title string) (*Result, error)

// Options configures a Service. Archive and Logger are optional; Converters
// defaults to chromedp for PDF and pandoc for DOCX. Page defaults to letter.
type Options struct {
	Versions   VersionReader
	Archive    Archiver
	Converters map[Format]Converter
	Page       PageSetup
	Logger     *slog.Logger
}

// Service provides version export functionality
type Service struct {
	versions   VersionReader
	archive    Archiver
	converters map[Format]Converter
	logger     *slog.Logger
}

func NewService(opts Options) *Service {
	setup := opts.Page
	if setup == (PageSetup{}) {
		setup = LetterPage
	}
	converters := map[Format]Converter{
		FormatPDF:  pdfConverter(setup),
		FormatDOCX: exportDOCX,
		FormatHTML: exportHTML,
	}
	for format, converter := range opts.Converters {
		converters[format] = converter
	}
	logger := opts.Logger
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		versions:   opts.Versions,
		archive:    opts.Archive,
		converters: converters,
		logger:     logger,
	}
}

// ExportVersion renders one version in the requested format.
func (s *Service) ExportVersion(ctx context.Context, versionID string, format Format) (*Result, error) {
	version, err := s.versions.Get(ctx, versionID)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}

	parsed, err := blocks.Parse(version.Content)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrContentUnavailable, err)
	}

	html, err := RenderVersionHTML(VersionData{
		Title:       version.Title,
		Sequence:    version.SequenceNumber,
		ChangeType:  string(version.ChangeType),
		Summary:     version.Summary,
		Author:      version.Author,
		CreatedAt:   version.CreatedAt,
		ContentHTML: template.HTML(BlocksToHTML(parsed)),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	key := fmt.Sprintf("documents/%s/v%d%s", version.DocumentID, version.SequenceNumber, format.extension())
	return s.produce(ctx, html, fmt.Sprintf("%s v%d", version.Title, version.SequenceNumber), format, key)
}

// ExportComparison renders the diff between two versions of one document.
// The older version (by sequence number) is always the baseline.
func (s *Service) ExportComparison(ctx context.Context, fromID, toID string, format Format) (*Result, error) {
	from, err := s.versions.Get(ctx, fromID)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	to, err := s.versions.Get(ctx, toID)
	if err != nil {
		return nil, fmt.Errorf("get version: %w", err)
	}
	if from.DocumentID != to.DocumentID {
		return nil, ErrDocumentMismatch
	}
	if from.SequenceNumber > to.SequenceNumber {
		from, to = to, from
	}

	result := diff.Compare(from.Content, to.Content, to.Author)
	if !result.Comparable {
		return nil, fmt.Errorf("%w: %s", ErrContentUnavailable, result.Reason)
	}

	html, err := RenderCompareHTML(CompareData{
		Title:        to.Title,
		FromSequence: from.SequenceNumber,
		ToSequence:   to.SequenceNumber,
		Author:       to.Author,
		Summary:      result.Summary,
		DiffHTML:     template.HTML(DiffToHTML(result)),
	})
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}

	key := fmt.Sprintf("documents/%s/compare-v%d-v%d%s", to.DocumentID, from.SequenceNumber, to.SequenceNumber, format.extension())
	return s.produce(ctx, html, fmt.Sprintf("%s v%d-v%d", to.Title, from.SequenceNumber, to.SequenceNumber), format, key)
}

func (s *Service) produce(ctx context.Context, html, title string, format Format, key string) (*Result, error) {
	convert, ok := s.converters[format]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedFormat, format)
	}
	result, err := convert(ctx, html, title)
	if err != nil {
		return nil, err
	}

	// Archiving is best effort; the caller still gets the artifact inline.
	if s.archive != nil {
		signed, err := s.archive.Upload(ctx, key, result)
		if err != nil {
			s.logger.Warn("archive export failed", "key", key, "error", err)
		} else {
			result.ObjectKey = key
			result.URL = signed
		}
	}
	return result, nil
}

func exportHTML(_ context.Context, html, title string) (*Result, error) {
	return &Result{
		Data:     []byte(html),
		Filename: sanitizeFilename(title) + FormatHTML.extension(),
		MimeType: "text/html; charset=utf-8",
	}, nil
}

// IsDependencyMissing reports whether err means a converter binary is absent.
func IsDependencyMissing(err error) bool {
	return errors.Is(err, ErrPDFDependencyMissing) || errors.Is(err, ErrDOCXDependencyMissing)
}
