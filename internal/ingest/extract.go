// Package ingest turns uploaded documents and web pages into embedded
// chunks through a bounded worker pool with persistent job tracking.
package ingest

import (
	"bytes"
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"code.sajari.com/docconv"
	"github.com/gabriel-vasile/mimetype"
	"github.com/ledongthuc/pdf"
)

// Page is extracted text with its 1-based source page. Non-paged
// formats produce a single Page with Number 0.
type Page struct {
	Number int
	Text   string
}

// Extraction is the text content pulled out of one document.
type Extraction struct {
	Pages []Page
}

// Supported declared types. An empty declared type falls back to
// content sniffing.
const (
	TypePDF      = "pdf"
	TypeText     = "txt"
	TypeMarkdown = "md"
	TypeHTML     = "html"
	TypeDOCX     = "docx"
)

// Extract parses raw into plain text according to declaredType,
// falling back to mimetype sniffing when the declared type is empty or
// unknown. Unsupported content returns ErrUnsupportedFileType; a
// supported type that fails to parse returns ErrCorruptDocument.
func Extract(raw []byte, declaredType string) (Extraction, error) {
	docType := strings.ToLower(strings.TrimSpace(declaredType))
	switch docType {
	case TypePDF, TypeText, TypeMarkdown, TypeHTML, TypeDOCX:
	default:
		docType = sniffType(raw)
	}

	switch docType {
	case TypePDF:
		return extractPDF(raw)
	case TypeText, TypeMarkdown:
		return extractPlain(raw)
	case TypeHTML:
		return extractHTML(raw)
	case TypeDOCX:
		return extractDOCX(raw)
	default:
		return Extraction{}, fmt.Errorf("%w: %q", ErrUnsupportedFileType, declaredType)
	}
}

// sniffType maps detected MIME types onto the supported set. Returns
// "" for anything unsupported.
func sniffType(raw []byte) string {
	mtype := mimetype.Detect(raw)
	switch {
	case mtype.Is("application/pdf"):
		return TypePDF
	case mtype.Is("application/vnd.openxmlformats-officedocument.wordprocessingml.document"):
		return TypeDOCX
	case mtype.Is("text/html"):
		return TypeHTML
	case mtype.Is("text/markdown"):
		return TypeMarkdown
	case strings.HasPrefix(mtype.String(), "text/"):
		return TypeText
	default:
		return ""
	}
}

func extractPDF(raw []byte) (Extraction, error) {
	reader, err := pdf.NewReader(bytes.NewReader(raw), int64(len(raw)))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: opening pdf: %w", ErrCorruptDocument, err)
	}

	var pages []Page
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return Extraction{}, fmt.Errorf("%w: reading pdf page %d: %w", ErrCorruptDocument, i, err)
		}
		text = NormalizeWhitespace(text)
		if text == "" {
			continue
		}
		pages = append(pages, Page{Number: i, Text: text})
	}
	return Extraction{Pages: pages}, nil
}

func extractDOCX(raw []byte) (Extraction, error) {
	text, _, err := docconv.ConvertDocx(bytes.NewReader(raw))
	if err != nil {
		return Extraction{}, fmt.Errorf("%w: reading docx: %w", ErrCorruptDocument, err)
	}
	text = NormalizeWhitespace(text)
	if text == "" {
		return Extraction{}, nil
	}
	return Extraction{Pages: []Page{{Text: text}}}, nil
}

func extractPlain(raw []byte) (Extraction, error) {
	if !utf8.Valid(raw) {
		return Extraction{}, fmt.Errorf("%w: not valid UTF-8", ErrCorruptDocument)
	}
	text := NormalizeWhitespace(string(raw))
	if text == "" {
		return Extraction{}, nil
	}
	return Extraction{Pages: []Page{{Text: text}}}, nil
}

// NormalizeWhitespace strips NUL bytes and collapses whitespace runs
// to single spaces, matching how stored chunks are normalized.
func NormalizeWhitespace(s string) string {
	var b strings.Builder
	b.Grow(len(s))

	inSpace := false
	for _, r := range s {
		if r == 0 || r == unicode.ReplacementChar {
			continue
		}
		if unicode.IsSpace(r) {
			inSpace = true
			continue
		}
		if inSpace && b.Len() > 0 {
			b.WriteByte(' ')
		}
		inSpace = false
		b.WriteRune(r)
	}
	return b.String()
}
