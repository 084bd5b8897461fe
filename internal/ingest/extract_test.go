package ingest

import (
	"archive/zip"
	"bytes"
	"errors"
	"strings"
	"testing"
)

func TestExtractPlainText(t *testing.T) {
	got, err := Extract([]byte("Refunds are processed\n\twithin  14 days.\n"), TypeText)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	if len(got.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(got.Pages))
	}
	want := "Refunds are processed within 14 days."
	if got.Pages[0].Text != want {
		t.Errorf("text = %q, want %q", got.Pages[0].Text, want)
	}
	if got.Pages[0].Number != 0 {
		t.Errorf("page number = %d, want 0 for non-paged source", got.Pages[0].Number)
	}
}

func TestExtractMarkdown(t *testing.T) {
	got, err := Extract([]byte("# Policy\n\nShipping takes three days."), TypeMarkdown)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	if len(got.Pages) != 1 || !strings.Contains(got.Pages[0].Text, "Shipping takes three days.") {
		t.Errorf("pages = %+v", got.Pages)
	}
}

func TestExtractEmptyDocument(t *testing.T) {
	got, err := Extract([]byte("   \n\t "), TypeText)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	if len(got.Pages) != 0 {
		t.Errorf("got %d pages for whitespace-only input, want 0", len(got.Pages))
	}
}

func TestExtractInvalidUTF8(t *testing.T) {
	_, err := Extract([]byte{0xff, 0xfe, 0xfd}, TypeText)
	if !errors.Is(err, ErrCorruptDocument) {
		t.Fatalf("Extract() = %v, want ErrCorruptDocument", err)
	}
}

// buildDocx assembles a minimal OOXML package with the given paragraph
// texts in word/document.xml.
func buildDocx(t *testing.T, paragraphs ...string) []byte {
	t.Helper()
	var body strings.Builder
	for _, p := range paragraphs {
		body.WriteString("<w:p><w:r><w:t>" + p + "</w:t></w:r></w:p>")
	}
	document := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<w:document xmlns:w="http://schemas.openxmlformats.org/wordprocessingml/2006/main">` +
		`<w:body>` + body.String() + `</w:body></w:document>`

	contentTypes := `<?xml version="1.0" encoding="UTF-8" standalone="yes"?>` +
		`<Types xmlns="http://schemas.openxmlformats.org/package/2006/content-types">` +
		`<Override PartName="/word/document.xml" ContentType="application/vnd.openxmlformats-officedocument.wordprocessingml.document.main+xml"/>` +
		`</Types>`

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	ct, err := zw.Create("[Content_Types].xml")
	if err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	if _, err := ct.Write([]byte(contentTypes)); err != nil {
		t.Fatalf("writing [Content_Types].xml: %v", err)
	}
	f, err := zw.Create("word/document.xml")
	if err != nil {
		t.Fatalf("creating zip entry: %v", err)
	}
	if _, err := f.Write([]byte(document)); err != nil {
		t.Fatalf("writing document.xml: %v", err)
	}
	if err := zw.Close(); err != nil {
		t.Fatalf("closing zip: %v", err)
	}
	return buf.Bytes()
}

func TestExtractDOCX(t *testing.T) {
	raw := buildDocx(t, "Parental leave is twelve weeks.", "Apply through HR.")

	got, err := Extract(raw, TypeDOCX)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	if len(got.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(got.Pages))
	}
	text := got.Pages[0].Text
	if !strings.Contains(text, "Parental leave is twelve weeks.") || !strings.Contains(text, "Apply through HR.") {
		t.Errorf("text = %q", text)
	}
}

func TestExtractCorruptDOCX(t *testing.T) {
	_, err := Extract([]byte("not a zip archive"), TypeDOCX)
	if !errors.Is(err, ErrCorruptDocument) {
		t.Fatalf("Extract() = %v, want ErrCorruptDocument", err)
	}
}

func TestExtractUnsupportedType(t *testing.T) {
	// PNG magic bytes: neither declared nor sniffable as a supported type.
	png := []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a}
	_, err := Extract(png, "png")
	if !errors.Is(err, ErrUnsupportedFileType) {
		t.Fatalf("Extract() = %v, want ErrUnsupportedFileType", err)
	}
}

func TestExtractCorruptPDF(t *testing.T) {
	_, err := Extract([]byte("%PDF-1.4 but not really a pdf"), TypePDF)
	if !errors.Is(err, ErrCorruptDocument) {
		t.Fatalf("Extract() = %v, want ErrCorruptDocument", err)
	}
}

func TestExtractSniffsWhenTypeUnknown(t *testing.T) {
	got, err := Extract([]byte("plain content with no declared type"), "")
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	if len(got.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(got.Pages))
	}
}

func TestExtractHTML(t *testing.T) {
	html := `<html><head><title>FAQ</title></head><body>
		<nav>Home | About</nav>
		<article><h1>Returns</h1>
		<p>Items can be returned within thirty days of delivery. A receipt is required for all returns and exchanges at any store location.</p>
		<p>Refunds are issued to the original payment method within five business days of receiving the returned item in acceptable condition.</p>
		</article></body></html>`

	got, err := Extract([]byte(html), TypeHTML)
	if err != nil {
		t.Fatalf("Extract() = %v", err)
	}
	if len(got.Pages) != 1 {
		t.Fatalf("got %d pages, want 1", len(got.Pages))
	}
	if !strings.Contains(got.Pages[0].Text, "thirty days") {
		t.Errorf("article text missing, got %q", got.Pages[0].Text)
	}
}

func TestNormalizeWhitespace(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"collapses runs", "a  b\t\tc\n\nd", "a b c d"},
		{"strips nul bytes", "a\x00b", "ab"},
		{"trims edges", "  hello  ", "hello"},
		{"empty", "", ""},
		{"only whitespace", " \n\t ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeWhitespace(tt.in); got != tt.want {
				t.Errorf("NormalizeWhitespace(%q) = %q, want %q", tt.in, got, tt.want)
			}
		})
	}
}
