// Package textextract turns source documents into NFC-normalized plain text.
package textextract

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/ledongthuc/pdf"
	"golang.org/x/text/unicode/norm"
)

// ErrUnreadableDocument is returned when a document cannot be opened or parsed.
var ErrUnreadableDocument = errors.New("unreadable document")

type Kind string

const (
	KindPDF  Kind = "pdf"
	KindText Kind = "text"
)

// KindOf infers the document kind from the file extension.
func KindOf(path string) (Kind, bool) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".pdf":
		return KindPDF, true
	case ".txt", ".text", ".md", ".markdown":
		return KindText, true
	default:
		return "", false
	}
}

// Extract reads the document at path. Pages are emitted in order, each
// terminated by a newline.
func Extract(path string) (string, error) {
	kind, ok := KindOf(path)
	if !ok {
		return "", fmt.Errorf("%w: unsupported file type %q", ErrUnreadableDocument, filepath.Ext(path))
	}
	info, err := os.Stat(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
	}
	if info.IsDir() {
		return "", fmt.Errorf("%w: %s is a directory", ErrUnreadableDocument, path)
	}

	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
	}
	defer f.Close()

	return ExtractReader(f, info.Size(), kind)
}

// ExtractReader extracts text from an already opened document.
func ExtractReader(r io.ReaderAt, size int64, kind Kind) (string, error) {
	var (
		text string
		err  error
	)
	switch kind {
	case KindPDF:
		text, err = extractPDF(r, size)
	case KindText:
		text, err = extractPlain(r, size)
	default:
		err = fmt.Errorf("%w: unsupported kind %q", ErrUnreadableDocument, kind)
	}
	if err != nil {
		return "", err
	}
	return norm.NFC.String(text), nil
}

func extractPlain(r io.ReaderAt, size int64) (string, error) {
	b, err := io.ReadAll(io.NewSectionReader(r, 0, size))
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}

func extractPDF(r io.ReaderAt, size int64) (text string, err error) {
	// The pdf package panics on some malformed inputs.
	defer func() {
		if rec := recover(); rec != nil {
			text = ""
			err = fmt.Errorf("%w: malformed pdf: %v", ErrUnreadableDocument, rec)
		}
	}()

	if size == 0 {
		return "", fmt.Errorf("%w: empty pdf", ErrUnreadableDocument)
	}
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrUnreadableDocument, err)
	}

	var buf bytes.Buffer
	for i := 1; i <= reader.NumPage(); i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		content, err := page.GetPlainText(nil)
		if err != nil {
			return "", fmt.Errorf("%w: page %d: %w", ErrUnreadableDocument, i, err)
		}
		buf.WriteString(content)
		buf.WriteByte('\n')
	}
	return buf.String(), nil
}
