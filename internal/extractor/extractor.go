// Package extractor turns uploaded bytes into plain text. The handler is
// chosen by file extension only; the declared MIME type is never consulted.
package extractor

import (
	"path/filepath"
	"regexp"
	"strings"
	"unicode/utf8"

	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

type Kind int

const (
	KindUnsupported Kind = iota
	KindPlain
	KindMarkdown
	KindJSON
	KindCSV
	KindPDF
	KindDOCX
	KindPPTX
	KindXLSX
	KindHTML
)

var kindNames = map[Kind]string{
	KindUnsupported: "unsupported",
	KindPlain:       "plain",
	KindMarkdown:    "markdown",
	KindJSON:        "json",
	KindCSV:         "csv",
	KindPDF:         "pdf",
	KindDOCX:        "docx",
	KindPPTX:        "pptx",
	KindXLSX:        "xlsx",
	KindHTML:        "html",
}

func (k Kind) String() string {
	if name, ok := kindNames[k]; ok {
		return name
	}
	return "unsupported"
}

// IsText reports whether the kind is decoded as UTF-8 without parsing.
func (k Kind) IsText() bool {
	switch k {
	case KindPlain, KindMarkdown, KindJSON, KindCSV:
		return true
	}
	return false
}

func KindOf(fileName string) Kind {
	switch strings.ToLower(filepath.Ext(strings.TrimSpace(fileName))) {
	case ".txt", ".text", ".log":
		return KindPlain
	case ".md", ".markdown":
		return KindMarkdown
	case ".json", ".jsonl":
		return KindJSON
	case ".csv", ".tsv":
		return KindCSV
	case ".pdf":
		return KindPDF
	case ".docx":
		return KindDOCX
	case ".pptx":
		return KindPPTX
	case ".xlsx":
		return KindXLSX
	case ".html", ".htm":
		return KindHTML
	}
	return KindUnsupported
}

func Supported(fileName string) bool {
	return KindOf(fileName) != KindUnsupported
}

var blankRun = regexp.MustCompile(`\n{3,}`)

// Extract returns the text content of data. Unsupported extensions fail
// with ErrUnsupportedType before any parsing; parser errors and blank
// results fail with ErrExtractionFailed.
func Extract(data []byte, fileName string) (string, error) {
	var (
		text string
		err  error
	)
	kind := KindOf(fileName)
	switch kind {
	case KindUnsupported:
		return "", appErr.Wrapf(appErr.ErrUnsupportedType, "%q", filepath.Ext(fileName))
	case KindPlain, KindMarkdown, KindJSON, KindCSV:
		text = decodeText(data)
	case KindPDF:
		text, err = extractPDF(data)
	case KindDOCX:
		text, err = extractDOCX(data)
	case KindPPTX:
		text, err = extractPPTX(data)
	case KindXLSX:
		text, err = extractXLSX(data)
	case KindHTML:
		text, err = extractHTML(data)
	}
	if err != nil {
		return "", appErr.Wrap(appErr.ErrExtractionFailed, err)
	}
	if !kind.IsText() {
		text = normalize(text)
	}
	if strings.TrimSpace(text) == "" {
		return "", appErr.Wrapf(appErr.ErrExtractionFailed, "no text in %s file", kind)
	}
	return text, nil
}

func decodeText(data []byte) string {
	text := string(data)
	text = strings.TrimPrefix(text, "\ufeff")
	if !utf8.ValidString(text) {
		text = strings.ToValidUTF8(text, string(utf8.RuneError))
	}
	return text
}

func normalize(text string) string {
	text = strings.ReplaceAll(text, "\x00", "")
	text = strings.ReplaceAll(text, "\r\n", "\n")
	text = strings.ReplaceAll(text, "\r", "\n")
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.TrimRight(line, " \t")
	}
	text = strings.Join(lines, "\n")
	return strings.TrimSpace(blankRun.ReplaceAllString(text, "\n\n"))
}
