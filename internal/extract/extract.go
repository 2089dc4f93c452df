// Package extract converts a binary file blob plus a filename hint into a
// sequence of plain-text units, one per page when the source format is
// paginated. It is deliberately forgiving: unsupported or malformed input
// yields an empty sequence rather than an error, since a single bad file
// must never abort a batch ingestion run.
package extract

import (
	"bytes"
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"golang.org/x/text/encoding/charmap"
	"golang.org/x/text/encoding/unicode"
)

// Unit is one extracted text unit. Page is 0 when the source format has no
// pagination concept (DOCX, plain text).
type Unit struct {
	Page int
	Text string
}

// Extract dispatches on filename extension, falling back to content magic
// bytes, and returns the cleaned text units for the file.
func Extract(filename string, data []byte) []Unit {
	switch format(filename, data) {
	case formatPDF:
		return extractPDF(data)
	case formatDOCX:
		return extractDOCX(data)
	case formatText:
		return extractText(data)
	default:
		return nil
	}
}

type fileFormat int

const (
	formatUnknown fileFormat = iota
	formatPDF
	formatDOCX
	formatText
)

func format(filename string, data []byte) fileFormat {
	lower := strings.ToLower(filename)
	switch {
	case strings.HasSuffix(lower, ".pdf"):
		return formatPDF
	case strings.HasSuffix(lower, ".docx"):
		return formatDOCX
	case strings.HasSuffix(lower, ".txt"), strings.HasSuffix(lower, ".text"):
		return formatText
	}

	// Magic-byte sniff.
	if bytes.HasPrefix(data, []byte("%PDF-")) {
		return formatPDF
	}
	if looksLikeDOCX(data) {
		return formatDOCX
	}
	if looksLikeText(data) {
		return formatText
	}
	return formatUnknown
}

// looksLikeDOCX checks for a ZIP signature and a "word/" byte sequence
// anywhere in the data — cheap enough not to require unzipping just to
// classify the file.
func looksLikeDOCX(data []byte) bool {
	if len(data) < 4 || data[0] != 'P' || data[1] != 'K' {
		return false
	}
	return bytes.Contains(data, []byte("word/"))
}

func looksLikeText(data []byte) bool {
	if len(data) == 0 {
		return false
	}
	sample := data
	if len(sample) > 4096 {
		sample = sample[:4096]
	}
	nonPrintable := 0
	for _, b := range sample {
		if b == 0 {
			return false
		}
		if b < 0x09 || (b > 0x0d && b < 0x20) {
			nonPrintable++
		}
	}
	return float64(nonPrintable)/float64(len(sample)) < 0.05
}

func extractPDF(data []byte) []Unit {
	r, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}

	var units []Unit
	for i := 1; i <= r.NumPage(); i++ {
		page := r.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			continue
		}
		cleaned := clean(text)
		if cleaned == "" {
			continue
		}
		units = append(units, Unit{Page: i, Text: cleaned})
	}
	return units
}

func extractDOCX(data []byte) []Unit {
	r, err := docx.ReadDocxFromMemory(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil
	}
	defer r.Close()

	doc := r.Editable()
	var b strings.Builder
	b.WriteString(doc.GetContent())

	cleaned := clean(stripDOCXMarkup(b.String()))
	if cleaned == "" {
		return nil
	}
	return []Unit{{Page: 0, Text: cleaned}}
}

// reDOCXTag strips the XML tags left over after GetContent, which returns
// the raw document.xml body rather than already-plain text.
var reDOCXTag = regexp.MustCompile(`<[^>]+>`)

func stripDOCXMarkup(raw string) string {
	return reDOCXTag.ReplaceAllString(raw, " ")
}

func extractText(data []byte) []Unit {
	text := decodeText(data)
	cleaned := clean(text)
	if cleaned == "" {
		return nil
	}
	return []Unit{{Page: 0, Text: cleaned}}
}

// decodeText tries UTF-8, UTF-16 (BOM-detected), Latin-1, then CP-1252 in
// order, falling back to lossy UTF-8 with replacement characters.
func decodeText(data []byte) string {
	if utf8Valid(data) {
		return string(data)
	}

	if len(data) >= 2 {
		bomBE := data[0] == 0xFE && data[1] == 0xFF
		bomLE := data[0] == 0xFF && data[1] == 0xFE
		if bomBE || bomLE {
			dec := unicode.UTF16(unicode.BigEndian, unicode.UseBOM)
			if bomLE {
				dec = unicode.UTF16(unicode.LittleEndian, unicode.UseBOM)
			}
			if out, err := dec.NewDecoder().Bytes(data); err == nil {
				return string(out)
			}
		}
	}

	if out, err := charmap.ISO8859_1.NewDecoder().Bytes(data); err == nil {
		return string(out)
	}

	if out, err := charmap.Windows1252.NewDecoder().Bytes(data); err == nil {
		return string(out)
	}

	return string(bytes.ToValidUTF8(data, []byte("�")))
}

func utf8Valid(data []byte) bool {
	return utf8.Valid(data)
}

var (
	reRuns3Newlines = regexp.MustCompile(`\n{3,}`)
	reWhitespace    = regexp.MustCompile(`[ \t]+`)
	reNonPrintable  = regexp.MustCompile(`[^\x20-\x7E\n\p{L}\p{N}\p{P}\s]`)
)

// clean normalizes extracted text: strips NULs, collapses whitespace,
// caps blank-line runs, and drops characters outside a permissive
// printable-ASCII-plus-punctuation class.
func clean(s string) string {
	s = strings.ReplaceAll(s, "\x00", "")
	s = reNonPrintable.ReplaceAllString(s, "")
	s = reWhitespace.ReplaceAllString(s, " ")
	s = reRuns3Newlines.ReplaceAllString(s, "\n\n")
	return strings.TrimSpace(s)
}
