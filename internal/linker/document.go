package linker

import (
	"bytes"
	"errors"
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"github.com/gabriel-vasile/mimetype"
	"github.com/saintfish/chardet"
	"golang.org/x/net/html/charset"
)

// MaxDocumentSize limits document input to 10MB.
const MaxDocumentSize = 10 * 1024 * 1024

// ErrUnsupportedContent is returned for payloads the Linker must not scan,
// such as XML documents.
var ErrUnsupportedContent = errors.New("unsupported document content type")

// LoadDocument parses an HTML payload with charset detection, refusing XML
// and oversized input.
func LoadDocument(data []byte) (*goquery.Document, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("document content required")
	}
	if len(data) > MaxDocumentSize {
		return nil, fmt.Errorf("document exceeds maximum size of %d bytes", MaxDocumentSize)
	}

	mime := mimetype.Detect(data)
	if mime.Is("text/xml") || mime.Is("application/xml") {
		return nil, ErrUnsupportedContent
	}

	detected := detectCharset(data)
	utf8Reader, err := charset.NewReader(bytes.NewReader(data), detected)
	if err != nil {
		// Fall back to direct parsing.
		return goquery.NewDocumentFromReader(bytes.NewReader(data))
	}
	return goquery.NewDocumentFromReader(utf8Reader)
}

// ScanDocument runs a scan pass over a parsed document and returns the
// number of markers created.
func (l *Linker) ScanDocument(doc *goquery.Document) int {
	if doc == nil || len(doc.Nodes) == 0 {
		return 0
	}
	return l.Scan(doc.Nodes[0])
}

// ScanHTML parses, scans, and re-serializes an HTML payload. It returns
// the rewritten markup and the number of markers created.
func (l *Linker) ScanHTML(htmlStr string) (string, int, error) {
	doc, err := LoadDocument([]byte(htmlStr))
	if err != nil {
		return "", 0, err
	}

	created := l.ScanDocument(doc)
	out, err := doc.Html()
	if err != nil {
		return "", created, err
	}
	return out, created, nil
}

func detectCharset(data []byte) string {
	detector := chardet.NewTextDetector()
	result, err := detector.DetectBest(data)
	if err != nil || result == nil {
		return "utf-8"
	}
	return strings.ToLower(result.Charset)
}
