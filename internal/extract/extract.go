package extract

import (
	"archive/zip"
	"bytes"
	"context"
	"encoding/xml"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"
	"unicode/utf8"

	"github.com/ledongthuc/pdf"

	"docchat-backend/internal/shared/storage/object"
)

const (
	mimePDF   = "application/pdf"
	mimeDOCX  = "application/vnd.openxmlformats-officedocument.wordprocessingml.document"
	mimePlain = "text/plain"
)

// ErrUnsupported is returned for content types with no extractor.
var ErrUnsupported = errors.New("unsupported document type")

// ErrEmptyText is returned when a document yields no text at all.
var ErrEmptyText = errors.New("document contains no extractable text")

// Result is the extracted text and the document's page count.
type Result struct {
	Text      string
	PageCount int
	MimeType  string
}

// Extractor turns raw artifact bytes into text.
type Extractor interface {
	Extract(ctx context.Context, data []byte, fileName string) (Result, error)
}

// Default extracts PDF, DOCX and plain text/markdown.
type Default struct{}

// Extract detects the type from the file name and content.
func (Default) Extract(ctx context.Context, data []byte, fileName string) (Result, error) {
	if err := ctx.Err(); err != nil {
		return Result{}, err
	}
	mimeType := Detect(fileName, data)

	var (
		res Result
		err error
	)
	switch mimeType {
	case mimePDF:
		res, err = extractPDF(data)
	case mimeDOCX:
		res, err = extractDOCX(data)
	case mimePlain:
		res, err = extractPlain(data)
	default:
		return Result{}, fmt.Errorf("%w: %s", ErrUnsupported, mimeType)
	}
	if err != nil {
		return Result{}, fmt.Errorf("extract %s: %w", mimeType, err)
	}
	res.MimeType = mimeType
	if strings.TrimSpace(res.Text) == "" {
		return Result{}, ErrEmptyText
	}
	return res, nil
}

// SaveDerived stores extracted text next to the raw artifact.
func SaveDerived(ctx context.Context, store object.ObjectStore, key, text string) error {
	_, err := store.SaveWithKey(ctx, key, "text/plain; charset=utf-8", strings.NewReader(text))
	return err
}

// Detect resolves the content type from the extension, falling back to sniffing.
func Detect(fileName string, data []byte) string {
	switch strings.ToLower(filepath.Ext(fileName)) {
	case ".pdf":
		return mimePDF
	case ".docx":
		return mimeDOCX
	case ".txt", ".md", ".markdown":
		return mimePlain
	}

	sniffed := strings.ToLower(strings.TrimSpace(strings.Split(http.DetectContentType(data), ";")[0]))
	if sniffed == "application/zip" {
		if mapped := mapOOXMLFromZip(data); mapped != "" {
			return mapped
		}
	}
	return sniffed
}

func extractPDF(data []byte) (Result, error) {
	pdfReader, err := pdf.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, err
	}
	plain, err := pdfReader.GetPlainText()
	if err != nil {
		return Result{}, err
	}
	var buf bytes.Buffer
	if _, err := io.Copy(&buf, plain); err != nil {
		return Result{}, err
	}
	return Result{Text: buf.String(), PageCount: pdfReader.NumPage()}, nil
}

func extractDOCX(data []byte) (Result, error) {
	if len(data) == 0 {
		return Result{}, errors.New("empty docx data")
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return Result{}, err
	}

	var docFile, appFile *zip.File
	for _, f := range zr.File {
		switch strings.ReplaceAll(f.Name, "\\", "/") {
		case "word/document.xml":
			docFile = f
		case "docProps/app.xml":
			appFile = f
		}
	}
	if docFile == nil {
		return Result{}, errors.New("document.xml file not found")
	}

	raw, err := readZipFile(docFile)
	if err != nil {
		return Result{}, err
	}

	pages := 1
	if appFile != nil {
		if appRaw, err := readZipFile(appFile); err == nil {
			if n := docxPageCount(appRaw); n > 0 {
				pages = n
			}
		}
	}
	return Result{Text: stripDocxXML(string(raw)), PageCount: pages}, nil
}

func readZipFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, err
	}
	defer rc.Close()
	return io.ReadAll(rc)
}

// docxPageCount reads <Pages> from docProps/app.xml, as last saved by the editor.
func docxPageCount(raw []byte) int {
	var props struct {
		Pages string `xml:"Pages"`
	}
	if err := xml.Unmarshal(raw, &props); err != nil {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimSpace(props.Pages))
	if err != nil {
		return 0
	}
	return n
}

// extractPlain treats form feeds as page breaks.
func extractPlain(data []byte) (Result, error) {
	if !utf8.Valid(data) {
		return Result{}, errors.New("text is not valid utf-8")
	}
	text := string(data)
	return Result{Text: text, PageCount: strings.Count(strings.TrimRight(text, "\f"), "\f") + 1}, nil
}

func stripDocxXML(raw string) string {
	decoder := xml.NewDecoder(strings.NewReader(raw))
	var buf strings.Builder
	for {
		tok, err := decoder.Token()
		if err == io.EOF {
			break
		}
		if err != nil {
			return raw
		}
		switch t := tok.(type) {
		case xml.CharData:
			buf.WriteString(string(t))
		case xml.EndElement:
			if t.Name.Local == "p" || t.Name.Local == "br" {
				if buf.Len() > 0 {
					buf.WriteString("\n")
				}
			}
		}
	}
	return strings.TrimSpace(buf.String())
}

func mapOOXMLFromZip(data []byte) string {
	if len(data) == 0 {
		return ""
	}
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return ""
	}
	for _, f := range zr.File {
		if strings.ReplaceAll(f.Name, "\\", "/") == "word/document.xml" {
			return mimeDOCX
		}
	}
	return ""
}

var _ Extractor = Default{}
