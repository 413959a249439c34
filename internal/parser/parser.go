package parser

import (
	"archive/zip"
	"bytes"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"
	"github.com/tealeg/xlsx"
	"github.com/xuri/excelize/v2"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/extension"
	"github.com/yuin/goldmark/text"

	"pdfchat/internal/models"
)

var (
	ErrUnsupportedFormat = errors.New("unsupported file format")
	ErrNoDocuments       = errors.New("no documents given")
)

// Document is the extracted text of one uploaded file.
type Document struct {
	Path  string `json:"path"`
	Pages int    `json:"pages"`
	Text  string `json:"text"`
}

var (
	docxRunRe  = regexp.MustCompile(`<w:t(?:\s[^>]*)?>([^<]*)</w:t>|</w:p>`)
	slideRunRe = regexp.MustCompile(`<a:t>([^<]*)</a:t>|</a:p>`)
	slideNumRe = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)
)

// ReadDocuments extracts every file in upload order.
func ReadDocuments(paths []string) ([]Document, error) {
	if len(paths) == 0 {
		return nil, ErrNoDocuments
	}
	docs := make([]Document, 0, len(paths))
	for _, p := range paths {
		doc, err := ReadFile(p)
		if err != nil {
			return nil, err
		}
		log.Debug().Str("path", p).Int("pages", doc.Pages).Int("chars", len(doc.Text)).Msg("Read document")
		docs = append(docs, doc)
	}
	return docs, nil
}

// RawText concatenates the documents in the order given.
func RawText(docs []Document) string {
	parts := make([]string, 0, len(docs))
	for _, d := range docs {
		parts = append(parts, d.Text)
	}
	return strings.Join(parts, models.DocumentJoiner)
}

func ReadFile(filePath string) (Document, error) {
	ext := strings.ToLower(filepath.Ext(filePath))
	var (
		text  string
		pages = 1
		err   error
	)
	switch ext {
	case ".pdf":
		text, pages, err = parsePDF(filePath)
	case ".docx":
		text, err = parseDOCX(filePath)
	case ".pptx":
		text, pages, err = parsePPTX(filePath)
	case ".xlsx":
		text, pages, err = parseXLSX(filePath)
	case ".xlsm", ".xltx", ".xltm":
		text, pages, err = parseWorkbook(filePath)
	case ".md", ".markdown":
		text, err = parseMarkdown(filePath)
	case ".txt":
		text, err = parseText(filePath)
	default:
		return Document{}, fmt.Errorf("%w: %s", ErrUnsupportedFormat, ext)
	}
	if err != nil {
		return Document{}, fmt.Errorf("failed to read %s: %w", filePath, err)
	}
	return Document{Path: filePath, Pages: pages, Text: text}, nil
}

func parsePDF(filePath string) (string, int, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", 0, err
	}
	return ReadPDF(f, stat.Size())
}

// ReadPDF returns the plain text of every page joined by a newline, and the
// page count. A PDF without a text layer yields an empty string.
func ReadPDF(r io.ReaderAt, size int64) (string, int, error) {
	reader, err := pdf.NewReader(r, size)
	if err != nil {
		return "", 0, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	fonts := make(map[string]*pdf.Font)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		for _, name := range page.Fonts() {
			if _, ok := fonts[name]; !ok {
				f := page.Font(name)
				fonts[name] = &f
			}
		}
		pageText, err := page.GetPlainText(fonts)
		if err != nil {
			return "", 0, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, strings.TrimSpace(pageText))
	}

	content := strings.Join(pages, models.PageJoiner)
	if strings.TrimSpace(content) == "" {
		log.Warn().Int("pages", numPages).Msg("PDF has no extractable text")
		return "", numPages, nil
	}
	return content, numPages, nil
}

func parseDOCX(filePath string) (string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return "", err
	}
	defer r.Close()

	return extractXMLText(r.Editable().GetContent(), docxRunRe), nil
}

func parsePPTX(filePath string) (string, int, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		m := slideNumRe.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return "", 0, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return "", 0, err
		}
		var n int
		fmt.Sscanf(m[1], "%d", &n)
		slides = append(slides, slide{num: n, text: extractXMLText(string(data), slideRunRe)})
	}
	// zip order is not slide order
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	parts := make([]string, 0, len(slides))
	for _, s := range slides {
		if s.text != "" {
			parts = append(parts, s.text)
		}
	}
	return strings.Join(parts, models.PageJoiner), len(slides), nil
}

func parseXLSX(filePath string) (string, int, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return "", 0, err
	}

	var text strings.Builder
	for _, sheet := range f.Sheets {
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheet.Name))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			text.WriteString(strings.Join(cells, "\t"))
			text.WriteString("\n")
		}
	}
	return strings.TrimSpace(text.String()), len(f.Sheets), nil
}

// parseWorkbook covers the macro-enabled and template workbook variants.
func parseWorkbook(filePath string) (string, int, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return "", 0, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	var text strings.Builder
	for _, sheetName := range sheets {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return "", 0, err
		}
		text.WriteString(fmt.Sprintf("## Sheet: %s\n", sheetName))
		for _, row := range rows {
			text.WriteString(strings.Join(row, "\t"))
			text.WriteString("\n")
		}
	}
	return strings.TrimSpace(text.String()), len(sheets), nil
}

func parseMarkdown(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return markdownToText(data)
}

// markdownToText drops markdown syntax and keeps the readable text, one
// block per line.
func markdownToText(src []byte) (string, error) {
	md := goldmark.New(goldmark.WithExtensions(extension.GFM))
	doc := md.Parser().Parse(text.NewReader(src))

	var buf bytes.Buffer
	err := ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		switch node := n.(type) {
		case *ast.Text:
			if entering {
				buf.Write(node.Segment.Value(src))
				if node.SoftLineBreak() || node.HardLineBreak() {
					buf.WriteByte('\n')
				}
			}
		case *ast.String:
			if entering {
				buf.Write(node.Value)
			}
		case *ast.AutoLink:
			if entering {
				buf.Write(node.Label(src))
			}
		case *ast.CodeBlock, *ast.FencedCodeBlock:
			if entering {
				lines := n.Lines()
				for i := 0; i < lines.Len(); i++ {
					seg := lines.At(i)
					buf.Write(seg.Value(src))
				}
			}
		}
		if !entering && n.Type() == ast.TypeBlock {
			buf.WriteByte('\n')
		}
		return ast.WalkContinue, nil
	})
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(buf.String()), nil
}

func parseText(filePath string) (string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return "", err
	}
	return strings.TrimSpace(string(data)), nil
}

// extractXMLText keeps the captured text runs and turns paragraph ends into
// newlines.
func extractXMLText(xmlContent string, re *regexp.Regexp) string {
	var b strings.Builder
	for _, m := range re.FindAllStringSubmatch(xmlContent, -1) {
		if strings.HasPrefix(m[0], "</") {
			b.WriteString("\n")
			continue
		}
		b.WriteString(html.UnescapeString(m[1]))
	}
	return strings.TrimSpace(b.String())
}
