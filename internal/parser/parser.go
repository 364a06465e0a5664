package parser

import (
	"archive/zip"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"medical-qa-rag/internal/models"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/tealeg/xlsx"
	"github.com/tmc/langchaingo/schema"
	"github.com/xuri/excelize/v2"
)

const (
	defaultChunkSize    = 1000 // characters
	defaultChunkOverlap = 100  // characters
	defaultPageNumber   = 1
)

// LoadDocuments reads filePath into one document per page (PDF), slide
// (PPTX) or sheet (XLSX/XLSM). DOCX, TXT and MD files yield a single page.
// Pages without text are dropped.
func LoadDocuments(filePath string) ([]schema.Document, error) {
	var (
		pages []string
		err   error
	)
	ext := strings.ToLower(filepath.Ext(filePath))
	switch ext {
	case ".pdf":
		pages, err = parsePDF(filePath)
	case ".docx":
		pages, err = parseDOCX(filePath)
	case ".pptx":
		pages, err = parsePPTX(filePath)
	case ".xlsx":
		pages, err = parseXLSX(filePath)
	case ".xlsm":
		pages, err = parseXLSM(filePath)
	case ".txt", ".md":
		pages, err = parseText(filePath)
	default:
		return nil, fmt.Errorf("unsupported file format: %s", ext)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filePath, err)
	}

	docs := make([]schema.Document, 0, len(pages))
	for i, text := range pages {
		if strings.TrimSpace(text) == "" {
			continue
		}
		docs = append(docs, schema.Document{
			PageContent: text,
			Metadata: map[string]any{
				models.MetaSource:        filePath,
				models.MetaDisplaySource: filepath.Base(filePath),
				models.MetaPage:          i + 1,
			},
		})
	}
	return docs, nil
}

func parsePDF(filePath string) ([]string, error) {
	f, err := os.Open(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	// Get file size for reader initialization
	stat, err := f.Stat()
	if err != nil {
		return nil, err
	}

	reader, err := pdf.NewReader(f, stat.Size())
	if err != nil {
		return nil, err
	}

	numPages := reader.NumPage()
	pages := make([]string, 0, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			pages = append(pages, "")
			continue
		}
		pageText, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages = append(pages, pageText)
	}
	return pages, nil
}

func parseDOCX(filePath string) ([]string, error) {
	r, err := docx.ReadDocxFile(filePath)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	// DOCX has no page numbers
	paragraphs := docxParagraphs(r.Editable().GetContent())
	return []string{strings.Join(paragraphs, "\n\n")}, nil
}

// docxParagraphs pulls the text runs out of word/document.xml, one entry
// per non-empty <w:p>. Runs inside a paragraph are joined as written.
func docxParagraphs(content string) []string {
	var paragraphs []string
	for _, block := range strings.Split(content, "</w:p>") {
		var para strings.Builder
		rest := block
		for {
			start := strings.Index(rest, "<w:t")
			if start < 0 {
				break
			}
			rest = rest[start+len("<w:t"):]
			// skip <w:tab/>, <w:tbl> and friends
			if rest == "" || (rest[0] != '>' && rest[0] != ' ') {
				continue
			}
			end := strings.Index(rest, ">")
			if end < 0 {
				break
			}
			selfClosing := end > 0 && rest[end-1] == '/'
			rest = rest[end+1:]
			if selfClosing {
				continue
			}
			stop := strings.Index(rest, "</w:t>")
			if stop < 0 {
				break
			}
			para.WriteString(rest[:stop])
			rest = rest[stop+len("</w:t>"):]
		}
		if p := strings.TrimSpace(html.UnescapeString(para.String())); p != "" {
			paragraphs = append(paragraphs, p)
		}
	}
	return paragraphs
}

func parsePPTX(filePath string) ([]string, error) {
	f, err := zip.OpenReader(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var slides []*zip.File
	for _, file := range f.File {
		if strings.HasPrefix(file.Name, "ppt/slides/slide") && strings.HasSuffix(file.Name, ".xml") {
			slides = append(slides, file)
		}
	}
	sort.Slice(slides, func(i, j int) bool { return slideNumber(slides[i].Name) < slideNumber(slides[j].Name) })

	pages := make([]string, 0, len(slides))
	for _, file := range slides {
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		pages = append(pages, extractTextFromXML(string(data)))
	}
	return pages, nil
}

func slideNumber(name string) int {
	var n int
	fmt.Sscanf(strings.TrimPrefix(name, "ppt/slides/slide"), "%d", &n)
	return n
}

func parseXLSX(filePath string) ([]string, error) {
	f, err := xlsx.OpenFile(filePath)
	if err != nil {
		return nil, err
	}

	pages := make([]string, 0, len(f.Sheets))
	for _, sheet := range f.Sheets {
		rows := make([][]string, 0, len(sheet.Rows))
		for _, row := range sheet.Rows {
			cells := make([]string, 0, len(row.Cells))
			for _, cell := range row.Cells {
				cells = append(cells, cell.String())
			}
			rows = append(rows, cells)
		}
		pages = append(pages, sheetText(sheet.Name, rows))
	}
	return pages, nil
}

// parseXLSM reads macro-enabled workbooks, which tealeg/xlsx rejects.
func parseXLSM(filePath string) ([]string, error) {
	f, err := excelize.OpenFile(filePath)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	sheets := f.GetSheetList()
	pages := make([]string, 0, len(sheets))
	for _, sheetName := range sheets {
		rows, err := f.GetRows(sheetName)
		if err != nil {
			return nil, fmt.Errorf("sheet %s: %w", sheetName, err)
		}
		pages = append(pages, sheetText(sheetName, rows))
	}
	return pages, nil
}

// sheetText renders rows as tab separated lines under a sheet heading.
// A sheet with no non-empty cell renders as "".
func sheetText(name string, rows [][]string) string {
	var body strings.Builder
	for _, row := range rows {
		line := strings.TrimRight(strings.Join(row, "\t"), "\t ")
		if line == "" {
			continue
		}
		body.WriteString(line)
		body.WriteString("\n")
	}
	if body.Len() == 0 {
		return ""
	}
	return fmt.Sprintf("## Sheet: %s\n%s", name, body.String())
}

func parseText(filePath string) ([]string, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, err
	}
	return []string{string(data)}, nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		endIdx := strings.Index(part, "</a:t>")
		if endIdx >= 0 {
			text.WriteString(part[:endIdx] + " ")
		}
	}
	return strings.TrimSpace(text.String())
}
