package parser

import (
	"archive/zip"
	"context"
	"errors"
	"fmt"
	"html"
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strconv"
	"strings"

	"github.com/ledongthuc/pdf"
	"github.com/nguyenthenguyen/docx"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/models"
)

// Loader reads a document from disk into pages.
type Loader struct{}

func NewLoader() *Loader {
	return &Loader{}
}

type parseFunc func(path string) ([]string, error)

var parsers = map[string]parseFunc{
	".pdf":  parsePDF,
	".docx": parseDOCX,
	".pptx": parsePPTX,
	".xlsx": parseXLSX,
	".xlsm": parseWorkbook,
	".xltx": parseWorkbook,
	".xltm": parseWorkbook,
	".md":   parseMarkdown,
	".txt":  parseText,
}

// Load returns one page per PDF page. Other formats map their natural unit
// (slide, sheet, top-level markdown section, form-feed separated block) to a
// page. A missing file is ErrDocumentNotFound; a file that cannot be parsed or
// yields no text is ErrUnreadableDocument.
func (l *Loader) Load(ctx context.Context, path string) (models.Document, error) {
	if err := ctx.Err(); err != nil {
		return models.Document{}, err
	}

	fi, err := os.Stat(path)
	switch {
	case errors.Is(err, os.ErrNotExist):
		return models.Document{}, models.NewError(models.ErrDocumentNotFound, "load", path, nil)
	case err != nil:
		return models.Document{}, models.NewError(models.ErrUnreadableDocument, "load", path, err)
	case fi.IsDir():
		return models.Document{}, models.NewError(models.ErrUnreadableDocument, "load", path, errors.New("is a directory"))
	}

	ext := strings.ToLower(filepath.Ext(path))
	parse, ok := parsers[ext]
	if !ok {
		return models.Document{}, models.NewError(models.ErrUnreadableDocument, "load", path,
			fmt.Errorf("unsupported file format: %s", ext))
	}

	texts, err := parse(path)
	if err != nil {
		return models.Document{}, models.NewError(models.ErrUnreadableDocument, "load", path, err)
	}

	doc := models.Document{Path: path, Pages: make([]models.Page, len(texts))}
	hasText := false
	for i, t := range texts {
		doc.Pages[i] = models.Page{Ref: models.DocumentRef{Path: path, Page: i + 1}, Text: t}
		if strings.TrimSpace(t) != "" {
			hasText = true
		}
	}
	if !hasText {
		return models.Document{}, models.NewError(models.ErrUnreadableDocument, "load", path, errors.New("no extractable text"))
	}

	log.Debug().Str("path", path).Str("format", ext).Int("pages", len(doc.Pages)).Msg("Parsed document")
	return doc, nil
}

func parsePDF(path string) (pages []string, err error) {
	// the pdf library panics on some malformed files
	defer func() {
		if r := recover(); r != nil {
			pages, err = nil, fmt.Errorf("malformed pdf: %v", r)
		}
	}()

	f, reader, err := pdf.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	numPages := reader.NumPage()
	pages = make([]string, numPages)
	for i := 1; i <= numPages; i++ {
		page := reader.Page(i)
		if page.V.IsNull() {
			continue
		}
		text, err := page.GetPlainText(nil)
		if err != nil {
			return nil, fmt.Errorf("page %d: %w", i, err)
		}
		pages[i-1] = text
	}
	return pages, nil
}

var (
	paragraphEnd = regexp.MustCompile(`</w:p>`)
	xmlTag       = regexp.MustCompile(`<[^>]+>`)
)

// parseDOCX returns the whole document as one page; DOCX has no fixed pages.
func parseDOCX(path string) ([]string, error) {
	r, err := docx.ReadDocxFile(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	return []string{xmlText(r.Editable().GetContent())}, nil
}

func xmlText(content string) string {
	content = paragraphEnd.ReplaceAllString(content, "\n")
	content = xmlTag.ReplaceAllString(content, "")
	return strings.TrimSpace(html.UnescapeString(content))
}

var slideName = regexp.MustCompile(`^ppt/slides/slide(\d+)\.xml$`)

// parsePPTX returns one page per slide, in slide order.
func parsePPTX(path string) ([]string, error) {
	f, err := zip.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	type slide struct {
		num  int
		text string
	}
	var slides []slide
	for _, file := range f.File {
		m := slideName.FindStringSubmatch(file.Name)
		if m == nil {
			continue
		}
		rc, err := file.Open()
		if err != nil {
			return nil, err
		}
		data, err := io.ReadAll(rc)
		rc.Close()
		if err != nil {
			return nil, err
		}
		num, err := strconv.Atoi(m[1])
		if err != nil {
			return nil, fmt.Errorf("slide %s: %w", file.Name, err)
		}
		slides = append(slides, slide{num: num, text: extractTextFromXML(string(data))})
	}
	sort.Slice(slides, func(i, j int) bool { return slides[i].num < slides[j].num })

	pages := make([]string, len(slides))
	for i, s := range slides {
		pages[i] = s.text
	}
	return pages, nil
}

func extractTextFromXML(xmlContent string) string {
	var text strings.Builder
	parts := strings.Split(xmlContent, "<a:t>")
	for i, part := range parts {
		if i == 0 {
			continue
		}
		if end := strings.Index(part, "</a:t>"); end >= 0 {
			text.WriteString(html.UnescapeString(part[:end]) + " ")
		}
	}
	return strings.TrimSpace(text.String())
}

// parseText splits on form feeds, the page separator of text extracted from PDFs.
func parseText(path string) ([]string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	return strings.Split(string(data), "\f"), nil
}
