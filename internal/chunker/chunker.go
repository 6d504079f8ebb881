package chunker

import (
	"fmt"
	"strings"

	"pdf-rag/internal/models"
)

// Separators in order of preference. The empty separator means a hard cut.
var Separators = []string{"\n\n", "\n", " ", ""}

// Split chunks every page of doc independently; chunks never cross a page.
// chunkSize and chunkOverlap are counted in characters.
func Split(doc models.Document, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	if err := Validate(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	var chunks []models.Chunk
	for _, page := range doc.Pages {
		chunks = append(chunks, splitPage(page, chunkSize, chunkOverlap)...)
	}
	return chunks, nil
}

// SplitPage chunks a single page.
func SplitPage(page models.Page, chunkSize, chunkOverlap int) ([]models.Chunk, error) {
	if err := Validate(chunkSize, chunkOverlap); err != nil {
		return nil, err
	}
	return splitPage(page, chunkSize, chunkOverlap), nil
}

// Validate rejects sizes that cannot produce progressing, overlapping chunks.
func Validate(chunkSize, chunkOverlap int) error {
	input := fmt.Sprintf("chunk_size=%d chunk_overlap=%d", chunkSize, chunkOverlap)
	switch {
	case chunkSize <= 0:
		return models.NewError(models.ErrInvalidConfiguration, "split", input, fmt.Errorf("chunk_size must be positive"))
	case chunkOverlap < 0:
		return models.NewError(models.ErrInvalidConfiguration, "split", input, fmt.Errorf("chunk_overlap must not be negative"))
	case chunkOverlap >= chunkSize:
		return models.NewError(models.ErrInvalidConfiguration, "split", input, fmt.Errorf("chunk_overlap must be smaller than chunk_size"))
	}
	return nil
}

func splitPage(page models.Page, size, overlap int) []models.Chunk {
	text := []rune(page.Text)
	n := len(text)
	if n == 0 {
		return nil
	}

	var chunks []models.Chunk
	start := 0
	for {
		end := n
		if n-start > size {
			end = cutPoint(text, start, size, overlap)
		}
		chunks = append(chunks, models.Chunk{
			Text:   string(text[start:end]),
			Source: page.Ref,
			Offset: start,
			Length: end - start,
		})
		if end == n {
			return chunks
		}
		start = end - overlap
	}
}

// cutPoint returns the end of the chunk that begins at start. The result is in
// (start+overlap, start+size], so the following chunk always moves forward.
func cutPoint(text []rune, start, size, overlap int) int {
	limit := start + size
	for _, sep := range Separators {
		if sep == "" {
			break
		}
		if end := lastSeparatorEnd(text, start, start+overlap+1, limit, []rune(sep)); end > 0 {
			return end
		}
	}
	return limit
}

// lastSeparatorEnd returns the largest e in [lo, hi] where sep ends at e and
// starts at or after start, or -1.
func lastSeparatorEnd(text []rune, start, lo, hi int, sep []rune) int {
	for e := hi; e >= lo; e-- {
		if e-len(sep) < start {
			return -1
		}
		if hasSuffixAt(text, e, sep) {
			return e
		}
	}
	return -1
}

func hasSuffixAt(text []rune, end int, sep []rune) bool {
	for i := range sep {
		if text[end-len(sep)+i] != sep[i] {
			return false
		}
	}
	return true
}

// Reconstruct rebuilds a page from its chunks by dropping the overlapping
// prefix of every chunk after the first.
func Reconstruct(chunks []models.Chunk, chunkOverlap int) string {
	var sb strings.Builder
	for i, c := range chunks {
		r := []rune(c.Text)
		if i > 0 {
			r = r[min(chunkOverlap, len(r)):]
		}
		sb.WriteString(string(r))
	}
	return sb.String()
}
