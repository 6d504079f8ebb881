package models

import "fmt"

// DocumentRef identifies a single page of a loaded document.
type DocumentRef struct {
	Path string `json:"path"`
	Page int    `json:"page"`
}

func (r DocumentRef) String() string {
	return fmt.Sprintf("%s#%d", r.Path, r.Page)
}

// Page is the raw text of one page together with where it came from.
type Page struct {
	Ref  DocumentRef
	Text string
}

// Document is an ordered sequence of pages. It is not modified after loading.
type Document struct {
	Path  string
	Pages []Page
}

// Chunk represents a contiguous piece of a page's text.
// Offset and Length are counted in characters (runes) of the page text.
type Chunk struct {
	Text   string      `json:"text"`
	Source DocumentRef `json:"source"`
	Offset int         `json:"offset"`
	Length int         `json:"length"`
}

// Key is the chunk identity inside an index: same page, same offset.
func (c Chunk) Key() string {
	return fmt.Sprintf("%s@%d", c.Source, c.Offset)
}

// Answer is returned to the caller of an ask.
type Answer struct {
	Text    string        `json:"text"`
	Sources []DocumentRef `json:"sources"`
	Query   string        `json:"query"`
}
