package core

import (
	"fmt"
	"hash/fnv"
)

// ContentType classifies the modality of a stored chunk.
type ContentType string

const (
	ContentText   ContentType = "text"
	ContentFigure ContentType = "figure"
	ContentTable  ContentType = "table"
)

// Chunk is one stored unit of extracted content: a text passage, a figure
// description, or a table description. The embedding is optional; chunks
// without one remain retrievable through keyword ranking.
type Chunk struct {
	ID        string      `json:"id"`
	PaperID   string      `json:"paper_id"`
	Type      ContentType `json:"content_type"`
	Text      string      `json:"text"`
	Embedding []float32   `json:"embedding,omitempty"`
	PageFrom  int         `json:"page_from"`
	PageTo    int         `json:"page_to"`
	ImagePath string      `json:"image_path,omitempty"`
}

// ChunkID derives the content-addressed chunk id from the identifying triple.
// The same (paper, type, location) always maps to the same id, so repeated
// extraction of the same item overwrites instead of duplicating.
func ChunkID(paperID string, contentType ContentType, location string) string {
	h := fnv.New64a()
	fmt.Fprintf(h, "%s|%s|%s", paperID, contentType, location)
	return fmt.Sprintf("%s:%016x", paperID, h.Sum64())
}
