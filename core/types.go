package core

// Citation points a finding at the evidence it was grounded on.
type Citation struct {
	PaperID  string `json:"paper_id"`
	PageFrom int    `json:"page_from"`
}

// Finding is one answered research question. Findings are append-only once
// written by a completed round.
type Finding struct {
	Question  string     `json:"question"`
	Answer    string     `json:"answer"`
	Citations []Citation `json:"citations"`
}

// Idea is an exploration proposal produced by a round. Ideas are created once
// and never edited.
type Idea struct {
	Title      string `json:"title"`
	Motivation string `json:"motivation"`
	Method     string `json:"method"`
	Eval       string `json:"eval"`
	Risks      string `json:"risks"`
}

// ReadingListEntry recommends a paper for follow-up. A paper may appear more
// than once with different reasons.
type ReadingListEntry struct {
	PaperID string `json:"paper_id"`
	Reason  string `json:"reason"`
}

// Paper is the discovery-time metadata for a document.
type Paper struct {
	ID    string `json:"id"`
	Title string `json:"title"`
	URL   string `json:"url"`
}
