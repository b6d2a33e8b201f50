// Package planner drives the research loop: a session advances in rounds
// through question generation, extraction, retrieval and synthesis, and all
// of a round's output is committed atomically or not at all.
package planner

import (
	"time"

	"github.com/google/uuid"

	"github.com/ZiangHu97/paper-sailor/core"
)

// Status is the session lifecycle state.
type Status string

const (
	StatusInit         Status = "INIT"
	StatusQuestioning  Status = "QUESTIONING"
	StatusRetrieving   Status = "RETRIEVING"
	StatusSynthesizing Status = "SYNTHESIZING"
	StatusDeciding     Status = "DECIDING"
	StatusComplete     Status = "COMPLETE"
	StatusFailed       Status = "FAILED"
)

// Terminal reports whether no further rounds can run.
func (s Status) Terminal() bool {
	return s == StatusComplete || s == StatusFailed
}

// Session is the unit of research work. It is owned by the Loop and mutated
// only at round boundaries; readers get copies.
type Session struct {
	ID              string                  `json:"id"`
	Topic           string                  `json:"topic"`
	Status          Status                  `json:"status"`
	RoundsCompleted int                     `json:"rounds_completed"`
	MaxRounds       int                     `json:"max_rounds"`
	Questions       []string                `json:"questions"`
	Findings        []core.Finding          `json:"findings"`
	Ideas           []core.Idea             `json:"ideas"`
	ReadingList     []core.ReadingListEntry `json:"reading_list"`
	Warnings        []string                `json:"warnings"`
	Error           string                  `json:"error,omitempty"`
	CreatedAt       time.Time               `json:"created_at"`
	UpdatedAt       time.Time               `json:"updated_at"`
}

func nowUTC() time.Time {
	return time.Now().UTC()
}

// NewSession creates a session in INIT with empty lists.
func NewSession(topic string, maxRounds int) *Session {
	now := nowUTC()
	return &Session{
		ID:        uuid.New().String(),
		Topic:     topic,
		Status:    StatusInit,
		MaxRounds: maxRounds,
		CreatedAt: now,
		UpdatedAt: now,
	}
}

// AddWarning appends a warning, deduplicated by message text.
func (s *Session) AddWarning(msg string) {
	for _, w := range s.Warnings {
		if w == msg {
			return
		}
	}
	s.Warnings = append(s.Warnings, msg)
}

// Clone returns a deep copy safe to hand outside the Loop.
func (s *Session) Clone() *Session {
	cp := *s
	cp.Questions = append([]string(nil), s.Questions...)
	cp.Findings = append([]core.Finding(nil), s.Findings...)
	for i := range cp.Findings {
		cp.Findings[i].Citations = append([]core.Citation(nil), s.Findings[i].Citations...)
	}
	cp.Ideas = append([]core.Idea(nil), s.Ideas...)
	cp.ReadingList = append([]core.ReadingListEntry(nil), s.ReadingList...)
	cp.Warnings = append([]string(nil), s.Warnings...)
	return &cp
}
