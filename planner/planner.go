package planner

import (
	"context"
	"fmt"
	"log"
	"strings"
	"sync"

	"github.com/ZiangHu97/paper-sailor/chunks"
	"github.com/ZiangHu97/paper-sailor/core"
	"github.com/ZiangHu97/paper-sailor/extract"
	"github.com/ZiangHu97/paper-sailor/memory"
	"github.com/ZiangHu97/paper-sailor/retrieval"
)

// ContentSource delivers the material newly available for a round: raw
// extraction items plus the papers they came from.
type ContentSource interface {
	Fetch(ctx context.Context, topic string, round int) ([]extract.Item, []core.Paper, error)
}

// Loop runs one session to completion. It is the sole writer of the session
// and of the round's memory entries.
type Loop struct {
	cfg      core.Config
	store    *chunks.Store
	mem      *memory.Manager
	sessions *Store
	papers   *PaperLog
	pool     *extract.Pool
	embedder core.EmbeddingProvider
	synth    core.SynthesisProvider
	source   ContentSource

	mu      sync.Mutex
	session *Session
	stopped bool
}

// NewLoop assembles a loop around an existing session. The session is
// created first by the caller so the chunk store and memory manager can be
// scoped to its id before any round runs.
func NewLoop(cfg core.Config, session *Session, store *chunks.Store, mem *memory.Manager, sessions *Store, papers *PaperLog, pool *extract.Pool, embedder core.EmbeddingProvider, synth core.SynthesisProvider, source ContentSource) *Loop {
	if session.MaxRounds <= 0 {
		session.MaxRounds = core.DefaultConfig.MaxRounds
	}
	return &Loop{
		cfg:      cfg,
		store:    store,
		mem:      mem,
		sessions: sessions,
		papers:   papers,
		pool:     pool,
		embedder: embedder,
		synth:    synth,
		source:   source,
		session:  session,
	}
}

// Session returns a copy of the current session state.
func (l *Loop) Session() *Session {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Clone()
}

// Stop requests a graceful stop. The current round finishes and commits,
// then the session moves to COMPLETE.
func (l *Loop) Stop() {
	l.mu.Lock()
	l.stopped = true
	l.mu.Unlock()
}

// roundBuffer holds everything a round produced. Nothing in it touches the
// session until commit.
type roundBuffer struct {
	round       int
	questions   []string
	findings    []core.Finding
	ideas       []core.Idea
	readingList []core.ReadingListEntry
	warnings    []string
	papers      []core.Paper
	stop        bool
}

// Run executes rounds until a stop condition, the round cap, or a failure.
// A round-fatal error is retried once with the previous round's state
// intact; a second failure moves the session to FAILED, preserving all
// committed rounds.
func (l *Loop) Run(ctx context.Context) error {
	l.mu.Lock()
	if l.session.Status.Terminal() {
		l.mu.Unlock()
		return fmt.Errorf("session %s already %s", l.session.ID, l.session.Status)
	}
	l.mu.Unlock()

	if err := l.persist(); err != nil {
		return l.fail(fmt.Errorf("initial save: %w", err))
	}

	for {
		l.mu.Lock()
		round := l.session.RoundsCompleted + 1
		l.mu.Unlock()

		log.Printf("[PLANNER] session=%s round=%d starting", l.sessionID(), round)

		statusBefore := l.Session().Status
		var lastErr error
		committed := false
		for attempt := 0; attempt < 2 && !committed; attempt++ {
			buf, err := l.executeRound(ctx, round)
			if err == nil {
				err = l.commit(buf)
			}
			if err == nil {
				committed = true
				break
			}
			if ctx.Err() != nil {
				// Cancellation discards the round buffer and leaves the
				// session at the last committed round.
				l.setStatus(statusBefore)
				return ctx.Err()
			}
			lastErr = err
			log.Printf("[PLANNER] session=%s round=%d attempt=%d failed: %v", l.sessionID(), round, attempt+1, err)
		}
		if !committed {
			return l.fail(fmt.Errorf("round %d failed twice: %w", round, lastErr))
		}

		l.mu.Lock()
		done := l.session.Status.Terminal()
		l.mu.Unlock()
		if done {
			log.Printf("[PLANNER] session=%s complete after %d rounds", l.sessionID(), round)
			return nil
		}
	}
}

// executeRound runs one round against the collaborators without touching
// committed session state. Transient status updates are the only visible
// side effect before commit.
func (l *Loop) executeRound(ctx context.Context, round int) (*roundBuffer, error) {
	buf := &roundBuffer{round: round}

	l.setStatus(StatusQuestioning)
	req := l.synthesisRequest(round)
	questions, err := l.synth.Questions(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("questioning: %w", err)
	}
	if len(questions) == 0 {
		// Nothing left to ask. The round still commits so the decision is
		// recorded in rounds_completed.
		buf.stop = true
		return buf, nil
	}
	buf.questions = questions

	l.setStatus(StatusRetrieving)
	items, papers, err := l.source.Fetch(ctx, req.Topic, round)
	if err != nil {
		return nil, fmt.Errorf("fetch content: %w", err)
	}
	buf.papers = papers
	if len(items) > 0 {
		results, err := l.pool.Run(ctx, items)
		if err != nil {
			return nil, fmt.Errorf("extraction: %w", err)
		}
		for _, r := range results {
			if r.Err != nil {
				buf.warnings = append(buf.warnings, fmt.Sprintf("extraction skipped %s/%s: %v", r.Item.PaperID, r.Item.Location, r.Err))
			}
		}
	}

	contexts := make(map[string]string, len(questions))
	for _, q := range questions {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var queryVec []float32
		vecs, err := l.embedder.EmbedTexts(ctx, []string{q})
		if err != nil || len(vecs) != 1 {
			buf.warnings = append(buf.warnings, fmt.Sprintf("query embedding unavailable, keyword retrieval only: %v", err))
		} else {
			queryVec = vecs[0]
		}
		rc, err := retrieval.Compose(ctx, l.store, l.mem, l.cfg, q, queryVec)
		if err != nil {
			return nil, fmt.Errorf("retrieve %q: %w", q, err)
		}
		contexts[q] = rc.Render()
	}

	l.setStatus(StatusSynthesizing)
	req.Questions = questions
	req.Context = contexts
	result, err := l.synth.Synthesize(ctx, req)
	if err != nil {
		return nil, fmt.Errorf("synthesis: %w", err)
	}
	buf.findings = result.Findings
	buf.ideas = result.Ideas
	buf.readingList = result.ReadingList
	buf.warnings = append(buf.warnings, l.store.Warnings()...)

	l.setStatus(StatusDeciding)
	l.mu.Lock()
	if l.stopped || round >= l.session.MaxRounds {
		buf.stop = true
	}
	l.mu.Unlock()
	return buf, nil
}

// commit applies the round buffer. The session mutation happens on a clone
// that only replaces the live session after its save succeeds, so a failed
// commit leaves the session at the last committed round and a retried commit
// starts from that same state. The memory writes are keyed by round number,
// which makes a retried commit overwrite rather than duplicate them.
func (l *Loop) commit(buf *roundBuffer) error {
	ctx := context.Background()
	if len(buf.findings) > 0 {
		if err := l.mem.Put(ctx, memory.TierSession, fmt.Sprintf("round_%d_findings", buf.round), summarizeFindings(buf.findings)); err != nil {
			return fmt.Errorf("commit round %d: %w", buf.round, err)
		}
		if err := l.mem.Put(ctx, memory.TierAgent, "topic:"+l.topic(), summarizeRound(l.topic(), buf)); err != nil {
			return fmt.Errorf("commit round %d: %w", buf.round, err)
		}
	}
	if l.papers != nil && len(buf.papers) > 0 {
		if err := l.papers.Append(buf.papers); err != nil {
			// Paper log loss does not undo the round, it is evidence of a
			// degraded disk and worth a warning.
			buf.warnings = append(buf.warnings, fmt.Sprintf("paper log write failed: %v", err))
		}
	}

	l.mu.Lock()
	next := l.session.Clone()
	l.mu.Unlock()

	next.Questions = append(next.Questions, buf.questions...)
	next.Findings = append(next.Findings, buf.findings...)
	next.Ideas = append(next.Ideas, buf.ideas...)
	next.ReadingList = append(next.ReadingList, buf.readingList...)
	for _, w := range buf.warnings {
		next.AddWarning(w)
	}
	next.RoundsCompleted++
	if buf.stop {
		next.Status = StatusComplete
	} else {
		next.Status = StatusQuestioning
	}
	next.UpdatedAt = nowUTC()

	if err := l.sessions.Save(next); err != nil {
		return fmt.Errorf("commit round %d: %w", buf.round, err)
	}

	l.mu.Lock()
	l.session = next
	l.mu.Unlock()
	return nil
}

func (l *Loop) synthesisRequest(round int) *core.SynthesisRequest {
	l.mu.Lock()
	defer l.mu.Unlock()
	return &core.SynthesisRequest{
		Topic:         l.session.Topic,
		Round:         round,
		PriorFindings: append([]core.Finding(nil), l.session.Findings...),
		PriorIdeas:    append([]core.Idea(nil), l.session.Ideas...),
	}
}

func (l *Loop) fail(cause error) error {
	l.mu.Lock()
	l.session.Status = StatusFailed
	l.session.Error = cause.Error()
	l.mu.Unlock()
	if err := l.persist(); err != nil {
		log.Printf("[PLANNER] session=%s failed and could not be saved: %v", l.sessionID(), err)
	}
	log.Printf("[PLANNER] session=%s failed: %v", l.sessionID(), cause)
	return cause
}

func (l *Loop) persist() error {
	snapshot := l.Session()
	snapshot.UpdatedAt = nowUTC()
	l.mu.Lock()
	l.session.UpdatedAt = snapshot.UpdatedAt
	l.mu.Unlock()
	return l.sessions.Save(snapshot)
}

func (l *Loop) setStatus(st Status) {
	l.mu.Lock()
	l.session.Status = st
	l.mu.Unlock()
}

func (l *Loop) sessionID() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.ID
}

func (l *Loop) topic() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.session.Topic
}

func summarizeFindings(findings []core.Finding) string {
	var sb strings.Builder
	for i, f := range findings {
		if i > 0 {
			sb.WriteString(" | ")
		}
		fmt.Fprintf(&sb, "%s: %s", f.Question, f.Answer)
	}
	return sb.String()
}

func summarizeRound(topic string, buf *roundBuffer) string {
	return fmt.Sprintf("explored %q round %d: %d findings, %d ideas, %d reading list entries",
		topic, buf.round, len(buf.findings), len(buf.ideas), len(buf.readingList))
}
