// Package anthropic adapts the Claude API to the synthesis and vision
// collaborator interfaces. All prompts demand strict JSON and the replies
// are parsed defensively: models wrap JSON in code fences more often than
// they should.
package anthropic

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"log"
	"sort"
	"strings"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"

	"github.com/ZiangHu97/paper-sailor/core"
)

const (
	// DefaultModel is used when the caller does not pick one.
	DefaultModel = "claude-sonnet-4-20250514"

	maxTokens = 4096
)

// Provider calls Claude for question generation, round synthesis and
// figure/table captioning.
type Provider struct {
	client *anthropic.Client
	model  string
}

// New creates a provider from an API key. An empty model falls back to
// DefaultModel.
func New(apiKey, model string) *Provider {
	if model == "" {
		model = DefaultModel
	}
	client := anthropic.NewClient(option.WithAPIKey(apiKey))
	return &Provider{client: &client, model: model}
}

// Questions asks Claude for the next round's research questions. An empty
// list means the topic is exhausted and the session should wind down.
func (p *Provider) Questions(ctx context.Context, req *core.SynthesisRequest) ([]string, error) {
	prompt := questionsPrompt(req)
	text, err := p.complete(ctx, questionsSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("questions round %d: %w", req.Round, err)
	}

	var parsed struct {
		Questions []string `json:"questions"`
	}
	if err := json.Unmarshal([]byte(stripFences(text)), &parsed); err != nil {
		return nil, fmt.Errorf("questions round %d: parse reply: %w", req.Round, err)
	}
	return parsed.Questions, nil
}

// Synthesize turns the retrieved context into findings, ideas and a reading
// list for the round.
func (p *Provider) Synthesize(ctx context.Context, req *core.SynthesisRequest) (*core.RoundResult, error) {
	prompt := synthesizePrompt(req)
	text, err := p.complete(ctx, synthesizeSystem, prompt)
	if err != nil {
		return nil, fmt.Errorf("synthesize round %d: %w", req.Round, err)
	}

	var result core.RoundResult
	if err := json.Unmarshal([]byte(stripFences(text)), &result); err != nil {
		return nil, fmt.Errorf("synthesize round %d: parse reply: %w", req.Round, err)
	}
	return &result, nil
}

// Describe captions a figure or table image for retrieval.
func (p *Provider) Describe(ctx context.Context, image []byte, hint string) (string, error) {
	b64 := base64.StdEncoding.EncodeToString(image)
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: 1024,
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(
				anthropic.NewImageBlockBase64(detectMediaType(image), b64),
				anthropic.NewTextBlock(hint),
			),
		},
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("describe image: %w", err)
	}
	text := extractText(resp)
	if text == "" {
		return "", fmt.Errorf("describe image: empty reply")
	}
	return text, nil
}

func (p *Provider) complete(ctx context.Context, system, prompt string) (string, error) {
	params := anthropic.MessageNewParams{
		Model:     anthropic.Model(p.model),
		MaxTokens: maxTokens,
		System: []anthropic.TextBlockParam{
			{Text: system},
		},
		Messages: []anthropic.MessageParam{
			anthropic.NewUserMessage(anthropic.NewTextBlock(prompt)),
		},
	}
	resp, err := p.client.Messages.New(ctx, params)
	if err != nil {
		return "", fmt.Errorf("claude API error: %w", err)
	}
	log.Printf("[ANTHROPIC] model=%s in=%d out=%d", p.model, resp.Usage.InputTokens, resp.Usage.OutputTokens)
	text := extractText(resp)
	if text == "" {
		return "", fmt.Errorf("empty reply")
	}
	return text, nil
}

func extractText(resp *anthropic.Message) string {
	var sb strings.Builder
	for _, block := range resp.Content {
		if block.Type == "text" {
			sb.WriteString(block.Text)
		}
	}
	return sb.String()
}

// stripFences removes a ```json ... ``` wrapper when present.
func stripFences(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func detectMediaType(image []byte) string {
	switch {
	case len(image) >= 8 && string(image[1:4]) == "PNG":
		return "image/png"
	case len(image) >= 3 && image[0] == 0xFF && image[1] == 0xD8:
		return "image/jpeg"
	case len(image) >= 6 && string(image[:3]) == "GIF":
		return "image/gif"
	default:
		return "image/png"
	}
}

const questionsSystem = `You are a research planner. Reply with strict JSON only, no prose, no code fences.`

func questionsPrompt(req *core.SynthesisRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research topic: %s\nRound: %d\n\n", req.Topic, req.Round)
	if len(req.PriorFindings) > 0 {
		sb.WriteString("Findings so far:\n")
		for _, f := range req.PriorFindings {
			fmt.Fprintf(&sb, "- Q: %s\n  A: %s\n", f.Question, f.Answer)
		}
		sb.WriteString("\n")
	}
	sb.WriteString(`Propose up to 3 research questions this round should answer. Ask only what the findings above do not cover. If the topic is exhausted, return an empty list.

Reply as {"questions": ["...", ...]}`)
	return sb.String()
}

const synthesizeSystem = `You are a research analyst. Ground every answer in the supplied context and cite paper and page for each finding. Reply with strict JSON only, no prose, no code fences.`

func synthesizePrompt(req *core.SynthesisRequest) string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Research topic: %s\nRound: %d\n\nQuestions:\n", req.Topic, req.Round)
	for _, q := range req.Questions {
		fmt.Fprintf(&sb, "- %s\n", q)
	}
	sb.WriteString("\nContext:\n")
	queries := make([]string, 0, len(req.Context))
	for query := range req.Context {
		queries = append(queries, query)
	}
	sort.Strings(queries)
	for _, query := range queries {
		fmt.Fprintf(&sb, "--- context for %q ---\n%s\n", query, req.Context[query])
	}
	if len(req.PriorIdeas) > 0 {
		sb.WriteString("\nIdeas already proposed (do not repeat):\n")
		for _, idea := range req.PriorIdeas {
			fmt.Fprintf(&sb, "- %s\n", idea.Title)
		}
	}
	sb.WriteString(`
Reply as:
{
  "findings": [{"question": "...", "answer": "...", "citations": [{"paper_id": "...", "page_from": 1}]}],
  "ideas": [{"title": "...", "motivation": "...", "method": "...", "eval": "...", "risks": "..."}],
  "reading_list": [{"paper_id": "...", "reason": "..."}]
}`)
	return sb.String()
}
