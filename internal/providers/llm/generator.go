package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/sirupsen/logrus"
	"github.com/tmc/langchaingo/llms"
	"github.com/tmc/langchaingo/llms/openai"

	"zjobly/internal/domain"
)

const (
	DefaultModel       = "gpt-4o-mini"
	temperature        = 0.45
	maxTokens          = 480
	minTranscriptChars = 30
)

const jobPrompt = "You turn raw spoken job transcripts into concise job postings. " +
	"Output JSON with keys: title (max ~12 words), description (concise 80-140 words), " +
	"and keywords (array of 3-8 short skill/location terms). " +
	"Keep the tone clear and appealing, avoid fluff, and do not invent details that are not in the transcript."

const candidatePrompt = "You turn a spoken candidate introduction into a short profile. " +
	"Output JSON with keys: headline (max ~10 words), summary (concise 60-120 words, first person), " +
	"location (city or region if mentioned, else empty) and keywords (array of 3-8 short skill terms). " +
	"Do not invent experience or details that are not in the transcript."

// Config selects the chat model.
type Config struct {
	APIKey string
	Model  string
}

// Generator drafts form fields directly with a chat model.
type Generator struct {
	model llms.Model
	log   logrus.FieldLogger
}

// NewOpenAI builds a generator backed by the OpenAI chat API.
func NewOpenAI(cfg Config, log logrus.FieldLogger) (*Generator, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, errors.New("OPENAI_API_KEY is not configured")
	}
	if cfg.Model == "" {
		cfg.Model = DefaultModel
	}
	model, err := openai.New(openai.WithToken(cfg.APIKey), openai.WithModel(cfg.Model))
	if err != nil {
		return nil, fmt.Errorf("create openai client: %w", err)
	}
	return New(model, log), nil
}

func New(model llms.Model, log logrus.FieldLogger) *Generator {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Generator{model: model, log: log.WithField("component", "llm-drafts")}
}

func (g *Generator) GenerateDraft(ctx context.Context, req domain.DraftRequest) (domain.Draft, error) {
	if req.ObjectKey != "" && req.Transcript == "" {
		return domain.Draft{}, errors.New("video drafts need the backend draft provider")
	}
	transcript := strings.TrimSpace(req.Transcript)
	if utf8.RuneCountInString(transcript) < minTranscriptChars {
		return domain.Draft{}, errors.New("transcript is too short to generate a draft")
	}

	system := jobPrompt
	if req.Kind == domain.FormKindCandidate {
		system = candidatePrompt
	}
	if req.Language != "" {
		system += " Respond in " + req.Language + "."
	}

	messages := []llms.MessageContent{
		llms.TextParts(llms.ChatMessageTypeSystem, system),
		llms.TextParts(llms.ChatMessageTypeHuman, transcript),
	}
	resp, err := g.model.GenerateContent(ctx, messages,
		llms.WithTemperature(temperature),
		llms.WithMaxTokens(maxTokens),
		llms.WithJSONMode(),
	)
	if err != nil {
		if ctx.Err() != nil {
			return domain.Draft{}, ctx.Err()
		}
		return domain.Draft{}, fmt.Errorf("could not generate a draft from the transcript: %w", err)
	}
	if resp == nil || len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Content) == "" {
		return domain.Draft{}, errors.New("empty response from the language model")
	}

	draft, err := parseDraft(resp.Choices[0].Content)
	if err != nil {
		return domain.Draft{}, err
	}
	g.log.WithFields(logrus.Fields{"kind": req.Kind, "keywords": len(draft.Keywords)}).Debug("draft generated")
	return draft, nil
}

type modelDraft struct {
	Title          string          `json:"title"`
	Description    string          `json:"description"`
	JobDescription string          `json:"job_description"`
	Headline       string          `json:"headline"`
	Summary        string          `json:"summary"`
	Location       string          `json:"location"`
	Keywords       json.RawMessage `json:"keywords"`
	Tags           json.RawMessage `json:"tags"`
}

func parseDraft(content string) (domain.Draft, error) {
	content = strings.TrimSpace(content)
	content = strings.TrimPrefix(content, "```json")
	content = strings.TrimSuffix(strings.TrimPrefix(content, "```"), "```")

	var parsed modelDraft
	if err := json.Unmarshal([]byte(content), &parsed); err != nil {
		return domain.Draft{}, fmt.Errorf("invalid response from the language model: %w", err)
	}

	description := parsed.Description
	if strings.TrimSpace(description) == "" {
		description = parsed.JobDescription
	}
	keywords := decodeKeywords(parsed.Keywords)
	if len(keywords) == 0 {
		keywords = decodeKeywords(parsed.Tags)
	}
	return domain.Draft{
		Title:       strings.TrimSpace(parsed.Title),
		Description: strings.TrimSpace(description),
		Headline:    strings.TrimSpace(parsed.Headline),
		Summary:     strings.TrimSpace(parsed.Summary),
		Location:    strings.TrimSpace(parsed.Location),
		Keywords:    keywords,
	}, nil
}

// decodeKeywords accepts a JSON list or a comma separated string.
func decodeKeywords(raw json.RawMessage) []string {
	if len(raw) == 0 {
		return nil
	}
	var list []any
	if err := json.Unmarshal(raw, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if item == nil {
				continue
			}
			if text := strings.TrimSpace(fmt.Sprint(item)); text != "" {
				out = append(out, text)
			}
		}
		return out
	}
	var joined string
	if err := json.Unmarshal(raw, &joined); err != nil {
		return nil
	}
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
