package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"zjobly/internal/domain"
)

type draftRequest struct {
	Transcript string `json:"transcript,omitempty"`
	ObjectKey  string `json:"object_key,omitempty"`
	Language   string `json:"language,omitempty"`
}

type draftResponse struct {
	Title       string      `json:"title"`
	Description string      `json:"description"`
	Headline    string      `json:"headline"`
	Summary     string      `json:"summary"`
	Location    string      `json:"location"`
	Keywords    KeywordList `json:"keywords"`
	Transcript  string      `json:"transcript"`
}

// KeywordList accepts either a JSON array or a comma separated string.
type KeywordList []string

func (k *KeywordList) UnmarshalJSON(data []byte) error {
	trimmed := strings.TrimSpace(string(data))
	if trimmed == "null" || trimmed == "" {
		*k = nil
		return nil
	}

	var list []any
	if err := json.Unmarshal(data, &list); err == nil {
		out := make([]string, 0, len(list))
		for _, item := range list {
			if item == nil {
				continue
			}
			if value := strings.TrimSpace(fmt.Sprint(item)); value != "" {
				out = append(out, value)
			}
		}
		*k = out
		return nil
	}

	var joined string
	if err := json.Unmarshal(data, &joined); err != nil {
		return fmt.Errorf("keywords must be a list or a string: %w", err)
	}
	var out []string
	for _, part := range strings.Split(joined, ",") {
		if value := strings.TrimSpace(part); value != "" {
			out = append(out, value)
		}
	}
	*k = out
	return nil
}

// GenerateDraft routes to the job, job-from-video or candidate endpoint.
func (c *Client) GenerateDraft(ctx context.Context, req domain.DraftRequest) (domain.Draft, error) {
	var path string
	body := draftRequest{Language: req.Language}

	switch {
	case req.Kind == domain.FormKindCandidate && req.Transcript != "":
		path = "/nlp/candidate-draft"
		body.Transcript = req.Transcript
	case req.Kind == domain.FormKindJob && req.Transcript != "":
		path = "/nlp/job-draft"
		body.Transcript = req.Transcript
	case req.Kind == domain.FormKindJob && req.ObjectKey != "":
		path = "/nlp/job-draft-from-video"
		body.ObjectKey = req.ObjectKey
	case req.ObjectKey != "":
		return domain.Draft{}, fmt.Errorf("video drafts are not available for %s forms", req.Kind)
	default:
		return domain.Draft{}, errors.New("draft request needs a transcript or an object key")
	}

	var resp draftResponse
	if err := c.doJSON(ctx, http.MethodPost, path, body, &resp); err != nil {
		return domain.Draft{}, err
	}
	return domain.Draft{
		Title:       strings.TrimSpace(resp.Title),
		Description: strings.TrimSpace(resp.Description),
		Headline:    strings.TrimSpace(resp.Headline),
		Summary:     strings.TrimSpace(resp.Summary),
		Location:    strings.TrimSpace(resp.Location),
		Keywords:    []string(resp.Keywords),
		Transcript:  strings.TrimSpace(resp.Transcript),
	}, nil
}
