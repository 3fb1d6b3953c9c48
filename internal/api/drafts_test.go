package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"zjobly/internal/domain"
)

func TestKeywordListAcceptsListOrString(t *testing.T) {
	t.Parallel()

	tests := []struct {
		input string
		want  []string
	}{
		{`["Go", " Kubernetes ", "", 3]`, []string{"Go", "Kubernetes", "3"}},
		{`"barista, latte art ,, Ghent"`, []string{"barista", "latte art", "Ghent"}},
		{`null`, nil},
	}
	for _, tt := range tests {
		var got KeywordList
		if err := json.Unmarshal([]byte(tt.input), &got); err != nil {
			t.Fatalf("unmarshal %s: %v", tt.input, err)
		}
		if len(got) != len(tt.want) {
			t.Fatalf("%s: expected %v, got %v", tt.input, tt.want, got)
		}
		for i := range tt.want {
			if got[i] != tt.want[i] {
				t.Fatalf("%s: expected %v, got %v", tt.input, tt.want, got)
			}
		}
	}

	var bad KeywordList
	if err := json.Unmarshal([]byte(`{"a":1}`), &bad); err == nil {
		t.Fatalf("expected error for object keywords")
	}
}

func TestGenerateDraftRoutesByKind(t *testing.T) {
	t.Parallel()

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req draftRequest
		_ = json.NewDecoder(r.Body).Decode(&req)
		switch r.URL.Path {
		case "/nlp/job-draft":
			if req.Transcript == "" || req.Language != "nl-BE" {
				t.Errorf("unexpected job draft request %+v", req)
			}
			_, _ = w.Write([]byte(`{"title":" Barista ","description":"Make coffee.","keywords":"coffee, Ghent"}`))
		case "/nlp/job-draft-from-video":
			if req.ObjectKey != "k2" {
				t.Errorf("unexpected video draft request %+v", req)
			}
			_, _ = w.Write([]byte(`{"title":"Chef","description":"Cook.","keywords":["kitchen"],"transcript":"we need a chef"}`))
		case "/nlp/candidate-draft":
			_, _ = w.Write([]byte(`{"headline":"Senior Go engineer","summary":"Builds services.","location":"Antwerp","keywords":["go"]}`))
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()

	client := NewClient(Config{BaseURL: backend.URL}, quietLogger())
	ctx := context.Background()

	job, err := client.GenerateDraft(ctx, domain.DraftRequest{Kind: domain.FormKindJob, Transcript: "we are hiring a barista", Language: "nl-BE"})
	if err != nil {
		t.Fatalf("job draft: %v", err)
	}
	if job.Title != "Barista" || len(job.Keywords) != 2 || job.Keywords[1] != "Ghent" {
		t.Fatalf("unexpected job draft %+v", job)
	}

	video, err := client.GenerateDraft(ctx, domain.DraftRequest{Kind: domain.FormKindJob, ObjectKey: "k2"})
	if err != nil {
		t.Fatalf("video draft: %v", err)
	}
	if video.Transcript != "we need a chef" {
		t.Fatalf("expected transcript from video draft, got %+v", video)
	}

	candidate, err := client.GenerateDraft(ctx, domain.DraftRequest{Kind: domain.FormKindCandidate, Transcript: "I build Go services"})
	if err != nil {
		t.Fatalf("candidate draft: %v", err)
	}
	if candidate.Headline != "Senior Go engineer" || candidate.Location != "Antwerp" {
		t.Fatalf("unexpected candidate draft %+v", candidate)
	}

	if _, err := client.GenerateDraft(ctx, domain.DraftRequest{Kind: domain.FormKindCandidate, ObjectKey: "k"}); err == nil {
		t.Fatalf("expected candidate video draft to be unsupported")
	}
	if _, err := client.GenerateDraft(ctx, domain.DraftRequest{Kind: domain.FormKindJob}); err == nil {
		t.Fatalf("expected error for empty request")
	}
}
