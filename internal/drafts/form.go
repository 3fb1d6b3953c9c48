package drafts

import (
	"strings"

	"zjobly/internal/domain"
)

var formFields = map[domain.FormKind][]domain.Field{
	domain.FormKindJob:       {domain.FieldTitle, domain.FieldDescription, domain.FieldKeywords, domain.FieldTranscript},
	domain.FormKindCandidate: {domain.FieldHeadline, domain.FieldSummary, domain.FieldLocation, domain.FieldKeywords},
}

type form struct {
	kind       domain.FormKind
	values     map[domain.Field]string
	keywords   []string
	edited     map[domain.Field]bool
	transcript string
}

func newForm(kind domain.FormKind) form {
	if _, ok := formFields[kind]; !ok {
		kind = domain.FormKindJob
	}
	return form{
		kind:   kind,
		values: map[domain.Field]string{},
		edited: map[domain.Field]bool{},
	}
}

func (f *form) accepts(field domain.Field) bool {
	for _, candidate := range formFields[f.kind] {
		if candidate == field {
			return true
		}
	}
	return false
}

func (f *form) set(field domain.Field, value string, maxKeywords int) {
	switch field {
	case domain.FieldKeywords:
		f.keywords = NormalizeKeywords(strings.Split(value, ","), maxKeywords)
	case domain.FieldTranscript:
		f.transcript = value
	default:
		f.values[field] = value
	}
}

// apply fills empty, unedited fields and returns the fields it changed.
func (f *form) apply(draft domain.Draft) []domain.Field {
	var applied []domain.Field
	fill := func(field domain.Field, value string) {
		value = strings.TrimSpace(value)
		if value == "" || f.edited[field] || strings.TrimSpace(f.values[field]) != "" {
			return
		}
		f.values[field] = value
		applied = append(applied, field)
	}

	switch f.kind {
	case domain.FormKindJob:
		fill(domain.FieldTitle, draft.Title)
		fill(domain.FieldDescription, draft.Description)
		if draft.Transcript != "" && f.transcript == "" && !f.edited[domain.FieldTranscript] {
			f.transcript = draft.Transcript
			applied = append(applied, domain.FieldTranscript)
		}
	case domain.FormKindCandidate:
		fill(domain.FieldHeadline, draft.Headline)
		fill(domain.FieldSummary, draft.Summary)
		fill(domain.FieldLocation, draft.Location)
	}

	if len(draft.Keywords) > 0 && len(f.keywords) == 0 && !f.edited[domain.FieldKeywords] {
		f.keywords = append([]string(nil), draft.Keywords...)
		applied = append(applied, domain.FieldKeywords)
	}
	return applied
}

func (f *form) snapshot(drafting bool) domain.FormSnapshot {
	values := make(map[domain.Field]string, len(f.values))
	for field, value := range f.values {
		values[field] = value
	}
	edited := make(map[domain.Field]bool, len(f.edited))
	for field, flag := range f.edited {
		edited[field] = flag
	}
	return domain.FormSnapshot{
		Kind:       f.kind,
		Values:     values,
		Keywords:   append([]string(nil), f.keywords...),
		Edited:     edited,
		Transcript: f.transcript,
		Drafting:   drafting,
	}
}
