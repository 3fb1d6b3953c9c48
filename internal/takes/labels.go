package takes

import (
	"fmt"
	"sync"

	"zjobly/internal/domain"
)

type labelKey struct {
	source  domain.Provenance
	purpose string
}

// Labeler numbers takes "Take N" / "Upload N", counted separately per
// provenance and per purpose (e.g. one counter per interview question).
type Labeler struct {
	mu     sync.Mutex
	counts map[labelKey]int
}

func NewLabeler() *Labeler {
	return &Labeler{counts: map[labelKey]int{}}
}

func (l *Labeler) NextLabel(source domain.Provenance, purpose string) string {
	l.mu.Lock()
	defer l.mu.Unlock()

	key := labelKey{source: source, purpose: purpose}
	l.counts[key]++
	prefix := "Take"
	if source == domain.ProvenanceUpload {
		prefix = "Upload"
	}
	return fmt.Sprintf("%s %d", prefix, l.counts[key])
}

func (l *Labeler) Reset() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.counts = map[labelKey]int{}
}
