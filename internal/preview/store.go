package preview

import (
	"bytes"
	"fmt"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
)

// PathPrefix is the asset-server path preview URLs live under.
const PathPrefix = "/preview/"

type blob struct {
	data        []byte
	contentType string
	createdAt   time.Time
}

// Store keeps take previews in memory and serves them to the webview.
// Each URL is released exactly once; a second release is reported.
type Store struct {
	log logrus.FieldLogger

	mu       sync.RWMutex
	blobs    map[string]blob
	created  int
	released int
}

func NewStore(log logrus.FieldLogger) *Store {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Store{
		log:   log.WithField("component", "preview"),
		blobs: map[string]blob{},
	}
}

func (s *Store) Create(data []byte, contentType string) (string, error) {
	if len(data) == 0 {
		return "", fmt.Errorf("preview has no data")
	}
	token := uuid.NewString()

	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[token] = blob{data: data, contentType: contentType, createdAt: time.Now()}
	s.created++
	return PathPrefix + token, nil
}

func (s *Store) Release(url string) error {
	token := strings.TrimPrefix(url, PathPrefix)

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.blobs[token]; !ok {
		s.log.WithField("preview_url", url).Error("preview released twice or never created")
		return fmt.Errorf("%w: %s", domain.ErrPreviewReleased, url)
	}
	delete(s.blobs, token)
	s.released++
	return nil
}

// Stats reports how many previews were created and released.
func (s *Store) Stats() (created int, released int) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.created, s.released
}

func (s *Store) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	token := strings.TrimPrefix(r.URL.Path, PathPrefix)

	s.mu.RLock()
	item, ok := s.blobs[token]
	s.mu.RUnlock()
	if !ok {
		http.NotFound(w, r)
		return
	}

	if item.contentType != "" {
		w.Header().Set("Content-Type", item.contentType)
	}
	w.Header().Set("Cache-Control", "no-store")
	http.ServeContent(w, r, token, item.createdAt, bytes.NewReader(item.data))
}
