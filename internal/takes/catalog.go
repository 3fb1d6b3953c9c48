package takes

import (
	"fmt"
	"sync"

	"github.com/sirupsen/logrus"

	"zjobly/internal/domain"
	"zjobly/internal/ports"
)

// Catalog keeps takes newest first and owns their preview URLs.
type Catalog struct {
	previews ports.PreviewStore
	labels   *Labeler
	log      logrus.FieldLogger

	mu       sync.Mutex
	takes    []domain.Take
	selected string
}

func NewCatalog(previews ports.PreviewStore, log logrus.FieldLogger) *Catalog {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Catalog{
		previews: previews,
		labels:   NewLabeler(),
		log:      log.WithField("component", "takes"),
	}
}

// Labels is the counter recorder and importer number their takes with.
func (c *Catalog) Labels() *Labeler {
	return c.labels
}

// Add prepends a take. Ids must be unique within the catalog.
func (c *Catalog) Add(take domain.Take) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if take.ID == "" {
		return fmt.Errorf("take has no id")
	}
	for _, existing := range c.takes {
		if existing.ID == take.ID {
			return fmt.Errorf("take %s already in catalog", take.ID)
		}
	}
	c.takes = append([]domain.Take{take}, c.takes...)
	return nil
}

// Select ignores unknown ids.
func (c *Catalog) Select(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, take := range c.takes {
		if take.ID == id {
			c.selected = id
			return true
		}
	}
	return false
}

// Selected returns the selected take; ok is false when nothing is selected.
func (c *Catalog) Selected() (domain.Take, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, take := range c.takes {
		if take.ID == c.selected {
			return take, true
		}
	}
	return domain.Take{}, false
}

func (c *Catalog) SelectedID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.selected
}

// Takes returns a snapshot, newest first.
func (c *Catalog) Takes() []domain.Take {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]domain.Take, len(c.takes))
	copy(out, c.takes)
	return out
}

func (c *Catalog) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.takes)
}

// RemoveAll releases every preview URL before clearing the catalog and
// restarts label numbering.
func (c *Catalog) RemoveAll() {
	c.mu.Lock()
	takes := c.takes
	c.takes = nil
	c.selected = ""
	c.mu.Unlock()

	for _, take := range takes {
		if take.PreviewURL == "" {
			continue
		}
		if err := c.previews.Release(take.PreviewURL); err != nil {
			c.log.WithError(err).WithField("take_id", take.ID).Warn("release preview")
		}
	}
	c.labels.Reset()
	if len(takes) > 0 {
		c.log.WithField("count", len(takes)).Info("catalog cleared")
	}
}
