package api

import (
	"bytes"
	"sync"
)

// progressReader reports whole-percent progress while the request body is read.
type progressReader struct {
	reader   *bytes.Reader
	total    int
	read     int
	report   func(percent int)
	mu       sync.Mutex
	reported int
}

func newProgressReader(data []byte, report func(percent int)) *progressReader {
	return &progressReader{reader: bytes.NewReader(data), total: len(data), report: report, reported: -1}
}

func (p *progressReader) Read(buf []byte) (int, error) {
	n, err := p.reader.Read(buf)
	if n > 0 {
		p.mu.Lock()
		p.read += n
		percent := 100
		if p.total > 0 {
			// Hold 100 back until the storage target has acknowledged the body.
			percent = p.read * 99 / p.total
		}
		p.emitLocked(percent)
		p.mu.Unlock()
	}
	return n, err
}

func (p *progressReader) finish() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.emitLocked(100)
}

func (p *progressReader) emitLocked(percent int) {
	if p.report == nil || percent <= p.reported {
		return
	}
	p.reported = percent
	p.report(percent)
}
