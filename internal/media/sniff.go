package media

import "github.com/gabriel-vasile/mimetype"

// Sniffer detects content types from file headers.
type Sniffer struct{}

func (Sniffer) Sniff(data []byte) string {
	return mimetype.Detect(data).String()
}
