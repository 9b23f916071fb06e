// Package ingest loads PDF reports, web pages and RSS/Atom feeds into
// documents and chunks them for the document store.
package ingest

import (
	"errors"
	"fmt"
	"strings"
)

// Kind identifies how a source is loaded.
type Kind string

const (
	KindPDF  Kind = "pdf"
	KindURL  Kind = "url"
	KindFeed Kind = "feed"
)

var (
	// ErrNoSources is returned when a run carries no sources at all.
	ErrNoSources = errors.New("ingest: provide at least one PDF or URL")
	// ErrNothingLoaded is returned when every source failed or was empty.
	ErrNothingLoaded = errors.New("ingest: no documents could be loaded")
	// ErrUnsupported is returned for a source kind without a loader.
	ErrUnsupported = errors.New("ingest: unsupported source kind")
)

// Source is one input to ingestion. PDFs carry their bytes in Data; URL and
// feed sources carry a URL.
type Source struct {
	Kind Kind
	Name string // file name or URL, used as the document source
	URL  string
	Data []byte
}

// PDF returns an uploaded PDF source.
func PDF(name string, data []byte) Source {
	return Source{Kind: KindPDF, Name: name, Data: data}
}

// URL returns a web page source.
func URL(u string) Source {
	u = strings.TrimSpace(u)
	return Source{Kind: KindURL, Name: u, URL: u}
}

// Feed returns an RSS or Atom feed source.
func Feed(u string) Source {
	u = strings.TrimSpace(u)
	return Source{Kind: KindFeed, Name: u, URL: u}
}

func (s Source) String() string {
	return fmt.Sprintf("%s:%s", s.Kind, s.Name)
}

// SourceError records a source that failed to load.
type SourceError struct {
	Source string `json:"source"`
	Kind   Kind   `json:"kind"`
	Error  string `json:"error"`
}
