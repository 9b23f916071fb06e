package api

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime"
	"net/http"
	"strings"
	"time"

	"github.com/seenimoa/riskfolio/internal/ingest"
	"github.com/seenimoa/riskfolio/internal/rag"
)

// ingestForm is the JSON alternative to the multipart upload.
type ingestForm struct {
	URLs  []string `json:"urls"`
	Feeds []string `json:"feeds"`
	Mode  string   `json:"mode"` // "replace" (default) or "append"
}

// handleIngest loads uploaded PDFs, URLs and feeds and indexes them as a new
// store generation. mode=append keeps the previous documents.
func (s *Server) handleIngest(enveloped bool) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		sources, appendMode, err := s.parseSources(w, r)
		if err != nil {
			s.writeDecodeError(w, err)
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 10*time.Minute)
		defer cancel()

		result, err := s.pipeline.Run(ctx, sources)
		if err != nil {
			s.writeDomainError(w, err)
			return
		}

		mode := "replace"
		var version rag.Version
		if appendMode {
			mode = "append"
			version, err = s.store.Add(ctx, result.Chunks)
		} else {
			version, err = s.store.Replace(ctx, result.Chunks)
		}
		if err != nil {
			s.writeDomainError(w, err)
			return
		}

		byKind := make(map[string]int, len(result.Summary.DocsByKind))
		for kind, n := range result.Summary.DocsByKind {
			byKind[string(kind)] = n
		}
		s.metrics.Ingested(byKind, result.Summary.ChunksCount, version.Generation)
		s.wsHub.Broadcast(WSMessage{Type: "store_updated", Data: version})
		s.logger.Info("store updated",
			"mode", mode,
			"generation", version.Generation,
			"documents", version.Documents)

		resp := IngestResponse{Status: "vectorstore updated", Summary: result.Summary, Mode: mode, Version: version}
		if enveloped {
			resp.Status = "ok"
			writeJSON(w, http.StatusOK, APIResponse{Success: true, Data: resp})
			return
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

// parseSources reads sources from a multipart form ("pdfs" files, "urls" and
// "feeds" values), a url-encoded form, or a JSON body.
func (s *Server) parseSources(w http.ResponseWriter, r *http.Request) ([]ingest.Source, bool, error) {
	maxBytes := int64(s.cfg.Ingest.MaxUploadMB) << 20
	if maxBytes <= 0 {
		maxBytes = 32 << 20
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	mediaType, _, _ := mime.ParseMediaType(r.Header.Get("Content-Type"))
	var (
		sources []ingest.Source
		form    ingestForm
	)
	switch mediaType {
	case "application/json":
		if err := json.NewDecoder(r.Body).Decode(&form); err != nil {
			return nil, false, err
		}
	case "multipart/form-data":
		if err := r.ParseMultipartForm(maxBytes); err != nil {
			return nil, false, err
		}
		for _, field := range []string{"pdfs", "files"} {
			for _, fh := range r.MultipartForm.File[field] {
				f, err := fh.Open()
				if err != nil {
					return nil, false, fmt.Errorf("open upload %s: %w", fh.Filename, err)
				}
				data, err := io.ReadAll(f)
				f.Close()
				if err != nil {
					return nil, false, fmt.Errorf("read upload %s: %w", fh.Filename, err)
				}
				sources = append(sources, ingest.PDF(fh.Filename, data))
			}
		}
		form = formValues(r)
	default:
		if err := r.ParseForm(); err != nil {
			return nil, false, err
		}
		form = formValues(r)
	}

	for _, u := range splitList(form.URLs) {
		sources = append(sources, ingest.URL(u))
	}
	for _, u := range splitList(form.Feeds) {
		sources = append(sources, ingest.Feed(u))
	}
	return sources, strings.EqualFold(strings.TrimSpace(form.Mode), "append"), nil
}

func formValues(r *http.Request) ingestForm {
	return ingestForm{
		URLs:  r.Form["urls"],
		Feeds: r.Form["feeds"],
		Mode:  r.FormValue("mode"),
	}
}

// splitList accepts repeated values as well as whitespace-separated lists
// typed into a single textarea.
func splitList(values []string) []string {
	var out []string
	for _, v := range values {
		out = append(out, strings.Fields(v)...)
	}
	return out
}
