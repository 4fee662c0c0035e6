// Package display serves the latest composite of every page over HTTP.
// It is also a sink: register it with the router and each delivery
// replaces the page's current image.
package display

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"sort"
	"strconv"
	"sync"

	"github.com/go-chi/chi/v5"

	"github.com/hazyhaar/pageshot/coverage"
	"github.com/hazyhaar/pageshot/internal/idgen"
	"github.com/hazyhaar/pageshot/shot"
)

type entry struct {
	meta    shot.Composite // Image cleared
	png     []byte
	failure *shot.Failure
}

// Server holds the latest composite per page.
type Server struct {
	mu     sync.RWMutex
	pages  map[string]*entry
	logger *slog.Logger
	reqID  idgen.Generator
}

// New creates a display Server.
func New(logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	return &Server{
		pages:  make(map[string]*entry),
		logger: logger,
		reqID:  idgen.Prefixed("req_", idgen.Default),
	}
}

// Deliver encodes the composite and replaces the page's entry. Within one
// session older sequence numbers never overwrite newer ones; a composite
// from a different session (the page was restarted) always replaces the
// entry, since its sequence starts over.
func (s *Server) Deliver(_ context.Context, c shot.Composite) error {
	data, err := shot.EncodePNG(&c)
	if err != nil {
		return err
	}
	c.Image = nil

	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[c.PageID]
	if !ok {
		e = &entry{}
		s.pages[c.PageID] = e
	} else if e.meta.Session == c.Session && e.meta.Seq > c.Seq {
		return nil
	}
	e.meta, e.png = c, data
	return nil
}

// Report records the last failure of a page without touching its image.
func (s *Server) Report(_ context.Context, f shot.Failure) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.pages[f.PageID]
	if !ok {
		e = &entry{meta: shot.Composite{PageID: f.PageID, PageURL: f.PageURL}}
		s.pages[f.PageID] = e
	}
	e.failure = &f
	return nil
}

func (s *Server) Close() error { return nil }

// PageInfo is one row of the GET /shots listing.
type PageInfo struct {
	PageID      string        `json:"page_id"`
	PageURL     string        `json:"page_url"`
	Seq         uint64        `json:"seq"`
	Width       int           `json:"width"`
	Height      int           `json:"height"`
	CoveredPx   int           `json:"covered_px"`
	Timestamp   int64         `json:"timestamp"`
	LastFailure *shot.Failure `json:"last_failure,omitempty"`
}

// Coverage is the body of GET /shots/{pageID}/coverage.
type Coverage struct {
	PageID  string          `json:"page_id"`
	Height  int             `json:"height"`
	Covered []coverage.Span `json:"covered"`
}

// Handler returns the chi router.
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(headToGet, securityHeaders, requestID(s.logger, s.reqID))

	r.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/shots", func(r chi.Router) {
		r.Get("/", s.handleList)
		r.Get("/{pageID}.png", s.handleImage)
		r.Get("/{pageID}/coverage", s.handleCoverage)
	})
	return r
}

func (s *Server) handleList(w http.ResponseWriter, _ *http.Request) {
	s.mu.RLock()
	list := make([]PageInfo, 0, len(s.pages))
	for _, e := range s.pages {
		covered := 0
		for _, sp := range e.meta.Covered {
			covered += sp.Len()
		}
		list = append(list, PageInfo{
			PageID:      e.meta.PageID,
			PageURL:     e.meta.PageURL,
			Seq:         e.meta.Seq,
			Width:       e.meta.Width,
			Height:      e.meta.Height,
			CoveredPx:   covered,
			Timestamp:   e.meta.Timestamp,
			LastFailure: e.failure,
		})
	}
	s.mu.RUnlock()

	sort.Slice(list, func(i, j int) bool { return list[i].PageID < list[j].PageID })
	writeJSON(w, http.StatusOK, list)
}

func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	s.mu.RLock()
	e, ok := s.pages[pageID]
	var data []byte
	var seq uint64
	if ok {
		data, seq = e.png, e.meta.Seq
	}
	s.mu.RUnlock()

	if len(data) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no composite for page"})
		return
	}
	w.Header().Set("Content-Type", "image/png")
	w.Header().Set("Cache-Control", "no-store")
	w.Header().Set("X-Pageshot-Seq", strconv.FormatUint(seq, 10))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		s.logger.Debug("display: write image", "page_id", pageID, "error", err)
	}
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	pageID := chi.URLParam(r, "pageID")
	s.mu.RLock()
	e, ok := s.pages[pageID]
	var cov Coverage
	if ok {
		cov = Coverage{
			PageID:  pageID,
			Height:  e.meta.Height,
			Covered: append([]coverage.Span{}, e.meta.Covered...),
		}
	}
	s.mu.RUnlock()

	if !ok {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown page"})
		return
	}
	writeJSON(w, http.StatusOK, cov)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
