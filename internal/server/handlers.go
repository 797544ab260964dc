package server

import (
	"crypto/subtle"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/xtxerr/tracelens/config"
	"github.com/xtxerr/tracelens/internal/errors"
	"github.com/xtxerr/tracelens/internal/logging"
	"github.com/xtxerr/tracelens/internal/pipeline"
	"github.com/xtxerr/tracelens/internal/report"
	"github.com/xtxerr/tracelens/internal/share"
	"github.com/xtxerr/tracelens/internal/validation"
	"github.com/xtxerr/tracelens/internal/wire"
)

// =============================================================================
// Share contract
// =============================================================================

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	name := validation.EnsureTraceExtension(validation.SanitizeFileName(r.Header.Get(share.HeaderFileName)))
	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)

	entry, err := s.store.Put(name, body)
	if err != nil {
		s.writeError(w, r, classify(err))
		return
	}
	s.metrics.AddUploadBytes(entry.Size)

	writeJSON(w, http.StatusOK, share.UploadResponse{
		ShortURL: s.baseURL(r) + share.DownloadPath + entry.Key,
		ShortKey: entry.Key,
		FileName: entry.FileName,
	})
}

func (s *Server) handleDownload(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := validation.ValidateShareKey(key); err != nil {
		s.writeError(w, r, err)
		return
	}

	entry, rc, err := s.store.Open(key)
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	defer rc.Close()

	h := w.Header()
	h.Set("Content-Type", "application/octet-stream")
	h.Set("Content-Length", strconv.FormatInt(entry.Size, 10))
	h.Set(share.HeaderOriginalFileName, entry.FileName)
	h.Set("Content-Disposition", share.ContentDisposition(entry.FileName))

	if _, err := io.Copy(w, rc); err != nil {
		// Headers are gone; the short body tells the client.
		logging.WithContext(r.Context()).Error("download failed", "key", key, "error", err)
	}
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	if !s.authorize(w, r) {
		return
	}

	key := r.PathValue("key")
	if err := validation.ValidateShareKey(key); err != nil {
		s.writeError(w, r, err)
		return
	}
	if err := s.store.Delete(key); err != nil {
		s.writeError(w, r, err)
		return
	}
	s.forget(key)

	writeJSON(w, http.StatusOK, map[string]interface{}{"deleted": true, "shortKey": key})
}

// authorize checks the auth key, rate limiting failures per client IP.
func (s *Server) authorize(w http.ResponseWriter, r *http.Request) bool {
	ip := extractIP(r.RemoteAddr)

	if s.authRateLimiter.IsBlocked(ip) {
		s.writeError(w, r, errors.Wrapf(errors.ErrRateLimited, "client %s", ip))
		return false
	}

	key := r.Header.Get(share.HeaderAuthKey)
	if subtle.ConstantTimeCompare([]byte(key), []byte(s.cfg.AuthKey)) != 1 {
		n := s.authRateLimiter.RecordFailure(ip)
		s.metrics.AuthFailure()
		log.Warn("auth key rejected", "remote", ip, "failures", n)
		s.writeError(w, r, errors.Wrap(errors.ErrNotAuthorized, "invalid auth key"))
		return false
	}

	s.authRateLimiter.Reset(ip)
	return true
}

func (s *Server) baseURL(r *http.Request) string {
	if s.cfg.BaseURL != "" {
		return strings.TrimRight(s.cfg.BaseURL, "/")
	}
	scheme := "http"
	if r.TLS != nil {
		scheme = "https"
	}
	if p := r.Header.Get("X-Forwarded-Proto"); p == "http" || p == "https" {
		scheme = p
	}
	return scheme + "://" + r.Host
}

// =============================================================================
// Analysis
// =============================================================================

func (s *Server) handleAnalyze(w http.ResponseWriter, r *http.Request) {
	name := r.Header.Get(share.HeaderFileName)
	if name == "" {
		name = config.DefaultReceivedFileName
	}
	name = validation.SanitizeFileName(name)

	body := http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadSize)
	out, err := s.runner.Run(name, body)

	entry, err := s.finish(name, out, err)
	if err != nil {
		s.writeError(w, r, classify(err))
		return
	}
	s.writeAnalysis(w, r, entry.doc)
}

func (s *Server) handleAnalyzeKey(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if err := validation.ValidateShareKey(key); err != nil {
		s.writeError(w, r, err)
		return
	}

	if entry := s.cached(key); entry != nil {
		s.writeAnalysis(w, r, entry.doc)
		return
	}

	v, err, _ := s.analyses.Do(key, func() (interface{}, error) {
		e, rc, err := s.store.Open(key)
		if err != nil {
			return nil, err
		}
		defer rc.Close()

		out, err := s.runner.Run(e.FileName, rc)
		entry, err := s.finish(e.FileName, out, err)
		if err != nil {
			return nil, err
		}
		s.remember(key, entry)
		return entry, nil
	})
	if err != nil {
		s.writeError(w, r, err)
		return
	}
	s.writeAnalysis(w, r, v.(*analysisEntry).doc)
}

// finish turns a pipeline outcome into a document. No data is a document
// too; only hard failures are returned as errors.
func (s *Server) finish(name string, out *pipeline.Outcome, err error) (*analysisEntry, error) {
	if err != nil && !errors.IsNoData(err) {
		s.metrics.ObserveTrace(report.StatusError, 0, 0)
		return nil, err
	}

	entry := &analysisEntry{
		doc:     report.NewDocument(name, out.Result),
		records: out.Stats.Records,
		dropped: out.Stats.Dropped,
	}
	s.metrics.ObserveTrace(entry.doc.Status, entry.records, entry.dropped)
	return entry, nil
}

func (s *Server) writeAnalysis(w http.ResponseWriter, r *http.Request, doc *report.Document) {
	if strings.Contains(r.Header.Get("Accept"), wire.ContentType) {
		w.Header().Set("Content-Type", wire.ContentType)
		if err := wire.NewWriter(w).WriteDocument(doc); err != nil {
			logging.WithContext(r.Context()).Error("write analysis", "error", err)
		}
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) cached(key string) *analysisEntry {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	return s.cache[key]
}

func (s *Server) remember(key string, e *analysisEntry) {
	if s.cfg.CacheSize <= 0 {
		return
	}
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()

	for k := range s.cache {
		if len(s.cache) < s.cfg.CacheSize {
			break
		}
		delete(s.cache, k)
	}
	s.cache[key] = e
}

func (s *Server) forget(key string) {
	s.cacheMu.Lock()
	defer s.cacheMu.Unlock()
	delete(s.cache, key)
}

// =============================================================================
// Health
// =============================================================================

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	st := s.store.Stats()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status": "ok",
		"puts":   st.Puts,
	})
}

// =============================================================================
// Responses
// =============================================================================

// classify maps body size errors to ErrTooLarge.
func classify(err error) error {
	var mbe *http.MaxBytesError
	if errors.As(err, &mbe) && !errors.Is(err, errors.ErrTooLarge) {
		return errors.Join(errors.ErrTooLarge, err)
	}
	return err
}

func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := errors.ErrorToStatus(err)
	if status == http.StatusOK {
		status = http.StatusInternalServerError
	}

	l := logging.WithContext(r.Context())
	if status >= 500 {
		l.Error("request failed", "path", r.URL.Path, "error", err)
	} else {
		l.Debug("request rejected", "path", r.URL.Path, "status", status, "error", err)
	}

	writeJSON(w, status, share.ErrorResponse{
		Error:   strings.ToLower(http.StatusText(status)),
		Details: err.Error(),
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		status = http.StatusInternalServerError
		data = []byte(fmt.Sprintf(`{"error":"internal server error","details":%q}`, err.Error()))
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(data)
	w.Write([]byte("\n"))
}
