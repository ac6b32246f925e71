package server

import (
	"compress/gzip"
	"io"
	"net/http"
	"strconv"
	"strings"
	"sync"
)

// minGzipSize is the smallest body worth compressing. Wizard views, option
// lists and error bodies are all below it, so the common API answer goes
// out as is and gzip only pays for itself on larger payloads.
const minGzipSize = 1024

var gzipPool = sync.Pool{
	New: func() interface{} { return gzip.NewWriter(io.Discard) },
}

// WithCompression gzips responses of at least minGzipSize bytes for clients
// that accept it. The body is held back until the threshold is reached or
// the handler returns, so small answers keep their Content-Length.
func WithCompression(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if skipCompression(r) {
			next.ServeHTTP(w, r)
			return
		}
		w.Header().Add("Vary", "Accept-Encoding")
		if !acceptsGzip(r.Header.Get("Accept-Encoding")) {
			next.ServeHTTP(w, r)
			return
		}

		lw := &lazyGzipWriter{ResponseWriter: w, status: http.StatusOK}
		defer lw.finish()
		next.ServeHTTP(lw, r)
	})
}

// skipCompression reports requests whose responses must not be wrapped:
// WebSocket upgrades need the raw connection, and promhttp negotiates its
// own encoding.
func skipCompression(r *http.Request) bool {
	if strings.EqualFold(r.Header.Get("Upgrade"), "websocket") {
		return true
	}
	return r.URL.Path == "/metrics"
}

// acceptsGzip reads an Accept-Encoding value. "gzip;q=0" is a refusal.
func acceptsGzip(header string) bool {
	for _, part := range strings.Split(header, ",") {
		coding, params, _ := strings.Cut(strings.TrimSpace(part), ";")
		coding = strings.TrimSpace(coding)
		if !strings.EqualFold(coding, "gzip") && coding != "*" {
			continue
		}
		q, found := strings.CutPrefix(strings.TrimSpace(params), "q=")
		if !found {
			return true
		}
		v, err := strconv.ParseFloat(q, 64)
		return err == nil && v > 0
	}
	return false
}

// lazyGzipWriter buffers the start of a body and switches to gzip once it
// grows past minGzipSize.
type lazyGzipWriter struct {
	http.ResponseWriter
	status      int
	buf         []byte
	gz          *gzip.Writer
	headersSent bool
}

func (w *lazyGzipWriter) WriteHeader(status int) {
	if !w.headersSent {
		w.status = status
	}
}

func (w *lazyGzipWriter) Write(p []byte) (int, error) {
	switch {
	case w.gz != nil:
		return w.gz.Write(p)
	case w.headersSent:
		return w.ResponseWriter.Write(p)
	}

	w.buf = append(w.buf, p...)
	if len(w.buf) < minGzipSize {
		return len(p), nil
	}
	if w.Header().Get("Content-Encoding") != "" {
		if err := w.sendPlain(); err != nil {
			return 0, err
		}
		return len(p), nil
	}
	if err := w.startGzip(); err != nil {
		return 0, err
	}
	return len(p), nil
}

func (w *lazyGzipWriter) startGzip() error {
	h := w.Header()
	h.Set("Content-Encoding", "gzip")
	h.Del("Content-Length")
	w.ResponseWriter.WriteHeader(w.status)
	w.headersSent = true

	w.gz = gzipPool.Get().(*gzip.Writer)
	w.gz.Reset(w.ResponseWriter)
	_, err := w.gz.Write(w.buf)
	w.buf = nil
	return err
}

func (w *lazyGzipWriter) sendPlain() error {
	w.ResponseWriter.WriteHeader(w.status)
	w.headersSent = true
	if len(w.buf) == 0 {
		return nil
	}
	_, err := w.ResponseWriter.Write(w.buf)
	w.buf = nil
	return err
}

// finish flushes whatever the handler left behind.
func (w *lazyGzipWriter) finish() {
	if w.gz != nil {
		w.gz.Close()
		w.gz.Reset(io.Discard)
		gzipPool.Put(w.gz)
		w.gz = nil
		return
	}
	if !w.headersSent {
		if len(w.buf) > 0 {
			w.Header().Set("Content-Length", strconv.Itoa(len(w.buf)))
		}
		_ = w.sendPlain()
	}
}
