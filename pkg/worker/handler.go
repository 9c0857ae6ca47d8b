package worker

import (
	"errors"
	"io"
	"net"
	"net/http"
	"strings"
)

// Hop-by-hop headers are not forwarded in either direction.
var hopHeaders = []string{
	"Connection",
	"Keep-Alive",
	"Proxy-Authenticate",
	"Proxy-Authorization",
	"Te",
	"Trailer",
	"Transfer-Encoding",
	"Upgrade",
}

// ServeHTTP implements http.Handler: the incoming request is rewritten to
// the worker's origin and answered through Fetch.
// A failed fetch with no cached answer becomes 502 Bad Gateway.
func (w *Worker) ServeHTTP(rw http.ResponseWriter, r *http.Request) {
	out := w.outboundRequest(r)

	resp, err := w.Fetch(out)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, ErrClosed) {
			status = http.StatusServiceUnavailable
		}
		w.logger.Warn().
			Err(err).
			Str("method", r.Method).
			Str("url", out.URL.String()).
			Int("status", status).
			Msg("Request failed")
		http.Error(rw, http.StatusText(status), status)
		return
	}
	defer resp.Body.Close()

	header := rw.Header()
	for name, values := range resp.Header {
		for _, v := range values {
			header.Add(name, v)
		}
	}
	removeHopHeaders(header)
	rw.WriteHeader(resp.StatusCode)

	if err := copyBody(rw, resp); err != nil {
		w.logger.Debug().Err(err).Str("url", out.URL.String()).Msg("Could not write response body to client")
	}
}

// copyBody writes the response body to rw. Bodies of unknown length are
// flushed after every read so streamed answers reach the client as they
// arrive.
func copyBody(rw http.ResponseWriter, resp *http.Response) error {
	if resp.ContentLength >= 0 && resp.Header.Get("Content-Type") != "text/event-stream" {
		_, err := io.Copy(rw, resp.Body)
		return err
	}

	rc := http.NewResponseController(rw)
	flush := func() error {
		if err := rc.Flush(); err != nil && !errors.Is(err, http.ErrNotSupported) {
			return err
		}
		return nil
	}
	// headers go out before the first chunk
	if err := flush(); err != nil {
		return err
	}
	buf := make([]byte, 32*1024)
	for {
		n, err := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := rw.Write(buf[:n]); werr != nil {
				return werr
			}
			if ferr := flush(); ferr != nil {
				return ferr
			}
		}
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return err
		}
	}
}

// outboundRequest turns a server request into a request for the origin.
func (w *Worker) outboundRequest(r *http.Request) *http.Request {
	out := r.Clone(r.Context())
	target := *w.origin
	target.Path = r.URL.Path
	target.RawPath = r.URL.RawPath
	target.RawQuery = r.URL.RawQuery
	out.URL = &target
	out.Host = ""
	out.RequestURI = ""
	if r.ContentLength == 0 {
		out.Body = nil
	}

	removeHopHeaders(out.Header)
	if ip, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		if prior := out.Header.Get("X-Forwarded-For"); prior != "" {
			ip = prior + ", " + ip
		}
		out.Header.Set("X-Forwarded-For", ip)
	}
	return out
}

func removeHopHeaders(h http.Header) {
	for _, f := range h.Values("Connection") {
		for _, name := range strings.Split(f, ",") {
			if name = strings.TrimSpace(name); name != "" {
				h.Del(name)
			}
		}
	}
	for _, name := range hopHeaders {
		h.Del(name)
	}
}
