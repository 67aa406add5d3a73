package api

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"
)

var imageClient = &http.Client{Timeout: 30 * time.Second}

// handleImage proxies a figure image from the source site so pages never
// hot-link it directly. Only allow-listed hosts are fetched; everything
// else is rejected before any request goes out. Responses carry a long
// cache lifetime because figure URLs are immutable.
func (s *Server) handleImage(w http.ResponseWriter, r *http.Request) {
	src := r.URL.Query().Get("src")
	if src == "" {
		jsonError(w, "src query parameter is required", http.StatusBadRequest)
		return
	}

	u, err := url.Parse(src)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") {
		jsonError(w, "src must be an absolute http(s) url", http.StatusBadRequest)
		return
	}
	if !s.hostAllowed(u.Hostname()) {
		jsonError(w, "image host is not allowed", http.StatusForbidden)
		return
	}

	req, err := http.NewRequestWithContext(r.Context(), http.MethodGet, u.String(), nil)
	if err != nil {
		jsonError(w, "invalid image url", http.StatusBadRequest)
		return
	}

	resp, err := imageClient.Do(req)
	if err != nil {
		s.log.Warn("image fetch failed", "url", u.String(), "error", err)
		jsonError(w, "failed to fetch image", http.StatusBadGateway)
		return
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		jsonError(w, fmt.Sprintf("image source returned status %d", resp.StatusCode), http.StatusBadGateway)
		return
	}

	contentType := resp.Header.Get("Content-Type")
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	w.Header().Set("Content-Type", contentType)
	w.Header().Set("Cache-Control", fmt.Sprintf("public, max-age=%d", int(s.cfg.ImageCacheTTL.Seconds())))

	if _, err := io.Copy(w, io.LimitReader(resp.Body, s.cfg.MaxImageBytes)); err != nil {
		s.log.Warn("image copy interrupted", "url", u.String(), "error", err)
	}
}

func (s *Server) hostAllowed(host string) bool {
	host = strings.ToLower(host)
	for _, allowed := range s.cfg.ImageAllowHosts {
		if host == strings.ToLower(allowed) {
			return true
		}
	}
	return false
}
