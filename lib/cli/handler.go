package cli

import (
	"context"
	"errors"
	"net/http"
	"net/url"
	"strings"

	"github.com/go-i2p/logger"

	"github.com/go-i2p/go-swbn/lib/bundle/identity"
	"github.com/go-i2p/go-swbn/lib/bundle/reader"
	"github.com/go-i2p/go-swbn/lib/config"
)

// fetcher is the part of the registry the HTTP handler needs.
type fetcher interface {
	Fetch(ctx context.Context, path string, id identity.BundleID, request reader.Request) (*reader.Response, error)
}

// bundleHandler serves /<bundle id>/<path> from the configured bundles.
type bundleHandler struct {
	fetcher fetcher
	bundles map[identity.BundleID]string
}

func newBundleHandler(f fetcher, sources []config.BundleSource) (*bundleHandler, error) {
	bundles := make(map[identity.BundleID]string, len(sources))
	for _, source := range sources {
		id, err := identity.Parse(source.ID)
		if err != nil {
			return nil, err
		}
		bundles[id] = source.Path
	}
	return &bundleHandler{fetcher: f, bundles: bundles}, nil
}

func (h *bundleHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	rawID, rest, _ := strings.Cut(strings.TrimPrefix(r.URL.Path, "/"), "/")
	id, err := identity.Parse(rawID)
	if err != nil {
		http.Error(w, err.Error(), http.StatusNotFound)
		return
	}
	path, ok := h.bundles[id]
	if !ok {
		http.Error(w, "unknown bundle "+id.String(), http.StatusNotFound)
		return
	}

	target := id.URL().ResolveReference(&url.URL{Path: "/" + rest, RawQuery: r.URL.RawQuery})
	request := reader.Request{URL: target, Method: r.Method, Headers: map[string]string{}}
	resp, err := h.fetcher.Fetch(r.Context(), path, id, request)
	if err != nil {
		status := http.StatusBadGateway
		if errors.Is(err, reader.ErrResponseNotFound) {
			status = http.StatusNotFound
		}
		log.WithError(err).WithFields(logger.Fields{
			"at":     "(bundleHandler) ServeHTTP",
			"url":    target.String(),
			"status": status,
		}).Debug("request failed")
		http.Error(w, err.Error(), status)
		return
	}

	for k, v := range resp.Headers() {
		w.Header().Set(k, v)
	}
	w.WriteHeader(resp.StatusCode())
	if r.Method == http.MethodHead {
		return
	}
	if err := resp.ReadBody(r.Context(), w); err != nil {
		log.WithError(err).WithField("url", target.String()).Warn("failed to stream response body")
	}
}
