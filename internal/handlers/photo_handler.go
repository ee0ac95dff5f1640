// -----------------------------------------------------------------------
// Photo Handler - Proxies place photos without exposing the API key
// -----------------------------------------------------------------------

package handlers

import (
	"errors"
	"net"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/ternarybob/arbor"
	"github.com/ternarybob/gusto/internal/common"
	"github.com/ternarybob/gusto/internal/interfaces"
	"golang.org/x/time/rate"
)

// photoRefPattern is the only reference shape the proxy forwards upstream.
// Anything else is rejected before a single upstream byte moves.
var photoRefPattern = regexp.MustCompile(`^places/[A-Za-z0-9_-]+/photos/[A-Za-z0-9_-]+$`)

// limiter eviction: entries idle longer than this are dropped on sweep
const limiterIdleTTL = 10 * time.Minute

// PhotoHandler proxies place photo bytes. The upstream credential stays
// server-side; callers address photos by the opaque reference embedded in
// search results. Per-remote-address limiting bounds upstream spend.
type PhotoHandler struct {
	places interfaces.PlacesService
	config *common.PhotosConfig
	logger arbor.ILogger

	mu        sync.Mutex
	limiters  map[string]*ipLimiter
	lastSweep time.Time
}

type ipLimiter struct {
	limiter  *rate.Limiter
	lastSeen time.Time
}

// NewPhotoHandler creates the photo proxy handler
func NewPhotoHandler(places interfaces.PlacesService, config *common.PhotosConfig, logger arbor.ILogger) *PhotoHandler {
	return &PhotoHandler{
		places:    places,
		config:    config,
		logger:    logger,
		limiters:  make(map[string]*ipLimiter),
		lastSweep: time.Now(),
	}
}

// HandlePhoto handles GET /photos/places/:placeId/photos/:photoId.
// refSuffix is the path after /photos/, e.g.
// "places/ChIJabc/photos/AWU5eF".
func (h *PhotoHandler) HandlePhoto(w http.ResponseWriter, r *http.Request, refSuffix string) {
	if !RequireMethod(w, r, http.MethodGet) {
		return
	}

	photoRef := strings.Trim(refSuffix, "/")
	if !photoRefPattern.MatchString(photoRef) {
		WriteError(w, http.StatusBadRequest, "INVALID_PHOTO_REF", "photo reference is malformed")
		return
	}

	if !h.allow(remoteIP(r)) {
		w.Header().Set("Retry-After", "60")
		WriteError(w, http.StatusTooManyRequests, "RATE_LIMITED", "too many photo requests")
		return
	}

	width := h.clampWidth(r.URL.Query().Get("maxWidthPx"))

	photo, err := h.places.FetchPhoto(r.Context(), photoRef, width)
	if err != nil {
		h.writeUpstreamError(w, photoRef, err)
		return
	}

	if !strings.HasPrefix(photo.ContentType, "image/") {
		h.logger.Warn().
			Str("photo_ref", photoRef).
			Str("content_type", photo.ContentType).
			Msg("Upstream returned non-image content")
		WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "upstream returned unexpected content")
		return
	}

	w.Header().Set("Content-Type", photo.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(photo.Body)))
	w.Header().Set("Cache-Control", "public, max-age=86400, immutable")
	w.Header().Set("Cross-Origin-Resource-Policy", "cross-origin")
	w.WriteHeader(http.StatusOK)
	w.Write(photo.Body)
}

// writeUpstreamError maps provider failures onto proxy status codes.
// Upstream 404 passes through; other upstream failures become 502; a
// missing credential is 503 because retrying cannot help the caller.
func (h *PhotoHandler) writeUpstreamError(w http.ResponseWriter, photoRef string, err error) {
	var provErr *interfaces.ProviderError
	if errors.As(err, &provErr) {
		switch provErr.Kind {
		case interfaces.ProviderErrorNotFound:
			WriteError(w, http.StatusNotFound, "PHOTO_NOT_FOUND", "photo not found")
			return
		case interfaces.ProviderErrorCredential:
			WriteError(w, http.StatusServiceUnavailable, "PHOTOS_UNAVAILABLE", "photo service is not configured")
			return
		}
	}

	h.logger.Warn().Err(err).Str("photo_ref", photoRef).Msg("Photo fetch failed")
	WriteError(w, http.StatusBadGateway, "UPSTREAM_ERROR", "failed to fetch photo")
}

// clampWidth parses maxWidthPx and clamps it into the configured bounds
func (h *PhotoHandler) clampWidth(raw string) int {
	width := h.config.DefaultWidth
	if raw != "" {
		if parsed, err := strconv.Atoi(raw); err == nil {
			width = parsed
		}
	}
	if width < h.config.MinWidthPx {
		width = h.config.MinWidthPx
	}
	if width > h.config.MaxWidthPx {
		width = h.config.MaxWidthPx
	}
	return width
}

// allow checks the per-remote-address budget, creating the limiter on
// first sight and sweeping idle entries opportunistically.
func (h *PhotoHandler) allow(ip string) bool {
	perMinute := h.config.RatePerMinute
	if perMinute <= 0 {
		return true
	}

	h.mu.Lock()
	defer h.mu.Unlock()

	now := time.Now()
	if now.Sub(h.lastSweep) > limiterIdleTTL {
		for key, entry := range h.limiters {
			if now.Sub(entry.lastSeen) > limiterIdleTTL {
				delete(h.limiters, key)
			}
		}
		h.lastSweep = now
	}

	entry, ok := h.limiters[ip]
	if !ok {
		entry = &ipLimiter{
			limiter: rate.NewLimiter(rate.Limit(float64(perMinute)/60.0), perMinute),
		}
		h.limiters[ip] = entry
	}
	entry.lastSeen = now

	return entry.limiter.Allow()
}

// remoteIP strips the port from RemoteAddr. Proxy headers are deliberately
// ignored: they are caller-controlled and would let a client reset its own
// budget per request.
func remoteIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// LimiterCount reports the number of tracked remote addresses, for tests
// and health reporting.
func (h *PhotoHandler) LimiterCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.limiters)
}
