package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/tylerbrawl/rocky/internal/cache/redistile"
	"github.com/tylerbrawl/rocky/internal/layer"
	"github.com/tylerbrawl/rocky/internal/observability"
	"github.com/tylerbrawl/rocky/internal/raster"
	"github.com/tylerbrawl/rocky/internal/tiling"
)

// compositeCacheName keys the composited terrain of the whole stack in the
// remote cache, distinct from any single layer's tiles.
const compositeCacheName = "composite"

const contentTypeRaster = "application/octet-stream"

// Engine binds the layer stack to the HTTP surface.
type Engine struct {
	Log      *slog.Logger
	Stack    *layer.ElevationStack
	Images   []*layer.ImageLayer
	Remote   *redistile.Client // nil disables the shared cache
	Profile  tiling.Profile    // default serving profile
	TileSize int

	CacheOpTimeout time.Duration
}

func (e *Engine) Image(name string) *layer.ImageLayer {
	for _, l := range e.Images {
		if l.Name() == name {
			return l
		}
	}
	return nil
}

// InvalidateLayer drops the local caches of the named layer. It satisfies the
// invalidation runner's view of this node.
func (e *Engine) InvalidateLayer(name string) bool {
	if l := e.Stack.Layer(name); l != nil {
		l.Invalidate()
		return true
	}
	if l := e.Image(name); l != nil {
		l.Invalidate()
		return true
	}
	return false
}

func (e *Engine) parseKey(r *http.Request) (tiling.TileKey, bool) {
	z, errZ := strconv.Atoi(chi.URLParam(r, "z"))
	x, errX := strconv.Atoi(chi.URLParam(r, "x"))
	y, errY := strconv.Atoi(chi.URLParam(r, "y"))
	if errZ != nil || errX != nil || errY != nil {
		return tiling.TileKey{}, false
	}

	profile := e.Profile
	switch r.URL.Query().Get("profile") {
	case "", "geodetic":
	case "mercator":
		profile = tiling.SphericalMercatorProfile()
	default:
		return tiling.TileKey{}, false
	}

	key := tiling.NewTileKey(z, x, y, profile)
	if !key.Valid() {
		return tiling.TileKey{}, false
	}
	return key, true
}

// handleElevation serves the composited terrain of the whole stack.
func (e *Engine) handleElevation() http.HandlerFunc {
	return e.instrument("/tiles/elevation", func(w http.ResponseWriter, r *http.Request) {
		key, ok := e.parseKey(r)
		if !ok {
			http.Error(w, "bad tile address", http.StatusBadRequest)
			return
		}

		if payload := e.cachedPayload(r.Context(), compositeCacheName, key); payload != nil {
			e.writePayload(w, payload)
			return
		}

		ghf, real, err := e.Stack.CreateHeightfield(r.Context(), key, e.TileSize)
		if err != nil {
			e.writeError(w, r, err)
			return
		}
		if !real {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		payload := raster.EncodeHeightfield(ghf.Heightfield())
		e.storePayload(r.Context(), compositeCacheName, key, payload)
		e.writePayload(w, payload)
	})
}

// handleElevationLayer serves one elevation layer's tiles.
func (e *Engine) handleElevationLayer() http.HandlerFunc {
	return e.instrument("/tiles/elevation/{layer}", func(w http.ResponseWriter, r *http.Request) {
		l := e.Stack.Layer(chi.URLParam(r, "layer"))
		if l == nil {
			http.Error(w, "unknown layer", http.StatusNotFound)
			return
		}
		key, ok := e.parseKey(r)
		if !ok {
			http.Error(w, "bad tile address", http.StatusBadRequest)
			return
		}

		if payload := e.cachedPayload(r.Context(), l.Name(), key); payload != nil {
			e.writeAttribution(w, l.Attribution())
			e.writePayload(w, payload)
			return
		}

		ghf, err := l.CreateHeightfield(r.Context(), key)
		if err != nil {
			e.writeError(w, r, err)
			return
		}
		if !ghf.Valid() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		payload := raster.EncodeHeightfield(ghf.Heightfield())
		e.storePayload(r.Context(), l.Name(), key, payload)
		e.writeAttribution(w, l.Attribution())
		e.writePayload(w, payload)
	})
}

// handleImagery serves one imagery layer's tiles.
func (e *Engine) handleImagery() http.HandlerFunc {
	return e.instrument("/tiles/imagery/{layer}", func(w http.ResponseWriter, r *http.Request) {
		l := e.Image(chi.URLParam(r, "layer"))
		if l == nil {
			http.Error(w, "unknown layer", http.StatusNotFound)
			return
		}
		key, ok := e.parseKey(r)
		if !ok {
			http.Error(w, "bad tile address", http.StatusBadRequest)
			return
		}

		if payload := e.cachedPayload(r.Context(), l.Name(), key); payload != nil {
			e.writeAttribution(w, l.Attribution())
			e.writePayload(w, payload)
			return
		}

		gi, err := l.CreateImage(r.Context(), key)
		if err != nil {
			e.writeError(w, r, err)
			return
		}
		if !gi.Valid() {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		payload := raster.EncodeImage(gi.Image())
		e.storePayload(r.Context(), l.Name(), key, payload)
		e.writeAttribution(w, l.Attribution())
		e.writePayload(w, payload)
	})
}

// handleLayers lists the configured layers and their state.
func (e *Engine) handleLayers() http.HandlerFunc {
	type layerInfo struct {
		Name        string `json:"name"`
		Kind        string `json:"kind"`
		UID         int64  `json:"uid"`
		Attribution string `json:"attribution,omitempty"`
		Revision    int64  `json:"revision"`
		Open        bool   `json:"open"`
		Profile     string `json:"profile,omitempty"`
		Offset      bool   `json:"offset,omitempty"`
	}
	return e.instrument("/layers", func(w http.ResponseWriter, r *http.Request) {
		var out []layerInfo
		for _, l := range e.Stack.Layers() {
			info := layerInfo{
				Name: l.Name(), Kind: "elevation", UID: l.UID(),
				Attribution: l.Attribution(), Revision: l.Revision(),
				Open: l.IsOpen(), Offset: l.IsOffset(),
			}
			if l.IsOpen() {
				info.Profile = l.Profile().Name()
			}
			out = append(out, info)
		}
		for _, l := range e.Images {
			info := layerInfo{
				Name: l.Name(), Kind: "imagery", UID: l.UID(),
				Attribution: l.Attribution(), Revision: l.Revision(),
				Open: l.IsOpen(),
			}
			if l.IsOpen() {
				info.Profile = l.Profile().Name()
			}
			out = append(out, info)
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(out)
	})
}

func (e *Engine) instrument(route string, h http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		sw := &statusWriter{ResponseWriter: w, code: http.StatusOK}
		h(sw, r)
		observability.ObserveHTTP(r.Method, route, sw.code, time.Since(start).Seconds())
	}
}

type statusWriter struct {
	http.ResponseWriter
	code int
}

func (w *statusWriter) WriteHeader(code int) {
	w.code = code
	w.ResponseWriter.WriteHeader(code)
}

func (e *Engine) cachedPayload(ctx context.Context, name string, key tiling.TileKey) []byte {
	if e.Remote == nil {
		return nil
	}
	opCtx, cancel := context.WithTimeout(ctx, e.CacheOpTimeout)
	defer cancel()
	payload, err := e.Remote.GetTile(opCtx, name, key)
	if err != nil {
		e.Log.Warn("tile cache get failed", "layer", name, "key", key.String(), "err", err)
		return nil
	}
	return payload
}

func (e *Engine) storePayload(ctx context.Context, name string, key tiling.TileKey, payload []byte) {
	if e.Remote == nil {
		return
	}
	// detach from the request context so a client disconnect after compute
	// does not waste the result
	opCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.CacheOpTimeout)
	defer cancel()
	if err := e.Remote.PutTile(opCtx, name, key, payload); err != nil {
		e.Log.Warn("tile cache put failed", "layer", name, "key", key.String(), "err", err)
	}
}

func (e *Engine) writePayload(w http.ResponseWriter, payload []byte) {
	w.Header().Set("Content-Type", contentTypeRaster)
	w.Header().Set("Content-Length", strconv.Itoa(len(payload)))
	_, _ = w.Write(payload)
}

func (e *Engine) writeAttribution(w http.ResponseWriter, attribution string) {
	if attribution != "" {
		w.Header().Set("X-Attribution", attribution)
	}
}

func (e *Engine) writeError(w http.ResponseWriter, r *http.Request, err error) {
	e.Log.Error("tile request failed", "path", r.URL.Path, "err", err)
	code := http.StatusInternalServerError
	switch layer.StatusOf(err) {
	case layer.StatusResourceUnavailable:
		code = http.StatusBadGateway
	case layer.StatusServiceUnavailable:
		code = http.StatusNotImplemented
	case layer.StatusConfigurationError, layer.StatusGeneralError:
		code = http.StatusInternalServerError
	}
	http.Error(w, err.Error(), code)
}
