// Package httpapi is the thin JSON façade over the player, the metadata
// reader, the stream bridge and the supporting stores.
package httpapi

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/wluberti/denonAVR-vTuner/internal/bridge"
	"github.com/wluberti/denonAVR-vTuner/internal/buildinfo"
	"github.com/wluberti/denonAVR-vTuner/internal/domain"
)

const (
	defaultRendererTimeoutMS = 2500
	maxRendererTimeoutMS     = 15000
	maxJSONBody              = 64 << 10
)

type Player interface {
	PlayURL(ctx context.Context, req domain.PlaybackRequest) (*domain.PlayResult, error)
}

type MetadataReader interface {
	ReadNowPlaying(ctx context.Context, streamURL string) domain.StreamMetadata
}

type StationSearcher interface {
	Search(ctx context.Context, name string) ([]domain.Station, error)
}

type FavoritesStore interface {
	List() ([]domain.Favorite, error)
	Add(fav domain.Favorite) ([]domain.Favorite, error)
	Delete(url string) ([]domain.Favorite, error)
}

type RendererLister interface {
	ListRenderers(ctx context.Context, timeoutMS int, includeUnreachable bool) ([]domain.Device, error)
}

// Deps are the handlers' collaborators. Nil entries leave their routes
// unmounted.
type Deps struct {
	Player     Player
	Metadata   MetadataReader
	Stations   StationSearcher
	Favorites  FavoritesStore
	Renderers  RendererLister
	Proxy      http.Handler
	NowPlaying http.Handler
	Metrics    http.Handler
	Logger     *slog.Logger
}

type api struct {
	Deps
	logger *slog.Logger
}

func NewRouter(d Deps) http.Handler {
	logger := d.Logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	a := &api{Deps: d, logger: logger}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger(logger))
	r.Use(middleware.Recoverer)

	r.Get("/healthz", a.health)

	if d.Proxy != nil {
		r.Handle(bridge.ProxyPath, d.Proxy)
		r.Handle(bridge.LegacyPath, d.Proxy)
	}
	if d.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", d.Metrics)
	}

	r.Route("/api", func(sub chi.Router) {
		if d.Player != nil {
			sub.Get("/play_url", a.playURL)
		}
		if d.Metadata != nil {
			sub.Get("/metadata", a.metadata)
		}
		if d.NowPlaying != nil {
			sub.Method(http.MethodGet, "/metadata/ws", d.NowPlaying)
		}
		if d.Stations != nil {
			sub.Get("/search", a.search)
		}
		if d.Favorites != nil {
			sub.Get("/favorites", a.listFavorites)
			sub.Post("/favorites", a.addFavorite)
			sub.Post("/favorites/delete", a.deleteFavorite)
		}
		if d.Renderers != nil {
			sub.Get("/renderers", a.renderers)
		}
	})

	return r
}

func (a *api) health(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "version": buildinfo.Version})
}

func (a *api) playURL(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	result, err := a.Player.PlayURL(r.Context(), domain.PlaybackRequest{
		StreamURL:   q.Get("url"),
		DisplayName: q.Get("name"),
	})
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (a *api) metadata(w http.ResponseWriter, r *http.Request) {
	streamURL := strings.TrimSpace(r.URL.Query().Get("url"))
	if streamURL == "" {
		a.writeError(w, missingURL())
		return
	}
	writeJSON(w, http.StatusOK, a.Metadata.ReadNowPlaying(r.Context(), streamURL))
}

func (a *api) search(w http.ResponseWriter, r *http.Request) {
	stations, err := a.Stations.Search(r.Context(), r.URL.Query().Get("name"))
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stations)
}

func (a *api) listFavorites(w http.ResponseWriter, _ *http.Request) {
	favs, err := a.Favorites.List()
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favs)
}

func (a *api) addFavorite(w http.ResponseWriter, r *http.Request) {
	var fav domain.Favorite
	if err := decodeJSON(r, &fav); err != nil {
		a.writeError(w, err)
		return
	}
	favs, err := a.Favorites.Add(fav)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoritesResponse{Status: "success", Favorites: favs})
}

func (a *api) deleteFavorite(w http.ResponseWriter, r *http.Request) {
	var body struct {
		URL string `json:"url"`
	}
	if err := decodeJSON(r, &body); err != nil {
		a.writeError(w, err)
		return
	}
	favs, err := a.Favorites.Delete(body.URL)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, favoritesResponse{Status: "success", Favorites: favs})
}

func (a *api) renderers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	timeoutMS := defaultRendererTimeoutMS
	if raw := q.Get("timeout_ms"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > maxRendererTimeoutMS {
			a.writeError(w, domain.NewError(domain.CodeInvalidRequest, "timeout_ms must be between 1 and 15000", nil))
			return
		}
		timeoutMS = n
	}
	includeUnreachable, _ := strconv.ParseBool(q.Get("include_unreachable"))

	devices, err := a.Renderers.ListRenderers(r.Context(), timeoutMS, includeUnreachable)
	if err != nil {
		a.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"renderers": devices})
}

type favoritesResponse struct {
	Status    string            `json:"status"`
	Favorites []domain.Favorite `json:"favorites"`
}

func missingURL() error {
	return domain.NewError(domain.CodeInvalidRequest, "Missing 'url' parameter", nil)
}

func decodeJSON(r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(nil, r.Body, maxJSONBody))
	if err := dec.Decode(dst); err != nil {
		return domain.NewError(domain.CodeInvalidRequest, "request body must be a JSON object", err)
	}
	return nil
}

func (a *api) writeError(w http.ResponseWriter, err error) {
	status := StatusFor(domain.CodeOf(err))
	message := err.Error()
	var de *domain.Error
	if errors.As(err, &de) {
		message = de.Message
	}
	if status >= http.StatusInternalServerError {
		a.logger.Warn("http_request_failed", slog.String("code", domain.CodeOf(err)), slog.String("error", err.Error()))
	}
	writeJSON(w, status, map[string]string{"error": message})
}

// StatusFor maps an error code to the HTTP status the façade answers with.
func StatusFor(code string) int {
	switch code {
	case domain.CodeInvalidRequest:
		return http.StatusBadRequest
	case domain.CodeNotFound:
		return http.StatusNotFound
	case domain.CodeTransport, domain.CodeUpstreamUnavailable:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func requestLogger(logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			started := time.Now()
			next.ServeHTTP(ww, r)
			logger.Debug("http_request",
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Int("status", ww.Status()),
				slog.Int("bytes", ww.BytesWritten()),
				slog.Duration("duration", time.Since(started)),
				slog.String("request_id", middleware.GetReqID(r.Context())),
			)
		})
	}
}
