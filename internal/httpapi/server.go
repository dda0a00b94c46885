package httpapi

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"ewradio/internal/assets"
	"ewradio/internal/blob"
	"ewradio/internal/engine"
	"ewradio/internal/store"
	"ewradio/internal/tuning"
	"ewradio/internal/ws"
)

// preloadTimeout bounds how long scenario activation waits for assets.
const preloadTimeout = 30 * time.Second

// Server is the Echo application.
type Server struct {
	echo      *echo.Echo
	radio     *engine.Engine
	scenarios *store.Store
	blobs     *blob.Store
	ws        *ws.Handler
}

// New constructs an Echo app with websocket + REST routes. scenarios and
// blobs may be nil, in which case their routes are not registered.
func New(radio *engine.Engine, scenarios *store.Store, blobs *blob.Store) *Server {
	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())

	s := &Server{
		echo:      e,
		radio:     radio,
		scenarios: scenarios,
		blobs:     blobs,
		ws:        ws.NewHandler(radio, nil),
	}
	s.registerRoutes()
	return s
}

// Echo exposes the underlying Echo instance for tests.
func (s *Server) Echo() *echo.Echo {
	return s.echo
}

func (s *Server) registerRoutes() {
	s.echo.GET("/health", s.handleHealth)

	api := s.echo.Group("/api")
	api.GET("/engine", s.handleEngine)
	api.POST("/state", s.handleState)
	api.POST("/tuning", s.handleTuning)
	api.PUT("/catalog", s.handleCatalog)
	api.POST("/volume", s.handleVolume)
	api.POST("/mute", s.handleMute)
	api.POST("/unmute", s.handleUnmute)
	api.POST("/resume", s.handleResume)
	api.POST("/stop", s.handleStop)
	api.GET("/spectrum", s.handleSpectrum)

	if s.scenarios != nil {
		api.GET("/scenarios", s.handleListScenarios)
		api.GET("/scenarios/:name", s.handleGetScenario)
		api.PUT("/scenarios/:name", s.handlePutScenario)
		api.DELETE("/scenarios/:name", s.handleDeleteScenario)
		api.POST("/scenarios/:name/activate", s.handleActivateScenario)
	}
	if s.blobs != nil {
		api.POST("/assets", s.handleAssetUpload)
		api.GET("/assets/:id", s.handleAssetDownload)
	}
	s.ws.Register(s.echo)
}

// Run starts Echo and blocks until ctx cancellation or startup failure.
func (s *Server) Run(ctx context.Context, addr string) error {
	errCh := make(chan error, 1)
	go func() {
		err := s.echo.Start(addr)
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.echo.Shutdown(shutCtx)
		return nil
	}
}

type healthResponse struct {
	Status  string `json:"status"`
	Ready   bool   `json:"ready"`
	Backend string `json:"backend,omitempty"`
	Clients int    `json:"clients"`
}

func (s *Server) handleHealth(c echo.Context) error {
	snap := s.radio.Snapshot()
	return c.JSON(http.StatusOK, healthResponse{
		Status:  "ok",
		Ready:   snap.Ready,
		Backend: snap.Backend,
		Clients: s.ws.Hub().ClientCount(),
	})
}

func (s *Server) handleEngine(c echo.Context) error {
	return c.JSON(http.StatusOK, s.radio.Snapshot())
}

// commandResult answers a control request with the resulting state and
// pushes the same state to websocket clients.
func (s *Server) commandResult(c echo.Context, err error) error {
	if err != nil {
		if errors.Is(err, tuning.ErrInvalidConfiguration) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	s.ws.BroadcastState()
	return c.JSON(http.StatusOK, s.radio.Snapshot())
}

type stateRequest struct {
	Tuning  *tuning.Config  `json:"tuning"`
	Signals []tuning.Signal `json:"signals"`
}

func (s *Server) handleState(c echo.Context) error {
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid state payload")
	}
	if req.Tuning == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "tuning is required")
	}
	return s.commandResult(c, s.radio.UpdateState(*req.Tuning, req.Signals))
}

func (s *Server) handleTuning(c echo.Context) error {
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid tuning payload")
	}
	if req.Tuning == nil {
		return echo.NewHTTPError(http.StatusBadRequest, "tuning is required")
	}
	return s.commandResult(c, s.radio.Retune(*req.Tuning))
}

func (s *Server) handleCatalog(c echo.Context) error {
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid catalog payload")
	}
	return s.commandResult(c, s.radio.ReplaceCatalog(req.Signals))
}

type volumeRequest struct {
	Volume *float64 `json:"volume"`
}

func (s *Server) handleVolume(c echo.Context) error {
	var req volumeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid volume payload")
	}
	if req.Volume == nil || !ws.ValidVolume(*req.Volume) {
		return echo.NewHTTPError(http.StatusBadRequest, "volume must be within [0, 1]")
	}
	s.radio.SetMasterVolume(*req.Volume)
	return s.commandResult(c, nil)
}

func (s *Server) handleMute(c echo.Context) error {
	s.radio.Mute()
	return s.commandResult(c, nil)
}

func (s *Server) handleUnmute(c echo.Context) error {
	s.radio.Unmute()
	return s.commandResult(c, nil)
}

func (s *Server) handleResume(c echo.Context) error {
	return s.commandResult(c, s.radio.Resume())
}

func (s *Server) handleStop(c echo.Context) error {
	s.radio.StopAll()
	return s.commandResult(c, nil)
}

type spectrumResponse struct {
	Bins []float64 `json:"bins"`
}

func (s *Server) handleSpectrum(c echo.Context) error {
	bins := 64
	if raw := c.QueryParam("bins"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 4096 {
			return echo.NewHTTPError(http.StatusBadRequest, "bins must be an integer in [1, 4096]")
		}
		bins = n
	}
	out := s.radio.SpectrumSnapshot(bins)
	if out == nil {
		return echo.NewHTTPError(http.StatusServiceUnavailable, engine.ErrBackendUnavailable.Error())
	}
	return c.JSON(http.StatusOK, spectrumResponse{Bins: out})
}

func (s *Server) handleListScenarios(c echo.Context) error {
	list, err := s.scenarios.ListScenarios(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("list scenarios: %v", err))
	}
	if list == nil {
		list = []store.Scenario{}
	}
	return c.JSON(http.StatusOK, list)
}

func (s *Server) scenario(c echo.Context) (store.Scenario, error) {
	sc, err := s.scenarios.Scenario(c.Request().Context(), c.Param("name"))
	if err != nil {
		if errors.Is(err, store.ErrScenarioNotFound) {
			return store.Scenario{}, echo.NewHTTPError(http.StatusNotFound, "scenario not found")
		}
		return store.Scenario{}, echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("load scenario: %v", err))
	}
	return sc, nil
}

func (s *Server) handleGetScenario(c echo.Context) error {
	sc, err := s.scenario(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, sc)
}

func (s *Server) handlePutScenario(c echo.Context) error {
	var req stateRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid scenario payload")
	}
	sc := store.Scenario{Name: c.Param("name"), Tuning: req.Tuning, Catalog: req.Signals}
	if err := s.scenarios.SaveScenario(c.Request().Context(), sc); err != nil {
		if errors.Is(err, tuning.ErrInvalidConfiguration) {
			return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	saved, err := s.scenario(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, saved)
}

func (s *Server) handleDeleteScenario(c echo.Context) error {
	if err := s.scenarios.DeleteScenario(c.Request().Context(), c.Param("name")); err != nil {
		if errors.Is(err, store.ErrScenarioNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "scenario not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("delete scenario: %v", err))
	}
	return c.NoContent(http.StatusNoContent)
}

type activateResponse struct {
	Scenario string          `json:"scenario"`
	Preload  string          `json:"preload_error,omitempty"`
	State    engine.Snapshot `json:"state"`
}

// handleActivateScenario loads a stored catalog into the engine. Assets are
// preloaded first so the scenario starts audible; a failed preload is
// reported but does not block activation.
func (s *Server) handleActivateScenario(c echo.Context) error {
	sc, err := s.scenario(c)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(c.Request().Context(), preloadTimeout)
	defer cancel()
	preloadErr := s.radio.Preload(ctx, sc.Catalog)
	if preloadErr != nil {
		slog.Warn("scenario preload incomplete", "scenario", sc.Name, "err", preloadErr)
	}

	if sc.Tuning != nil {
		err = s.radio.UpdateState(*sc.Tuning, sc.Catalog)
	} else {
		err = s.radio.ReplaceCatalog(sc.Catalog)
	}
	if err != nil {
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	}
	s.ws.BroadcastState()
	slog.Info("scenario activated", "scenario", sc.Name, "signals", len(sc.Catalog))

	resp := activateResponse{Scenario: sc.Name, State: s.radio.Snapshot()}
	if preloadErr != nil {
		resp.Preload = preloadErr.Error()
	}
	return c.JSON(http.StatusOK, resp)
}

type assetUploadResponse struct {
	ID           string `json:"id"`
	Path         string `json:"path"`
	Kind         string `json:"kind"`
	OriginalName string `json:"original_name"`
	ContentType  string `json:"content_type"`
	SizeBytes    int64  `json:"size_bytes"`
	CreatedAt    string `json:"created_at"`
}

func (s *Server) handleAssetUpload(c echo.Context) error {
	fileHeader, err := c.FormFile("file")
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "multipart file field \"file\" is required")
	}

	src, err := fileHeader.Open()
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, fmt.Sprintf("open uploaded file: %v", err))
	}
	defer src.Close()

	contentType := strings.TrimSpace(fileHeader.Header.Get(echo.HeaderContentType))
	meta, err := s.blobs.Put(c.Request().Context(), blob.PutInput{
		Kind:         c.FormValue("kind"),
		OriginalName: fileHeader.Filename,
		ContentType:  contentType,
		Reader:       src,
	})
	if err != nil {
		if errors.Is(err, blob.ErrTooLarge) {
			return echo.NewHTTPError(http.StatusRequestEntityTooLarge, err.Error())
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("persist asset: %v", err))
	}

	return c.JSON(http.StatusCreated, assetUploadResponse{
		ID:           meta.ID,
		Path:         assets.BlobPrefix + meta.ID,
		Kind:         meta.Kind,
		OriginalName: meta.OriginalName,
		ContentType:  meta.ContentType,
		SizeBytes:    meta.SizeBytes,
		CreatedAt:    meta.CreatedAt.Format(time.RFC3339Nano),
	})
}

func (s *Server) handleAssetDownload(c echo.Context) error {
	id := strings.TrimPrefix(strings.TrimSpace(c.Param("id")), assets.BlobPrefix)
	if id == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "asset id is required")
	}

	result, err := s.blobs.Open(c.Request().Context(), id)
	if err != nil {
		if errors.Is(err, store.ErrBlobNotFound) {
			return echo.NewHTTPError(http.StatusNotFound, "asset not found")
		}
		return echo.NewHTTPError(http.StatusInternalServerError, fmt.Sprintf("open asset: %v", err))
	}
	defer result.File.Close()

	c.Response().Header().Set(echo.HeaderContentType, result.Metadata.ContentType)
	c.Response().Header().Set(echo.HeaderContentLength, strconv.FormatInt(result.Metadata.SizeBytes, 10))
	c.Response().Header().Set(
		echo.HeaderContentDisposition,
		fmt.Sprintf(`attachment; filename="%s"`, safeFilename(result.Metadata.OriginalName)),
	)
	c.Response().WriteHeader(http.StatusOK)
	_, copyErr := io.Copy(c.Response().Writer, result.File)
	return copyErr
}

func safeFilename(name string) string {
	name = strings.TrimSpace(name)
	if name == "" {
		return "asset"
	}
	name = strings.ReplaceAll(name, `"`, "_")
	name = strings.ReplaceAll(name, "\\", "_")
	return name
}
