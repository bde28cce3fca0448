package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"

	"github.com/momentics/govna-tdr/internal/config"
	"github.com/momentics/govna-tdr/internal/util"
	"github.com/momentics/govna-tdr/pkg/govna"
)

var (
	scanDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name: "govna_scan_duration_seconds",
			Help: "Duration of VNA scan requests",
		},
		[]string{"port"},
	)
)

func init() {
	prometheus.MustRegister(scanDuration)
}

// devicePool - часть govna.VNAPool, нужная обработчикам.
type devicePool interface {
	Get(portPath string) (*govna.VNA, error)
	Drop(portPath string) error
}

type api struct {
	pool      devicePool
	cfg       *config.Config
	listPorts func() ([]string, error)
}

func newAPI(pool devicePool, cfg *config.Config) *api {
	return &api{pool: pool, cfg: cfg, listPorts: util.ListPorts}
}

func newRouter(a *api) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(zerologLogger())
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "healthy"})
	})
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/ports", a.ports)
		r.Get("/info", a.info)
		r.Post("/scan", a.scan)
		r.Get("/scan", a.lastScan)
		r.Get("/tdr", a.tdr)
	})
	return r
}

func zerologLogger() func(next http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)

			defer func() {
				log.Info().
					Str("method", r.Method).
					Str("path", r.URL.Path).
					Str("request_id", middleware.GetReqID(r.Context())).
					Int("status", ww.Status()).
					Dur("latency", time.Since(start)).
					Msg("HTTP request")
			}()

			next.ServeHTTP(ww, r)
		})
	}
}

type pointDTO struct {
	Frequency uint64     `json:"frequency"`
	S11       [2]float64 `json:"s11"`
	S21       [2]float64 `json:"s21"`
	VSWR      float64    `json:"vswr"`
}

type segmentDTO struct {
	Start   uint64 `json:"start"`
	Stop    uint64 `json:"stop"`
	Points  int    `json:"points"`
	Overlap bool   `json:"overlap"`
}

type sweepDTO struct {
	ID        string       `json:"id"`
	Start     uint64       `json:"start"`
	Stop      uint64       `json:"stop"`
	Points    int          `json:"points"`
	CreatedAt time.Time    `json:"created_at"`
	Segments  []segmentDTO `json:"segments"`
	Data      []pointDTO   `json:"data"`
}

type tdrDTO struct {
	SweepID        string    `json:"sweep_id"`
	VelocityFactor float64   `json:"velocity_factor"`
	Window         string    `json:"window"`
	PeakIndex      int       `json:"peak_index"`
	PeakDistance   float64   `json:"peak_distance_m"`
	Distances      []float64 `json:"distances,omitempty"`
	Response       []float64 `json:"response,omitempty"`
}

func (a *api) ports(w http.ResponseWriter, r *http.Request) {
	ports, err := a.listPorts()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string][]string{"ports": ports})
}

func (a *api) info(w http.ResponseWriter, r *http.Request) {
	vna, port, ok := a.device(w, r)
	if !ok {
		return
	}
	info := vna.Info()
	writeJSON(w, http.StatusOK, map[string]any{
		"port":               port,
		"version":            info.Version,
		"board":              info.Board,
		"max_segment_points": info.MaxSegmentPoints,
	})
}

func (a *api) scan(w http.ResponseWriter, r *http.Request) {
	vna, port, ok := a.device(w, r)
	if !ok {
		return
	}
	sweepCfg, err := parseSweepConfig(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	start := time.Now()
	sweep, err := vna.Sweep(r.Context(), sweepCfg)
	if err != nil {
		a.deviceError(w, port, err)
		return
	}
	scanDuration.WithLabelValues(port).Observe(time.Since(start).Seconds())
	writeJSON(w, http.StatusOK, toSweepDTO(sweep))
}

func (a *api) lastScan(w http.ResponseWriter, r *http.Request) {
	vna, _, ok := a.device(w, r)
	if !ok {
		return
	}
	sweep := vna.LastSweep()
	if sweep == nil {
		writeError(w, http.StatusNotFound, errors.New("сканирование еще не выполнялось"))
		return
	}
	writeJSON(w, http.StatusOK, toSweepDTO(sweep))
}

func (a *api) tdr(w http.ResponseWriter, r *http.Request) {
	vna, port, ok := a.device(w, r)
	if !ok {
		return
	}
	velocity, err := parseVelocity(r, a.cfg.TDR.VelocityFactor)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	window := a.cfg.TDR.Window
	if name := r.URL.Query().Get("window"); name != "" {
		if window, err = govna.ParseWindow(name); err != nil {
			writeError(w, http.StatusBadRequest, err)
			return
		}
	}
	// Без опций результат берется из кэша устройства.
	var opts []govna.TDROption
	if window != govna.WindowHamming || a.cfg.TDR.FFTSize != govna.DefaultFFTSize {
		opts = append(a.cfg.TDROptions(), govna.WithWindow(window))
	}

	res, err := vna.TDR(velocity, opts...)
	if err != nil {
		a.deviceError(w, port, err)
		return
	}

	dto := tdrDTO{
		SweepID:        res.SweepID,
		VelocityFactor: res.VelocityFactor,
		Window:         res.Window.String(),
		PeakIndex:      res.PeakIndex,
		PeakDistance:   res.PeakDistance,
	}
	if r.URL.Query().Get("full") == "1" {
		dto.Distances = res.Distances
		dto.Response = res.Response
	}
	writeJSON(w, http.StatusOK, dto)
}

func (a *api) device(w http.ResponseWriter, r *http.Request) (*govna.VNA, string, bool) {
	port := r.URL.Query().Get("port")
	if port == "" {
		writeError(w, http.StatusBadRequest, errors.New("параметр 'port' обязателен"))
		return nil, "", false
	}
	vna, err := a.pool.Get(port)
	if err != nil {
		writeError(w, http.StatusBadGateway, fmt.Errorf("ошибка устройства: %w", err))
		return nil, "", false
	}
	return vna, port, true
}

// deviceError переводит ошибку ядра в HTTP-статус. После разрыва соединения
// устройство удаляется из пула и будет заново открыто при следующем запросе.
func (a *api) deviceError(w http.ResponseWriter, port string, err error) {
	status := http.StatusBadGateway
	switch {
	case errors.Is(err, govna.ErrInvalidSweep), errors.Is(err, govna.ErrInvalidVelocityFactor):
		status = http.StatusBadRequest
	case errors.Is(err, govna.ErrLinkBusy), errors.Is(err, govna.ErrInsufficientPoints):
		status = http.StatusConflict
	case errors.Is(err, govna.ErrSweepCancelled):
		status = http.StatusServiceUnavailable
	case errors.Is(err, govna.ErrLinkDisconnected):
		if dropErr := a.pool.Drop(port); dropErr != nil {
			log.Warn().Err(dropErr).Str("port", port).Msg("ошибка закрытия устройства")
		}
	}
	writeError(w, status, err)
}

func parseSweepConfig(r *http.Request) (govna.SweepConfig, error) {
	q := r.URL.Query()
	var cfg govna.SweepConfig
	var err error
	if cfg.Start, err = govna.ParseFrequency(q.Get("start")); err != nil {
		return cfg, fmt.Errorf("start: %w", err)
	}
	if cfg.Stop, err = govna.ParseFrequency(q.Get("stop")); err != nil {
		return cfg, fmt.Errorf("stop: %w", err)
	}
	for name, dst := range map[string]*int{
		"points":    &cfg.Points,
		"averages":  &cfg.Averages,
		"truncates": &cfg.Truncates,
	} {
		v := q.Get(name)
		if v == "" {
			continue
		}
		if *dst, err = strconv.Atoi(v); err != nil {
			return cfg, fmt.Errorf("%s: %w", name, err)
		}
	}
	if cfg.Points == 0 {
		cfg.Points = govna.DefaultSegmentPoints
	}
	return cfg, cfg.Validate()
}

func parseVelocity(r *http.Request, def float64) (float64, error) {
	q := r.URL.Query()
	if cable := q.Get("cable"); cable != "" {
		v, ok := govna.VelocityPresets[cable]
		if !ok {
			return 0, fmt.Errorf("неизвестный тип кабеля %q", cable)
		}
		return v, nil
	}
	if s := q.Get("velocity"); s != "" {
		return strconv.ParseFloat(s, 64)
	}
	return def, nil
}

func toSweepDTO(s *govna.Sweep) sweepDTO {
	cfg := s.Config()
	dto := sweepDTO{
		ID:        s.ID(),
		Start:     cfg.Start,
		Stop:      cfg.Stop,
		Points:    s.Len(),
		CreatedAt: s.CreatedAt(),
	}
	for _, seg := range s.Segments() {
		dto.Segments = append(dto.Segments, segmentDTO{Start: seg.Start, Stop: seg.Stop, Points: seg.Points, Overlap: seg.Overlap})
	}
	dto.Data = make([]pointDTO, 0, s.Len())
	for _, p := range s.Points() {
		dto.Data = append(dto.Data, pointDTO{
			Frequency: p.Frequency,
			S11:       [2]float64{real(p.S11), imag(p.S11)},
			S21:       [2]float64{real(p.S21), imag(p.S21)},
			VSWR:      govna.VSWR(p.S11),
		})
	}
	return dto
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("ошибка записи ответа")
	}
}

func writeError(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
