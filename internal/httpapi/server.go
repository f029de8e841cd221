// Package httpapi exposes the recorder over HTTP: tick ingestion and
// K-line queries.
package httpapi

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"klinerec/internal/domain"
	"klinerec/internal/engine"
)

// Server serves the recorder HTTP API.
type Server struct {
	engine *engine.Engine
	log    *slog.Logger
}

// NewServer creates a new recorder HTTP server.
func NewServer(eng *engine.Engine, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{engine: eng, log: log}
}

// RegisterRoutes registers all API routes on the given mux.
func (s *Server) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/ticks", s.handleTick)
	mux.HandleFunc("GET /api/klines", s.handleKlines)
	mux.HandleFunc("GET /api/periods", s.handlePeriods)
	mux.HandleFunc("GET /healthz", s.handleHealth)
}

// Handler returns an http.Handler with CORS middleware.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	s.RegisterRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(map[string]string{"error": msg})
}

func (s *Server) handleTick(w http.ResponseWriter, r *http.Request) {
	var req TickRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid tick body")
		return
	}
	if req.Symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	tick := &domain.Tick{
		Symbol:    req.Symbol,
		VtSymbol:  req.VtSymbol,
		Exchange:  domain.Exchange(req.Exchange),
		Date:      req.Date,
		Time:      req.Time,
		LastPrice: req.LastPrice,
		Volume:    req.Volume,
	}
	if req.Datetime != "" {
		dt, err := time.ParseInLocation(time.RFC3339Nano, req.Datetime, time.Local)
		if err != nil {
			writeError(w, http.StatusBadRequest, "invalid datetime")
			return
		}
		tick.Datetime = dt
	} else if req.Date == "" || req.Time == "" {
		writeError(w, http.StatusBadRequest, "datetime or date+time required")
		return
	}

	if !s.engine.Submit(tick) {
		writeError(w, http.StatusServiceUnavailable, "tick queue full")
		return
	}
	w.WriteHeader(http.StatusAccepted)
}

func (s *Server) handleKlines(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	symbol := q.Get("symbol")
	if symbol == "" {
		writeError(w, http.StatusBadRequest, "symbol required")
		return
	}

	period, err := parsePeriodParam(q.Get("period"))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	count := 10
	if v := q.Get("count"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n <= 0 {
			writeError(w, http.StatusBadRequest, "invalid count")
			return
		}
		count = n
	}

	onlyCompleted := q.Get("only_completed") == "true"

	klines, err := s.engine.LastKlines(symbol, period, count, onlyCompleted, time.Time{})
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}

	resp := KlinesResponse{
		Symbol: symbol,
		Period: period.Minutes(),
		Klines: make([]KlineJSON, 0, len(klines)),
	}
	for _, k := range klines {
		resp.Klines = append(resp.Klines, convertKline(k))
	}
	writeJSON(w, resp)
}

func (s *Server) handlePeriods(w http.ResponseWriter, r *http.Request) {
	periods := s.engine.Periods()
	minutes := make([]int, 0, len(periods))
	for _, p := range periods {
		minutes = append(minutes, p.Minutes())
	}
	writeJSON(w, map[string][]int{"periods": minutes})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, map[string]string{"status": "ok"})
}

// parsePeriodParam parses the "period" query param, in minutes.
// Missing defaults to 1-minute bars.
func parsePeriodParam(v string) (domain.Period, error) {
	if v == "" {
		return domain.Period1Min, nil
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, errors.New("invalid period")
	}
	p, err := domain.ParsePeriod(n)
	if err != nil {
		return 0, err
	}
	return p, nil
}

func convertKline(k *domain.KLine) KlineJSON {
	return KlineJSON{
		Symbol:        k.Symbol,
		VtSymbol:      k.VtSymbol,
		Datetime:      k.Datetime.Format(time.RFC3339),
		Date:          k.Datetime.Format("20060102"),
		Time:          k.Datetime.Format("15:04:05"),
		Open:          k.Open,
		High:          k.High,
		Low:           k.Low,
		Close:         k.Close,
		Volume:        k.Volume,
		OpenDatetime:  k.OpenDatetime.Format(time.RFC3339),
		CloseDatetime: k.CloseDatetime.Format(time.RFC3339),
	}
}
