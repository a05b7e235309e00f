package api

import (
	"context"
	"encoding/csv"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"classmon/internal/aggregate"
	"classmon/internal/attendance"
	"classmon/internal/config"
	"classmon/internal/ingest"
	"classmon/internal/model"
	"classmon/internal/pipeline"
	"classmon/internal/storage"
)

// PipelineControl is the slice of the pipeline the API needs.
type PipelineControl interface {
	Ingest(ctx context.Context, payload pipeline.ReadingPayload) (pipeline.Result, error)
	RecordScan(uid string) (model.PendingScan, error)
	ConsumeScan() (model.PendingScan, bool)
	UpdateConfig(cfg *config.Config)
}

type Server struct {
	cfg        *config.Manager
	store      storage.Store
	pipe       PipelineControl
	correlator *attendance.Correlator
	logger     *slog.Logger
	version    string
}

func Start(ctx context.Context, cfg *config.Manager, store storage.Store, pipe PipelineControl, correlator *attendance.Correlator, logger *slog.Logger, version string) *http.Server {
	if cfg == nil {
		return nil
	}
	current := cfg.Get().API
	if !current.Enabled {
		if logger != nil {
			logger.Info("api disabled")
		}
		return nil
	}
	if logger != nil {
		logger.Info("api enabled", "addr", current.Addr)
	}
	server := &Server{
		cfg:        cfg,
		store:      store,
		pipe:       pipe,
		correlator: correlator,
		logger:     logger,
		version:    version,
	}
	mux := http.NewServeMux()
	mux.HandleFunc("/health", server.handleHealth)
	mux.HandleFunc("/api/sensor-data", server.handleSensorData)
	mux.HandleFunc("/api/sensor-data/latest", server.handleLatest)
	mux.HandleFunc("/api/sensor-data/history", server.handleHistory)
	mux.HandleFunc("/api/sensor-stats", server.handleSensorStats)
	mux.HandleFunc("/api/rfid/scan", server.handleScan)
	mux.HandleFunc("/api/rfid/last-scan", server.handleLastScan)
	mux.HandleFunc("/api/rfid/register", server.handleRegister)
	mux.HandleFunc("/api/rfid/log", server.handleAccessLog)
	mux.HandleFunc("/api/rfid/cards", server.handleCards)
	mux.HandleFunc("/api/rfid/cards/", server.handleCardDelete)
	mux.HandleFunc("/api/rfid/logs", server.handleAccessLogList)
	mux.HandleFunc("/api/rfid/attendance", server.handleAttendance)
	mux.HandleFunc("/api/alerts", server.handleAlerts)
	mux.HandleFunc("/api/alerts/", server.handleAlertResolve)
	mux.HandleFunc("/api/dashboard/summary", server.handleDashboardSummary)
	mux.HandleFunc("/api/dashboard/chart-data", server.handleChartData)
	mux.HandleFunc("/api/dashboard/export", server.handleExport)
	mux.HandleFunc("/api/system/status", server.handleSystemStatus)
	mux.HandleFunc("/api/config/thresholds", server.handleThresholds)

	httpServer := &http.Server{Addr: current.Addr, Handler: mux}
	go func() {
		<-ctx.Done()
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = httpServer.Shutdown(ctxShutdown)
	}()
	go func() {
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			if logger != nil {
				logger.Error("api server error", "err", err)
			}
		}
	}()
	return httpServer
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status":    "OK",
		"version":   s.version,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

func (s *Server) handleSensorData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil || len(body) == 0 {
		w.WriteHeader(http.StatusBadRequest)
		return
	}
	payload, err := ingest.DecodeReading(body)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	payload.Source = "rest"
	res, err := s.pipe.Ingest(r.Context(), payload)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success": true,
		"message": "sensor data recorded",
		"data": map[string]any{
			"deviceId":  res.Reading.DeviceID,
			"timestamp": res.Reading.Timestamp.Format(time.RFC3339),
		},
		"alerts": res.Alerts,
	})
}

func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	reading, ok, err := s.store.LatestReading(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{})
		return
	}
	writeJSON(w, http.StatusOK, reading)
}

func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	readings, err := s.store.RecentReadings(r.Context(), queryInt(r, "limit", 100))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"readings": readings,
		"count":    len(readings),
	})
}

func (s *Server) handleSensorStats(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	now := time.Now().UTC()
	readings, err := s.store.ReadingsInWindow(r.Context(), now.Add(-cfg.Monitor.StatsWindow), now)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, aggregate.Summarize(readings))
}

func (s *Server) handleScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RFIDUID string `json:"rfidUid"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	scan, err := s.pipe.RecordScan(req.RFIDUID)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"success":   true,
		"message":   "scan received",
		"rfidUid":   scan.UID,
		"timestamp": scan.Timestamp.Format(time.RFC3339),
	})
}

func (s *Server) handleLastScan(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	scan, ok := s.pipe.ConsumeScan()
	if !ok {
		writeJSON(w, http.StatusOK, map[string]any{
			"uid":       nil,
			"timestamp": nil,
			"message":   "no scan pending",
		})
		return
	}
	writeJSON(w, http.StatusOK, scan)
}

func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RFIDUID     string `json:"rfidUid"`
		StudentName string `json:"studentName"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	if strings.TrimSpace(req.RFIDUID) == "" {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "rfidUid is required"})
		return
	}
	card, err := s.correlator.RegisterCard(r.Context(), req.RFIDUID, req.StudentName)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"message":     "card registered",
		"cardId":      card.CardID,
		"rfidUid":     card.RFIDUID,
		"studentName": card.StudentName,
	})
}

func (s *Server) handleAccessLog(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		RFIDUID string       `json:"rfidUid"`
		Action  model.Action `json:"action"`
	}
	if err := decodeBody(w, r, &req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
		return
	}
	res, err := s.correlator.LogAccess(r.Context(), req.RFIDUID, req.Action, attendance.Strict)
	if errors.Is(err, attendance.ErrNotRegistered) {
		writeJSON(w, http.StatusNotFound, map[string]any{
			"error":   "card not registered",
			"rfidUid": req.RFIDUID,
		})
		return
	}
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{
		"success":     true,
		"message":     "access logged",
		"cardId":      res.Card.CardID,
		"studentName": res.Card.StudentName,
		"action":      res.Entry.Action,
		"timestamp":   res.Entry.Timestamp.Format(time.RFC3339),
	})
}

func (s *Server) handleCards(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cards, err := s.store.ListCards(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"cards": cards,
		"count": len(cards),
	})
}

func (s *Server) handleCardDelete(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodDelete {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cardID := strings.TrimPrefix(r.URL.Path, "/api/rfid/cards/")
	if cardID == "" || strings.Contains(cardID, "/") {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	if err := s.store.DeleteCard(r.Context(), cardID); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "card deleted"})
}

func (s *Server) handleAccessLogList(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	logs, err := s.store.AccessLog(r.Context(), queryInt(r, "limit", 50))
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"logs":  logs,
		"count": len(logs),
	})
}

func (s *Server) handleAttendance(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	date := time.Now().UTC()
	if v := r.URL.Query().Get("date"); v != "" {
		parsed, err := time.Parse("2006-01-02", v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "date must be YYYY-MM-DD"})
			return
		}
		date = parsed
	}
	records, err := s.store.AttendanceForDate(r.Context(), date)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"attendance": records,
		"count":      len(records),
	})
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	filter := storage.AlertFilter{
		Type:  model.AlertType(r.URL.Query().Get("type")),
		Limit: queryInt(r, "limit", 100),
	}
	resolved := false
	if v := r.URL.Query().Get("resolved"); v != "" {
		parsed, err := strconv.ParseBool(v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": "resolved must be a boolean"})
			return
		}
		resolved = parsed
	}
	filter.Resolved = &resolved
	alerts, err := s.store.ListAlerts(r.Context(), filter)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"alerts": alerts,
		"count":  len(alerts),
	})
}

func (s *Server) handleAlertResolve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPut {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	rest := strings.TrimPrefix(r.URL.Path, "/api/alerts/")
	idStr, ok := strings.CutSuffix(rest, "/resolve")
	if !ok {
		w.WriteHeader(http.StatusNotFound)
		return
	}
	id, err := strconv.ParseInt(idStr, 10, 64)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": "alert id must be an integer"})
		return
	}
	if err := s.store.ResolveAlert(r.Context(), id); err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"success": true, "message": "alert resolved"})
}

func (s *Server) handleDashboardSummary(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	ctx := r.Context()
	cfg := s.cfg.Get()
	now := time.Now().UTC()

	var latest any
	if reading, ok, err := s.store.LatestReading(ctx); err != nil {
		s.writeError(w, err)
		return
	} else if ok {
		latest = reading
	}
	present, err := s.store.PresentCount(ctx, now)
	if err != nil {
		s.writeError(w, err)
		return
	}
	unresolved := false
	recent, err := s.store.ListAlerts(ctx, storage.AlertFilter{
		Resolved: &unresolved,
		Since:    now.Add(-1 * time.Hour),
		Limit:    5,
	})
	if err != nil {
		s.writeError(w, err)
		return
	}
	readings, err := s.store.ReadingsInWindow(ctx, now.Add(-cfg.Monitor.StatsWindow), now)
	if err != nil {
		s.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"latestReading":   latest,
		"presentStudents": present,
		"activeAlerts":    len(recent),
		"recentAlerts":    recent,
		"stats":           aggregate.Summarize(readings),
	})
}

func (s *Server) handleChartData(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	hours := queryInt(r, "hours", cfg.Monitor.ChartHours)
	now := time.Now().UTC()
	readings, err := s.store.ReadingsInWindow(r.Context(), now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		s.writeError(w, err)
		return
	}
	buckets := aggregate.HourlyBuckets(readings)
	writeJSON(w, http.StatusOK, map[string]any{
		"buckets": buckets,
		"period":  fmt.Sprintf("%d hours", hours),
		"count":   len(buckets),
	})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	hours := queryInt(r, "hours", cfg.Monitor.ChartHours)
	now := time.Now().UTC()
	readings, err := s.store.ReadingsInWindow(r.Context(), now.Add(-time.Duration(hours)*time.Hour), now)
	if err != nil {
		s.writeError(w, err)
		return
	}
	if r.URL.Query().Get("format") == "json" {
		writeJSON(w, http.StatusOK, map[string]any{
			"readings": readings,
			"count":    len(readings),
		})
		return
	}
	w.Header().Set("Content-Type", "text/csv")
	w.Header().Set("Content-Disposition", `attachment; filename=sensor_data.csv`)
	cw := csv.NewWriter(w)
	_ = cw.Write([]string{"Timestamp", "Device ID", "Sound Level", "Temperature", "Humidity", "CO Level", "Signal Strength"})
	for _, reading := range readings {
		_ = cw.Write([]string{
			reading.Timestamp.Format(time.RFC3339),
			reading.DeviceID,
			formatFloat(reading.SoundLevel),
			formatFloat(reading.Temperature),
			formatFloat(reading.Humidity),
			formatFloat(reading.COLevel),
			formatInt(reading.RSSI),
		})
	}
	cw.Flush()
}

func (s *Server) handleSystemStatus(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		w.WriteHeader(http.StatusMethodNotAllowed)
		return
	}
	cfg := s.cfg.Get()
	now := time.Now().UTC()
	reading, ok, err := s.store.LatestReading(r.Context())
	if err != nil {
		s.writeError(w, err)
		return
	}
	status := aggregate.Liveness(reading.Timestamp, ok, now, cfg.Monitor.OfflineAfter)
	resp := map[string]any{
		"status":                  status,
		"lastReading":             nil,
		"minutesSinceLastReading": -1,
		"timestamp":               now.Format(time.RFC3339),
	}
	if ok {
		resp["lastReading"] = reading.Timestamp.Format(time.RFC3339)
		resp["minutesSinceLastReading"] = int(now.Sub(reading.Timestamp).Minutes())
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleThresholds(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]any{
			"thresholds": s.cfg.Get().Thresholds,
		})
	case http.MethodPost:
		var thresholds config.ThresholdConfig
		if err := decodeBody(w, r, &thresholds); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		current := s.cfg.Get()
		next := *current
		next.Thresholds = thresholds
		if err := s.cfg.Update(&next); err != nil {
			writeJSON(w, http.StatusBadRequest, map[string]any{"error": err.Error()})
			return
		}
		if s.pipe != nil {
			s.pipe.UpdateConfig(&next)
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "ok"})
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) writeError(w http.ResponseWriter, err error) {
	var vErr *pipeline.ValidationError
	if errors.As(err, &vErr) {
		writeJSON(w, http.StatusBadRequest, map[string]any{"error": vErr.Error()})
		return
	}
	if s.logger != nil {
		s.logger.Error("request failed", "err", err)
	}
	writeJSON(w, http.StatusInternalServerError, map[string]any{"error": "internal server error"})
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, 1<<20))
	if err != nil {
		return err
	}
	if len(body) == 0 {
		return errors.New("empty request body")
	}
	return json.Unmarshal(body, dst)
}

func queryInt(r *http.Request, key string, fallback int) int {
	if v := r.URL.Query().Get(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			return n
		}
	}
	return fallback
}

func formatFloat(v *float64) string {
	if v == nil {
		return ""
	}
	return strconv.FormatFloat(*v, 'f', -1, 64)
}

func formatInt(v *int) string {
	if v == nil {
		return ""
	}
	return strconv.Itoa(*v)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}
