package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/rugwirobaker/irrigate/internal/device"
	"github.com/rugwirobaker/irrigate/internal/eventlog"
	"github.com/rugwirobaker/irrigate/internal/moisture"
)

const (
	maxFormMemory = 1 << 20
	maxJSONBody   = 1 << 20
)

type indexData struct {
	Log        string
	Entries    int
	DeviceURL  string
	StreamMode string
}

// handleIndex renders the UI with the whole log as indented JSON
func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	entries := s.log.All()
	logJSON, err := json.MarshalIndent(entries, "", "  ")
	if err != nil {
		s.logger.Error("Failed to encode log", "error", err, "request_id", RequestID(r.Context()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	data := indexData{
		Log:        string(logJSON),
		Entries:    len(entries),
		DeviceURL:  s.device.BaseURL(),
		StreamMode: string(s.publisher.Mode()),
	}

	var buf bytes.Buffer
	if err := indexTemplate.Execute(&buf, data); err != nil {
		s.logger.Error("Failed to render index", "error", err, "request_id", RequestID(r.Context()))
		http.Error(w, "Internal server error", http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.WriteHeader(http.StatusOK)
	w.Write(buf.Bytes())
}

// handleManualOverride records a manual override. The timestamp field is
// optional and an empty value counts as absent.
func (s *Server) handleManualOverride(w http.ResponseWriter, r *http.Request) {
	timestamp, _, err := postFormValue(r, "timestamp")
	if err != nil {
		s.respondText(w, http.StatusBadRequest, "Invalid form data")
		return
	}

	msg := "Manual override triggered without timestamp"
	if timestamp != "" {
		msg = "Manual override triggered at " + timestamp
	}
	if !s.emit(w, r, eventlog.KindManualOverride, msg) {
		return
	}

	s.respondText(w, http.StatusOK, "Manual override triggered")
}

// handleAdjustSettings records a slider change. An empty slider_value is
// accepted; only a missing one is rejected.
func (s *Server) handleAdjustSettings(w http.ResponseWriter, r *http.Request) {
	value, ok, err := postFormValue(r, "slider_value")
	if err != nil {
		s.respondText(w, http.StatusBadRequest, "Invalid form data")
		return
	}
	if !ok {
		s.respondText(w, http.StatusBadRequest, "Slider value is missing")
		return
	}

	msg := "Slider adjusted to " + value
	if !s.emit(w, r, eventlog.KindAdjustSettings, msg) {
		return
	}

	s.respondText(w, http.StatusOK, msg)
}

// handleMoistureData records a sensor reading posted as {"sensor_value": v}.
// A null value counts as missing.
func (s *Server) handleMoistureData(w http.ResponseWriter, r *http.Request) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxJSONBody))
	dec.UseNumber()

	var body map[string]any
	if err := dec.Decode(&body); err != nil {
		s.logger.Warn("Invalid JSON", "error", err, "request_id", RequestID(r.Context()))
		s.respondText(w, http.StatusBadRequest, "Invalid JSON")
		return
	}
	if err := dec.Decode(&struct{}{}); !errors.Is(err, io.EOF) {
		s.logger.Warn("Trailing data after JSON body", "request_id", RequestID(r.Context()))
		s.respondText(w, http.StatusBadRequest, "Invalid JSON")
		return
	}

	value, ok := body["sensor_value"]
	if !ok || value == nil {
		s.respondText(w, http.StatusBadRequest, "Sensor value is missing")
		return
	}

	msg := "Received sensor value: " + formatValue(value)
	if !s.emit(w, r, eventlog.KindSensorData, msg) {
		return
	}

	s.respondText(w, http.StatusOK, "Moisture received successfully")
}

// handleDeviceStatus passes the controller's status document through
// untouched.
func (s *Server) handleDeviceStatus(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.forward(w, r, "status", s.device.Status)
	if !ok {
		return
	}
	writeRaw(w, resp)
}

// handleWaterStart asks the controller to start watering and records the
// request once the controller has answered.
func (s *Server) handleWaterStart(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.forward(w, r, "water_start", s.device.StartWatering)
	if !ok {
		return
	}

	// watering already started, a journal failure must not hide that
	if _, err := s.emitter.Emit(r.Context(), eventlog.KindManualOverride, "Manual watering started on device"); err != nil {
		s.logger.Error("Failed to record event", "error", err, "request_id", RequestID(r.Context()))
	}

	writeRaw(w, resp)
}

// handleMoisture interprets the controller status for clients that do not
// want to do the conversion themselves.
func (s *Server) handleMoisture(w http.ResponseWriter, r *http.Request) {
	resp, ok := s.forward(w, r, "status", s.device.Status)
	if !ok {
		return
	}
	if resp.StatusCode != http.StatusOK {
		s.respondText(w, http.StatusBadGateway, fmt.Sprintf("device returned status %d", resp.StatusCode))
		return
	}

	reading, err := moisture.Parse(resp.Body)
	if err != nil {
		s.logger.Warn("Invalid device status", "error", err, "request_id", RequestID(r.Context()))
		s.respondText(w, http.StatusBadGateway, "Invalid device status")
		return
	}

	s.respondJSON(w, http.StatusOK, reading)
}

// handleLog returns the whole log
func (s *Server) handleLog(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, s.log.All())
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondText(w, http.StatusOK, "ok")
}

// emit appends an event and answers 500 when the journal refuses it.
func (s *Server) emit(w http.ResponseWriter, r *http.Request, kind, msg string) bool {
	if _, err := s.emitter.Emit(r.Context(), kind, msg); err != nil {
		s.logger.Error("Failed to record event",
			"error", err,
			"event_type", kind,
			"request_id", RequestID(r.Context()),
		)
		s.respondText(w, http.StatusInternalServerError, "Failed to record event")
		return false
	}
	return true
}

// forward performs one controller call and answers the client itself when
// the call fails.
func (s *Server) forward(w http.ResponseWriter, r *http.Request, endpoint string, call func(context.Context) (*device.Response, error)) (*device.Response, bool) {
	resp, err := call(r.Context())
	switch {
	case errors.Is(err, device.ErrNotConfigured):
		s.metrics.RecordDeviceRequest(endpoint, "error")
		s.respondText(w, http.StatusServiceUnavailable, "Device address not configured")
		return nil, false
	case err != nil:
		s.metrics.RecordDeviceRequest(endpoint, "error")
		s.logger.Warn("Device request failed",
			"endpoint", endpoint,
			"error", err,
			"request_id", RequestID(r.Context()),
		)
		s.respondText(w, http.StatusBadGateway, err.Error())
		return nil, false
	}

	s.metrics.RecordDeviceRequest(endpoint, strconv.Itoa(resp.StatusCode))
	return resp, true
}

// postFormValue reads key from an urlencoded or multipart body. The second
// result reports whether the key was present at all.
func postFormValue(r *http.Request, key string) (string, bool, error) {
	if err := r.ParseMultipartForm(maxFormMemory); err != nil && !errors.Is(err, http.ErrNotMultipart) {
		return "", false, err
	}
	vals, ok := r.PostForm[key]
	if !ok || len(vals) == 0 {
		return "", false, nil
	}
	return vals[0], true, nil
}

// formatValue renders a decoded JSON value the way it appeared on the wire,
// except strings which are used verbatim.
func formatValue(v any) string {
	switch v := v.(type) {
	case string:
		return v
	case json.Number:
		return v.String()
	default:
		data, err := json.Marshal(v)
		if err != nil {
			return fmt.Sprint(v)
		}
		return string(data)
	}
}

func writeRaw(w http.ResponseWriter, resp *device.Response) {
	if resp.ContentType != "" {
		w.Header().Set("Content-Type", resp.ContentType)
	} else {
		// no sniffing, the client sees what the device sent
		w.Header()["Content-Type"] = nil
	}
	w.WriteHeader(resp.StatusCode)
	w.Write(resp.Body)
}

// respondText sends a plain text response
func (s *Server) respondText(w http.ResponseWriter, status int, text string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	w.WriteHeader(status)
	if _, err := io.WriteString(w, text); err != nil {
		s.logger.Debug("Failed to write response", "error", err)
	}
}

// respondJSON sends a JSON response
func (s *Server) respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		s.logger.Error("Failed to encode JSON response", "error", err)
	}
}
