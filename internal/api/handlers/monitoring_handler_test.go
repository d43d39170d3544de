package handlers

import (
	"errors"
	"net/http"
	"strings"
	"testing"
)

func TestMonitoringHandler_Start(t *testing.T) {
	t.Run("normalizes address and starts", func(t *testing.T) {
		engine := NewMockEngine()
		handler := NewMonitoringHandler(engine, nil)

		body := `{"address":"` + strings.ToLower(checksumAddress) + `"}`
		w := serve(handler.StartMonitoring, newJSONRequest(http.MethodPost, "/api/v1/monitoring/start", body))
		expectStatus(t, w, http.StatusOK)

		var resp MonitoringStatusResponse
		decodeBody(t, w, &resp)
		if !resp.Monitoring || resp.Address != checksumAddress {
			t.Errorf("ожидался запущенный монитор для %s, получено %+v", checksumAddress, resp)
		}
	})

	t.Run("rejects invalid address", func(t *testing.T) {
		handler := NewMonitoringHandler(NewMockEngine(), nil)
		w := serve(handler.StartMonitoring, newJSONRequest(http.MethodPost, "/api/v1/monitoring/start", `{"address":"0x123"}`))
		expectStatus(t, w, http.StatusBadRequest)
	})

	t.Run("rejects empty body", func(t *testing.T) {
		handler := NewMonitoringHandler(NewMockEngine(), nil)
		w := serve(handler.StartMonitoring, newJSONRequest(http.MethodPost, "/api/v1/monitoring/start", ""))
		expectStatus(t, w, http.StatusBadRequest)
	})

	t.Run("gateway failure", func(t *testing.T) {
		engine := NewMockEngine()
		engine.startErr = errors.New("initial snapshot: connection refused")
		handler := NewMonitoringHandler(engine, nil)

		w := serve(handler.StartMonitoring, newJSONRequest(http.MethodPost, "/api/v1/monitoring/start", `{"address":"`+checksumAddress+`"}`))
		expectStatus(t, w, http.StatusBadGateway)
	})
}

func TestMonitoringHandler_StopAndStatus(t *testing.T) {
	engine := NewMockEngine()
	engine.address = checksumAddress
	handler := NewMonitoringHandler(engine, nil)

	w := serve(handler.GetStatus, newJSONRequest(http.MethodGet, "/api/v1/monitoring", ""))
	expectStatus(t, w, http.StatusOK)
	var resp MonitoringStatusResponse
	decodeBody(t, w, &resp)
	if !resp.Monitoring {
		t.Error("монитор должен быть запущен")
	}

	w = serve(handler.StopMonitoring, newJSONRequest(http.MethodPost, "/api/v1/monitoring/stop", ""))
	expectStatus(t, w, http.StatusOK)
	resp = MonitoringStatusResponse{}
	decodeBody(t, w, &resp)
	if resp.Monitoring || resp.Address != "" {
		t.Errorf("после остановки монитор не должен работать: %+v", resp)
	}
}
