package api

import (
	"context"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"riskguard/internal/api/handlers"
	"riskguard/internal/api/middleware"
	"riskguard/internal/websocket"
)

const healthCheckTimeout = 2 * time.Second

// Engine - все операции движка риска, доступные через API
type Engine interface {
	handlers.MonitoringEngine
	handlers.RiskEngine
	handlers.SlippageEngine
	handlers.EmergencyEngine
}

// NotificationService - журнал уведомлений и сохранённая история breaker
type NotificationService interface {
	handlers.NotificationServiceInterface
	handlers.EmergencyHistoryStore
}

// HealthCheck проверяет внешнюю зависимость (БД, Redis, NATS)
type HealthCheck func(ctx context.Context) error

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Engine              Engine
	NotificationService NotificationService
	SettingsService     handlers.SettingsServiceInterface
	Hub                 *websocket.Hub

	// Verifier проверяет операторский токен; nil отключает auth
	Verifier    middleware.TokenVerifier
	CORSOrigins []string
	WSOrigins   []string

	HealthChecks map[string]HealthCheck
	Logger       *zap.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
// /api/v1/ (bearer auth)
//
//	├── /monitoring - GET состояние, POST /start, POST /stop
//	├── /risk/
//	│   ├── GET /check - свежая проверка портфеля
//	│   ├── POST /validate-trade - проверка сделки
//	│   ├── POST /can-open - проверка лимитов
//	│   ├── POST /adjust-size - безопасный размер
//	│   ├── GET /violations, GET /exposures
//	│   ├── PATCH /limits - обновление лимитов
//	│   ├── PUT /mode - режим торговли
//	│   └── POST /trades - учет исполненной сделки
//	├── /slippage/ - POST /validate, /dynamic, /split; GET /alerts
//	├── /emergency/
//	│   ├── GET / - состояние breaker
//	│   ├── POST /activate, /deactivate, /override, /recovery/exit
//	│   ├── PATCH /triggers
//	│   └── GET /history
//	├── /notifications/ - GET, DELETE, GET /count
//	└── /settings - GET
//
// /ws/stream - WebSocket событий риска (токен в query)
// /metrics - Prometheus
// /health - состояние процесса и зависимостей
//
// Middleware применяется в следующем порядке:
// 1. Recovery (для всех маршрутов)
// 2. Logging (для всех маршрутов)
// 3. CORS (для всех маршрутов)
// 4. Auth (только /api/v1 и /ws)
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	router := mux.NewRouter()
	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger.Named("http")))
	router.Use(middleware.CORS(deps.CORSOrigins))

	auth := middleware.Auth(deps.Verifier, logger.Named("auth"))

	api := router.PathPrefix("/api/v1").Subrouter()
	api.Use(auth)

	if deps.Engine != nil {
		var status handlers.StatusBroadcaster
		if deps.Hub != nil {
			status = deps.Hub
		}
		var history handlers.EmergencyHistoryStore
		if deps.NotificationService != nil {
			history = deps.NotificationService
		}

		monitoringHandler := handlers.NewMonitoringHandler(deps.Engine, logger)
		riskHandler := handlers.NewRiskHandler(deps.Engine, logger)
		slippageHandler := handlers.NewSlippageHandler(deps.Engine)
		emergencyHandler := handlers.NewEmergencyHandler(deps.Engine, history, status, logger)

		// Monitoring routes
		api.HandleFunc("/monitoring", monitoringHandler.GetStatus).Methods("GET")
		api.HandleFunc("/monitoring/start", monitoringHandler.StartMonitoring).Methods("POST")
		api.HandleFunc("/monitoring/stop", monitoringHandler.StopMonitoring).Methods("POST")

		// Risk routes
		api.HandleFunc("/risk/check", riskHandler.CheckRisk).Methods("GET")
		api.HandleFunc("/risk/validate-trade", riskHandler.ValidateTrade).Methods("POST")
		api.HandleFunc("/risk/can-open", riskHandler.CanOpenPosition).Methods("POST")
		api.HandleFunc("/risk/adjust-size", riskHandler.AdjustPositionSize).Methods("POST")
		api.HandleFunc("/risk/violations", riskHandler.GetViolations).Methods("GET")
		api.HandleFunc("/risk/exposures", riskHandler.GetExposures).Methods("GET")
		api.HandleFunc("/risk/trades", riskHandler.RecordTrade).Methods("POST")

		// Slippage routes
		api.HandleFunc("/slippage/validate", slippageHandler.ValidateSlippage).Methods("POST")
		api.HandleFunc("/slippage/dynamic", slippageHandler.CalculateDynamicSlippage).Methods("POST")
		api.HandleFunc("/slippage/split", slippageHandler.RecommendTradeSplitting).Methods("POST")
		api.HandleFunc("/slippage/alerts", slippageHandler.GetSlippageAlerts).Methods("GET")

		// Emergency routes
		api.HandleFunc("/emergency", emergencyHandler.GetStatus).Methods("GET")
		api.HandleFunc("/emergency/activate", emergencyHandler.Activate).Methods("POST")
		api.HandleFunc("/emergency/deactivate", emergencyHandler.Deactivate).Methods("POST")
		api.HandleFunc("/emergency/override", emergencyHandler.SetOverride).Methods("POST")
		api.HandleFunc("/emergency/recovery/exit", emergencyHandler.ExitRecovery).Methods("POST")
		api.HandleFunc("/emergency/history", emergencyHandler.GetHistory).Methods("GET")
	}

	// Settings routes
	if deps.SettingsService != nil {
		settingsHandler := handlers.NewSettingsHandler(deps.SettingsService, logger)
		api.HandleFunc("/settings", settingsHandler.GetSettings).Methods("GET")
		api.HandleFunc("/risk/limits", settingsHandler.UpdateLimits).Methods("PATCH")
		api.HandleFunc("/risk/mode", settingsHandler.SetTradingMode).Methods("PUT")
		api.HandleFunc("/emergency/triggers", settingsHandler.UpdateTriggers).Methods("PATCH")
	}

	// Notification routes
	if deps.NotificationService != nil {
		notificationHandler := handlers.NewNotificationHandler(deps.NotificationService)
		api.HandleFunc("/notifications", notificationHandler.GetNotifications).Methods("GET")
		api.HandleFunc("/notifications", notificationHandler.ClearNotifications).Methods("DELETE")
		api.HandleFunc("/notifications/count", notificationHandler.GetNotificationCount).Methods("GET")
	}

	// WebSocket route
	if deps.Hub != nil {
		ws := router.PathPrefix("/ws").Subrouter()
		ws.Use(auth)
		ws.Handle("/stream", deps.Hub.Handler(websocket.NewOriginChecker(deps.WSOrigins)))
	}

	router.Handle("/metrics", promhttp.Handler()).Methods("GET")
	router.HandleFunc("/health", healthHandler(deps)).Methods("GET")

	// Preflight отвечает CORS middleware, маршрут нужен только для совпадения
	router.PathPrefix("/").Methods("OPTIONS").HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	return router
}

// HealthResponse ответ /health
type HealthResponse struct {
	Status        string            `json:"status"` // ok или degraded
	Monitoring    bool              `json:"monitoring"`
	EmergencyStop bool              `json:"emergency_stop"`
	Checks        map[string]string `json:"checks,omitempty"`
}

// healthHandler отвечает 503, если хотя бы одна зависимость недоступна
//
// Активная аварийная остановка не делает процесс нездоровым.
func healthHandler(deps *Dependencies) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		resp := HealthResponse{Status: "ok"}
		if deps.Engine != nil {
			resp.Monitoring = deps.Engine.IsMonitoring()
			resp.EmergencyStop = deps.Engine.GetEmergencyStatus().Enabled
		}

		code := http.StatusOK
		if len(deps.HealthChecks) > 0 {
			ctx, cancel := context.WithTimeout(r.Context(), healthCheckTimeout)
			defer cancel()

			resp.Checks = make(map[string]string, len(deps.HealthChecks))
			for name, check := range deps.HealthChecks {
				if err := check(ctx); err != nil {
					resp.Checks[name] = err.Error()
					resp.Status = "degraded"
					code = http.StatusServiceUnavailable
					continue
				}
				resp.Checks[name] = "ok"
			}
		}

		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(code)
		jsoniter.ConfigCompatibleWithStandardLibrary.NewEncoder(w).Encode(resp)
	}
}
