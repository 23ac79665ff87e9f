package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"riskstream/internal/api/handlers"
	"riskstream/internal/api/middleware"
	"riskstream/pkg/crypto"
	"riskstream/pkg/ratelimit"
	"riskstream/pkg/utils"
)

// Dependencies содержит все зависимости для API handlers
type Dependencies struct {
	Engine    handlers.SnapshotReader
	Scheduler handlers.SchedulerStatus
	Hub       handlers.SubscriberCounter

	// WebSocket обработчик (websocket.Handler); nil - /ws не регистрируется
	Stream http.Handler

	AllowedOrigins []string
	MetricsAuth    *crypto.Credentials     // nil - /metrics без авторизации
	APILimiter     *ratelimit.KeyedLimiter // nil - без ограничения
	Logger         *utils.Logger
}

// SetupRoutes настраивает все HTTP маршруты приложения
//
// Структура маршрутов:
//
//	/api/v1/
//	├── GET /strategies       - стратегии последнего тика
//	├── GET /strategies/{id}  - одна стратегия
//	├── GET /prices           - текущие цены
//	├── GET /instruments      - каталог инструментов
//	└── GET /engine           - состояние движка
//	/ws       - WebSocket поток initial/update
//	/health   - liveness
//	/metrics  - Prometheus (basic auth, если настроен)
//
// Middleware: Recovery → Logging → CORS для всех маршрутов,
// RateLimit только для /api/v1.
func SetupRoutes(deps *Dependencies) *mux.Router {
	logger := deps.Logger
	if logger == nil {
		logger = utils.L()
	}

	router := mux.NewRouter()

	router.Use(middleware.Recovery(logger))
	router.Use(middleware.Logging(logger))
	router.Use(middleware.CORS(deps.AllowedOrigins))

	riskHandler := handlers.NewRiskHandler(deps.Engine, deps.Scheduler, deps.Hub)

	api := router.PathPrefix("/api/v1").Subrouter()
	if deps.APILimiter != nil {
		api.Use(middleware.RateLimit(deps.APILimiter))
	}
	// Запасной маршрут без Methods: несовпадение метода дает 405
	// и проходит через ту же цепочку middleware
	get := func(path string, h http.HandlerFunc) {
		api.HandleFunc(path, h).Methods(http.MethodGet, http.MethodOptions)
		api.HandleFunc(path, handlers.MethodNotAllowed)
	}
	get("/strategies", riskHandler.GetStrategies)
	get("/strategies/{id}", riskHandler.GetStrategy)
	get("/prices", riskHandler.GetPrices)
	get("/instruments", riskHandler.GetInstruments)
	get("/engine", riskHandler.GetEngine)

	if deps.Stream != nil {
		router.Handle("/ws", deps.Stream).Methods(http.MethodGet)
	}

	router.HandleFunc("/health", riskHandler.Health).Methods(http.MethodGet)
	router.HandleFunc("/health", handlers.MethodNotAllowed)

	router.Handle("/metrics",
		middleware.BasicAuth(deps.MetricsAuth, "metrics")(promhttp.Handler()),
	).Methods(http.MethodGet)

	return router
}
