package api

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/annel0/autotile/internal/logging"
	"github.com/annel0/autotile/internal/middleware"
	"github.com/annel0/autotile/internal/rules"
	"github.com/annel0/autotile/internal/storage"
	"github.com/annel0/autotile/internal/tiling"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
)

// RestServer - HTTP API оператора движка
type RestServer struct {
	router           *gin.Engine
	engine           *tiling.Engine
	grid             storage.GridRepo
	port             string
	metrics          *ServerMetrics
	outboundWebhooks *OutboundWebhookManager
	adminSecret      []byte
	broadcaster      RuleBroadcaster
	logger           *logging.Logger

	srvMu      sync.Mutex
	httpServer *http.Server
}

// Config содержит конфигурацию REST сервера
type Config struct {
	Port        string                  // адрес, например ":8088"
	Engine      *tiling.Engine          // обязательный
	Grid        storage.GridRepo        // nil - снимки недоступны
	Webhooks    *OutboundWebhookManager // nil - создаётся свой
	Registry    *prometheus.Registry    // nil - отдельный реестр
	AdminSecret string                  // пусто - изменяющие эндпоинты открыты
	ServerID    string
	Broadcaster RuleBroadcaster // nil - наборы правил не рассылаются
}

// RuleBroadcaster рассылает принятые наборы правил другим узлам
type RuleBroadcaster interface {
	BroadcastRuleSet(ctx context.Context, layer string, def rules.RuleSetDefinition) error
}

// NewRestServer создаёт сервер и настраивает маршруты
func NewRestServer(config Config) *RestServer {
	if config.Port == "" {
		config.Port = ":8088"
	}
	if config.Registry == nil {
		config.Registry = prometheus.NewRegistry()
	}
	if config.ServerID == "" {
		config.ServerID = "autotile"
	}
	if config.Webhooks == nil {
		config.Webhooks = NewOutboundWebhookManager(config.ServerID)
	}

	gin.SetMode(gin.ReleaseMode)

	router := gin.New()
	router.Use(gin.Recovery())

	loggerMw := middleware.NewRequestLogger()
	router.Use(loggerMw.Handler())

	router.Use(otelgin.Middleware("autotile_api"))

	promMw := middleware.NewPrometheusMiddleware("autotile_api", config.Registry)
	router.Use(promMw.Handler())
	promMw.RegisterMetricsEndpoint(router, config.Registry)

	server := &RestServer{
		router:           router,
		engine:           config.Engine,
		grid:             config.Grid,
		port:             config.Port,
		metrics:          NewServerMetrics(),
		outboundWebhooks: config.Webhooks,
		adminSecret:      []byte(config.AdminSecret),
		broadcaster:      config.Broadcaster,
		logger:           logging.GetAPILogger(),
	}

	server.setupRoutes()
	return server
}

// Router нужен тестам и встраиванию в чужой http.Server
func (rs *RestServer) Router() http.Handler { return rs.router }

// Webhooks возвращает менеджер исходящих webhook'ов
func (rs *RestServer) Webhooks() *OutboundWebhookManager { return rs.outboundWebhooks }

func (rs *RestServer) setupRoutes() {
	rs.router.Use(func(c *gin.Context) {
		c.Header("Access-Control-Allow-Origin", "*")
		c.Header("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		c.Header("Access-Control-Allow-Headers", "Origin, Content-Type, Accept, Authorization")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	})

	rs.router.GET("/health", rs.handleHealth)
	rs.router.GET("/stats", rs.handleStats)

	api := rs.router.Group("/api")

	// Чтение открыто всегда
	api.GET("/layers", rs.handleListLayers)
	api.GET("/layers/:id/cells", rs.handleGetCells)
	api.GET("/layers/:id/cell", rs.handleGetCell)
	api.GET("/layers/:id/outcomes", rs.handleGetOutcomes)

	admin := api.Group("/")
	admin.Use(rs.adminMiddleware())
	{
		admin.POST("/layers", rs.handleRegisterLayer)
		admin.PUT("/layers/:id/rules", rs.handleSetRules)
		admin.POST("/layers/:id/cells", rs.handleSetCells)
		admin.POST("/layers/:id/clear", rs.handleClearLayer)
		admin.POST("/layers/:id/spawned", rs.handleRegisterSpawned)
		admin.POST("/layers/:id/terrain", rs.handleTerrain)

		admin.POST("/seed", rs.handleSetSeed)
		admin.POST("/clear", rs.handleClearAll)

		admin.POST("/snapshots/save", rs.handleSaveSnapshots)
		admin.POST("/snapshots/restore", rs.handleRestoreSnapshots)

		admin.GET("/webhooks", rs.handleGetOutboundWebhooks)
		admin.POST("/webhooks", rs.handleCreateOutboundWebhook)
		admin.GET("/webhooks/events", rs.handleGetWebhookEventTypes)
		admin.GET("/webhooks/:id", rs.handleGetOutboundWebhook)
		admin.PUT("/webhooks/:id", rs.handleUpdateOutboundWebhook)
		admin.DELETE("/webhooks/:id", rs.handleDeleteOutboundWebhook)
	}
}

// GenericResponse представляет общий ответ API
type GenericResponse struct {
	Success bool        `json:"success"`
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}

func (rs *RestServer) handleHealth(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"time":   time.Now().Unix(),
		"frame":  rs.engine.Frame(),
	})
}

// handleStats отдаёт состояние движка и метрики процесса
func (rs *RestServer) handleStats(c *gin.Context) {
	c.JSON(http.StatusOK, GenericResponse{
		Success: true,
		Message: "Статистика получена",
		Data: gin.H{
			"engine":  rs.engine.Stats(),
			"process": rs.metrics.Snapshot(),
		},
	})
}

// Start блокирует до остановки сервера. После Stop возвращает nil.
func (rs *RestServer) Start() error {
	srv := &http.Server{
		Addr:              rs.port,
		Handler:           rs.router,
		ReadHeaderTimeout: 10 * time.Second,
	}
	rs.srvMu.Lock()
	rs.httpServer = srv
	rs.srvMu.Unlock()

	rs.logger.Info("🌐 REST API слушает %s", rs.port)
	err := srv.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

// Stop выполняет graceful shutdown
func (rs *RestServer) Stop(ctx context.Context) error {
	rs.srvMu.Lock()
	srv := rs.httpServer
	rs.srvMu.Unlock()
	if srv == nil {
		return nil
	}
	return srv.Shutdown(ctx)
}

func badRequest(c *gin.Context, msg string) {
	c.JSON(http.StatusBadRequest, GenericResponse{Success: false, Message: msg})
}

func notFound(c *gin.Context, msg string) {
	c.JSON(http.StatusNotFound, GenericResponse{Success: false, Message: msg})
}
