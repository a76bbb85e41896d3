package httpserver

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/cors"
	ginzap "github.com/gin-contrib/zap"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"fracx/domain/asset"
	"fracx/domain/errs"
	"fracx/service"
)

// SimulatorControl is the part of the market simulator the API drives.
type SimulatorControl interface {
	Start(ctx context.Context) error
	Stop()
	Running() bool
}

type Options struct {
	CORSOrigins []string
	BookDepth   int
	// WebSocket is mounted on GET /ws when set.
	WebSocket http.Handler
}

type Server struct {
	svc    *service.OrderService
	sim    SimulatorControl
	opts   Options
	log    *zap.Logger
	router *gin.Engine
}

func New(svc *service.OrderService, sim SimulatorControl, opts Options, log *zap.Logger) *Server {
	s := &Server{
		svc:  svc,
		sim:  sim,
		opts: opts,
		log:  log.Named("http"),
	}
	s.router = s.routes()
	return s
}

func (s *Server) Handler() http.Handler { return s.router }

func (s *Server) routes() *gin.Engine {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()

	router.Use(ginzap.Ginzap(s.log, time.RFC3339, true))
	router.Use(ginzap.RecoveryWithZap(s.log, true))

	corsCfg := cors.DefaultConfig()
	if len(s.opts.CORSOrigins) > 0 {
		corsCfg.AllowOrigins = s.opts.CORSOrigins
	} else {
		corsCfg.AllowAllOrigins = true
	}
	router.Use(cors.New(corsCfg))

	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"status": "OK", "timestamp": time.Now().UTC()})
	})
	router.GET("/metrics", gin.WrapH(promhttp.Handler()))
	if s.opts.WebSocket != nil {
		router.GET("/ws", gin.WrapH(s.opts.WebSocket))
	}

	v1 := router.Group("/api/v1")
	{
		v1.GET("/assets", s.listAssets)
		v1.GET("/assets/:id", s.getAsset)

		orders := v1.Group("/orders")
		orders.POST("/limit", s.placeLimit)
		orders.POST("/market", s.placeMarket)
		orders.GET("/user/:userId", s.ordersByUser)
		orders.GET("/book/:assetId", s.orderBook)
		orders.GET("/:orderId", s.getOrder)

		v1.GET("/trades/recent", s.recentTrades)

		sim := v1.Group("/simulator")
		sim.GET("", s.simulatorStatus)
		sim.POST("/start", s.startSimulator)
		sim.POST("/stop", s.stopSimulator)
	}
	return router
}

// ===== assets =====

func (s *Server) listAssets(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.ListAssets())
}

type assetDetail struct {
	asset.Asset
	PriceChange24h decimal.Decimal `json:"priceChange24h"`
}

func (s *Server) getAsset(c *gin.Context) {
	a, err := s.svc.GetAsset(c.Param("id"))
	if err != nil {
		s.fail(c, err)
		return
	}
	change, err := s.svc.PriceChange(a.ID)
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, assetDetail{Asset: a, PriceChange24h: change})
}

// ===== orders =====

// orderBody accepts "type" as an alias of "side" for older clients.
type orderBody struct {
	AssetID  string          `json:"assetId"`
	Side     string          `json:"side"`
	Type     string          `json:"type"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
	UserID   string          `json:"userId"`
}

func (b orderBody) side() string {
	if b.Side != "" {
		return b.Side
	}
	return b.Type
}

func (s *Server) placeLimit(c *gin.Context) {
	var body orderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	o, err := s.svc.PlaceLimitOrder(c.Request.Context(), service.LimitOrderRequest{
		AssetID:  body.AssetID,
		Side:     body.side(),
		Quantity: body.Quantity,
		Price:    body.Price,
		UserID:   body.UserID,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, o)
}

func (s *Server) placeMarket(c *gin.Context) {
	var body orderBody
	if err := c.ShouldBindJSON(&body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed request body"})
		return
	}
	res, err := s.svc.PlaceMarketOrder(c.Request.Context(), service.MarketOrderRequest{
		AssetID:  body.AssetID,
		Side:     body.side(),
		Quantity: body.Quantity,
		UserID:   body.UserID,
	})
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"order":     res.Order,
		"totalCost": res.TotalCost,
		"trades":    res.Trades,
	})
}

func (s *Server) ordersByUser(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GetOrdersByUser(c.Param("userId")))
}

func (s *Server) getOrder(c *gin.Context) {
	o, err := s.svc.GetOrderByID(c.Param("orderId"))
	if err != nil {
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, o)
}

func (s *Server) orderBook(c *gin.Context) {
	c.JSON(http.StatusOK, s.svc.GetOrderBook(c.Param("assetId"), s.opts.BookDepth))
}

func (s *Server) recentTrades(c *gin.Context) {
	limit := 0
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be a non-negative integer"})
			return
		}
		limit = n
	}
	c.JSON(http.StatusOK, s.svc.RecentTrades(limit))
}

// ===== simulator =====

func (s *Server) simulatorStatus(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"running": s.sim.Running()})
}

func (s *Server) startSimulator(c *gin.Context) {
	if err := s.sim.Start(c.Request.Context()); err != nil {
		if errors.Is(err, errs.ErrAlreadyRunning) {
			c.JSON(http.StatusConflict, gin.H{"error": "simulator already running", "running": true})
			return
		}
		s.fail(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"running": true})
}

func (s *Server) stopSimulator(c *gin.Context) {
	s.sim.Stop()
	c.JSON(http.StatusOK, gin.H{"running": false})
}

func (s *Server) fail(c *gin.Context, err error) {
	status := http.StatusInternalServerError
	switch {
	case errs.IsValidation(err):
		status = http.StatusBadRequest
	case errors.Is(err, errs.ErrNotFound):
		status = http.StatusNotFound
	}
	if status == http.StatusInternalServerError {
		s.log.Error("request failed", zap.String("path", c.FullPath()), zap.Error(err))
	}
	c.JSON(status, gin.H{"error": err.Error()})
}
