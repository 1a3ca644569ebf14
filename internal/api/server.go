package api

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"visa-instrument/internal/monitor"
	"visa-instrument/internal/parser"
	"visa-instrument/internal/simulator"
	"visa-instrument/internal/storage"
	"visa-instrument/pkg/protocol"
)

// HistoryReader 可查询历史事件的 sink（Redis）
type HistoryReader interface {
	History(ctx context.Context, device string, n int) ([]*protocol.StateEvent, error)
}

// Server HTTP 控制接口
type Server struct {
	router  *gin.Engine
	sim     *simulator.Simulator
	mon     *monitor.Monitor
	sink    storage.EventSink
	history HistoryReader
	log     *logrus.Logger
	srv     *http.Server
}

// NewServer sink 与 history 可以为 nil
func NewServer(sim *simulator.Simulator, mon *monitor.Monitor, sink storage.EventSink, history HistoryReader, log *logrus.Logger) *Server {
	gin.SetMode(gin.ReleaseMode)
	router := gin.New()
	router.Use(gin.Recovery(), requestLogger(log))

	server := &Server{
		router:  router,
		sim:     sim,
		mon:     mon,
		sink:    sink,
		history: history,
		log:     log,
	}
	server.setupRoutes()
	return server
}

// setupRoutes 设置路由
func (s *Server) setupRoutes() {
	s.router.GET("/health", s.healthCheck)
	if s.mon != nil {
		s.router.GET("/metrics", gin.WrapH(s.mon.Handler()))
	}

	api := s.router.Group("/api/v1")
	{
		api.GET("/state", s.getState)
		api.POST("/command", s.executeCommand)
		api.GET("/events", s.listEvents)
	}
}

// Handler 供测试直接调用
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start 在后台监听
func (s *Server) Start(port int) {
	s.srv = &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: s.router,
	}
	s.log.Infof("HTTP API启动: %s", s.srv.Addr)

	go func() {
		if err := s.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.log.Errorf("HTTP API错误: %v", err)
		}
	}()
}

// Shutdown 关闭HTTP服务
func (s *Server) Shutdown(ctx context.Context) error {
	if s.srv == nil {
		return nil
	}
	return s.srv.Shutdown(ctx)
}

func (s *Server) healthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"device": s.sim.Device,
		"time":   time.Now().Format(time.RFC3339),
	})
}

// getState 状态树快照与当前事件状态
func (s *Server) getState(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"device": s.sim.Device,
		"esr":    s.sim.Status(),
		"state":  s.sim.Snapshot(),
	})
}

// executeCommand 注入一条SCPI命令，效果与TCP连接上收到的相同
func (s *Server) executeCommand(c *gin.Context) {
	var request struct {
		Command string `json:"command" binding:"required"`
	}

	if err := c.ShouldBindJSON(&request); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid request format",
			"details": err.Error(),
		})
		return
	}

	result := parser.NewParser().Parse(request.Command)
	if !result.Success {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "Invalid command",
			"details": result.Error.Error(),
		})
		return
	}
	cmd := *result.Command

	kind := "write"
	if cmd.IsQuery {
		kind = "query"
	}
	monitor.CommandsReceived.WithLabelValues(s.sim.Device, kind).Inc()

	reply, ok, err := s.sim.Execute(cmd)
	if !cmd.IsQuery && s.sink != nil {
		event := &protocol.StateEvent{
			Device:    s.sim.Device,
			Remote:    c.ClientIP(),
			Timestamp: time.Now(),
			Command:   cmd.String(),
			Path:      cmd.Path,
			Params:    cmd.Params,
			Status:    s.sim.Status(),
		}
		if err != nil {
			event.Error = err.Error()
		}
		if perr := s.sink.Publish(c.Request.Context(), event); perr != nil {
			s.log.Errorf("发布事件失败: %v", perr)
		}
	}
	if err != nil {
		monitor.CommandErrors.WithLabelValues(s.sim.Device, "api").Inc()
		c.JSON(http.StatusUnprocessableEntity, gin.H{
			"error":   "Command failed",
			"details": err.Error(),
			"esr":     s.sim.Status(),
		})
		return
	}

	response := gin.H{
		"success": true,
		"command": cmd.String(),
		"esr":     s.sim.Status(),
	}
	if ok {
		response["reply"] = reply
	}
	c.JSON(http.StatusOK, response)
}

// listEvents 最近的状态变更事件
func (s *Server) listEvents(c *gin.Context) {
	if s.history == nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{
			"error": "Event history is not enabled",
		})
		return
	}
	limit, err := strconv.Atoi(c.DefaultQuery("limit", "100"))
	if err != nil || limit <= 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error": "Invalid limit",
		})
		return
	}

	events, err := s.history.History(c.Request.Context(), s.sim.Device, limit)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "Failed to read history",
			"details": err.Error(),
		})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"events": events,
		"total":  len(events),
	})
}

// requestLogger 用 logrus 记录请求
func requestLogger(log *logrus.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		c.Next()
		log.WithFields(logrus.Fields{
			"method":  c.Request.Method,
			"path":    c.Request.URL.Path,
			"status":  c.Writer.Status(),
			"latency": time.Since(start).String(),
		}).Debug("HTTP请求")
	}
}
