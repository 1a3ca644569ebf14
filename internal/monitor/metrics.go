package monitor

import (
	"context"
	"fmt"
	"net/http"
	"runtime"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
)

var (
	// 连接指标
	ActiveConnections = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "visa_sim_active_connections",
		Help: "当前活跃连接数",
	})

	TotalConnections = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "visa_sim_total_connections",
		Help: "总连接数",
	})

	// 命令指标
	CommandsReceived = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visa_sim_commands_total",
			Help: "收到的SCPI命令数",
		},
		[]string{"device", "kind"},
	)

	CommandErrors = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visa_sim_command_errors_total",
			Help: "命令处理错误数",
		},
		[]string{"device", "reason"},
	)

	BytesReceived = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "visa_sim_bytes_received_total",
		Help: "接收的字节总数",
	})

	BytesSent = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "visa_sim_bytes_sent_total",
		Help: "发送的字节总数",
	})

	// 事件发布
	EventsPublished = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "visa_sim_events_published_total",
			Help: "发布的状态变更事件数",
		},
		[]string{"sink", "result"},
	)

	// 延迟指标
	DispatchDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "visa_sim_dispatch_duration_seconds",
		Help:    "命令分发耗时",
		Buckets: []float64{.00005, .0001, .00025, .0005, .001, .0025, .005, .01, .05},
	})

	// Goroutine指标
	GoroutineCount = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "visa_sim_goroutines",
		Help: "当前Goroutine数量",
	})

	// 内存指标
	MemoryUsage = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "visa_sim_memory_usage_bytes",
		Help: "内存使用量",
	})
)

var registerOnce sync.Once

type Monitor struct {
	log *logrus.Logger
}

// NewMonitor 注册指标（进程内只注册一次）
func NewMonitor(log *logrus.Logger) *Monitor {
	registerOnce.Do(func() {
		prometheus.MustRegister(
			ActiveConnections,
			TotalConnections,
			CommandsReceived,
			CommandErrors,
			BytesReceived,
			BytesSent,
			EventsPublished,
			DispatchDuration,
			GoroutineCount,
			MemoryUsage,
		)
	})

	return &Monitor{log: log}
}

// Handler Prometheus 抓取端点
func (m *Monitor) Handler() http.Handler {
	return promhttp.Handler()
}

// StartMetricsServer 未启用HTTP API时单独提供 /metrics 与 /health
func (m *Monitor) StartMetricsServer(port int) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())

	// 健康检查端点
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("OK"))
	})

	addr := fmt.Sprintf(":%d", port)
	srv := &http.Server{Addr: addr, Handler: mux}
	m.log.Infof("Metrics服务器启动: %s", addr)

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			m.log.Errorf("Metrics服务器错误: %v", err)
		}
	}()
	return srv
}

// StartRuntimeMonitor 启动运行时监控，ctx 取消后退出
func (m *Monitor) StartRuntimeMonitor(ctx context.Context) {
	ticker := time.NewTicker(10 * time.Second)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}
			// 更新Goroutine数量
			GoroutineCount.Set(float64(runtime.NumGoroutine()))

			// 更新内存使用
			var memStats runtime.MemStats
			runtime.ReadMemStats(&memStats)
			MemoryUsage.Set(float64(memStats.Alloc))

			m.log.Debugf("Goroutines: %d, 内存: %.2f MB",
				runtime.NumGoroutine(),
				float64(memStats.Alloc)/1024/1024,
			)
		}
	}()
}
