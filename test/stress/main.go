package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"

	"visa-instrument/pkg/protocol"
	"visa-instrument/pkg/visa"
)

// Prometheus指标
var (
	clientsActive = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "stress_test_clients_active",
		Help: "当前活跃客户端数",
	})

	commandsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "stress_test_commands_total",
			Help: "按类型与结果统计的命令数",
		},
		[]string{"kind", "result"},
	)

	commandDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "stress_test_command_duration_seconds",
			Help:    "命令往返耗时分布",
			Buckets: []float64{.0005, .001, .0025, .005, .01, .025, .05, .1, .25, .5, 1},
		},
		[]string{"kind"},
	)

	connectFailed = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "stress_test_connections_failed_total",
		Help: "连接失败数",
	})
)

func init() {
	prometheus.MustRegister(clientsActive)
	prometheus.MustRegister(commandsTotal)
	prometheus.MustRegister(commandDuration)
	prometheus.MustRegister(connectFailed)
}

// 统计指标
type Stats struct {
	TotalQueries   int64 // 查询数
	TotalWrites    int64 // 写入数
	TotalFailed    int64 // 失败数
	TotalConnected int64 // 总连接数
	ConnectFailed  int64 // 连接失败数
	ActiveClients  int64 // 活跃客户端数
}

// step 单条负载命令
type step struct {
	line  string
	query bool
}

// workloads 各类模拟设备的命令组合
var workloads = map[string][]step{
	"daq": {
		{line: "*IDN?", query: true},
		{line: "ROUT:CLOS (@101,102)"},
		{line: "ROUT:CLOS? (@101,102,103)", query: true},
		{line: "ROUT:OPEN (@101:120)"},
		{line: "ROUT:DONE?", query: true},
		{line: "MEAS:TEMP? TC,K", query: true},
	},
	"vna": {
		{line: "*IDN?", query: true},
		{line: "SENS1:FREQ:STAR 10000000"},
		{line: "SENS1:FREQ:STAR?", query: true},
		{line: "SENS1:SWE:POIN 201"},
		{line: "SENS1:SWE:POIN?", query: true},
		{line: "FORM:DATA?", query: true},
	},
	"psu": {
		{line: "*IDN?", query: true},
		{line: "INST:SEL P6V"},
		{line: "VOLT 3.3"},
		{line: "VOLT?", query: true},
		{line: "MEAS:CURR:DC?", query: true},
		{line: "OUTP:STAT?", query: true},
	},
}

// Client 单个压测客户端
type Client struct {
	ID       int
	Address  string
	Interval time.Duration
	Steps    []step
	Stats    *Stats
	Log      *logrus.Logger
}

// Run 打开资源后按间隔循环发送命令组合
func (c *Client) Run(ctx context.Context, wg *sync.WaitGroup) {
	defer wg.Done()

	res := visa.NewResource(fmt.Sprintf("client-%d", c.ID), c.Address,
		visa.WithDelay(0),
		visa.WithTimeout(5*time.Second),
		visa.WithMaxAttempts(1),
		visa.WithLogger(c.Log),
	)
	if err := res.Open("\n", "\n", 0); err != nil {
		c.Log.Errorf("客户端 %d 连接失败: %v", c.ID, err)
		atomic.AddInt64(&c.Stats.ConnectFailed, 1)
		connectFailed.Inc()
		return
	}
	defer res.Close()

	atomic.AddInt64(&c.Stats.TotalConnected, 1)
	atomic.AddInt64(&c.Stats.ActiveClients, 1)
	clientsActive.Inc()
	defer func() {
		atomic.AddInt64(&c.Stats.ActiveClients, -1)
		clientsActive.Dec()
	}()

	ticker := time.NewTicker(c.Interval)
	defer ticker.Stop()

	// 错开各客户端的起点
	next := rand.Intn(len(c.Steps))
	for {
		select {
		case <-ctx.Done():
			c.Log.Debugf("客户端 %d 停止", c.ID)
			return
		case <-ticker.C:
			s := c.Steps[next%len(c.Steps)]
			next++
			if err := c.exec(res, s); err != nil {
				atomic.AddInt64(&c.Stats.TotalFailed, 1)
				var te *protocol.TransportError
				if errors.As(err, &te) && !te.Timeout() {
					c.Log.Errorf("客户端 %d 连接中断: %v", c.ID, err)
					return
				}
				c.Log.Warnf("客户端 %d 命令 %q 失败: %v", c.ID, s.line, err)
			}
		}
	}
}

func (c *Client) exec(res *visa.Resource, s step) error {
	kind := "write"
	if s.query {
		kind = "query"
	}
	start := time.Now()
	var err error
	if s.query {
		_, err = res.Query(s.line)
		atomic.AddInt64(&c.Stats.TotalQueries, 1)
	} else {
		err = res.Write(s.line)
		atomic.AddInt64(&c.Stats.TotalWrites, 1)
	}
	commandDuration.WithLabelValues(kind).Observe(time.Since(start).Seconds())

	result := "ok"
	if err != nil {
		result = "error"
	}
	commandsTotal.WithLabelValues(kind, result).Inc()
	return err
}

// StressTest 压力测试管理器
type StressTest struct {
	Address     string
	Device      string
	NumClients  int
	Interval    time.Duration
	Duration    time.Duration
	MetricsPort int
	Stats       *Stats
	Log         *logrus.Logger

	metricsServer *http.Server
}

func NewStressTest(address, device string, numClients int, interval, duration time.Duration, metricsPort int) *StressTest {
	log := logrus.New()
	log.SetLevel(logrus.InfoLevel)
	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp: true,
	})

	return &StressTest{
		Address:     address,
		Device:      device,
		NumClients:  numClients,
		Interval:    interval,
		Duration:    duration,
		MetricsPort: metricsPort,
		Stats:       &Stats{},
		Log:         log,
	}
}

func (st *StressTest) startMetricsServer() {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())

	st.metricsServer = &http.Server{
		Addr:    fmt.Sprintf(":%d", st.MetricsPort),
		Handler: mux,
	}

	go func() {
		st.Log.Infof("Prometheus指标服务器启动在 http://localhost:%d/metrics", st.MetricsPort)
		if err := st.metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			st.Log.Errorf("指标服务器错误: %v", err)
		}
	}()
}

// Run 运行压力测试，直到时长到达或 ctx 取消
func (st *StressTest) Run(ctx context.Context) error {
	steps, ok := workloads[st.Device]
	if !ok {
		return fmt.Errorf("未知设备类型: %s", st.Device)
	}

	st.Log.Infof("========================================")
	st.Log.Infof("压力测试开始")
	st.Log.Infof("========================================")
	st.Log.Infof("资源地址:   %s", st.Address)
	st.Log.Infof("设备类型:   %s", st.Device)
	st.Log.Infof("客户端数:   %d", st.NumClients)
	st.Log.Infof("发送间隔:   %v", st.Interval)
	st.Log.Infof("测试时长:   %v", st.Duration)
	st.Log.Infof("========================================")

	if st.MetricsPort > 0 {
		st.startMetricsServer()
		defer st.metricsServer.Close()
	}

	if st.Duration > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, st.Duration)
		defer cancel()
	}

	go st.monitorStats(ctx)

	var wg sync.WaitGroup
	startTime := time.Now()
	for i := 0; i < st.NumClients; i++ {
		client := &Client{
			ID:       i + 1,
			Address:  st.Address,
			Interval: st.Interval,
			Steps:    steps,
			Stats:    st.Stats,
			Log:      st.Log,
		}
		wg.Add(1)
		go client.Run(ctx, &wg)

		// 分批启动，服务器有最大连接数限制
		if (i+1)%10 == 0 {
			time.Sleep(10 * time.Millisecond)
			st.Log.Infof("已启动 %d/%d 客户端...", i+1, st.NumClients)
		}
	}
	st.Log.Infof("所有客户端启动完成，用时: %v", time.Since(startTime))

	wg.Wait()
	st.printFinalStats(time.Since(startTime))
	return nil
}

// monitorStats 定时输出速率
func (st *StressTest) monitorStats(ctx context.Context) {
	ticker := time.NewTicker(5 * time.Second)
	defer ticker.Stop()

	lastTotal := int64(0)
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			total := atomic.LoadInt64(&st.Stats.TotalQueries) + atomic.LoadInt64(&st.Stats.TotalWrites)
			qps := float64(total-lastTotal) / now.Sub(lastTime).Seconds()

			st.Log.Infof("活跃客户端: %d | 总连接: %d | 失败: %d | 已执行: %d | QPS: %.0f",
				atomic.LoadInt64(&st.Stats.ActiveClients),
				atomic.LoadInt64(&st.Stats.TotalConnected),
				atomic.LoadInt64(&st.Stats.TotalFailed),
				total, qps)

			lastTotal = total
			lastTime = now
		}
	}
}

func (st *StressTest) printFinalStats(elapsed time.Duration) {
	queries := atomic.LoadInt64(&st.Stats.TotalQueries)
	writes := atomic.LoadInt64(&st.Stats.TotalWrites)
	failed := atomic.LoadInt64(&st.Stats.TotalFailed)

	st.Log.Infof("========================================")
	st.Log.Infof("压力测试完成")
	st.Log.Infof("========================================")
	st.Log.Infof("总连接数:   %d", atomic.LoadInt64(&st.Stats.TotalConnected))
	st.Log.Infof("连接失败:   %d", atomic.LoadInt64(&st.Stats.ConnectFailed))
	st.Log.Infof("查询数:     %d", queries)
	st.Log.Infof("写入数:     %d", writes)
	st.Log.Infof("失败数:     %d", failed)
	if total := queries + writes; total > 0 {
		st.Log.Infof("成功率:     %.2f%%", float64(total-failed)/float64(total)*100)
		st.Log.Infof("平均QPS:    %.0f", float64(total)/elapsed.Seconds())
	}
	st.Log.Infof("========================================")
}

func main() {
	address := flag.String("address", "TCPIP::localhost::5025::SOCKET", "资源地址")
	device := flag.String("device", "daq", "模拟器设备类型 daq|vna|psu")
	numClients := flag.Int("clients", 8, "客户端数量")
	interval := flag.Duration("interval", 50*time.Millisecond, "命令间隔")
	duration := flag.Duration("duration", 60*time.Second, "测试时长(0表示直到中断)")
	metricsPort := flag.Int("metrics-port", 0, "指标端口(0表示不启动)")
	debug := flag.Bool("debug", false, "调试模式")
	flag.Parse()

	st := NewStressTest(*address, *device, *numClients, *interval, *duration, *metricsPort)
	if *debug {
		st.Log.SetLevel(logrus.DebugLevel)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	err := st.Run(ctx)
	stop()
	if err != nil {
		st.Log.Error(err)
		os.Exit(1)
	}
}
