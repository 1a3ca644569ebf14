package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"visa-instrument/internal/api"
	"visa-instrument/internal/config"
	"visa-instrument/internal/monitor"
	"visa-instrument/internal/server"
	"visa-instrument/internal/simulator"
	"visa-instrument/internal/storage"
)

var (
	Version   = "1.0.0"
	BuildTime = "unknown"
)

func main() {
	// 命令行参数
	configFile := flag.String("config", "configs/config.yaml", "配置文件路径")
	device := flag.String("device", "", "模拟设备类型 daq|vna|psu，覆盖配置文件")
	port := flag.Int("port", 0, "监听端口，覆盖配置文件")
	showVersion := flag.Bool("version", false, "显示版本信息")
	flag.Parse()

	// 显示版本
	if *showVersion {
		fmt.Printf("VISA Instrument Simulator v%s (Build: %s)\n", Version, BuildTime)
		os.Exit(0)
	}

	// 加载配置
	cfg, err := config.LoadConfig(*configFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "加载配置失败: %v\n", err)
		cfg = config.GetDefaultConfig()
		cfg.ApplyEnv()
		fmt.Println("使用默认配置")
	}
	if *device != "" {
		cfg.Simulator.Device = *device
	}
	if *port > 0 {
		cfg.Server.Port = *port
	}

	// 初始化日志
	log := setupLogger(cfg.Log)
	log.Infof("VISA Instrument Simulator v%s 启动中...", Version)
	log.Infof("配置文件: %s", *configFile)

	sim, err := simulator.New(simulator.Options{
		Device:       cfg.Simulator.Device,
		IDN:          cfg.Simulator.IDN,
		NumSlots:     cfg.Simulator.NumSlots,
		NumChannels:  cfg.Simulator.NumChannels,
		NumPorts:     cfg.Simulator.NumPorts,
		SweepPolls:   cfg.Simulator.SweepPolls,
		AcquirePolls: cfg.Simulator.AcquirePolls,
		Seed:         cfg.Simulator.Seed,
	})
	if err != nil {
		log.Fatalf("创建模拟器失败: %v", err)
	}

	sink, history := setupSinks(cfg, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 启动监控
	mon := monitor.NewMonitor(log)
	if cfg.Monitor.Enabled {
		mon.StartRuntimeMonitor(ctx)
	}

	var apiServer *api.Server
	if cfg.API.Enabled {
		apiServer = api.NewServer(sim, mon, sink, history, log)
		apiServer.Start(cfg.API.Port)
	} else if cfg.Monitor.Enabled {
		mon.StartMetricsServer(cfg.Monitor.MetricsPort)
	}

	srv := server.NewTCPServer(cfg, sim, sink, log)

	// 优雅退出处理
	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		sig := <-sigChan
		log.Infof("收到信号: %v, 开始优雅关闭...", sig)

		if err := srv.Shutdown(30 * time.Second); err != nil {
			log.Warn(err)
		}
		cancel()
	}()

	if err := srv.Start(ctx); err != nil {
		log.Fatalf("启动服务器失败: %v", err)
	}

	if apiServer != nil {
		shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
		apiServer.Shutdown(shutdownCtx)
		done()
	}
	// 关闭存储连接
	if sink != nil {
		if err := sink.Close(); err != nil {
			log.Errorf("关闭存储连接失败: %v", err)
		}
	}
	log.Info("服务器已关闭")
}

// setupSinks 按配置连接 Redis / MQTT，连接失败时仅告警
func setupSinks(cfg *config.Config, log *logrus.Logger) (storage.EventSink, api.HistoryReader) {
	var (
		sinks   storage.Fanout
		history api.HistoryReader
	)
	if cfg.Redis.Enabled {
		mq, err := storage.NewMessageQueue(
			cfg.Redis.Addr,
			cfg.Redis.Password,
			cfg.Redis.Channel,
			cfg.Redis.DB,
			cfg.Redis.PoolSize,
			cfg.Redis.History,
			log,
		)
		if err != nil {
			log.Warnf("Redis不可用，不记录事件历史: %v", err)
		} else {
			sinks = append(sinks, mq)
			history = mq
		}
	}
	if cfg.MQTT.Enabled {
		pub, err := storage.NewMQTTPublisher(
			cfg.MQTT.Broker,
			cfg.MQTT.ClientID,
			cfg.MQTT.Username,
			cfg.MQTT.Password,
			cfg.MQTT.Topic,
			cfg.MQTT.QoS,
			log,
		)
		if err != nil {
			log.Warnf("MQTT不可用，不发布事件: %v", err)
		} else {
			sinks = append(sinks, pub)
		}
	}
	if len(sinks) == 0 {
		return nil, history
	}
	return sinks, history
}

func setupLogger(cfg config.LogConfig) *logrus.Logger {
	log := logrus.New()

	// 设置日志级别
	level, err := logrus.ParseLevel(cfg.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	log.SetLevel(level)

	// 设置日志格式
	if cfg.Format == "json" {
		log.SetFormatter(&logrus.JSONFormatter{
			TimestampFormat: "2006-01-02 15:04:05",
		})
	} else {
		log.SetFormatter(&logrus.TextFormatter{
			FullTimestamp:   true,
			TimestampFormat: "2006-01-02 15:04:05",
		})
	}

	// 设置输出
	if cfg.Output == "file" && cfg.FilePath != "" {
		file, err := os.OpenFile(cfg.FilePath, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err == nil {
			log.SetOutput(file)
		} else {
			log.Warnf("打开日志文件失败: %v, 使用标准输出", err)
		}
	}

	return log
}
