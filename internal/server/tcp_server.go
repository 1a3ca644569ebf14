package server

import (
	"context"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"visa-instrument/internal/config"
	"visa-instrument/internal/handler"
	"visa-instrument/internal/simulator"
	"visa-instrument/internal/storage"
)

type TCPServer struct {
	config   *config.Config
	listener net.Listener
	sim      *simulator.Simulator
	sink     storage.EventSink
	log      *logrus.Logger
	limiter  chan struct{}
	wg       sync.WaitGroup
	mu       sync.Mutex
	cancel   context.CancelFunc
	shutdown chan struct{}
	once     sync.Once
}

// NewTCPServer 所有连接共享同一台模拟器。sink 可以为 nil。
func NewTCPServer(cfg *config.Config, sim *simulator.Simulator, sink storage.EventSink, log *logrus.Logger) *TCPServer {
	maxConn := cfg.Server.MaxConnections
	if maxConn <= 0 {
		maxConn = 1
	}
	return &TCPServer{
		config:   cfg,
		sim:      sim,
		sink:     sink,
		log:      log,
		limiter:  make(chan struct{}, maxConn),
		shutdown: make(chan struct{}),
	}
}

// Start 监听配置的地址并阻塞处理连接，直到 Shutdown
func (s *TCPServer) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.config.Server.Host, s.config.Server.Port)

	lc := net.ListenConfig{
		KeepAlive: s.config.Server.KeepAlive,
	}

	listener, err := lc.Listen(ctx, "tcp", addr)
	if err != nil {
		return fmt.Errorf("监听失败: %w", err)
	}
	return s.Serve(ctx, listener)
}

// Serve 在已有的 listener 上接受连接
func (s *TCPServer) Serve(ctx context.Context, listener net.Listener) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.listener = listener
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	s.log.Infof("模拟器 %s 启动成功: %s (最大连接: %d)", s.sim.Device, listener.Addr(), cap(s.limiter))

	go func() {
		select {
		case <-ctx.Done():
			s.stop()
		case <-s.shutdown:
		}
	}()

	// 接受连接
	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				s.log.Info("停止接受新连接")
				return nil
			default:
				s.log.Errorf("接受连接错误: %v", err)
				time.Sleep(10 * time.Millisecond)
				continue
			}
		}

		// 连接数限制
		select {
		case s.limiter <- struct{}{}:
			s.wg.Add(1)
			go s.handleConnection(ctx, conn)
		default:
			s.log.Warn("达到最大连接数，拒绝连接")
			conn.Close()
		}
	}
}

// Addr 监听地址，未启动时为 nil
func (s *TCPServer) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

func (s *TCPServer) handleConnection(ctx context.Context, conn net.Conn) {
	defer func() {
		<-s.limiter
		s.wg.Done()
	}()

	h := handler.NewConnectionHandler(conn, s.sim, s.sink, s.log, handler.Settings{
		BufferSize:   s.config.Server.BufferSize,
		ReadTimeout:  s.config.Server.ReadTimeout,
		WriteTimeout: s.config.Server.WriteTimeout,
		Terminator:   s.config.Server.Terminator,
	})

	h.Handle(ctx)
}

// stop 关闭监听，只执行一次
func (s *TCPServer) stop() {
	s.once.Do(func() {
		close(s.shutdown)
		s.mu.Lock()
		// 停止接受新连接
		if s.listener != nil {
			s.listener.Close()
		}
		s.mu.Unlock()
	})
}

// Shutdown 停止接受新连接，等待现有连接结束（最多 timeout）
func (s *TCPServer) Shutdown(timeout time.Duration) error {
	s.log.Info("开始优雅关闭...")
	s.stop()
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	// 等待现有连接处理完成
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		s.log.Info("所有连接已关闭")
	case <-time.After(timeout):
		s.log.Warn("关闭超时，强制退出")
		return fmt.Errorf("等待连接关闭超时 (%s)", timeout)
	}

	s.log.Info("服务器已关闭")
	return nil
}
