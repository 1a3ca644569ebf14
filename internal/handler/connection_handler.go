package handler

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"github.com/sirupsen/logrus"

	"visa-instrument/internal/monitor"
	"visa-instrument/internal/parser"
	"visa-instrument/internal/simulator"
	"visa-instrument/internal/storage"
	"visa-instrument/pkg/protocol"
)

// Settings 连接参数
type Settings struct {
	BufferSize   int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	Terminator   string
}

type ConnectionHandler struct {
	conn     net.Conn
	remote   string
	sim      *simulator.Simulator
	parser   *parser.Parser
	sink     storage.EventSink
	log      *logrus.Logger
	settings Settings
}

// NewConnectionHandler 每个连接一个解析器，模拟器在连接之间共享。sink 可以为 nil。
func NewConnectionHandler(
	conn net.Conn,
	sim *simulator.Simulator,
	sink storage.EventSink,
	log *logrus.Logger,
	settings Settings,
) *ConnectionHandler {
	if settings.BufferSize <= 0 {
		settings.BufferSize = 4096
	}
	if settings.ReadTimeout <= 0 {
		settings.ReadTimeout = 60 * time.Second
	}
	if settings.WriteTimeout <= 0 {
		settings.WriteTimeout = 5 * time.Second
	}
	if settings.Terminator == "" {
		settings.Terminator = protocol.DefaultTerminator
	}

	return &ConnectionHandler{
		conn:     conn,
		remote:   conn.RemoteAddr().String(),
		sim:      sim,
		parser:   parser.NewParser(),
		sink:     sink,
		log:      log,
		settings: settings,
	}
}

// Handle 处理连接，直到对端断开或 ctx 取消
func (h *ConnectionHandler) Handle(ctx context.Context) {
	defer func() {
		h.conn.Close()
		monitor.ActiveConnections.Dec()
		h.log.Infof("连接关闭: %s", h.remote)
	}()

	monitor.ActiveConnections.Inc()
	monitor.TotalConnections.Inc()
	h.log.Infof("新连接: %s -> %s", h.remote, h.sim.Device)

	// ctx 取消时让阻塞中的读取立即返回
	stop := context.AfterFunc(ctx, func() {
		h.conn.SetReadDeadline(time.Now())
	})
	defer stop()

	buffer := make([]byte, h.settings.BufferSize)

	for {
		if ctx.Err() != nil {
			return
		}
		// 设置读取超时
		h.conn.SetReadDeadline(time.Now().Add(h.settings.ReadTimeout))

		n, err := h.conn.Read(buffer)
		if n > 0 {
			// 记录接收字节数
			monitor.BytesReceived.Add(float64(n))
			if perr := h.processData(ctx, buffer[:n]); perr != nil {
				h.log.Debugf("停止处理 [%s]: %v", h.remote, perr)
				return
			}
		}
		if err != nil {
			var netErr net.Error
			if errors.As(err, &netErr) && netErr.Timeout() {
				if ctx.Err() != nil {
					return
				}
				h.log.Debugf("读取超时: %s", h.remote)
				continue
			}
			h.log.Debugf("连接断开: %s, 错误: %v", h.remote, err)
			return
		}
	}
}

// processData 处理接收到的数据，返回的错误表示连接已不可写
func (h *ConnectionHandler) processData(ctx context.Context, data []byte) error {
	lines, err := h.parser.Feed(data)
	if err != nil {
		monitor.CommandErrors.WithLabelValues(h.sim.Device, "overflow").Inc()
		h.log.Warnf("输入缓冲溢出 [%s]: %v", h.remote, err)
	}

	for _, line := range lines {
		if err := h.processLine(ctx, line); err != nil {
			return err
		}
	}
	return nil
}

// processLine 执行一条命令；查询总会得到一行回复
func (h *ConnectionHandler) processLine(ctx context.Context, line string) error {
	startTime := time.Now()

	result := h.parser.Parse(line)
	cmd := protocol.Command{}
	if result.Success {
		cmd = *result.Command
	} else {
		monitor.CommandErrors.WithLabelValues(h.sim.Device, "parse").Inc()
		h.log.Warnf("解析失败 [%s]: %v", h.remote, result.Error)
		// 空路径交给模拟器：写入置命令错误位，查询回复 -100
		cmd.IsQuery = protocol.IsQueryLine(line)
	}

	kind := "write"
	if cmd.IsQuery {
		kind = "query"
	}
	monitor.CommandsReceived.WithLabelValues(h.sim.Device, kind).Inc()

	reply, ok, err := h.sim.Execute(cmd)

	// 记录处理时间
	duration := time.Since(startTime).Seconds()
	monitor.DispatchDuration.Observe(duration)

	if err != nil {
		monitor.CommandErrors.WithLabelValues(h.sim.Device, errorReason(err)).Inc()
		h.log.Warnf("命令执行失败 [%s]: %q: %v", h.remote, line, err)
		if cmd.IsQuery {
			reply, ok = protocol.SentinelReply, true
		}
	}

	if !cmd.IsQuery && result.Success {
		h.publish(ctx, cmd, err)
	}

	h.log.Debugf("命令处理完成 [%s]: %q -> %q, 耗时=%.3fms", h.remote, line, reply, duration*1000)

	if !ok {
		return nil
	}
	return h.SendResponse([]byte(reply + h.settings.Terminator))
}

// publish 把写命令引起的状态变化交给 sink
func (h *ConnectionHandler) publish(ctx context.Context, cmd protocol.Command, execErr error) {
	if h.sink == nil {
		return
	}
	event := &protocol.StateEvent{
		Device:    h.sim.Device,
		Remote:    h.remote,
		Timestamp: time.Now(),
		Command:   cmd.String(),
		Path:      cmd.Path,
		Params:    cmd.Params,
		Status:    h.sim.Status(),
	}
	if execErr != nil {
		event.Error = execErr.Error()
	}
	if err := h.sink.Publish(ctx, event); err != nil {
		h.log.Errorf("发布事件失败 [%s]: %v", h.remote, err)
	}
}

func errorReason(err error) string {
	var (
		unknown *simulator.UnknownCommandError
		invalid *simulator.InvalidValueError
	)
	switch {
	case errors.Is(err, simulator.ErrEmptyCommand):
		return "empty"
	case errors.As(err, &unknown):
		return "unknown"
	case errors.As(err, &invalid):
		return "invalid_value"
	}
	return "execution"
}

// SendResponse 发送响应
func (h *ConnectionHandler) SendResponse(data []byte) error {
	h.conn.SetWriteDeadline(time.Now().Add(h.settings.WriteTimeout))

	n, err := h.conn.Write(data)
	if err != nil {
		return fmt.Errorf("发送响应失败: %w", err)
	}
	monitor.BytesSent.Add(float64(n))

	h.log.Debugf("发送响应 [%s]: %d 字节", h.remote, n)
	return nil
}
