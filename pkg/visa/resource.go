// Package visa 实现SCPI仪器的请求/回复协议引擎：
// 命令间延时、带重试的查询、*OPC/*ESR? 异步完成轮询以及完成查询轮询。
//
// 每个 Resource 独占一条连接，调用之间严格按提交顺序执行，不做流水线。
package visa

import (
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"visa-instrument/pkg/protocol"
)

const (
	DefaultDelay        = 35 * time.Millisecond
	DefaultTimeout      = 2 * time.Second
	DefaultMaxAttempts  = 3
	DefaultPollInterval = 100 * time.Millisecond
	DefaultAsyncTimeout = 300 * time.Second
	DefaultDoneInterval = 15 * time.Millisecond
	DefaultDoneTimeout  = 2 * time.Second
)

// Resource 一条到仪器的连接
type Resource struct {
	Name    string
	Address string

	delay       time.Duration
	timeout     time.Duration
	maxAttempts int
	dial        Dialer
	log         logrus.FieldLogger

	mu        sync.Mutex
	transport Transport
	settings  Settings
}

// Option 资源选项
type Option func(*Resource)

// WithDelay 每次写/查询前的最小命令间延时
func WithDelay(d time.Duration) Option {
	return func(r *Resource) { r.delay = d }
}

// WithTimeout 单次读写的I/O超时
func WithTimeout(d time.Duration) Option {
	return func(r *Resource) { r.timeout = d }
}

// WithMaxAttempts Query 的默认尝试次数
func WithMaxAttempts(n int) Option {
	return func(r *Resource) { r.maxAttempts = n }
}

// WithDialer 替换底层连接方式（测试中接入 net.Pipe）
func WithDialer(d Dialer) Option {
	return func(r *Resource) { r.dial = d }
}

// WithLogger 设置日志
func WithLogger(l logrus.FieldLogger) Option {
	return func(r *Resource) { r.log = l }
}

// NewResource 创建处于关闭状态的资源
func NewResource(name, address string, opts ...Option) *Resource {
	r := &Resource{
		Name:        name,
		Address:     address,
		delay:       DefaultDelay,
		timeout:     DefaultTimeout,
		maxAttempts: DefaultMaxAttempts,
		dial:        DefaultDialer,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("resource", name)
	return r
}

// Delay 命令间延时
func (r *Resource) Delay() time.Duration {
	return r.delay
}

// Open 建立连接。readTerm/writeTerm 为空时使用 "\n"，baudRate 仅对串口有效。
// 已打开时返回 protocol.ErrAlreadyOpen。
func (r *Resource) Open(readTerm, writeTerm string, baudRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport != nil {
		return protocol.ErrAlreadyOpen
	}
	addr, err := ParseAddress(r.Address)
	if err != nil {
		return err
	}
	if readTerm == "" {
		readTerm = protocol.DefaultTerminator
	}
	if writeTerm == "" {
		writeTerm = protocol.DefaultTerminator
	}
	s := Settings{ReadTerm: readTerm, WriteTerm: writeTerm, BaudRate: baudRate, Timeout: r.timeout}

	var transport Transport
	op := func() error {
		conn, err := r.dial(addr, s)
		if err != nil {
			if refused(err) {
				return backoff.Permanent(err)
			}
			return err
		}
		transport = newStreamTransport(conn, s)
		return nil
	}
	if err := backoff.Retry(op, dialBackOff()); err != nil {
		return &protocol.TransportError{Op: "open", Err: errors.Wrapf(err, "打开资源 %s (%s) 失败", r.Name, r.Address)}
	}

	r.transport = transport
	r.settings = s
	r.log.Debugf("已打开 %s", r.Address)
	return nil
}

// Close 尽力发送 *CLS 后释放连接；关闭后需重新 Open 才能使用
func (r *Resource) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport == nil {
		return nil
	}
	if err := r.send(protocol.CmdClearStatus); err != nil {
		r.log.Debugf("关闭前清除状态失败: %v", err)
	} else {
		time.Sleep(r.delay)
	}
	err := r.transport.Close()
	r.transport = nil
	r.log.Debugf("已关闭 %s", r.Address)
	return err
}

// IsOpen 是否已打开
func (r *Resource) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.transport != nil
}

// Write 发送一条不需要回复的命令。失败不重试：重发修改类命令可能被执行两次。
func (r *Resource) Write(cmd string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport == nil {
		return protocol.ErrNotOpen
	}
	return r.send(cmd)
}

// Query 以字符串形式查询，使用默认尝试次数
func (r *Resource) Query(cmd string) (string, error) {
	reply, err := r.QueryAs(cmd, protocol.KindString, 0)
	return reply.Str, err
}

// QueryFloat 查询浮点数
func (r *Resource) QueryFloat(cmd string) (float64, error) {
	reply, err := r.QueryAs(cmd, protocol.KindFloat, 0)
	return reply.Float, err
}

// QueryInt 查询整数
func (r *Resource) QueryInt(cmd string) (int, error) {
	reply, err := r.QueryAs(cmd, protocol.KindInt, 0)
	return int(reply.Int), err
}

// QueryBool 查询布尔值
func (r *Resource) QueryBool(cmd string) (bool, error) {
	reply, err := r.QueryAs(cmd, protocol.KindBool, 0)
	return reply.Bool, err
}

// QueryAs 带重试的查询。传输错误与解码错误都计为一次失败尝试，
// 耗尽后返回 *protocol.QueryFailedError，其 Unwrap 为最后一次的真实错误。
// maxAttempts <= 0 时使用默认值。
func (r *Resource) QueryAs(cmd string, kind protocol.Kind, maxAttempts int) (protocol.Reply, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return queryWith(r, cmd, maxAttempts, func(t Transport) (protocol.Reply, error) {
		line, err := t.ReadLine()
		if err != nil {
			return protocol.Reply{}, err
		}
		return protocol.DecodeScalar(string(line), kind)
	})
}

// QueryArray 查询数值数组，ASCII或二进制块由 format 指定
func (r *Resource) QueryArray(cmd string, format protocol.ArrayFormat, maxAttempts int) ([]float64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	return queryWith(r, cmd, maxAttempts, func(t Transport) ([]float64, error) {
		var (
			data []byte
			err  error
		)
		if format.IsBinary() {
			data, err = t.ReadBlock()
		} else {
			data, err = t.ReadLine()
		}
		if err != nil {
			return nil, err
		}
		return protocol.DecodeArray(data, format)
	})
}

// QueryComplex 查询交错的实部/虚部数组并还原为复数
func (r *Resource) QueryComplex(cmd string, format protocol.ArrayFormat, maxAttempts int) ([]complex128, error) {
	values, err := r.QueryArray(cmd, format, maxAttempts)
	if err != nil {
		return nil, err
	}
	return protocol.Complex(values)
}

// ID 查询 *IDN?
func (r *Resource) ID() (string, error) {
	return r.Query(protocol.CmdIdentify)
}

// QueryOPC 阻塞式同步 (*OPC?)，只适合耗时短于I/O超时的命令
func (r *Resource) QueryOPC() (bool, error) {
	v, err := r.QueryInt(protocol.CmdOperationComplete + "?")
	return v == 1, err
}

// WriteAsync 执行长耗时命令：*CLS、命令、*OPC，然后按 pollInterval 轮询 *ESR?
// 直到完成位置位。任一错误位置位立即返回 *protocol.DeviceError，
// 超时返回 *protocol.CompletionTimeoutError。
//
// *CLS 会取消之前在途的 *OPC，调用方需保证该连接上没有其他异步操作在途；
// Resource 内部的互斥锁保证同一实例上的调用不会交叠。
func (r *Resource) WriteAsync(cmd string, pollInterval, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport == nil {
		return protocol.ErrNotOpen
	}
	c := newCompletion(cmd, r.log)
	if err := r.send(protocol.CmdClearStatus); err != nil {
		return err
	}
	if err := r.send(cmd); err != nil {
		return err
	}
	if err := r.send(protocol.CmdOperationComplete); err != nil {
		return err
	}
	return r.pollESR(c, pollInterval, timeout)
}

// SyncCommands 等待此前排队的命令全部完成（*OPC 后轮询 *ESR?，不发 *CLS）
func (r *Resource) SyncCommands(pollInterval, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport == nil {
		return protocol.ErrNotOpen
	}
	c := newCompletion(protocol.CmdOperationComplete, r.log)
	if err := r.send(protocol.CmdOperationComplete); err != nil {
		return err
	}
	return r.pollESR(c, pollInterval, timeout)
}

// WaitForCompletion 用于不支持 *OPC 的设备（继电器/开关）：
// 按 interval 轮询 doneQuery，直到返回非零数值；超过 timeout 返回 *protocol.TimeoutError。
// 非数值回复视为未完成。
func (r *Resource) WaitForCompletion(doneQuery string, interval, timeout time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.transport == nil {
		return protocol.ErrNotOpen
	}
	if interval <= 0 {
		interval = DefaultDoneInterval
	}
	if timeout <= 0 {
		timeout = DefaultDoneTimeout
	}
	start := time.Now()
	for {
		time.Sleep(interval)
		line, err := r.exchange(doneQuery)
		if err != nil {
			return err
		}
		text := strings.TrimSpace(string(line))
		if v, err := strconv.Atoi(text); err == nil && v != 0 {
			return nil
		}
		if elapsed := time.Since(start); elapsed >= timeout {
			return &protocol.TimeoutError{Query: doneQuery, Elapsed: elapsed}
		}
	}
}

func (r *Resource) pollESR(c *completion, pollInterval, timeout time.Duration) error {
	if pollInterval <= 0 {
		pollInterval = DefaultPollInterval
	}
	if timeout <= 0 {
		timeout = DefaultAsyncTimeout
	}
	deadline := c.started.Add(timeout)
	c.transition(StatePolling)
	for {
		line, err := r.exchange(protocol.CmdEventStatus)
		if err != nil {
			c.transition(StateErrored)
			return err
		}
		c.polls++
		reply, err := protocol.DecodeScalar(string(line), protocol.KindInt)
		if err != nil {
			c.transition(StateErrored)
			return err
		}
		c.esr = uint8(reply.Int)
		if c.esr&protocol.ESRErrorMask != 0 {
			c.transition(StateErrored)
			return &protocol.DeviceError{Command: c.command, ESR: c.esr}
		}
		if c.esr&protocol.ESROperationComplete != 0 {
			c.transition(StateComplete)
			return nil
		}
		remaining := time.Until(deadline)
		if remaining <= 0 {
			c.transition(StateTimedOut)
			return &protocol.CompletionTimeoutError{Command: c.command, Elapsed: c.elapsed(), Polls: c.polls}
		}
		if remaining > pollInterval {
			remaining = pollInterval
		}
		time.Sleep(remaining)
	}
}

func queryWith[T any](r *Resource, cmd string, maxAttempts int, read func(Transport) (T, error)) (T, error) {
	var zero T
	if r.transport == nil {
		return zero, protocol.ErrNotOpen
	}
	if maxAttempts <= 0 {
		maxAttempts = r.maxAttempts
	}
	result, attempts, err := withRetries(maxAttempts, protocol.IsRetryable, func(attempt int) (T, error) {
		if attempt > 1 {
			r.transport.Discard()
		}
		if err := r.send(cmd); err != nil {
			r.log.Warnf("Query attempt %d of %d failed for <%s>: %v", attempt, maxAttempts, cmd, err)
			return zero, err
		}
		v, err := read(r.transport)
		if err != nil {
			r.log.Warnf("Query attempt %d of %d failed for <%s>: %v", attempt, maxAttempts, cmd, err)
			return zero, err
		}
		return v, nil
	})
	if err != nil {
		return zero, &protocol.QueryFailedError{Command: cmd, Attempts: attempts, Err: err}
	}
	r.log.Debugf("QUERY %s -> ok (%d 次尝试)", cmd, attempts)
	return result, nil
}

// send 命令间延时后写入一行，调用方持有锁
func (r *Resource) send(cmd string) error {
	time.Sleep(r.delay)
	r.log.Debugf("WRITE %s", cmd)
	return r.transport.Write([]byte(cmd + r.settings.WriteTerm))
}

// exchange 单次写入并读取一行，不重试
func (r *Resource) exchange(cmd string) ([]byte, error) {
	if err := r.send(cmd); err != nil {
		return nil, err
	}
	return r.transport.ReadLine()
}
