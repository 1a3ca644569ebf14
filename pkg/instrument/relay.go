package instrument

import (
	"bufio"
	"bytes"
	"fmt"
	"io"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/ziutek/telnet"

	"visa-instrument/pkg/protocol"
	"visa-instrument/pkg/visa"
)

const (
	DefaultRelayDelay = 20 * time.Millisecond
	DefaultRelayBaud  = 19200
	defaultRelayPort  = "23"
)

// RelayDialer 建立到继电器模块的字节流。tcp 为 true 时返回值须是 net.Conn。
type RelayDialer func(tcp bool, target string, baudRate int, timeout time.Duration) (io.ReadWriteCloser, error)

// RelayOption 继电器选项
type RelayOption func(*Relay)

func WithRelayDialer(d RelayDialer) RelayOption {
	return func(r *Relay) { r.dial = d }
}

func WithRelayTimeout(d time.Duration) RelayOption {
	return func(r *Relay) { r.timeout = d }
}

func WithRelayLogger(l logrus.FieldLogger) RelayOption {
	return func(r *Relay) { r.log = l }
}

// WithRelayLogin 网络型模块的登录账号，password 为空时跳过密码提示
func WithRelayLogin(user, password string) RelayOption {
	return func(r *Relay) { r.user, r.password = user, password }
}

// Relay Numato Lab 继电器模块。地址形如 USB::/dev/ttyACM0 或 TCP::<host>[:port]，
// 不带 :: 的地址视为串口。只有一个槽位，通道0起始。
type Relay struct {
	Name        string
	Address     string
	NumChannels int
	// Delay 每条命令之前的等待
	Delay time.Duration

	user     string
	password string
	timeout  time.Duration
	dial     RelayDialer
	log      logrus.FieldLogger

	mu      sync.Mutex
	conn    relayConn
	newline string
	prompt  string
}

// relayConn 按提示符切分回复
type relayConn interface {
	io.Writer
	ReadUntil(delims ...string) ([]byte, error)
	Close() error
}

func NewRelay(address string, numChannels int, opts ...RelayOption) *Relay {
	r := &Relay{
		Name:        "RELAY",
		Address:     address,
		NumChannels: numChannels,
		Delay:       DefaultRelayDelay,
		user:        "admin",
		password:    "admin",
		timeout:     visa.DefaultTimeout,
		dial:        defaultRelayDialer,
		log:         logrus.StandardLogger(),
	}
	for _, opt := range opts {
		opt(r)
	}
	r.log = r.log.WithField("resource", r.Name)
	return r
}

// parseRelayAddress 返回是否为网络型模块与连接目标
func parseRelayAddress(raw string) (bool, string, error) {
	kind, target := "USB", strings.TrimSpace(raw)
	if i := strings.Index(target, "::"); i >= 0 {
		kind, target = strings.ToUpper(strings.TrimSpace(target[:i])), strings.TrimSpace(target[i+2:])
	}
	if target == "" {
		return false, "", fmt.Errorf("继电器地址缺少目标 %q", raw)
	}
	switch kind {
	case "USB", "ASRL":
		return false, target, nil
	case "TCP", "TCPIP":
		if _, _, err := net.SplitHostPort(target); err != nil {
			target = net.JoinHostPort(target, defaultRelayPort)
		}
		return true, target, nil
	}
	return false, "", fmt.Errorf("不支持的继电器类型 %q", kind)
}

func defaultRelayDialer(tcp bool, target string, baudRate int, timeout time.Duration) (io.ReadWriteCloser, error) {
	if tcp {
		conn, err := net.DialTimeout("tcp", target, timeout)
		if err != nil {
			return nil, errors.Wrapf(err, "连接 %s 失败", target)
		}
		return conn, nil
	}
	addr := visa.Address{Raw: target, Kind: visa.AddressSerial, Target: target}
	return visa.DefaultDialer(addr, visa.Settings{BaudRate: baudRate, Timeout: timeout})
}

// Open 建立连接；网络型模块依次应答 User Name/Password 提示并等待命令提示符。
// baudRate<=0 时使用 19200。
func (r *Relay) Open(baudRate int) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn != nil {
		return protocol.ErrAlreadyOpen
	}
	tcp, target, err := parseRelayAddress(r.Address)
	if err != nil {
		return err
	}
	if baudRate <= 0 {
		baudRate = DefaultRelayBaud
	}
	rwc, err := r.dial(tcp, target, baudRate, r.timeout)
	if err != nil {
		return &protocol.TransportError{Op: "open", Err: errors.Wrapf(err, "打开继电器 %s 失败", r.Address)}
	}

	if !tcp {
		r.conn = &serialRelayConn{rwc: rwc, r: bufio.NewReader(rwc)}
		r.newline, r.prompt = "\n\r", "\n\r>"
		r.log.Debugf("已打开 %s", r.Address)
		return nil
	}

	nc, ok := rwc.(net.Conn)
	if !ok {
		rwc.Close()
		return errors.Errorf("网络型继电器需要 net.Conn，得到 %T", rwc)
	}
	conn, err := telnet.NewConn(nc)
	if err != nil {
		nc.Close()
		return &protocol.TransportError{Op: "open", Err: err}
	}
	r.newline, r.prompt = "\r\n", "\r\n>"
	if err := r.login(conn); err != nil {
		conn.Close()
		return err
	}
	r.conn = conn
	r.log.Debugf("已登录 %s", r.Address)
	return nil
}

func (r *Relay) login(conn *telnet.Conn) error {
	conn.SetReadDeadline(time.Now().Add(r.timeout))
	defer conn.SetReadDeadline(time.Time{})

	if _, err := conn.ReadUntil("User Name: "); err != nil {
		return &protocol.TransportError{Op: "login", Err: err}
	}
	if _, err := conn.Write([]byte(r.user + "\n\r")); err != nil {
		return &protocol.TransportError{Op: "login", Err: err}
	}
	if r.password != "" {
		if _, err := conn.ReadUntil("Password: "); err != nil {
			return &protocol.TransportError{Op: "login", Err: err}
		}
		if _, err := conn.Write([]byte(r.password + "\n\r")); err != nil {
			return &protocol.TransportError{Op: "login", Err: err}
		}
	}
	// 登录失败时模块重新提示用户名
	out, err := conn.ReadUntil(r.prompt, "User Name: ")
	if err != nil {
		return &protocol.TransportError{Op: "login", Err: err}
	}
	if bytes.HasSuffix(out, []byte("User Name: ")) {
		return errors.Errorf("继电器 %s 登录被拒绝", r.Address)
	}
	return nil
}

func (r *Relay) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.conn == nil {
		return nil
	}
	err := r.conn.Close()
	r.conn = nil
	r.log.Debugf("已关闭 %s", r.Address)
	return err
}

func (r *Relay) IsOpen() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.conn != nil
}

// exec 发送一条命令并读到下一个提示符，返回去掉回显与提示符的回复
func (r *Relay) exec(cmd string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.conn == nil {
		return "", protocol.ErrNotOpen
	}
	time.Sleep(r.Delay)
	r.log.Debugf("WRITE %s", cmd)
	if d, ok := r.conn.(interface{ SetDeadline(time.Time) error }); ok {
		d.SetDeadline(time.Now().Add(r.timeout))
		defer d.SetDeadline(time.Time{})
	}
	if _, err := r.conn.Write([]byte(cmd + r.newline)); err != nil {
		return "", &protocol.TransportError{Op: "write", Err: err}
	}
	out, err := r.conn.ReadUntil(r.prompt)
	if err != nil {
		return "", &protocol.TransportError{Op: "read", Err: err}
	}
	out = bytes.TrimSuffix(out, []byte(r.prompt))

	var lines []string
	for _, line := range strings.FieldsFunc(string(out), func(c rune) bool { return c == '\r' || c == '\n' }) {
		line = strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(line), ">"))
		if line == "" || line == cmd {
			continue
		}
		lines = append(lines, line)
	}
	return strings.Join(lines, "\n"), nil
}

func (r *Relay) checkChannel(ch int) error {
	if ch < 0 || ch >= r.NumChannels {
		return fmt.Errorf("通道 %d 超出范围 [0, %d]", ch, r.NumChannels-1)
	}
	return nil
}

// ChannelState 通道闭合返回 true
func (r *Relay) ChannelState(ch int) (bool, error) {
	if err := r.checkChannel(ch); err != nil {
		return false, err
	}
	cmd := fmt.Sprintf("relay read %d", ch)
	reply, err := r.exec(cmd)
	if err != nil {
		return false, err
	}
	switch strings.ToLower(reply) {
	case "on":
		return true, nil
	case "off":
		return false, nil
	}
	return false, &protocol.DecodeError{Input: reply, Reason: "继电器状态不是 on/off"}
}

func (r *Relay) IsChannelClosed(ch int) (bool, error) {
	return r.ChannelState(ch)
}

func (r *Relay) IsChannelOpen(ch int) (bool, error) {
	closed, err := r.ChannelState(ch)
	return !closed, err
}

// SetChannel on 为 true 时闭合通道，之后等待 delay
func (r *Relay) SetChannel(ch int, on bool, delay time.Duration) error {
	if err := r.checkChannel(ch); err != nil {
		return err
	}
	state := "off"
	if on {
		state = "on"
	}
	if _, err := r.exec(fmt.Sprintf("relay %s %d", state, ch)); err != nil {
		return err
	}
	time.Sleep(delay)
	return nil
}

func (r *Relay) OpenChannel(ch int, delay time.Duration) error {
	return r.SetChannel(ch, false, delay)
}

func (r *Relay) CloseChannel(ch int, delay time.Duration) error {
	return r.SetChannel(ch, true, delay)
}

func (r *Relay) OpenChannels(chs []int, delay time.Duration) error {
	for _, ch := range chs {
		if err := r.OpenChannel(ch, delay); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) CloseChannels(chs []int, delay time.Duration) error {
	for _, ch := range chs {
		if err := r.CloseChannel(ch, delay); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) OpenAllChannels(delay time.Duration) error {
	for ch := 0; ch < r.NumChannels; ch++ {
		if err := r.OpenChannel(ch, delay); err != nil {
			return err
		}
	}
	return nil
}

func (r *Relay) CloseAllChannels(delay time.Duration) error {
	for ch := 0; ch < r.NumChannels; ch++ {
		if err := r.CloseChannel(ch, delay); err != nil {
			return err
		}
	}
	return nil
}

// serialRelayConn 串口型模块没有 telnet 协商，直接按分隔符读取
type serialRelayConn struct {
	rwc io.ReadWriteCloser
	r   *bufio.Reader
}

func (c *serialRelayConn) Write(p []byte) (int, error) { return c.rwc.Write(p) }
func (c *serialRelayConn) Close() error                { return c.rwc.Close() }

func (c *serialRelayConn) ReadUntil(delims ...string) ([]byte, error) {
	var out []byte
	for {
		b, err := c.r.ReadByte()
		if err != nil {
			return out, err
		}
		out = append(out, b)
		for _, d := range delims {
			if bytes.HasSuffix(out, []byte(d)) {
				return out, nil
			}
		}
	}
}

func (c *serialRelayConn) SetDeadline(t time.Time) error {
	if d, ok := c.rwc.(interface{ SetDeadline(time.Time) error }); ok {
		return d.SetDeadline(t)
	}
	return nil
}
