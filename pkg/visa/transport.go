package visa

import (
	"bufio"
	"bytes"
	"io"
	"net"
	"time"

	"github.com/pkg/errors"
	"go.bug.st/serial"

	"visa-instrument/pkg/protocol"
)

// Transport 面向行的请求/回复通道
type Transport interface {
	Write(p []byte) error
	// ReadLine 读到读结束符为止，返回值不含结束符
	ReadLine() ([]byte, error)
	// ReadBlock 读取 #<n><len><payload> 二进制块（含帧头）；非块回复按行读取
	ReadBlock() ([]byte, error)
	// Discard 丢弃已缓冲的残留数据
	Discard()
	Close() error
}

// Settings 打开资源时的通道参数
type Settings struct {
	ReadTerm  string
	WriteTerm string
	BaudRate  int
	Timeout   time.Duration
}

// Dialer 建立底层字节流
type Dialer func(addr Address, s Settings) (io.ReadWriteCloser, error)

// DefaultDialer 按地址类型打开TCP或串口
func DefaultDialer(addr Address, s Settings) (io.ReadWriteCloser, error) {
	switch addr.Kind {
	case AddressTCP:
		conn, err := net.DialTimeout("tcp", addr.Target, s.Timeout)
		if err != nil {
			return nil, errors.Wrapf(err, "连接 %s 失败", addr.Target)
		}
		return conn, nil
	case AddressSerial:
		baud := s.BaudRate
		if baud <= 0 {
			baud = 9600
		}
		port, err := serial.Open(addr.Target, &serial.Mode{
			BaudRate: baud,
			DataBits: 8,
			Parity:   serial.NoParity,
			StopBits: serial.OneStopBit,
		})
		if err != nil {
			return nil, errors.Wrapf(err, "打开串口 %s 失败", addr.Target)
		}
		if err := port.SetReadTimeout(s.Timeout); err != nil {
			port.Close()
			return nil, errors.Wrap(err, "设置串口超时失败")
		}
		port.ResetInputBuffer()
		port.ResetOutputBuffer()
		return &serialConn{port: port}, nil
	}
	return nil, errors.Errorf("不支持的地址类型: %s", addr.Raw)
}

// serialTimeoutError 串口读超时（go.bug.st/serial 超时返回 0, nil）
type serialTimeoutError struct{}

func (serialTimeoutError) Error() string { return "串口读取超时" }
func (serialTimeoutError) Timeout() bool { return true }

type serialConn struct {
	port serial.Port
}

func (c *serialConn) Read(p []byte) (int, error) {
	n, err := c.port.Read(p)
	if n == 0 && err == nil {
		return 0, serialTimeoutError{}
	}
	return n, err
}

func (c *serialConn) Write(p []byte) (int, error) { return c.port.Write(p) }
func (c *serialConn) Close() error                { return c.port.Close() }

type deadliner interface {
	SetReadDeadline(t time.Time) error
	SetWriteDeadline(t time.Time) error
}

type streamTransport struct {
	conn     io.ReadWriteCloser
	r        *bufio.Reader
	readTerm []byte
	timeout  time.Duration
}

func newStreamTransport(conn io.ReadWriteCloser, s Settings) *streamTransport {
	return &streamTransport{
		conn:     conn,
		r:        bufio.NewReaderSize(conn, 64*1024),
		readTerm: []byte(s.ReadTerm),
		timeout:  s.Timeout,
	}
}

func (t *streamTransport) Write(p []byte) error {
	if d, ok := t.conn.(deadliner); ok && t.timeout > 0 {
		d.SetWriteDeadline(time.Now().Add(t.timeout))
	}
	if _, err := t.conn.Write(p); err != nil {
		return &protocol.TransportError{Op: "write", Err: err}
	}
	return nil
}

func (t *streamTransport) armRead() {
	if d, ok := t.conn.(deadliner); ok && t.timeout > 0 {
		d.SetReadDeadline(time.Now().Add(t.timeout))
	}
}

func (t *streamTransport) ReadLine() ([]byte, error) {
	t.armRead()
	return t.readLine()
}

func (t *streamTransport) readLine() ([]byte, error) {
	term := t.readTerm
	if len(term) == 0 {
		term = []byte(protocol.DefaultTerminator)
	}
	last := term[len(term)-1]
	var line []byte
	for {
		chunk, err := t.r.ReadBytes(last)
		line = append(line, chunk...)
		if err != nil {
			return nil, &protocol.TransportError{Op: "read", Err: err}
		}
		if bytes.HasSuffix(line, term) {
			return line[:len(line)-len(term)], nil
		}
	}
}

func (t *streamTransport) ReadBlock() ([]byte, error) {
	t.armRead()
	first, err := t.r.Peek(1)
	if err != nil {
		return nil, &protocol.TransportError{Op: "read", Err: err}
	}
	if first[0] != '#' {
		return t.readLine()
	}

	head := make([]byte, 2)
	if _, err := io.ReadFull(t.r, head); err != nil {
		return nil, &protocol.TransportError{Op: "read", Err: err}
	}
	n := int(head[1] - '0')
	if n < 0 || n > 9 {
		return nil, &protocol.DecodeError{Input: string(head), Reason: "帧头位数非法"}
	}
	if n == 0 {
		rest, err := t.readLine()
		if err != nil {
			return nil, err
		}
		return append(head, rest...), nil
	}
	digits := make([]byte, n)
	if _, err := io.ReadFull(t.r, digits); err != nil {
		return nil, &protocol.TransportError{Op: "read", Err: err}
	}
	header := append(head, digits...)
	_, length, err := protocol.ParseBlockHeader(header)
	if err != nil {
		return nil, err
	}
	block := make([]byte, len(header)+length)
	copy(block, header)
	if _, err := io.ReadFull(t.r, block[len(header):]); err != nil {
		return nil, &protocol.TransportError{Op: "read", Err: err}
	}
	// 块后的结束符可选
	if len(t.readTerm) > 0 {
		b, err := t.r.Peek(len(t.readTerm))
		if err != nil {
			// 清掉 bufio 中记录的超时错误，避免影响下一次读取
			t.r.Read(nil)
		} else if bytes.Equal(b, t.readTerm) {
			t.r.Discard(len(t.readTerm))
		}
	}
	return block, nil
}

func (t *streamTransport) Discard() {
	if n := t.r.Buffered(); n > 0 {
		t.r.Discard(n)
	}
}

func (t *streamTransport) Close() error {
	return t.conn.Close()
}
