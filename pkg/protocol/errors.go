package protocol

import (
	"errors"
	"fmt"
	"time"
)

var (
	// ErrNotOpen 资源未打开
	ErrNotOpen = errors.New("资源未打开")
	// ErrAlreadyOpen 未关闭前再次打开
	ErrAlreadyOpen = errors.New("资源已打开")
)

// TransportError 底层I/O失败
type TransportError struct {
	Op  string
	Err error
}

func (e *TransportError) Error() string {
	return fmt.Sprintf("传输错误 (%s): %v", e.Op, e.Err)
}

func (e *TransportError) Unwrap() error { return e.Err }

// Timeout 读写超时也属于传输错误
func (e *TransportError) Timeout() bool {
	var t interface{ Timeout() bool }
	return errors.As(e.Err, &t) && t.Timeout()
}

// DecodeError 回复与期望的类型或格式不符
type DecodeError struct {
	Input  string
	Reason string
}

func (e *DecodeError) Error() string {
	in := e.Input
	if r := []rune(in); len(r) > 40 {
		in = string(r[:40]) + "..."
	}
	return fmt.Sprintf("解码失败: %s (输入: %q)", e.Reason, in)
}

// DeviceError 异步轮询期间设备报告了错误位
type DeviceError struct {
	Command string
	ESR     uint8
}

func (e *DeviceError) Error() string {
	return fmt.Sprintf("设备报告错误 <%s>: ESR=0x%02X (%s)", e.Command, e.ESR, DescribeESR(e.ESR))
}

// CompletionTimeoutError *OPC 轮询在截止时间前未完成
type CompletionTimeoutError struct {
	Command string
	Elapsed time.Duration
	Polls   int
}

func (e *CompletionTimeoutError) Error() string {
	return fmt.Sprintf("等待 <%s> 完成超时: 已等待 %v, 轮询 %d 次", e.Command, e.Elapsed, e.Polls)
}

// TimeoutError 完成查询轮询超时（无 *OPC 的设备）
type TimeoutError struct {
	Query   string
	Elapsed time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("等待 <%s> 返回完成超时: 已等待 %v", e.Query, e.Elapsed)
}

// QueryFailedError 查询重试耗尽，Unwrap 返回最后一次的真实错误
type QueryFailedError struct {
	Command  string
	Attempts int
	Err      error
}

func (e *QueryFailedError) Error() string {
	return fmt.Sprintf("查询 <%s> 失败 (%d 次尝试): %v", e.Command, e.Attempts, e.Err)
}

func (e *QueryFailedError) Unwrap() error { return e.Err }

// IsRetryable 查询重试只针对瞬时故障
func IsRetryable(err error) bool {
	var te *TransportError
	var de *DecodeError
	return errors.As(err, &te) || errors.As(err, &de)
}

// DescribeESR 列出被置位的错误位
func DescribeESR(esr uint8) string {
	names := []struct {
		bit  uint8
		name string
	}{
		{ESRQueryError, "query"},
		{ESRDeviceError, "device"},
		{ESRExecutionError, "execution"},
		{ESRCommandError, "command"},
	}
	out := ""
	for _, n := range names {
		if esr&n.bit == 0 {
			continue
		}
		if out != "" {
			out += ","
		}
		out += n.name
	}
	if out == "" {
		return "none"
	}
	return out
}
