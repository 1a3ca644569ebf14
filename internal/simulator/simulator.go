// Package simulator 提供模拟的SCPI仪器（DAQ、VNA、PSU），用于在没有硬件时测试客户端。
// 每台模拟仪器是一棵命令树加一个事件状态寄存器，所有连接共享同一状态，由互斥锁串行化。
package simulator

import (
	"errors"
	"fmt"
	"math/rand"
	"strconv"
	"strings"
	"sync"

	"visa-instrument/pkg/protocol"
)

// 支持的设备类型
const (
	DeviceDAQ = "daq"
	DeviceVNA = "vna"
	DevicePSU = "psu"
)

// Options 模拟器参数
type Options struct {
	Device       string
	IDN          string
	NumSlots     int
	NumChannels  int
	NumPorts     int
	SweepPolls   int
	AcquirePolls int
	Seed         int64
}

// DefaultOptions 3槽20通道DAQ / 4端口VNA
func DefaultOptions(device string) Options {
	return Options{
		Device:       device,
		NumSlots:     3,
		NumChannels:  20,
		NumPorts:     4,
		SweepPolls:   2,
		AcquirePolls: 2,
		Seed:         1,
	}
}

// Simulator 一台模拟仪器
type Simulator struct {
	Device string

	mu         sync.Mutex
	dispatcher *Dispatcher
	status     StatusRegister
	rng        *rand.Rand
	reset      func()
}

// New 按 opts.Device 创建模拟器
func New(opts Options) (*Simulator, error) {
	switch strings.ToLower(opts.Device) {
	case DeviceDAQ:
		return NewDAQ(opts), nil
	case DeviceVNA:
		return NewVNA(opts), nil
	case DevicePSU:
		return NewPSU(opts), nil
	}
	return nil, fmt.Errorf("未知的设备类型: %q", opts.Device)
}

func newSimulator(device string, opts Options) *Simulator {
	return &Simulator{
		Device: device,
		rng:    rand.New(rand.NewSource(opts.Seed)),
	}
}

// commonRoot 所有设备共有的公共命令
func (s *Simulator) commonRoot(idn string) Branch {
	return Branch{
		"*IDN": Str(idn),
		"*CLS": Handler(func(params []string, isQuery bool) (string, error) {
			s.status.Clear()
			return "", nil
		}),
		"*RST": Handler(func(params []string, isQuery bool) (string, error) {
			s.status.Clear()
			if s.reset != nil {
				s.reset()
			}
			return "", nil
		}),
		"*OPC": Handler(func(params []string, isQuery bool) (string, error) {
			if isQuery {
				// 阻塞式同步：模拟器中在途操作视为立即完成
				s.status.pending = 0
				return "1", nil
			}
			s.status.ArmOPC()
			return "", nil
		}),
		"*ESR": Handler(func(params []string, isQuery bool) (string, error) {
			if !isQuery {
				return "", &UnknownCommandError{Path: []string{"*ESR"}}
			}
			return strconv.Itoa(int(s.status.Read())), nil
		}),
		"*WAI": Handler(func(params []string, isQuery bool) (string, error) {
			s.status.pending = 0
			return "", nil
		}),
	}
}

// Execute 执行一条已解析的命令，并把失败映射到事件状态寄存器：
// 未知写入置命令错误位，参数错误置执行错误位，未知或无法解析的查询置查询错误位。
func (s *Simulator) Execute(cmd protocol.Command) (reply string, ok bool, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	reply, ok, err = s.dispatcher.ProcessCommand(cmd.Path, cmd.Params, cmd.IsQuery)
	var (
		unknown *UnknownCommandError
		invalid *InvalidValueError
	)
	switch {
	case errors.Is(err, ErrEmptyCommand) && cmd.IsQuery:
		s.status.Flag(protocol.ESRQueryError)
	case errors.As(err, &unknown), errors.Is(err, ErrEmptyCommand):
		s.status.Flag(protocol.ESRCommandError)
	case errors.As(err, &invalid):
		s.status.Flag(protocol.ESRExecutionError)
	case err != nil:
		s.status.Flag(protocol.ESRDeviceError)
	case ok && reply == protocol.SentinelReply:
		s.status.Flag(protocol.ESRQueryError)
	}
	return reply, ok, err
}

// Status 当前事件状态（不清除）
func (s *Simulator) Status() uint8 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status.Peek()
}

// Snapshot 状态树快照
func (s *Simulator) Snapshot() map[string]any {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.dispatcher.Snapshot()
}

// randomTrace [0,1) 均匀分布的模拟测量数据
func (s *Simulator) randomTrace(n int) []float64 {
	out := make([]float64, n)
	for i := range out {
		out[i] = s.rng.Float64()
	}
	return out
}
