package simulator

import "visa-instrument/pkg/protocol"

// StatusRegister 模拟的标准事件状态寄存器 (*ESR?)。
// 长耗时操作以“剩余轮询次数”表示：每次读取 ESR 消耗一次，归零后若 *OPC 已武装则置位完成位。
type StatusRegister struct {
	esr     uint8
	pending int
	armed   bool
}

// Clear *CLS：清除事件位并取消在途的 *OPC
func (s *StatusRegister) Clear() {
	s.esr = 0
	s.pending = 0
	s.armed = false
}

// Busy 开始一个需要 polls 次轮询才能完成的操作
func (s *StatusRegister) Busy(polls int) {
	if polls > s.pending {
		s.pending = polls
	}
}

// ArmOPC *OPC：当前无在途操作时立即置位完成位
func (s *StatusRegister) ArmOPC() {
	s.armed = true
	if s.pending == 0 {
		s.complete()
	}
}

// Flag 置位错误位
func (s *StatusRegister) Flag(bit uint8) {
	s.esr |= bit
}

// Idle 没有在途操作
func (s *StatusRegister) Idle() bool {
	return s.pending == 0
}

// Peek 读取但不清除
func (s *StatusRegister) Peek() uint8 {
	return s.esr
}

// Read *ESR?：返回后清零
func (s *StatusRegister) Read() uint8 {
	if s.pending > 0 {
		s.pending--
	} else if s.armed {
		s.complete()
	}
	v := s.esr
	s.esr = 0
	return v
}

func (s *StatusRegister) complete() {
	s.esr |= protocol.ESROperationComplete
	s.armed = false
}
