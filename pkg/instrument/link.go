package instrument

import (
	"visa-instrument/pkg/protocol"
	"visa-instrument/pkg/visa"
)

// link 各类仪器共有的连接管理，协议层方法不对外暴露
type link struct {
	res *visa.Resource
}

func (l link) Open(readTerm, writeTerm string, baudRate int) error {
	return l.res.Open(readTerm, writeTerm, baudRate)
}

func (l link) Close() error { return l.res.Close() }

func (l link) IsOpen() bool { return l.res.IsOpen() }

// ID 查询 *IDN?
func (l link) ID() (string, error) { return l.res.ID() }

// Status 读取并清除事件状态寄存器
func (l link) Status() (uint8, error) {
	v, err := l.res.QueryInt(protocol.CmdEventStatus)
	return uint8(v), err
}
