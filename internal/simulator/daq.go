package simulator

import (
	"strconv"
)

// NewDAQ 模拟的数据采集/开关主机（34970A 类），通道初始全部断开
func NewDAQ(opts Options) *Simulator {
	s := newSimulator(DeviceDAQ, opts)
	if opts.IDN == "" {
		opts.IDN = "AGILENT TECHNOLOGIES,34970A,0,13-2-2"
	}
	bank := NewRouteBank(opts.NumSlots, opts.NumChannels)

	root := s.commonRoot(opts.IDN)
	root["ROUTE"] = Branch{
		"OPEN":  &RouteList{Bank: bank, State: RouteOpen},
		"CLOSE": &RouteList{Bank: bank, State: RouteClosed},
		// 继电器动作在模拟器中瞬时完成
		"DONE": Str("1"),
	}
	root["MEASURE"] = Branch{
		"TEMPERATURE": s.measureHandler(22.5, 0.5),
		"RHUMIDITY":   s.measureHandler(45, 2),
	}
	s.reset = bank.Reset
	s.dispatcher = &Dispatcher{Root: root, Aliases: daqAliases}
	return s
}

// measureHandler 只读测量，返回 base 附近的随机值
func (s *Simulator) measureHandler(base, spread float64) Handler {
	return func(params []string, isQuery bool) (string, error) {
		if !isQuery {
			return "", &UnknownCommandError{Path: []string{"MEASURE"}}
		}
		v := base + (s.rng.Float64()*2-1)*spread
		return strconv.FormatFloat(v, 'E', 6, 64), nil
	}
}
