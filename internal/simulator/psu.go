package simulator

import (
	"strconv"
	"strings"
)

// psuOutput 单路输出的量程
type psuOutput struct {
	name             string
	minVolt, maxVolt float64
	maxCurr          float64
}

// E3631A 类三路电源
var psuOutputs = []psuOutput{
	{name: "P6V", minVolt: 0, maxVolt: 6, maxCurr: 5},
	{name: "P25V", minVolt: 0, maxVolt: 25, maxCurr: 1},
	{name: "N25V", minVolt: -25, maxVolt: 0, maxCurr: 1},
}

type psuState struct {
	selected int // 1起始
	outputs  []Branch
}

// NewPSU 模拟的三路直流电源。MEASURE/OUTPUT 作用于 INSTRUMENT:NSELECT 选中的输出。
func NewPSU(opts Options) *Simulator {
	s := newSimulator(DevicePSU, opts)
	if opts.IDN == "" {
		opts.IDN = "Agilent Technologies,E3631A,0,2.1-5.0-1.0"
	}
	p := &psuState{selected: 1}

	root := s.commonRoot(opts.IDN)
	for i, o := range psuOutputs {
		out := Branch{
			"MEASURE": Branch{
				"VOLTAGE": Branch{"DC": Float(0)},
				"CURRENT": Branch{"DC": Float(0)},
			},
			"OUTPUT":  Branch{"STATE": Bool(false)},
			"VOLTAGE": Branch{"MIN": Float(o.minVolt), "MAX": Float(o.maxVolt), "SET": Float(0)},
			"CURRENT": Branch{"MIN": Float(0), "MAX": Float(o.maxCurr), "SET": Float(o.maxCurr)},
		}
		p.outputs = append(p.outputs, out)
		root[strconv.Itoa(i+1)] = out
	}
	root["VOLTAGE"] = p.levelHandler("VOLTAGE", true)
	root["CURRENT"] = p.levelHandler("CURRENT", false)
	root["APPLY"] = p.applyHandler()
	text := Str("")
	root["DISPLAY"] = Branch{
		"TEXT": Branch{
			"DATA": text,
			"CLEAR": Handler(func(params []string, isQuery bool) (string, error) {
				text.SetString("")
				return "", nil
			}),
		},
	}
	root["INSTRUMENT"] = Branch{
		"NSELECT": Handler(func(params []string, isQuery bool) (string, error) {
			if isQuery {
				return strconv.Itoa(p.selected), nil
			}
			return "", p.selectOutput(params)
		}),
		"SELECT": Handler(func(params []string, isQuery bool) (string, error) {
			if isQuery {
				return psuOutputs[p.selected-1].name, nil
			}
			return "", p.selectOutput(params)
		}),
	}

	s.reset = func() {
		p.selected = 1
		for i, out := range p.outputs {
			out["VOLTAGE"].(Branch)["SET"].(*Scalar).SetFloat(0)
			out["CURRENT"].(Branch)["SET"].(*Scalar).SetFloat(psuOutputs[i].maxCurr)
			out["OUTPUT"].(Branch)["STATE"].(*Scalar).SetBool(false)
			out["MEASURE"].(Branch)["VOLTAGE"].(Branch)["DC"].(*Scalar).SetFloat(0)
		}
		text.SetString("")
	}
	s.dispatcher = &Dispatcher{
		Root:    root,
		Aliases: psuAliases,
		Select: func(path []string) Branch {
			if len(path) > 0 && (path[0] == "MEASURE" || path[0] == "OUTPUT") {
				return p.current()
			}
			return nil
		},
	}
	return s
}

func (p *psuState) current() Branch {
	return p.outputs[p.selected-1]
}

// outputIndex 接受 P6V/P25V/N25V、OUTP1 或数字
func outputIndex(param string) (int, bool) {
	v := strings.ToUpper(strings.Trim(strings.TrimSpace(param), "\"'"))
	for i, o := range psuOutputs {
		if v == o.name {
			return i + 1, true
		}
	}
	v = strings.TrimPrefix(v, "OUTP")
	n, err := strconv.Atoi(v)
	if err != nil || n < 1 || n > len(psuOutputs) {
		return 0, false
	}
	return n, true
}

func (p *psuState) selectOutput(params []string) error {
	if len(params) == 0 {
		return &InvalidValueError{Kind: ScalarString}
	}
	n, ok := outputIndex(params[0])
	if !ok {
		return &InvalidValueError{Value: params[0], Kind: ScalarString}
	}
	p.selected = n
	return nil
}

// levelHandler VOLT/CURR：查询可带 MIN|MAX|SET，写入设定值并检查量程
func (p *psuState) levelHandler(key string, isVoltage bool) Handler {
	return func(params []string, isQuery bool) (string, error) {
		return p.level(p.selected, key, isVoltage, params, isQuery)
	}
}

func (p *psuState) level(output int, key string, isVoltage bool, params []string, isQuery bool) (string, error) {
	limits := p.outputs[output-1][key].(Branch)
	if isQuery {
		field := "SET"
		if len(params) > 0 {
			field = strings.ToUpper(strings.TrimSpace(params[0]))
		}
		leaf, ok := limits[field].(*Scalar)
		if !ok {
			return "", &InvalidValueError{Value: field, Kind: ScalarFloat}
		}
		return leaf.String(), nil
	}
	if len(params) == 0 {
		return "", &InvalidValueError{Kind: ScalarFloat}
	}
	raw := strings.ToUpper(strings.TrimSpace(params[0]))
	var v float64
	switch raw {
	case "MIN", "MINIMUM":
		v = limits["MIN"].(*Scalar).Float()
	case "MAX", "MAXIMUM":
		v = limits["MAX"].(*Scalar).Float()
	default:
		f, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return "", &InvalidValueError{Value: raw, Kind: ScalarFloat}
		}
		v = f
	}
	if v < limits["MIN"].(*Scalar).Float() || v > limits["MAX"].(*Scalar).Float() {
		return "", &InvalidValueError{Value: raw, Kind: ScalarFloat}
	}
	limits["SET"].(*Scalar).SetFloat(v)
	if isVoltage {
		p.outputs[output-1]["MEASURE"].(Branch)["VOLTAGE"].(Branch)["DC"].(*Scalar).SetFloat(v)
	}
	return "", nil
}

// applyHandler APPL <output>,<volt>,<curr>；查询返回选中输出的 "volt,curr"
func (p *psuState) applyHandler() Handler {
	return func(params []string, isQuery bool) (string, error) {
		if isQuery {
			out := p.current()
			return "\"" + out["VOLTAGE"].(Branch)["SET"].(*Scalar).String() + "," +
				out["CURRENT"].(Branch)["SET"].(*Scalar).String() + "\"", nil
		}
		if len(params) == 0 {
			return "", &InvalidValueError{Kind: ScalarString}
		}
		n, ok := outputIndex(params[0])
		if !ok {
			return "", &InvalidValueError{Value: params[0], Kind: ScalarString}
		}
		if len(params) > 1 {
			if _, err := p.level(n, "VOLTAGE", true, params[1:2], false); err != nil {
				return "", err
			}
		}
		if len(params) > 2 {
			if _, err := p.level(n, "CURRENT", false, params[2:3], false); err != nil {
				return "", err
			}
		}
		return "", nil
	}
}
