package simulator

import (
	"strconv"
	"strings"
)

// Node 命令树节点：Branch、*Scalar、*RouteList 或 Handler
type Node interface {
	node()
}

// Branch 中间节点，键为规范化后的命令段
type Branch map[string]Node

// Handler 自行处理读写的叶子。写入时返回的回复被忽略。
type Handler func(params []string, isQuery bool) (string, error)

// ScalarKind 标量叶子的值类型
type ScalarKind int

const (
	ScalarNone ScalarKind = iota
	ScalarString
	ScalarInt
	ScalarFloat
	ScalarBool
)

func (k ScalarKind) String() string {
	switch k {
	case ScalarString:
		return "string"
	case ScalarInt:
		return "int"
	case ScalarFloat:
		return "float"
	case ScalarBool:
		return "bool"
	}
	return "none"
}

// Scalar 带类型的值叶子。写入时参数按已有类型转换；ScalarNone 首次写入后变为字符串。
type Scalar struct {
	Kind ScalarKind
	s    string
	i    int64
	f    float64
	b    bool
}

// RouteList 路由集合视图，指向 RouteBank 的某一侧
type RouteList struct {
	Bank  *RouteBank
	State RouteState
}

func (Branch) node()     {}
func (Handler) node()    {}
func (*Scalar) node()    {}
func (*RouteList) node() {}

func Str(v string) *Scalar    { return &Scalar{Kind: ScalarString, s: v} }
func Int(v int64) *Scalar     { return &Scalar{Kind: ScalarInt, i: v} }
func Float(v float64) *Scalar { return &Scalar{Kind: ScalarFloat, f: v} }
func Bool(v bool) *Scalar     { return &Scalar{Kind: ScalarBool, b: v} }
func None() *Scalar           { return &Scalar{Kind: ScalarNone} }

// Text 查询时的文本形式；ScalarNone 返回 ok=false
func (s *Scalar) Text() (string, bool) {
	switch s.Kind {
	case ScalarString:
		return s.s, true
	case ScalarInt:
		return strconv.FormatInt(s.i, 10), true
	case ScalarFloat:
		return strconv.FormatFloat(s.f, 'G', -1, 64), true
	case ScalarBool:
		if s.b {
			return "1", true
		}
		return "0", true
	}
	return "", false
}

// Value 快照用的Go值
func (s *Scalar) Value() any {
	switch s.Kind {
	case ScalarString:
		return s.s
	case ScalarInt:
		return s.i
	case ScalarFloat:
		return s.f
	case ScalarBool:
		return s.b
	}
	return nil
}

func (s *Scalar) String() string {
	t, _ := s.Text()
	return t
}

func (s *Scalar) Float() float64     { return s.f }
func (s *Scalar) Int() int64         { return s.i }
func (s *Scalar) Bool() bool         { return s.b }
func (s *Scalar) SetString(v string) { s.Kind, s.s = ScalarString, v }
func (s *Scalar) SetFloat(v float64) { s.f = v }
func (s *Scalar) SetInt(v int64)     { s.i = v }
func (s *Scalar) SetBool(v bool)     { s.b = v }

// Assign 按叶子类型转换参数并保存。字符串叶子保存全部参数（以逗号连接）。
func (s *Scalar) Assign(params []string) error {
	if len(params) == 0 {
		return nil
	}
	raw := strings.TrimSpace(params[0])
	switch s.Kind {
	case ScalarNone, ScalarString:
		s.Kind = ScalarString
		s.s = strings.Join(params, ",")
	case ScalarInt:
		v, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			// 仪器通常接受 "201.0" 形式的整数
			f, ferr := strconv.ParseFloat(raw, 64)
			if ferr != nil || f != float64(int64(f)) {
				return &InvalidValueError{Value: raw, Kind: s.Kind}
			}
			v = int64(f)
		}
		s.i = v
	case ScalarFloat:
		v, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return &InvalidValueError{Value: raw, Kind: s.Kind}
		}
		s.f = v
	case ScalarBool:
		v, ok := parseBool(raw)
		if !ok {
			return &InvalidValueError{Value: raw, Kind: s.Kind}
		}
		s.b = v
	}
	return nil
}

func parseBool(s string) (bool, bool) {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "1", "ON", "TRUE", "+1":
		return true, true
	case "0", "OFF", "FALSE", "+0":
		return false, true
	}
	return false, false
}

// snapshot 把树渲染成可JSON序列化的结构，处理函数不输出
func snapshot(n Node) any {
	switch v := n.(type) {
	case Branch:
		out := make(map[string]any, len(v))
		for k, child := range v {
			if _, ok := child.(Handler); ok {
				continue
			}
			out[k] = snapshot(child)
		}
		return out
	case *Scalar:
		return v.Value()
	case *RouteList:
		return v.Bank.List(v.State)
	}
	return nil
}
