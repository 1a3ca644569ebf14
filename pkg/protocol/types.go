package protocol

import (
	"strconv"
	"strings"
	"time"
)

// Command 单条SCPI请求
type Command struct {
	Verb    string   `json:"verb"`
	Path    []string `json:"path"`
	Params  []string `json:"params,omitempty"`
	IsQuery bool     `json:"is_query"`
}

// String 还原为线路上的文本（不含结束符）
func (c Command) String() string {
	return Format(c.Verb, c.Params, c.IsQuery)
}

// StateEvent 模拟器状态变更事件
type StateEvent struct {
	Device    string    `json:"device"`
	Remote    string    `json:"remote"`
	Timestamp time.Time `json:"timestamp"`
	Command   string    `json:"command"`
	Path      []string  `json:"path"`
	Params    []string  `json:"params,omitempty"`
	Status    uint8     `json:"status"`
	Error     string    `json:"error,omitempty"`
}

// ParseResult 解析结果
type ParseResult struct {
	Success bool
	Command *Command
	Error   error
}

// 协议常量
const (
	// 事件状态寄存器 (*ESR?)
	ESROperationComplete uint8 = 0x01
	ESRRequestControl    uint8 = 0x02
	ESRQueryError        uint8 = 0x04
	ESRDeviceError       uint8 = 0x08
	ESRExecutionError    uint8 = 0x10
	ESRCommandError      uint8 = 0x20
	ESRUserRequest       uint8 = 0x40
	ESRPowerOn           uint8 = 0x80

	// 命令/执行/设备/查询错误位
	ESRErrorMask uint8 = 0x3C

	// 公共命令
	CmdClearStatus       = "*CLS"
	CmdOperationComplete = "*OPC"
	CmdEventStatus       = "*ESR?"
	CmdIdentify          = "*IDN?"
	CmdReset             = "*RST"

	// 未知查询的哨兵回复
	SentinelReply = "-100"

	PathDelimiter  = ":"
	ParamDelimiter = ","

	DefaultTerminator = "\n"
)

// Kind 回复的目标类型
type Kind int

const (
	KindString Kind = iota
	KindFloat
	KindInt
	KindBool
	KindArray
)

func (k Kind) String() string {
	switch k {
	case KindString:
		return "string"
	case KindFloat:
		return "float"
	case KindInt:
		return "int"
	case KindBool:
		return "bool"
	case KindArray:
		return "array"
	}
	return "unknown"
}

// ParseKind 解析命令行/配置中的类型名
func ParseKind(s string) (Kind, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "str", "string":
		return KindString, true
	case "float", "float64", "double":
		return KindFloat, true
	case "int", "integer":
		return KindInt, true
	case "bool", "boolean":
		return KindBool, true
	case "array", "list":
		return KindArray, true
	}
	return KindString, false
}

// Reply 解码后的查询结果，按Kind取对应字段
type Reply struct {
	Kind  Kind
	Str   string
	Float float64
	Int   int64
	Bool  bool
	Array []float64
}

// String 按类型格式化，供命令行输出
func (r Reply) String() string {
	switch r.Kind {
	case KindFloat:
		return strconv.FormatFloat(r.Float, 'G', -1, 64)
	case KindInt:
		return strconv.FormatInt(r.Int, 10)
	case KindBool:
		return strconv.FormatBool(r.Bool)
	case KindArray:
		return EncodeASCIIArray(r.Array)
	}
	return r.Str
}

// Encoding 数值数组的传输编码
type Encoding int

const (
	EncodingASCII Encoding = iota
	EncodingReal32
	EncodingReal64
)

// ArrayFormat 数组解码参数
type ArrayFormat struct {
	Encoding  Encoding
	BigEndian bool
}

var (
	FormatASCII    = ArrayFormat{Encoding: EncodingASCII}
	FormatReal32BE = ArrayFormat{Encoding: EncodingReal32, BigEndian: true}
	FormatReal64BE = ArrayFormat{Encoding: EncodingReal64, BigEndian: true}
)

// IsBinary 是否为二进制块
func (f ArrayFormat) IsBinary() bool {
	return f.Encoding != EncodingASCII
}

// ElementSize 单个元素字节数（ASCII返回0）
func (f ArrayFormat) ElementSize() int {
	switch f.Encoding {
	case EncodingReal32:
		return 4
	case EncodingReal64:
		return 8
	}
	return 0
}

// SCPI 返回 FORM:DATA 参数，如 "REAL,32"
func (f ArrayFormat) SCPI() string {
	switch f.Encoding {
	case EncodingReal32:
		return "REAL,32"
	case EncodingReal64:
		return "REAL,64"
	}
	return "ASC,0"
}

// ParseArrayFormat 解析 "ascii"、"real"、"real,32"、"REAL,64" 等写法
func ParseArrayFormat(s string, bigEndian bool) (ArrayFormat, bool) {
	v := strings.ToUpper(strings.ReplaceAll(strings.TrimSpace(s), " ", ""))
	switch {
	case v == "" || strings.HasPrefix(v, "ASC"):
		return ArrayFormat{Encoding: EncodingASCII}, true
	case strings.HasPrefix(v, "REAL"):
		if strings.Contains(v, "64") {
			return ArrayFormat{Encoding: EncodingReal64, BigEndian: bigEndian}, true
		}
		return ArrayFormat{Encoding: EncodingReal32, BigEndian: bigEndian}, true
	}
	return ArrayFormat{}, false
}
