package protocol

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"math"
	"strconv"
	"strings"
)

// Format 拼接命令头与参数，查询时在命令头后追加 "?"
func Format(verb string, params []string, isQuery bool) string {
	verb = strings.TrimSpace(verb)
	if isQuery && !strings.HasSuffix(verb, "?") {
		verb += "?"
	}
	if len(params) == 0 {
		return verb
	}
	return verb + " " + strings.Join(params, ParamDelimiter)
}

// Encode 生成带结束符的请求行
func Encode(verb string, params []string, isQuery bool, term string) []byte {
	return []byte(Format(verb, params, isQuery) + term)
}

// IsQueryLine 判断原始命令文本是否为查询（命令头以 "?" 结尾）
func IsQueryLine(line string) bool {
	header := strings.TrimSpace(line)
	if i := strings.IndexAny(header, " \t"); i >= 0 {
		header = header[:i]
	}
	return strings.HasSuffix(header, "?")
}

// SplitParams 按顶层逗号切分参数，括号与引号内的逗号保留
func SplitParams(s string) []string {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil
	}
	var (
		out   []string
		cur   strings.Builder
		depth int
		quote rune
	)
	flush := func() {
		out = append(out, strings.TrimSpace(cur.String()))
		cur.Reset()
	}
	for _, r := range s {
		switch {
		case quote != 0:
			if r == quote {
				quote = 0
			}
		case r == '"' || r == '\'':
			quote = r
		case r == '(':
			depth++
		case r == ')':
			if depth > 0 {
				depth--
			}
		case r == ',' && depth == 0:
			flush()
			continue
		}
		cur.WriteRune(r)
	}
	flush()
	return out
}

// DecodeScalar 按目标类型解码一行回复
func DecodeScalar(line string, kind Kind) (Reply, error) {
	text := strings.TrimSpace(line)
	switch kind {
	case KindString:
		return Reply{Kind: KindString, Str: text}, nil
	case KindBool:
		switch strings.ToLower(text) {
		case "0", "false", "no":
			return Reply{Kind: KindBool, Bool: false}, nil
		}
		return Reply{Kind: KindBool, Bool: true}, nil
	case KindInt:
		v, err := strconv.ParseInt(text, 10, 64)
		if err != nil {
			return Reply{}, &DecodeError{Input: text, Reason: "非法整数"}
		}
		return Reply{Kind: KindInt, Int: v}, nil
	case KindFloat:
		v, err := strconv.ParseFloat(text, 64)
		if err != nil {
			return Reply{}, &DecodeError{Input: text, Reason: "非法浮点数"}
		}
		return Reply{Kind: KindFloat, Float: v}, nil
	case KindArray:
		arr, err := DecodeArray([]byte(text), FormatASCII)
		if err != nil {
			return Reply{}, err
		}
		return Reply{Kind: KindArray, Array: arr}, nil
	}
	return Reply{}, &DecodeError{Input: text, Reason: fmt.Sprintf("不支持的类型 %d", kind)}
}

// DecodeArray 解码ASCII逗号分隔或IEEE-754二进制块数组
func DecodeArray(data []byte, format ArrayFormat) ([]float64, error) {
	if !format.IsBinary() {
		return decodeASCIIArray(string(data))
	}
	payload, err := blockPayload(data)
	if err != nil {
		return nil, err
	}
	size := format.ElementSize()
	if len(payload)%size != 0 {
		return nil, &DecodeError{
			Input:  string(payload),
			Reason: fmt.Sprintf("载荷长度 %d 不是元素大小 %d 的整数倍", len(payload), size),
		}
	}
	var order binary.ByteOrder = binary.LittleEndian
	if format.BigEndian {
		order = binary.BigEndian
	}
	out := make([]float64, len(payload)/size)
	for i := range out {
		chunk := payload[i*size : (i+1)*size]
		if size == 4 {
			out[i] = float64(math.Float32frombits(order.Uint32(chunk)))
		} else {
			out[i] = math.Float64frombits(order.Uint64(chunk))
		}
	}
	return out, nil
}

func decodeASCIIArray(text string) ([]float64, error) {
	text = strings.TrimSpace(text)
	if text == "" {
		return []float64{}, nil
	}
	tokens := strings.Split(text, ParamDelimiter)
	out := make([]float64, 0, len(tokens))
	for i, tok := range tokens {
		tok = strings.TrimSpace(tok)
		v, err := strconv.ParseFloat(tok, 64)
		if err != nil {
			return nil, &DecodeError{Input: text, Reason: fmt.Sprintf("第 %d 个元素 %q 非法", i, tok)}
		}
		out = append(out, v)
	}
	return out, nil
}

// blockPayload 去掉 #<n><len> 帧头，声明长度与实际长度不一致时报错。
// 没有帧头时整段数据视为载荷。
func blockPayload(data []byte) ([]byte, error) {
	if len(data) == 0 || data[0] != '#' {
		return data, nil
	}
	headerLen, length, err := ParseBlockHeader(data)
	if err != nil {
		return nil, err
	}
	rest := data[headerLen:]
	if length < 0 {
		// #0 不定长块，以结束符收尾
		return bytes.TrimSuffix(bytes.TrimSuffix(rest, []byte("\n")), []byte("\r")), nil
	}
	if len(rest) < length {
		return nil, &DecodeError{
			Input:  string(data[:headerLen]),
			Reason: fmt.Sprintf("二进制块被截断: 声明 %d 字节, 实际 %d 字节", length, len(rest)),
		}
	}
	if extra := bytes.TrimRight(rest[length:], "\r\n"); len(extra) > 0 {
		return nil, &DecodeError{
			Input:  string(data[:headerLen]),
			Reason: fmt.Sprintf("二进制块长度不符: 声明 %d 字节, 实际 %d 字节", length, length+len(extra)),
		}
	}
	return rest[:length], nil
}

// ParseBlockHeader 解析 #<ndigits><length> 帧头。
// 返回帧头字节数与载荷长度，#0 不定长块的长度为 -1。
func ParseBlockHeader(data []byte) (headerLen int, length int, err error) {
	if len(data) < 2 || data[0] != '#' {
		return 0, 0, &DecodeError{Input: string(data), Reason: "缺少二进制块帧头"}
	}
	n := int(data[1] - '0')
	if n < 0 || n > 9 {
		return 0, 0, &DecodeError{Input: string(data[:2]), Reason: "帧头位数非法"}
	}
	if n == 0 {
		return 2, -1, nil
	}
	if len(data) < 2+n {
		return 0, 0, &DecodeError{Input: string(data), Reason: "帧头不完整"}
	}
	length, err = strconv.Atoi(string(data[2 : 2+n]))
	if err != nil || length < 0 {
		return 0, 0, &DecodeError{Input: string(data[:2+n]), Reason: "帧头长度非法"}
	}
	return 2 + n, length, nil
}

// EncodeBinaryBlock 将数组编码为 #<n><len><payload> 二进制块
func EncodeBinaryBlock(values []float64, format ArrayFormat) ([]byte, error) {
	size := format.ElementSize()
	if size == 0 {
		return nil, fmt.Errorf("格式 %s 不是二进制格式", format.SCPI())
	}
	var order binary.ByteOrder = binary.LittleEndian
	if format.BigEndian {
		order = binary.BigEndian
	}
	payload := make([]byte, len(values)*size)
	for i, v := range values {
		chunk := payload[i*size : (i+1)*size]
		if size == 4 {
			order.PutUint32(chunk, math.Float32bits(float32(v)))
		} else {
			order.PutUint64(chunk, math.Float64bits(v))
		}
	}
	length := strconv.Itoa(len(payload))
	var buf bytes.Buffer
	buf.Grow(2 + len(length) + len(payload))
	buf.WriteByte('#')
	buf.WriteString(strconv.Itoa(len(length)))
	buf.WriteString(length)
	buf.Write(payload)
	return buf.Bytes(), nil
}

// EncodeASCIIArray 按仪器惯用的 %+.6E 格式输出逗号分隔数组
func EncodeASCIIArray(values []float64) string {
	parts := make([]string, len(values))
	for i, v := range values {
		parts[i] = fmt.Sprintf("%+.6E", v)
	}
	return strings.Join(parts, ParamDelimiter)
}

// Complex 交错的实部/虚部还原为复数: c[k] = v[2k] + i*v[2k+1]
func Complex(values []float64) ([]complex128, error) {
	if len(values)%2 != 0 {
		return nil, &DecodeError{Reason: fmt.Sprintf("复数数组长度 %d 不是偶数", len(values))}
	}
	out := make([]complex128, len(values)/2)
	for k := range out {
		out[k] = complex(values[2*k], values[2*k+1])
	}
	return out, nil
}
