package parser

import (
	"fmt"
	"strings"

	"visa-instrument/pkg/protocol"
)

// 未收到结束符时最多缓存的字节数
const maxPending = 64 * 1024

// Parser 把TCP字节流切分为SCPI命令。每个连接一个实例：不完整的行会保留到下一次 Feed。
type Parser struct {
	pending string
}

func NewParser() *Parser {
	return &Parser{}
}

// Feed 追加数据并返回已完整的命令文本。
// 以 '\n' 结束一行，行内以 ';' 分隔多条命令，'\r' 被忽略，引号内的分隔符不生效。
func (p *Parser) Feed(data []byte) ([]string, error) {
	text := p.pending + strings.ReplaceAll(string(data), "\r", "")
	p.pending = ""

	end := strings.LastIndexByte(text, '\n')
	if end < 0 {
		if len(text) > maxPending {
			return nil, fmt.Errorf("未收到结束符的数据超过 %d 字节，已丢弃", maxPending)
		}
		p.pending = text
		return nil, nil
	}
	p.pending = text[end+1:]
	return splitCommands(text[:end]), nil
}

// Pending 尚未完整的数据
func (p *Parser) Pending() string {
	return p.pending
}

func splitCommands(text string) []string {
	var (
		out   []string
		start int
		quote byte
	)
	for i := 0; i < len(text); i++ {
		c := text[i]
		switch {
		case quote != 0:
			if c == quote {
				quote = 0
			}
		case c == '"' || c == '\'':
			quote = c
		case c == ';' || c == '\n':
			if cmd := strings.TrimSpace(text[start:i]); cmd != "" {
				out = append(out, cmd)
			}
			start = i + 1
		}
	}
	if cmd := strings.TrimSpace(text[start:]); cmd != "" {
		out = append(out, cmd)
	}
	return out
}

// Parse 解析单条命令："<HDR>[:<HDR>...][?] [param[,param...]]"。
// 命令头转为大写，参数保持原样。
func (p *Parser) Parse(line string) *protocol.ParseResult {
	result := &protocol.ParseResult{
		Success: false,
	}

	line = strings.TrimSpace(line)
	header, rest := line, ""
	if i := strings.IndexAny(line, " \t"); i >= 0 {
		header, rest = line[:i], strings.TrimSpace(line[i+1:])
	}
	header = strings.ToUpper(header)

	isQuery := strings.HasSuffix(header, "?")
	header = strings.TrimSuffix(header, "?")
	// 部分客户端把 "?" 放在参数之后
	if !isQuery && strings.HasSuffix(rest, "?") && !strings.ContainsAny(rest, "\"'") {
		isQuery = true
		rest = strings.TrimSpace(strings.TrimSuffix(rest, "?"))
	}
	header = strings.TrimPrefix(header, protocol.PathDelimiter)

	if header == "" {
		result.Error = fmt.Errorf("空命令: %q", line)
		return result
	}

	path := strings.Split(header, protocol.PathDelimiter)
	for _, seg := range path {
		if seg == "" {
			result.Error = fmt.Errorf("命令头格式错误: %q", line)
			return result
		}
	}

	result.Success = true
	result.Command = &protocol.Command{
		Verb:    header,
		Path:    path,
		Params:  protocol.SplitParams(rest),
		IsQuery: isQuery,
	}
	return result
}

// ParseBatch 追加数据并解析所有已完整的命令
func (p *Parser) ParseBatch(data []byte) ([]*protocol.ParseResult, error) {
	lines, err := p.Feed(data)
	results := make([]*protocol.ParseResult, 0, len(lines))
	for _, line := range lines {
		results = append(results, p.Parse(line))
	}
	return results, err
}
