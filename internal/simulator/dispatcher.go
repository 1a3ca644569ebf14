package simulator

import (
	"errors"
	"strings"

	"visa-instrument/pkg/protocol"
)

// Selector 根据规范化路径选择起始子树，返回 nil 时从根开始
type Selector func(path []string) Branch

// Dispatcher 把命令路由到状态树。本身不加锁，由宿主串行调用。
type Dispatcher struct {
	Root    Branch
	Aliases AliasTable
	Select  Selector
}

// resolution 一次树遍历的结果
type resolution struct {
	path     []string // 规范化后的完整路径
	parent   Branch
	key      string
	node     Node
	consumed int
}

func (d *Dispatcher) resolve(path []string) resolution {
	canon := d.Aliases.CanonicalPath(path)
	head := d.Root
	if d.Select != nil {
		if b := d.Select(canon); b != nil {
			head = b
		}
	}
	r := resolution{path: canon, node: head}
	for _, seg := range canon {
		b, ok := r.node.(Branch)
		if !ok {
			break
		}
		child, ok := b[seg]
		if !ok {
			break
		}
		r.parent, r.key, r.node = b, seg, child
		r.consumed++
	}
	return r
}

// ProcessCommand 执行一条命令。ok=false 表示无回复（写入）。
// 未知查询返回 protocol.SentinelReply；写入无法解析的路径返回 *UnknownCommandError。
func (d *Dispatcher) ProcessCommand(path, params []string, isQuery bool) (reply string, ok bool, err error) {
	if len(path) == 0 || (len(path) == 1 && strings.TrimSpace(path[0]) == "") {
		return "", false, ErrEmptyCommand
	}
	r := d.resolve(path)

	switch n := r.node.(type) {
	case Handler:
		reply, err := n(params, isQuery)
		var ive *InvalidValueError
		if errors.As(err, &ive) && ive.Path == nil {
			ive.Path = r.path
		}
		if err != nil {
			return "", false, err
		}
		if isQuery {
			return reply, true, nil
		}
		return "", false, nil

	case *RouteList:
		if len(params) == 0 {
			if isQuery {
				return protocol.SentinelReply, true, nil
			}
			return "", false, &UnknownCommandError{Path: r.path}
		}
		routes := n.Bank.ParseRouteList(strings.Join(params, ","))
		if isQuery {
			answers := make([]string, len(routes))
			for i, route := range routes {
				if n.Bank.Contains(n.State, route) {
					answers[i] = "1"
				} else {
					answers[i] = "0"
				}
			}
			return strings.Join(answers, ","), true, nil
		}
		for _, route := range routes {
			n.Bank.Move(route, n.State)
		}
		return "", false, nil

	case *Scalar:
		if isQuery {
			text, ok := n.Text()
			if !ok {
				return protocol.SentinelReply, true, nil
			}
			return text, true, nil
		}
		if err := n.Assign(params); err != nil {
			var ive *InvalidValueError
			if errors.As(err, &ive) {
				ive.Path = r.path
			}
			return "", false, err
		}
		return "", false, nil

	case Branch:
		if isQuery {
			// 完整解析到分支且带参数时，参数选择子节点 (VOLT? MAX, CALC:DATA? FDATA)
			if r.consumed == len(r.path) && len(params) > 0 {
				switch c := n[d.Aliases.Canonical(strings.TrimSpace(params[0]))].(type) {
				case *Scalar:
					if text, ok := c.Text(); ok {
						return text, true, nil
					}
				case Handler:
					reply, err := c(params, true)
					if err != nil {
						return "", false, err
					}
					return reply, true, nil
				}
			}
			return protocol.SentinelReply, true, nil
		}
		return "", false, &UnknownCommandError{Path: r.path}
	}
	if isQuery {
		return protocol.SentinelReply, true, nil
	}
	return "", false, &UnknownCommandError{Path: r.path}
}

// Snapshot 当前状态树
func (d *Dispatcher) Snapshot() map[string]any {
	out, _ := snapshot(d.Root).(map[string]any)
	return out
}
