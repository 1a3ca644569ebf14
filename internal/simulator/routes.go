package simulator

import (
	"fmt"
	"strconv"
	"strings"
)

// RouteState 通道所在的列表
type RouteState int

const (
	RouteOpen RouteState = iota
	RouteClosed
)

func (s RouteState) String() string {
	if s == RouteClosed {
		return "CLOSE"
	}
	return "OPEN"
}

// Other 互补的一侧
func (s RouteState) Other() RouteState {
	if s == RouteClosed {
		return RouteOpen
	}
	return RouteClosed
}

// RouteBank 继电器通道的 OPEN/CLOSE 两个有序列表，每个合法通道恰好在其中一个列表里
type RouteBank struct {
	NumSlots    int
	NumChannels int
	open        []string
	closed      []string
}

// NewRouteBank 所有通道初始为断开
func NewRouteBank(numSlots, numChannels int) *RouteBank {
	b := &RouteBank{NumSlots: numSlots, NumChannels: numChannels}
	b.Reset()
	return b
}

// Reset 全部通道回到 OPEN
func (b *RouteBank) Reset() {
	b.open = b.open[:0]
	b.closed = b.closed[:0]
	for s := 1; s <= b.NumSlots; s++ {
		for c := 1; c <= b.NumChannels; c++ {
			b.open = append(b.open, RouteName(s, c))
		}
	}
}

// RouteName 槽位+两位通道号，如 (1,5) -> "105"
func RouteName(slot, channel int) string {
	return fmt.Sprintf("%d%02d", slot, channel)
}

// Valid 三位数字，槽位与通道均在范围内
func (b *RouteBank) Valid(route string) bool {
	_, _, ok := b.split(route)
	return ok
}

func (b *RouteBank) split(route string) (slot, channel int, ok bool) {
	if len(route) != 3 {
		return 0, 0, false
	}
	slot, err := strconv.Atoi(route[:1])
	if err != nil {
		return 0, 0, false
	}
	channel, err = strconv.Atoi(route[1:])
	if err != nil {
		return 0, 0, false
	}
	ok = slot > 0 && slot <= b.NumSlots && channel > 0 && channel <= b.NumChannels
	return slot, channel, ok
}

func (b *RouteBank) list(s RouteState) *[]string {
	if s == RouteClosed {
		return &b.closed
	}
	return &b.open
}

// List 返回某一侧的副本
func (b *RouteBank) List(s RouteState) []string {
	return append([]string{}, *b.list(s)...)
}

// Contains 通道是否在某一侧
func (b *RouteBank) Contains(s RouteState, route string) bool {
	return indexOf(*b.list(s), route) >= 0
}

// Move 把通道移到 to 一侧。非法通道或已在目标侧时不做任何事，返回 false。
func (b *RouteBank) Move(route string, to RouteState) bool {
	if !b.Valid(route) {
		return false
	}
	src := b.list(to.Other())
	i := indexOf(*src, route)
	if i < 0 {
		return false
	}
	*src = append((*src)[:i], (*src)[i+1:]...)
	dst := b.list(to)
	*dst = append(*dst, route)
	return true
}

func indexOf(list []string, v string) int {
	for i, s := range list {
		if s == v {
			return i
		}
	}
	return -1
}

// ParseRouteList 解析 "(@101,102)"、"@101"、"(@101:105)" 形式的通道列表。
// 范围两端必须合法且在同一槽位，否则整个范围被丢弃；单个通道原样返回，由调用方校验。
func (b *RouteBank) ParseRouteList(param string) []string {
	s := strings.NewReplacer("@", "", "(", "", ")", "").Replace(param)
	var out []string
	for _, item := range strings.Split(s, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		from, to, isRange := strings.Cut(item, ":")
		if !isRange {
			out = append(out, item)
			continue
		}
		fs, fc, ok1 := b.split(strings.TrimSpace(from))
		ts, tc, ok2 := b.split(strings.TrimSpace(to))
		if !ok1 || !ok2 || fs != ts || fc > tc {
			continue
		}
		for c := fc; c <= tc; c++ {
			out = append(out, RouteName(fs, c))
		}
	}
	return out
}
