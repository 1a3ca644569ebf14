package simulator

import (
	"errors"
	"fmt"
	"strings"
)

// ErrEmptyCommand 空命令路径
var ErrEmptyCommand = errors.New("空命令")

// UnknownCommandError 写入的路径无法解析到叶子
type UnknownCommandError struct {
	Path []string
}

func (e *UnknownCommandError) Error() string {
	return fmt.Sprintf("未知命令: %s", strings.Join(e.Path, ":"))
}

// InvalidValueError 参数无法转换为叶子的类型，或超出允许范围
type InvalidValueError struct {
	Path  []string
	Value string
	Kind  ScalarKind
}

func (e *InvalidValueError) Error() string {
	if len(e.Path) == 0 {
		return fmt.Sprintf("参数 %q 无法转换为 %s", e.Value, e.Kind)
	}
	return fmt.Sprintf("%s: 参数 %q 无法转换为 %s", strings.Join(e.Path, ":"), e.Value, e.Kind)
}
