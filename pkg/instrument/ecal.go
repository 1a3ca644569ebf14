package instrument

import (
	"errors"
	"time"
)

var ErrNoMoreSteps = errors.New("电子校准步骤已全部完成")

// ECalCursor 逐步执行引导式电子校准：
//
//	cur, _ := vna.ECal(true, "", 0)
//	for cur.HasNext() {
//		desc, _ := cur.PeekDescription()
//		// 按 desc 提示连接 ECal 模块
//		cur.Advance()
//	}
type ECalCursor struct {
	vna      *VNA
	step     int
	total    int
	save     bool
	saveName string
	delay    time.Duration
}

// ECal 开始一次遍历。总步数只在此处查询一次；save 为 true 时最后一步完成后保存校准集。
func (v *VNA) ECal(save bool, saveName string, delay time.Duration) (*ECalCursor, error) {
	total, err := v.ECalSteps()
	if err != nil {
		return nil, err
	}
	return &ECalCursor{
		vna:      v,
		total:    total,
		save:     save,
		saveName: saveName,
		delay:    delay,
	}, nil
}

func (c *ECalCursor) HasNext() bool {
	return c.step < c.total
}

// Step 下一步的序号（0起始）
func (c *ECalCursor) Step() int  { return c.step }
func (c *ECalCursor) Total() int { return c.total }

// PeekDescription 下一步的说明，不改变位置
func (c *ECalCursor) PeekDescription() (string, error) {
	if !c.HasNext() {
		return "", ErrNoMoreSteps
	}
	return c.vna.ECalStepInfo(c.step)
}

// Advance 执行下一步。失败时位置不变，可以重试。
func (c *ECalCursor) Advance() error {
	if !c.HasNext() {
		return ErrNoMoreSteps
	}
	if err := c.vna.AcquireECalStep(c.step); err != nil {
		return err
	}
	time.Sleep(c.delay)
	if c.step == c.total-1 && c.save {
		if err := c.vna.SaveECal(c.saveName); err != nil {
			return err
		}
	}
	c.step++
	return nil
}
