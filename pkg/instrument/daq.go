// Package instrument 各类仪器的便捷封装，内部持有 visa.Resource，只暴露该类仪器相关的操作
package instrument

import (
	"fmt"
	"time"

	"visa-instrument/pkg/visa"
)

// DAQ 数据采集/开关主机（34970A 类），通道号格式 SCC
type DAQ struct {
	link

	NumSlots    int
	NumChannels int
	// ChannelDigits 通道号位数，默认2（SCC）
	ChannelDigits int
}

// NewDAQ 创建未打开的DAQ
func NewDAQ(address string, numSlots, numChannels int, opts ...visa.Option) *DAQ {
	return &DAQ{
		link:          link{res: visa.NewResource("DAQ", address, opts...)},
		NumSlots:      numSlots,
		NumChannels:   numChannels,
		ChannelDigits: 2,
	}
}

// Channel 由槽位与通道号（均1起始）组成路由名
func (d *DAQ) Channel(slot, ch int) string {
	digits := d.ChannelDigits
	if digits <= 0 {
		digits = 2
	}
	return fmt.Sprintf("%d%0*d", slot, digits, ch)
}

func (d *DAQ) IsChannelClosed(channel string) (bool, error) {
	reply, err := d.res.Query(fmt.Sprintf("ROUT:CLOS? (@%s)", channel))
	if err != nil {
		return false, err
	}
	return reply == "1", nil
}

func (d *DAQ) IsChannelOpen(channel string) (bool, error) {
	closed, err := d.IsChannelClosed(channel)
	return !closed, err
}

// OpenAllChannels 用一条范围命令断开整个槽位
func (d *DAQ) OpenAllChannels(slot int, delay time.Duration) error {
	first, last := d.Channel(slot, 1), d.Channel(slot, d.NumChannels)
	if err := d.res.Write(fmt.Sprintf("ROUT:OPEN (@%s:%s)", first, last)); err != nil {
		return err
	}
	time.Sleep(delay)
	return nil
}

// CloseAllChannels 逐个闭合，避免同时闭合引起的大电流
func (d *DAQ) CloseAllChannels(slot int, delay time.Duration) error {
	for ch := 1; ch <= d.NumChannels; ch++ {
		if err := d.CloseChannel(d.Channel(slot, ch), delay); err != nil {
			return err
		}
	}
	return nil
}

func (d *DAQ) OpenChannels(channels []string, delay time.Duration) error {
	for _, ch := range channels {
		if err := d.OpenChannel(ch, delay); err != nil {
			return err
		}
	}
	return nil
}

func (d *DAQ) CloseChannels(channels []string, delay time.Duration) error {
	for _, ch := range channels {
		if err := d.CloseChannel(ch, delay); err != nil {
			return err
		}
	}
	return nil
}

func (d *DAQ) OpenChannel(channel string, delay time.Duration) error {
	if err := d.res.Write(fmt.Sprintf("ROUT:OPEN (@%s)", channel)); err != nil {
		return err
	}
	time.Sleep(delay)
	return nil
}

func (d *DAQ) CloseChannel(channel string, delay time.Duration) error {
	if err := d.res.Write(fmt.Sprintf("ROUT:CLOS (@%s)", channel)); err != nil {
		return err
	}
	time.Sleep(delay)
	return nil
}

// MeasureTemperature probe 如 TC/RTD/THER，probeType 如 K/85/5000
func (d *DAQ) MeasureTemperature(probe, probeType string) (float64, error) {
	return d.res.QueryFloat(fmt.Sprintf("MEAS:TEMP? %s,%s", probe, probeType))
}

func (d *DAQ) MeasureRelativeHumidity(probe, probeType string) (float64, error) {
	return d.res.QueryFloat(fmt.Sprintf("MEAS:RHUM? %s,%s", probe, probeType))
}

// WaitForCompletion 轮询 ROUT:DONE? 直到继电器动作完成
func (d *DAQ) WaitForCompletion(timeout time.Duration) error {
	return d.res.WaitForCompletion("ROUT:DONE?", visa.DefaultDoneInterval, timeout)
}
