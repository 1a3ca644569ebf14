package instrument

import (
	"fmt"
	"strings"

	"visa-instrument/pkg/visa"
)

// PSU 多路直流电源（E3631A 类）
type PSU struct {
	link

	// Precision 电压/电流写入时的小数位数
	Precision int
}

func NewPSU(address string, opts ...visa.Option) *PSU {
	return &PSU{
		link:      link{res: visa.NewResource("PSU", address, opts...)},
		Precision: 2,
	}
}

func (p *PSU) format(v float64) string {
	return fmt.Sprintf("%.*f", p.Precision, v)
}

// SetChannel 选择输出，ch 为 P6V/P25V/N25V 或编号
func (p *PSU) SetChannel(ch string) error {
	return p.res.Write("INST:SEL " + ch)
}

func (p *PSU) Channel() (string, error) {
	return p.res.Query("INST:SEL?")
}

// Apply 一次设置指定输出的电压与电流
func (p *PSU) Apply(ch string, volt, curr float64) error {
	return p.res.Write(fmt.Sprintf("APPL %s,%s,%s", ch, p.format(volt), p.format(curr)))
}

func (p *PSU) Enable() error  { return p.SetOutputState(true) }
func (p *PSU) Disable() error { return p.SetOutputState(false) }

func (p *PSU) SetOutputState(on bool) error {
	state := "OFF"
	if on {
		state = "ON"
	}
	return p.res.Write("OUTP:STAT " + state)
}

func (p *PSU) OutputState() (bool, error) {
	return p.res.QueryBool("OUTP:STAT?")
}

func (p *PSU) SetVoltage(v float64) error {
	return p.res.Write("VOLT " + p.format(v))
}

func (p *PSU) Voltage() (float64, error) {
	return p.res.QueryFloat("VOLT?")
}

func (p *PSU) SetCurrentLimit(c float64) error {
	return p.res.Write("CURR " + p.format(c))
}

func (p *PSU) CurrentLimit() (float64, error) {
	return p.res.QueryFloat("CURR?")
}

func (p *PSU) MeasuredVoltage() (float64, error) {
	return p.res.QueryFloat("MEAS:VOLT:DC?")
}

func (p *PSU) MeasuredCurrent() (float64, error) {
	return p.res.QueryFloat("MEAS:CURR:DC?")
}

func (p *PSU) MaxVoltage() (float64, error)      { return p.res.QueryFloat("VOLT? MAX") }
func (p *PSU) MinVoltage() (float64, error)      { return p.res.QueryFloat("VOLT? MIN") }
func (p *PSU) MaxCurrentLimit() (float64, error) { return p.res.QueryFloat("CURR? MAX") }
func (p *PSU) MinCurrentLimit() (float64, error) { return p.res.QueryFloat("CURR? MIN") }

func (p *PSU) SetDisplayText(text string) error {
	return p.res.Write(fmt.Sprintf("DISP:TEXT:DATA \"%s\"", text))
}

func (p *PSU) ClearDisplayText() error {
	return p.res.Write("DISP:TEXT:CLEA")
}

func (p *PSU) DisplayText() (string, error) {
	reply, err := p.res.Query("DISP:TEXT:DATA?")
	return strings.Trim(reply, "\""), err
}
