package instrument

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"visa-instrument/pkg/protocol"
	"visa-instrument/pkg/visa"
)

// VNA 矢量网络分析仪（PNA 类）
type VNA struct {
	link

	NumPorts int
	// Channel 测量通道，默认1
	Channel int

	PollInterval time.Duration
	AsyncTimeout time.Duration

	format protocol.ArrayFormat
}

func NewVNA(address string, numPorts int, opts ...visa.Option) *VNA {
	return &VNA{
		link:         link{res: visa.NewResource("VNA", address, opts...)},
		NumPorts:     numPorts,
		Channel:      1,
		PollInterval: visa.DefaultPollInterval,
		AsyncTimeout: visa.DefaultAsyncTimeout,
		format:       protocol.FormatASCII,
	}
}

func (v *VNA) sense(suffix string) string {
	return fmt.Sprintf("SENSE%d:%s", v.Channel, suffix)
}

func (v *VNA) writeAsync(cmd string) error {
	return v.res.WriteAsync(cmd, v.PollInterval, v.AsyncTimeout)
}

func (v *VNA) SetStartFreq(hz float64) error {
	return v.res.Write(v.sense(fmt.Sprintf("FREQUENCY:START %.0f", hz)))
}

func (v *VNA) StartFreq() (float64, error) {
	return v.res.QueryFloat(v.sense("FREQUENCY:START?"))
}

func (v *VNA) SetStopFreq(hz float64) error {
	return v.res.Write(v.sense(fmt.Sprintf("FREQUENCY:STOP %.0f", hz)))
}

func (v *VNA) StopFreq() (float64, error) {
	return v.res.QueryFloat(v.sense("FREQUENCY:STOP?"))
}

func (v *VNA) SetCenterFreq(hz float64) error {
	return v.res.Write(v.sense(fmt.Sprintf("FREQUENCY:CENT %.0f", hz)))
}

func (v *VNA) CenterFreq() (float64, error) {
	return v.res.QueryFloat(v.sense("FREQUENCY:CENT?"))
}

func (v *VNA) SetCWFreq(hz float64) error {
	return v.res.Write(v.sense(fmt.Sprintf("FREQUENCY:CW %.0f", hz)))
}

func (v *VNA) CWFreq() (float64, error) {
	return v.res.QueryFloat(v.sense("FREQUENCY:CW?"))
}

func (v *VNA) SetSweepPoints(n int) error {
	return v.res.Write(v.sense(fmt.Sprintf("SWEEP:POINTS %d", n)))
}

func (v *VNA) SweepPoints() (int, error) {
	return v.res.QueryInt(v.sense("SWEEP:POINTS?"))
}

func (v *VNA) SetStepSize(hz float64) error {
	return v.res.Write(v.sense("SWEEP:STEP " + strconv.FormatFloat(hz, 'G', -1, 64)))
}

func (v *VNA) StepSize() (float64, error) {
	return v.res.QueryFloat(v.sense("SWEEP:STEP?"))
}

// SetSweepType LINEAR|LOGARITHMIC|POWER|CW|SEGMENT|PHASE
func (v *VNA) SetSweepType(t string) error {
	return v.res.Write(v.sense("SWEEP:TYPE " + t))
}

func (v *VNA) SweepType() (string, error) {
	return v.res.Query(v.sense("SWEEP:TYPE?"))
}

func (v *VNA) SetBandwidth(hz int) error {
	return v.res.Write(v.sense(fmt.Sprintf("BWID %d", hz)))
}

func (v *VNA) Bandwidth() (int, error) {
	f, err := v.res.QueryFloat(v.sense("BWID?"))
	return int(f), err
}

// SetSweepMode HOLD|CONTINUOUS|GROUPS|SINGLE；SINGLE 会等待扫描完成
func (v *VNA) SetSweepMode(mode string) error {
	return v.writeAsync(v.sense("SWEEP:MODE " + mode))
}

func (v *VNA) SweepMode() (string, error) {
	return v.res.Query(v.sense("SWEEP:MODE?"))
}

// SetupSweep 常用扫描参数
func (v *VNA) SetupSweep(startHz, stopHz float64, points int, sweepType string) error {
	steps := []func() error{
		func() error { return v.SetStartFreq(startHz) },
		func() error { return v.SetStopFreq(stopHz) },
		func() error { return v.SetSweepPoints(points) },
		func() error { return v.SetSweepType(sweepType) },
	}
	for _, step := range steps {
		if err := step(); err != nil {
			return err
		}
	}
	return v.res.SyncCommands(v.PollInterval, v.AsyncTimeout)
}

// CalSets 已保存的校准集
func (v *VNA) CalSets() ([]string, error) {
	reply, err := v.res.Query(v.sense("CORR:CSET:CAT?"))
	if err != nil {
		return nil, err
	}
	reply = strings.Trim(reply, "\"")
	if reply == "" {
		return nil, nil
	}
	return strings.Split(reply, ","), nil
}

func (v *VNA) SetActiveCalSet(calSet string, interpolate, applyStimulus bool) error {
	if err := v.res.Write(v.sense("CORR:INT " + onOff(interpolate))); err != nil {
		return err
	}
	stimulus := "0"
	if applyStimulus {
		stimulus = "1"
	}
	return v.writeAsync(v.sense(fmt.Sprintf("CORR:CSET:ACT '%s',%s", calSet, stimulus)))
}

func (v *VNA) DeleteAllTraces() error {
	return v.writeAsync(fmt.Sprintf("CALC%d:PAR:DEL:ALL", v.Channel))
}

// CreateTrace 定义测量并选中
func (v *VNA) CreateTrace(name, param string) error {
	if err := v.res.Write(fmt.Sprintf("CALC%d:PAR:DEF '%s',%s", v.Channel, name, param)); err != nil {
		return err
	}
	if err := v.SelectTrace(name); err != nil {
		return err
	}
	return v.res.SyncCommands(v.PollInterval, v.AsyncTimeout)
}

func (v *VNA) SelectTrace(name string) error {
	return v.res.Write(fmt.Sprintf("CALC%d:PAR:SEL '%s'", v.Channel, name))
}

func (v *VNA) CreateWindowTrace(window, trace int, name string) error {
	return v.writeAsync(fmt.Sprintf("DISP:WIND%d:TRAC%d:FEED '%s'", window, trace, name))
}

func (v *VNA) SetDisplayWindow(window int, on bool) error {
	return v.writeAsync(fmt.Sprintf("DISP:WIND%d:STATE %s", window, onOff(on)))
}

// SetTriggerSource IMMEDIATE|EXTERNAL|MANUAL
func (v *VNA) SetTriggerSource(source string) error {
	return v.res.Write("TRIG:SOUR " + source)
}

// SetDataFormat 设置 CALC:DATA? 的传输格式与字节序
func (v *VNA) SetDataFormat(f protocol.ArrayFormat) error {
	if err := v.res.Write("FORM:DATA " + f.SCPI()); err != nil {
		return err
	}
	if f.IsBinary() {
		border := "SWAP"
		if f.BigEndian {
			border = "NORM"
		}
		if err := v.res.Write("FORM:BORD " + border); err != nil {
			return err
		}
	}
	v.format = f
	return nil
}

// DataFormat 最近一次 SetDataFormat 的格式
func (v *VNA) DataFormat() protocol.ArrayFormat {
	return v.format
}

// CaptureTrace 读取当前选中测量的格式化数据（FDATA）
func (v *VNA) CaptureTrace() ([]float64, error) {
	return v.res.QueryArray(fmt.Sprintf("CALC%d:DATA? FDATA", v.Channel), v.format, 0)
}

// CaptureComplex 读取复数数据，kind 为 SDATA 或 RDATA
func (v *VNA) CaptureComplex(kind string) ([]complex128, error) {
	return v.res.QueryComplex(fmt.Sprintf("CALC%d:DATA? %s", v.Channel, kind), v.format, 0)
}

// SetupECalibration 配置引导式电子校准。connectors/kits 按端口顺序，
// thruPairs 为空时使用仪器默认的直通组合，否则长度须为偶数。
func (v *VNA) SetupECalibration(connectors, kits []string, thruPairs []int, autoOrient bool) error {
	if len(connectors) != len(kits) {
		return fmt.Errorf("connectors 与 kits 数量不一致: %d != %d", len(connectors), len(kits))
	}
	if len(thruPairs)%2 != 0 {
		return fmt.Errorf("thruPairs 长度须为偶数: %d", len(thruPairs))
	}

	for i, c := range connectors {
		if err := v.res.Write(v.sense(fmt.Sprintf("CORR:COLL:GUID:CONN:PORT%d \"%s\"", i+1, c))); err != nil {
			return err
		}
	}
	for i, k := range kits {
		if err := v.res.Write(v.sense(fmt.Sprintf("CORR:COLL:GUID:CKIT:PORT%d \"%s\"", i+1, k))); err != nil {
			return err
		}
	}
	if err := v.res.Write(v.sense("CORR:PREF:ECAL:ORI " + onOff(autoOrient))); err != nil {
		return err
	}
	if err := v.res.Write(v.sense("CORR:COLL:GUID:INIT")); err != nil {
		return err
	}
	if len(thruPairs) == 0 {
		return nil
	}
	pairs := make([]string, len(thruPairs))
	for i, p := range thruPairs {
		pairs[i] = strconv.Itoa(p)
	}
	if err := v.res.Write(v.sense("CORR:COLL:GUID:THRU:PORTS " + strings.Join(pairs, ","))); err != nil {
		return err
	}
	return v.res.Write(v.sense("CORR:COLL:GUID:INIT"))
}

// ECalSteps 校准总步数
func (v *VNA) ECalSteps() (int, error) {
	return v.res.QueryInt(v.sense("CORR:COLL:GUID:STEPS?"))
}

// ECalStepInfo 第 step 步（0起始）的说明
func (v *VNA) ECalStepInfo(step int) (string, error) {
	reply, err := v.res.Query(v.sense(fmt.Sprintf("CORR:COLL:GUID:DESC? %d", step+1)))
	return strings.Trim(reply, "\""), err
}

// AcquireECalStep 执行第 step 步（0起始）并等待完成
func (v *VNA) AcquireECalStep(step int) error {
	return v.writeAsync(v.sense(fmt.Sprintf("CORR:COLL:GUID:ACQ STAN%d,ASYN", step+1)))
}

// SaveECal name 为空时由仪器命名
func (v *VNA) SaveECal(name string) error {
	if name == "" {
		return v.res.Write(v.sense("CORR:COLL:GUID:SAVE"))
	}
	return v.res.Write(v.sense(fmt.Sprintf("CORR:COLL:GUID:SAVE:CSET \"%s\"", name)))
}

func onOff(on bool) string {
	if on {
		return "ON"
	}
	return "OFF"
}
