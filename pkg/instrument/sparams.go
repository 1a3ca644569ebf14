package instrument

import (
	"fmt"
	"strconv"
	"strings"

	"visa-instrument/pkg/protocol"
)

// SNPData 多端口 S 参数。S[r][c][k] 为 S(Ports[r],Ports[c]) 在 Freq[k] 处的值。
type SNPData struct {
	Ports []int
	Freq  []float64
	S     [][][]complex128
}

// SESTraceName 单端测量名，端口0起始
func SESTraceName(a, b int) string {
	return fmt.Sprintf("CH1_S%d%d", a+1, b+1)
}

// DiffTraceName 差分测量名，端口对0起始
func DiffTraceName(i, j int) string {
	return fmt.Sprintf("sdd%d%d", i+1, j+1)
}

func (v *VNA) allPorts() []int {
	ports := make([]int, v.NumPorts)
	for i := range ports {
		ports[i] = i
	}
	return ports
}

// SetupSESTraces 为 rows x cols 的每个端口组合建立单端测量并放入显示窗口。
// 端口0起始，rows/cols 为空时使用全部端口。应在设置扫描参数之后调用。
func (v *VNA) SetupSESTraces(rows, cols []int) ([]string, error) {
	if len(rows) == 0 {
		rows = v.allPorts()
	}
	if len(cols) == 0 {
		cols = v.allPorts()
	}
	if err := v.checkPorts(rows); err != nil {
		return nil, err
	}
	if err := v.checkPorts(cols); err != nil {
		return nil, err
	}
	if err := v.DeleteAllTraces(); err != nil {
		return nil, err
	}
	for i := range rows {
		if err := v.SetDisplayWindow(i+1, true); err != nil {
			return nil, err
		}
	}

	names := make([]string, 0, len(rows)*len(cols))
	for i, a := range rows {
		for j, b := range cols {
			name := SESTraceName(a, b)
			if err := v.CreateTrace(name, fmt.Sprintf("S%d%d", a+1, b+1)); err != nil {
				return nil, err
			}
			if err := v.CreateWindowTrace(i+1, j+1, name); err != nil {
				return nil, err
			}
			names = append(names, name)
		}
	}
	return names, v.SetTriggerSource("IMMEDIATE")
}

// CaptureSESTraces 执行一次单次扫描并读取 SetupSESTraces 建立的测量，
// 结果按 [row][col][point] 排列
func (v *VNA) CaptureSESTraces(rows, cols []int) ([][][]complex128, error) {
	if len(rows) == 0 {
		rows = v.allPorts()
	}
	if len(cols) == 0 {
		cols = v.allPorts()
	}
	if err := v.SetSweepMode("SINGLE"); err != nil {
		return nil, err
	}
	out := make([][][]complex128, len(rows))
	for i, a := range rows {
		out[i] = make([][]complex128, len(cols))
		for j, b := range cols {
			data, err := v.captureNamed(SESTraceName(a, b))
			if err != nil {
				return nil, err
			}
			out[i][j] = data
		}
	}
	return out, v.res.Write(protocol.CmdClearStatus)
}

// CaptureTraces 按名称读取测量，kind 为 FDATA 时只有实部
func (v *VNA) CaptureTraces(names []string, kind string) ([][]complex128, error) {
	if err := v.SetSweepMode("SINGLE"); err != nil {
		return nil, err
	}
	out := make([][]complex128, len(names))
	for i, name := range names {
		if err := v.SelectTrace(name); err != nil {
			return nil, err
		}
		if strings.EqualFold(kind, "FDATA") {
			data, err := v.CaptureTrace()
			if err != nil {
				return nil, err
			}
			out[i] = make([]complex128, len(data))
			for k, x := range data {
				out[i][k] = complex(x, 0)
			}
			continue
		}
		data, err := v.CaptureComplex(kind)
		if err != nil {
			return nil, err
		}
		out[i] = data
	}
	return out, v.res.Write(protocol.CmdClearStatus)
}

func (v *VNA) captureNamed(name string) ([]complex128, error) {
	if err := v.SelectTrace(name); err != nil {
		return nil, err
	}
	return v.CaptureComplex("SDATA")
}

// SetupSNPTraces ports x ports 的全部单端测量
func (v *VNA) SetupSNPTraces(ports []int) ([]string, error) {
	return v.SetupSESTraces(ports, ports)
}

// CaptureSNPData 单次扫描后用 CALC:DATA:SNP:PORTS? 一次读取全部端口组合。
// 回复先是 N 个频点，之后每个 S(r,c) 依次为 N 个实部与 N 个虚部。
func (v *VNA) CaptureSNPData(ports []int) (*SNPData, error) {
	if len(ports) == 0 {
		ports = v.allPorts()
	}
	if err := v.checkPorts(ports); err != nil {
		return nil, err
	}
	if err := v.SetSweepMode("SINGLE"); err != nil {
		return nil, err
	}
	if err := v.res.Write("MMEM:STOR:TRAC:FORM:SNP RI"); err != nil {
		return nil, err
	}
	points, err := v.SweepPoints()
	if err != nil {
		return nil, err
	}

	list := make([]string, len(ports))
	for i, p := range ports {
		list[i] = strconv.Itoa(p + 1)
	}
	values, err := v.res.QueryArray(fmt.Sprintf("CALC%d:DATA:SNP:PORTS? \"%s\"", v.Channel, strings.Join(list, ",")), v.format, 0)
	if err != nil {
		return nil, err
	}
	data, err := unpackSNP(values, points, ports)
	if err != nil {
		return nil, err
	}
	return data, v.res.Write(protocol.CmdClearStatus)
}

func unpackSNP(values []float64, points int, ports []int) (*SNPData, error) {
	n := len(ports)
	if want := points + 2*points*n*n; len(values) != want {
		return nil, fmt.Errorf("SNP 数据长度 %d，应为 %d", len(values), want)
	}
	data := &SNPData{
		Ports: append([]int(nil), ports...),
		Freq:  values[:points],
		S:     make([][][]complex128, n),
	}
	for r := 0; r < n; r++ {
		data.S[r] = make([][]complex128, n)
		for c := 0; c < n; c++ {
			re := points + 2*points*n*r + 2*points*c
			im := re + points
			s := make([]complex128, points)
			for k := range s {
				s[k] = complex(values[re+k], values[im+k])
			}
			data.S[r][c] = s
		}
	}
	return data, nil
}

// SetupDiffTraces 平衡-平衡拓扑下建立全部 SDD 测量，相邻两个端口为一个差分对
func (v *VNA) SetupDiffTraces() error {
	pairs := v.NumPorts / 2
	if pairs == 0 {
		return fmt.Errorf("端口数 %d 不足以组成差分对", v.NumPorts)
	}
	calc := fmt.Sprintf("CALC%d:FSIM:BAL", v.Channel)
	if err := v.DeleteAllTraces(); err != nil {
		return err
	}
	if err := v.res.Write(calc + ":DEV BBALANCED"); err != nil {
		return err
	}
	for i := 0; i < pairs*pairs; i++ {
		if err := v.SetDisplayWindow(i+1, true); err != nil {
			return err
		}
	}
	for i := 0; i < pairs; i++ {
		for j := 0; j < pairs; j++ {
			name := DiffTraceName(i, j)
			idx := 2*i + j + 1
			if err := v.CreateTrace(name, fmt.Sprintf("S%d%d", i+1, j+1)); err != nil {
				return err
			}
			if err := v.res.Write(calc + ":PAR:STATE ON"); err != nil {
				return err
			}
			if err := v.res.Write(fmt.Sprintf("%s:PAR:BBAL:DEF '%s'", calc, name)); err != nil {
				return err
			}
			if err := v.CreateWindowTrace(idx, idx, name); err != nil {
				return err
			}
		}
	}

	list := make([]string, v.NumPorts)
	for i := range list {
		list[i] = strconv.Itoa(i + 1)
	}
	if err := v.res.Write(calc + ":TOP:BBAL:PPORTS " + strings.Join(list, ",")); err != nil {
		return err
	}
	return v.SetTriggerSource("IMMEDIATE")
}

// CaptureDiffTraces 读取全部 SDD 测量，按 [i][j][point] 排列
func (v *VNA) CaptureDiffTraces() ([][][]complex128, error) {
	pairs := v.NumPorts / 2
	if err := v.SetSweepMode("SINGLE"); err != nil {
		return nil, err
	}
	out := make([][][]complex128, pairs)
	for i := 0; i < pairs; i++ {
		out[i] = make([][]complex128, pairs)
		for j := 0; j < pairs; j++ {
			data, err := v.captureNamed(DiffTraceName(i, j))
			if err != nil {
				return nil, err
			}
			out[i][j] = data
		}
	}
	return out, nil
}

func (v *VNA) checkPorts(ports []int) error {
	for _, p := range ports {
		if p < 0 || p >= v.NumPorts {
			return fmt.Errorf("端口 %d 超出范围 [0, %d)", p, v.NumPorts)
		}
	}
	return nil
}
