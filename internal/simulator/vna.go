package simulator

import (
	"fmt"
	"strconv"
	"strings"

	"visa-instrument/pkg/protocol"
)

// vnaState VNA处理函数共享的状态
type vnaState struct {
	numPorts int
	points   *Scalar
	start    *Scalar
	stop     *Scalar
	mode     string
	format   protocol.ArrayFormat
	snp      *Scalar

	thru     *Scalar
	steps    int
	acquired int
	calSets  *Scalar
}

// NewVNA 模拟的矢量网络分析仪（PNA 类）
func NewVNA(opts Options) *Simulator {
	s := newSimulator(DeviceVNA, opts)
	if opts.IDN == "" {
		opts.IDN = "Keysight Technologies,N5225B,MY00000000,A.13.95.09"
	}
	v := &vnaState{numPorts: opts.NumPorts}
	v.init()

	root := s.commonRoot(opts.IDN)
	root["SENSE"] = Branch{
		"FREQUENCY": Branch{
			"START":  v.start,
			"STOP":   v.stop,
			"CENTER": Float(5e8),
			"CW":     Float(5e8),
		},
		"SWEEP": Branch{
			"POINTS": v.points,
			"STEP":   Float(100),
			"TYPE":   Str("LINEAR"),
			"POWER":  Float(10),
			"MODE":   s.sweepModeHandler(v, opts.SweepPolls),
		},
		"BANDWIDTH": Float(1000),
		"CORRECTION": Branch{
			"CSET": Branch{
				"ACTIVATE": s.busyHandler(Str(""), opts.SweepPolls),
				"CATALOG":  v.calSets,
			},
			"COLLECTION": Branch{
				"GUIDED": s.guidedTree(v, opts.AcquirePolls),
			},
			"INTERPOLATE": Bool(true),
			"PREFERENCE": Branch{
				"ECAL": Branch{"ORIENTATION": Bool(true)},
			},
		},
	}
	root["CALCULATE"] = Branch{
		"PARAMETER": Branch{
			"DELETE": Branch{
				"ALL": Handler(func(params []string, isQuery bool) (string, error) {
					return "", nil
				}),
			},
			"DEFINE": Str("'sdd11',S11"),
			"SELECT": Str("'sdd11'"),
		},
		"FSIMULATOR": Branch{
			"BALUN": Branch{
				"DEVICE": None(),
				"TOPOLOGY": Branch{
					"BBALANCED": Branch{"PPORTS": Str("1,2,3,4")},
				},
				"PARAMETER": Branch{
					"STATE":     Bool(true),
					"BBALANCED": Branch{"DEFINE": Str("SDD11")},
				},
			},
		},
		"DATA": Branch{
			"FDATA":   s.traceDataHandler(v),
			"SDATA":   s.traceDataHandler(v),
			"RDATA":   s.traceDataHandler(v),
			"FMEMORY": s.traceDataHandler(v),
			"SMEMORY": s.traceDataHandler(v),
			"SNP":     Branch{"PORTS": s.snpDataHandler(v)},
		},
	}
	root["MMEMORY"] = Branch{
		"STORE": Branch{
			"TRACE": Branch{
				"FORMAT": Branch{"SNP": v.snp},
			},
		},
	}
	display := Branch{}
	for w := 1; w <= 4; w++ {
		window := Branch{"STATE": Bool(false)}
		for t := 1; t <= 4; t++ {
			window[fmt.Sprintf("TRAC%d", t)] = Branch{"FEED": Str(fmt.Sprintf("'sdd%d%d'", (t-1)/2+1, (t-1)%2+1))}
		}
		display[fmt.Sprintf("WIND%d", w)] = window
	}
	root["DISPLAY"] = display
	root["TRIGGER"] = Branch{"SOURCE": Str("IMMEDIATE")}
	root["FORMAT"] = Branch{
		"DATA":   v.formatHandler(),
		"BORDER": v.byteOrderHandler(),
	}

	s.reset = func() {
		v.init()
	}
	s.dispatcher = &Dispatcher{Root: root, Aliases: vnaAliases}
	return s
}

func (v *vnaState) init() {
	if v.points == nil {
		v.points = Int(100)
		v.start = Float(1e7)
		v.stop = Float(1e9)
		v.snp = Str("RI")
		v.thru = Str("1,2,1,3,1,4")
		v.calSets = Str("")
	}
	v.points.SetInt(100)
	v.start.SetFloat(1e7)
	v.stop.SetFloat(1e9)
	v.snp.SetString("RI")
	v.mode = "CONTINUOUS"
	v.format = protocol.ArrayFormat{Encoding: protocol.EncodingASCII, BigEndian: true}
	v.thru.SetString(defaultThruPairs(v.numPorts))
	v.steps = len(strings.Split(v.thru.String(), ",")) / 2
	v.acquired = 0
}

// defaultThruPairs 端口1到其余各端口
func defaultThruPairs(numPorts int) string {
	var pairs []string
	for p := 2; p <= numPorts; p++ {
		pairs = append(pairs, "1", strconv.Itoa(p))
	}
	if len(pairs) == 0 {
		return "1,1"
	}
	return strings.Join(pairs, ",")
}

// sweepModeHandler 单次扫描是长耗时操作，需要轮询 polls 次 ESR 才完成
func (s *Simulator) sweepModeHandler(v *vnaState, polls int) Handler {
	return func(params []string, isQuery bool) (string, error) {
		if isQuery {
			return v.mode, nil
		}
		if len(params) == 0 {
			return "", &InvalidValueError{Value: "", Kind: ScalarString}
		}
		mode := strings.ToUpper(strings.TrimSpace(params[0]))
		switch {
		case strings.HasPrefix(mode, "SING"):
			v.mode = "SINGLE"
			s.status.Busy(polls)
		case strings.HasPrefix(mode, "GRO"):
			v.mode = "GROUPS"
			s.status.Busy(polls)
		case strings.HasPrefix(mode, "CONT"):
			v.mode = "CONTINUOUS"
		case strings.HasPrefix(mode, "HOLD"):
			v.mode = "HOLD"
		default:
			return "", &InvalidValueError{Value: mode, Kind: ScalarString}
		}
		return "", nil
	}
}

// busyHandler 写入保存参数并开始一个长耗时操作
func (s *Simulator) busyHandler(value *Scalar, polls int) Handler {
	return func(params []string, isQuery bool) (string, error) {
		if isQuery {
			return value.String(), nil
		}
		if err := value.Assign(params); err != nil {
			return "", err
		}
		s.status.Busy(polls)
		return "", nil
	}
}

// guidedTree 引导式电子校准
func (s *Simulator) guidedTree(v *vnaState, acquirePolls int) Branch {
	ports := func() Branch {
		b := Branch{}
		for p := 1; p <= v.numPorts; p++ {
			b[fmt.Sprintf("PORT%d", p)] = Str("")
		}
		return b
	}
	return Branch{
		"STEPS": Handler(func(params []string, isQuery bool) (string, error) {
			if !isQuery {
				return "", &UnknownCommandError{Path: []string{"STEPS"}}
			}
			return strconv.Itoa(v.steps), nil
		}),
		"DESCRIPTION": Handler(func(params []string, isQuery bool) (string, error) {
			if !isQuery {
				return "", &UnknownCommandError{Path: []string{"DESCRIPTION"}}
			}
			step, err := v.stepParam(params, "")
			if err != nil {
				return "", err
			}
			a, b := v.thruPair(step)
			return fmt.Sprintf("\"Connect ECal module between port %s and port %s (step %d of %d)\"", a, b, step, v.steps), nil
		}),
		"CONNECTOR": ports(),
		"CKIT":      ports(),
		"ACQUIRE": Handler(func(params []string, isQuery bool) (string, error) {
			if isQuery {
				return strconv.Itoa(v.acquired), nil
			}
			step, err := v.stepParam(params, "STAN")
			if err != nil {
				return "", err
			}
			if step > v.acquired {
				v.acquired = step
			}
			s.status.Busy(acquirePolls)
			return "", nil
		}),
		"SAVE": Handler(func(params []string, isQuery bool) (string, error) {
			if isQuery {
				return "", &UnknownCommandError{Path: []string{"SAVE"}}
			}
			if v.acquired < v.steps {
				return "", &InvalidValueError{Value: fmt.Sprintf("%d/%d", v.acquired, v.steps), Kind: ScalarInt}
			}
			name := fmt.Sprintf("CalSet_%d", len(v.calSetNames())+1)
			if len(params) > 0 {
				name = strings.Trim(strings.TrimSpace(params[0]), "\"'")
			}
			v.calSets.SetString(strings.Join(append(v.calSetNames(), name), ","))
			return "", nil
		}),
		"THRU": Branch{"PORTS": v.thru},
		"INITIATE": Handler(func(params []string, isQuery bool) (string, error) {
			if isQuery {
				return "+1", nil
			}
			v.steps = len(strings.Split(v.thru.String(), ",")) / 2
			v.acquired = 0
			return "", nil
		}),
	}
}

// stepParam 解析1起始的步骤号，prefix 如 "STAN"
func (v *vnaState) stepParam(params []string, prefix string) (int, error) {
	if len(params) == 0 {
		return 0, &InvalidValueError{Value: "", Kind: ScalarInt}
	}
	raw := strings.TrimPrefix(strings.ToUpper(strings.TrimSpace(params[0])), prefix)
	step, err := strconv.Atoi(raw)
	if err != nil || step < 1 || step > v.steps {
		return 0, &InvalidValueError{Value: params[0], Kind: ScalarInt}
	}
	return step, nil
}

func (v *vnaState) thruPair(step int) (string, string) {
	items := strings.Split(v.thru.String(), ",")
	i := (step - 1) * 2
	if i+1 >= len(items) {
		return "1", "2"
	}
	return strings.TrimSpace(items[i]), strings.TrimSpace(items[i+1])
}

func (v *vnaState) calSetNames() []string {
	if v.calSets.String() == "" {
		return nil
	}
	return strings.Split(v.calSets.String(), ",")
}

// traceDataHandler CALC:DATA? FDATA|SDATA|RDATA，SDATA/RDATA 为实部虚部交错的复数
func (s *Simulator) traceDataHandler(v *vnaState) Handler {
	return func(params []string, isQuery bool) (string, error) {
		if !isQuery {
			return "", &UnknownCommandError{Path: []string{"CALCULATE", "DATA"}}
		}
		n := int(v.points.Int())
		if len(params) > 0 {
			kind := strings.ToUpper(strings.TrimSpace(params[0]))
			if strings.HasPrefix(kind, "SDAT") || strings.HasPrefix(kind, "RDAT") || strings.HasPrefix(kind, "SMEM") {
				n *= 2
			}
		}
		return v.encode(s.randomTrace(n))
	}
}

// snpDataHandler CALC:DATA:SNP:PORTS? "1,2,..."
// 先是 points 个频点，然后按行列顺序每个 S 参数一段实部、一段虚部
func (s *Simulator) snpDataHandler(v *vnaState) Handler {
	return func(params []string, isQuery bool) (string, error) {
		if !isQuery {
			return "", &UnknownCommandError{Path: []string{"CALCULATE", "DATA", "SNP", "PORTS"}}
		}
		ports, err := v.snpPorts(params)
		if err != nil {
			return "", err
		}
		n := int(v.points.Int())
		values := make([]float64, 0, n+2*n*ports*ports)
		start, stop := v.start.Float(), v.stop.Float()
		for i := 0; i < n; i++ {
			f := start
			if n > 1 {
				f += (stop - start) * float64(i) / float64(n-1)
			}
			values = append(values, f)
		}
		values = append(values, s.randomTrace(2*n*ports*ports)...)
		return v.encode(values)
	}
}

// snpPorts 解析带引号的端口列表，返回端口数
func (v *vnaState) snpPorts(params []string) (int, error) {
	raw := strings.Trim(strings.TrimSpace(strings.Join(params, ",")), "\"'")
	if raw == "" {
		return 0, &InvalidValueError{Value: raw, Kind: ScalarString}
	}
	seen := make(map[int]bool)
	for _, item := range strings.Split(raw, ",") {
		p, err := strconv.Atoi(strings.TrimSpace(item))
		if err != nil || p < 1 || p > v.numPorts || seen[p] {
			return 0, &InvalidValueError{Value: raw, Kind: ScalarString}
		}
		seen[p] = true
	}
	return len(seen), nil
}

func (v *vnaState) encode(values []float64) (string, error) {
	if !v.format.IsBinary() {
		return protocol.EncodeASCIIArray(values), nil
	}
	block, err := protocol.EncodeBinaryBlock(values, v.format)
	if err != nil {
		return "", err
	}
	return string(block), nil
}

// formatHandler FORM:DATA ASC,0|REAL,32|REAL,64
func (v *vnaState) formatHandler() Handler {
	return func(params []string, isQuery bool) (string, error) {
		if isQuery {
			return v.format.SCPI(), nil
		}
		f, ok := protocol.ParseArrayFormat(strings.Join(params, ","), v.format.BigEndian)
		if !ok {
			return "", &InvalidValueError{Value: strings.Join(params, ","), Kind: ScalarString}
		}
		v.format = f
		return "", nil
	}
}

// byteOrderHandler FORM:BORD NORM|SWAP，NORM 为大端
func (v *vnaState) byteOrderHandler() Handler {
	return func(params []string, isQuery bool) (string, error) {
		if isQuery {
			if v.format.BigEndian {
				return "NORM", nil
			}
			return "SWAP", nil
		}
		if len(params) == 0 {
			return "", &InvalidValueError{Kind: ScalarString}
		}
		switch strings.ToUpper(strings.TrimSpace(params[0])) {
		case "NORM", "NORMAL":
			v.format.BigEndian = true
		case "SWAP", "SWAPPED":
			v.format.BigEndian = false
		default:
			return "", &InvalidValueError{Value: params[0], Kind: ScalarString}
		}
		return "", nil
	}
}
