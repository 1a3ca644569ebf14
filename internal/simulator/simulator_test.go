package simulator

import (
	"errors"
	"reflect"
	"strings"
	"testing"

	"visa-instrument/internal/parser"
	"visa-instrument/pkg/protocol"
)

// send 解析并执行一行命令
func send(t *testing.T, s *Simulator, line string) (string, bool, error) {
	t.Helper()
	r := parser.NewParser().Parse(line)
	if !r.Success {
		t.Fatalf("parse %q: %v", line, r.Error)
	}
	return s.Execute(*r.Command)
}

func query(t *testing.T, s *Simulator, line string) string {
	t.Helper()
	reply, ok, err := send(t, s, line)
	if err != nil || !ok {
		t.Fatalf("%s: reply=%q ok=%v err=%v", line, reply, ok, err)
	}
	return reply
}

func write(t *testing.T, s *Simulator, line string) {
	t.Helper()
	if _, ok, err := send(t, s, line); err != nil || ok {
		t.Fatalf("%s: ok=%v err=%v", line, ok, err)
	}
}

func routes(s *Simulator) (open, closed []string) {
	route := s.dispatcher.Root["ROUTE"].(Branch)
	return route["OPEN"].(*RouteList).Bank.List(RouteOpen), route["CLOSE"].(*RouteList).Bank.List(RouteClosed)
}

func TestDAQRouteScenario(t *testing.T) {
	s := NewDAQ(DefaultOptions(DeviceDAQ))

	if got := query(t, s, "ROUT:OPEN? (@101)"); got != "1" {
		t.Fatalf("ROUT:OPEN? (@101) = %q", got)
	}
	write(t, s, "ROUT:CLOS (@101)")
	if got := query(t, s, "ROUT:CLOS? (@101)"); got != "1" {
		t.Fatalf("ROUT:CLOS? (@101) = %q", got)
	}
	if got := query(t, s, "ROUT:OPEN? (@101)"); got != "0" {
		t.Fatalf("ROUT:OPEN? (@101) = %q", got)
	}
	if got := query(t, s, "ROUT:CLOS? (@101,102,103)"); got != "1,0,0" {
		t.Fatalf("multi-route query = %q", got)
	}
}

func TestRouteMoveIsExclusive(t *testing.T) {
	opts := DefaultOptions(DeviceDAQ)
	opts.NumSlots = 1
	s := NewDAQ(opts)

	write(t, s, "ROUT:CLOS (@105)")
	open, closed := routes(s)
	if !reflect.DeepEqual(closed, []string{"105"}) || len(open) != 19 {
		t.Fatalf("open=%v closed=%v", open, closed)
	}

	write(t, s, "ROUT:CLOS (@105)")
	open2, closed2 := routes(s)
	if !reflect.DeepEqual(closed2, closed) || !reflect.DeepEqual(open2, open) {
		t.Fatalf("second close changed state: open=%v closed=%v", open2, closed2)
	}

	write(t, s, "ROUT:OPEN (@105)")
	open3, closed3 := routes(s)
	if len(closed3) != 0 || len(open3) != 20 || open3[19] != "105" {
		t.Fatalf("reopen: open=%v closed=%v", open3, closed3)
	}
}

func TestAbbreviationEquivalence(t *testing.T) {
	a := NewDAQ(DefaultOptions(DeviceDAQ))
	b := NewDAQ(DefaultOptions(DeviceDAQ))

	write(t, a, "ROUT:CLOS (@105,210)")
	write(t, b, "ROUTE:CLOSE (@105,210)")
	write(t, a, "ROUT:OPEN (@105)")
	write(t, b, "ROUTE:OPEN (@105)")

	if !reflect.DeepEqual(a.Snapshot(), b.Snapshot()) {
		t.Fatalf("snapshots differ:\n%v\n%v", a.Snapshot(), b.Snapshot())
	}
	if got := query(t, a, "route:close? (@210)"); got != "1" {
		t.Fatalf("lower-case query = %q", got)
	}
}

func TestInvalidRouteIgnored(t *testing.T) {
	s := NewDAQ(DefaultOptions(DeviceDAQ))
	before := s.Snapshot()

	for _, line := range []string{"ROUT:CLOS (@999)", "ROUT:CLOS (@121)", "ROUT:CLOS (@401)", "ROUT:CLOS (@abc)", "ROUT:CLOS (@1005)"} {
		write(t, s, line)
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("invalid routes changed state")
	}
	if s.Status() != 0 {
		t.Fatalf("ESR = 0x%02X, invalid routes must not flag errors", s.Status())
	}
}

func TestRouteWriteWithoutList(t *testing.T) {
	s := NewDAQ(DefaultOptions(DeviceDAQ))
	before := s.Snapshot()

	_, _, err := send(t, s, "ROUT:CLOS")
	var unknown *UnknownCommandError
	if !errors.As(err, &unknown) || strings.Join(unknown.Path, ":") != "ROUTE:CLOSE" {
		t.Fatalf("err = %v, want UnknownCommandError for ROUTE:CLOSE", err)
	}
	if !reflect.DeepEqual(before, s.Snapshot()) {
		t.Fatal("bare route write changed state")
	}
	if got := query(t, s, "*ESR?"); got != "32" {
		t.Fatalf("ESR = %q, want command error", got)
	}
}

func TestRouteRange(t *testing.T) {
	s := NewDAQ(DefaultOptions(DeviceDAQ))
	for c := 1; c <= 20; c++ {
		write(t, s, "ROUT:CLOS (@"+RouteName(2, c)+")")
	}
	write(t, s, "ROUT:OPEN (@201:205)")
	_, closed := routes(s)
	if len(closed) != 15 || closed[0] != "206" {
		t.Fatalf("closed = %v", closed)
	}
	// 跨槽位的范围被丢弃
	write(t, s, "ROUT:OPEN (@206:302)")
	if _, closed := routes(s); len(closed) != 15 {
		t.Fatalf("cross-slot range applied: %v", closed)
	}
	if got := query(t, s, "ROUT:OPEN? (@204:206)"); got != "1,1,0" {
		t.Fatalf("range query = %q", got)
	}
}

func TestDAQResetAndMeasure(t *testing.T) {
	s := NewDAQ(DefaultOptions(DeviceDAQ))
	write(t, s, "ROUT:CLOS (@101,102)")
	write(t, s, "*RST")
	if _, closed := routes(s); len(closed) != 0 {
		t.Fatalf("closed after *RST = %v", closed)
	}
	if got := query(t, s, "ROUT:DONE?"); got != "1" {
		t.Fatalf("ROUT:DONE? = %q", got)
	}
	if !strings.HasPrefix(query(t, s, "*IDN?"), "AGILENT") {
		t.Fatal("unexpected *IDN?")
	}
	temp := query(t, s, "MEAS:TEMP? TC,K")
	reply, err := protocol.DecodeScalar(temp, protocol.KindFloat)
	if err != nil || reply.Float < 22 || reply.Float > 23 {
		t.Fatalf("MEAS:TEMP? = %q", temp)
	}
}

func TestUnknownCommands(t *testing.T) {
	s := NewDAQ(DefaultOptions(DeviceDAQ))

	if got := query(t, s, "ROUT:FOO?"); got != protocol.SentinelReply {
		t.Fatalf("unknown query = %q", got)
	}
	if got := query(t, s, "*ESR?"); got != "4" {
		t.Fatalf("ESR after unknown query = %q", got)
	}

	_, _, err := send(t, s, "ROUT:FOO 1")
	var unknown *UnknownCommandError
	if !errors.As(err, &unknown) {
		t.Fatalf("err = %v, want UnknownCommandError", err)
	}
	if strings.Join(unknown.Path, ":") != "ROUTE:FOO" {
		t.Fatalf("path = %v", unknown.Path)
	}
	if got := query(t, s, "*ESR?"); got != "32" {
		t.Fatalf("ESR after unknown write = %q", got)
	}
	if got := query(t, s, "*ESR?"); got != "0" {
		t.Fatalf("ESR must clear on read, got %q", got)
	}

	if _, _, err := s.dispatcher.ProcessCommand(nil, nil, false); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("empty command err = %v", err)
	}

	if _, _, err := s.Execute(protocol.Command{IsQuery: true}); !errors.Is(err, ErrEmptyCommand) {
		t.Fatalf("empty query err = %v", err)
	}
	if got := query(t, s, "*ESR?"); got != "4" {
		t.Fatalf("ESR after empty query = %q", got)
	}
}

func TestAsyncCompletionFlow(t *testing.T) {
	s := NewVNA(DefaultOptions(DeviceVNA))

	write(t, s, "*CLS")
	write(t, s, "SENSE1:SWEEP:MODE SINGLE")
	write(t, s, "*OPC")
	var got []string
	for i := 0; i < 3; i++ {
		got = append(got, query(t, s, "*ESR?"))
	}
	if strings.Join(got, ",") != "0,0,1" {
		t.Fatalf("ESR sequence = %v", got)
	}
	if mode := query(t, s, "SENS:SWE:MODE?"); mode != "SINGLE" {
		t.Fatalf("mode = %q", mode)
	}
}

func TestClearStatusCancelsPendingOPC(t *testing.T) {
	s := NewVNA(DefaultOptions(DeviceVNA))
	write(t, s, "SENS:SWE:MODE SING")
	write(t, s, "*OPC")
	write(t, s, "*CLS")
	for i := 0; i < 3; i++ {
		if got := query(t, s, "*ESR?"); got != "0" {
			t.Fatalf("poll %d = %q, *CLS should cancel the armed *OPC", i, got)
		}
	}
}

func TestExecutionErrorFlag(t *testing.T) {
	s := NewVNA(DefaultOptions(DeviceVNA))
	_, _, err := send(t, s, "SENS:SWE:POIN many")
	var invalid *InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("err = %v", err)
	}
	write(t, s, "*OPC")
	if got := query(t, s, "*ESR?"); got != "17" {
		t.Fatalf("ESR = %q, want execution error + complete", got)
	}
}

func TestVNAScalarCoercion(t *testing.T) {
	s := NewVNA(DefaultOptions(DeviceVNA))

	write(t, s, "SENS1:FREQ:STAR 20000000")
	v, _ := protocol.DecodeScalar(query(t, s, "SENSE1:FREQUENCY:START?"), protocol.KindFloat)
	if v.Float != 2e7 {
		t.Fatalf("start = %v", v.Float)
	}
	write(t, s, "SENS:SWE:POIN 201")
	if got := query(t, s, "SENS:SWE:POIN?"); got != "201" {
		t.Fatalf("points = %q", got)
	}
	write(t, s, "DISP:WIND2:STATE ON")
	if got := query(t, s, "DISP:WIND2:STAT?"); got != "1" {
		t.Fatalf("window state = %q", got)
	}
	write(t, s, "CALC1:PAR:DEF 'CH1_S11',S11")
	if got := query(t, s, "CALC:PAR:DEF?"); got != "'CH1_S11',S11" {
		t.Fatalf("define = %q", got)
	}
	// 值为空的叶子首次写入后按字符串保存
	write(t, s, "CALC1:FSIM:BAL:DEV BBALANCED")
	if got := query(t, s, "CALC:FSIM:BAL:DEV?"); got != "BBALANCED" {
		t.Fatalf("device = %q", got)
	}
	_, _, err := send(t, s, "SENSE:FREQUENCY 1")
	var unknown *UnknownCommandError
	if !errors.As(err, &unknown) {
		t.Fatalf("write to branch err = %v", err)
	}
}

func TestVNATraceData(t *testing.T) {
	s := NewVNA(DefaultOptions(DeviceVNA))
	write(t, s, "SENS:SWE:POIN 10")

	ascii := query(t, s, "CALC1:DATA? FDATA")
	values, err := protocol.DecodeArray([]byte(ascii), protocol.FormatASCII)
	if err != nil || len(values) != 10 {
		t.Fatalf("ascii trace: %d values, err=%v", len(values), err)
	}

	write(t, s, "FORM:DATA REAL,32")
	if got := query(t, s, "FORM:DATA?"); got != "REAL,32" {
		t.Fatalf("FORM:DATA? = %q", got)
	}
	block := query(t, s, "CALC1:DATA? SDATA")
	values, err = protocol.DecodeArray([]byte(block), protocol.FormatReal32BE)
	if err != nil || len(values) != 20 {
		t.Fatalf("binary trace: %d values, err=%v", len(values), err)
	}
	for _, v := range values {
		if v < 0 || v > 1 {
			t.Fatalf("value out of range: %v", v)
		}
	}

	write(t, s, "FORM:BORD SWAP")
	block = query(t, s, "CALC1:DATA? FDATA")
	le := protocol.ArrayFormat{Encoding: protocol.EncodingReal32}
	if values, err = protocol.DecodeArray([]byte(block), le); err != nil || len(values) != 10 {
		t.Fatalf("swapped trace: %v", err)
	}
}

func TestVNAGuidedCalibration(t *testing.T) {
	s := NewVNA(DefaultOptions(DeviceVNA))

	write(t, s, `SENSE1:CORR:COLL:GUID:CONN:PORT1 "2.92 mm female"`)
	write(t, s, `SENSE1:CORR:COLL:GUID:CKIT:PORT1 "N4692-60003 ECal 13226"`)
	write(t, s, "SENSE1:CORR:PREF:ECAL:ORI ON")
	write(t, s, "SENSE1:CORR:COLL:GUID:THRU:PORTS 1,2,1,3")
	write(t, s, "SENSE1:CORR:COLL:GUID:INIT")

	if got := query(t, s, "SENSE1:CORR:COLL:GUID:STEPS?"); got != "2" {
		t.Fatalf("steps = %q", got)
	}
	desc := query(t, s, "SENSE1:CORR:COLL:GUID:DESC? 2")
	if !strings.Contains(desc, "port 1 and port 3") {
		t.Fatalf("desc = %q", desc)
	}

	// 未完成采集时保存失败
	if _, _, err := send(t, s, "SENSE1:CORR:COLL:GUID:SAVE"); err == nil {
		t.Fatal("save before acquisition should fail")
	}
	query(t, s, "*ESR?")

	for step := 1; step <= 2; step++ {
		write(t, s, "*CLS")
		write(t, s, "SENSE1:CORR:COLL:GUID:ACQ STAN"+string(rune('0'+step))+",ASYN")
		write(t, s, "*OPC")
		if got := query(t, s, "*ESR?"); got != "0" {
			t.Fatalf("step %d first poll = %q", step, got)
		}
		query(t, s, "*ESR?")
		if got := query(t, s, "*ESR?"); got != "1" {
			t.Fatalf("step %d not complete: %q", step, got)
		}
	}
	write(t, s, `SENSE1:CORR:COLL:GUID:SAVE:CSET "MyCal"`)
	if got := query(t, s, "SENS:CORR:CSET:CAT?"); got != "MyCal" {
		t.Fatalf("catalog = %q", got)
	}

	_, _, err := send(t, s, "SENSE1:CORR:COLL:GUID:ACQ STAN9,ASYN")
	var invalid *InvalidValueError
	if !errors.As(err, &invalid) {
		t.Fatalf("out of range step err = %v", err)
	}
}

func TestPSU(t *testing.T) {
	s := NewPSU(DefaultOptions(DevicePSU))

	write(t, s, "INST:SEL P25V")
	if got := query(t, s, "INST:NSEL?"); got != "2" {
		t.Fatalf("nselect = %q", got)
	}
	write(t, s, "VOLT 12.5")
	if got := query(t, s, "VOLT?"); got != "12.5" {
		t.Fatalf("VOLT? = %q", got)
	}
	if got := query(t, s, "MEAS:VOLT:DC?"); got != "12.5" {
		t.Fatalf("MEAS:VOLT:DC? = %q", got)
	}
	if got := query(t, s, "VOLT? MAX"); got != "25" {
		t.Fatalf("VOLT? MAX = %q", got)
	}
	if got := query(t, s, "CURR? MAX"); got != "1" {
		t.Fatalf("CURR? MAX = %q", got)
	}

	// 超出量程
	if _, _, err := send(t, s, "VOLT 30"); err == nil {
		t.Fatal("VOLT 30 should fail on P25V")
	}
	if got := query(t, s, "*ESR?"); got != "16" {
		t.Fatalf("ESR = %q", got)
	}

	write(t, s, "OUTP:STAT ON")
	if got := query(t, s, "OUTP:STAT?"); got != "1" {
		t.Fatalf("OUTP:STAT? = %q", got)
	}
	write(t, s, "INST:NSEL 1")
	if got := query(t, s, "OUTP:STAT?"); got != "0" {
		t.Fatalf("output 1 state = %q, outputs must be independent", got)
	}

	write(t, s, "APPL N25V, -5.00, 0.50")
	write(t, s, "INST:SEL N25V")
	if got := query(t, s, "VOLT?"); got != "-5" {
		t.Fatalf("N25V VOLT? = %q", got)
	}
	if got := query(t, s, "CURR?"); got != "0.5" {
		t.Fatalf("N25V CURR? = %q", got)
	}

	write(t, s, `DISP:TEXT:DATA "HELLO"`)
	if got := query(t, s, "DISP:TEXT:DATA?"); got != `"HELLO"` {
		t.Fatalf("display = %q", got)
	}
	write(t, s, "DISP:TEXT:CLEA")
	if got := query(t, s, "DISP:TEXT?"); got != protocol.SentinelReply {
		t.Fatalf("branch query = %q", got)
	}
	if got := query(t, s, "DISP:TEXT? DATA"); got != "" {
		t.Fatalf("cleared display = %q", got)
	}
}

func TestNewUnknownDevice(t *testing.T) {
	if _, err := New(Options{Device: "scope"}); err == nil {
		t.Fatal("expected error")
	}
	for _, d := range []string{DeviceDAQ, DeviceVNA, DevicePSU} {
		s, err := New(DefaultOptions(d))
		if err != nil || s.Device != d {
			t.Fatalf("New(%s) = %v, %v", d, s, err)
		}
	}
}

func TestAliasTable(t *testing.T) {
	if got := vnaAliases.Canonical("port1"); got != "PORT1" {
		t.Fatalf("PORT1 -> %q", got)
	}
	if got := vnaAliases.Canonical("PORT"); got != "PORTS" {
		t.Fatalf("PORT -> %q", got)
	}
	if vnaAliases.Canonical("DEL") != "DELETE" || psuAliases.Canonical("DEL") != "DELAY" {
		t.Fatal("per-device alias tables must not share DEL")
	}
	if got := daqAliases.Canonical("UNKNOWN"); got != "UNKNOWN" {
		t.Fatalf("pass-through = %q", got)
	}
}

func TestVNASNPData(t *testing.T) {
	s := NewVNA(DefaultOptions(DeviceVNA))
	write(t, s, "SENS:SWE:POIN 4")
	write(t, s, "SENS:FREQ:STAR 1000000")
	write(t, s, "SENS:FREQ:STOP 4000000")
	write(t, s, "MMEM:STOR:TRAC:FORM:SNP RI")

	reply := query(t, s, `CALC1:DATA:SNP:PORTs? "1,2"`)
	values, err := protocol.DecodeArray([]byte(reply), protocol.FormatASCII)
	if err != nil || len(values) != 4+2*4*2*2 {
		t.Fatalf("snp: %d values, err=%v", len(values), err)
	}
	for i, want := range []float64{1e6, 2e6, 3e6, 4e6} {
		if values[i] != want {
			t.Fatalf("freq[%d] = %v, want %v", i, values[i], want)
		}
	}

	// 数据类型作为分支参数选择处理函数
	fdata := query(t, s, "CALC:DATA? FDAT")
	if values, _ := protocol.DecodeArray([]byte(fdata), protocol.FormatASCII); len(values) != 4 {
		t.Fatalf("FDAT: %d values", len(values))
	}

	for _, line := range []string{`CALC:DATA:SNP:PORTS? "1,5"`, `CALC:DATA:SNP:PORTS? "1,1"`, "CALC:DATA:SNP:PORTS?"} {
		_, _, err := send(t, s, line)
		var invalid *InvalidValueError
		if !errors.As(err, &invalid) {
			t.Fatalf("%s: err = %v", line, err)
		}
	}
	if got := query(t, s, "*ESR?"); got != "16" {
		t.Fatalf("*ESR? = %q", got)
	}
	if got := query(t, s, "CALC:DATA?"); got != protocol.SentinelReply {
		t.Fatalf("CALC:DATA? without kind = %q", got)
	}
}
