package instrument

import (
	"context"
	"errors"
	"io"
	"math"
	"net"
	"reflect"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"

	"visa-instrument/internal/handler"
	"visa-instrument/internal/simulator"
	"visa-instrument/pkg/protocol"
	"visa-instrument/pkg/visa"
)

const simAddress = "TCPIP::sim::5025::SOCKET"

// simOptions 通过 net.Pipe 把资源接到进程内的模拟器
func simOptions(t *testing.T, device string) []visa.Option {
	t.Helper()
	sim, err := simulator.New(simulator.DefaultOptions(device))
	if err != nil {
		t.Fatal(err)
	}
	log := logrus.New()
	log.SetOutput(io.Discard)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	dial := func(addr visa.Address, s visa.Settings) (io.ReadWriteCloser, error) {
		server, client := net.Pipe()
		h := handler.NewConnectionHandler(server, sim, nil, log, handler.Settings{ReadTimeout: 50 * time.Millisecond})
		go h.Handle(ctx)
		return client, nil
	}
	return []visa.Option{
		visa.WithDialer(dial),
		visa.WithDelay(0),
		visa.WithTimeout(time.Second),
		visa.WithLogger(log),
	}
}

func TestDAQChannels(t *testing.T) {
	daq := NewDAQ(simAddress, 3, 20, simOptions(t, simulator.DeviceDAQ)...)
	if err := daq.Open("\n", "\n", 0); err != nil {
		t.Fatal(err)
	}
	defer daq.Close()

	if got := daq.Channel(1, 3); got != "103" {
		t.Fatalf("Channel(1,3) = %q", got)
	}

	open, err := daq.IsChannelOpen("101")
	if err != nil || !open {
		t.Fatalf("101 initially open = %v, %v", open, err)
	}
	if err := daq.CloseChannels([]string{"101", "103"}, 0); err != nil {
		t.Fatal(err)
	}
	if err := daq.WaitForCompletion(time.Second); err != nil {
		t.Fatalf("WaitForCompletion: %v", err)
	}
	for _, ch := range []string{"101", "103"} {
		closed, err := daq.IsChannelClosed(ch)
		if err != nil || !closed {
			t.Fatalf("%s closed = %v, %v", ch, closed, err)
		}
	}

	if err := daq.CloseAllChannels(2, 0); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []string{"201", "210", "220"} {
		if closed, _ := daq.IsChannelClosed(ch); !closed {
			t.Fatalf("%s not closed after CloseAllChannels", ch)
		}
	}
	if err := daq.OpenAllChannels(2, 0); err != nil {
		t.Fatal(err)
	}
	for _, ch := range []string{"201", "210", "220"} {
		if open, _ := daq.IsChannelOpen(ch); !open {
			t.Fatalf("%s not open after OpenAllChannels", ch)
		}
	}
	// 其他槽位不受影响
	if closed, _ := daq.IsChannelClosed("101"); !closed {
		t.Fatal("101 reopened by slot 2 range")
	}
}

func TestDAQMeasure(t *testing.T) {
	daq := NewDAQ(simAddress, 3, 20, simOptions(t, simulator.DeviceDAQ)...)
	if err := daq.Open("", "", 0); err != nil {
		t.Fatal(err)
	}
	defer daq.Close()

	temp, err := daq.MeasureTemperature("TC", "K")
	if err != nil || temp < 20 || temp > 25 {
		t.Fatalf("temperature = %v, %v", temp, err)
	}
	rh, err := daq.MeasureRelativeHumidity("DEF", "DEF")
	if err != nil || rh < 40 || rh > 50 {
		t.Fatalf("humidity = %v, %v", rh, err)
	}
}

func newVNA(t *testing.T) *VNA {
	t.Helper()
	vna := NewVNA(simAddress, 4, simOptions(t, simulator.DeviceVNA)...)
	vna.PollInterval = 5 * time.Millisecond
	vna.AsyncTimeout = time.Second
	if err := vna.Open("\n", "\n", 0); err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { vna.Close() })
	return vna
}

func TestVNASweep(t *testing.T) {
	vna := newVNA(t)

	if err := vna.SetupSweep(10e6, 20e9, 201, "LINEAR"); err != nil {
		t.Fatalf("SetupSweep: %v", err)
	}
	if start, err := vna.StartFreq(); err != nil || start != 10e6 {
		t.Fatalf("start = %v, %v", start, err)
	}
	if stop, err := vna.StopFreq(); err != nil || stop != 20e9 {
		t.Fatalf("stop = %v, %v", stop, err)
	}
	if n, err := vna.SweepPoints(); err != nil || n != 201 {
		t.Fatalf("points = %v, %v", n, err)
	}
	if err := vna.SetBandwidth(500); err != nil {
		t.Fatal(err)
	}
	if bw, err := vna.Bandwidth(); err != nil || bw != 500 {
		t.Fatalf("bandwidth = %v, %v", bw, err)
	}

	if err := vna.SetSweepMode("SINGLE"); err != nil {
		t.Fatalf("SetSweepMode: %v", err)
	}
	if mode, err := vna.SweepMode(); err != nil || mode != "SINGLE" {
		t.Fatalf("mode = %q, %v", mode, err)
	}

	err := vna.SetSweepMode("SIDEWAYS")
	var devErr *protocol.DeviceError
	if !errors.As(err, &devErr) || devErr.ESR&protocol.ESRExecutionError == 0 {
		t.Fatalf("invalid sweep mode error = %v", err)
	}
}

func TestVNATraceCapture(t *testing.T) {
	vna := newVNA(t)
	if err := vna.SetSweepPoints(64); err != nil {
		t.Fatal(err)
	}
	if err := vna.CreateTrace("CH1_S11", "S11"); err != nil {
		t.Fatalf("CreateTrace: %v", err)
	}

	for _, f := range []protocol.ArrayFormat{protocol.FormatASCII, protocol.FormatReal32BE, protocol.FormatReal64BE} {
		if err := vna.SetDataFormat(f); err != nil {
			t.Fatal(err)
		}
		data, err := vna.CaptureTrace()
		if err != nil {
			t.Fatalf("%s: CaptureTrace: %v", f.SCPI(), err)
		}
		if len(data) != 64 {
			t.Fatalf("%s: %d points", f.SCPI(), len(data))
		}
		for _, v := range data {
			if math.IsNaN(v) || v < 0 || v > 1 {
				t.Fatalf("%s: value %v out of range", f.SCPI(), v)
			}
		}

		cdata, err := vna.CaptureComplex("SDATA")
		if err != nil || len(cdata) != 64 {
			t.Fatalf("%s: CaptureComplex = %d, %v", f.SCPI(), len(cdata), err)
		}
	}
}

func TestVNAECalCursor(t *testing.T) {
	vna := newVNA(t)

	connectors := []string{"2.92 mm female", "2.92 mm female", "2.92 mm female", "2.92 mm female"}
	kits := []string{"N4692-60003 ECal 13226", "N4692-60003 ECal 13226", "N4692-60003 ECal 13226", "N4692-60003 ECal 13226"}
	if err := vna.SetupECalibration(connectors, kits[:2], nil, true); err == nil {
		t.Fatal("mismatched connectors/kits accepted")
	}
	if err := vna.SetupECalibration(connectors, kits, []int{1, 2, 3}, true); err == nil {
		t.Fatal("odd thru pairs accepted")
	}
	if err := vna.SetupECalibration(connectors, kits, []int{1, 2, 3, 4}, true); err != nil {
		t.Fatal(err)
	}

	cur, err := vna.ECal(true, "MyCal", 0)
	if err != nil {
		t.Fatal(err)
	}
	if cur.Total() != 2 {
		t.Fatalf("total steps = %d", cur.Total())
	}

	var descriptions []string
	for cur.HasNext() {
		desc, err := cur.PeekDescription()
		if err != nil {
			t.Fatal(err)
		}
		again, _ := cur.PeekDescription()
		if again != desc {
			t.Fatalf("peek moved the cursor: %q then %q", desc, again)
		}
		descriptions = append(descriptions, desc)
		if err := cur.Advance(); err != nil {
			t.Fatalf("step %d: %v", cur.Step(), err)
		}
	}
	if len(descriptions) != 2 || !strings.Contains(descriptions[1], "port 3 and port 4") {
		t.Fatalf("descriptions = %q", descriptions)
	}
	if err := cur.Advance(); !errors.Is(err, ErrNoMoreSteps) {
		t.Fatalf("Advance past end = %v", err)
	}

	sets, err := vna.CalSets()
	if err != nil || len(sets) != 1 || sets[0] != "MyCal" {
		t.Fatalf("cal sets = %q, %v", sets, err)
	}
	if err := vna.SetActiveCalSet("MyCal", true, true); err != nil {
		t.Fatalf("SetActiveCalSet: %v", err)
	}
}

func TestPSU(t *testing.T) {
	psu := NewPSU(simAddress, simOptions(t, simulator.DevicePSU)...)
	if err := psu.Open("\n", "\n", 0); err != nil {
		t.Fatal(err)
	}
	defer psu.Close()

	if err := psu.Apply("P25V", 12.5, 0.5); err != nil {
		t.Fatal(err)
	}
	if err := psu.SetChannel("P25V"); err != nil {
		t.Fatal(err)
	}
	if ch, err := psu.Channel(); err != nil || ch != "P25V" {
		t.Fatalf("channel = %q, %v", ch, err)
	}
	if v, err := psu.Voltage(); err != nil || v != 12.5 {
		t.Fatalf("voltage = %v, %v", v, err)
	}
	if c, err := psu.CurrentLimit(); err != nil || c != 0.5 {
		t.Fatalf("current = %v, %v", c, err)
	}
	if v, err := psu.MeasuredVoltage(); err != nil || v != 12.5 {
		t.Fatalf("measured voltage = %v, %v", v, err)
	}
	if max, err := psu.MaxVoltage(); err != nil || max != 25 {
		t.Fatalf("max voltage = %v, %v", max, err)
	}

	if err := psu.Enable(); err != nil {
		t.Fatal(err)
	}
	if on, err := psu.OutputState(); err != nil || !on {
		t.Fatalf("output = %v, %v", on, err)
	}

	if err := psu.SetDisplayText("HELLO"); err != nil {
		t.Fatal(err)
	}
	if text, err := psu.DisplayText(); err != nil || text != "HELLO" {
		t.Fatalf("display = %q, %v", text, err)
	}
	if err := psu.ClearDisplayText(); err != nil {
		t.Fatal(err)
	}
	if text, _ := psu.DisplayText(); text != "" {
		t.Fatalf("display after clear = %q", text)
	}

	// 超量程：写入不报错，但状态寄存器记录执行错误
	if err := psu.SetVoltage(40); err != nil {
		t.Fatal(err)
	}
	esr, err := psu.Status()
	if err != nil || esr&protocol.ESRExecutionError == 0 {
		t.Fatalf("ESR after out-of-range = %v, %v", esr, err)
	}
}

func TestVNASingleEndedTraces(t *testing.T) {
	vna := newVNA(t)
	if err := vna.SetSweepPoints(32); err != nil {
		t.Fatal(err)
	}
	if err := vna.SetDataFormat(protocol.FormatReal32BE); err != nil {
		t.Fatal(err)
	}

	names, err := vna.SetupSESTraces([]int{0, 1}, nil)
	if err != nil {
		t.Fatalf("SetupSESTraces: %v", err)
	}
	if len(names) != 8 || names[0] != "CH1_S11" || names[7] != "CH1_S24" {
		t.Fatalf("names = %v", names)
	}

	data, err := vna.CaptureSESTraces([]int{0, 1}, nil)
	if err != nil {
		t.Fatalf("CaptureSESTraces: %v", err)
	}
	if len(data) != 2 || len(data[0]) != 4 {
		t.Fatalf("shape = %dx%d", len(data), len(data[0]))
	}
	for _, row := range data {
		for _, trace := range row {
			if len(trace) != 32 {
				t.Fatalf("trace has %d points", len(trace))
			}
		}
	}

	traces, err := vna.CaptureTraces([]string{"CH1_S11", "CH1_S21"}, "FDATA")
	if err != nil || len(traces) != 2 || len(traces[1]) != 32 {
		t.Fatalf("CaptureTraces = %d, %v", len(traces), err)
	}
	if imag(traces[0][0]) != 0 {
		t.Fatalf("FDATA has imaginary part: %v", traces[0][0])
	}

	if _, err := vna.SetupSESTraces([]int{4}, nil); err == nil {
		t.Fatal("port 4 on a 4-port analyzer accepted")
	}
}

func TestVNASNPData(t *testing.T) {
	vna := newVNA(t)
	if err := vna.SetupSweep(1e6, 16e6, 16, "LINEAR"); err != nil {
		t.Fatal(err)
	}
	if err := vna.SetDataFormat(protocol.FormatReal64BE); err != nil {
		t.Fatal(err)
	}
	if _, err := vna.SetupSNPTraces([]int{0, 2}); err != nil {
		t.Fatalf("SetupSNPTraces: %v", err)
	}

	data, err := vna.CaptureSNPData([]int{0, 2})
	if err != nil {
		t.Fatalf("CaptureSNPData: %v", err)
	}
	if len(data.Freq) != 16 || data.Freq[0] != 1e6 || data.Freq[15] != 16e6 {
		t.Fatalf("freq = %v", data.Freq)
	}
	if len(data.S) != 2 || len(data.S[1]) != 2 || len(data.S[1][0]) != 16 {
		t.Fatalf("S shape wrong: %d", len(data.S))
	}
	for _, row := range data.S {
		for _, s := range row {
			for _, c := range s {
				if real(c) < 0 || real(c) >= 1 || imag(c) < 0 || imag(c) >= 1 {
					t.Fatalf("value out of range: %v", c)
				}
			}
		}
	}
	if got, err := vna.Status(); err != nil || got != 0 {
		t.Fatalf("status after capture = %d, %v", got, err)
	}
}

func TestUnpackSNPLayout(t *testing.T) {
	// 2 点、2 端口：频点之后依次为 S11 实/虚、S12 实/虚、S21 实/虚、S22 实/虚
	values := []float64{
		1, 2,
		11, 11, -11, -11,
		12, 12, -12, -12,
		21, 21, -21, -21,
		22, 22, -22, -22,
	}
	data, err := unpackSNP(values, 2, []int{0, 1})
	if err != nil {
		t.Fatal(err)
	}
	want := [2][2]complex128{{complex(11, -11), complex(12, -12)}, {complex(21, -21), complex(22, -22)}}
	for r := range want {
		for c := range want[r] {
			if got := data.S[r][c][1]; got != want[r][c] {
				t.Fatalf("S[%d][%d] = %v, want %v", r, c, got, want[r][c])
			}
		}
	}
	if _, err := unpackSNP(values[:5], 2, []int{0, 1}); err == nil {
		t.Fatal("short reply accepted")
	}
}

func TestVNADiffTraces(t *testing.T) {
	vna := newVNA(t)
	if err := vna.SetSweepPoints(8); err != nil {
		t.Fatal(err)
	}
	if err := vna.SetupDiffTraces(); err != nil {
		t.Fatalf("SetupDiffTraces: %v", err)
	}
	data, err := vna.CaptureDiffTraces()
	if err != nil {
		t.Fatalf("CaptureDiffTraces: %v", err)
	}
	if len(data) != 2 || len(data[1]) != 2 || len(data[1][1]) != 8 {
		t.Fatalf("shape wrong: %d", len(data))
	}
}

// 门面只暴露本类仪器的操作，不透出底层的读写方法
func TestFacadesHideResource(t *testing.T) {
	for _, typ := range []reflect.Type{
		reflect.TypeOf(&DAQ{}),
		reflect.TypeOf(&VNA{}),
		reflect.TypeOf(&PSU{}),
		reflect.TypeOf(&Relay{}),
	} {
		for _, name := range []string{"Write", "Query", "QueryFloat", "WriteAsync", "SyncCommands"} {
			if _, ok := typ.MethodByName(name); ok {
				t.Errorf("%s exposes %s", typ, name)
			}
		}
		for _, name := range []string{"Open", "Close", "IsOpen"} {
			if _, ok := typ.MethodByName(name); !ok {
				t.Errorf("%s lacks %s", typ, name)
			}
		}
	}
}
