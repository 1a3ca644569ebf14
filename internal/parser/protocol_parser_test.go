package parser

import (
	"reflect"
	"testing"
)

func TestFeedCarriesPartialLine(t *testing.T) {
	p := NewParser()

	lines, err := p.Feed([]byte("ROUT:CLOS (@101)\r\nROUT:OP"))
	if err != nil {
		t.Fatal(err)
	}
	if !reflect.DeepEqual(lines, []string{"ROUT:CLOS (@101)"}) {
		t.Fatalf("lines = %q", lines)
	}
	if p.Pending() != "ROUT:OP" {
		t.Fatalf("pending = %q", p.Pending())
	}

	lines, _ = p.Feed([]byte("EN? (@101)\n"))
	if !reflect.DeepEqual(lines, []string{"ROUT:OPEN? (@101)"}) {
		t.Fatalf("lines = %q", lines)
	}
	if p.Pending() != "" {
		t.Fatalf("pending = %q", p.Pending())
	}
}

func TestFeedSplitsSemicolons(t *testing.T) {
	p := NewParser()
	lines, _ := p.Feed([]byte("*CLS;SENSE1:SWEEP:MODE SINGLE;*OPC\n\n*ESR?\n"))
	want := []string{"*CLS", "SENSE1:SWEEP:MODE SINGLE", "*OPC", "*ESR?"}
	if !reflect.DeepEqual(lines, want) {
		t.Fatalf("lines = %q, want %q", lines, want)
	}

	lines, _ = p.Feed([]byte("DISP:TEXT:DATA \"a;b\"\n"))
	if !reflect.DeepEqual(lines, []string{"DISP:TEXT:DATA \"a;b\""}) {
		t.Fatalf("quoted semicolon split: %q", lines)
	}
}

func TestFeedOverflow(t *testing.T) {
	p := NewParser()
	big := make([]byte, maxPending+1)
	for i := range big {
		big[i] = 'A'
	}
	if _, err := p.Feed(big); err == nil {
		t.Fatal("expected overflow error")
	}
	if p.Pending() != "" {
		t.Fatal("overflowed data should be dropped")
	}
}

func TestParse(t *testing.T) {
	cases := []struct {
		line    string
		path    []string
		params  []string
		isQuery bool
	}{
		{"rout:clos? (@101,102)", []string{"ROUT", "CLOS"}, []string{"(@101,102)"}, true},
		{"ROUT:CLOS (@101)", []string{"ROUT", "CLOS"}, []string{"(@101)"}, false},
		{"*IDN?", []string{"*IDN"}, nil, true},
		{":SENS1:FREQ:STAR 10000000", []string{"SENS1", "FREQ", "STAR"}, []string{"10000000"}, false},
		{"APPL P6V, 5.00, 1.00", []string{"APPL"}, []string{"P6V", "5.00", "1.00"}, false},
		{"CALC1:PAR:DEF 'MySdd',S11", []string{"CALC1", "PAR", "DEF"}, []string{"'MySdd'", "S11"}, false},
		{"VOLT? MAX", []string{"VOLT"}, []string{"MAX"}, true},
		{"ROUT:CLOS (@101)?", []string{"ROUT", "CLOS"}, []string{"(@101)"}, true},
	}
	p := NewParser()
	for _, c := range cases {
		r := p.Parse(c.line)
		if !r.Success {
			t.Errorf("Parse(%q): %v", c.line, r.Error)
			continue
		}
		if !reflect.DeepEqual(r.Command.Path, c.path) {
			t.Errorf("Parse(%q).Path = %q", c.line, r.Command.Path)
		}
		if !reflect.DeepEqual(r.Command.Params, c.params) {
			t.Errorf("Parse(%q).Params = %q", c.line, r.Command.Params)
		}
		if r.Command.IsQuery != c.isQuery {
			t.Errorf("Parse(%q).IsQuery = %v", c.line, r.Command.IsQuery)
		}
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	p := NewParser()
	for _, line := range []string{"", "?", "ROUT::CLOS", "   "} {
		if r := p.Parse(line); r.Success {
			t.Errorf("Parse(%q) should fail", line)
		}
	}
}

func TestParseBatch(t *testing.T) {
	p := NewParser()
	results, err := p.ParseBatch([]byte("*RST;ROUT:OPEN? (@105)\nVOLT"))
	if err != nil {
		t.Fatal(err)
	}
	if len(results) != 2 || !results[1].Command.IsQuery {
		t.Fatalf("results = %+v", results)
	}
	if p.Pending() != "VOLT" {
		t.Fatalf("pending = %q", p.Pending())
	}
}
