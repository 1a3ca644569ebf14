package simulator

import "strings"

// AliasTable 命令段缩写到规范名的映射，构建后只读
type AliasTable map[string]string

// Mnemonics 从 (缩写, 全称) 对构建映射，全称也映射到自身
func Mnemonics(pairs ...string) AliasTable {
	t := make(AliasTable, len(pairs))
	for i := 0; i+1 < len(pairs); i += 2 {
		short, long := strings.ToUpper(pairs[i]), strings.ToUpper(pairs[i+1])
		t[short] = long
		t[long] = long
	}
	return t
}

// Merge 返回合并后的新表，后者覆盖前者
func (t AliasTable) Merge(other AliasTable) AliasTable {
	out := make(AliasTable, len(t)+len(other))
	for k, v := range t {
		out[k] = v
	}
	for k, v := range other {
		out[k] = v
	}
	return out
}

// Canonical 规范化单个命令段，未知的原样返回
func (t AliasTable) Canonical(segment string) string {
	seg := strings.ToUpper(segment)
	if v, ok := t[seg]; ok {
		return v
	}
	return seg
}

// CanonicalPath 规范化整条路径
func (t AliasTable) CanonicalPath(path []string) []string {
	out := make([]string, len(path))
	for i, seg := range path {
		out[i] = t.Canonical(seg)
	}
	return out
}

// commonAliases 各类设备共用的缩写
var commonAliases = Mnemonics(
	"SYST", "SYSTEM",
	"ERR", "ERROR",
	"INIT", "INITIATE",
	"TRIG", "TRIGGER",
	"SOUR", "SOURCE",
	"DISP", "DISPLAY",
	"MEAS", "MEASURE",
	"OUTP", "OUTPUT",
	"STAT", "STATE",
)

var daqAliases = commonAliases.Merge(Mnemonics(
	"ROUT", "ROUTE",
	"CLOS", "CLOSE",
	"OPEN", "OPEN",
	"TEMP", "TEMPERATURE",
	"RHUM", "RHUMIDITY",
	"RHUMIDITY", "RHUMIDITY",
))

var vnaAliases = commonAliases.Merge(Mnemonics(
	"CALC", "CALCULATE",
	"CALC1", "CALCULATE",
	"CALCULATE1", "CALCULATE",
	"SENS", "SENSE",
	"SENS1", "SENSE",
	"SENSE1", "SENSE",
	"CALP", "CALPOD",
	"CONT", "CONTROL",
	"FORM", "FORMAT",
	"HCOP", "HCOPY",
	"MMEM", "MMEMORY",
	"ROUT", "ROUTE",
	"FREQ", "FREQUENCY",
	"STAR", "START",
	"CENT", "CENTER",
	"SWE", "SWEEP",
	"POIN", "POINTS",
	"POINT", "POINTS",
	"BWID", "BANDWIDTH",
	"BAND", "BANDWIDTH",
	"POW", "POWER",
	"CORR", "CORRECTION",
	"CUST", "CUSTOM",
	"EQU", "EQUATION",
	"FILT", "FILTER",
	"FSIM", "FSIMULATOR",
	"FUNC", "FUNCTION",
	"GDELA", "GDELAY",
	"LIM", "LIMIT",
	"MARK", "MARKER",
	"MIX", "MIXER",
	"NORM", "NORMALIZE",
	"OFFS", "OFFSET",
	"PAR", "PARAMETER",
	"RDAT", "RDATA",
	"SDAT", "SDATA",
	"FDAT", "FDATA",
	"FMEM", "FMEMORY",
	"SMEM", "SMEMORY",
	"STOR", "STORE",
	"SMO", "SMOOTHING",
	"TRAN", "TRANSFORM",
	"UNC", "UNCERTAINTY",
	"COLL", "COLLECTION",
	"GUID", "GUIDED",
	"ABOR", "ABORT",
	"DEL", "DELETE",
	"DEF", "DEFINE",
	"CAT", "CATALOG",
	"MOD", "MODIFY",
	"SEL", "SELECT",
	"EXT", "EXTENDED",
	"DESC", "DESCRIPTION",
	"CONN", "CONNECTOR",
	"ACQ", "ACQUIRE",
	"CHAN", "CHANNEL",
	"PORT", "PORTS",
	"ACT", "ACTIVATE",
	"PREF", "PREFERENCE",
	"ORI", "ORIENTATION",
	"BAL", "BALUN",
	"DEV", "DEVICE",
	"TOP", "TOPOLOGY",
	"BBAL", "BBALANCED",
	"PPOR", "PPORTS",
	"INT", "INTERPOLATE",
	"BORD", "BORDER",
	"TRAC", "TRACE",
	"WINDOW1", "WIND1",
	"WINDOW2", "WIND2",
	"WINDOW3", "WIND3",
	"WINDOW4", "WIND4",
	"TRACE1", "TRAC1",
	"TRACE2", "TRAC2",
	"TRACE3", "TRAC3",
	"TRACE4", "TRAC4",
)).Merge(AliasTable{
	// 带编号的端口名不能落到 PORT -> PORTS
	"PORT1": "PORT1", "PORT2": "PORT2", "PORT3": "PORT3", "PORT4": "PORT4",
})

var psuAliases = commonAliases.Merge(Mnemonics(
	"APPL", "APPLY",
	"INST", "INSTRUMENT",
	"CURR", "CURRENT",
	"VOLT", "VOLTAGE",
	"SEL", "SELECT",
	"NSEL", "NSELECT",
	"COUP", "COUPLE",
	"SCAL", "SCALAR",
	"TRAC", "TRACK",
	"LEV", "LEVEL",
	"PROT", "PROTECTION",
	"IMM", "IMMEDIATE",
	"AMPL", "AMPLITUDE",
	"INCR", "INCREMENT",
	"TRIP", "TRIPPED",
	"CLE", "CLEAR",
	"CLEA", "CLEAR",
	"RANG", "RANGE",
	"DEF", "DEFAULT",
	"DEL", "DELAY",
	"SEQ", "SEQUENCE",
	"REL", "RELAY",
	"BEEP", "BEEPER",
	"WIND", "WINDOW",
	"VERS", "VERSION",
))
