package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"math"
	"math/rand"
	"os"
	"strings"

	"visa-instrument/pkg/protocol"
)

// 生成 SCPI 数组回复样本，用于调试客户端解码
func main() {
	format := flag.String("format", "real,32", "数据格式 ascii|real,32|real,64")
	little := flag.Bool("swap", false, "二进制块使用小端")
	points := flag.Int("points", 8, "数据点数")
	complexData := flag.Bool("complex", false, "生成交错的实部/虚部")
	random := flag.Bool("random", false, "生成随机数据")
	seed := flag.Int64("seed", 1, "随机种子")
	flag.Parse()

	f, ok := protocol.ParseArrayFormat(*format, !*little)
	if !ok {
		fmt.Fprintf(os.Stderr, "不支持的数据格式 %q\n", *format)
		os.Exit(1)
	}

	values := generateTrace(*points, *complexData, *random, rand.New(rand.NewSource(*seed)))

	var payload []byte
	if f.IsBinary() {
		block, err := protocol.EncodeBinaryBlock(values, f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "编码失败: %v\n", err)
			os.Exit(1)
		}
		payload = block
	} else {
		payload = []byte(protocol.EncodeASCIIArray(values))
	}

	fmt.Printf("格式:       %s (大端=%v)\n", f.SCPI(), f.BigEndian)
	fmt.Printf("字节数:     %d\n", len(payload))
	if f.IsBinary() {
		fmt.Printf("十六进制:   %s\n", hex.EncodeToString(payload))
		fmt.Printf("Go格式:     []byte{%s}\n", toGoArray(payload))
	} else {
		fmt.Printf("文本:       %s\n", payload)
	}
	parseAndDisplay(payload, f, *complexData)
}

// generateTrace 模拟一条 -3dB 附近起伏的扫描曲线
func generateTrace(points int, complexData, random bool, rng *rand.Rand) []float64 {
	n := points
	if complexData {
		n *= 2
	}
	values := make([]float64, n)
	for i := 0; i < points; i++ {
		mag := -3 + math.Sin(float64(i)/4)
		if random {
			mag += rng.NormFloat64() * 0.1
		}
		if !complexData {
			values[i] = mag
			continue
		}
		lin := math.Pow(10, mag/20)
		phase := -float64(i) * math.Pi / 16
		values[2*i] = lin * math.Cos(phase)
		values[2*i+1] = lin * math.Sin(phase)
	}
	return values
}

func parseAndDisplay(payload []byte, f protocol.ArrayFormat, complexData bool) {
	values, err := protocol.DecodeArray(payload, f)
	if err != nil {
		fmt.Printf("解码失败: %v\n", err)
		return
	}
	fmt.Printf("解码结果:   %d 个值\n", len(values))
	if !complexData {
		for i, v := range values {
			fmt.Printf("  [%d] %+.6f\n", i, v)
		}
		return
	}
	points, err := protocol.Complex(values)
	if err != nil {
		fmt.Printf("复数还原失败: %v\n", err)
		return
	}
	for i, c := range points {
		fmt.Printf("  [%d] %+.6f %+.6fi\n", i, real(c), imag(c))
	}
}

func toGoArray(data []byte) string {
	parts := make([]string, len(data))
	for i, b := range data {
		parts[i] = fmt.Sprintf("0x%02X", b)
	}
	return strings.Join(parts, ", ")
}
