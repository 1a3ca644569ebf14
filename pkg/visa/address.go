package visa

import (
	"fmt"
	"net"
	"strconv"
	"strings"
)

// AddressKind 资源地址类型
type AddressKind int

const (
	AddressTCP AddressKind = iota
	AddressSerial
)

// Address 解析后的VISA资源地址
type Address struct {
	Raw    string
	Kind   AddressKind
	Target string // host:port 或串口设备路径
}

// ParseAddress 解析常见的VISA资源地址:
//
//	TCPIP[n]::<host>::<port>::SOCKET
//	ASRL<device>::INSTR   (ASRL3::INSTR -> COM3)
//	<host>:<port>
//	/dev/ttyUSB0, COM3
func ParseAddress(raw string) (Address, error) {
	addr := Address{Raw: raw}
	s := strings.TrimSpace(raw)
	if s == "" {
		return addr, fmt.Errorf("资源地址为空")
	}
	upper := strings.ToUpper(s)
	parts := strings.Split(s, "::")

	switch {
	case strings.HasPrefix(upper, "TCPIP"):
		if len(parts) != 4 || !strings.EqualFold(parts[3], "SOCKET") {
			return addr, fmt.Errorf("不支持的TCPIP地址 %q, 需要 TCPIP::<host>::<port>::SOCKET", raw)
		}
		if _, err := strconv.Atoi(parts[2]); err != nil {
			return addr, fmt.Errorf("非法端口 %q: %w", parts[2], err)
		}
		addr.Kind = AddressTCP
		addr.Target = net.JoinHostPort(parts[1], parts[2])
		return addr, nil

	case strings.HasPrefix(upper, "ASRL"):
		dev := strings.TrimPrefix(parts[0], parts[0][:4])
		if dev == "" && len(parts) > 1 {
			dev = parts[1]
		}
		if dev == "" {
			return addr, fmt.Errorf("串口地址缺少设备 %q", raw)
		}
		if n, err := strconv.Atoi(dev); err == nil {
			dev = fmt.Sprintf("COM%d", n)
		}
		addr.Kind = AddressSerial
		addr.Target = dev
		return addr, nil

	case strings.HasPrefix(s, "/dev/") || strings.HasPrefix(upper, "COM"):
		addr.Kind = AddressSerial
		addr.Target = s
		return addr, nil
	}

	if _, port, err := net.SplitHostPort(s); err == nil && port != "" {
		addr.Kind = AddressTCP
		addr.Target = s
		return addr, nil
	}
	return addr, fmt.Errorf("无法识别的资源地址 %q", raw)
}

func (a Address) String() string {
	return a.Raw
}
