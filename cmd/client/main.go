package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"visa-instrument/internal/config"
	"visa-instrument/pkg/visa"
)

var (
	configFile string
	verbose    bool

	cfg *config.Config
	log = logrus.New()

	// 覆盖配置文件的连接参数
	flagAddress   string
	flagTimeout   time.Duration
	flagDelay     time.Duration
	flagReadTerm  string
	flagWriteTerm string
	flagBaudRate  int
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "visa-client",
		Short: "SCPI instrument client",
		Long:  "通过 VISA 地址（TCPIP::host::port::SOCKET 或 ASRL 串口）控制仪器或模拟器",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return loadClientConfig(cmd)
		},
		SilenceUsage: true,
	}

	flags := rootCmd.PersistentFlags()
	flags.StringVarP(&configFile, "config", "c", "configs/config.yaml", "配置文件路径")
	flags.BoolVarP(&verbose, "verbose", "v", false, "输出每条读写命令")
	flags.StringVarP(&flagAddress, "address", "a", "", "资源地址，覆盖配置与 VISA_ADDRESS")
	flags.DurationVar(&flagTimeout, "timeout", 0, "I/O 超时")
	flags.DurationVar(&flagDelay, "delay", -1, "命令间延时")
	flags.StringVar(&flagReadTerm, "read-term", "", "读结束符")
	flags.StringVar(&flagWriteTerm, "write-term", "", "写结束符")
	flags.IntVar(&flagBaudRate, "baud", 0, "串口波特率")

	rootCmd.AddCommand(
		newIDNCmd(),
		newQueryCmd(),
		newWriteCmd(),
		newAsyncCmd(),
		newArrayCmd(),
		newDAQCmd(),
		newVNACmd(),
		newPSUCmd(),
		newRelayCmd(),
		newShellCmd(),
	)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// loadClientConfig 配置文件缺失时使用默认配置
func loadClientConfig(cmd *cobra.Command) error {
	var err error
	cfg, err = config.LoadConfig(configFile)
	if err != nil {
		cfg = config.GetDefaultConfig()
		cfg.ApplyEnv()
		if cmd.Flags().Changed("config") {
			return err
		}
	}

	r := &cfg.Resource
	if flagAddress != "" {
		r.Address = flagAddress
	}
	if flagTimeout > 0 {
		r.Timeout = flagTimeout
	}
	if flagDelay >= 0 {
		r.Delay = flagDelay
	}
	if flagReadTerm != "" {
		r.ReadTerm = unescape(flagReadTerm)
	}
	if flagWriteTerm != "" {
		r.WriteTerm = unescape(flagWriteTerm)
	}
	if flagBaudRate > 0 {
		r.BaudRate = flagBaudRate
	}

	log.SetFormatter(&logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "2006-01-02 15:04:05",
	})
	log.SetOutput(os.Stderr)
	if verbose {
		log.SetLevel(logrus.DebugLevel)
	} else {
		level, err := logrus.ParseLevel(cfg.Log.Level)
		if err != nil {
			level = logrus.InfoLevel
		}
		log.SetLevel(level)
	}
	return nil
}

// unescape 命令行里的 \n \r
func unescape(s string) string {
	out := make([]byte, 0, len(s))
	for i := 0; i < len(s); i++ {
		if s[i] == '\\' && i+1 < len(s) {
			switch s[i+1] {
			case 'n':
				out = append(out, '\n')
				i++
				continue
			case 'r':
				out = append(out, '\r')
				i++
				continue
			}
		}
		out = append(out, s[i])
	}
	return string(out)
}

func resourceOptions() []visa.Option {
	return []visa.Option{
		visa.WithDelay(cfg.Resource.Delay),
		visa.WithTimeout(cfg.Resource.Timeout),
		visa.WithMaxAttempts(cfg.Resource.MaxAttempts),
		visa.WithLogger(log),
	}
}

// opener 各类封装都满足
type opener interface {
	Open(readTerm, writeTerm string, baudRate int) error
}

func open(o opener) error {
	r := cfg.Resource
	if err := o.Open(r.ReadTerm, r.WriteTerm, r.BaudRate); err != nil {
		return fmt.Errorf("打开 %s 失败: %w", r.Address, err)
	}
	return nil
}

// withResource 打开通用资源，执行 fn 后关闭
func withResource(fn func(r *visa.Resource) error) error {
	res := visa.NewResource(cfg.Resource.Name, cfg.Resource.Address, resourceOptions()...)
	if err := open(res); err != nil {
		return err
	}
	defer res.Close()
	return fn(res)
}
