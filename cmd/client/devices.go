package main

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"visa-instrument/pkg/instrument"
	"visa-instrument/pkg/protocol"
)

func newDAQCmd() *cobra.Command {
	var (
		slots, channels int
		delay           time.Duration
	)
	withDAQ := func(fn func(d *instrument.DAQ) error) error {
		d := instrument.NewDAQ(cfg.Resource.Address, slots, channels, resourceOptions()...)
		if err := open(d); err != nil {
			return err
		}
		defer d.Close()
		return fn(d)
	}

	cmd := &cobra.Command{
		Use:   "daq",
		Short: "数据采集/开关主机",
	}
	cmd.PersistentFlags().IntVar(&slots, "slots", 3, "槽位数")
	cmd.PersistentFlags().IntVar(&channels, "channels", 20, "每槽通道数")
	cmd.PersistentFlags().DurationVar(&delay, "step-delay", 0, "每个通道操作后的等待")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "open <channel>...",
			Short: "断开通道",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDAQ(func(d *instrument.DAQ) error {
					if err := d.OpenChannels(args, delay); err != nil {
						return err
					}
					return d.WaitForCompletion(cfg.Resource.DoneTimeout)
				})
			},
		},
		&cobra.Command{
			Use:   "close <channel>...",
			Short: "闭合通道",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDAQ(func(d *instrument.DAQ) error {
					if err := d.CloseChannels(args, delay); err != nil {
						return err
					}
					return d.WaitForCompletion(cfg.Resource.DoneTimeout)
				})
			},
		},
		&cobra.Command{
			Use:   "open-slot <slot>",
			Short: "断开整个槽位",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				slot, err := strconv.Atoi(args[0])
				if err != nil {
					return err
				}
				return withDAQ(func(d *instrument.DAQ) error {
					return d.OpenAllChannels(slot, delay)
				})
			},
		},
		&cobra.Command{
			Use:   "close-slot <slot>",
			Short: "逐个闭合整个槽位",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				slot, err := strconv.Atoi(args[0])
				if err != nil {
					return err
				}
				return withDAQ(func(d *instrument.DAQ) error {
					return d.CloseAllChannels(slot, delay)
				})
			},
		},
		&cobra.Command{
			Use:   "status <channel>...",
			Short: "通道是否闭合",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDAQ(func(d *instrument.DAQ) error {
					for _, ch := range args {
						closed, err := d.IsChannelClosed(ch)
						if err != nil {
							return err
						}
						state := "OPEN"
						if closed {
							state = "CLOSED"
						}
						fmt.Printf("%s\t%s\n", ch, state)
					}
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "measure <probe> <type>",
			Short: "测量温度与相对湿度",
			Args:  cobra.ExactArgs(2),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withDAQ(func(d *instrument.DAQ) error {
					temp, err := d.MeasureTemperature(args[0], args[1])
					if err != nil {
						return err
					}
					rh, err := d.MeasureRelativeHumidity(args[0], args[1])
					if err != nil {
						return err
					}
					fmt.Printf("温度: %.2f °C\n湿度: %.1f %%\n", temp, rh)
					return nil
				})
			},
		},
	)
	return cmd
}

func newVNACmd() *cobra.Command {
	var ports int
	withVNA := func(fn func(v *instrument.VNA) error) error {
		v := instrument.NewVNA(cfg.Resource.Address, ports, resourceOptions()...)
		v.PollInterval = cfg.Resource.PollInterval
		v.AsyncTimeout = cfg.Resource.AsyncTimeout
		if err := open(v); err != nil {
			return err
		}
		defer v.Close()
		return fn(v)
	}

	cmd := &cobra.Command{
		Use:   "vna",
		Short: "矢量网络分析仪",
	}
	cmd.PersistentFlags().IntVar(&ports, "ports", 4, "端口数")

	var (
		start, stop float64
		points      int
		sweepType   string
	)
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "设置扫描参数并执行一次单次扫描",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVNA(func(v *instrument.VNA) error {
				if err := v.SetupSweep(start, stop, points, sweepType); err != nil {
					return err
				}
				if err := v.SetSweepMode("SINGLE"); err != nil {
					return err
				}
				log.Infof("扫描完成: %.0f - %.0f Hz, %d 点", start, stop, points)
				return nil
			})
		},
	}
	sweep.Flags().Float64Var(&start, "start", 10e6, "起始频率 Hz")
	sweep.Flags().Float64Var(&stop, "stop", 20e9, "终止频率 Hz")
	sweep.Flags().IntVar(&points, "points", 201, "扫描点数")
	sweep.Flags().StringVar(&sweepType, "type", "LINEAR", "扫描类型")

	var (
		format string
		kind   string
	)
	capture := &cobra.Command{
		Use:   "capture",
		Short: "读取当前测量的数据",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := protocol.ParseArrayFormat(format, true)
			if !ok {
				return fmt.Errorf("不支持的数据格式 %q", format)
			}
			return withVNA(func(v *instrument.VNA) error {
				if err := v.SetDataFormat(f); err != nil {
					return err
				}
				if strings.EqualFold(kind, "FDATA") {
					data, err := v.CaptureTrace()
					if err != nil {
						return err
					}
					for _, x := range data {
						fmt.Printf("%g\n", x)
					}
					return nil
				}
				data, err := v.CaptureComplex(strings.ToUpper(kind))
				if err != nil {
					return err
				}
				for _, c := range data {
					fmt.Printf("%g\t%g\n", real(c), imag(c))
				}
				return nil
			})
		},
	}
	capture.Flags().StringVarP(&format, "format", "f", "real,32", "ascii|real,32|real,64")
	capture.Flags().StringVar(&kind, "data", "FDATA", "FDATA|SDATA|RDATA")

	var (
		connectors, kits []string
		thru             []int
		saveName         string
		stepDelay        time.Duration
	)
	ecal := &cobra.Command{
		Use:   "ecal",
		Short: "引导式电子校准，每步前提示连接方式",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVNA(func(v *instrument.VNA) error {
				if err := v.SetupECalibration(connectors, kits, thru, true); err != nil {
					return err
				}
				cur, err := v.ECal(true, saveName, stepDelay)
				if err != nil {
					return err
				}
				for cur.HasNext() {
					desc, err := cur.PeekDescription()
					if err != nil {
						return err
					}
					fmt.Printf("[%d/%d] %s\n", cur.Step()+1, cur.Total(), desc)
					if err := cur.Advance(); err != nil {
						return err
					}
				}
				sets, err := v.CalSets()
				if err != nil {
					return err
				}
				fmt.Printf("校准集: %s\n", strings.Join(sets, ", "))
				return nil
			})
		},
	}
	ecal.Flags().StringSliceVar(&connectors, "connector", nil, "各端口连接器类型")
	ecal.Flags().StringSliceVar(&kits, "kit", nil, "各端口校准件")
	ecal.Flags().IntSliceVar(&thru, "thru", nil, "直通端口对，如 1,2,1,3")
	ecal.Flags().StringVar(&saveName, "save", "", "校准集名称")
	ecal.Flags().DurationVar(&stepDelay, "step-delay", 0, "每步之后的等待")

	var (
		mode  string
		sPort []int
	)
	sparams := &cobra.Command{
		Use:   "sparams",
		Short: "建立测量并读取多端口 S 参数",
		Long:  "mode 为 snp 时一次读取全部端口组合，ses 逐条读取单端测量，diff 读取差分 SDD 测量",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withVNA(func(v *instrument.VNA) error {
				if err := v.SetDataFormat(protocol.FormatReal64BE); err != nil {
					return err
				}
				switch strings.ToLower(mode) {
				case "snp":
					if _, err := v.SetupSNPTraces(sPort); err != nil {
						return err
					}
					data, err := v.CaptureSNPData(sPort)
					if err != nil {
						return err
					}
					for k, f := range data.Freq {
						fmt.Printf("%g", f)
						for r := range data.S {
							for c := range data.S[r] {
								s := data.S[r][c][k]
								fmt.Printf("\t%g\t%g", real(s), imag(s))
							}
						}
						fmt.Println()
					}
					return nil
				case "ses":
					if _, err := v.SetupSESTraces(sPort, sPort); err != nil {
						return err
					}
					data, err := v.CaptureSESTraces(sPort, sPort)
					if err != nil {
						return err
					}
					printTraces(data, instrument.SESTraceName, sPort)
					return nil
				case "diff":
					if err := v.SetupDiffTraces(); err != nil {
						return err
					}
					data, err := v.CaptureDiffTraces()
					if err != nil {
						return err
					}
					printTraces(data, instrument.DiffTraceName, nil)
					return nil
				}
				return fmt.Errorf("未知模式 %q", mode)
			})
		},
	}
	sparams.Flags().StringVar(&mode, "mode", "snp", "snp|ses|diff")
	sparams.Flags().IntSliceVar(&sPort, "port", nil, "0 起始的端口，默认全部")

	cmd.AddCommand(sweep, capture, ecal, sparams)
	return cmd
}

// printTraces 每条测量一段，首行为测量名
func printTraces(data [][][]complex128, name func(a, b int) string, ports []int) {
	index := func(i int) int {
		if i < len(ports) {
			return ports[i]
		}
		return i
	}
	for i, row := range data {
		for j, trace := range row {
			fmt.Println(name(index(i), index(j)))
			for _, c := range trace {
				fmt.Printf("%g\t%g\n", real(c), imag(c))
			}
		}
	}
}

func newRelayCmd() *cobra.Command {
	var (
		channels int
		delay    time.Duration
		user     string
		password string
	)
	withRelay := func(fn func(r *instrument.Relay) error) error {
		r := instrument.NewRelay(cfg.Resource.Address, channels,
			instrument.WithRelayTimeout(cfg.Resource.Timeout),
			instrument.WithRelayLogger(log),
			instrument.WithRelayLogin(user, password),
		)
		if err := r.Open(cfg.Resource.BaudRate); err != nil {
			return fmt.Errorf("打开 %s 失败: %w", cfg.Resource.Address, err)
		}
		defer r.Close()
		return fn(r)
	}
	channelArgs := func(args []string) ([]int, error) {
		chs := make([]int, len(args))
		for i, a := range args {
			ch, err := strconv.Atoi(a)
			if err != nil {
				return nil, err
			}
			chs[i] = ch
		}
		return chs, nil
	}

	cmd := &cobra.Command{
		Use:   "relay",
		Short: "Numato 继电器模块，地址为 USB::<串口> 或 TCP::<主机>",
	}
	cmd.PersistentFlags().IntVar(&channels, "channels", 8, "通道数")
	cmd.PersistentFlags().DurationVar(&delay, "step-delay", 0, "每个通道操作后的等待")
	cmd.PersistentFlags().StringVar(&user, "user", "admin", "网络型模块用户名")
	cmd.PersistentFlags().StringVar(&password, "password", "admin", "网络型模块密码")

	cmd.AddCommand(
		&cobra.Command{
			Use:   "open [channel]...",
			Short: "断开通道，不带参数时断开全部",
			RunE: func(cmd *cobra.Command, args []string) error {
				chs, err := channelArgs(args)
				if err != nil {
					return err
				}
				return withRelay(func(r *instrument.Relay) error {
					if len(chs) == 0 {
						return r.OpenAllChannels(delay)
					}
					return r.OpenChannels(chs, delay)
				})
			},
		},
		&cobra.Command{
			Use:   "close [channel]...",
			Short: "闭合通道，不带参数时闭合全部",
			RunE: func(cmd *cobra.Command, args []string) error {
				chs, err := channelArgs(args)
				if err != nil {
					return err
				}
				return withRelay(func(r *instrument.Relay) error {
					if len(chs) == 0 {
						return r.CloseAllChannels(delay)
					}
					return r.CloseChannels(chs, delay)
				})
			},
		},
		&cobra.Command{
			Use:   "status <channel>...",
			Short: "通道是否闭合",
			Args:  cobra.MinimumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				chs, err := channelArgs(args)
				if err != nil {
					return err
				}
				return withRelay(func(r *instrument.Relay) error {
					for _, ch := range chs {
						closed, err := r.ChannelState(ch)
						if err != nil {
							return err
						}
						state := "OPEN"
						if closed {
							state = "CLOSED"
						}
						fmt.Printf("%d\t%s\n", ch, state)
					}
					return nil
				})
			},
		},
	)
	return cmd
}

func newPSUCmd() *cobra.Command {
	withPSU := func(fn func(p *instrument.PSU) error) error {
		p := instrument.NewPSU(cfg.Resource.Address, resourceOptions()...)
		if err := open(p); err != nil {
			return err
		}
		defer p.Close()
		return fn(p)
	}

	cmd := &cobra.Command{
		Use:   "psu",
		Short: "直流电源",
	}
	cmd.AddCommand(
		&cobra.Command{
			Use:   "apply <output> <volt> <curr>",
			Short: "设置输出电压与限流",
			Args:  cobra.ExactArgs(3),
			RunE: func(cmd *cobra.Command, args []string) error {
				volt, err := strconv.ParseFloat(args[1], 64)
				if err != nil {
					return err
				}
				curr, err := strconv.ParseFloat(args[2], 64)
				if err != nil {
					return err
				}
				return withPSU(func(p *instrument.PSU) error {
					return p.Apply(args[0], volt, curr)
				})
			},
		},
		&cobra.Command{
			Use:       "output <on|off>",
			Short:     "打开或关闭输出",
			Args:      cobra.ExactArgs(1),
			ValidArgs: []string{"on", "off"},
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPSU(func(p *instrument.PSU) error {
					return p.SetOutputState(strings.EqualFold(args[0], "on"))
				})
			},
		},
		&cobra.Command{
			Use:   "measure [output]",
			Short: "测量电压与电流",
			Args:  cobra.MaximumNArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPSU(func(p *instrument.PSU) error {
					if len(args) == 1 {
						if err := p.SetChannel(args[0]); err != nil {
							return err
						}
					}
					v, err := p.MeasuredVoltage()
					if err != nil {
						return err
					}
					c, err := p.MeasuredCurrent()
					if err != nil {
						return err
					}
					fmt.Printf("%.3f V\t%.3f A\n", v, c)
					return nil
				})
			},
		},
		&cobra.Command{
			Use:   "display <text>",
			Short: "设置面板文字，空字符串清除",
			Args:  cobra.ExactArgs(1),
			RunE: func(cmd *cobra.Command, args []string) error {
				return withPSU(func(p *instrument.PSU) error {
					if args[0] == "" {
						return p.ClearDisplayText()
					}
					return p.SetDisplayText(args[0])
				})
			},
		},
	)
	return cmd
}
