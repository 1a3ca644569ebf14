package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"visa-instrument/pkg/protocol"
	"visa-instrument/pkg/visa"
)

func newIDNCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "idn",
		Short: "查询 *IDN?",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResource(func(r *visa.Resource) error {
				id, err := r.ID()
				if err != nil {
					return err
				}
				fmt.Println(id)
				return nil
			})
		},
	}
}

func newQueryCmd() *cobra.Command {
	var (
		kind     string
		attempts int
	)
	cmd := &cobra.Command{
		Use:   "query <command>",
		Short: "发送查询并按类型解码回复",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			k, ok := protocol.ParseKind(kind)
			if !ok || k == protocol.KindArray {
				return fmt.Errorf("不支持的类型 %q", kind)
			}
			return withResource(func(r *visa.Resource) error {
				reply, err := r.QueryAs(strings.Join(args, " "), k, attempts)
				if err != nil {
					return err
				}
				fmt.Println(reply.String())
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&kind, "kind", "k", "string", "回复类型 string|float|int|bool")
	cmd.Flags().IntVar(&attempts, "attempts", 0, "最大尝试次数，0 使用配置")
	return cmd
}

func newWriteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "write <command>",
		Short: "发送不需要回复的命令",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResource(func(r *visa.Resource) error {
				return r.Write(strings.Join(args, " "))
			})
		},
	}
}

func newAsyncCmd() *cobra.Command {
	var poll, wait time.Duration
	cmd := &cobra.Command{
		Use:   "async <command>",
		Short: "执行长耗时命令并轮询 *ESR? 直到完成",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResource(func(r *visa.Resource) error {
				line := strings.Join(args, " ")
				if poll <= 0 {
					poll = cfg.Resource.PollInterval
				}
				if wait <= 0 {
					wait = cfg.Resource.AsyncTimeout
				}
				if err := r.WriteAsync(line, poll, wait); err != nil {
					return err
				}
				log.Infof("完成: %s", line)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&poll, "poll", 0, "轮询间隔，0 使用配置")
	cmd.Flags().DurationVar(&wait, "wait", 0, "完成超时，0 使用配置")
	return cmd
}

func newArrayCmd() *cobra.Command {
	var (
		format string
		swap   bool
	)
	cmd := &cobra.Command{
		Use:   "array <command>",
		Short: "查询数值数组（ASCII 或二进制块）",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, ok := protocol.ParseArrayFormat(format, !swap)
			if !ok {
				return fmt.Errorf("不支持的数据格式 %q", format)
			}
			return withResource(func(r *visa.Resource) error {
				values, err := r.QueryArray(strings.Join(args, " "), f, 0)
				if err != nil {
					return err
				}
				for _, v := range values {
					fmt.Printf("%g\n", v)
				}
				log.Infof("共 %d 个数据点", len(values))
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", "ascii", "ascii|real,32|real,64")
	cmd.Flags().BoolVar(&swap, "swap", false, "二进制块为小端")
	return cmd
}
