package main

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/peterh/liner"
	"github.com/spf13/cobra"

	"visa-instrument/pkg/protocol"
	"visa-instrument/pkg/visa"
)

const historyFile = ".visa_client_history"

var shellCommands = []string{"help", "quit", "exit", "async ", "sync", "esr", "*IDN?", "*CLS", "*RST", "*OPC?", "*ESR?"}

func newShellCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "shell",
		Short: "交互式 SCPI 会话",
		Long:  "以 ? 结尾的命令头作为查询并打印回复，其余作为写入；async <cmd> 等待长耗时命令完成",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			return withResource(runShell)
		},
	}
}

func runShell(r *visa.Resource) error {
	shell := liner.NewLiner()
	defer shell.Close()

	shell.SetCtrlCAborts(true)
	shell.SetCompleter(func(line string) (c []string) {
		for _, name := range shellCommands {
			if strings.HasPrefix(strings.ToLower(name), strings.ToLower(line)) {
				c = append(c, name)
			}
		}
		return
	})

	history := historyPath()
	if f, err := os.Open(history); err == nil {
		shell.ReadHistory(f)
		f.Close()
	}

	fmt.Printf("已连接 %s，输入 help 查看用法，Ctrl-D 退出\n", r.Address)
	for {
		input, err := shell.Prompt(r.Name + "> ")
		if err == liner.ErrPromptAborted || err == io.EOF {
			fmt.Println()
			break
		}
		if err != nil {
			return err
		}
		input = strings.TrimSpace(input)
		if input == "" {
			continue
		}
		shell.AppendHistory(input)

		if input == "quit" || input == "exit" {
			break
		}
		if err := runShellLine(r, input); err != nil {
			fmt.Printf("错误: %v\n", err)
		}
	}

	if f, err := os.Create(history); err == nil {
		shell.WriteHistory(f)
		f.Close()
	}
	return nil
}

func runShellLine(r *visa.Resource, input string) error {
	lower := strings.ToLower(input)
	switch {
	case lower == "help":
		fmt.Println("  <cmd>?        查询，例如 ROUT:CLOS? (@101)")
		fmt.Println("  <cmd>         写入，例如 ROUT:CLOS (@101)")
		fmt.Println("  async <cmd>   *CLS + 命令 + *OPC，轮询 *ESR? 直到完成")
		fmt.Println("  sync          等待已发送的命令完成")
		fmt.Println("  esr           读取并解释事件状态寄存器")
		return nil
	case strings.HasPrefix(lower, "async "):
		return r.WriteAsync(strings.TrimSpace(input[len("async "):]), cfg.Resource.PollInterval, cfg.Resource.AsyncTimeout)
	case lower == "sync":
		return r.SyncCommands(cfg.Resource.PollInterval, cfg.Resource.AsyncTimeout)
	case lower == "esr":
		v, err := r.QueryInt(protocol.CmdEventStatus)
		if err != nil {
			return err
		}
		fmt.Printf("%d (%s)\n", v, protocol.DescribeESR(uint8(v)))
		return nil
	case protocol.IsQueryLine(input):
		reply, err := r.Query(input)
		if err != nil {
			return err
		}
		fmt.Println(reply)
		return nil
	}
	return r.Write(input)
}

func historyPath() string {
	home, err := os.UserHomeDir()
	if err != nil {
		return historyFile
	}
	return filepath.Join(home, historyFile)
}
