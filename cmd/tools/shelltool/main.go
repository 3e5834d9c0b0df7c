// shelltool 在沙箱内执行一条命令。
// 需要 execution 能力授权; 命令名必须在白名单内,
// 且不经过 shell 解释, 直接按参数拆分执行。
package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/exec"
	"slices"
	"strings"
)

// 输出最多保留 32KB。
const maxOutputBytes = 32 * 1024

// 只允许只读类命令, 避免工具被用来改写沙箱之外的状态。
var allowedCommands = []string{
	"ls", "pwd", "echo", "cat", "head", "tail", "wc",
	"grep", "find", "whoami", "date", "uname",
}

type request struct {
	Command string `json:"command"`
}

type response struct {
	Result   string `json:"result"`
	ExitCode int    `json:"exit_code"`
}

// checkCommand 拆分命令并校验命令名是否在白名单内。
func checkCommand(command string) ([]string, error) {
	fields := strings.Fields(command)
	if len(fields) == 0 {
		return nil, fmt.Errorf("command 不能为空")
	}
	if !slices.Contains(allowedCommands, fields[0]) {
		return nil, fmt.Errorf("命令 %q 不在白名单内", fields[0])
	}
	return fields, nil
}

func main() {
	if os.Getenv("EDGEAGENT_CAP_EXECUTION") != "1" {
		fmt.Fprintln(os.Stderr, "缺少 execution 能力授权")
		os.Exit(1)
	}

	var req request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "无法解析输入: %v\n", err)
		os.Exit(1)
	}
	fields, err := checkCommand(req.Command)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	cmd := exec.Command(fields[0], fields[1:]...)
	output, err := cmd.CombinedOutput()
	exitCode := 0
	if err != nil {
		if exitErr, ok := err.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			fmt.Fprintf(os.Stderr, "命令启动失败: %v\n", err)
			os.Exit(1)
		}
	}
	if len(output) > maxOutputBytes {
		output = output[:maxOutputBytes]
	}

	_ = json.NewEncoder(os.Stdout).Encode(response{
		Result:   string(output),
		ExitCode: exitCode,
	})
}
