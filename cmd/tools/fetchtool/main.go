// fetchtool 在沙箱内抓取一个 URL 并返回正文。
// 需要 network 能力授权, 未授权时直接拒绝执行。
package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"
)

// 正文最多保留 64KB, 避免把超大页面塞进会话记忆。
const maxBodyBytes = 64 * 1024

type request struct {
	URL string `json:"url"`
}

type response struct {
	Result      string `json:"result"`
	Status      int    `json:"status"`
	ContentType string `json:"content_type,omitempty"`
	Truncated   bool   `json:"truncated,omitempty"`
}

func main() {
	if os.Getenv("EDGEAGENT_CAP_NETWORK") != "1" {
		fmt.Fprintln(os.Stderr, "缺少 network 能力授权")
		os.Exit(1)
	}

	var req request
	if err := json.NewDecoder(os.Stdin).Decode(&req); err != nil {
		fmt.Fprintf(os.Stderr, "无法解析输入: %v\n", err)
		os.Exit(1)
	}
	url := strings.TrimSpace(req.URL)
	if !strings.HasPrefix(url, "http://") && !strings.HasPrefix(url, "https://") {
		fmt.Fprintf(os.Stderr, "仅支持 http/https URL: %q\n", url)
		os.Exit(1)
	}

	client := &http.Client{Timeout: 20 * time.Second}
	resp, err := client.Get(url)
	if err != nil {
		fmt.Fprintf(os.Stderr, "请求失败: %v\n", err)
		os.Exit(1)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes+1))
	if err != nil {
		fmt.Fprintf(os.Stderr, "读取响应失败: %v\n", err)
		os.Exit(1)
	}
	truncated := false
	if len(body) > maxBodyBytes {
		body = body[:maxBodyBytes]
		truncated = true
	}

	_ = json.NewEncoder(os.Stdout).Encode(response{
		Result:      string(body),
		Status:      resp.StatusCode,
		ContentType: resp.Header.Get("Content-Type"),
		Truncated:   truncated,
	})
}
