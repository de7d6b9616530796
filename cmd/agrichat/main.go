// Package main 是终端聊天客户端的入口点。
package main

import "agri-assist-go/internal/cli"

func main() {
	cli.Execute()
}
