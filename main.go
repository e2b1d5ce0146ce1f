package main

import "github.com/chatstack/llm-router/cmd"

func main() {
	cmd.Execute()
}
