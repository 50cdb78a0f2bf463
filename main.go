package main

import "claude-local-proxy/cmd"

func main() {
	cmd.Execute()
}
