package main

import "github.com/agentic-research/dumpforge/cmd"

func main() {
	cmd.Execute()
}
