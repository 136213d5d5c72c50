package main

import "github.com/agentic-research/simpledb/cmd"

func main() {
	cmd.Execute()
}
