package main

import "github.com/forPelevin/clipseek/internal/cli"

func main() {
	cli.Main()
}
