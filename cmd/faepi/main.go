package main

import "github.com/fae-ai/fae-pi/internal/cli"

func main() {
	cli.Execute()
}
