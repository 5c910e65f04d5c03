package main

import "github.com/btcex/btcexd/internal/cli"

func main() {
	cli.Execute()
}
