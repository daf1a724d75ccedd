package main

import "github.com/so-miner/backend/internal/cli"

func main() {
	cli.Execute()
}
