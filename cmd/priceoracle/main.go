package main

import "sol-price-oracle/internal/cli"

func main() {
	cli.Execute()
}
