package main

import (
	"os"

	"lakemart/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
