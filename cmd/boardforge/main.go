package main

import (
	"os"

	"github.com/schererja/boardforge/internal/cli"
)

func main() {
	os.Exit(cli.Execute())
}
