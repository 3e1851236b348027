package main

import (
	"os"

	"github.com/raaihank/pdf-redactor/internal/cli"
)

func main() {
	os.Exit(cli.Execute(os.Args[1:]))
}
