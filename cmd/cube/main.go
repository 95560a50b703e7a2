package main

import (
	"os"

	"github.com/nenadatanasovski/memory-cube/cmd/cube/commands"
)

func main() {
	os.Exit(commands.Execute())
}
