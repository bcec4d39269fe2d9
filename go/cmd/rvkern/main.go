package main

import (
	"os"

	"github.com/tinyrv/rvkern/go/cmd"
)

func main() {
	os.Exit(cmd.NewKernelCmd().Run(os.Args))
}
