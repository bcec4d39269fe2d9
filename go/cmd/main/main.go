package main

import (
	"github.com/tinyrv/rvkern/go/cmd"

	_ "github.com/tinyrv/rvkern/go/cmd/run"

	_ "github.com/tinyrv/rvkern/go/cmd/mkdisk"
	_ "github.com/tinyrv/rvkern/go/cmd/trace"
)

func main() { cmd.Main() }
