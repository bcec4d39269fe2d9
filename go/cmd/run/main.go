package run

import (
	"os"

	"github.com/tinyrv/rvkern/go/cmd"
)

func Main(args []string) {
	os.Exit(cmd.NewKernelCmd().Run(args))
}

func init() { cmd.Register("run", "boot the kernel and run user programs", Main) }
