package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/mattn/go-isatty"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"

	"github.com/tinyrv/rvkern/go/kernel"
	"github.com/tinyrv/rvkern/go/kernel/halt"
	"github.com/tinyrv/rvkern/go/machine"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/tarfs"
	"github.com/tinyrv/rvkern/go/ui"
	"github.com/tinyrv/rvkern/go/virtio"
)

// console is what the CLI feeds: a kernel console plus whatever pumps
// host input into it.
type console interface {
	models.Console
	Pump(ctx context.Context) error
	Close() error
}

type streamConsole struct {
	*ui.StreamConsole
	r io.Reader
}

func (s *streamConsole) Pump(ctx context.Context) error { return s.StreamConsole.Pump(ctx, s.r) }
func (s *streamConsole) Close() error                   { return nil }

type rawConsole struct{ *ui.RawConsole }

func (r rawConsole) Pump(ctx context.Context) error { return r.StreamConsole.Pump(ctx, os.Stdin) }

type KernelCmd struct {
	Config *models.Config
	Flags  *flag.FlagSet

	// MakeConsole picks the console backend. The default uses a raw or line
	// edited terminal when stdin is one, and plain streams otherwise.
	MakeConsole func(line bool, interrupt func()) (console, error)
	// Images returns the flat binaries to start. The default reads the
	// paths left on the command line, or assembles the demo shell.
	Images func(paths []string) ([][]byte, error)
	Stdout io.Writer
	Stderr io.Writer
}

func NewKernelCmd() *KernelCmd {
	c := &KernelCmd{
		Flags:  flag.NewFlagSet("rvkern", flag.ExitOnError),
		Stdout: os.Stdout,
		Stderr: os.Stderr,
	}
	c.MakeConsole = c.defaultConsole
	c.Images = c.defaultImages
	return c
}

func (c *KernelCmd) defaultConsole(line bool, interrupt func()) (console, error) {
	if !isatty.IsTerminal(os.Stdin.Fd()) {
		return &streamConsole{ui.NewStreamConsole(c.Stdout), os.Stdin}, nil
	}
	if line {
		l, err := ui.NewLineConsole()
		if err != nil {
			return nil, err
		}
		return l, nil
	}
	raw, err := ui.NewRawConsole(os.Stdin, os.Stdout)
	if err != nil {
		return nil, err
	}
	raw.Interrupt = interrupt
	return rawConsole{raw}, nil
}

func (c *KernelCmd) defaultImages(paths []string) ([][]byte, error) {
	if len(paths) == 0 {
		shell, err := DemoShell(c.Config.Layout.UserBase)
		if err != nil {
			return nil, errors.Wrap(err, "assembling shell")
		}
		return [][]byte{shell}, nil
	}
	var images [][]byte
	for _, path := range paths {
		image, err := os.ReadFile(path)
		if err != nil {
			return nil, errors.Wrap(err, "reading image")
		}
		images = append(images, image)
	}
	return images, nil
}

type stackTracer interface {
	StackTrace() errors.StackTrace
}

func (c *KernelCmd) PrintError(err error) {
	// print an error, and a stacktrace if available
	fmt.Fprintf(c.Stderr, "%s\n", strings.Repeat("-", 40))
	fmt.Fprintf(c.Stderr, "Error: %s\n", err)
	if err, ok := err.(stackTracer); ok {
		// parse full path and method name for each stack frame
		var frames [][]string
		for _, f := range err.StackTrace() {
			fullpath := ""
			fileline := fmt.Sprintf("%s:%d", f, f)
			method := fmt.Sprintf("%n", f)

			frame := fmt.Sprintf("%+s", f)
			tmp := strings.SplitN(frame, "\n", 3)
			if len(tmp) == 2 {
				pathsplit := strings.Split(tmp[0], "/")
				method = pathsplit[len(pathsplit)-1]
				fullpath = strings.TrimSpace(tmp[1])
			}
			frames = append(frames, []string{fullpath, fileline, method})
			if method == "main.main" {
				break
			}
		}
		// calculate column widths
		widths := make([]int, 2)
		for _, f := range frames {
			for i, s := range f[:2] {
				if len(s) > widths[i] {
					widths[i] = len(s)
				}
			}
		}
		// print pretty stacktrace
		for _, f := range frames {
			method := f[2]
			for i := 0; i < 2; i++ {
				if widths[i] > 0 {
					pad := strings.Repeat(" ", widths[i]-len(f[i]))
					fmt.Fprintf(c.Stderr, "%s%s | ", f[i], pad)
				}
			}
			fmt.Fprintf(c.Stderr, "%s()\n", method)
		}
	}
}

// Run parses argv, boots the kernel and runs it to completion. The result is
// the process exit status: 0 when every process exited, 1 on a kernel panic
// or setup error, 130 when interrupted.
func (c *KernelCmd) Run(argv []string) int {
	fs := c.Flags
	diskPath := fs.String("disk", "disk.tar", "USTAR disk image")
	mkdisk := fs.Bool("mkdisk", false, "create an empty disk image if -disk does not exist")
	ram := fs.Uint("ram", 16, "RAM size in MiB")
	procs := fs.Int("procs", 8, "process table slots, including idle")
	tracefile := fs.String("trace", "", "write a binary trap trace to file")
	verbose := fs.Bool("v", false, "verbose output, including a syscall trace")
	color := fs.String("color", "auto", "colored panics: auto, always or never")
	line := fs.Bool("line", false, "line edited console with history")
	timeout := fs.Duration("timeout", 2*time.Second, "give up on a disk request after this long")
	outfile := fs.String("o", "", "redirect log output to file (default stderr)")

	fs.Usage = func() {
		fmt.Fprintf(c.Stderr, "Usage: %s [options] [image...]\n\nOptions:\n", argv[0])
		var flags []*flag.Flag
		fs.VisitAll(func(f *flag.Flag) { flags = append(flags, f) })
		models.PrintFlags(c.Stderr, flags)
		fmt.Fprintf(c.Stderr, "\nWithout images, the builtin shell runs.\n")
		fmt.Fprintf(c.Stderr, "\nExample:\n  %s -mkdisk -disk disk.tar\n", argv[0])
	}
	fs.Parse(argv[1:])

	config := models.DefaultConfig()
	c.Config = config
	config.ProcsMax = *procs
	config.IOTimeout = *timeout
	config.Verbose = *verbose
	config.TraceFile = *tracefile
	if *ram != 16 {
		config.Layout.RAMSize = uint32(*ram) << 20
		config.Layout.FreeRAMEnd = config.Layout.RAMBase + config.Layout.RAMSize
	}
	switch *color {
	case "always":
		config.Color = true
	case "never":
	case "auto":
		config.Color = isatty.IsTerminal(os.Stderr.Fd())
	default:
		fmt.Fprintf(c.Stderr, "invalid -color %q\n", *color)
		return 2
	}
	if *outfile != "" {
		out, err := os.OpenFile(*outfile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			c.PrintError(err)
			return 1
		}
		defer out.Close()
		config.Output = out
	} else {
		config.Output = c.Stderr
	}
	if err := config.Validate(); err != nil {
		c.PrintError(err)
		return 1
	}

	images, err := c.Images(fs.Args())
	if err != nil {
		c.PrintError(err)
		return 1
	}
	disk, err := virtio.OpenFileDisk(*diskPath, tarfs.DiskSize, *mkdisk)
	if err != nil {
		c.PrintError(err)
		return 1
	}
	defer disk.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	con, err := c.MakeConsole(*line, cancel)
	if err != nil {
		c.PrintError(err)
		return 1
	}
	defer con.Close()

	err = c.boot(ctx, cancel, con, disk, images)
	switch {
	case err == nil:
		return 0
	case errors.Cause(err) == context.Canceled || err == ui.ErrInterrupt:
		return 130
	}
	if _, ok := err.(*halt.FatalError); !ok {
		c.PrintError(err)
	}
	return 1
}

// boot runs the kernel and the console pump side by side until the kernel
// stops.
func (c *KernelCmd) boot(ctx context.Context, cancel func(), con console, disk virtio.Disk, images [][]byte) error {
	board, err := machine.NewBoard(c.Config, disk, con)
	if err != nil {
		return err
	}
	defer board.Close()
	k, err := kernel.New(c.Config, board)
	if err != nil {
		return err
	}
	if err := k.Boot(); err != nil {
		return err
	}
	for _, image := range images {
		if _, err := k.Spawn(image); err != nil {
			return err
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		defer cancel()
		return k.Run(gctx)
	})
	g.Go(func() error {
		return con.Pump(gctx)
	})
	return g.Wait()
}
