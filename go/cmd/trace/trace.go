package trace

import (
	"encoding/json"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/pkg/errors"

	"github.com/tinyrv/rvkern/go/cmd"
	"github.com/tinyrv/rvkern/go/kernel"
	"github.com/tinyrv/rvkern/go/models"
	"github.com/tinyrv/rvkern/go/models/trace"
	"github.com/tinyrv/rvkern/go/ui"
)

func PrintJson(w io.Writer, tf *trace.TraceReader) error {
	out, err := json.Marshal(&tf.Header)
	if err != nil {
		return errors.Wrap(err, "error printing header")
	}
	fmt.Fprintf(w, "%s\n", out)
	for {
		rec, err := tf.Next()
		if err == io.EOF {
			break
		} else if err != nil {
			return errors.Wrap(err, "error reading next trace record")
		}
		out, _ := json.Marshal(rec)
		fmt.Fprintf(w, "%s\n", out)
	}
	return nil
}

func PrintPretty(w io.Writer, tf *trace.TraceReader, verbose bool) error {
	config := models.DefaultConfig()
	config.Output = w
	config.Verbose = verbose
	return ui.NewStreamUI(config, kernel.SyscallNames()).Play(tf)
}

func Main(args []string) {
	fs := flag.NewFlagSet("args", flag.ExitOnError)
	jsonFlag := fs.Bool("json", false, "output trace as line-delimited JSON objects")
	verbose := fs.Bool("v", false, "print the trace header and a record count")
	fs.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: %s [options] <tracefile>\n", args[0])
		fs.PrintDefaults()
	}

	fs.Parse(args[1:])
	if fs.NArg() == 0 {
		fs.Usage()
		os.Exit(1)
	}

	f, err := os.Open(fs.Arg(0))
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	tf, err := trace.NewReader(f)
	if err != nil {
		f.Close()
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	defer tf.Close()

	if *jsonFlag {
		err = PrintJson(os.Stdout, tf)
	} else {
		err = PrintPretty(os.Stdout, tf, *verbose)
	}
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() { cmd.Register("trace", "print a trap trace recorded with run -trace", Main) }
