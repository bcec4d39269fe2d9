package ui

import (
	"context"
	"io"
	"path/filepath"
	"sync"

	"github.com/chzyer/readline"
	"github.com/pkg/errors"
	"github.com/shibukawa/configdir"
)

// ErrInterrupt is returned by LineConsole.Pump when the user hits ^C.
var ErrInterrupt = errors.New("interrupted")

// LineConsole edits input a line at a time with history, and hands each
// finished line to the kernel followed by a newline. Readline already shows
// what was typed, so output that repeats the pending line is swallowed.
type LineConsole struct {
	*StreamConsole
	rl *readline.Instance

	mu   sync.Mutex
	echo []byte
}

func historyPath() string {
	configDirs := configdir.New("rvkern", "console")
	cacheDir := configDirs.QueryCacheFolder()
	if err := cacheDir.MkdirAll(); err != nil {
		return ""
	}
	return filepath.Join(cacheDir.Path, "history")
}

func NewLineConsole() (*LineConsole, error) {
	rl, err := readline.NewEx(&readline.Config{
		InterruptPrompt: "^C",
		HistoryFile:     historyPath(),
	})
	if err != nil {
		return nil, err
	}
	return &LineConsole{StreamConsole: NewStreamConsole(rl.Stdout()), rl: rl}, nil
}

// Pump reads lines until EOF, ^C or cancellation.
func (l *LineConsole) Pump(ctx context.Context) error {
	go func() {
		<-ctx.Done()
		l.rl.Close()
	}()
	for {
		line, err := l.rl.Readline()
		if err == readline.ErrInterrupt {
			return ErrInterrupt
		} else if err == io.EOF {
			return nil
		} else if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return errors.Wrap(err, "readline")
		}
		l.mu.Lock()
		l.echo = append(l.echo, line+"\n"...)
		l.mu.Unlock()
		if err := l.Push(ctx, []byte(line+"\n")); err != nil {
			return nil
		}
	}
}

func (l *LineConsole) PutChar(c byte) error {
	l.mu.Lock()
	if len(l.echo) > 0 {
		if l.echo[0] == c {
			l.echo = l.echo[1:]
			l.mu.Unlock()
			return nil
		}
		// the program is not echoing
		l.echo = nil
	}
	l.mu.Unlock()
	return l.StreamConsole.PutChar(c)
}

func (l *LineConsole) Close() error {
	return l.rl.Close()
}
