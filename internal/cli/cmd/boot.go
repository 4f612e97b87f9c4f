package cmd

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/term"

	"github.com/skyos/kernel/internal/cli"
	"github.com/skyos/kernel/internal/kernel"
	"github.com/skyos/kernel/internal/log"
)

func Boot() cli.Command {
	return &booter{log: log.DefaultLogger()}
}

type booter struct {
	timeout time.Duration
	log     *log.Logger
}

func (booter) Description() string {
	return "boot a disk image"
}

func (booter) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `boot disk.img

Boots the kernel against a FAT16 disk image, loading and scheduling the
image's 0:/blank.elf twice, then pumps stdin to the keyboard driver and
mirrors console output to stdout until stdin closes or -timeout elapses.`)

	return err
}

func (b *booter) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("boot", flag.ExitOnError)
	fs.DurationVar(&b.timeout, "timeout", 0, "halt after `duration`, 0 for no limit")

	return fs
}

// Run boots the kernel against args[0], a FAT16 disk image, then relays
// stdin to the keyboard driver and console output to stdout, the
// interactive analogue of exec's display-channel/run-loop idiom.
func (b *booter) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(args) == 0 {
		logger.Error("boot: missing disk image argument")
		return 1
	}

	if b.timeout > 0 {
		var cancel context.CancelFunc

		ctx, cancel = context.WithTimeout(ctx, b.timeout)
		defer cancel()
	}

	logger.Debug("booting kernel", "disk", args[0])

	k, err := kernel.Boot(args[0])
	if err != nil {
		logger.Error("boot failed", "err", err)
		return 1
	}

	defer k.Disk.Close()

	logger.Info("kernel booted", "processes", len(k.Processes))

	// Put a real terminal into raw mode so keystrokes reach the keyboard
	// driver one at a time, unbuffered and unechoed, the way a PS/2
	// controller delivers scancodes. Piped/non-terminal stdin is left
	// alone; ReadByte still works, just line-buffered by whatever feeds it.
	if stdinFD := int(os.Stdin.Fd()); term.IsTerminal(stdinFD) {
		prevState, err := term.MakeRaw(stdinFD)
		if err != nil {
			logger.Error("enter raw terminal mode", "err", err)
			return 1
		}

		defer term.Restore(stdinFD, prevState)
	}

	byteCh := make(chan byte, 256)
	k.Console.OnByte(func(b byte) { byteCh <- b })

	done := make(chan struct{})

	go func() {
		defer close(done)

		reader := bufio.NewReader(os.Stdin)

		for {
			b, err := reader.ReadByte()
			if err != nil {
				return
			}

			if err := k.PressKey(b); err != nil {
				logger.Error("press key", "err", err)
				return
			}
		}
	}()

	for {
		select {
		case b := <-byteCh:
			fmt.Fprintf(out, "%c", b)
		case <-done:
			return 0
		case <-ctx.Done():
			logger.Info("boot session ended", "reason", ctx.Err())
			return 0
		}
	}
}
