package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"

	"github.com/skyos/kernel/internal/cli"
	"github.com/skyos/kernel/internal/disk"
	"github.com/skyos/kernel/internal/log"
	"github.com/skyos/kernel/internal/vfs"
	"github.com/skyos/kernel/internal/vfs/fat16"
)

func Fsck() cli.Command {
	return &fscker{log: log.DefaultLogger()}
}

type fscker struct {
	log *log.Logger
}

func (fscker) Description() string {
	return "check a FAT16 volume image"
}

func (fscker) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `fsck volume.img [0:/path]

Resolves the FAT16 signature of volume.img and, if a path is given,
opens and stats it to confirm the volume is readable end to end.`)

	return err
}

func (fscker) FlagSet() *cli.FlagSet {
	return flag.NewFlagSet("fsck", flag.ExitOnError)
}

// Run resolves args[0] as a FAT16 volume and, if args[1] names a path,
// opens and stats it, printing the result.
func (f *fscker) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(args) == 0 {
		logger.Error("fsck: missing disk image argument")
		return 1
	}

	d, err := disk.Open(0, args[0])
	if err != nil {
		logger.Error("open disk", "err", err)
		return 1
	}

	defer d.Close()

	fs, ok := fat16.Resolve(d)
	if !ok {
		fmt.Fprintln(out, "no FAT16 signature found")
		return 1
	}

	fmt.Fprintln(out, "FAT16 signature OK")

	if len(args) < 2 {
		return 0
	}

	path, err := vfs.ParsePath(args[1])
	if err != nil {
		logger.Error("parse path", "err", err)
		return 1
	}

	h, err := fs.Open(path, vfs.ModeRead)
	if err != nil {
		logger.Error("open file", "err", err)
		return 1
	}

	defer fs.Close(h)

	stat, err := fs.Stat(h)
	if err != nil {
		logger.Error("stat file", "err", err)
		return 1
	}

	fmt.Fprintf(out, "%s: %d bytes\n", path.String(), stat.Size)

	return 0
}
