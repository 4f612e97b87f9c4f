package cmd

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/skyos/kernel/internal/cli"
	"github.com/skyos/kernel/internal/kernel"
	"github.com/skyos/kernel/internal/log"
)

func MkDisk() cli.Command {
	return &mkdisker{log: log.DefaultLogger()}
}

type mkdisker struct {
	bootSector string
	kernelImg  string
	log        *log.Logger
}

func (mkdisker) Description() string {
	return "write a bootable disk image"
}

func (mkdisker) Usage(out io.Writer) error {
	_, err := fmt.Fprintln(out, `mkdisk -boot sector.bin -kernel kernel.bin out.img

Writes a combined disk image: boot sector at LBA 0, the flat kernel image
at LBA 1, and an empty FAT16 volume starting at LBA 200, per the fixed
disk image layout. This image is meant for a real BIOS boot loader, not
for 'skyos boot', which expects a bare FAT16 volume.`)

	return err
}

func (m *mkdisker) FlagSet() *cli.FlagSet {
	fs := flag.NewFlagSet("mkdisk", flag.ExitOnError)
	fs.StringVar(&m.bootSector, "boot", "", "path to a 512-byte boot sector")
	fs.StringVar(&m.kernelImg, "kernel", "", "path to the flat kernel image")

	return fs
}

// Run writes the combined boot-sector/kernel/empty-FAT16 image args[0]
// names, per kernel.WriteImage, then reads it back to confirm both
// signatures round-trip.
func (m *mkdisker) Run(ctx context.Context, args []string, out io.Writer, logger *log.Logger) int {
	if len(args) == 0 {
		logger.Error("mkdisk: missing output path argument")
		return 1
	}

	bootSector, err := os.ReadFile(m.bootSector)
	if err != nil {
		logger.Error("read boot sector", "err", err)
		return 1
	}

	var kernelImage []byte

	if m.kernelImg != "" {
		kernelImage, err = os.ReadFile(m.kernelImg)
		if err != nil {
			logger.Error("read kernel image", "err", err)
			return 1
		}
	}

	f, err := os.OpenFile(args[0], os.O_CREATE|os.O_TRUNC|os.O_RDWR, 0o644)
	if err != nil {
		logger.Error("create disk image", "err", err)
		return 1
	}

	defer f.Close()

	if err := kernel.WriteImage(f, bootSector, kernelImage); err != nil {
		logger.Error("write disk image", "err", err)
		return 1
	}

	layout, err := kernel.ReadImageLayout(f)
	if err != nil {
		logger.Error("verify disk image", "err", err)
		return 1
	}

	if !layout.BootSignature || !layout.FAT16Present {
		logger.Error("disk image verification failed", "bootSignature", layout.BootSignature, "fat16Present", layout.FAT16Present)
		return 1
	}

	fmt.Fprintf(out, "wrote %s\n", args[0])
	logger.Info("disk image written", "path", args[0])

	return 0
}
