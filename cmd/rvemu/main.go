// Command rvemu boots a single-hart RISC-V machine from a firmware image
// (and optional kernel/initrd) and runs it to completion or exit.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/schollz/progressbar/v3"
	"golang.org/x/term"

	"github.com/tinyrange/rvcore/internal/riscv"
)

func main() {
	if err := run(); err != nil {
		slog.Error("rvemu failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		configPath = flag.String("config", "", "path to a YAML machine config (overrides the flags below)")
		firmware   = flag.String("firmware", "", "path to the firmware/bootloader image")
		kernel     = flag.String("kernel", "", "path to an optional kernel image")
		initrd     = flag.String("initrd", "", "path to an optional initrd image")
		cmdline    = flag.String("cmdline", "", "kernel command line")
		xlen       = flag.Int("xlen", 64, "register width: 32, 64 or 128")
		ramSize    = flag.Int64("ram", 256*1024*1024, "RAM size in bytes")
		numVirtio  = flag.Int("virtio-devices", 0, "number of virtio-mmio windows to reserve")
		budget     = flag.Int64("budget", 0, "instruction budget, 0 = run until exit")
		verbose    = flag.Bool("v", false, "enable debug logging")
	)
	flag.Parse()

	level := slog.LevelInfo
	if *verbose {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	cfg, err := loadConfig(*configPath, *firmware, *kernel, *initrd, *cmdline, *xlen, *ramSize, *numVirtio)
	if err != nil {
		return err
	}

	machine, err := riscv.NewMachine(cfg)
	if err != nil {
		return fmt.Errorf("rvemu: creating machine: %w", err)
	}

	kernelStart, kernelEnd, initrdStart, initrdEnd, err := machine.LoadImages(progressBar)
	if err != nil {
		return fmt.Errorf("rvemu: loading images: %w", err)
	}
	if err := machine.BuildAndPlaceFDT(kernelStart, kernelEnd, initrdStart, initrdEnd); err != nil {
		return fmt.Errorf("rvemu: building device tree: %w", err)
	}

	restoreConsole, err := enterRawConsole()
	if err != nil {
		return fmt.Errorf("rvemu: entering raw console mode: %w", err)
	}
	defer restoreConsole()

	runBudget := *budget
	if runBudget == 0 {
		runBudget = int64(^uint64(0) >> 1)
	}

	slog.Info("starting machine", "xlen", cfg.XLen, "ram_size", cfg.RAMSize, "firmware", cfg.Firmware)
	exited, exitCode := machine.Run(runBudget)
	if !exited {
		slog.Info("instruction budget exhausted without exit")
		return nil
	}
	slog.Info("machine exited", "code", exitCode)
	if exitCode != 0 {
		return fmt.Errorf("rvemu: guest exited with code %d", exitCode)
	}
	return nil
}

func loadConfig(configPath, firmware, kernel, initrd, cmdline string, xlen int, ramSize int64, numVirtio int) (riscv.MachineConfig, error) {
	if configPath != "" {
		cfg, err := riscv.LoadMachineConfig(configPath)
		if err != nil {
			return cfg, fmt.Errorf("rvemu: loading config: %w", err)
		}
		return cfg, nil
	}

	cfg := riscv.MachineConfig{
		XLen:      xlen,
		RAMSize:   uint64(ramSize),
		Firmware:  firmware,
		Kernel:    kernel,
		Initrd:    initrd,
		Cmdline:   cmdline,
		NumVirtio: numVirtio,
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// progressBar renders a byte-progress bar while an image streams into guest
// RAM, matching the teacher's io.MultiWriter(dest, bar) pattern for download
// progress (internal/oci/client.go).
func progressBar(label string, size int64) io.Writer {
	return progressbar.DefaultBytes(size, fmt.Sprintf("load %s", label))
}

// enterRawConsole puts stdin into raw mode when it's an interactive
// terminal, matching the teacher's term.MakeRaw/term.Restore pairing
// (internal/cmd/cc/main.go) so guest console I/O isn't line-buffered.
func enterRawConsole() (restore func(), err error) {
	fd := int(os.Stdin.Fd())
	if !term.IsTerminal(fd) {
		return func() {}, nil
	}
	oldState, err := term.MakeRaw(fd)
	if err != nil {
		return nil, err
	}
	return func() {
		if rerr := term.Restore(fd, oldState); rerr != nil && !errors.Is(rerr, os.ErrClosed) {
			slog.Warn("failed to restore terminal state", "error", rerr)
		}
	}, nil
}
