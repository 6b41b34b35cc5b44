package riscv

import "io"

// HTIF register offsets within its 16-byte window: a tohost/fromhost pair
// of 64-bit words, written little-endian half at a time like every other
// device here (spec.md §6).
const (
	htifToHost   uint64 = 0
	htifFromHost uint64 = 8
)

// htifDeviceShift/htifCmdShift decompose a tohost word into the
// (device, cmd, payload) triple RISC-V reference firmware uses: device in
// bits [63:56], cmd in bits [55:48], payload in the low 48 bits. Console
// output is device=1, cmd=1, payload=the ASCII byte (spec.md §6: "Writing
// an ASCII byte with device=1/cmd=1 appends to the console").
const (
	htifDeviceShift = 56
	htifCmdShift    = 48
)

// HTIF implements the Host-Target Interface console/exit shim, adapted from
// the teacher's UART (rv64/uart.go) to HTIF's shared-memory tohost/fromhost
// protocol instead of 16550 registers.
type HTIF struct {
	Output io.Writer

	toHost   uint64
	fromHost uint64

	// inputBuf holds bytes queued by EnqueueInput, consumed one at a time by
	// a device=1/cmd=0 console-read request (a supplemented feature: spec.md
	// §6 only documents the write/exit convention, but the teacher's UART
	// input-buffer/consume pattern generalizes directly here).
	inputBuf []byte

	// Exited is set once tohost's low 32 bits equal 1, per the exit
	// convention in spec.md §6; the machine's run loop polls this.
	Exited   bool
	ExitCode uint32
}

func NewHTIF(output io.Writer) *HTIF {
	return &HTIF{Output: output}
}

// EnqueueInput appends host-provided bytes to the console input buffer,
// mirroring the teacher's UART.EnqueueInput (rv64/uart.go): a caller reading
// the real terminal (or a test) pushes bytes in, and the guest drains them
// one at a time via HTIF's device=1/cmd=0 read request.
func (h *HTIF) EnqueueInput(data []byte) {
	h.inputBuf = append(h.inputBuf, data...)
}

func (h *HTIF) RegisterOn(bus *Bus, base uint64) {
	bus.RegisterDevice(base, HTIFSize, h, htifRead, htifWrite, DevIOSize32)
}

func htifRead(opaque any, offset uint64, sizeLog2 uint) uint32 {
	h := opaque.(*HTIF)
	switch {
	case offset >= htifToHost && offset < htifToHost+8:
		return readLoHi(h.toHost, offset-htifToHost)
	case offset >= htifFromHost && offset < htifFromHost+8:
		return readLoHi(h.fromHost, offset-htifFromHost)
	}
	return 0
}

func htifWrite(opaque any, offset uint64, sizeLog2 uint, val uint32) {
	h := opaque.(*HTIF)
	switch {
	case offset >= htifToHost && offset < htifToHost+8:
		h.toHost = writeLoHi(h.toHost, offset-htifToHost, val)
		// Only the high-word write (offset 4) completes a tohost command:
		// processing on the low-word write too would act on a half-written
		// register, since the natural write order (and the bus's 8-byte-
		// access decomposition) always lands the low half first.
		if offset-htifToHost == 4 {
			h.handleToHost()
		}
	case offset >= htifFromHost && offset < htifFromHost+8:
		h.fromHost = writeLoHi(h.fromHost, offset-htifFromHost, val)
	}
}

func (h *HTIF) handleToHost() {
	if uint32(h.toHost) == 1 {
		h.Exited = true
		h.ExitCode = 0
		return
	}
	device := uint8(h.toHost >> htifDeviceShift)
	cmd := uint8(h.toHost >> htifCmdShift)
	if device == 1 && cmd == 1 {
		if h.Output != nil {
			h.Output.Write([]byte{byte(h.toHost)})
		}
		// Acknowledge so the firmware's polling loop doesn't stall waiting
		// for fromhost to change.
		h.fromHost = (uint64(device) << htifDeviceShift) | (uint64(cmd) << htifCmdShift)
	} else if device == 1 && cmd == 0 {
		// Console-read request: hand back the next buffered byte, if any.
		// Leaving fromhost untouched when the buffer is empty lets the
		// firmware's polling loop simply retry.
		if len(h.inputBuf) > 0 {
			b := h.inputBuf[0]
			h.inputBuf = h.inputBuf[1:]
			h.fromHost = (uint64(device) << htifDeviceShift) | (uint64(cmd) << htifCmdShift) | uint64(b)
		}
	}
	h.toHost = 0
}
