// Package serial provides a polled driver for 16550-compatible UARTs.
package serial

import (
	"gopheros/kernel"
	"gopheros/kernel/kfmt"
	"io"
)

// COM1 is the I/O base port of the first legacy serial port.
const COM1 uint16 = 0x3f8

// Register offsets relative to the port base.
const (
	regData        = 0
	regIntEnable   = 1
	regDivisorLow  = 0
	regDivisorHigh = 1
	regFifoCtrl    = 2
	regLineCtrl    = 3
	regModemCtrl   = 4
	regLineStatus  = 5
)

const (
	// 115200 / 3 = 38400 baud
	baudDivisor = 3

	lineCtrlDLAB = 0x80
	lineCtrl8N1  = 0x03

	// enable FIFOs, clear them and use a 14-byte threshold
	fifoCtrlEnable = 0xc7

	// DTR, RTS and OUT2
	modemCtrlReady = 0x0b

	lineStatusTxEmpty = 1 << 5
)

// Port is a driver for a 16550 UART that transmits by polling the line
// status register. It implements io.Writer and never allocates so it can be
// used as an output sink before the Go allocator is available.
type Port struct {
	base uint16
}

// NewPort returns a driver for the UART at the given I/O base port.
func NewPort(base uint16) *Port {
	return &Port{base: base}
}

// Base returns the I/O base port of the UART.
func (p *Port) Base() uint16 {
	return p.base
}

// DriverName returns the name of the driver.
func (p *Port) DriverName() string {
	return "uart16550"
}

// DriverVersion returns the driver version.
func (p *Port) DriverVersion() (uint16, uint16, uint16) {
	return 0, 0, 1
}

// DriverInit programs the UART for 38400 baud, 8 data bits, no parity and one
// stop bit with interrupts disabled.
func (p *Port) DriverInit(w io.Writer) *kernel.Error {
	portWriteByteFn(p.base+regIntEnable, 0x00)
	portWriteByteFn(p.base+regLineCtrl, lineCtrlDLAB)
	portWriteByteFn(p.base+regDivisorLow, baudDivisor)
	portWriteByteFn(p.base+regDivisorHigh, 0x00)
	portWriteByteFn(p.base+regLineCtrl, lineCtrl8N1)
	portWriteByteFn(p.base+regFifoCtrl, fifoCtrlEnable)
	portWriteByteFn(p.base+regModemCtrl, modemCtrlReady)

	kfmt.Fprintf(w, "port 0x%x, 38400 baud 8N1\n", p.base)
	return nil
}

// Write transmits p one byte at a time, waiting for the transmit holding
// register to drain before each byte. Write always succeeds.
func (p *Port) Write(b []byte) (int, error) {
	for _, ch := range b {
		p.writeByte(ch)
	}

	return len(b), nil
}

func (p *Port) writeByte(ch byte) {
	for portReadByteFn(p.base+regLineStatus)&lineStatusTxEmpty == 0 {
	}

	portWriteByteFn(p.base+regData, ch)
}
