package serial

import (
	"gopheros/device"
	"gopheros/kernel/cpu"
)

var (
	portWriteByteFn = cpu.PortWriteByte
	portReadByteFn  = cpu.PortReadByte

	com1 = Port{base: COM1}

	// DriverInfo registers the COM1 probe with the early device list
	// so the port is available as a diagnostic sink before the kernel
	// heap is set up.
	DriverInfo = device.DriverInfo{
		Order: device.DetectOrderEarly,
		Probe: probeForCOM1,
	}
)

// probeForCOM1 returns the driver for the first serial port. Legacy PC
// hardware (and every supported emulator) always exposes COM1 so no presence
// check is performed.
func probeForCOM1() device.Driver {
	return &com1
}
