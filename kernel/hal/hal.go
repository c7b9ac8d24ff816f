// Package hal probes for the devices the kernel needs during early boot and
// attaches the first output-capable device as the kfmt output sink.
package hal

import (
	"gopheros/device"
	"gopheros/device/serial"
	"gopheros/kernel/kfmt"
	"io"
)

// maxActiveDrivers is the capacity of the active driver table. The table is a
// fixed array because probing runs before the kernel heap exists.
const maxActiveDrivers = 8

// managedDevices contains the devices discovered by the HAL.
type managedDevices struct {
	// activeSink is the driver that receives kfmt output.
	activeSink io.Writer

	// activeDrivers tracks all initialized device drivers.
	activeDrivers [maxActiveDrivers]device.Driver
	activeCount   int
}

// prefixBuf is a fixed-size io.Writer used to render driver log prefixes.
type prefixBuf struct {
	data [64]byte
	len  int
}

func (b *prefixBuf) Write(p []byte) (int, error) {
	n := copy(b.data[b.len:], p)
	b.len += n
	return n, nil
}

func (b *prefixBuf) Bytes() []byte { return b.data[:b.len] }

func (b *prefixBuf) Reset() { b.len = 0 }

var (
	devices managedDevices
	strBuf  prefixBuf

	// earlyDrivers lists the drivers probed by DetectHardware.
	earlyDrivers = device.DriverInfoList{
		&serial.DriverInfo,
	}
)

// ActiveDrivers returns the drivers that were successfully initialized.
func ActiveDrivers() []device.Driver {
	return devices.activeDrivers[:devices.activeCount]
}

// DetectHardware probes for hardware devices and initializes the appropriate
// drivers. It does not allocate memory.
func DetectHardware() {
	earlyDrivers.Sort()
	probe(earlyDrivers)
}

// probe executes the probe function for each driver and invokes
// onDriverInit for each successfully initialized driver.
func probe(driverInfoList device.DriverInfoList) {
	var w = kfmt.PrefixWriter{Sink: kfmt.GetOutputSink()}

	for _, info := range driverInfoList {
		drv := info.Probe()
		if drv == nil {
			continue
		}

		strBuf.Reset()
		major, minor, patch := drv.DriverVersion()
		kfmt.Fprintf(&strBuf, "[hal] %s(%d.%d.%d): ", drv.DriverName(), major, minor, patch)
		w.Prefix = strBuf.Bytes()

		if err := drv.DriverInit(&w); err != nil {
			kfmt.Fprintf(&w, "init failed: %s\n", err.Message)
			continue
		}

		kfmt.Fprintf(&w, "initialized\n")
		if devices.activeCount == maxActiveDrivers {
			kfmt.Fprintf(&w, "driver table full; ignoring device\n")
			continue
		}

		devices.activeDrivers[devices.activeCount] = drv
		devices.activeCount++
		onDriverInit(drv)

		// Later drivers log to the sink selected so far.
		w.Sink = kfmt.GetOutputSink()
	}
}

// onDriverInit is invoked by probe() whenever a piece of hardware is detected
// and successfully initialized. The first driver that implements io.Writer
// becomes the kfmt output sink; any output buffered so far is flushed to it.
func onDriverInit(drv device.Driver) {
	sink, ok := drv.(io.Writer)
	if !ok || devices.activeSink != nil {
		return
	}

	devices.activeSink = sink
	kfmt.SetOutputSink(sink)
}
