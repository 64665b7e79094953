// Package printer owns physical ESC/POS printers: their transports, the
// registry that maps logical roles to printer ids, and per-printer
// serialization of writes.
package printer

import (
	"context"
	"fmt"
	"net"
	"os"
	"time"

	"tinygo.org/x/bluetooth"
)

// CashDrawerKick is the literal ESC/POS byte sequence that electrically
// triggers an attached cash drawer to open.
var CashDrawerKick = []byte{0x1B, 0x70, 0x00, 0x19, 0xFA}

// Transport delivers raw bytes to one physical printer. Implementations
// must not panic or block indefinitely; any I/O error is reported as a
// bool, leaving the transport in a disconnected-but-retryable state.
type Transport interface {
	// Test reports whether the transport is currently reachable.
	Test(ctx context.Context) bool
	// Write delivers buf to the printer, returning false on any failure.
	Write(ctx context.Context, buf []byte) bool
	// Close releases any held resources (bluetooth connections, etc).
	Close() error
}

// Kind identifies which concrete Transport a Descriptor should bind to.
type Kind string

const (
	KindCharDevice      Kind = "character-device"
	KindNetworkSocket   Kind = "network-socket"
	KindSerialBluetooth Kind = "serial-over-bluetooth"
)

// NewTransport builds the Transport implied by a Descriptor's Kind and Locator.
func NewTransport(d Descriptor) (Transport, error) {
	switch d.Kind {
	case KindCharDevice:
		return &CharDeviceTransport{path: d.Locator.DevicePath}, nil
	case KindNetworkSocket:
		return &NetSocketTransport{host: d.Locator.Host, port: d.Locator.Port}, nil
	case KindSerialBluetooth:
		if d.Locator.BLEServiceUUID != "" {
			return newBLETransport(d.Locator)
		}
		return &CharDeviceTransport{path: d.Locator.SerialNode}, nil
	default:
		return nil, fmt.Errorf("unknown transport kind: %s", d.Kind)
	}
}

// CharDeviceTransport writes to a character-device node, used for both
// USB-attached thermal printers and RFCOMM-bound bluetooth serial nodes.
type CharDeviceTransport struct {
	path string
}

func (t *CharDeviceTransport) Test(ctx context.Context) bool {
	if t.path == "" {
		return false
	}
	info, err := os.Stat(t.path)
	if err != nil {
		return false
	}
	f, err := os.OpenFile(t.path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	f.Close()
	return !info.IsDir()
}

func (t *CharDeviceTransport) Write(ctx context.Context, buf []byte) bool {
	f, err := os.OpenFile(t.path, os.O_WRONLY, 0)
	if err != nil {
		return false
	}
	defer f.Close()
	_, err = f.Write(buf)
	return err == nil
}

func (t *CharDeviceTransport) Close() error { return nil }

// NetSocketTransport writes to a printer reachable over raw TCP (the common
// ESC/POS "network printer" mode, usually port 9100).
type NetSocketTransport struct {
	host string
	port int
}

func (t *NetSocketTransport) addr() string { return fmt.Sprintf("%s:%d", t.host, t.port) }

func (t *NetSocketTransport) Test(ctx context.Context) bool {
	conn, err := net.DialTimeout("tcp", t.addr(), 3*time.Second)
	if err != nil {
		return false
	}
	conn.Close()
	return true
}

func (t *NetSocketTransport) Write(ctx context.Context, buf []byte) bool {
	conn, err := net.DialTimeout("tcp", t.addr(), 10*time.Second)
	if err != nil {
		return false
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	_, err = conn.Write(buf)
	return err == nil
}

func (t *NetSocketTransport) Close() error { return nil }

// bleTransport writes to a printer over a bluetooth low-energy GATT
// write characteristic, grounded on the notify/write characteristic pair
// used by thermal-printer BLE bridges in the wild.
type bleTransport struct {
	adapter *bluetooth.Adapter
	mac     bluetooth.Address
	svcUUID bluetooth.UUID
	rxUUID  bluetooth.UUID // device <- server, used to confirm connectivity
	txUUID  bluetooth.UUID // device -> printer write characteristic

	device bluetooth.Device
	tx     bluetooth.DeviceCharacteristic
	bound  bool
}

func newBLETransport(loc Locator) (*bleTransport, error) {
	addr, err := bluetooth.ParseMAC(loc.BLEMac)
	if err != nil {
		return nil, fmt.Errorf("parsing bluetooth MAC %q: %w", loc.BLEMac, err)
	}
	svcUUID, err := bluetooth.ParseUUID(loc.BLEServiceUUID)
	if err != nil {
		return nil, fmt.Errorf("parsing service uuid: %w", err)
	}
	txUUID, err := bluetooth.ParseUUID(loc.BLEWriteCharUUID)
	if err != nil {
		return nil, fmt.Errorf("parsing write characteristic uuid: %w", err)
	}
	return &bleTransport{
		adapter: bluetooth.DefaultAdapter,
		mac:     bluetooth.Address{MACAddress: bluetooth.MACAddress{MAC: addr}},
		svcUUID: svcUUID,
		txUUID:  txUUID,
	}, nil
}

func (t *bleTransport) connect(ctx context.Context) bool {
	if t.bound {
		return true
	}
	if err := t.adapter.Enable(); err != nil {
		return false
	}
	device, err := t.adapter.Connect(t.mac, bluetooth.ConnectionParams{})
	if err != nil {
		return false
	}
	services, err := device.DiscoverServices([]bluetooth.UUID{t.svcUUID})
	if err != nil || len(services) == 0 {
		device.Disconnect()
		return false
	}
	chars, err := services[0].DiscoverCharacteristics([]bluetooth.UUID{t.txUUID})
	if err != nil || len(chars) == 0 {
		device.Disconnect()
		return false
	}
	t.device = device
	t.tx = chars[0]
	t.bound = true
	return true
}

func (t *bleTransport) Test(ctx context.Context) bool {
	return t.connect(ctx)
}

func (t *bleTransport) Write(ctx context.Context, buf []byte) bool {
	if !t.connect(ctx) {
		return false
	}
	const chunkSize = 180
	for off := 0; off < len(buf); off += chunkSize {
		end := off + chunkSize
		if end > len(buf) {
			end = len(buf)
		}
		if _, err := t.tx.WriteWithoutResponse(buf[off:end]); err != nil {
			t.bound = false
			return false
		}
	}
	return true
}

func (t *bleTransport) Close() error {
	if !t.bound {
		return nil
	}
	t.bound = false
	return t.device.Disconnect()
}
