package notifier

import (
	"encoding/json"
	"log/slog"

	"tinygo.org/x/bluetooth"
)

// Spec §6's fixed service/characteristic UUIDs for the optional short-range
// wireless notifier transport: a notify characteristic carries server->device
// frames, a write characteristic carries device->server frames, both using
// the same JSON envelope as the WebSocket transport.
const (
	bleServiceUUID    = "4fafc201-1fb5-459e-8fcc-c5c9c331914b"
	bleNotifyCharUUID = "beb5483e-36e1-4688-b7f5-ea07361b26a8"
	bleWriteCharUUID  = "beb5483e-36e1-4688-b7f5-ea07361b26a9"
)

// BLEPeripheral advertises the notifier protocol over a local bluetooth
// low-energy GATT service, feeding the same Hub the WebSocket Server does.
// Grounded on the same tinygo.org/x/bluetooth package the printer
// transport's BLE mode uses (internal/printer/transport.go), here in its
// peripheral/advertising role rather than its central/client role.
type BLEPeripheral struct {
	hub     *Hub
	adapter *bluetooth.Adapter

	notifyCh bluetooth.Characteristic
}

func NewBLEPeripheral(hub *Hub) *BLEPeripheral {
	return &BLEPeripheral{hub: hub, adapter: bluetooth.DefaultAdapter}
}

// Start enables the local adapter, registers the GATT service, and begins
// advertising. Hosts with no usable bluetooth radio return an error here;
// callers treat that as this optional transport being unavailable rather
// than a fatal boot error — the WebSocket transport still works.
func (p *BLEPeripheral) Start() error {
	if err := p.adapter.Enable(); err != nil {
		return err
	}

	svcUUID, err := bluetooth.ParseUUID(bleServiceUUID)
	if err != nil {
		return err
	}
	notifyUUID, err := bluetooth.ParseUUID(bleNotifyCharUUID)
	if err != nil {
		return err
	}
	writeUUID, err := bluetooth.ParseUUID(bleWriteCharUUID)
	if err != nil {
		return err
	}

	err = p.adapter.AddService(&bluetooth.Service{
		UUID: svcUUID,
		Characteristics: []bluetooth.CharacteristicConfig{
			{
				Handle: &p.notifyCh,
				UUID:   notifyUUID,
				Flags:  bluetooth.CharacteristicNotifyPermission,
			},
			{
				UUID:       writeUUID,
				Flags:      bluetooth.CharacteristicWritePermission,
				WriteEvent: p.handleWrite,
			},
		},
	})
	if err != nil {
		return err
	}

	adv := p.adapter.DefaultAdvertisement()
	if err := adv.Configure(bluetooth.AdvertisementOptions{
		LocalName:    "ticketbridge-notifier",
		ServiceUUIDs: []bluetooth.UUID{svcUUID},
	}); err != nil {
		return err
	}
	return adv.Start()
}

// bleConn implements Conn over the shared notify characteristic. A GATT
// notify characteristic has no per-central unicast address — Write()
// delivers to every subscribed central at once — so every BLE-registered
// Device shares the same underlying fan-out and relies on the device_id
// already carried in each frame to recognize frames meant for it, same as
// how a WebSocket device already ignores notifications for other tables.
type bleConn struct {
	p *BLEPeripheral
}

func (c *bleConn) WriteJSON(v any) error {
	buf, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_, err = c.p.notifyCh.Write(buf)
	return err
}

func (c *bleConn) Close() error { return nil }

// handleWrite decodes one device->server frame delivered via the write
// characteristic and feeds it through the same Hub operations the
// WebSocket server's read loop uses.
func (p *BLEPeripheral) handleWrite(client bluetooth.Connection, offset int, value []byte) {
	var msg clientMessage
	if err := json.Unmarshal(value, &msg); err != nil {
		slog.Debug("ble notifier: failed to decode client frame", "error", err)
		return
	}

	switch msg.Type {
	case "register":
		if msg.DeviceID == "" {
			return
		}
		p.hub.Register(msg.DeviceID, msg.Name, msg.Firmware, &bleConn{p: p})

	case "heartbeat":
		if msg.DeviceID != "" {
			p.hub.Heartbeat(msg.DeviceID, msg.Uptime, msg.FreeHeap, msg.RSSI)
		}

	case "ack":
		slog.Debug("ble notifier: ack received", "notificationId", msg.NotificationID)

	default:
		slog.Debug("ble notifier: unrecognized message type", "type", msg.Type)
	}
}
