// Package config declares this daemon's persistent configuration
// surfaces on top of the engine's generic config.Spec/Store, and builds
// the printer registry/role assignments from whatever is currently
// persisted (handling the legacy single-printer migration).
package config

import (
	"context"
	"fmt"

	engconfig "github.com/posforge/ticketbridge/engine/config"
	"github.com/posforge/ticketbridge/internal/printer"
)

// DaemonConfig is the device identity and cloud connection keyset from
// the persistent state layout: deviceId, restaurantId, restaurantName,
// supabaseUrl, supabaseKey, frontendUrl, syncWithDashboard, setupCompleted.
type DaemonConfig struct {
	DeviceID          string `json:"device_id" config:"label=Device ID,required,help=Stable identifier for this daemon within the restaurant's fleet."`
	RestaurantID      string `json:"restaurant_id" config:"label=Restaurant ID,required,help=The tenant id the change-feed subscription and claim calls are filtered by."`
	RestaurantName    string `json:"restaurant_name" config:"label=Restaurant Name"`
	SupabaseURL       string `json:"supabase_url" config:"label=Cloud URL,required,placeholder=https://xyz.supabase.co"`
	SupabaseKey       string `json:"supabase_key" config:"label=Cloud Key,secret,required"`
	FrontendURL       string `json:"frontend_url" config:"label=Frontend URL"`
	SyncWithDashboard bool   `json:"sync_with_dashboard" config:"label=Sync With Dashboard,default=true"`
	SetupCompleted    bool   `json:"setup_completed" config:"label=Setup Completed"`
}

// DaemonConfigSpec describes the DaemonConfig persistence surface.
func DaemonConfigSpec() engconfig.Spec {
	return engconfig.Spec{
		Module:      "daemon",
		Title:       "Daemon Identity & Cloud Connection",
		Description: "Device identity and cloud backend connection used by the claim client, payload fetcher, and change-feed subscriber.",
		Type:        DaemonConfig{},
		Order:       10,
	}
}

// LegacyPrinterConfig is the single-printer keyset ("printer") carried
// over from installs that predate multi-printer routing. On first boot,
// if no localPrinters are configured, this is migrated into a Descriptor
// with id printer.LegacyMigratedID bound to all non-station roles.
type LegacyPrinterConfig struct {
	Name       string `json:"name" config:"label=Printer Name"`
	Kind       string `json:"kind" config:"label=Transport Kind,help=character-device, network-socket, or serial-over-bluetooth"`
	DevicePath string `json:"device_path" config:"label=Device Path"`
	Host       string `json:"host" config:"label=Host"`
	Port       int    `json:"port" config:"label=Port"`
	SerialNode string `json:"serial_node" config:"label=Serial Node"`
}

func LegacyPrinterConfigSpec() engconfig.Spec {
	return engconfig.Spec{
		Module:      "printer",
		Title:       "Legacy Printer (single)",
		Description: "Deprecated single-printer configuration, auto-migrated to the multi-printer registry on first boot.",
		Type:        LegacyPrinterConfig{},
		Order:       90,
	}
}

// LocalPrinterConfig is one entry of the "localPrinters" array: a
// configured physical printer in the multi-printer registry.
type LocalPrinterConfig struct {
	ID               string `json:"id" config:"label=Printer ID,required"`
	Name             string `json:"name" config:"label=Display Name,required"`
	Kind             string `json:"kind" config:"label=Transport Kind,required,help=character-device, network-socket, or serial-over-bluetooth"`
	DevicePath       string `json:"device_path" config:"label=Device Path,help=Used by character-device transports"`
	Host             string `json:"host" config:"label=Host,help=Used by network-socket transports"`
	Port             int    `json:"port" config:"label=Port,default=9100"`
	SerialNode       string `json:"serial_node" config:"label=Serial Node (RFCOMM),help=Used by bound-serial bluetooth transports"`
	BLEMac           string `json:"ble_mac" config:"label=Bluetooth MAC,help=Used by BLE GATT bluetooth transports"`
	BLEServiceUUID   string `json:"ble_service_uuid" config:"label=BLE Service UUID"`
	BLEWriteCharUUID string `json:"ble_write_char_uuid" config:"label=BLE Write Characteristic UUID"`
}

// AssignmentConfig is one entry of the "printerAssignments" array: a
// binding from a logical role to a configured printer id.
type AssignmentConfig struct {
	Role              string `json:"role" config:"label=Role,required,help=customer_ticket, kitchen_default, fiscal, or station"`
	PrinterID         string `json:"printer_id" config:"label=Printer ID,required"`
	StationID         string `json:"station_id" config:"label=Station ID,help=Only meaningful for role=station"`
	StationName       string `json:"station_name" config:"label=Station Name"`
	Copies            int    `json:"copies" config:"label=Copies,default=1,min=1"`
	CashDrawerEnabled bool   `json:"cash_drawer_enabled" config:"label=Cash Drawer Enabled,help=Only meaningful for role=customer_ticket"`
}

// PrintersConfig is the multi-printer registry's persisted state:
// "localPrinters" and "printerAssignments".
type PrintersConfig struct {
	LocalPrinters []LocalPrinterConfig `json:"local_printers" config:"label=Printers,item=Printer,key=ID"`
	Assignments   []AssignmentConfig   `json:"printer_assignments" config:"label=Role Assignments,item=Assignment,key=Role"`
}

func PrintersConfigSpec() engconfig.Spec {
	return engconfig.Spec{
		Module:      "printers",
		Title:       "Printers & Role Routing",
		Description: "Configured physical printers and the logical-role-to-printer bindings the pipeline and local ingress resolve against.",
		Type:        PrintersConfig{},
		ArrayFields: []engconfig.ArrayFieldDef{
			{FieldName: "LocalPrinters", Label: "Printers", ItemLabel: "Printer", KeyField: "ID"},
			{FieldName: "Assignments", Label: "Role Assignments", ItemLabel: "Assignment", KeyField: "Role"},
		},
		Order: 20,
	}
}

// RegisterSpecs registers every config.Spec this daemon owns. Call once
// at boot before loading.
func RegisterSpecs(registry *engconfig.Registry) {
	registry.MustRegister(DaemonConfigSpec())
	registry.MustRegister(LegacyPrinterConfigSpec())
	registry.MustRegister(PrintersConfigSpec())
}

// LoadDaemonConfig loads the device identity / cloud connection config.
// deviceId and restaurantId are never auto-generated here: provisioning
// them is the job of the (out-of-scope) setup wizard, so a daemon booted
// without them is a fatal misconfiguration per spec §6's exit code 1.
func LoadDaemonConfig(ctx context.Context, store *engconfig.Store) (*DaemonConfig, error) {
	v, _, err := store.Load(ctx, "daemon")
	if err != nil {
		return nil, err
	}
	cfg, ok := v.(*DaemonConfig)
	if !ok {
		return nil, fmt.Errorf("unexpected config type for module \"daemon\": %T", v)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate implements engconfig.Validatable, and is also invoked directly
// by LoadDaemonConfig at boot (Store.Load itself doesn't validate, only
// Store.Save does).
func (c *DaemonConfig) Validate() error {
	if c.DeviceID == "" {
		return fmt.Errorf("daemon config: device_id is required (provision it via the setup flow before starting the daemon)")
	}
	if c.RestaurantID == "" {
		return fmt.Errorf("daemon config: restaurant_id is required (provision it via the setup flow before starting the daemon)")
	}
	return nil
}

// BuildRegistry loads the legacy and multi-printer config, migrating the
// legacy single-printer config to a Descriptor bound to all non-station
// roles when no localPrinters are yet configured, and registers every
// descriptor plus the full assignment set on a fresh printer.Registry.
func BuildRegistry(ctx context.Context, store *engconfig.Store) (*printer.Registry, error) {
	registry := printer.NewRegistry()

	legacyAny, _, err := store.Load(ctx, "printer")
	if err != nil {
		return nil, fmt.Errorf("loading legacy printer config: %w", err)
	}
	legacy, _ := legacyAny.(*LegacyPrinterConfig)

	printersAny, _, err := store.Load(ctx, "printers")
	if err != nil {
		return nil, fmt.Errorf("loading printers config: %w", err)
	}
	printers, _ := printersAny.(*PrintersConfig)

	var assignments []printer.RoleAssignment

	if legacy != nil && legacy.Name != "" && (printers == nil || len(printers.LocalPrinters) == 0) {
		descriptor := printer.Descriptor{
			ID:   printer.LegacyMigratedID,
			Name: legacy.Name,
			Kind: printer.Kind(legacy.Kind),
			Locator: printer.Locator{
				DevicePath: legacy.DevicePath,
				Host:       legacy.Host,
				Port:       legacy.Port,
				SerialNode: legacy.SerialNode,
			},
		}
		if err := registry.Register(descriptor); err != nil {
			return nil, fmt.Errorf("migrating legacy printer config: %w", err)
		}
		for _, role := range []printer.Role{printer.RoleCustomerTicket, printer.RoleKitchenDefault, printer.RoleFiscal} {
			assignments = append(assignments, printer.RoleAssignment{Role: role, PrinterID: printer.LegacyMigratedID, Copies: 1})
		}
	}

	if printers != nil {
		for _, lp := range printers.LocalPrinters {
			descriptor := printer.Descriptor{
				ID:   lp.ID,
				Name: lp.Name,
				Kind: printer.Kind(lp.Kind),
				Locator: printer.Locator{
					DevicePath:       lp.DevicePath,
					Host:             lp.Host,
					Port:             lp.Port,
					SerialNode:       lp.SerialNode,
					BLEMac:           lp.BLEMac,
					BLEServiceUUID:   lp.BLEServiceUUID,
					BLEWriteCharUUID: lp.BLEWriteCharUUID,
				},
			}
			if err := registry.Register(descriptor); err != nil {
				return nil, fmt.Errorf("registering printer %q: %w", lp.ID, err)
			}
		}
		for _, a := range printers.Assignments {
			assignments = append(assignments, printer.RoleAssignment{
				Role:              printer.Role(a.Role),
				PrinterID:         a.PrinterID,
				StationID:         a.StationID,
				StationName:       a.StationName,
				Copies:            a.Copies,
				CashDrawerEnabled: a.CashDrawerEnabled,
			})
		}
	}

	registry.SetAssignments(assignments)
	return registry, nil
}
