package printer

import (
	"context"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testDescriptor(t *testing.T, id string) Descriptor {
	t.Helper()
	return Descriptor{
		ID:   id,
		Name: id + "-name",
		Kind: KindCharDevice,
		Locator: Locator{
			DevicePath: t.TempDir() + "/" + id,
		},
	}
}

func newTestFile(t *testing.T, path string) {
	t.Helper()
	f, err := os.Create(path)
	require.NoError(t, err)
	f.Close()
}

func TestRegistryRegisterUnregisterRoundTrip(t *testing.T) {
	r := NewRegistry()
	d := testDescriptor(t, "p1")
	newTestFile(t, d.Locator.DevicePath)

	require.NoError(t, r.Register(d))
	assert.Equal(t, 1, r.Count())

	r.Unregister("p1")
	assert.Equal(t, 0, r.Count())
}

func TestRegistryDefaultPrinterFallback(t *testing.T) {
	r := NewRegistry()
	d1 := testDescriptor(t, "p1")
	newTestFile(t, d1.Locator.DevicePath)
	require.NoError(t, r.Register(d1))

	id, err := r.GetPrinterForRole(RoleKitchenDefault, "")
	require.NoError(t, err)
	assert.Equal(t, "p1", id)
}

func TestRegistryNoPrintersFails(t *testing.T) {
	r := NewRegistry()
	_, err := r.GetPrinterForRole(RoleKitchenDefault, "")
	assert.Error(t, err)
}

func TestRegistryStationRoleResolution(t *testing.T) {
	r := NewRegistry()
	d1 := testDescriptor(t, "grill")
	d2 := testDescriptor(t, "cold")
	newTestFile(t, d1.Locator.DevicePath)
	newTestFile(t, d2.Locator.DevicePath)
	require.NoError(t, r.Register(d1))
	require.NoError(t, r.Register(d2))

	r.SetAssignments([]RoleAssignment{
		{Role: RoleStation, PrinterID: "grill", StationID: "s1"},
		{Role: RoleStation, PrinterID: "cold", StationID: "s2"},
		{Role: RoleKitchenDefault, PrinterID: "grill"},
	})

	id, err := r.GetPrinterForRole(RoleStation, "s2")
	require.NoError(t, err)
	assert.Equal(t, "cold", id)

	// Unknown station id falls back to kitchen_default.
	id, err = r.GetPrinterForRole(RoleStation, "unknown")
	require.NoError(t, err)
	assert.Equal(t, "grill", id)
}

func TestRegistrySetAssignmentsIdempotent(t *testing.T) {
	r := NewRegistry()
	assignments := []RoleAssignment{{Role: RoleKitchenDefault, PrinterID: "p1"}}
	r.SetAssignments(assignments)
	r.SetAssignments(assignments)
	got, ok := r.AssignmentFor(RoleKitchenDefault, "")
	require.True(t, ok)
	assert.Equal(t, "p1", got.PrinterID)
}

func TestRegistryPrintByRoleWritesAndReportsStatus(t *testing.T) {
	r := NewRegistry()
	d := testDescriptor(t, "p1")
	newTestFile(t, d.Locator.DevicePath)
	require.NoError(t, r.Register(d))

	res := r.PrintByRole(context.Background(), RoleKitchenDefault, "", []byte("hello"))
	assert.True(t, res.Success)
	assert.Equal(t, "p1", res.PrinterID)
}

func TestRegistryOpenCashDrawer(t *testing.T) {
	r := NewRegistry()
	d := testDescriptor(t, "p1")
	newTestFile(t, d.Locator.DevicePath)
	require.NoError(t, r.Register(d))
	r.SetAssignments([]RoleAssignment{{Role: RoleCustomerTicket, PrinterID: "p1", CashDrawerEnabled: true}})

	ok := r.OpenCashDrawerByRole(context.Background(), RoleCustomerTicket)
	assert.True(t, ok)
}
