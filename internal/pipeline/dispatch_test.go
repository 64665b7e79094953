package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/posforge/ticketbridge/engine"
	"github.com/posforge/ticketbridge/internal/printer"
)

func newDispatchTestRegistry(t *testing.T) *printer.Registry {
	t.Helper()
	reg := printer.NewRegistry()
	path := filepath.Join(t.TempDir(), "p1")
	f, err := os.Create(path)
	require.NoError(t, err)
	f.Close()
	require.NoError(t, reg.Register(printer.Descriptor{
		ID: "p1", Name: "Kitchen", Kind: printer.KindCharDevice,
		Locator: printer.Locator{DevicePath: path},
	}))
	return reg
}

func TestDispatcherSubmitWritesThroughRegisteredQueue(t *testing.T) {
	reg := newDispatchTestRegistry(t)
	d := NewDispatcher(reg)

	var pm engine.ProcMgr
	d.AttachWorkers(&pm)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go pm.Run(ctx)

	result := d.Submit(context.Background(), printer.RoleKitchenDefault, "", []byte("hello"))
	assert.True(t, result.Success)
	assert.Equal(t, "p1", result.PrinterID)
}

func TestDispatcherSubmitWithNoPrinterIsRetryable(t *testing.T) {
	reg := printer.NewRegistry()
	d := NewDispatcher(reg)

	result := d.Submit(context.Background(), printer.RoleKitchenDefault, "", []byte("hello"))
	assert.False(t, result.Success)
	assert.True(t, result.Retryable)
}
