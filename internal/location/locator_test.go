package location

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
)

// =============================================================================
// Locator fan-out
// =============================================================================

func TestLocator_ReadSelectedMethods(t *testing.T) {
	locator := NewLocator(logging.Default())

	locator.Register(MethodGPS, SourceFunc(func(_ context.Context) (Fix, error) {
		return Fix{Latitude: 31.8, Longitude: 117.1}, nil
	}))
	locator.Register(MethodCell, SourceFunc(func(_ context.Context) (Fix, error) {
		return Fix{Latitude: 31.9, Longitude: 117.2, Altitude: 550}, nil
	}))
	locator.Register(MethodWiFi, SourceFunc(func(_ context.Context) (Fix, error) {
		t.Error("wifi source read despite not being selected")
		return Fix{}, nil
	}))

	fixes := locator.Read(context.Background(), MethodGPS|MethodCell)

	if len(fixes) != 2 {
		t.Fatalf("got %d fixes, want 2", len(fixes))
	}
	if fixes[MethodGPS].Latitude != 31.8 {
		t.Errorf("gps fix = %+v", fixes[MethodGPS])
	}
	if fixes[MethodCell].Altitude != 550 {
		t.Errorf("cell fix = %+v", fixes[MethodCell])
	}
}

func TestLocator_SkipsFailedSource(t *testing.T) {
	locator := NewLocator(logging.Default())

	locator.Register(MethodGPS, SourceFunc(func(_ context.Context) (Fix, error) {
		return Fix{}, errors.New("no satellites")
	}))
	locator.Register(MethodWiFi, SourceFunc(func(_ context.Context) (Fix, error) {
		return Fix{Latitude: 1}, nil
	}))

	fixes := locator.Read(context.Background(), MethodGPS|MethodCell|MethodWiFi)

	if len(fixes) != 1 {
		t.Fatalf("got %d fixes, want 1 (gps failed, cell unregistered)", len(fixes))
	}
	if _, ok := fixes[MethodWiFi]; !ok {
		t.Error("surviving wifi fix missing")
	}
}

func TestMethod_String(t *testing.T) {
	if MethodGPS.String() != "gps" || MethodCell.String() != "cell" || MethodWiFi.String() != "wifi" {
		t.Error("method names wrong")
	}
}

// =============================================================================
// NMEA source
// =============================================================================

func TestNMEASource_Read(t *testing.T) {
	source := NewNMEASource(strings.NewReader(sampleBuffer), logging.Default())

	fix, err := source.Read(context.Background())
	if err != nil {
		t.Fatalf("Read() error = %v", err)
	}
	if !approx(fix.Altitude, 85.161) {
		t.Errorf("Altitude = %v, want 85.161", fix.Altitude)
	}
}

func TestNMEASource_NoFix(t *testing.T) {
	// Status V means the receiver has no lock yet.
	buffer := strings.ReplaceAll(sampleBuffer, ",A,3149", ",V,3149")
	source := NewNMEASource(strings.NewReader(buffer), logging.Default())

	if _, err := source.Read(context.Background()); err == nil {
		t.Error("Read() expected error while receiver has no lock")
	}
}

func TestNMEASource_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	source := NewNMEASource(strings.NewReader(sampleBuffer), logging.Default())
	if _, err := source.Read(ctx); !errors.Is(err, context.Canceled) {
		t.Errorf("Read() error = %v, want context.Canceled", err)
	}
}
