package location

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/wcache/cloudsync-core/internal/infrastructure/logging"
)

// Method identifies one positioning method. Methods combine as a bitmask.
type Method int

// Positioning methods.
const (
	MethodGPS  Method = 0x1
	MethodCell Method = 0x2
	MethodWiFi Method = 0x4
)

// String returns the method's name for logging.
func (m Method) String() string {
	switch m {
	case MethodGPS:
		return "gps"
	case MethodCell:
		return "cell"
	case MethodWiFi:
		return "wifi"
	default:
		return fmt.Sprintf("method(%d)", int(m))
	}
}

// Fix is one resolved position in decimal degrees.
type Fix struct {
	Longitude float64
	Latitude  float64
	Altitude  float64
}

// Source resolves one fix from a single positioning method.
type Source interface {
	Read(ctx context.Context) (Fix, error)
}

// SourceFunc adapts a plain function to the Source interface.
type SourceFunc func(ctx context.Context) (Fix, error)

// Read calls f(ctx).
func (f SourceFunc) Read(ctx context.Context) (Fix, error) {
	return f(ctx)
}

// Locator fans a position read out across registered sources.
//
// Thread Safety:
//   - Register and Read are safe for concurrent use.
type Locator struct {
	mu      sync.Mutex
	sources map[Method]Source
	log     *logging.Logger
}

// NewLocator creates a locator with no sources registered.
func NewLocator(log *logging.Logger) *Locator {
	return &Locator{
		sources: make(map[Method]Source),
		log:     log.With("component", "location"),
	}
}

// Register installs the source for one method, replacing any previous one.
func (l *Locator) Register(method Method, source Source) {
	l.mu.Lock()
	l.sources[method] = source
	l.mu.Unlock()
}

// Read resolves fixes for every method set in the mask. Methods with no
// registered source or a failed read are logged and omitted from the
// result, so a partial outage still yields the remaining fixes.
func (l *Locator) Read(ctx context.Context, methods Method) map[Method]Fix {
	fixes := make(map[Method]Fix)

	for _, method := range []Method{MethodGPS, MethodCell, MethodWiFi} {
		if methods&method == 0 {
			continue
		}

		l.mu.Lock()
		source, ok := l.sources[method]
		l.mu.Unlock()
		if !ok {
			l.log.Debug("no source registered", "method", method.String())
			continue
		}

		fix, err := source.Read(ctx)
		if err != nil {
			l.log.Warn("position read failed", "method", method.String(), "error", err)
			continue
		}
		fixes[method] = fix
	}

	return fixes
}

// NMEASource reads a GPS fix from an NMEA sentence stream, typically a
// serial receiver exposed as a device file.
type NMEASource struct {
	mu  sync.Mutex
	r   io.Reader
	log *logging.Logger
}

// NewNMEASource wraps an NMEA sentence stream.
func NewNMEASource(r io.Reader, log *logging.Logger) *NMEASource {
	return &NMEASource{r: r, log: log.With("component", "gps")}
}

// maxSentenceScan bounds how many lines one read consumes while collecting
// a full sentence set. Receivers emit a set roughly once per second.
const maxSentenceScan = 64

// Read accumulates sentences until a complete set arrives, then decodes
// the fix. An invalid RMC status fails the read: the receiver has no lock
// yet.
func (s *NMEASource) Read(ctx context.Context) (Fix, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	scanner := bufio.NewScanner(s.r)
	var buffer string

	for i := 0; i < maxSentenceScan; i++ {
		if err := ctx.Err(); err != nil {
			return Fix{}, err
		}
		if !scanner.Scan() {
			break
		}
		buffer += scanner.Text() + "\n"
		if MatchSentences(buffer).Complete() {
			break
		}
	}
	if err := scanner.Err(); err != nil {
		return Fix{}, fmt.Errorf("reading nmea stream: %w", err)
	}

	reading, err := ParseNMEA(buffer)
	if err != nil {
		return Fix{}, err
	}
	if !reading.Valid {
		return Fix{}, fmt.Errorf("receiver reports no fix")
	}

	s.log.Debug("gps fix decoded",
		"latitude", reading.Latitude,
		"longitude", reading.Longitude,
		"satellites", reading.Satellites)
	return reading.Fix, nil
}
