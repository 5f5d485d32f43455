// Package location reads device position fixes from GPS, cellular and WiFi
// sources.
//
// The three methods form a bitmask so one read can fan out to any
// combination. GPS fixes come from an NMEA 0183 sentence stream; cellular
// and WiFi fixes come from pluggable resolver sources, since both depend on
// carrier-side services.
//
// # Usage
//
//	locator := location.NewLocator(logger)
//	locator.Register(location.MethodGPS, location.NewNMEASource(uart, logger))
//	fixes := locator.Read(ctx, location.MethodGPS|location.MethodCell)
package location
