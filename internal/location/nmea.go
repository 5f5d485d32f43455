package location

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// NMEA 0183 sentence matchers. Receivers interleave sentence types freely,
// so each matcher pulls its sentence out of a raw buffer regardless of
// position. Talker prefixes cover GPS, GLONASS, BeiDou and combined output.
var (
	rmcPattern = regexp.MustCompile(`\$G[NP]RMC,\d+\.\d+,[AV],\d+\.\d+,[NS],\d+\.\d+,[EW],\d+\.\d+,\d+\.\d+,\d+,\d*\.?\d*,[EW]*,[ADEN]*,[SCUV]*\*?\w*`)
	ggaPattern = regexp.MustCompile(`\$G[BLPN]GGA,\d+\.\d+,\d+\.\d+,[NS],\d+\.\d+,[EW],[0126],\d+,\d+\.\d+,-?\d+\.\d+,M,-?\d+\.\d+,M,\d*,\*?\w*`)
	vtgPattern = regexp.MustCompile(`\$G[NP]VTG,\d+\.\d+,T,\d*\.?\d*,M,\d+\.\d+,N,\d+\.\d+,K,[ADEN]*\*\w*`)
	gsvPattern = regexp.MustCompile(`\$G[NP]GSV,\d+,\d+,\d+,[\d,]*\*?\w*`)
)

// Sentences holds one matched sentence of each type from a raw NMEA buffer.
// A missing sentence is the empty string.
type Sentences struct {
	RMC string
	GGA string
	VTG string
	GSV string
}

// Complete reports whether all four sentence types were found.
func (s Sentences) Complete() bool {
	return s.RMC != "" && s.GGA != "" && s.VTG != "" && s.GSV != ""
}

// MatchSentences extracts the first RMC, GGA, VTG and GSV sentences from a
// raw receiver buffer.
func MatchSentences(data string) Sentences {
	return Sentences{
		RMC: rmcPattern.FindString(data),
		GGA: ggaPattern.FindString(data),
		VTG: vtgPattern.FindString(data),
		GSV: gsvPattern.FindString(data),
	}
}

// GPSReading is one decoded GPS fix.
type GPSReading struct {
	Fix

	// Valid mirrors the RMC status flag: A is a usable fix, V is not.
	Valid bool

	// SpeedKmh is the ground speed from VTG, in km/h.
	SpeedKmh float64

	// Satellites is the count of satellites in use from GGA.
	Satellites int
}

// ParseNMEA decodes a fix from a raw sentence buffer. The buffer must
// contain at least a GGA sentence; RMC and VTG enrich the reading when
// present.
func ParseNMEA(data string) (GPSReading, error) {
	sentences := MatchSentences(data)
	if sentences.GGA == "" {
		return GPSReading{}, fmt.Errorf("no GGA sentence in buffer")
	}

	// GGA fields: time, lat, N/S, lon, E/W, quality, satellites, hdop,
	// altitude, M, geoid separation, M, age, station.
	fields := strings.Split(stripChecksum(sentences.GGA), ",")
	if len(fields) < 10 {
		return GPSReading{}, fmt.Errorf("short GGA sentence %q", sentences.GGA)
	}

	var reading GPSReading
	var err error

	if reading.Latitude, err = parseCoordinate(fields[2], fields[3]); err != nil {
		return GPSReading{}, fmt.Errorf("GGA latitude: %w", err)
	}
	if reading.Longitude, err = parseCoordinate(fields[4], fields[5]); err != nil {
		return GPSReading{}, fmt.Errorf("GGA longitude: %w", err)
	}
	if reading.Altitude, err = strconv.ParseFloat(fields[9], 64); err != nil {
		return GPSReading{}, fmt.Errorf("GGA altitude: %w", err)
	}
	if reading.Satellites, err = strconv.Atoi(fields[7]); err != nil {
		return GPSReading{}, fmt.Errorf("GGA satellite count: %w", err)
	}

	if sentences.RMC != "" {
		rmcFields := strings.Split(stripChecksum(sentences.RMC), ",")
		if len(rmcFields) > 2 {
			reading.Valid = rmcFields[2] == "A"
		}
	}

	if sentences.VTG != "" {
		// VTG fields: course T, T, course M, M, speed knots, N, speed km/h, K.
		vtgFields := strings.Split(stripChecksum(sentences.VTG), ",")
		if len(vtgFields) > 7 {
			if speed, err := strconv.ParseFloat(vtgFields[7], 64); err == nil {
				reading.SpeedKmh = speed
			}
		}
	}

	return reading, nil
}

// parseCoordinate converts an NMEA ddmm.mmmm coordinate and hemisphere into
// signed decimal degrees.
func parseCoordinate(value, hemisphere string) (float64, error) {
	raw, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return 0, fmt.Errorf("parsing coordinate %q: %w", value, err)
	}

	degrees := float64(int(raw / 100))
	minutes := raw - degrees*100
	decimal := degrees + minutes/60

	switch hemisphere {
	case "S", "W":
		decimal = -decimal
	}
	return decimal, nil
}

// stripChecksum drops the trailing *hh checksum field.
func stripChecksum(sentence string) string {
	if idx := strings.IndexByte(sentence, '*'); idx >= 0 {
		return sentence[:idx]
	}
	return sentence
}
