package audiomoth

import (
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Recognised GUANO keys
const (
	guanoSerial      = "Serial"
	guanoTimestamp   = "Timestamp"
	guanoPosition    = "Loc Position"
	guanoFirmware    = "Firmware Version"
	guanoSettings    = "OAD|Recording Settings"
	guanoBattery     = "OAD|Battery Voltage"
	guanoTemperature = "Temperature Int"
)

// icmtTimestampLayout matches "16:46:32 16/04/2025"
const icmtTimestampLayout = "15:04:05 02/01/2006"

var (
	icmtRecordedAt  = regexp.MustCompile(`Recorded at (\d{2}:\d{2}:\d{2} \d{2}/\d{2}/\d{4}) \(UTC`)
	icmtTemperature = regexp.MustCompile(`temperature was (-?[\d.]+) ?C`)
	icmtBattery     = regexp.MustCompile(`battery was ([\d.]+) ?V`)
)

// applyGuano fills rec from a GUANO key:value block. Values that fail to parse
// are reported through warn and left unset.
func applyGuano(rec *Recording, text string, warn func(key, value string, err error)) {
	for line := range strings.SplitSeq(text, "\n") {
		key, value, ok := strings.Cut(line, ":")
		if !ok {
			continue
		}
		key = strings.TrimSpace(key)
		value = strings.TrimSpace(value)

		switch key {
		case guanoSerial:
			rec.Serial = value
		case guanoTimestamp:
			ts, err := parseGuanoTimestamp(value)
			if err != nil {
				warn(key, value, err)
				continue
			}
			rec.TimestampUTC = ts
		case guanoPosition:
			parts := strings.Fields(value)
			if len(parts) < 2 {
				continue
			}
			lat, err1 := strconv.ParseFloat(parts[0], 64)
			lon, err2 := strconv.ParseFloat(parts[1], 64)
			if err1 != nil || err2 != nil {
				warn(key, value, firstErr(err1, err2))
				continue
			}
			rec.GPSLat, rec.GPSLon = &lat, &lon
		case guanoFirmware:
			rec.Firmware = value
		case guanoSettings:
			if _, after, found := strings.Cut(value, "GAIN"); found {
				if fields := strings.Fields(after); len(fields) > 0 {
					rec.Gain = fields[0]
				}
			}
		case guanoBattery:
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				warn(key, value, err)
				continue
			}
			rec.BatteryVoltage = &v
		case guanoTemperature:
			v, err := strconv.ParseFloat(value, 64)
			if err != nil {
				warn(key, value, err)
				continue
			}
			rec.TemperatureC = &v
		}
	}
}

// parseGuanoTimestamp accepts ISO-8601 with or without offset. A timestamp
// without zone information is taken as UTC.
func parseGuanoTimestamp(value string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02T15:04:05.999999999", "2006-01-02 15:04:05"} {
		if ts, err := time.Parse(layout, value); err == nil {
			return ts.UTC(), nil
		}
	}
	_, err := time.Parse(time.RFC3339Nano, value)
	return time.Time{}, err
}

// applyComment fills fields still missing after GUANO parsing from the
// AudioMoth ICMT comment.
func applyComment(rec *Recording, text string, warn func(key, value string, err error)) {
	if rec.TimestampUTC.IsZero() {
		if m := icmtRecordedAt.FindStringSubmatch(text); m != nil {
			ts, err := time.ParseInLocation(icmtTimestampLayout, m[1], time.UTC)
			if err != nil {
				warn("ICMT", m[1], err)
			} else {
				rec.TimestampUTC = ts
			}
		}
	}
	if rec.TemperatureC == nil {
		if m := icmtTemperature.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				rec.TemperatureC = &v
			}
		}
	}
	if rec.BatteryVoltage == nil {
		if m := icmtBattery.FindStringSubmatch(text); m != nil {
			if v, err := strconv.ParseFloat(m[1], 64); err == nil {
				rec.BatteryVoltage = &v
			}
		}
	}
}

func firstErr(errs ...error) error {
	for _, err := range errs {
		if err != nil {
			return err
		}
	}
	return nil
}
