package audiomoth

import "time"

// German labels for Central European time
var zoneLabels = map[string]string{
	"CET":  "MEZ",
	"CEST": "MESZ",
}

// ZoneLabel returns the label stored with local timestamps: MEZ or MESZ for
// Central European zones, the zone abbreviation otherwise.
func ZoneLabel(t time.Time) string {
	abbr, _ := t.Zone()
	if label, ok := zoneLabels[abbr]; ok {
		return label
	}
	return abbr
}
