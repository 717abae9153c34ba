package model

import "time"

// LocationRecord is the last-write-wins position snapshot for one
// end-user, keyed by uid in the user_locations collection. Each upload
// overwrites the previous value with merge semantics; no history is kept.
type LocationRecord struct {
	UID  string
	Lat  float64
	Lng  float64
	Time time.Time
}

// LocationFromDoc builds a LocationRecord from a stored document.
func LocationFromDoc(data map[string]any) LocationRecord {
	rec := LocationRecord{
		UID:  docString(data, "uid"),
		Time: docTime(data, "time"),
	}
	if loc, ok := data["location"].(map[string]any); ok {
		rec.Lat = docFloat(loc, "lat")
		rec.Lng = docFloat(loc, "lng")
	}
	return rec
}

// Doc returns the storable representation of the record.
func (r LocationRecord) Doc() map[string]any {
	return map[string]any{
		"uid": r.UID,
		"location": map[string]any{
			"lat": r.Lat,
			"lng": r.Lng,
		},
		"time": r.Time,
	}
}
