package osm

import (
	"strings"

	"github.com/paulmach/osm"
)

// RoadType classifies a way by its highway tag.
type RoadType uint8

const (
	RoadUnknown RoadType = iota
	RoadMotorway
	RoadTrunk
	RoadPrimary
	RoadSecondary
	RoadTertiary
	RoadUnclassified
	RoadResidential
	RoadLivingStreet
	RoadService
)

var roadTypeNames = [...]string{
	RoadUnknown:      "unknown",
	RoadMotorway:     "motorway",
	RoadTrunk:        "trunk",
	RoadPrimary:      "primary",
	RoadSecondary:    "secondary",
	RoadTertiary:     "tertiary",
	RoadUnclassified: "unclassified",
	RoadResidential:  "residential",
	RoadLivingStreet: "living_street",
	RoadService:      "service",
}

func (r RoadType) String() string {
	if int(r) < len(roadTypeNames) {
		return roadTypeNames[r]
	}
	return roadTypeNames[RoadUnknown]
}

// MarshalText lets RoadType appear as its tag value in JSON.
func (r RoadType) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// ParseRoadType maps a highway tag value to a RoadType. Link roads share the
// class of the road they connect to.
func ParseRoadType(highway string) RoadType {
	switch strings.TrimSuffix(highway, "_link") {
	case "motorway":
		return RoadMotorway
	case "trunk":
		return RoadTrunk
	case "primary":
		return RoadPrimary
	case "secondary":
		return RoadSecondary
	case "tertiary":
		return RoadTertiary
	case "unclassified":
		return RoadUnclassified
	case "residential":
		return RoadResidential
	case "living_street":
		return RoadLivingStreet
	case "service":
		return RoadService
	default:
		return RoadUnknown
	}
}

// SpeedKmh returns the default travel speed for the road class.
func (r RoadType) SpeedKmh() float64 {
	switch r {
	case RoadMotorway:
		return 100
	case RoadTrunk:
		return 80
	case RoadPrimary:
		return 60
	case RoadSecondary:
		return 50
	case RoadTertiary:
		return 40
	case RoadUnclassified, RoadResidential:
		return 30
	case RoadService:
		return 20
	case RoadLivingStreet:
		return 10
	default:
		return 30
	}
}

// SpeedMps returns SpeedKmh in meters per second.
func (r RoadType) SpeedMps() float64 {
	return r.SpeedKmh() / 3.6
}

// isUsable reports whether a way can carry traffic at all.
func isUsable(tags osm.Tags) bool {
	// Skip area highways (pedestrian plazas).
	if tags.Find("area") == "yes" {
		return false
	}

	access := tags.Find("access")
	if access == "no" || access == "private" {
		return false
	}
	if tags.Find("motor_vehicle") == "no" {
		return false
	}

	return true
}

// directionFlags returns (forward, backward) based on highway type and oneway tags.
func directionFlags(tags osm.Tags) (forward, backward bool) {
	forward = true
	backward = true

	hw := tags.Find("highway")

	// Implied oneway for motorways and roundabouts.
	if hw == "motorway" || hw == "motorway_link" || tags.Find("junction") == "roundabout" {
		backward = false
	}

	switch tags.Find("oneway") {
	case "yes", "true", "1":
		forward = true
		backward = false
	case "-1", "reverse":
		forward = false
		backward = true
	case "no", "false", "0":
		forward = true
		backward = true
	case "reversible":
		// Time-dependent, skip entirely.
		forward = false
		backward = false
	}

	return forward, backward
}
