package routing

// Status is the phase the engine is in, for display by a status layer.
type Status int32

const (
	StatusIdle Status = iota
	StatusFetching
	StatusBuilding
	StatusReady
	StatusSearching
	StatusFound
	StatusNoPath
	StatusCancelled
	StatusFailed
)

var statusNames = [...]string{
	StatusIdle:      "idle",
	StatusFetching:  "fetching",
	StatusBuilding:  "building",
	StatusReady:     "ready",
	StatusSearching: "searching",
	StatusFound:     "found",
	StatusNoPath:    "no_path",
	StatusCancelled: "cancelled",
	StatusFailed:    "failed",
}

func (s Status) String() string {
	if s >= 0 && int(s) < len(statusNames) {
		return statusNames[s]
	}
	return "unknown"
}

// MarshalText renders the status name in JSON.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}
