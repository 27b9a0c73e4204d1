package osm

import (
	"errors"
	"strings"
	"testing"

	"github.com/paulmach/osm"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	input := `{
		"bbox": {"south": 1.29, "west": 103.79, "north": 1.31, "east": 103.81},
		"elements": [
			{"type": "node", "id": 1, "lat": 1.300, "lon": 103.800},
			{"type": "node", "id": 2, "lat": 1.300, "lng": 103.801},
			{"type": "node", "id": 3, "lat": "north", "lon": 103.802},
			{"type": "node", "id": 4, "lon": 103.803},
			{"type": "way", "id": 10, "nodes": [1, 2], "tags": {"highway": "primary", "name": "Main St", "oneway": "yes"}},
			{"type": "way", "id": 11, "nodes": [1], "tags": {"highway": "residential"}},
			{"type": "way", "id": 12, "nodes": [1, 2], "tags": {"highway": "service", "access": "private"}},
			{"type": "relation", "id": 20}
		]
	}`

	fc, err := Decode(strings.NewReader(input))
	require.NoError(t, err)

	assert.Len(t, fc.Nodes, 2)
	assert.Equal(t, 103.801, fc.Nodes[2].Lon)
	assert.Equal(t, 2, fc.Dropped.Points)
	assert.Equal(t, 2, fc.Dropped.Ways)
	assert.Equal(t, 1, fc.Dropped.Other)

	require.Len(t, fc.Ways, 1)
	w := fc.Ways[0]
	assert.Equal(t, osm.WayID(10), w.ID)
	assert.Equal(t, []osm.NodeID{1, 2}, w.NodeIDs)
	assert.Equal(t, RoadPrimary, w.RoadType)
	assert.Equal(t, "Main St", w.Name)
	assert.True(t, w.Forward)
	assert.False(t, w.Backward)

	assert.Equal(t, 103.79, fc.BBox.Min.Lon())
	assert.Equal(t, 1.31, fc.BBox.Max.Lat())
}

func TestDecodeFeatureLayout(t *testing.T) {
	input := `{
		"boundingBox": {"south": 1.29, "west": 103.79, "north": 1.31, "east": 103.81},
		"features": [
			{"kind": "point", "id": 1, "lat": 1.300, "lng": 103.800},
			{"kind": "point", "id": 2, "lat": 1.300, "lng": 103.801},
			{"kind": "point", "id": 3, "lat": null, "lng": 103.802},
			{"kind": "way", "tags": {"roadType": "secondary", "name": "Jalan Dua", "oneWay": true}, "pointIds": [1, 2]},
			{"kind": "way", "tags": {"roadType": "motorway"}, "pointIds": [2, 1]},
			{"kind": "way", "tags": {"roadType": "residential"}, "pointIds": [2]}
		]
	}`

	fc, err := Decode(strings.NewReader(input))
	require.NoError(t, err)

	assert.Len(t, fc.Nodes, 2)
	assert.Equal(t, 1.300, fc.Nodes[1].Lat)
	assert.Equal(t, 103.801, fc.Nodes[2].Lon)
	assert.Equal(t, 1, fc.Dropped.Points)
	assert.Equal(t, 1, fc.Dropped.Ways)

	require.Len(t, fc.Ways, 2)
	tests := []struct {
		way      Way
		id       osm.WayID
		nodes    []osm.NodeID
		road     RoadType
		name     string
		backward bool
	}{
		{fc.Ways[0], 4, []osm.NodeID{1, 2}, RoadSecondary, "Jalan Dua", false},
		{fc.Ways[1], 5, []osm.NodeID{2, 1}, RoadMotorway, "", true},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.id, tt.way.ID)
		assert.Equal(t, tt.nodes, tt.way.NodeIDs)
		assert.Equal(t, tt.road, tt.way.RoadType)
		assert.Equal(t, tt.name, tt.way.Name)
		assert.True(t, tt.way.Forward)
		assert.Equal(t, tt.backward, tt.way.Backward)
	}

	assert.Equal(t, 103.79, fc.BBox.Min.Lon())
	assert.Equal(t, 1.29, fc.BBox.Min.Lat())
	assert.Equal(t, 1.31, fc.BBox.Max.Lat())
}

func TestDecodeMalformed(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{name: "not json", input: "<osm></osm>"},
		{name: "json array", input: `[1, 2, 3]`},
		{name: "missing elements", input: `{"bbox": {"south": 0, "west": 0, "north": 1, "east": 1}}`},
		{name: "element without type", input: `{"elements": [{"id": 1, "lat": 0, "lon": 0}]}`},
		{name: "unknown element type", input: `{"elements": [{"type": "blob", "id": 1}]}`},
		{name: "feature without kind", input: `{"features": [{"id": 1, "lat": 0, "lng": 0}]}`},
		{name: "unknown feature kind", input: `{"features": [{"kind": "area", "id": 1}]}`},
		{name: "features not an array", input: `{"features": {"kind": "point"}}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(strings.NewReader(tt.input))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrDataFormat), "want ErrDataFormat, got %v", err)

			var fe *FormatError
			assert.True(t, errors.As(err, &fe))
		})
	}
}

func TestDecodeOutOfRangeCoordinates(t *testing.T) {
	input := `{"elements": [
		{"type": "node", "id": 1, "lat": 91, "lon": 0},
		{"type": "node", "id": 2, "lat": 0, "lon": -181},
		{"type": "node", "id": 3, "lat": 0, "lon": 0}
	]}`

	fc, err := Decode(strings.NewReader(input))
	require.NoError(t, err)
	assert.Len(t, fc.Nodes, 1)
	assert.Equal(t, 2, fc.Dropped.Points)
}

func TestDecodeEmptyElements(t *testing.T) {
	fc, err := Decode(strings.NewReader(`{"elements": []}`))
	require.NoError(t, err)
	assert.Empty(t, fc.Nodes)
	assert.Empty(t, fc.Ways)
	assert.True(t, fc.BBox.IsZero())
}

func TestWayFromOSM(t *testing.T) {
	w := &osm.Way{
		ID:    5,
		Nodes: osm.WayNodes{{ID: 1}, {ID: 2}, {ID: 3}},
		Tags:  osm.Tags{{Key: "highway", Value: "trunk_link"}, {Key: "name", Value: "Ramp"}},
	}

	way, ok := wayFromOSM(w)
	require.True(t, ok)
	assert.Equal(t, []osm.NodeID{1, 2, 3}, way.NodeIDs)
	assert.Equal(t, RoadTrunk, way.RoadType)
	assert.Equal(t, "Ramp", way.Name)
	assert.True(t, way.Forward)
	assert.True(t, way.Backward)

	_, ok = wayFromOSM(&osm.Way{ID: 6, Nodes: osm.WayNodes{{ID: 1}}, Tags: w.Tags})
	assert.False(t, ok)
}
