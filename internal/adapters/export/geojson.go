// Package export renders the effective state of a branch as a GeoJSON
// FeatureCollection and stores it in the configured blob backend.
package export

import (
	"encoding/json"
	"fmt"

	"geodraft/pkg/domain"
)

var geojsonTypes = map[domain.GeometryKind]string{
	domain.GeometryPoint:           "Point",
	domain.GeometryMultiPoint:      "MultiPoint",
	domain.GeometryLineString:      "LineString",
	domain.GeometryMultiLineString: "MultiLineString",
	domain.GeometryPolygon:         "Polygon",
	domain.GeometryMultiPolygon:    "MultiPolygon",
}

type geojsonGeometry struct {
	Type        string          `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

type geojsonFeature struct {
	Type       string            `json:"type"`
	ID         string            `json:"id"`
	Geometry   geojsonGeometry   `json:"geometry"`
	Properties domain.Properties `json:"properties"`
}

type geojsonCollection struct {
	Type     string           `json:"type"`
	Features []geojsonFeature `json:"features"`
}

// EncodeFeatureCollection renders versions as a GeoJSON FeatureCollection.
// Callers pass the effective live state of a branch, so tombstones are not
// expected here.
func EncodeFeatureCollection(versions []domain.FeatureVersion) ([]byte, error) {
	collection := geojsonCollection{
		Type:     "FeatureCollection",
		Features: make([]geojsonFeature, 0, len(versions)),
	}
	for _, v := range versions {
		typ, ok := geojsonTypes[v.Geometry.Kind]
		if !ok {
			return nil, fmt.Errorf("feature %s has unknown geometry kind %q", v.FeatureID, v.Geometry.Kind)
		}
		props := v.Properties.Clone()
		if props == nil {
			props = domain.Properties{}
		}
		collection.Features = append(collection.Features, geojsonFeature{
			Type: "Feature",
			ID:   v.FeatureID,
			Geometry: geojsonGeometry{
				Type:        typ,
				Coordinates: v.Geometry.Coordinates,
			},
			Properties: props,
		})
	}
	return json.MarshalIndent(collection, "", "  ")
}
