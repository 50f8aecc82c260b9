package geo

import "github.com/twpayne/go-geom"

// ServiceArea is an inclusive latitude/longitude rectangle approximating the
// valid service region. Points on the boundary are inside.
type ServiceArea struct {
	bounds *geom.Bounds
}

// NewServiceArea builds a service area from inclusive longitude and latitude
// bounds.
func NewServiceArea(minLon, minLat, maxLon, maxLat float64) ServiceArea {
	return ServiceArea{
		bounds: geom.NewBounds(geom.XY).Set(minLon, minLat, maxLon, maxLat),
	}
}

// Contains reports whether the point lies within the service area, boundary
// included.
func (a ServiceArea) Contains(lon, lat float64) bool {
	return a.bounds.OverlapsPoint(geom.XY, geom.Coord{lon, lat})
}
