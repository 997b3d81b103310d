// README: Identifier and coordinate value objects shared by trip, maps and nearby.
package types

import "strconv"

type ID string

// Point is a WGS84 coordinate in decimal degrees.
type Point struct {
	Lat float64
	Lng float64
}

// String renders the point as "lat,lng", the form the maps APIs accept.
func (p Point) String() string {
	return strconv.FormatFloat(p.Lat, 'f', 6, 64) + "," + strconv.FormatFloat(p.Lng, 'f', 6, 64)
}
