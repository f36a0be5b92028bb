package types

import "image"

// Point is a coordinate pair in image pixel space.
type Point struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

// BBox is an axis-aligned bounding box in pixel space.
type BBox struct {
	XMin float64 `json:"x_min"`
	YMin float64 `json:"y_min"`
	XMax float64 `json:"x_max"`
	YMax float64 `json:"y_max"`
}

// Region is a user-drawn polygon marking an area of interest on the image.
// Point order is significant: consecutive points define the polygon edges,
// with the last point closing back to the first. A region with fewer than
// three points is invalid and skipped by downstream processing.
type Region struct {
	ID     int     `json:"id"`
	Name   string  `json:"name"`
	Points []Point `json:"points"`
}

// Valid reports whether the region has enough points to form a polygon.
func (r Region) Valid() bool {
	return len(r.Points) >= 3
}

// RegionDescriptor is the derived geometric summary of a region. Relative
// values are normalized against the image dimensions; points outside the
// image produce relative values outside [0,1] and are not clamped.
type RegionDescriptor struct {
	ID             int     `json:"id"`
	Name           string  `json:"name"`
	Points         []Point `json:"points"`
	Area           float64 `json:"area"`
	RelativeArea   float64 `json:"relative_area"`
	BBox           BBox    `json:"bbox"`
	Center         Point   `json:"center"`
	RelativeCenter Point   `json:"relative_center"`
	PointCount     int     `json:"point_count"`
}

// RegionCrop is a base64-encoded crop of the image covering one region's
// bounding box. Tag is the 1-based sequential label ("region1", "region2",
// ...) used when referencing the crop in prompts; it is distinct from the
// region's own id.
type RegionCrop struct {
	Tag          string          `json:"tag"`
	Rect         image.Rectangle `json:"bbox"`
	EncodedImage string          `json:"encoded_image"`
}

// InferenceRequest is a single user submission: a question about an image,
// optionally scoped to a set of drawn regions.
type InferenceRequest struct {
	Question string
	Image    image.Image
	Regions  []Region
}
