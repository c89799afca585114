package rover

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"

	"github.com/paulmach/orb"
	"github.com/paulmach/orb/planar"
)

// GeoJSON export of a map document. Coordinates are world-frame meters,
// not geographic degrees; consumers plot them on a planar axis.

// GeometryType identifies a GeoJSON geometry kind.
type GeometryType string

const (
	GeometryPoint   GeometryType = "Point"
	GeometryPolygon GeometryType = "Polygon"
)

// Geometry is a GeoJSON geometry with raw coordinates.
type Geometry struct {
	Type        GeometryType    `json:"type"`
	Coordinates json.RawMessage `json:"coordinates"`
}

// Feature is a GeoJSON feature with geometry and properties.
type Feature struct {
	Type       string                 `json:"type"`
	Geometry   *Geometry              `json:"geometry"`
	Properties map[string]interface{} `json:"properties"`
	ID         interface{}            `json:"id,omitempty"`
}

// FeatureCollection is a GeoJSON FeatureCollection.
type FeatureCollection struct {
	Type     string     `json:"type"`
	Features []*Feature `json:"features"`
}

// NewFeatureCollection creates an empty FeatureCollection.
func NewFeatureCollection() *FeatureCollection {
	return &FeatureCollection{
		Type:     "FeatureCollection",
		Features: make([]*Feature, 0),
	}
}

func pointGeometry(p orb.Point) *Geometry {
	coords, _ := json.Marshal([2]float64{p[0], p[1]})
	return &Geometry{Type: GeometryPoint, Coordinates: coords}
}

func polygonGeometry(ring []orb.Point) *Geometry {
	coords := make([][2]float64, len(ring))
	for i, p := range ring {
		coords[i] = [2]float64{p[0], p[1]}
	}
	raw, _ := json.Marshal([][][2]float64{coords})
	return &Geometry{Type: GeometryPolygon, Coordinates: raw}
}

// ExportGeoJSON converts a map document into a FeatureCollection:
// obstacle cells grouped into cluster polygons, waypoints and the car
// pose as points.
func ExportGeoJSON(doc *MapDocument) *FeatureCollection {
	fc := NewFeatureCollection()

	for i, cluster := range clusterObstacles(doc) {
		hull := obstacleHull(cluster, doc.Config.CellSize)
		if len(hull) < 4 {
			continue
		}
		fc.Features = append(fc.Features, &Feature{
			Type:     "Feature",
			Geometry: polygonGeometry(hull),
			Properties: map[string]interface{}{
				"kind":  "obstacle",
				"cells": len(cluster),
			},
			ID: fmt.Sprintf("obstacle-%d", i),
		})
	}

	for _, wp := range doc.Waypoints {
		fc.Features = append(fc.Features, &Feature{
			Type:     "Feature",
			Geometry: pointGeometry(orb.Point{wp.X, wp.Y}),
			Properties: map[string]interface{}{
				"kind":    "waypoint",
				"name":    wp.Name,
				"visited": wp.Visited,
			},
			ID: wp.ID,
		})
	}

	pose := doc.CarPosition
	fc.Features = append(fc.Features, &Feature{
		Type:     "Feature",
		Geometry: pointGeometry(orb.Point{pose.X, pose.Y}),
		Properties: map[string]interface{}{
			"kind":    "car",
			"heading": pose.Heading,
		},
		ID: "car",
	})

	return fc
}

// WriteGeoJSON renders the document and writes the collection as JSON.
func WriteGeoJSON(w io.Writer, doc *MapDocument) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(ExportGeoJSON(doc)); err != nil {
		return fmt.Errorf("encoding geojson: %w", err)
	}
	return nil
}

// clusterObstacles groups obstacle cells into connected clusters using
// single-linkage on cell-center distance. Cells within 1.5 cell widths
// of each other (8-connected neighbors) land in the same cluster.
func clusterObstacles(doc *MapDocument) [][]orb.Point {
	cfg := doc.Config

	var centers []orb.Point
	for _, rec := range doc.Cells {
		if rec.Class != Obstacle {
			continue
		}
		cx := (float64(rec.X)+0.5)*cfg.CellSize - cfg.OriginX
		cy := (float64(rec.Y)+0.5)*cfg.CellSize - cfg.OriginY
		centers = append(centers, orb.Point{cx, cy})
	}
	if len(centers) == 0 {
		return nil
	}

	maxDist := 1.5 * cfg.CellSize
	uf := newUnionFind(len(centers))
	for i := 0; i < len(centers); i++ {
		for j := i + 1; j < len(centers); j++ {
			if planar.Distance(centers[i], centers[j]) <= maxDist {
				uf.union(i, j)
			}
		}
	}

	groups := make(map[int][]orb.Point)
	for i, c := range centers {
		root := uf.find(i)
		groups[root] = append(groups[root], c)
	}

	result := make([][]orb.Point, 0, len(groups))
	for _, g := range groups {
		result = append(result, g)
	}
	// Largest clusters first for deterministic output.
	sort.Slice(result, func(i, j int) bool {
		if len(result[i]) != len(result[j]) {
			return len(result[i]) > len(result[j])
		}
		return result[i][0][0] < result[j][0][0]
	})
	return result
}

// obstacleHull expands each cell center to its four corners and returns
// the closed convex hull of the cluster.
func obstacleHull(centers []orb.Point, cellSize float64) []orb.Point {
	h := cellSize / 2
	corners := make([]orb.Point, 0, 4*len(centers))
	for _, c := range centers {
		corners = append(corners,
			orb.Point{c[0] - h, c[1] - h},
			orb.Point{c[0] + h, c[1] - h},
			orb.Point{c[0] + h, c[1] + h},
			orb.Point{c[0] - h, c[1] + h},
		)
	}

	hull := convexHull(corners)
	if len(hull) > 0 && (hull[0][0] != hull[len(hull)-1][0] || hull[0][1] != hull[len(hull)-1][1]) {
		hull = append(hull, hull[0])
	}
	return hull
}

// unionFind is a disjoint-set structure with path compression.
type unionFind struct {
	parent []int
}

func newUnionFind(n int) *unionFind {
	p := make([]int, n)
	for i := range p {
		p[i] = i
	}
	return &unionFind{parent: p}
}

func (uf *unionFind) find(x int) int {
	for uf.parent[x] != x {
		uf.parent[x] = uf.parent[uf.parent[x]]
		x = uf.parent[x]
	}
	return x
}

func (uf *unionFind) union(a, b int) {
	ra, rb := uf.find(a), uf.find(b)
	if ra != rb {
		uf.parent[ra] = rb
	}
}

// convexHull computes the hull of 2D points with Andrew's monotone chain,
// returning points in counter-clockwise order.
func convexHull(points []orb.Point) []orb.Point {
	if len(points) < 3 {
		result := make([]orb.Point, len(points))
		copy(result, points)
		return result
	}

	sorted := make([]orb.Point, len(points))
	copy(sorted, points)
	sort.Slice(sorted, func(i, j int) bool {
		if sorted[i][0] != sorted[j][0] {
			return sorted[i][0] < sorted[j][0]
		}
		return sorted[i][1] < sorted[j][1]
	})

	cross := func(o, a, b orb.Point) float64 {
		return (a[0]-o[0])*(b[1]-o[1]) - (a[1]-o[1])*(b[0]-o[0])
	}

	n := len(sorted)
	hull := make([]orb.Point, 0, 2*n)

	for _, p := range sorted {
		for len(hull) >= 2 && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	lower := len(hull) + 1
	for i := n - 2; i >= 0; i-- {
		p := sorted[i]
		for len(hull) >= lower && cross(hull[len(hull)-2], hull[len(hull)-1], p) <= 0 {
			hull = hull[:len(hull)-1]
		}
		hull = append(hull, p)
	}

	return hull[:len(hull)-1]
}
