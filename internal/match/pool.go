package match

import (
	"math"

	geom "github.com/twpayne/go-geom"

	"github.com/fibregrid/fieldlink/internal/model"
)

// Pool indexes the field-record pool for one code space so each strategy can
// look up candidates without rescanning the whole pool per planning asset:
// a code map for exact matching, a suffix map for numeric-suffix matching,
// and a degree-grid bucket index for the proximity bounding-box pre-filter.
type Pool struct {
	kind     model.AssetKind
	byCode   map[string][]model.FieldRecord
	bySuffix map[string][]model.FieldRecord
	grid     map[cellKey][]model.FieldRecord
	cellDeg  float64
}

type cellKey struct {
	latCell int
	lonCell int
}

// NewPool builds the indexes for records in the given code space. Records
// without a usable code in that space (missing, or the drop sentinel) are
// excluded entirely: a link cannot be persisted without a field code. Cell
// size equals the bounding-box half-width so a bbox query never touches more
// than nine cells.
func NewPool(kind model.AssetKind, records []model.FieldRecord, bboxDegrees float64) *Pool {
	p := &Pool{
		kind:     kind,
		byCode:   make(map[string][]model.FieldRecord),
		bySuffix: make(map[string][]model.FieldRecord),
		grid:     make(map[cellKey][]model.FieldRecord),
		cellDeg:  bboxDegrees,
	}

	for _, r := range records {
		code := r.Code(kind)
		if code != "" {
			p.byCode[code] = append(p.byCode[code], r)
			if suffix, ok := NumericSuffix(code); ok {
				p.bySuffix[suffix] = append(p.bySuffix[suffix], r)
			}
			if r.HasCoords() {
				p.grid[p.cellOf(*r.Latitude, *r.Longitude)] = append(p.grid[p.cellOf(*r.Latitude, *r.Longitude)], r)
			}
		}
	}

	return p
}

// Size returns the number of indexed codes.
func (p *Pool) Size() int {
	return len(p.byCode)
}

func (p *Pool) cellOf(lat, lon float64) cellKey {
	return cellKey{
		latCell: int(math.Floor(lat / p.cellDeg)),
		lonCell: int(math.Floor(lon / p.cellDeg)),
	}
}

// exact returns records whose code equals the given planning code.
func (p *Pool) exact(code string) []model.FieldRecord {
	return p.byCode[code]
}

// suffixPeers returns records sharing the given numeric suffix.
func (p *Pool) suffixPeers(suffix string) []model.FieldRecord {
	return p.bySuffix[suffix]
}

// within returns records inside the ±bboxDegrees box around (lat, lon).
// The grid narrows the scan to the nine cells overlapping the box; the box
// itself is then applied per record.
func (p *Pool) within(lat, lon float64) []model.FieldRecord {
	bounds := geom.NewBounds(geom.XY)
	bounds.SetCoords(
		geom.Coord{lon - p.cellDeg, lat - p.cellDeg},
		geom.Coord{lon + p.cellDeg, lat + p.cellDeg},
	)

	var out []model.FieldRecord
	center := p.cellOf(lat, lon)
	for dLat := -1; dLat <= 1; dLat++ {
		for dLon := -1; dLon <= 1; dLon++ {
			key := cellKey{latCell: center.latCell + dLat, lonCell: center.lonCell + dLon}
			for _, r := range p.grid[key] {
				if bounds.OverlapsPoint(geom.XY, geom.Coord{*r.Longitude, *r.Latitude}) {
					out = append(out, r)
				}
			}
		}
	}
	return out
}
