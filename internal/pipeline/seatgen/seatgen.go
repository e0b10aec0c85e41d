// Package seatgen derives seat positions from section layouts. Everything
// here is pure computation: the same sections always produce the same seats
// and the same JSON bytes.
package seatgen

import (
	"encoding/json"
	"math"
	"sort"

	"github.com/sullysaurus/venues/internal/domain"
)

// Row labels in emission order per section.
const (
	RowFront  = "Front"
	RowMiddle = "Middle"
	RowBack   = "Back"
)

// GenerateAllSeats emits three sampled seats per section: the front row,
// the middle row (rows/2), and the back row (rows-1), each at the section's
// center azimuth. Sections with few rows still emit all three labels; the
// row indices then coincide and the seats share coordinates under distinct
// ids. Output is ordered by section id ascending, then Front, Middle, Back.
func GenerateAllSeats(sections map[string]domain.SectionSpec) []domain.Seat {
	ids := make([]string, 0, len(sections))
	for id := range sections {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	var seats []domain.Seat
	for _, id := range ids {
		seats = append(seats, sectionSeats(id, sections[id])...)
	}
	return seats
}

func sectionSeats(sectionID string, spec domain.SectionSpec) []domain.Seat {
	rows := spec.Rows
	if rows < 1 {
		return nil
	}
	type rowSample struct {
		index int
		label string
	}
	samples := []rowSample{
		{0, RowFront},
		{rows / 2, RowMiddle},
		{rows - 1, RowBack},
	}
	out := make([]domain.Seat, 0, 3)
	for _, s := range samples {
		out = append(out, seatAt(sectionID, spec, s.index, s.label))
	}
	return out
}

func seatAt(sectionID string, spec domain.SectionSpec, row int, label string) domain.Seat {
	radius := spec.InnerRadius + float64(row)*spec.RowDepth
	height := spec.BaseHeight + float64(row)*spec.RowRise
	azimuthRad := spec.Angle * math.Pi / 180

	x := round3(radius * math.Sin(azimuthRad))
	y := round3(radius * math.Cos(azimuthRad))
	z := round3(height)
	look := round2(math.Atan2(-x, -y) * 180 / math.Pi)

	return domain.Seat{
		ID:        sectionID + "_" + label + "_1",
		Section:   sectionID,
		Row:       label,
		Seat:      1,
		Tier:      spec.Tier,
		X:         x,
		Y:         y,
		Z:         z,
		LookAngle: normalizeAngle(look),
	}
}

// SampleAnchorSeats picks the default render set: per tier (lower, mid,
// upper in that order), up to three sections (first, middle, last of the
// sorted section ids), and from each the front-center seat plus the
// back-center seat when the section has more than one row.
func SampleAnchorSeats(sections map[string]domain.SectionSpec, allSeats []domain.Seat) []domain.Seat {
	byID := make(map[string]domain.Seat, len(allSeats))
	for _, s := range allSeats {
		byID[s.ID] = s
	}

	var anchors []domain.Seat
	for _, tier := range []string{"lower", "mid", "upper"} {
		var tierIDs []string
		for id, spec := range sections {
			if spec.Tier == tier {
				tierIDs = append(tierIDs, id)
			}
		}
		sort.Strings(tierIDs)

		sampled := tierIDs
		if len(tierIDs) >= 3 {
			sampled = []string{tierIDs[0], tierIDs[len(tierIDs)/2], tierIDs[len(tierIDs)-1]}
		}
		for _, id := range sampled {
			if front, ok := byID[id+"_"+RowFront+"_1"]; ok {
				anchors = append(anchors, front)
			}
			if sections[id].Rows > 1 {
				if back, ok := byID[id+"_"+RowBack+"_1"]; ok {
					anchors = append(anchors, back)
				}
			}
		}
	}
	return anchors
}

// ResolveRenderSet maps custom seat ids onto generated seats, falling back
// to the anchors when no custom set is given. Unknown ids are skipped.
func ResolveRenderSet(customIDs []string, allSeats, anchorSeats []domain.Seat) []domain.Seat {
	if len(customIDs) == 0 {
		return anchorSeats
	}
	byID := make(map[string]domain.Seat, len(allSeats))
	for _, s := range allSeats {
		byID[s.ID] = s
	}
	out := make([]domain.Seat, 0, len(customIDs))
	for _, id := range customIDs {
		if s, ok := byID[id]; ok {
			out = append(out, s)
		}
	}
	return out
}

// SeatsDocument is the seats.json artifact body.
type SeatsDocument struct {
	Venue string        `json:"venue"`
	Seats []domain.Seat `json:"seats"`
}

// EncodeSeatsArtifact renders the seats.json bytes. Encoding is
// deterministic for a given seat list.
func EncodeSeatsArtifact(venueID string, allSeats []domain.Seat) ([]byte, error) {
	if allSeats == nil {
		allSeats = []domain.Seat{}
	}
	return json.MarshalIndent(SeatsDocument{Venue: venueID, Seats: allSeats}, "", "  ")
}

// EncodeAnchorsArtifact renders the anchor_seats.json bytes, a bare array.
func EncodeAnchorsArtifact(anchorSeats []domain.Seat) ([]byte, error) {
	if anchorSeats == nil {
		anchorSeats = []domain.Seat{}
	}
	return json.MarshalIndent(anchorSeats, "", "  ")
}

// DecodeSeatsArtifact parses a seats.json body, for resume paths.
func DecodeSeatsArtifact(data []byte) (*SeatsDocument, error) {
	var doc SeatsDocument
	if err := json.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &doc, nil
}

// DecodeAnchorsArtifact parses an anchor_seats.json body.
func DecodeAnchorsArtifact(data []byte) ([]domain.Seat, error) {
	var seats []domain.Seat
	if err := json.Unmarshal(data, &seats); err != nil {
		return nil, err
	}
	return seats, nil
}

func round3(v float64) float64 { return normalizeZero(math.Round(v*1000) / 1000) }

func round2(v float64) float64 { return normalizeZero(math.Round(v*100) / 100) }

func normalizeZero(v float64) float64 {
	if v == 0 {
		return 0
	}
	return v
}

// normalizeAngle maps the atan2 branch cut so straight-ahead seats report
// 180 rather than -180.
func normalizeAngle(deg float64) float64 {
	if deg == -180 {
		return 180
	}
	return normalizeZero(deg)
}
