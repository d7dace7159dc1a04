package fields

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"strconv"
)

// The mapping table's serialized form. The first nine columns are the
// base record; rich_description, widget_identity and on_state are
// appended by this implementation and tolerated as absent on read so
// hand-edited tables keep working.
var csvHeader = []string{
	"row", "heading", "subheading", "form_entry_description",
	"x1", "y1", "x2", "y2", "page",
	"rich_description", "widget_identity", "on_state", "kind",
}

const csvBaseColumns = 9

// MarshalCSV serializes a mapping to its table form.
func MarshalCSV(m *Mapping) ([]byte, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)

	if err := w.Write(csvHeader); err != nil {
		return nil, fmt.Errorf("write header: %w", err)
	}
	for _, d := range m.Fields {
		rec := []string{
			strconv.Itoa(d.Row),
			d.Heading,
			d.Subheading,
			d.RawLabel,
			formatCoord(d.BBox.X1),
			formatCoord(d.BBox.Y1),
			formatCoord(d.BBox.X2),
			formatCoord(d.BBox.Y2),
			strconv.Itoa(d.Page),
			d.RichDescription,
			strconv.Itoa(d.ObjNr),
			d.OnState,
			string(d.Kind),
		}
		if err := w.Write(rec); err != nil {
			return nil, fmt.Errorf("write row %d: %w", d.Row, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// UnmarshalCSV parses a mapping table. Records shorter than the full
// column set are accepted; missing extended columns default so that a
// base table still yields a usable mapping.
func UnmarshalCSV(data []byte) (*Mapping, error) {
	r := csv.NewReader(bytes.NewReader(data))
	r.FieldsPerRecord = -1

	records, err := r.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("parse mapping table: %w", err)
	}
	if len(records) == 0 {
		return nil, fmt.Errorf("mapping table is empty")
	}

	m := &Mapping{}
	for i, rec := range records[1:] {
		if len(rec) < csvBaseColumns {
			return nil, fmt.Errorf("record %d has %d columns, want at least %d", i+1, len(rec), csvBaseColumns)
		}

		row, err := strconv.Atoi(rec[0])
		if err != nil {
			return nil, fmt.Errorf("record %d: bad row id %q: %w", i+1, rec[0], err)
		}
		page, err := strconv.Atoi(rec[8])
		if err != nil {
			return nil, fmt.Errorf("record %d: bad page %q: %w", i+1, rec[8], err)
		}

		var coords [4]float64
		for j := 0; j < 4; j++ {
			coords[j], err = strconv.ParseFloat(rec[4+j], 64)
			if err != nil {
				return nil, fmt.Errorf("record %d: bad coordinate %q: %w", i+1, rec[4+j], err)
			}
		}

		d := Descriptor{
			Row:             row,
			Heading:         rec[1],
			Subheading:      rec[2],
			RawLabel:        rec[3],
			RichDescription: rec[3],
			Page:            page,
			BBox:            BoundingBox{X1: coords[0], Y1: coords[1], X2: coords[2], Y2: coords[3]}.Normalize(),
			Kind:            KindText,
		}
		if len(rec) > 9 && rec[9] != "" {
			d.RichDescription = rec[9]
		}
		if len(rec) > 10 && rec[10] != "" {
			if objNr, err := strconv.Atoi(rec[10]); err == nil {
				d.ObjNr = objNr
			}
		}
		if len(rec) > 11 {
			d.OnState = rec[11]
		}
		if len(rec) > 12 && rec[12] != "" {
			d.Kind = Kind(rec[12])
		}

		m.Fields = append(m.Fields, d)
	}
	return m, nil
}

func formatCoord(f float64) string {
	return strconv.FormatFloat(f, 'f', 2, 64)
}
