package fields

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleMapping() *Mapping {
	return &Mapping{
		Identity: "abc123",
		Fields: []Descriptor{
			{
				Row: 1, Heading: "form1", Subheading: "buyer",
				RawLabel: "Name of Buyer", RichDescription: "Full legal name of the buyer",
				Page: 1, BBox: BoundingBox{X1: 100, Y1: 700, X2: 300, Y2: 715},
				ObjNr: 42, Kind: KindText,
			},
			{
				Row: 2, Heading: "form1", Subheading: "dual",
				RawLabel: "Dual agency consent", RichDescription: "Dual agency consent",
				Page: 2, BBox: BoundingBox{X1: 80, Y1: 400, X2: 92, Y2: 412},
				ObjNr: 57, Kind: KindCheckbox, OnState: "1",
			},
		},
	}
}

func TestCSVRoundTrip(t *testing.T) {
	m := sampleMapping()

	data, err := MarshalCSV(m)
	require.NoError(t, err)

	got, err := UnmarshalCSV(data)
	require.NoError(t, err)
	require.Len(t, got.Fields, 2)

	assert.Equal(t, 1, got.Fields[0].Row)
	assert.Equal(t, "Name of Buyer", got.Fields[0].RawLabel)
	assert.Equal(t, "Full legal name of the buyer", got.Fields[0].RichDescription)
	assert.Equal(t, 42, got.Fields[0].ObjNr)
	assert.Equal(t, KindText, got.Fields[0].Kind)

	assert.Equal(t, KindCheckbox, got.Fields[1].Kind)
	assert.Equal(t, "1", got.Fields[1].OnState)
	assert.Equal(t, 2, got.Fields[1].Page)
	assert.InDelta(t, 80.0, got.Fields[1].BBox.X1, 0.01)
}

func TestUnmarshalCSVBaseColumnsOnly(t *testing.T) {
	// A table in the nine-column base format, e.g. hand-edited.
	data := []byte("row,heading,subheading,form_entry_description,x1,y1,x2,y2,page\n" +
		"1,form1,,Permit Number,30,700,180,715,1\n")

	m, err := UnmarshalCSV(data)
	require.NoError(t, err)
	require.Len(t, m.Fields, 1)

	d := m.Fields[0]
	assert.Equal(t, "Permit Number", d.RawLabel)
	// Without a rich column, the raw label stands in.
	assert.Equal(t, "Permit Number", d.RichDescription)
	assert.Equal(t, KindText, d.Kind)
	assert.Zero(t, d.ObjNr)
}

func TestUnmarshalCSVRejectsGarbage(t *testing.T) {
	cases := map[string]string{
		"empty":          "",
		"short record":   "row,heading\n1,x\n",
		"bad row id":     "row,h,s,d,x1,y1,x2,y2,page\nnope,h,s,d,1,2,3,4,1\n",
		"bad coordinate": "row,h,s,d,x1,y1,x2,y2,page\n1,h,s,d,one,2,3,4,1\n",
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := UnmarshalCSV([]byte(in))
			assert.Error(t, err)
		})
	}
}

func TestMappingByRow(t *testing.T) {
	m := sampleMapping()

	d := m.ByRow(2)
	require.NotNil(t, d)
	assert.Equal(t, KindCheckbox, d.Kind)

	assert.Nil(t, m.ByRow(9999))
	assert.Nil(t, m.ByRow(0))
}

func TestMappingPages(t *testing.T) {
	m := sampleMapping()
	assert.Equal(t, []int{1, 2}, m.Pages())
}

func TestMappingValidate(t *testing.T) {
	m := sampleMapping()
	assert.NoError(t, m.Validate())

	m.Fields[1].Row = 7
	assert.Error(t, m.Validate())
}

func TestBoundingBoxIntersect(t *testing.T) {
	a := BoundingBox{X1: 0, Y1: 0, X2: 10, Y2: 10}

	overlap := a.Intersect(BoundingBox{X1: 5, Y1: 5, X2: 15, Y2: 15})
	assert.InDelta(t, 25.0, overlap.Area(), 0.001)

	disjoint := a.Intersect(BoundingBox{X1: 20, Y1: 20, X2: 30, Y2: 30})
	assert.Zero(t, disjoint.Area())
}

func TestBoundingBoxNormalize(t *testing.T) {
	b := BoundingBox{X1: 10, Y1: 20, X2: 0, Y2: 5}.Normalize()
	assert.Equal(t, BoundingBox{X1: 0, Y1: 5, X2: 10, Y2: 20}, b)
}
