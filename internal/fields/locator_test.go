package fields

import (
	"bytes"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// buildPDF assembles a document from numbered object bodies, computing
// the cross-reference table as it goes. Object n is objects[n-1].
func buildPDF(t *testing.T, objects []string) []byte {
	t.Helper()

	var buf bytes.Buffer
	buf.WriteString("%PDF-1.7\n")

	offsets := make([]int, len(objects)+1)
	for i, body := range objects {
		offsets[i+1] = buf.Len()
		fmt.Fprintf(&buf, "%d 0 obj\n%s\nendobj\n", i+1, body)
	}

	xref := buf.Len()
	fmt.Fprintf(&buf, "xref\n0 %d\n", len(objects)+1)
	buf.WriteString("0000000000 65535 f \n")
	for i := 1; i <= len(objects); i++ {
		fmt.Fprintf(&buf, "%010d %05d n \n", offsets[i], 0)
	}
	fmt.Fprintf(&buf, "trailer\n<< /Size %d /Root 1 0 R >>\nstartxref\n%d\n%%%%EOF\n",
		len(objects)+1, xref)
	return buf.Bytes()
}

const emptyAppearance = "<< /Type /XObject /Subtype /Form /BBox [0 0 15 15] /Resources << >> /Length 0 >>\nstream\n\nendstream"

// formPDF is a one-page document with a text field, a checkbox with a
// producer-specific on state, and a two-option radio group.
func formPDF(t *testing.T) []byte {
	t.Helper()
	return buildPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [4 0 R 5 0 R 8 0 R] >> >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Annots [4 0 R 5 0 R 6 0 R 7 0 R] >>",
		"<< /Type /Annot /Subtype /Widget /FT /Tx /T (applicant.first) /TU (First name) /Rect [150 700 350 720] /F 4 >>",
		"<< /Type /Annot /Subtype /Widget /FT /Btn /T (consent) /Rect [150 650 165 665] /F 4 /V /Off /AS /Off /AP << /N << /Agree 9 0 R /Off 10 0 R >> >> >>",
		"<< /Type /Annot /Subtype /Widget /Parent 8 0 R /Rect [150 600 165 615] /F 4 /AS /Off /AP << /N << /OptA 9 0 R /Off 10 0 R >> >> >>",
		"<< /Type /Annot /Subtype /Widget /Parent 8 0 R /Rect [200 600 215 615] /F 4 /AS /Off /AP << /N << /OptB 9 0 R /Off 10 0 R >> >> >>",
		"<< /FT /Btn /T (color) /Ff 32768 /Kids [6 0 R 7 0 R] /V /Off >>",
		emptyAppearance,
		emptyAppearance,
	})
}

// fieldlessPDF is a one-page document with no widgets at all.
func fieldlessPDF(t *testing.T) []byte {
	t.Helper()
	return buildPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] >>",
	})
}

func TestLocateFormFixture(t *testing.T) {
	m, err := testLocator().Locate(formPDF(t))
	require.NoError(t, err)
	require.Len(t, m.Fields, 4)

	text := m.Fields[0]
	assert.Equal(t, 1, text.Row)
	assert.Equal(t, KindText, text.Kind)
	assert.Equal(t, "First name", text.RawLabel, "tooltip wins the label priority")
	assert.Equal(t, "applicant", text.Heading)
	assert.Equal(t, "first", text.Subheading)
	assert.Equal(t, 1, text.Page)
	assert.Equal(t, BoundingBox{X1: 150, Y1: 700, X2: 350, Y2: 720}, text.BBox)
	assert.NotZero(t, text.ObjNr)

	check := m.Fields[1]
	assert.Equal(t, 2, check.Row)
	assert.Equal(t, KindCheckbox, check.Kind)
	assert.Equal(t, "consent", check.RawLabel, "field name is the fallback label")
	assert.Equal(t, "Agree", check.OnState, "on state comes from the appearance dictionary")

	for i, state := range []string{"OptA", "OptB"} {
		radio := m.Fields[2+i]
		assert.Equal(t, 3+i, radio.Row)
		assert.Equal(t, KindRadio, radio.Kind)
		assert.Equal(t, "color", radio.RawLabel, "radio widgets inherit the group name")
		assert.Equal(t, state, radio.OnState)
	}
}

func TestLocateRowsStableAcrossRuns(t *testing.T) {
	doc := formPDF(t)
	loc := testLocator()

	first, err := loc.Locate(doc)
	require.NoError(t, err)
	second, err := loc.Locate(doc)
	require.NoError(t, err)

	require.Equal(t, len(first.Fields), len(second.Fields))
	for i := range first.Fields {
		assert.Equal(t, first.Fields[i].Row, second.Fields[i].Row)
		assert.Equal(t, first.Fields[i].ObjNr, second.Fields[i].ObjNr)
		assert.Equal(t, first.Fields[i].BBox, second.Fields[i].BBox)
		assert.Equal(t, first.Fields[i].RawLabel, second.Fields[i].RawLabel)
	}
}

func TestLocateNoFields(t *testing.T) {
	_, err := testLocator().Locate(fieldlessPDF(t))
	require.ErrorIs(t, err, ErrNoFields)
}

func TestEnumerateWidgetsSkipsPushbuttons(t *testing.T) {
	doc := buildPDF(t, []string{
		"<< /Type /Catalog /Pages 2 0 R /AcroForm << /Fields [4 0 R 5 0 R] >> >>",
		"<< /Type /Pages /Kids [3 0 R] /Count 1 >>",
		"<< /Type /Page /Parent 2 0 R /MediaBox [0 0 612 792] /Annots [4 0 R 5 0 R] >>",
		"<< /Type /Annot /Subtype /Widget /FT /Btn /T (submit) /Ff 65536 /Rect [150 100 250 120] /F 4 >>",
		"<< /Type /Annot /Subtype /Widget /FT /Tx /T (note) /Rect [150 200 350 220] /F 4 >>",
	})

	m, err := testLocator().Locate(doc)
	require.NoError(t, err)
	require.Len(t, m.Fields, 1)
	assert.Equal(t, "note", m.Fields[0].RawLabel)
}
