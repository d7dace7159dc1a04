package server

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/acroflow/acroflow/internal/completed"
	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/jobs"
	"github.com/acroflow/acroflow/internal/logger"
	"github.com/acroflow/acroflow/internal/mapping"
	"github.com/acroflow/acroflow/internal/render"
	"github.com/acroflow/acroflow/internal/store"
)

type staticExtractor struct{}

func (staticExtractor) Extract(_ context.Context, _ []byte) (*fields.Mapping, *render.Verification, error) {
	m := &fields.Mapping{
		Fields: []fields.Descriptor{
			{Row: 1, RawLabel: "Name", RichDescription: "Name", Page: 1,
				BBox: fields.BoundingBox{X1: 10, Y1: 10, X2: 110, Y2: 25}, Kind: fields.KindText},
		},
	}
	v := &render.Verification{AnnotatedPDF: []byte("%PDF annotated"), Pages: [][]byte{[]byte("png")}}
	return m, v, nil
}

type testEnv struct {
	router  *gin.Engine
	cache   *mapping.Cache
	archive *completed.Archive
	jobs    *jobs.Store
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	blobs := store.NewMemStore()
	log := logger.Nop()

	cache := mapping.NewCache(blobs, staticExtractor{}, nil, log)
	jobStore := jobs.NewStore(blobs, log)
	queue := jobs.NewQueue(16, log)
	archive := completed.NewArchive(blobs, log)
	library := NewLibrary(blobs, log)

	srv := New(jobStore, queue, cache, archive, library, 10<<20, "test", log)
	return &testEnv{router: srv.Router(), cache: cache, archive: archive, jobs: jobStore}
}

func (e *testEnv) do(t *testing.T, req *http.Request) *httptest.ResponseRecorder {
	t.Helper()
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func multipartUpload(t *testing.T, filename string, doc []byte, form map[string]string) (*bytes.Buffer, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	if filename != "" {
		fw, err := mw.CreateFormFile("file", filename)
		require.NoError(t, err)
		_, err = fw.Write(doc)
		require.NoError(t, err)
	}
	for k, v := range form {
		require.NoError(t, mw.WriteField(k, v))
	}
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func TestHealth(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"ok"`)
}

func TestSubmitJob(t *testing.T) {
	env := newTestEnv(t)
	doc := []byte("%PDF-1.7 test form")

	body, ct := multipartUpload(t, "form.pdf", doc, map[string]string{"instructions": "fill for Jane"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", ct)

	w := env.do(t, req)
	require.Equal(t, http.StatusAccepted, w.Code, w.Body.String())

	var resp struct {
		JobID string `json:"job_id"`
		PDFID string `json:"pdf_id"`
		State string `json:"state"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, mapping.Identity(doc), resp.PDFID)
	assert.Equal(t, "queued", resp.State)

	job, err := env.jobs.Get(resp.JobID)
	require.NoError(t, err)
	assert.Equal(t, "form.pdf", job.Filename)
	assert.Equal(t, "fill for Jane", job.Instructions)

	// The upload landed in the library and can be reused by id.
	lw := env.do(t, httptest.NewRequest(http.MethodGet, "/api/library", nil))
	assert.Equal(t, http.StatusOK, lw.Code)
	assert.Contains(t, lw.Body.String(), resp.PDFID)

	body2, ct2 := multipartUpload(t, "", nil, map[string]string{
		"instructions": "again", "pdf_id": resp.PDFID,
	})
	req2 := httptest.NewRequest(http.MethodPost, "/api/jobs", body2)
	req2.Header.Set("Content-Type", ct2)
	w2 := env.do(t, req2)
	assert.Equal(t, http.StatusAccepted, w2.Code, w2.Body.String())
}

func TestSubmitJobValidation(t *testing.T) {
	env := newTestEnv(t)

	t.Run("missing instructions", func(t *testing.T) {
		body, ct := multipartUpload(t, "form.pdf", []byte("%PDF-1.7"), nil)
		req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusBadRequest, env.do(t, req).Code)
	})

	t.Run("not a pdf", func(t *testing.T) {
		body, ct := multipartUpload(t, "notes.txt", []byte("hello"), map[string]string{"instructions": "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusBadRequest, env.do(t, req).Code)
	})

	t.Run("no file and no id", func(t *testing.T) {
		body, ct := multipartUpload(t, "", nil, map[string]string{"instructions": "x"})
		req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusBadRequest, env.do(t, req).Code)
	})

	t.Run("unknown pdf_id", func(t *testing.T) {
		body, ct := multipartUpload(t, "", nil, map[string]string{"instructions": "x", "pdf_id": "nope"})
		req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
		req.Header.Set("Content-Type", ct)
		assert.Equal(t, http.StatusNotFound, env.do(t, req).Code)
	})
}

func TestJobStatusNotFound(t *testing.T) {
	env := newTestEnv(t)
	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/jobs/nope/status", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestMappingEndpoints(t *testing.T) {
	env := newTestEnv(t)

	doc := []byte("%PDF-1.7 doc")
	id := mapping.Identity(doc)
	_, err := env.cache.GetOrCreate(context.Background(), id, doc)
	require.ErrorIs(t, err, mapping.ErrNotEnriched)

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/mappings/"+id+"/annotated", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/pdf", w.Header().Get("Content-Type"))

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/mappings/"+id+"/pages/1", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/mappings/"+id+"/pages/9", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)

	// The table serves the base mapping until a review is saved.
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/mappings/"+id+"/table", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "form_entry_description")

	base, err := env.cache.Base(id)
	require.NoError(t, err)
	base.Fields[0].RichDescription = "Full legal name"
	table, err := fields.MarshalCSV(base)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodPut, "/api/mappings/"+id+"/table", bytes.NewReader(table))
	assert.Equal(t, http.StatusNoContent, env.do(t, req).Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/mappings/"+id+"/table", nil))
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "Full legal name")

	req = httptest.NewRequest(http.MethodPut, "/api/mappings/"+id+"/table", strings.NewReader("garbage"))
	assert.Equal(t, http.StatusBadRequest, env.do(t, req).Code)

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/mappings/absent/annotated", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestLibraryDeleteEvictsMapping(t *testing.T) {
	env := newTestEnv(t)

	doc := []byte("%PDF-1.7 doc")
	body, ct := multipartUpload(t, "form.pdf", doc, map[string]string{"instructions": "x"})
	req := httptest.NewRequest(http.MethodPost, "/api/jobs", body)
	req.Header.Set("Content-Type", ct)
	require.Equal(t, http.StatusAccepted, env.do(t, req).Code)

	id := mapping.Identity(doc)
	_, err := env.cache.GetOrCreate(context.Background(), id, doc)
	require.ErrorIs(t, err, mapping.ErrNotEnriched)

	w := env.do(t, httptest.NewRequest(http.MethodDelete, "/api/library/"+id, nil))
	assert.Equal(t, http.StatusNoContent, w.Code)

	_, err = env.cache.Verification(id)
	assert.ErrorIs(t, err, store.ErrNotFound)
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/library/"+id, nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCompletedEndpoints(t *testing.T) {
	env := newTestEnv(t)

	require.NoError(t, env.archive.Save(completed.Meta{ID: "r1", JobID: "j1"}, completed.Outputs{
		Editable: []byte("%PDF filled"),
		Plan:     []byte(`[]`),
	}))

	w := env.do(t, httptest.NewRequest(http.MethodGet, "/api/completed", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "r1")

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/completed/r1/filled", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "%PDF filled", w.Body.String())

	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/completed/r1/bogus", nil))
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = env.do(t, httptest.NewRequest(http.MethodDelete, "/api/completed/r1", nil))
	assert.Equal(t, http.StatusNoContent, w.Code)
	w = env.do(t, httptest.NewRequest(http.MethodGet, "/api/completed/r1/filled", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}
