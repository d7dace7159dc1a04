package server

import (
	"bytes"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/acroflow/acroflow/internal/completed"
	"github.com/acroflow/acroflow/internal/fields"
	"github.com/acroflow/acroflow/internal/jobs"
	"github.com/acroflow/acroflow/internal/mapping"
	"github.com/acroflow/acroflow/internal/store"
)

var pdfMagic = []byte("%PDF")

// handleSubmitJob accepts a fill request: a multipart "file" upload or
// a "pdf_id" referencing the library, plus "instructions".
func (s *Server) handleSubmitJob(c *gin.Context) {
	instructions := c.PostForm("instructions")
	if instructions == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "instructions are required"})
		return
	}

	var (
		doc      []byte
		filename string
		pdfID    string
	)

	if fh, err := c.FormFile("file"); err == nil {
		if fh.Size > s.maxFileSize {
			c.JSON(http.StatusRequestEntityTooLarge, gin.H{"error": "file too large"})
			return
		}
		f, err := fh.Open()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
			return
		}
		doc, err = io.ReadAll(io.LimitReader(f, s.maxFileSize))
		f.Close()
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable upload"})
			return
		}
		if !bytes.HasPrefix(doc, pdfMagic) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "not a PDF document"})
			return
		}
		filename = fh.Filename
		pdfID = mapping.Identity(doc)
		if err := s.library.Add(pdfID, filename, doc); err != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
			return
		}
	} else if pdfID = c.PostForm("pdf_id"); pdfID != "" {
		var err error
		doc, err = s.library.Document(pdfID)
		if err != nil {
			notFoundOr(c, err)
			return
		}
		if entry, err := s.library.Get(pdfID); err == nil {
			filename = entry.Filename
		}
	} else {
		c.JSON(http.StatusBadRequest, gin.H{"error": "provide a file or a pdf_id"})
		return
	}

	job := &jobs.Job{
		ID:           uuid.New().String(),
		PDFID:        pdfID,
		Filename:     filename,
		Instructions: instructions,
	}
	if err := s.jobStore.Create(job); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.jobStore.SaveInput(job.ID, doc); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.queue.Submit(c.Request.Context(), job.ID); err != nil {
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": err.Error()})
		return
	}

	c.JSON(http.StatusAccepted, gin.H{
		"job_id": job.ID,
		"pdf_id": job.PDFID,
		"state":  jobs.StateQueued,
	})
}

func (s *Server) handleListJobs(c *gin.Context) {
	list, err := s.jobStore.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"jobs": list})
}

func (s *Server) handleJobStatus(c *gin.Context) {
	job, err := s.jobStore.Get(c.Param("id"))
	if err != nil {
		notFoundOr(c, err)
		return
	}
	c.JSON(http.StatusOK, job)
}

func (s *Server) handleMappingAnnotated(c *gin.Context) {
	data, err := s.cache.Verification(c.Param("id"))
	if err != nil {
		notFoundOr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", data)
}

func (s *Server) handleMappingPage(c *gin.Context) {
	page, err := strconv.Atoi(c.Param("page"))
	if err != nil || page < 1 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "bad page number"})
		return
	}
	pages, err := s.cache.Pages(c.Param("id"))
	if err != nil {
		notFoundOr(c, err)
		return
	}
	if page > len(pages) {
		c.JSON(http.StatusNotFound, gin.H{"error": "no such page"})
		return
	}
	c.Data(http.StatusOK, "image/png", pages[page-1])
}

// handleMappingTable serves the reviewed table when it exists, the
// extracted one otherwise.
func (s *Server) handleMappingTable(c *gin.Context) {
	id := c.Param("id")
	m, err := s.cache.Enriched(id)
	if errors.Is(err, store.ErrNotFound) {
		m, err = s.cache.Base(id)
	}
	if err != nil {
		notFoundOr(c, err)
		return
	}
	data, err := fields.MarshalCSV(m)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Data(http.StatusOK, "text/csv", data)
}

func (s *Server) handleSaveMapping(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, s.maxFileSize))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}
	if err := s.cache.SaveEnriched(c.Param("id"), body); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListLibrary(c *gin.Context) {
	list, err := s.library.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"forms": list})
}

func (s *Server) handleGetLibrary(c *gin.Context) {
	doc, err := s.library.Document(c.Param("id"))
	if err != nil {
		notFoundOr(c, err)
		return
	}
	c.Data(http.StatusOK, "application/pdf", doc)
}

// handleDeleteLibrary drops the stored form together with its cached
// mapping; a re-upload starts from scratch.
func (s *Server) handleDeleteLibrary(c *gin.Context) {
	id := c.Param("id")
	if err := s.library.Delete(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	if err := s.cache.Evict(id); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func (s *Server) handleListCompleted(c *gin.Context) {
	list, err := s.archive.List()
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.JSON(http.StatusOK, gin.H{"completed": list})
}

func (s *Server) handleCompletedBlob(c *gin.Context) {
	name, contentType, ok := completedBlob(c.Param("blob"))
	if !ok {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unknown artifact"})
		return
	}
	data, err := s.archive.Blob(c.Param("id"), name)
	if err != nil {
		notFoundOr(c, err)
		return
	}
	c.Data(http.StatusOK, contentType, data)
}

func (s *Server) handleDeleteCompleted(c *gin.Context) {
	if err := s.archive.Delete(c.Param("id")); err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": err.Error()})
		return
	}
	c.Status(http.StatusNoContent)
}

func completedBlob(name string) (string, string, bool) {
	switch name {
	case "filled":
		return completed.BlobEditable, "application/pdf", true
	case "flattened":
		return completed.BlobFlattened, "application/pdf", true
	case "plan":
		return completed.BlobPlan, "application/json", true
	case "meta":
		return completed.BlobMeta, "application/json", true
	}
	return "", "", false
}
