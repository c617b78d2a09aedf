package server

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/dustin/qpaper/internal/sse"
	"github.com/dustin/qpaper/internal/storage"
)

const (
	maxYearNameLen    = 20
	maxSubjectNameLen = 100
	maxSubjectCodeLen = 20
)

var pdfMagic = []byte("%PDF-")

// validationError is reported to the client as 400 with its message.
type validationError string

func (e validationError) Error() string { return string(e) }

func (s *Server) handleListPapers(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	page, _ := strconv.Atoi(q.Get("page"))
	result, err := s.store.ListPapers(r.Context(), storage.PaperQuery{
		Search: strings.TrimSpace(q.Get("search")),
		Sort:   q.Get("sort"),
		Page:   page,
	})
	if err != nil {
		slog.Error("failed to list papers", "error", err)
		writeError(w, http.StatusInternalServerError, "failed to fetch papers")
		return
	}
	writeJSON(w, result)
}

func (s *Server) handleGetPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := paperID(w, r)
	if !ok {
		return
	}
	p, err := s.store.GetPaper(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "get paper", err)
		return
	}
	writeJSON(w, p)
}

func (s *Server) handleDownloadPaper(w http.ResponseWriter, r *http.Request) {
	id, ok := paperID(w, r)
	if !ok {
		return
	}
	f, err := s.store.GetPaperFile(r.Context(), id)
	if err != nil {
		s.writeStoreError(w, "download paper", err)
		return
	}
	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", downloadFilename(f.SubjectName, f.YearName)))
	w.Header().Set("Content-Length", strconv.Itoa(len(f.Data)))
	_, _ = w.Write(f.Data)
}

func (s *Server) handleCreatePaper(w http.ResponseWriter, r *http.Request) {
	in, err := s.parsePaperForm(r, true)
	if err != nil {
		s.writeFormError(w, err)
		return
	}
	id, err := s.store.CreatePaper(r.Context(), in)
	if err != nil {
		s.writeStoreError(w, "create paper", err)
		return
	}
	slog.Info("paper added", "id", id, "subject", in.SubjectName)
	s.publishPaper(id, "created")
	writeJSONStatus(w, http.StatusCreated, map[string]any{"id": id})
}

func (s *Server) handleUpdatePaper(w http.ResponseWriter, r *http.Request) {
	id, ok := paperID(w, r)
	if !ok {
		return
	}
	in, err := s.parsePaperForm(r, false)
	if err != nil {
		s.writeFormError(w, err)
		return
	}
	if err := s.store.UpdatePaper(r.Context(), id, in); err != nil {
		s.writeStoreError(w, "update paper", err)
		return
	}
	slog.Info("paper updated", "id", id, "file_replaced", len(in.File) > 0)
	s.publishPaper(id, "updated")
	writeJSON(w, map[string]any{"id": id})
}

func (s *Server) handleDeletePaper(w http.ResponseWriter, r *http.Request) {
	id, ok := paperID(w, r)
	if !ok {
		return
	}
	if err := s.store.DeletePaper(r.Context(), id); err != nil {
		s.writeStoreError(w, "delete paper", err)
		return
	}
	slog.Info("paper deleted", "id", id)
	s.publishPaper(id, "deleted")
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) publishPaper(id int64, action string) {
	if err := s.hub.Publish(sse.EventPaper, map[string]any{"id": id, "action": action}); err != nil {
		slog.Warn("failed to publish paper event", "error", err)
	}
}

func paperID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id <= 0 {
		writeError(w, http.StatusBadRequest, "invalid paper id")
		return 0, false
	}
	return id, true
}

func (s *Server) writeStoreError(w http.ResponseWriter, op string, err error) {
	if errors.Is(err, storage.ErrNotFound) {
		writeError(w, http.StatusNotFound, "paper not found")
		return
	}
	slog.Error(op+" failed", "error", err)
	writeError(w, http.StatusInternalServerError, "internal error")
}

func (s *Server) writeFormError(w http.ResponseWriter, err error) {
	var verr validationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		writeError(w, http.StatusBadRequest, verr.Error())
	case errors.As(err, &maxErr):
		writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
	default:
		writeError(w, http.StatusBadRequest, "invalid form data")
	}
}

// parsePaperForm reads and validates a multipart paper form. The PDF is
// required on create and optional on update.
func (s *Server) parsePaperForm(r *http.Request, requireFile bool) (storage.PaperInput, error) {
	var in storage.PaperInput
	if err := r.ParseMultipartForm(s.cfg.MaxUploadBytes); err != nil {
		return in, err
	}

	in.YearName = strings.TrimSpace(r.FormValue("year_name"))
	in.SubjectName = strings.TrimSpace(r.FormValue("subject_name"))
	in.SubjectCode = strings.TrimSpace(r.FormValue("subject_code"))
	in.PaperType = strings.TrimSpace(r.FormValue("paper_type"))
	semester := strings.TrimSpace(r.FormValue("semester_no"))

	if in.YearName == "" || semester == "" || in.SubjectName == "" || in.PaperType == "" {
		return in, validationError("all required fields must be filled")
	}
	if len(in.YearName) > maxYearNameLen || len(in.SubjectName) > maxSubjectNameLen || len(in.SubjectCode) > maxSubjectCodeLen {
		return in, validationError("input exceeds maximum length")
	}
	n, err := strconv.Atoi(semester)
	if err != nil || n < 1 || n > 12 {
		return in, validationError("semester_no must be between 1 and 12")
	}
	in.SemesterNo = n
	if in.PaperType != "Regular" && in.PaperType != "Arrear" {
		return in, validationError("invalid paper type")
	}
	if y := strings.TrimSpace(r.FormValue("paper_year")); y != "" {
		year, err := strconv.Atoi(y)
		if err != nil || year < 1900 || year > 2100 {
			return in, validationError("invalid paper year")
		}
		in.PaperYear = &year
	}

	file, header, err := r.FormFile("file")
	switch {
	case errors.Is(err, http.ErrMissingFile):
		if requireFile {
			return in, validationError("all required fields must be filled")
		}
		return in, nil
	case err != nil:
		return in, err
	}
	defer file.Close()

	if !strings.EqualFold(filepath.Ext(header.Filename), ".pdf") {
		return in, validationError("only PDF files are allowed")
	}
	data, err := io.ReadAll(file)
	if err != nil {
		return in, err
	}
	if !bytes.HasPrefix(data, pdfMagic) {
		return in, validationError("uploaded file is not a PDF")
	}
	in.File = data
	return in, nil
}

// downloadFilename builds "<subject>_<year>.pdf" restricted to a safe
// character set.
func downloadFilename(subject, year string) string {
	raw := subject + "_" + year
	var b strings.Builder
	for _, c := range raw {
		switch {
		case c >= 'a' && c <= 'z', c >= 'A' && c <= 'Z', c >= '0' && c <= '9', c == '-', c == '.':
			b.WriteRune(c)
		case c == ' ' || c == '_':
			if !strings.HasSuffix(b.String(), "_") {
				b.WriteByte('_')
			}
		}
	}
	name := strings.Trim(b.String(), "._")
	if name == "" {
		name = "paper"
	}
	return name + ".pdf"
}
