package httpapi

import (
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog/log"

	"github.com/M3-org/clanktank-sub000/internal/apperr"
	"github.com/M3-org/clanktank-sub000/internal/images"
)

// Multipart overhead on top of the image size cap.
const uploadFormLimit = images.MaxBytes + 64*1024

var uploadNameRe = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

func (s *Server) handleUploadImage(w http.ResponseWriter, r *http.Request) {
	user, err := s.auth.authenticate(r)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, uploadFormLimit)
	if err := r.ParseMultipartForm(uploadFormLimit); err != nil {
		s.writeErr(w, r, apperr.Validationf("multipart form unreadable or too large: %v", err))
		return
	}

	version := s.requestVersion(r)
	submissionID := r.FormValue("submission_id")
	if submissionID == "" {
		s.writeErr(w, r, apperr.Validationf("submission_id form field is required"))
		return
	}

	sub, err := s.store.GetSubmission(r.Context(), version, submissionID)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}
	if sub.OwnerID != user.DiscordID {
		s.store.Audit(r.Context(), "security_unauthorized_edit_attempt", sub.ID, user.DiscordID, map[string]string{
			"owner": sub.OwnerID,
			"ip":    clientIP(r),
			"via":   "upload-image",
		})
		s.writeErr(w, r, apperr.Forbiddenf("only the submission owner can upload an image"))
		return
	}
	if !s.cfg.SubmissionsOpen(time.Now()) {
		s.writeErr(w, r, apperr.Forbiddenf("submission window closed at %s", s.cfg.SubmissionDeadline.Format(time.RFC3339)))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		s.writeErr(w, r, apperr.Validationf("file form field is required: %v", err))
		return
	}
	defer file.Close()

	if ct := header.Header.Get("Content-Type"); !strings.HasPrefix(ct, "image/") {
		s.writeErr(w, r, apperr.Validationf("content type %q is not an image", ct))
		return
	}

	data, err := io.ReadAll(io.LimitReader(file, images.MaxBytes+1))
	if err != nil {
		s.writeErr(w, r, fmt.Errorf("failed to read upload: %w", err))
		return
	}

	img, err := images.Process(data)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	filename, err := s.saveUpload(sub.ID, img.JPEG)
	if err != nil {
		s.writeErr(w, r, err)
		return
	}

	url := "/api/uploads/" + filename
	if err := s.store.UpdateSubmissionFields(r.Context(), version, sub.ID, map[string]string{"project_image": url}); err != nil {
		s.writeErr(w, r, err)
		return
	}

	s.store.Audit(r.Context(), "image_uploaded", sub.ID, user.DiscordID, map[string]interface{}{
		"filename": filename,
		"format":   img.SourceFormat,
		"width":    img.Width,
		"height":   img.Height,
	})
	log.Info().Str("submission", sub.ID).Str("file", filename).Msg("project image uploaded")

	s.writeJSON(w, http.StatusOK, map[string]string{
		"filename": filename,
		"url":      url,
	})
}

// saveUpload writes the processed JPEG under the uploads directory.
// One image per submission; re-uploads replace.
func (s *Server) saveUpload(submissionID string, jpeg []byte) (string, error) {
	if err := os.MkdirAll(s.cfg.UploadsDir, 0o755); err != nil {
		return "", fmt.Errorf("failed to create uploads directory: %w", err)
	}

	filename := uploadFilename(submissionID)
	path := filepath.Join(s.cfg.UploadsDir, filename)
	if err := os.WriteFile(path, jpeg, 0o644); err != nil {
		return "", fmt.Errorf("failed to write upload: %w", err)
	}
	return filename, nil
}

var unsafeUploadChars = regexp.MustCompile(`[^A-Za-z0-9_-]`)

func uploadFilename(submissionID string) string {
	return unsafeUploadChars.ReplaceAllString(submissionID, "_") + ".jpg"
}

func (s *Server) handleServeUpload(w http.ResponseWriter, r *http.Request) {
	filename := mux.Vars(r)["filename"]
	if !uploadNameRe.MatchString(filename) || strings.Contains(filename, "..") {
		s.writeError(w, r, http.StatusBadRequest, "invalid filename")
		return
	}

	path := filepath.Join(s.cfg.UploadsDir, filename)
	f, err := os.Open(path)
	if err != nil {
		s.writeError(w, r, http.StatusNotFound, "no such upload")
		return
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil || info.IsDir() {
		s.writeError(w, r, http.StatusNotFound, "no such upload")
		return
	}

	w.Header().Set("Content-Type", "image/jpeg")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	http.ServeContent(w, r, filename, info.ModTime(), f)
}
