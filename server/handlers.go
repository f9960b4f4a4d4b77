package server

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/render"

	"github.com/Skryldev/image-compositor/core"
	"github.com/Skryldev/image-compositor/engine"
	apperrors "github.com/Skryldev/image-compositor/errors"
	"github.com/Skryldev/image-compositor/utils"
)

type (
	errorResponse struct {
		Error string `json:"error"`
		Kind  string `json:"kind,omitempty"`
		Hint  string `json:"hint,omitempty"`
	}

	statusResponse struct {
		ID string `json:"id"`
		engine.Status
		Error string `json:"error,omitempty"`
		Kind  string `json:"kind,omitempty"`
		Hint  string `json:"hint,omitempty"`
	}

	foregroundRequest struct {
		URL   string `json:"url"`
		Title string `json:"title"`
	}

	transformRequest struct {
		Scale    *float64 `json:"scale"`
		Rotation *float64 `json:"rotation"`
	}

	saveResponse struct {
		Bucket string `json:"bucket,omitempty"`
		Path   string `json:"path"`
		Bytes  int    `json:"bytes"`
	}
)

type ctxKey struct{}

func (s *Server) withSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.sessions.get(chi.URLParam(r, "id"))
		if !ok {
			writeError(w, r, http.StatusNotFound, errorResponse{Error: "session not found"})
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, sess)))
	})
}

func sessionFrom(r *http.Request) *session {
	return r.Context().Value(ctxKey{}).(*session)
}

func writeError(w http.ResponseWriter, r *http.Request, status int, body errorResponse) {
	render.Status(r, status)
	render.JSON(w, r, body)
}

func (s *Server) writeStatus(w http.ResponseWriter, r *http.Request, sess *session) {
	st := sess.engine.Status()
	resp := statusResponse{ID: sess.id, Status: st}
	if st.Err != nil {
		resp.Error, resp.Kind, resp.Hint = describe(st.Err)
	}
	render.JSON(w, r, resp)
}

// describe turns a load error into user-facing text.
func describe(err error) (msg, kind, hint string) {
	var le *apperrors.LoadError
	if errors.As(err, &le) {
		return le.Message(), string(le.Kind), le.Hint()
	}
	return err.Error(), "", ""
}

// ── Sessions ──────────────────────────────────────────────────────────────────

func (s *Server) handleCreate(w http.ResponseWriter, r *http.Request) {
	sess := s.sessions.create(s.comp.NewSession())
	s.log.Info("session created", "session", sess.id)
	render.Status(r, http.StatusCreated)
	s.writeStatus(w, r, sess)
}

func (s *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	s.writeStatus(w, r, sessionFrom(r))
}

func (s *Server) handleDelete(w http.ResponseWriter, r *http.Request) {
	sess, ok := s.sessions.remove(chi.URLParam(r, "id"))
	if ok {
		s.comp.Release(sess.swapBlob(core.ImageReference{}))
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	render.JSON(w, r, s.comp.Metrics())
}

// ── Selecting an image ────────────────────────────────────────────────────────

func (s *Server) handleForeground(w http.ResponseWriter, r *http.Request) {
	var req foregroundRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}

	var (
		ref core.ImageReference
		err error
	)
	if req.Title == "" {
		ref, err = core.FromURL(req.URL)
	} else {
		ref, err = core.FromSearchResult(req.URL, req.Title)
	}
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: err.Error(), Hint: "Enter a valid http or https image URL."})
		return
	}
	sess := sessionFrom(r)
	s.comp.Release(sess.swapBlob(core.ImageReference{}))
	s.load(w, r, sess, ref)
}

func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, s.cfg.MaxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(32 << 20); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid multipart body"})
		return
	}
	file, hdr, err := r.FormFile("image")
	if err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: `missing "image" file field`})
		return
	}
	defer file.Close()

	data, err := utils.ReadAll(r.Context(), file, s.cfg.MaxUploadBytes, 0)
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: "upload too large"})
		return
	}
	ref, err := s.comp.FromUpload(data, hdr.Header.Get("Content-Type"), hdr.Filename)
	if err != nil {
		refError(w, r, err, "Choose an image file.")
		return
	}
	s.loadBlob(w, r, ref)
}

func (s *Server) handlePaste(w http.ResponseWriter, r *http.Request) {
	data, err := utils.ReadAll(r.Context(), r.Body, s.cfg.MaxUploadBytes, 0)
	if err != nil {
		writeError(w, r, http.StatusRequestEntityTooLarge, errorResponse{Error: "paste too large"})
		return
	}
	ref, err := s.comp.FromPaste(data, r.Header.Get("Content-Type"))
	if err != nil {
		refError(w, r, err, "Paste an image.")
		return
	}
	s.loadBlob(w, r, ref)
}

func refError(w http.ResponseWriter, r *http.Request, err error, hint string) {
	status := http.StatusUnsupportedMediaType
	if errors.Is(err, apperrors.ErrTooLarge) {
		status = http.StatusRequestEntityTooLarge
	}
	writeError(w, r, status, errorResponse{Error: err.Error(), Hint: hint})
}

func (s *Server) loadBlob(w http.ResponseWriter, r *http.Request, ref core.ImageReference) {
	sess := sessionFrom(r)
	s.comp.Release(sess.swapBlob(ref))
	s.load(w, r, sess, ref)
}

// load runs a full load cycle.  A client disconnect does not abort it: the
// result is still installed unless a newer load supersedes it.
func (s *Server) load(w http.ResponseWriter, r *http.Request, sess *session, ref core.ImageReference) {
	err := sess.engine.Load(context.WithoutCancel(r.Context()), ref)
	if err != nil {
		msg, kind, hint := describe(err)
		status := http.StatusUnprocessableEntity
		if kind == "" {
			status = http.StatusInternalServerError
		}
		writeError(w, r, status, errorResponse{Error: msg, Kind: kind, Hint: hint})
		return
	}
	s.writeStatus(w, r, sess)
}

// ── Interaction ───────────────────────────────────────────────────────────────

func (s *Server) handlePointer(w http.ResponseWriter, r *http.Request) {
	var ev engine.PointerEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid pointer event"})
		return
	}
	sess := sessionFrom(r)
	if err := sess.engine.HandlePointer(ev); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: err.Error()})
		return
	}
	s.writeStatus(w, r, sess)
}

func (s *Server) handleTransform(w http.ResponseWriter, r *http.Request) {
	var req transformRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, r, http.StatusBadRequest, errorResponse{Error: "invalid request body"})
		return
	}
	sess := sessionFrom(r)
	if req.Scale != nil {
		if err := sess.engine.SetScale(*req.Scale); err != nil {
			writeError(w, r, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
	}
	if req.Rotation != nil {
		if err := sess.engine.SetRotation(*req.Rotation); err != nil {
			writeError(w, r, http.StatusInternalServerError, errorResponse{Error: err.Error()})
			return
		}
	}
	s.writeStatus(w, r, sess)
}

func (s *Server) handleReset(w http.ResponseWriter, r *http.Request) {
	sess := sessionFrom(r)
	if err := sess.engine.Reset(); err != nil {
		writeError(w, r, http.StatusInternalServerError, errorResponse{Error: err.Error()})
		return
	}
	s.writeStatus(w, r, sess)
}

// ── Output ────────────────────────────────────────────────────────────────────

func exportError(w http.ResponseWriter, r *http.Request, err error) {
	if apperrors.IsExportBlocked(err) {
		writeError(w, r, http.StatusConflict, errorResponse{
			Error: "export_blocked",
			Hint:  "This image does not allow cross-origin export. Upload it instead.",
		})
		return
	}
	writeError(w, r, http.StatusInternalServerError, errorResponse{Error: err.Error()})
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	art, err := sessionFrom(r).engine.Export(r.Context())
	if err != nil {
		exportError(w, r, err)
		return
	}
	if art == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Content-Length", strconv.Itoa(len(art.Data)))
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", art.Filename))
	_, _ = w.Write(art.Data)
}

func (s *Server) handleSave(w http.ResponseWriter, r *http.Request) {
	art, err := sessionFrom(r).engine.Export(r.Context())
	if err != nil {
		exportError(w, r, err)
		return
	}
	if art == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	key, err := s.comp.Save(r.Context(), art)
	if err != nil {
		s.log.Error("save failed", "error", err)
		writeError(w, r, http.StatusBadGateway, errorResponse{Error: "storage unavailable"})
		return
	}
	render.Status(r, http.StatusCreated)
	render.JSON(w, r, saveResponse{Bucket: key.Bucket, Path: key.Path, Bytes: len(art.Data)})
}

func (s *Server) handlePreview(w http.ResponseWriter, r *http.Request) {
	quality, _ := strconv.Atoi(r.URL.Query().Get("quality"))
	if quality < 0 || quality > 100 {
		quality = 0
	}
	art, err := sessionFrom(r).engine.Preview(r.Context(), quality)
	if err != nil {
		exportError(w, r, err)
		return
	}
	if art == nil {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	w.Header().Set("Content-Type", art.ContentType)
	w.Header().Set("Cache-Control", "no-store")
	_, _ = w.Write(art.Data)
}
