package server

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/roach88/canvasync/internal/element"
	"github.com/roach88/canvasync/internal/op"
	"github.com/roach88/canvasync/internal/snapshot"
)

// ErrorResponse is the body of every non-2xx reply.
type ErrorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// AppendResponse is the body of POST /projects/{id}/ops.
type AppendResponse struct {
	Seq       int64  `json:"seq"`
	RequestID string `json:"requestId"`
}

// SnapshotResponse is the body of PUT /projects/{id}/snapshot.
type SnapshotResponse struct {
	Hash     string `json:"hash"`
	Seq      int64  `json:"seq"`
	Elements int    `json:"elements"`
}

// RecordResponse is one entry of GET /projects/{id}/ops.
type RecordResponse struct {
	Seq        int64        `json:"seq"`
	RecordedAt time.Time    `json:"recordedAt"`
	Op         op.Operation `json:"op"`
}

// OpsResponse is the body of GET /projects/{id}/ops.
type OpsResponse struct {
	Records   []RecordResponse `json:"records"`
	LatestSeq int64            `json:"latestSeq"`
}

func (s *Server) handleGetSnapshot(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "id")
	doc, err := s.store.CurrentSnapshot(r.Context(), project)
	if errors.Is(err, element.ErrNoDocument) {
		writeError(w, http.StatusNotFound, "NOT_FOUND", "project has no snapshot")
		return
	}
	if err != nil {
		s.logger.Error("snapshot read failed", "project", project, "error", err)
		writeError(w, http.StatusInternalServerError, "STORAGE", "snapshot read failed")
		return
	}
	writeJSON(w, http.StatusOK, doc)
}

func (s *Server) handlePutSnapshot(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "id")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", err.Error())
		return
	}
	if err := snapshot.ValidateDocument(body); err != nil {
		writeError(w, http.StatusUnprocessableEntity, "INVALID_DOCUMENT", err.Error())
		return
	}
	var doc element.Document
	if err := json.Unmarshal(body, &doc); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DOCUMENT", err.Error())
		return
	}
	hash, err := snapshot.Hash(doc)
	if err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_DOCUMENT", err.Error())
		return
	}
	if err := s.store.SetCurrentSnapshot(r.Context(), project, doc); err != nil {
		s.logger.Error("snapshot write failed", "project", project, "error", err)
		writeError(w, http.StatusInternalServerError, "STORAGE", "snapshot write failed")
		return
	}
	s.logger.Debug("snapshot stored", "project", project, "elements", len(doc.Elements), "seq", doc.Metadata.Seq)
	writeJSON(w, http.StatusOK, SnapshotResponse{
		Hash:     hash,
		Seq:      doc.Metadata.Seq,
		Elements: len(doc.Elements),
	})
}

func (s *Server) handleListOps(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "id")
	var after int64
	if v := r.URL.Query().Get("after"); v != "" {
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "INVALID_CURSOR", "after must be a non-negative integer")
			return
		}
		after = n
	}
	recs, err := s.store.ReadOperations(r.Context(), project, after)
	if err != nil {
		s.logger.Error("op log read failed", "project", project, "error", err)
		writeError(w, http.StatusInternalServerError, "STORAGE", "op log read failed")
		return
	}
	latest, err := s.store.LatestSeq(r.Context(), project)
	if err != nil {
		s.logger.Error("op log read failed", "project", project, "error", err)
		writeError(w, http.StatusInternalServerError, "STORAGE", "op log read failed")
		return
	}
	resp := OpsResponse{Records: make([]RecordResponse, 0, len(recs)), LatestSeq: latest}
	for _, rec := range recs {
		resp.Records = append(resp.Records, RecordResponse{Seq: rec.Seq, RecordedAt: rec.RecordedAt, Op: rec.Op})
	}
	writeJSON(w, http.StatusOK, resp)
}

// handleAppendOp records a client operation. Appends are idempotent by
// request id: a retried operation returns the seq it was first given.
func (s *Server) handleAppendOp(w http.ResponseWriter, r *http.Request) {
	project := chi.URLParam(r, "id")
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeError(w, http.StatusRequestEntityTooLarge, "TOO_LARGE", err.Error())
		return
	}
	o, err := op.Decode(body)
	if err != nil {
		var opErr *op.Error
		if errors.As(err, &opErr) {
			writeError(w, http.StatusBadRequest, string(opErr.Code), opErr.Message)
			return
		}
		writeError(w, http.StatusBadRequest, string(op.ErrCodeMalformed), err.Error())
		return
	}
	seq, err := s.store.AppendOperation(r.Context(), project, o)
	if err != nil {
		s.logger.Error("op append failed", "project", project, "request_id", o.RequestID, "error", err)
		writeError(w, http.StatusInternalServerError, "STORAGE", "op append failed")
		return
	}
	s.logger.Debug("op appended", "project", project, "request_id", o.RequestID, "type", o.Type, "seq", seq)
	writeJSON(w, http.StatusCreated, AppendResponse{Seq: seq, RequestID: o.RequestID})
}

func (s *Server) handleRealtime(w http.ResponseWriter, r *http.Request) {
	s.hub.ServeProject(w, r, chi.URLParam(r, "id"))
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code, msg string) {
	writeJSON(w, status, ErrorResponse{Code: code, Message: msg})
}
