package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"os"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/shiori/internal/models"
	"github.com/hyperjump/shiori/internal/planner"
	"github.com/hyperjump/shiori/internal/storage"
)

type documentResponse struct {
	Collection string   `json:"collection"`
	DocID      string   `json:"doc_id"`
	Count      int      `json:"count"`
	ChunkIDs   []string `json:"chunk_ids"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	s.respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleListCollections(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	names, err := s.store.ListCollections(ctx)
	if err != nil {
		s.logger.Error("list collections failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	infos := make([]*models.CollectionInfo, 0, len(names))
	for _, name := range names {
		info, err := storage.Info(ctx, s.store, name)
		if err != nil {
			s.logger.Error("collection info failed", zap.String("collection", name), zap.Error(err))
			s.respondError(w, http.StatusInternalServerError, err.Error())
			return
		}
		infos = append(infos, info)
	}
	s.respondJSON(w, http.StatusOK, map[string]any{"collections": infos})
}

func (s *Server) handleGetCollection(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	info, err := storage.Info(r.Context(), s.store, name)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	s.respondJSON(w, http.StatusOK, info)
}

func (s *Server) handleGetDocument(w http.ResponseWriter, r *http.Request) {
	name := chi.URLParam(r, "name")
	docID := chi.URLParam(r, "docID")
	ids, err := storage.DocumentChunkIDs(r.Context(), s.store, name, docID)
	if err != nil {
		s.respondStoreError(w, err)
		return
	}
	if len(ids) == 0 {
		s.respondError(w, http.StatusNotFound, "document not found")
		return
	}
	s.respondJSON(w, http.StatusOK, documentResponse{Collection: name, DocID: docID, Count: len(ids), ChunkIDs: ids})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	if s.manifestPath == "" {
		s.respondError(w, http.StatusNotFound, "no manifest configured")
		return
	}
	m, err := planner.ReadManifest(s.manifestPath)
	if errors.Is(err, os.ErrNotExist) {
		s.respondError(w, http.StatusNotFound, "no run manifest yet")
		return
	}
	if err != nil {
		s.logger.Error("read manifest failed", zap.Error(err))
		s.respondError(w, http.StatusInternalServerError, err.Error())
		return
	}
	s.respondJSON(w, http.StatusOK, m)
}

func (s *Server) respondStoreError(w http.ResponseWriter, err error) {
	if errors.Is(err, storage.ErrCollectionNotFound) {
		s.respondError(w, http.StatusNotFound, "collection not found")
		return
	}
	s.logger.Error("store request failed", zap.Error(err))
	s.respondError(w, http.StatusInternalServerError, err.Error())
}

func (s *Server) respondJSON(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (s *Server) respondError(w http.ResponseWriter, status int, message string) {
	s.respondJSON(w, status, map[string]string{"error": message})
}
