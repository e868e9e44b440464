package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/xxxsen/mkb/internal/model"
	"github.com/xxxsen/mkb/internal/pkg/errcode"
	"github.com/xxxsen/mkb/internal/pkg/response"
	"github.com/xxxsen/mkb/internal/service"
)

// Ingestor is the write side of the knowledge base.
type Ingestor interface {
	CreateCollection(ctx context.Context, ownerID, name string, kind model.CollectionKind) (*model.Collection, error)
	ListCollections(ctx context.Context, ownerID string) ([]*model.Collection, error)
	DeleteCollection(ctx context.Context, ownerID, collectionID string) error
	ListSources(ctx context.Context, ownerID, collectionID string) ([]*model.Source, error)
	GetSource(ctx context.Context, ownerID, sourceID string) (*model.Source, error)
	Ingest(ctx context.Context, req *service.IngestRequest) (*model.Source, error)
	SaveNote(ctx context.Context, req *service.NoteRequest) (*model.Source, error)
	Reingest(ctx context.Context, ownerID, sourceID string) (*model.Source, error)
	DeleteSource(ctx context.Context, ownerID, sourceID string) error
}

type Retriever interface {
	Retrieve(ctx context.Context, ownerID, query string, collectionIDs []string, limit int) ([]model.SearchHit, error)
}

type KnowledgeHandler struct {
	ingest      Ingestor
	retrieval   Retriever
	maxFileSize int64
}

func NewKnowledgeHandler(ingest Ingestor, retrieval Retriever, maxFileSize int64) *KnowledgeHandler {
	return &KnowledgeHandler{ingest: ingest, retrieval: retrieval, maxFileSize: maxFileSize}
}

type collectionRequest struct {
	Name string               `json:"name"`
	Kind model.CollectionKind `json:"kind"`
}

type noteRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type retrieveRequest struct {
	Query         string   `json:"query"`
	CollectionIDs []string `json:"collection_ids"`
	Limit         int      `json:"limit"`
	WithContext   bool     `json:"with_context"`
}

type retrieveResponse struct {
	Hits    []model.SearchHit `json:"hits"`
	Context string            `json:"context,omitempty"`
}

func (h *KnowledgeHandler) CreateCollection(c *gin.Context) {
	var req collectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	coll, err := h.ingest.CreateCollection(c.Request.Context(), getUserID(c), req.Name, req.Kind)
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, coll)
}

func (h *KnowledgeHandler) ListCollections(c *gin.Context) {
	items, err := h.ingest.ListCollections(c.Request.Context(), getUserID(c))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, items)
}

func (h *KnowledgeHandler) DeleteCollection(c *gin.Context) {
	if err := h.ingest.DeleteCollection(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *KnowledgeHandler) ListSources(c *gin.Context) {
	items, err := h.ingest.ListSources(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, items)
}

func (h *KnowledgeHandler) Upload(c *gin.Context) {
	if limit := uploadBodyLimit(h.maxFileSize); limit > 0 {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, limit)
	}
	file, err := c.FormFile("file")
	if err != nil {
		if isBodyTooLarge(err) {
			response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxFileSize))
			return
		}
		response.Error(c, errcode.ErrInvalidFile, "file is required")
		return
	}
	if h.maxFileSize > 0 && file.Size > h.maxFileSize {
		response.Error(c, errcode.ErrInvalidFile, "file exceeds "+formatUploadLimit(h.maxFileSize))
		return
	}
	opened, err := file.Open()
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to open file")
		return
	}
	defer opened.Close()
	data, err := io.ReadAll(opened)
	if err != nil {
		response.Error(c, errcode.ErrInvalidFile, "failed to read file")
		return
	}
	src, err := h.ingest.Ingest(c.Request.Context(), &service.IngestRequest{
		OwnerID:      getUserID(c),
		CollectionID: c.Param("id"),
		FileName:     file.Filename,
		MimeType:     file.Header.Get("Content-Type"),
		FileSize:     file.Size,
		Data:         data,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src)
}

func (h *KnowledgeHandler) CreateNote(c *gin.Context) {
	h.saveNote(c, c.Param("id"), "")
}

func (h *KnowledgeHandler) UpdateNote(c *gin.Context) {
	h.saveNote(c, "", c.Param("id"))
}

func (h *KnowledgeHandler) saveNote(c *gin.Context, collectionID, sourceID string) {
	var req noteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	src, err := h.ingest.SaveNote(c.Request.Context(), &service.NoteRequest{
		OwnerID:      getUserID(c),
		CollectionID: collectionID,
		SourceID:     sourceID,
		Title:        req.Title,
		Content:      req.Content,
	})
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src)
}

func (h *KnowledgeHandler) GetSource(c *gin.Context) {
	src, err := h.ingest.GetSource(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src)
}

func (h *KnowledgeHandler) Reingest(c *gin.Context) {
	src, err := h.ingest.Reingest(c.Request.Context(), getUserID(c), c.Param("id"))
	if err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, src)
}

func (h *KnowledgeHandler) DeleteSource(c *gin.Context) {
	if err := h.ingest.DeleteSource(c.Request.Context(), getUserID(c), c.Param("id")); err != nil {
		handleError(c, err)
		return
	}
	response.Success(c, gin.H{"ok": true})
}

func (h *KnowledgeHandler) Retrieve(c *gin.Context) {
	var req retrieveRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, errcode.ErrInvalid, "invalid request")
		return
	}
	if strings.TrimSpace(req.Query) == "" {
		response.Error(c, errcode.ErrInvalid, "query required")
		return
	}
	hits, err := h.retrieval.Retrieve(c.Request.Context(), getUserID(c), req.Query, req.CollectionIDs, req.Limit)
	if err != nil {
		handleError(c, err)
		return
	}
	resp := retrieveResponse{Hits: hits}
	if req.WithContext {
		resp.Context = service.BuildContext(hits)
	}
	response.Success(c, resp)
}
