package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/require"

	"github.com/xxxsen/mkb/internal/model"
	"github.com/xxxsen/mkb/internal/pkg/errcode"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
	"github.com/xxxsen/mkb/internal/pkg/jwt"
	"github.com/xxxsen/mkb/internal/service"
)

var testSecret = []byte("test-secret")

type fakeIngestor struct {
	ingestReq *service.IngestRequest
	noteReq   *service.NoteRequest
	err       error
}

func (f *fakeIngestor) CreateCollection(ctx context.Context, ownerID, name string, kind model.CollectionKind) (*model.Collection, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Collection{ID: "c1", OwnerID: ownerID, Name: name, Kind: kind}, nil
}

func (f *fakeIngestor) ListCollections(ctx context.Context, ownerID string) ([]*model.Collection, error) {
	return []*model.Collection{{ID: "c1", OwnerID: ownerID}}, nil
}

func (f *fakeIngestor) DeleteCollection(ctx context.Context, ownerID, collectionID string) error {
	return f.err
}

func (f *fakeIngestor) ListSources(ctx context.Context, ownerID, collectionID string) ([]*model.Source, error) {
	return nil, f.err
}

func (f *fakeIngestor) GetSource(ctx context.Context, ownerID, sourceID string) (*model.Source, error) {
	if f.err != nil {
		return nil, f.err
	}
	return &model.Source{ID: sourceID, OwnerID: ownerID}, nil
}

func (f *fakeIngestor) Ingest(ctx context.Context, req *service.IngestRequest) (*model.Source, error) {
	f.ingestReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &model.Source{ID: "s1", FileName: req.FileName, Status: model.SourceStatusCompleted}, nil
}

func (f *fakeIngestor) SaveNote(ctx context.Context, req *service.NoteRequest) (*model.Source, error) {
	f.noteReq = req
	if f.err != nil {
		return nil, f.err
	}
	return &model.Source{ID: "n1", Kind: model.SourceKindNote}, nil
}

func (f *fakeIngestor) Reingest(ctx context.Context, ownerID, sourceID string) (*model.Source, error) {
	return nil, f.err
}

func (f *fakeIngestor) DeleteSource(ctx context.Context, ownerID, sourceID string) error {
	return f.err
}

type fakeRetriever struct {
	ownerID string
	ids     []string
	limit   int
}

func (f *fakeRetriever) Retrieve(ctx context.Context, ownerID, query string, collectionIDs []string, limit int) ([]model.SearchHit, error) {
	f.ownerID = ownerID
	f.ids = collectionIDs
	f.limit = limit
	return []model.SearchHit{{SourceID: "s1", SourceName: "a.md", Content: "alpha", Score: 0.9}}, nil
}

type apiResult struct {
	Code int             `json:"code"`
	Msg  string          `json:"msg"`
	Data json.RawMessage `json:"data"`
}

func setupRouter(t *testing.T, maxFileSize int64) (http.Handler, *fakeIngestor, *fakeRetriever, string) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	ingest := &fakeIngestor{}
	retrieval := &fakeRetriever{}
	engine := gin.New()
	RegisterRoutes(engine.Group("/api/v1"), RouterDeps{
		Knowledge: NewKnowledgeHandler(ingest, retrieval, maxFileSize),
		JWTSecret: testSecret,
	})
	token, err := jwt.GenerateToken("u1", testSecret, time.Hour)
	require.NoError(t, err)
	return engine, ingest, retrieval, token
}

func doJSON(t *testing.T, router http.Handler, method, path, token, body string) apiResult {
	t.Helper()
	req := httptest.NewRequest(method, path, bytes.NewReader([]byte(body)))
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, req)
	require.Equal(t, http.StatusOK, resp.Code)
	var result apiResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	return result
}

func uploadRequest(t *testing.T, path, token, name string, data []byte) *http.Request {
	t.Helper()
	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", name)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, writer.Close())
	req := httptest.NewRequest(http.MethodPost, path, &body)
	req.Header.Set("Content-Type", writer.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	return req
}

func TestRoutesRequireToken(t *testing.T) {
	router, _, _, _ := setupRouter(t, 0)
	result := doJSON(t, router, http.MethodGet, "/api/v1/collections", "", "")
	require.Equal(t, errcode.ErrUnauthorized, result.Code)
}

func TestCreateCollection(t *testing.T) {
	router, _, _, token := setupRouter(t, 0)
	result := doJSON(t, router, http.MethodPost, "/api/v1/collections", token, `{"name":"docs"}`)
	require.Equal(t, 0, result.Code)
	var coll model.Collection
	require.NoError(t, json.Unmarshal(result.Data, &coll))
	require.Equal(t, "u1", coll.OwnerID)
	require.Equal(t, "docs", coll.Name)
}

func TestUploadPassesFileToIngest(t *testing.T) {
	router, ingest, _, token := setupRouter(t, 1024)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, uploadRequest(t, "/api/v1/collections/c1/files", token, "notes.md", []byte("# hi\nbody")))
	var result apiResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, 0, result.Code)
	require.NotNil(t, ingest.ingestReq)
	require.Equal(t, "u1", ingest.ingestReq.OwnerID)
	require.Equal(t, "c1", ingest.ingestReq.CollectionID)
	require.Equal(t, "notes.md", ingest.ingestReq.FileName)
	require.Equal(t, int64(9), ingest.ingestReq.FileSize)
	require.Equal(t, []byte("# hi\nbody"), ingest.ingestReq.Data)
}

func TestUploadRejectsOversizedFile(t *testing.T) {
	router, ingest, _, token := setupRouter(t, 4)
	resp := httptest.NewRecorder()
	router.ServeHTTP(resp, uploadRequest(t, "/api/v1/collections/c1/files", token, "big.txt", []byte("too large")))
	var result apiResult
	require.NoError(t, json.Unmarshal(resp.Body.Bytes(), &result))
	require.Equal(t, errcode.ErrInvalidFile, result.Code)
	require.Nil(t, ingest.ingestReq)
}

func TestErrorKindsMapToCodes(t *testing.T) {
	cases := []struct {
		name string
		err  error
		code int
	}{
		{"not found", appErr.ErrNotFound, errcode.ErrNotFound},
		{"conflict", appErr.ErrConflict, errcode.ErrConflict},
		{"validation", appErr.Wrapf(appErr.ErrValidation, "content is empty"), errcode.ErrInvalid},
		{"unsupported", appErr.Wrap(appErr.ErrValidation, appErr.ErrUnsupportedType), errcode.ErrUnsupportedType},
		{"extraction", appErr.Wrap(appErr.ErrExtractionFailed, context.Canceled), errcode.ErrExtractionFailed},
		{"embedding", appErr.Wrap(appErr.ErrEmbeddingFailure, context.DeadlineExceeded), errcode.ErrEmbeddingFailure},
		{"storage", appErr.Wrapf(appErr.ErrStorage, "disk"), errcode.ErrStorage},
		{"integrity", appErr.Wrapf(appErr.ErrIntegrity, "count"), errcode.ErrIntegrity},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			router, ingest, _, token := setupRouter(t, 0)
			ingest.err = tc.err
			result := doJSON(t, router, http.MethodGet, "/api/v1/sources/s1", token, "")
			require.Equal(t, tc.code, result.Code)
		})
	}
}

func TestNoteRoutes(t *testing.T) {
	router, ingest, _, token := setupRouter(t, 0)
	result := doJSON(t, router, http.MethodPost, "/api/v1/collections/c1/notes", token, `{"title":"t","content":"body"}`)
	require.Equal(t, 0, result.Code)
	require.Equal(t, "c1", ingest.noteReq.CollectionID)
	require.Empty(t, ingest.noteReq.SourceID)

	result = doJSON(t, router, http.MethodPut, "/api/v1/notes/n1", token, `{"content":"new body"}`)
	require.Equal(t, 0, result.Code)
	require.Equal(t, "n1", ingest.noteReq.SourceID)
	require.Equal(t, "new body", ingest.noteReq.Content)
}

func TestRetrieve(t *testing.T) {
	router, _, retrieval, token := setupRouter(t, 0)
	result := doJSON(t, router, http.MethodPost, "/api/v1/retrieve", token, `{"query":"alpha","collection_ids":["c1","c2"],"limit":3,"with_context":true}`)
	require.Equal(t, 0, result.Code)
	require.Equal(t, "u1", retrieval.ownerID)
	require.Equal(t, []string{"c1", "c2"}, retrieval.ids)
	require.Equal(t, 3, retrieval.limit)
	var resp retrieveResponse
	require.NoError(t, json.Unmarshal(result.Data, &resp))
	require.Len(t, resp.Hits, 1)
	require.Equal(t, "[1] a.md (score 0.900)\nalpha", resp.Context)

	result = doJSON(t, router, http.MethodPost, "/api/v1/retrieve", token, `{"query":"  "}`)
	require.Equal(t, errcode.ErrInvalid, result.Code)
}

func TestFormatUploadLimit(t *testing.T) {
	require.Equal(t, "0MB", formatUploadLimit(0))
	require.Equal(t, "1MB", formatUploadLimit(10))
	require.Equal(t, "100MB", formatUploadLimit(100*1024*1024))
}
