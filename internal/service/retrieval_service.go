package service

import (
	"context"
	"fmt"
	"strings"

	"github.com/xxxsen/common/logutil"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/ai"
	"github.com/xxxsen/mkb/internal/model"
)

const (
	defaultRetrieveLimit = 5
	defaultQueryTask     = "RETRIEVAL_QUERY"
)

type RetrievalConfig struct {
	DefaultLimit int
	MaxLimit     int
	QueryTask    string
}

type RetrievalService struct {
	store    KnowledgeStore
	searcher VectorSearcher
	embedder ai.IEmbedder
	cfg      RetrievalConfig
}

func NewRetrievalService(store KnowledgeStore, searcher VectorSearcher, embedder ai.IEmbedder, cfg RetrievalConfig) *RetrievalService {
	if cfg.DefaultLimit <= 0 {
		cfg.DefaultLimit = defaultRetrieveLimit
	}
	if cfg.QueryTask == "" {
		cfg.QueryTask = defaultQueryTask
	}
	return &RetrievalService{store: store, searcher: searcher, embedder: embedder, cfg: cfg}
}

// Retrieve embeds query once and returns the closest chunks within the
// caller's collections, best first. Collections the caller does not own are
// ignored.
func (s *RetrievalService) Retrieve(ctx context.Context, ownerID, query string, collectionIDs []string, limit int) ([]model.SearchHit, error) {
	if limit <= 0 {
		limit = s.cfg.DefaultLimit
	}
	if s.cfg.MaxLimit > 0 && limit > s.cfg.MaxLimit {
		limit = s.cfg.MaxLimit
	}
	if len(collectionIDs) == 0 {
		return []model.SearchHit{}, nil
	}
	owned, err := s.store.FilterOwnedCollections(ctx, ownerID, dedupe(collectionIDs))
	if err != nil {
		return nil, err
	}
	if len(owned) == 0 {
		return []model.SearchHit{}, nil
	}
	vectors, err := s.embedder.Embed(ctx, []string{query}, s.cfg.QueryTask)
	if err != nil {
		return nil, err
	}
	hits, err := s.searcher.Search(ctx, vectors[0], owned, limit)
	if err != nil {
		return nil, err
	}
	logutil.GetLogger(ctx).Debug("retrieved passages",
		zap.String("owner_id", ownerID),
		zap.Int("collections", len(owned)),
		zap.Int("hits", len(hits)))
	return hits, nil
}

// BuildContext renders hits as numbered passages with their source for a
// prompt. It returns an empty string when there is nothing to cite.
func BuildContext(hits []model.SearchHit) string {
	if len(hits) == 0 {
		return ""
	}
	var sb strings.Builder
	for i, hit := range hits {
		if i > 0 {
			sb.WriteString("\n\n")
		}
		name := hit.SourceName
		if name == "" {
			name = hit.SourceID
		}
		fmt.Fprintf(&sb, "[%d] %s (score %.3f)\n%s", i+1, name, hit.Score, strings.TrimSpace(hit.Content))
	}
	return sb.String()
}

func dedupe(ids []string) []string {
	seen := make(map[string]struct{}, len(ids))
	out := make([]string, 0, len(ids))
	for _, id := range ids {
		if id == "" {
			continue
		}
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
