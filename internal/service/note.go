package service

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/xxxsen/common/logutil"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"
	"go.uber.org/zap"

	"github.com/xxxsen/mkb/internal/model"
	appErr "github.com/xxxsen/mkb/internal/pkg/errors"
)

const (
	defaultNoteTitle = "Untitled"
	maxNoteTitle     = 200
)

// NoteRequest creates a note when SourceID is empty and replaces the body
// of an existing note otherwise.
type NoteRequest struct {
	OwnerID      string
	CollectionID string
	SourceID     string
	Title        string
	Content      string
}

// SaveNote indexes a markdown note. Notes keep their body in the source row
// and have no blob.
func (s *IngestService) SaveNote(ctx context.Context, req *NoteRequest) (*model.Source, error) {
	if req.OwnerID == "" {
		return nil, appErr.Wrapf(appErr.ErrValidation, "owner is required")
	}
	if strings.TrimSpace(req.Content) == "" {
		return nil, appErr.Wrapf(appErr.ErrValidation, "note is empty")
	}
	if s.cfg.MaxFileSize > 0 && int64(len(req.Content)) > s.cfg.MaxFileSize {
		return nil, appErr.Wrapf(appErr.ErrValidation, "note size %d exceeds limit %d", len(req.Content), s.cfg.MaxFileSize)
	}
	if req.SourceID != "" {
		return s.updateNote(ctx, req)
	}
	if req.CollectionID == "" {
		return nil, appErr.Wrapf(appErr.ErrValidation, "collection is required")
	}
	if _, err := s.store.GetCollection(ctx, req.OwnerID, req.CollectionID); err != nil {
		return nil, err
	}
	title := strings.TrimSpace(req.Title)
	if title == "" {
		title = noteTitle(req.Content)
	}
	now := time.Now().Unix()
	src := &model.Source{
		ID:           newID(),
		CollectionID: req.CollectionID,
		OwnerID:      req.OwnerID,
		Kind:         model.SourceKindNote,
		FileName:     truncateRunes(title, maxNoteTitle),
		FileSize:     int64(len(req.Content)),
		MimeType:     "text/markdown",
		ContentText:  req.Content,
		Status:       model.SourceStatusProcessing,
		Ctime:        now,
		Mtime:        now,
	}
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if err := s.store.CreateSource(ctx, src); err != nil {
		return nil, err
	}
	count, step, err := s.index(ctx, src, req.Content)
	if err != nil {
		return src, s.fail(ctx, src, step, err)
	}
	logutil.GetLogger(ctx).Info("note indexed",
		zap.String("source_id", src.ID),
		zap.String("collection_id", src.CollectionID),
		zap.Int("chunks", count))
	return src, nil
}

func (s *IngestService) updateNote(ctx context.Context, req *NoteRequest) (*model.Source, error) {
	src, err := s.store.GetSource(ctx, req.OwnerID, req.SourceID)
	if err != nil {
		return nil, err
	}
	if src.Kind != model.SourceKindNote {
		return nil, appErr.Wrapf(appErr.ErrValidation, "source %s is not a note", src.ID)
	}
	release, ok := s.guard.acquire(src.ID)
	if !ok {
		return nil, appErr.Wrapf(appErr.ErrConflict, "source %s is busy", src.ID)
	}
	defer release()
	if err := s.store.StartNoteUpdate(ctx, src.ID, req.Content, time.Now().Unix()); err != nil {
		return nil, err
	}
	src.Status = model.SourceStatusProcessing
	src.ContentText = req.Content
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	if _, step, err := s.index(ctx, src, req.Content); err != nil {
		return src, s.fail(ctx, src, step, err)
	}
	return src, nil
}

// noteTitle returns the text of the first heading, or the first non blank
// line when the note has no heading.
func noteTitle(content string) string {
	source := []byte(content)
	doc := goldmark.New().Parser().Parse(text.NewReader(source))
	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		if heading, ok := n.(*ast.Heading); ok {
			title = strings.TrimSpace(inlineText(heading, source))
			if title != "" {
				return ast.WalkStop, nil
			}
		}
		return ast.WalkContinue, nil
	})
	if title != "" {
		return title
	}
	for _, line := range strings.Split(content, "\n") {
		if line = strings.TrimSpace(line); line != "" {
			return line
		}
	}
	return defaultNoteTitle
}

func inlineText(n ast.Node, source []byte) string {
	var sb strings.Builder
	_ = ast.Walk(n, func(node ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		switch v := node.(type) {
		case *ast.Text:
			sb.Write(v.Segment.Value(source))
			if v.SoftLineBreak() {
				sb.WriteByte(' ')
			}
		case *ast.String:
			sb.Write(v.Value)
		}
		return ast.WalkContinue, nil
	})
	return sb.String()
}

func truncateRunes(s string, max int) string {
	if utf8.RuneCountInString(s) <= max {
		return s
	}
	return string([]rune(s)[:max])
}
