package model

type CollectionKind string

const (
	CollectionKindKnowledgeBase CollectionKind = "knowledge_base"
	CollectionKindNote          CollectionKind = "note"
)

type Collection struct {
	ID      string         `json:"id"`
	OwnerID string         `json:"owner_id"`
	Kind    CollectionKind `json:"kind"`
	Name    string         `json:"name"`
	Ctime   int64          `json:"ctime"`
	Mtime   int64          `json:"mtime"`
}
