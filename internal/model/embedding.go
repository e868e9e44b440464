package model

type ChunkEmbedding struct {
	ID           string    `json:"id"`
	CollectionID string    `json:"collection_id"`
	SourceID     string    `json:"source_id"`
	Position     int       `json:"position"`
	Content      string    `json:"content"`
	Embedding    []float32 `json:"embedding,omitempty"`
	Ctime        int64     `json:"ctime"`
}

type SearchHit struct {
	ChunkID      string  `json:"chunk_id"`
	CollectionID string  `json:"collection_id"`
	SourceID     string  `json:"source_id"`
	SourceName   string  `json:"source_name"`
	Position     int     `json:"position"`
	Content      string  `json:"content"`
	Score        float64 `json:"score"`
}
