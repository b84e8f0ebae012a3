package articles

import "time"

const StatusActive = "active"

// Article is produced by the ingestion collaborator and is read-only here.
type Article struct {
	ID          string    `json:"id"`
	Title       string    `json:"title"`
	Publisher   string    `json:"publisher"`
	Body        string    `json:"body"`
	Language    string    `json:"language"`
	Status      string    `json:"status"`
	PublishedAt time.Time `json:"publishedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}
