package models

import "time"

// Project groups the repositories mined under one name.
type Project struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	CreatedAt time.Time `json:"created_at"`
}

// VCSSystem is one mined repository, identified by its URL.
type VCSSystem struct {
	ID             string    `json:"id"`
	ProjectID      string    `json:"project_id"`
	URL            string    `json:"url"`
	RepositoryType string    `json:"repository_type"`
	LastUpdated    time.Time `json:"last_updated"`
}
