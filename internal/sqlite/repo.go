// Package sqlite stores the override list of feed links.
package sqlite

import (
	"github.com/jmoiron/sqlx"

	"github.com/jdholdren/rssmd/internal/rssmd"
)

// Ensure Repo implements the repository interface
var _ rssmd.FeedLinkRepo = (*Repo)(nil)

type Repo struct {
	db *sqlx.DB
}

func New(db *sqlx.DB) Repo {
	return Repo{db: db}
}
