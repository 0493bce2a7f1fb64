package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/chunkvault/internal/dbx"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/chunks"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/files"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/shares"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/syncevents"
	"github.com/dmitrijs2005/chunkvault/internal/server/repositories/versions"
)

// RepositoryManager vends repositories bound to either a *sql.DB or a *sql.Tx,
// so services can compose several of them inside one transaction.
type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Files(db dbx.DBTX) files.Repository
	Chunks(db dbx.DBTX) chunks.Repository
	Versions(db dbx.DBTX) versions.Repository
	Shares(db dbx.DBTX) shares.Repository
	SyncEvents(db dbx.DBTX) syncevents.Repository
}
