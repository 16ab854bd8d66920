// Package repomanager hands out repositories bound to a connection or a
// transaction and owns the schema migrations.
package repomanager

import (
	"context"
	"database/sql"

	"github.com/dmitrijs2005/grantstore/internal/dbx"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/devicecodes"
	"github.com/dmitrijs2005/grantstore/internal/server/repositories/grants"
)

type RepositoryManager interface {
	RunMigrations(context.Context, *sql.DB) error
	Grants(db dbx.DBTX) grants.Repository
	DeviceCodes(db dbx.DBTX) devicecodes.Repository
}
