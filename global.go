package querycraft

import (
	"database/sql"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var (
	Logger zerolog.Logger
	Redis  *redis.Client

	// Pool is set when the target store is Postgres, SQLDB when it is SQL Server.
	// Exactly one of the two is non-nil after InitConfig.
	Pool  *pgxpool.Pool
	SQLDB *sql.DB
)
