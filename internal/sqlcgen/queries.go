package sqlcgen

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX matches the minimal interface needed from pgxpool.Pool or pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, optionsAndArgs ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, optionsAndArgs ...any) pgx.Row
}

type Queries struct {
	db DBTX
}

func New(db DBTX) *Queries {
	return &Queries{db: db}
}

func (q *Queries) WithTx(tx pgx.Tx) *Queries {
	return &Queries{db: tx}
}

const listExposedEntities = `-- name: ListExposedEntities :many
SELECT identity,
       profile_id,
       display_name,
       context,
       created_at,
       updated_at
FROM exposed_entities
ORDER BY display_name, identity
`

func (q *Queries) ListExposedEntities(ctx context.Context) ([]ExposedEntity, error) {
	rows, err := q.db.Query(ctx, listExposedEntities)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var items []ExposedEntity
	for rows.Next() {
		var i ExposedEntity
		if err := rows.Scan(&i.Identity, &i.ProfileID, &i.DisplayName, &i.Context, &i.CreatedAt, &i.UpdatedAt); err != nil {
			return nil, err
		}
		items = append(items, i)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return items, nil
}

const getExposedEntity = `-- name: GetExposedEntity :one
SELECT identity,
       profile_id,
       display_name,
       context,
       created_at,
       updated_at
FROM exposed_entities
WHERE identity = $1
`

func (q *Queries) GetExposedEntity(ctx context.Context, identity string) (ExposedEntity, error) {
	row := q.db.QueryRow(ctx, getExposedEntity, identity)
	var i ExposedEntity
	err := row.Scan(&i.Identity, &i.ProfileID, &i.DisplayName, &i.Context, &i.CreatedAt, &i.UpdatedAt)
	return i, err
}

const upsertExposedEntity = `-- name: UpsertExposedEntity :exec
INSERT INTO exposed_entities (identity, profile_id, display_name, context)
VALUES ($1, $2, $3, COALESCE($4::jsonb, '{}'::jsonb))
ON CONFLICT (identity) DO UPDATE
SET profile_id = EXCLUDED.profile_id,
    display_name = EXCLUDED.display_name,
    context = EXCLUDED.context,
    updated_at = now()
`

type UpsertExposedEntityParams struct {
	Identity    string
	ProfileID   string
	DisplayName string
	Context     []byte
}

func (q *Queries) UpsertExposedEntity(ctx context.Context, arg UpsertExposedEntityParams) error {
	var entityContext *string
	if len(arg.Context) > 0 {
		s := string(arg.Context)
		entityContext = &s
	}
	_, err := q.db.Exec(ctx, upsertExposedEntity, arg.Identity, arg.ProfileID, arg.DisplayName, entityContext)
	return err
}

const deleteExposedEntity = `-- name: DeleteExposedEntity :execrows
DELETE FROM exposed_entities
WHERE identity = $1
`

func (q *Queries) DeleteExposedEntity(ctx context.Context, identity string) (int64, error) {
	tag, err := q.db.Exec(ctx, deleteExposedEntity, identity)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
