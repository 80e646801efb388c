package vectorclient

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/pgvector/pgvector-go"

	"github.com/vectorflowhq/vectorflow/internal/core"
	"github.com/vectorflowhq/vectorflow/internal/models"
)

// PgVectorClient implements core.VectorClient over the vector_points table.
type PgVectorClient struct {
	db *sql.DB
}

func NewPgVectorClient(sqlDB *sql.DB) *PgVectorClient {
	return &PgVectorClient{db: sqlDB}
}

var _ core.VectorClient = (*PgVectorClient)(nil)

// UpsertPoints writes all points in a single transaction. The conflict clause
// makes replays of a previously-successful persist step harmless.
func (c *PgVectorClient) UpsertPoints(ctx context.Context, points []models.VectorPoint) error {
	if len(points) == 0 {
		return nil
	}
	tx, err := c.db.BeginTx(ctx, &sql.TxOptions{})
	if err != nil {
		return err
	}

	const q = `
		INSERT INTO vector_points
			(id, embedding, text, content_hash, source_filename, chunk_index, page_number, object_key, ingested_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (id) DO UPDATE SET
			embedding   = EXCLUDED.embedding,
			text        = EXCLUDED.text,
			ingested_at = EXCLUDED.ingested_at
	`
	stmt, err := tx.PrepareContext(ctx, q)
	if err != nil {
		_ = tx.Rollback()
		return err
	}
	defer stmt.Close()

	for i := range points {
		p := &points[i]
		vec := pgvector.NewVector(p.Vector)

		if _, err := stmt.ExecContext(ctx,
			p.ID, vec, p.Payload.Text, p.Payload.ContentHash, p.Payload.SourceFilename,
			p.Payload.ChunkIndex, p.Payload.PageNumber, p.Payload.ObjectKey, p.Payload.IngestedAt,
		); err != nil {
			_ = tx.Rollback()
			return fmt.Errorf("upsert point %s: %w", p.ID, err)
		}
	}
	return tx.Commit()
}
