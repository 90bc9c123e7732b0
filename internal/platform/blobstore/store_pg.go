package blobstore

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/pouchrx/pouchrx/internal/platform/db"
)

// PGBlobStore keeps documents in the documents table. Scans are small enough
// that BYTEA storage avoids running a separate object store.
type PGBlobStore struct {
	pool *pgxpool.Pool
}

func NewPGBlobStore(pool *pgxpool.Pool) *PGBlobStore {
	return &PGBlobStore{pool: pool}
}

const documentCols = `id, owner_id, file_name, content_type, size_bytes, sha256, created_at`

func (s *PGBlobStore) Upload(ctx context.Context, meta Metadata, content io.Reader) (*Metadata, error) {
	meta, data, err := prepare(meta, content)
	if err != nil {
		return nil, err
	}
	_, err = db.Conn(ctx, s.pool).Exec(ctx, `
		INSERT INTO documents (id, owner_id, file_name, content_type, size_bytes, sha256, content, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		meta.ID, meta.OwnerID, meta.FileName, meta.ContentType, meta.Size, meta.Hash, data, meta.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert document: %w", err)
	}
	return &meta, nil
}

func (s *PGBlobStore) Download(ctx context.Context, id string) (io.ReadCloser, *Metadata, error) {
	var m Metadata
	var data []byte
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `SELECT `+documentCols+`, content FROM documents WHERE id = $1`, id).
		Scan(&m.ID, &m.OwnerID, &m.FileName, &m.ContentType, &m.Size, &m.Hash, &m.CreatedAt, &data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil, ErrBlobNotFound
		}
		return nil, nil, fmt.Errorf("select document: %w", err)
	}
	return io.NopCloser(bytes.NewReader(data)), &m, nil
}

func (s *PGBlobStore) GetMetadata(ctx context.Context, id string) (*Metadata, error) {
	var m Metadata
	err := db.Conn(ctx, s.pool).QueryRow(ctx, `SELECT `+documentCols+` FROM documents WHERE id = $1`, id).
		Scan(&m.ID, &m.OwnerID, &m.FileName, &m.ContentType, &m.Size, &m.Hash, &m.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrBlobNotFound
		}
		return nil, fmt.Errorf("select document metadata: %w", err)
	}
	return &m, nil
}

func (s *PGBlobStore) Delete(ctx context.Context, id string) error {
	tag, err := db.Conn(ctx, s.pool).Exec(ctx, `DELETE FROM documents WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete document: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrBlobNotFound
	}
	return nil
}
