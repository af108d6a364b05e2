package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/user/bizscraper/internal/entity"
	"github.com/user/bizscraper/internal/repository"
)

// TableName is reported as the export location of the database sink.
const TableName = "business_records"

// RecordRepoImpl stores business records in PostgreSQL. Contacts of an
// existing row are unioned with the new ones, never replaced.
type RecordRepoImpl struct {
	db *pgxpool.Pool
}

var _ repository.Exporter = (*RecordRepoImpl)(nil)

// NewRecordRepo creates a new instance of RecordRepoImpl.
func NewRecordRepo(db *pgxpool.Pool) *RecordRepoImpl {
	return &RecordRepoImpl{db: db}
}

// Export upserts all records within a single transaction. The format is ignored.
func (r *RecordRepoImpl) Export(ctx context.Context, records []entity.BusinessRecord, _ repository.ExportFormat) ([]string, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback(ctx)

	query := `
		INSERT INTO business_records (name, source_url, location, website, emails, phones, social, status, error, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (name) DO UPDATE SET
			source_url = EXCLUDED.source_url,
			location = EXCLUDED.location,
			website = COALESCE(NULLIF(EXCLUDED.website, ''), business_records.website),
			emails = ARRAY(SELECT DISTINCT e FROM unnest(business_records.emails || EXCLUDED.emails) AS e ORDER BY e),
			phones = ARRAY(SELECT DISTINCT p FROM unnest(business_records.phones || EXCLUDED.phones) AS p ORDER BY p),
			social = EXCLUDED.social || business_records.social,
			status = EXCLUDED.status,
			error = EXCLUDED.error,
			updated_at = EXCLUDED.updated_at;
	`
	batch := &pgx.Batch{}
	for _, rec := range records {
		social, err := json.Marshal(rec.Contacts.Social)
		if err != nil {
			return nil, fmt.Errorf("failed to encode social links of %q: %w", rec.Name, err)
		}
		batch.Queue(query,
			rec.Name,
			rec.SourceURL,
			rec.Location,
			rec.Website,
			nonNil(rec.Contacts.Emails),
			nonNil(rec.Contacts.Phones),
			social,
			string(rec.Status),
			rec.Error,
			rec.UpdatedAt,
		)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("failed to upsert records: %w", err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return []string{"postgres:" + TableName}, nil
}

// FindByName retrieves the stored record of a business.
func (r *RecordRepoImpl) FindByName(ctx context.Context, name string) (*entity.BusinessRecord, error) {
	query := `
		SELECT name, source_url, location, website, emails, phones, social, status, error, updated_at
		FROM business_records
		WHERE name = $1;
	`
	var (
		rec    entity.BusinessRecord
		social []byte
		status string
	)
	err := r.db.QueryRow(ctx, query, name).Scan(
		&rec.Name,
		&rec.SourceURL,
		&rec.Location,
		&rec.Website,
		&rec.Contacts.Emails,
		&rec.Contacts.Phones,
		&social,
		&status,
		&rec.Error,
		&rec.UpdatedAt,
	)
	if err != nil {
		return nil, err // pgx.ErrNoRows will be returned if not found
	}
	rec.Status = entity.RecordStatus(status)
	if err := json.Unmarshal(social, &rec.Contacts.Social); err != nil {
		return nil, err
	}
	return &rec, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
