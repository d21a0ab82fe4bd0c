package dbstore

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Outcome tells whether InsertOrResolve created a row or found one.
type Outcome int

const (
	// Created means a new row was inserted.
	Created Outcome = iota
	// Resolved means the natural key already existed.
	Resolved
)

func (o Outcome) String() string {
	if o == Resolved {
		return "resolved"
	}

	return "created"
}

// Resolution is the result of InsertOrResolve.
type Resolution struct {
	ID      uint
	Outcome Outcome
}

// Writer executes statements against a connection or an open transaction.
type Writer struct {
	db        *gorm.DB
	batchSize int
}

func newWriter(db *gorm.DB, batchSize int) *Writer {
	return &Writer{db: db, batchSize: batchSize}
}

// Insert creates the entity and returns its id. A uniqueness violation
// yields a *ConflictError. The insert runs in a savepoint when the writer
// is inside a transaction, so a conflict leaves the transaction usable.
func (w *Writer) Insert(ctx context.Context, e Entity) (uint, error) {
	err := w.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Omit(clause.Associations).Create(e).Error
	})
	if err != nil {
		if isUniqueViolation(err) {
			return 0, &ConflictError{
				Table: e.TableName(),
				Key:   e.NaturalKey(),
				Err:   err,
			}
		}

		return 0, storeError("inserting into", e.TableName(), err)
	}

	return e.PrimaryKey(), nil
}

// InsertOrIgnore creates the row unless it violates a uniqueness
// constraint, in which case nothing happens.
func (w *Writer) InsertOrIgnore(ctx context.Context, row any) error {
	if err := w.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(row).Error; err != nil {
		return storeError("inserting into", tableOf(w.db, row), err)
	}

	return nil
}

// InsertManyOrIgnore creates rows in batches, skipping rows that violate a
// uniqueness constraint. An empty slice is a no-op.
func InsertManyOrIgnore[T any](ctx context.Context, w *Writer, rows []T) error {
	if len(rows) == 0 {
		return nil
	}

	if err := w.db.WithContext(ctx).
		Omit(clause.Associations).
		Clauses(clause.OnConflict{DoNothing: true}).
		CreateInBatches(rows, w.batchSize).Error; err != nil {
		return storeError("batch inserting into", tableOf(w.db, rows), err)
	}

	return nil
}

// FetchID returns the id of the single row matching criteria. Zero
// matching rows yield a *NotFoundError.
func (w *Writer) FetchID(
	ctx context.Context,
	table string,
	criteria map[string]any,
) (uint, error) {
	var ids []uint
	if err := w.db.WithContext(ctx).
		Table(table).
		Where(criteria).
		Limit(1).
		Pluck("id", &ids).Error; err != nil {
		return 0, storeError("fetching id from", table, err)
	}

	if len(ids) == 0 {
		return 0, &NotFoundError{Table: table, Criteria: criteria}
	}

	return ids[0], nil
}

// Exists reports whether any row matches criteria.
func (w *Writer) Exists(
	ctx context.Context,
	table string,
	criteria map[string]any,
) (bool, error) {
	var count int64
	if err := w.db.WithContext(ctx).
		Table(table).
		Where(criteria).
		Count(&count).Error; err != nil {
		return false, storeError("counting rows in", table, err)
	}

	return count > 0, nil
}

// InsertOrResolve inserts the entity or, when its natural key already
// exists, returns the id of the existing row.
func (w *Writer) InsertOrResolve(ctx context.Context, e Entity) (Resolution, error) {
	id, err := w.Insert(ctx, e)
	if err == nil {
		return Resolution{ID: id, Outcome: Created}, nil
	}

	if !errors.Is(err, ErrConflict) {
		return Resolution{}, err
	}

	id, err = w.FetchID(ctx, e.TableName(), e.NaturalKey())
	if err != nil {
		return Resolution{}, fmt.Errorf("resolving conflict: %w", err)
	}

	return Resolution{ID: id, Outcome: Resolved}, nil
}

func tableOf(db *gorm.DB, value any) string {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(value); err != nil || stmt.Schema == nil {
		return fmt.Sprintf("%T", value)
	}

	return stmt.Schema.Table
}
