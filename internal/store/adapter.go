package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"cnop-transactional-core/internal/apperrors"
)

// Key identifies an item by its partition and sort key, mirroring the
// wide-column store's (Pk, Sk) addressing scheme.
type Key struct {
	Pk string
	Sk string
}

// Item is a single row of a base table: a JSON attribute bag plus the
// version counter optimistic/conditional writes key off.
type Item struct {
	Pk        string
	Sk        string
	Attrs     map[string]any
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Decode unmarshals Attrs into dest via the standard json round trip
// DAOs use to go between Item and a concrete entity type.
func (it *Item) Decode(dest any) error {
	b, err := json.Marshal(it.Attrs)
	if err != nil {
		return err
	}
	return json.Unmarshal(b, dest)
}

// Encode builds the Attrs bag for src, the inverse of Decode.
func Encode(src any) (map[string]any, error) {
	b, err := json.Marshal(src)
	if err != nil {
		return nil, err
	}
	var attrs map[string]any
	if err := json.Unmarshal(b, &attrs); err != nil {
		return nil, err
	}
	return attrs, nil
}

// Condition is a predicate evaluated against the item currently
// present at a key (nil if none exists) before a write is allowed to
// proceed, mirroring DynamoDB-style condition expressions such as
// attribute_not_exists or attribute_equals.
type Condition func(existing *Item) bool

// ConditionNone always allows the write.
func ConditionNone(*Item) bool { return true }

// ConditionNotExists allows the write only if no item is present.
func ConditionNotExists(existing *Item) bool { return existing == nil }

// ConditionExists allows the write only if an item is already present.
func ConditionExists(existing *Item) bool { return existing != nil }

// ConditionVersionEquals allows the write only if the current item's
// version matches want (optimistic-concurrency guard).
func ConditionVersionEquals(want int64) Condition {
	return func(existing *Item) bool {
		return existing != nil && existing.Version == want
	}
}

// Adapter is the Postgres-backed implementation of the wide-column
// store contract: every mutating call reads the row FOR UPDATE,
// evaluates its Condition against that snapshot, and writes in the
// same transaction, giving callers linearizable conditional writes
// without a separate distributed-lock service.
type Adapter struct {
	db *DB
}

// NewAdapter builds an Adapter over an already-migrated DB.
func NewAdapter(db *DB) *Adapter {
	return &Adapter{db: db}
}

// Get fetches the item at (pk, sk), returning an
// apperrors.KindEntityNotFound error if absent.
func (a *Adapter) Get(ctx context.Context, table string, key Key) (*Item, error) {
	row := a.db.Pool.QueryRow(ctx,
		fmt.Sprintf(`SELECT pk, sk, attrs, version, created_at, updated_at FROM %s WHERE pk=$1 AND sk=$2`, table),
		key.Pk, key.Sk)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, apperrors.New(apperrors.KindEntityNotFound, fmt.Sprintf("no item at %s/%s in %s", key.Pk, key.Sk, table))
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return item, nil
}

// Put inserts or fully replaces the item at (item.Pk, item.Sk),
// evaluating cond against whatever is currently there.
func (a *Adapter) Put(ctx context.Context, table string, item *Item, cond Condition) error {
	tx, err := a.db.Pool.Begin(ctx)
	if err != nil {
		return translateErr(err)
	}
	defer tx.Rollback(ctx)

	existing, err := getForUpdate(ctx, tx, table, Key{item.Pk, item.Sk})
	if err != nil {
		return err
	}
	if !cond(existing) {
		return apperrors.New(apperrors.KindEntityAlreadyExists, "conditional write failed")
	}

	version := int64(1)
	if existing != nil {
		version = existing.Version + 1
	}
	attrsJSON, err := json.Marshal(item.Attrs)
	if err != nil {
		return fmt.Errorf("marshal attrs: %w", err)
	}
	stmt := `INSERT INTO %s (pk, sk, attrs, version, updated_at) VALUES ($1,$2,$3,$4,now())`
	if existing != nil {
		// The existing row is locked FOR UPDATE, so replacing it is safe.
		// With no row there is nothing to lock: the plain INSERT makes a
		// concurrent insert of the same key fail with a unique violation
		// instead of overwriting it.
		stmt += ` ON CONFLICT (pk, sk) DO UPDATE SET attrs=$3, version=$4, updated_at=now()`
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(stmt, table), item.Pk, item.Sk, attrsJSON, version)
	if err != nil {
		return translateErr(err)
	}
	item.Version = version
	return translateErr(tx.Commit(ctx))
}

// PutAll writes every (item, condition) pair in items/conds to table
// within a single transaction: if any condition fails against its
// item's current row, nothing is written. Used where the entity model
// requires two rows to come into existence together (a User and its
// Balance at registration, spec §9).
func (a *Adapter) PutAll(ctx context.Context, table string, items []*Item, conds []Condition) error {
	if len(items) != len(conds) {
		return fmt.Errorf("store: PutAll got %d items but %d conditions", len(items), len(conds))
	}
	tx, err := a.db.Pool.Begin(ctx)
	if err != nil {
		return translateErr(err)
	}
	defer tx.Rollback(ctx)

	for i, item := range items {
		existing, err := getForUpdate(ctx, tx, table, Key{item.Pk, item.Sk})
		if err != nil {
			return err
		}
		if !conds[i](existing) {
			return apperrors.New(apperrors.KindEntityAlreadyExists, fmt.Sprintf("conditional write failed for %s/%s", item.Pk, item.Sk))
		}
		version := int64(1)
		if existing != nil {
			version = existing.Version + 1
		}
		attrsJSON, err := json.Marshal(item.Attrs)
		if err != nil {
			return fmt.Errorf("marshal attrs: %w", err)
		}
		// Same absent-row handling as Put.
		stmt := `INSERT INTO %s (pk, sk, attrs, version, updated_at) VALUES ($1,$2,$3,$4,now())`
		if existing != nil {
			stmt += ` ON CONFLICT (pk, sk) DO UPDATE SET attrs=$3, version=$4, updated_at=now()`
		}
		_, err = tx.Exec(ctx, fmt.Sprintf(stmt, table), item.Pk, item.Sk, attrsJSON, version)
		if err != nil {
			return translateErr(err)
		}
		item.Version = version
	}
	return translateErr(tx.Commit(ctx))
}

// SetOps applies a partial attribute update: set named attributes
// to the given values. Applying a merge rather than a diff is
// deliberate — the store does not model nested-path updates.
type SetOps map[string]any

// Update mutates the attrs of the item at key by merging ops in,
// after validating cond against the current row. Returns the updated
// item.
func (a *Adapter) Update(ctx context.Context, table string, key Key, ops SetOps, cond Condition) (*Item, error) {
	tx, err := a.db.Pool.Begin(ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	defer tx.Rollback(ctx)

	existing, err := getForUpdate(ctx, tx, table, key)
	if err != nil {
		return nil, err
	}
	if !cond(existing) {
		return nil, apperrors.New(apperrors.KindInvariantViolation, "conditional update failed")
	}
	if existing == nil {
		return nil, apperrors.New(apperrors.KindEntityNotFound, fmt.Sprintf("no item at %s/%s in %s", key.Pk, key.Sk, table))
	}

	merged := existing.Attrs
	if merged == nil {
		merged = map[string]any{}
	}
	for k, v := range ops {
		merged[k] = v
	}
	attrsJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal attrs: %w", err)
	}
	newVersion := existing.Version + 1
	_, err = tx.Exec(ctx,
		fmt.Sprintf(`UPDATE %s SET attrs=$1, version=$2, updated_at=now() WHERE pk=$3 AND sk=$4`, table),
		attrsJSON, newVersion, key.Pk, key.Sk)
	if err != nil {
		return nil, translateErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateErr(err)
	}
	existing.Attrs = merged
	existing.Version = newVersion
	return existing, nil
}

// Mutate reads the item at key under a row lock and hands it (nil if
// absent) to fn, which returns the attributes to merge in (or, if
// existing was nil, the full attribute set for a new row), or an
// error to abort the whole write — fn is expected to return an
// *apperrors.Error for domain-level rejections such as insufficient
// balance, including KindEntityNotFound if it requires a pre-existing
// row. Use this, not Update, whenever the new value depends on the
// current one: the read and the write happen inside the same
// transaction, so no concurrent writer can slip in between the check
// and the write.
func (a *Adapter) Mutate(ctx context.Context, table string, key Key, fn func(existing *Item) (SetOps, error)) (*Item, error) {
	tx, err := a.db.Pool.Begin(ctx)
	if err != nil {
		return nil, translateErr(err)
	}
	defer tx.Rollback(ctx)

	existing, err := getForUpdate(ctx, tx, table, key)
	if err != nil {
		return nil, err
	}

	ops, err := fn(existing)
	if err != nil {
		return nil, err
	}

	merged := map[string]any{}
	version := int64(1)
	if existing != nil {
		for k, v := range existing.Attrs {
			merged[k] = v
		}
		version = existing.Version + 1
	}
	for k, v := range ops {
		merged[k] = v
	}
	attrsJSON, err := json.Marshal(merged)
	if err != nil {
		return nil, fmt.Errorf("marshal attrs: %w", err)
	}
	// Same absent-row handling as Put.
	stmt := `INSERT INTO %s (pk, sk, attrs, version, updated_at) VALUES ($1,$2,$3,$4,now())`
	if existing != nil {
		stmt += ` ON CONFLICT (pk, sk) DO UPDATE SET attrs=$3, version=$4, updated_at=now()`
	}
	_, err = tx.Exec(ctx, fmt.Sprintf(stmt, table), key.Pk, key.Sk, attrsJSON, version)
	if err != nil {
		return nil, translateErr(err)
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, translateErr(err)
	}
	return &Item{Pk: key.Pk, Sk: key.Sk, Attrs: merged, Version: version}, nil
}

// Delete removes the item at key after validating cond, returning
// whether a row was actually removed (idempotent — absence is not an
// error unless cond demanded existence).
func (a *Adapter) Delete(ctx context.Context, table string, key Key, cond Condition) (bool, error) {
	tx, err := a.db.Pool.Begin(ctx)
	if err != nil {
		return false, translateErr(err)
	}
	defer tx.Rollback(ctx)

	existing, err := getForUpdate(ctx, tx, table, key)
	if err != nil {
		return false, err
	}
	if !cond(existing) {
		return false, apperrors.New(apperrors.KindInvariantViolation, "conditional delete failed")
	}
	if existing == nil {
		return false, tx.Commit(ctx)
	}
	if _, err := tx.Exec(ctx, fmt.Sprintf(`DELETE FROM %s WHERE pk=$1 AND sk=$2`, table), key.Pk, key.Sk); err != nil {
		return false, translateErr(err)
	}
	return true, translateErr(tx.Commit(ctx))
}

// QueryOptions bounds and orders a Query call over a partition.
type QueryOptions struct {
	SkPrefix   string
	Limit      int
	Descending bool
}

// Query lists items under pk, optionally restricted to sort keys with
// the given prefix, newest-first when Descending.
func (a *Adapter) Query(ctx context.Context, table string, pk string, opts QueryOptions) ([]*Item, error) {
	order := "ASC"
	if opts.Descending {
		order = "DESC"
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}
	sql := fmt.Sprintf(`SELECT pk, sk, attrs, version, created_at, updated_at FROM %s WHERE pk=$1`, table)
	args := []any{pk}
	if opts.SkPrefix != "" {
		sql += fmt.Sprintf(" AND sk LIKE $%d", len(args)+1)
		args = append(args, opts.SkPrefix+"%")
	}
	sql += fmt.Sprintf(" ORDER BY sk %s LIMIT $%d", order, len(args)+1)
	args = append(args, limit)

	rows, err := a.db.Pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	var items []*Item
	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, translateErr(err)
		}
		items = append(items, item)
	}
	return items, translateErr(rows.Err())
}

// BatchGet fetches multiple keys in one round trip, returning a map
// keyed by Key; absent keys are simply omitted (not an error). If the
// query fails with a transient store error it is retried once.
func (a *Adapter) BatchGet(ctx context.Context, table string, keys []Key) (map[Key]*Item, error) {
	result := make(map[Key]*Item, len(keys))
	if len(keys) == 0 {
		return result, nil
	}

	pks := make([]string, len(keys))
	sks := make([]string, len(keys))
	for i, k := range keys {
		pks[i] = k.Pk
		sks[i] = k.Sk
	}
	sql := fmt.Sprintf(`SELECT pk, sk, attrs, version, created_at, updated_at FROM %s
		WHERE (pk, sk) IN (SELECT unnest($1::text[]), unnest($2::text[]))`, table)
	rows, err := a.db.Pool.Query(ctx, sql, pks, sks)
	if err != nil && IsTransient(translateErr(err)) {
		rows, err = a.db.Pool.Query(ctx, sql, pks, sks)
	}
	if err != nil {
		return nil, translateErr(err)
	}
	defer rows.Close()

	for rows.Next() {
		item, err := scanItem(rows)
		if err != nil {
			return nil, translateErr(err)
		}
		result[Key{item.Pk, item.Sk}] = item
	}
	return result, translateErr(rows.Err())
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanItem(row rowScanner) (*Item, error) {
	var (
		item      Item
		attrsJSON []byte
	)
	if err := row.Scan(&item.Pk, &item.Sk, &attrsJSON, &item.Version, &item.CreatedAt, &item.UpdatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(attrsJSON, &item.Attrs); err != nil {
		return nil, fmt.Errorf("unmarshal attrs: %w", err)
	}
	return &item, nil
}

// getForUpdate reads the current row (if any) with a row lock held
// for the remainder of tx, so the caller's Condition check and
// subsequent write are atomic with respect to concurrent writers.
func getForUpdate(ctx context.Context, tx pgx.Tx, table string, key Key) (*Item, error) {
	row := tx.QueryRow(ctx,
		fmt.Sprintf(`SELECT pk, sk, attrs, version, created_at, updated_at FROM %s WHERE pk=$1 AND sk=$2 FOR UPDATE`, table),
		key.Pk, key.Sk)
	item, err := scanItem(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, translateErr(err)
	}
	return item, nil
}

// transientCodes are Postgres SQLSTATEs worth retrying at the caller
// (connection loss / admin shutdown), matching the set the teacher's
// cache circuit breaker treats as transient.
var transientCodes = map[string]bool{
	"08006": true, // connection_failure
	"08003": true, // connection_does_not_exist
	"57P03": true, // cannot_connect_now
}

// translateErr maps a pgx/pgconn error into the apperrors taxonomy so
// DAOs never see a raw driver error.
func translateErr(err error) error {
	if err == nil {
		return nil
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		if pgErr.Code == "23505" {
			return apperrors.Wrap(apperrors.KindEntityAlreadyExists, "unique constraint violated", err)
		}
		if transientCodes[pgErr.Code] {
			return apperrors.Wrap(apperrors.KindStoreUnavailable, "database connection unavailable", err)
		}
	}
	return apperrors.Wrap(apperrors.KindInternalError, "store operation failed", err)
}

// IsTransient reports whether err represents a retryable store
// condition (spec §4.1's "bounded retry on transient faults only").
func IsTransient(err error) bool {
	return apperrors.Is(err, apperrors.KindStoreUnavailable)
}
