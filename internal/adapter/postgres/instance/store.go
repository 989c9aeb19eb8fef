// Package instance implements the model-driven instance store on PostgreSQL.
// One Store serves one model definition; queries are assembled with squirrel
// from the definition's introspection, so projection is a lookup rather than
// reflection.
package instance

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"
	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	postgres "github.com/nickerso/physiome-coko/internal/adapter/postgres"
	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/model"
)

// FullCountColumn is the synthetic window aggregate carrying the unpaged
// total alongside a paged slice.
const FullCountColumn = "internal_full_count"

var psql = squirrel.StatementBuilder.PlaceholderFormat(squirrel.Dollar)

// Registry resolves the store serving a related type during eager loading.
type Registry struct {
	stores map[string]*Store
}

// NewRegistry creates an empty store registry.
func NewRegistry() *Registry {
	return &Registry{stores: map[string]*Store{}}
}

// Register adds a store under its definition name.
func (r *Registry) Register(s *Store) {
	r.stores[s.intro.Definition().Name] = s
}

// Store returns the store for a type name, or nil.
func (r *Registry) Store(name string) *Store {
	return r.stores[name]
}

// Store provides persistence for one modeled instance type.
type Store struct {
	pool     *pgxpool.Pool
	intro    *model.Introspection
	table    string
	registry *Registry
}

// New creates a store for the definition behind intro. The registry is used
// to reach related types' stores while eager loading; the store registers
// itself.
func New(pool *pgxpool.Pool, intro *model.Introspection, registry *Registry) *Store {
	s := &Store{
		pool:     pool,
		intro:    intro,
		table:    intro.Definition().Table(),
		registry: registry,
	}
	registry.Register(s)
	return s
}

// Table returns the backing table name.
func (s *Store) Table() string { return s.table }

// columnFor returns the column backing an element.
func columnFor(e *model.Element) string {
	return e.Column()
}

// fieldFor returns the instance field an element's column value is stored
// under: the join field name for relations and owner links.
func fieldFor(e *model.Element) string {
	if e.Kind() == model.KindOwner || e.Kind() == model.KindRelation {
		return e.JoinField
	}
	return e.Field
}

// ---------------------------------------------------------------------------
// Read operations
// ---------------------------------------------------------------------------

// Get fetches one instance by id, projecting the given fields (nil means all
// readable fields) and prefetching the given relations.
func (s *Store) Get(ctx context.Context, id uuid.UUID, fields []string, eager []model.EagerSpec) (*domain.Instance, error) {
	b := psql.Select(s.ProjectionColumns(fields)...).
		From(s.table).
		Where(squirrel.Eq{"id": id})

	insts, _, err := s.Select(ctx, b, eager)
	if err != nil {
		return nil, err
	}
	if len(insts) == 0 {
		return nil, fmt.Errorf("%s %s: %w", s.table, id, domain.ErrNotFound)
	}

	return insts[0], nil
}

// GetByIDs batch-fetches instances by id (for the request-scoped loader).
// Missing ids are absent from the result map.
func (s *Store) GetByIDs(ctx context.Context, ids []uuid.UUID, fields []string) (map[uuid.UUID]*domain.Instance, error) {
	if len(ids) == 0 {
		return map[uuid.UUID]*domain.Instance{}, nil
	}

	b := psql.Select(s.ProjectionColumns(fields)...).
		From(s.table).
		Where(squirrel.Eq{"id": ids})

	insts, _, err := s.Select(ctx, b, nil)
	if err != nil {
		return nil, err
	}

	byID := make(map[uuid.UUID]*domain.Instance, len(insts))
	for _, inst := range insts {
		byID[inst.ID] = inst
	}
	return byID, nil
}

// Select executes a prepared select builder, scans every row into an
// instance, and resolves the eager relation specs. The second return is the
// unpaged total taken from the synthetic full-count column, or 0 on an empty
// page.
func (s *Store) Select(ctx context.Context, b squirrel.SelectBuilder, eager []model.EagerSpec) ([]*domain.Instance, int, error) {
	sqlText, args, err := b.ToSql()
	if err != nil {
		return nil, 0, fmt.Errorf("%s: build query: %w", s.table, err)
	}

	rows, err := s.pool.Query(ctx, sqlText, args...)
	if err != nil {
		return nil, 0, postgres.MapError(err, s.table, "select")
	}
	defer rows.Close()

	var (
		insts []*domain.Instance
		total int
	)
	for rows.Next() {
		row := map[string]any{}
		if err := pgxscan.ScanRow(&row, rows); err != nil {
			return nil, 0, fmt.Errorf("%s: scan row: %w", s.table, err)
		}

		inst, count, err := s.fromRow(row)
		if err != nil {
			return nil, 0, err
		}
		if count > 0 {
			total = count
		}
		insts = append(insts, inst)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, postgres.MapError(err, s.table, "select")
	}

	if insts == nil {
		insts = []*domain.Instance{}
	}

	if err := s.loadEager(ctx, insts, eager); err != nil {
		return nil, 0, err
	}

	return insts, total, nil
}

// ProjectionColumns maps projected field names to columns, always including
// the fixed id/created/updated columns and every owner join column (needed
// for per-row owner recomputation). Unknown and relation fields are skipped;
// relations are served by eager loading.
func (s *Store) ProjectionColumns(fields []string) []string {
	if fields == nil {
		fields = s.intro.ReadableFieldNames()
	}

	cols := []string{"id", "created", "updated"}
	seen := map[string]bool{"id": true, "created": true, "updated": true}

	add := func(col string) {
		if !seen[col] {
			seen[col] = true
			cols = append(cols, col)
		}
	}

	for _, e := range s.intro.OwnerFields {
		add(columnFor(e))
	}
	for _, f := range fields {
		e := s.intro.Element(f)
		if e == nil {
			continue
		}
		if e.Kind() == model.KindRelation {
			// prefetched separately; keep its join column for the lookup
			if e.JoinField != "" {
				add(model.ToSnake(e.JoinField))
			}
			continue
		}
		add(columnFor(e))
	}

	return cols
}

// fromRow converts a scanned column map into an instance, pulling out the
// fixed columns and the synthetic full count.
func (s *Store) fromRow(row map[string]any) (*domain.Instance, int, error) {
	inst := &domain.Instance{Fields: map[string]any{}}
	count := 0

	for col, v := range row {
		switch col {
		case "id":
			id, err := uuidValue(v)
			if err != nil {
				return nil, 0, fmt.Errorf("%s: id column: %w", s.table, err)
			}
			inst.ID = id
		case "created":
			if t, ok := v.(time.Time); ok {
				inst.Created = t.UTC()
			}
		case "updated":
			if t, ok := v.(time.Time); ok {
				inst.Updated = t.UTC()
			}
		case FullCountColumn:
			count = intValue(v)
		default:
			field, ok := s.intro.FieldForColumn(col)
			if !ok {
				// join columns surface under their field name
				field = col
				for _, e := range s.intro.ReadableFields {
					if columnFor(e) == col {
						field = fieldFor(e)
						break
					}
				}
			}
			inst.Fields[field] = normalizeValue(v)
		}
	}

	return inst, count, nil
}

// ---------------------------------------------------------------------------
// Eager relation loading
// ---------------------------------------------------------------------------

// loadEager resolves relation prefetch specs over a batch of instances.
// Forward relations (join field on this side) batch by target id; reverse
// relations batch by the target's join column pointing back at this type.
func (s *Store) loadEager(ctx context.Context, insts []*domain.Instance, eager []model.EagerSpec) error {
	if len(insts) == 0 {
		return nil
	}

	for _, spec := range eager {
		e := s.intro.Relation(spec.Field)
		if e == nil {
			continue
		}

		target := s.registry.Store(e.Type)
		if target == nil {
			return fmt.Errorf("%s: relation %s: no store for type %s: %w",
				s.table, spec.Field, e.Type, domain.ErrLogic)
		}

		var err error
		if e.JoinField != "" {
			err = s.loadForward(ctx, insts, e, spec, target)
		} else {
			err = s.loadReverse(ctx, insts, e, spec, target)
		}
		if err != nil {
			return err
		}
	}

	return nil
}

func (s *Store) loadForward(ctx context.Context, insts []*domain.Instance, e *model.Element, spec model.EagerSpec, target *Store) error {
	var ids []uuid.UUID
	seen := map[uuid.UUID]bool{}
	for _, inst := range insts {
		v, ok := inst.Get(e.JoinField)
		if !ok || v == nil {
			continue
		}
		id, err := uuidValue(v)
		if err != nil {
			continue
		}
		if !seen[id] {
			seen[id] = true
			ids = append(ids, id)
		}
	}
	if len(ids) == 0 {
		return nil
	}

	b := psql.Select(target.ProjectionColumns(spec.Fields)...).
		From(target.table).
		Where(squirrel.Eq{"id": ids})

	related, _, err := target.Select(ctx, b, spec.Nested)
	if err != nil {
		return err
	}

	byID := make(map[uuid.UUID]*domain.Instance, len(related))
	for _, rel := range related {
		byID[rel.ID] = rel
	}

	for _, inst := range insts {
		v, ok := inst.Get(e.JoinField)
		if !ok || v == nil {
			continue
		}
		if id, err := uuidValue(v); err == nil {
			if rel, ok := byID[id]; ok {
				inst.Fields[e.Field] = rel
			}
		}
	}

	return nil
}

func (s *Store) loadReverse(ctx context.Context, insts []*domain.Instance, e *model.Element, spec model.EagerSpec, target *Store) error {
	join := target.joinElementTo(s.intro.Definition().Name)
	if join == nil {
		return fmt.Errorf("%s: relation %s: type %s declares no join back: %w",
			s.table, e.Field, e.Type, domain.ErrLogic)
	}

	ids := make([]uuid.UUID, 0, len(insts))
	for _, inst := range insts {
		ids = append(ids, inst.ID)
	}

	joinCol := model.ToSnake(join.JoinField)
	cols := target.ProjectionColumns(spec.Fields)
	cols = appendMissing(cols, joinCol)

	b := psql.Select(cols...).
		From(target.table).
		Where(squirrel.Eq{joinCol: ids})

	related, _, err := target.Select(ctx, b, spec.Nested)
	if err != nil {
		return err
	}

	grouped := map[uuid.UUID][]*domain.Instance{}
	for _, rel := range related {
		v, ok := rel.Get(join.JoinField)
		if !ok {
			continue
		}
		if id, err := uuidValue(v); err == nil {
			grouped[id] = append(grouped[id], rel)
		}
	}

	for _, inst := range insts {
		inst.Fields[e.Field] = grouped[inst.ID]
	}

	return nil
}

// joinElementTo finds this store's relation element targeting the given type
// through a join field.
func (s *Store) joinElementTo(typeName string) *model.Element {
	for _, e := range s.intro.ReadableFields {
		kind := e.Kind()
		if (kind == model.KindRelation || kind == model.KindOwner) &&
			e.Type == typeName && e.JoinField != "" {
			return e
		}
	}
	return nil
}

// ---------------------------------------------------------------------------
// Write operations
// ---------------------------------------------------------------------------

// Insert persists a new instance with every stored field it carries.
func (s *Store) Insert(ctx context.Context, inst *domain.Instance) error {
	cols := []string{"id", "created", "updated"}
	vals := []any{inst.ID, inst.Created, inst.Updated}

	for _, e := range s.intro.ReadableFields {
		f := fieldFor(e)
		if e.Kind() == model.KindRelation && e.JoinField == "" {
			continue
		}
		if v, ok := inst.Get(f); ok {
			cols = append(cols, columnFor(e))
			vals = append(vals, v)
		}
	}

	sqlText, args, err := psql.Insert(s.table).Columns(cols...).Values(vals...).ToSql()
	if err != nil {
		return fmt.Errorf("%s: build insert: %w", s.table, err)
	}

	if _, err := s.pool.Exec(ctx, sqlText, args...); err != nil {
		return postgres.MapError(err, s.table, inst.ID)
	}

	return nil
}

// Update persists the named changed fields and refreshes updated.
func (s *Store) Update(ctx context.Context, inst *domain.Instance, changed []string) error {
	if len(changed) == 0 {
		return nil
	}

	b := psql.Update(s.table).Set("updated", inst.Updated)
	for _, f := range changed {
		e := s.intro.Element(f)
		if e == nil {
			continue
		}
		v, _ := inst.Get(fieldFor(e))
		b = b.Set(columnFor(e), v)
	}
	b = b.Where(squirrel.Eq{"id": inst.ID})

	sqlText, args, err := b.ToSql()
	if err != nil {
		return fmt.Errorf("%s: build update: %w", s.table, err)
	}

	tag, err := s.pool.Exec(ctx, sqlText, args...)
	if err != nil {
		return postgres.MapError(err, s.table, inst.ID)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%s %s: %w", s.table, inst.ID, domain.ErrNotFound)
	}

	return nil
}

// NextSequenceValue allocates the next value of a named identifier sequence,
// formatted as "S" followed by six zero-padded decimal digits.
func (s *Store) NextSequenceValue(ctx context.Context, sequence string) (string, error) {
	var value string
	err := s.pool.QueryRow(ctx,
		`SELECT TO_CHAR(nextval($1::regclass), '"S"fm000000')`, sequence,
	).Scan(&value)
	if err != nil {
		return "", postgres.MapError(err, "sequence", sequence)
	}

	return value, nil
}

// ---------------------------------------------------------------------------
// Value helpers
// ---------------------------------------------------------------------------

func uuidValue(v any) (uuid.UUID, error) {
	switch t := v.(type) {
	case uuid.UUID:
		return t, nil
	case [16]byte:
		return uuid.UUID(t), nil
	case string:
		return uuid.Parse(t)
	case fmt.Stringer:
		return uuid.Parse(t.String())
	}
	return uuid.Nil, fmt.Errorf("cannot read uuid from %T", v)
}

func intValue(v any) int {
	switch t := v.(type) {
	case int64:
		return int(t)
	case int32:
		return int(t)
	case int:
		return t
	}
	return 0
}

// normalizeValue keeps scanned values in the small type set the resolver
// works with: timestamps in UTC, uuids as uuid.UUID.
func normalizeValue(v any) any {
	switch t := v.(type) {
	case time.Time:
		return t.UTC()
	case [16]byte:
		return uuid.UUID(t)
	}
	return v
}

func appendMissing(cols []string, col string) []string {
	for _, c := range cols {
		if c == col {
			return cols
		}
	}
	return append(cols, col)
}
