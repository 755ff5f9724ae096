package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/tool"
	"github.com/jackc/pgx/v5"
)

var toolColumns = []string{
	"id", "name", "kind", "description", "input_schema", "handler", "active", "created_at", "updated_at",
}

type toolRow struct {
	ID          core.ID   `db:"id"`
	Name        string    `db:"name"`
	Kind        string    `db:"kind"`
	Description string    `db:"description"`
	InputSchema []byte    `db:"input_schema"`
	Handler     string    `db:"handler"`
	Active      bool      `db:"active"`
	CreatedAt   time.Time `db:"created_at"`
	UpdatedAt   time.Time `db:"updated_at"`
}

func (r *toolRow) toTool() (*tool.Tool, error) {
	t := &tool.Tool{
		ID:          r.ID,
		Name:        r.Name,
		Kind:        core.ToolKind(r.Kind),
		Description: r.Description,
		Handler:     r.Handler,
		Active:      r.Active,
		CreatedAt:   r.CreatedAt,
		UpdatedAt:   r.UpdatedAt,
	}
	if err := decodeJSONB(r.InputSchema, &t.InputSchema); err != nil {
		return nil, err
	}
	return t, nil
}

// ToolRepo implements persistence for Tool records, including
// tool.Lookup (FindActiveByName) for the Tool Dispatcher.
type ToolRepo struct {
	db DB
}

// NewToolRepo builds a ToolRepo over db.
func NewToolRepo(db DB) *ToolRepo {
	return &ToolRepo{db: db}
}

// Create inserts a new tool row.
func (r *ToolRepo) Create(ctx context.Context, t *tool.Tool) error {
	schemaJSON, err := ToJSONB(map[string]any(t.InputSchema))
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Insert("tools").
		Columns(toolColumns...).
		Values(t.ID, t.Name, string(t.Kind), t.Description, schemaJSON, t.Handler, t.Active, t.CreatedAt, t.UpdatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert tool: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting tool: %w", err)
	}
	return nil
}

// Update overwrites a mutable tool row in place.
func (r *ToolRepo) Update(ctx context.Context, t *tool.Tool) error {
	schemaJSON, err := ToJSONB(map[string]any(t.InputSchema))
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Update("tools").
		Set("name", t.Name).
		Set("kind", string(t.Kind)).
		Set("description", t.Description).
		Set("input_schema", schemaJSON).
		Set("handler", t.Handler).
		Set("active", t.Active).
		Set("updated_at", t.UpdatedAt).
		Where(squirrel.Eq{"id": t.ID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update tool: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating tool: %w", err)
	}
	return nil
}

// Get loads a tool by ID, regardless of active status.
func (r *ToolRepo) Get(ctx context.Context, id core.ID) (*tool.Tool, error) {
	sql, args, err := squirrel.Select(toolColumns...).
		From("tools").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select tool: %w", err)
	}
	var row toolRow
	if err := scanOne(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewErrorf(core.CodeToolNotFound, "tool %s not found", id)
		}
		return nil, fmt.Errorf("scanning tool: %w", err)
	}
	return row.toTool()
}

// FindActiveByName resolves a Tool by name, matching tool.Lookup's contract:
// an inactive or missing row both surface as ToolNotFound.
func (r *ToolRepo) FindActiveByName(ctx context.Context, name string) (*tool.Tool, error) {
	sql, args, err := squirrel.Select(toolColumns...).
		From("tools").
		Where(squirrel.Eq{"name": name, "active": true}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select tool by name: %w", err)
	}
	var row toolRow
	if err := scanOne(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewErrorf(core.CodeToolNotFound, "tool %q not found or inactive", name)
		}
		return nil, fmt.Errorf("scanning tool: %w", err)
	}
	return row.toTool()
}

// List returns every tool row.
func (r *ToolRepo) List(ctx context.Context) ([]*tool.Tool, error) {
	sql, args, err := squirrel.Select(toolColumns...).
		From("tools").
		OrderBy("name").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list tools: %w", err)
	}
	var rows []toolRow
	if err := scanAll(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning tools: %w", err)
	}
	out := make([]*tool.Tool, 0, len(rows))
	for i := range rows {
		t, err := rows[i].toTool()
		if err != nil {
			return nil, err
		}
		out = append(out, t)
	}
	return out, nil
}

// Deactivate soft-deactivates a tool so it stops appearing in ToolCatalog /
// dispatch resolution without breaking foreign keys from past executions.
func (r *ToolRepo) Deactivate(ctx context.Context, id core.ID) error {
	sql, args, err := squirrel.Update("tools").
		Set("active", false).
		Set("updated_at", core.Now()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building deactivate tool: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("deactivating tool: %w", err)
	}
	return nil
}
