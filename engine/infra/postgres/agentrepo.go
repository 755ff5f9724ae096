package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/compozy/orchestra/engine/agent"
	"github.com/compozy/orchestra/engine/core"
	"github.com/compozy/orchestra/engine/llm"
	"github.com/compozy/orchestra/engine/schema"
	"github.com/jackc/pgx/v5"
)

var agentColumns = []string{
	"id", "name", "provider", "model", "system_prompt", "temperature",
	"max_tokens", "config", "active", "created_at", "updated_at",
}

// agentRow is the scany scan target for an agents row.
type agentRow struct {
	ID           core.ID   `db:"id"`
	Name         string    `db:"name"`
	Provider     string    `db:"provider"`
	Model        string    `db:"model"`
	SystemPrompt string    `db:"system_prompt"`
	Temperature  float64   `db:"temperature"`
	MaxTokens    int       `db:"max_tokens"`
	Config       []byte    `db:"config"`
	Active       bool      `db:"active"`
	CreatedAt    time.Time `db:"created_at"`
	UpdatedAt    time.Time `db:"updated_at"`
}

func (r *agentRow) toAgent() (*agent.Agent, error) {
	a := &agent.Agent{
		ID:           r.ID,
		Name:         r.Name,
		Provider:     r.Provider,
		Model:        r.Model,
		SystemPrompt: r.SystemPrompt,
		Temperature:  r.Temperature,
		MaxTokens:    r.MaxTokens,
		Active:       r.Active,
		CreatedAt:    r.CreatedAt,
		UpdatedAt:    r.UpdatedAt,
	}
	if err := decodeJSONB(r.Config, &a.Config); err != nil {
		return nil, err
	}
	return a, nil
}

// AgentRepo implements persistence for Agent and AgentTool records and the
// tool-catalog read the Agent Execution Engine materializes per invocation.
type AgentRepo struct {
	db DB
}

// NewAgentRepo builds an AgentRepo over db.
func NewAgentRepo(db DB) *AgentRepo {
	return &AgentRepo{db: db}
}

// Create inserts a new agent row.
func (r *AgentRepo) Create(ctx context.Context, a *agent.Agent) error {
	configJSON, err := ToJSONB(a.Config)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Insert("agents").
		Columns(agentColumns...).
		Values(
			a.ID, a.Name, a.Provider, a.Model, a.SystemPrompt, a.Temperature,
			a.MaxTokens, configJSON, a.Active, a.CreatedAt, a.UpdatedAt,
		).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert agent: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting agent: %w", err)
	}
	return nil
}

// Update overwrites a mutable agent row in place.
func (r *AgentRepo) Update(ctx context.Context, a *agent.Agent) error {
	configJSON, err := ToJSONB(a.Config)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Update("agents").
		Set("name", a.Name).
		Set("provider", a.Provider).
		Set("model", a.Model).
		Set("system_prompt", a.SystemPrompt).
		Set("temperature", a.Temperature).
		Set("max_tokens", a.MaxTokens).
		Set("config", configJSON).
		Set("active", a.Active).
		Set("updated_at", a.UpdatedAt).
		Where(squirrel.Eq{"id": a.ID}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building update agent: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("updating agent: %w", err)
	}
	return nil
}

// Get loads an agent by ID (agentexec.AgentRepository).
func (r *AgentRepo) Get(ctx context.Context, id core.ID) (*agent.Agent, error) {
	sql, args, err := squirrel.Select(agentColumns...).
		From("agents").
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select agent: %w", err)
	}
	var row agentRow
	if err := scanOne(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewErrorf(core.CodeNotFound, "agent %s not found", id)
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return row.toAgent()
}

// GetByName loads an agent by its unique name.
func (r *AgentRepo) GetByName(ctx context.Context, name string) (*agent.Agent, error) {
	sql, args, err := squirrel.Select(agentColumns...).
		From("agents").
		Where(squirrel.Eq{"name": name}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building select agent by name: %w", err)
	}
	var row agentRow
	if err := scanOne(ctx, r.db, &row, sql, args...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, core.NewErrorf(core.CodeNotFound, "agent %q not found", name)
		}
		return nil, fmt.Errorf("scanning agent: %w", err)
	}
	return row.toAgent()
}

// List returns every agent row.
func (r *AgentRepo) List(ctx context.Context) ([]*agent.Agent, error) {
	sql, args, err := squirrel.Select(agentColumns...).
		From("agents").
		OrderBy("name").
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building list agents: %w", err)
	}
	var rows []agentRow
	if err := scanAll(ctx, r.db, &rows, sql, args...); err != nil {
		return nil, fmt.Errorf("scanning agents: %w", err)
	}
	out := make([]*agent.Agent, 0, len(rows))
	for i := range rows {
		a, err := rows[i].toAgent()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Deactivate soft-deactivates an agent rather than deleting it, since agents
// already referenced by executions must remain resolvable.
func (r *AgentRepo) Deactivate(ctx context.Context, id core.ID) error {
	sql, args, err := squirrel.Update("agents").
		Set("active", false).
		Set("updated_at", core.Now()).
		Where(squirrel.Eq{"id": id}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building deactivate agent: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("deactivating agent: %w", err)
	}
	return nil
}

// CreateBinding persists an AgentTool association.
func (r *AgentRepo) CreateBinding(ctx context.Context, b *agent.AgentTool) error {
	configJSON, err := ToJSONB(b.Config)
	if err != nil {
		return err
	}
	sql, args, err := squirrel.Insert("agent_tools").
		Columns("id", "agent_id", "tool_id", "config", "created_at").
		Values(b.ID, b.AgentID, b.ToolID, configJSON, b.CreatedAt).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return fmt.Errorf("building insert agent_tool: %w", err)
	}
	if _, err := r.db.Exec(ctx, sql, args...); err != nil {
		return fmt.Errorf("inserting agent_tool: %w", err)
	}
	return nil
}

// ToolCatalog returns every active tool bound to agentID via an AgentTool
// row; inactive tools drop out of the catalog without touching the binding.
func (r *AgentRepo) ToolCatalog(ctx context.Context, agentID core.ID) ([]llm.ToolSpec, error) {
	sql, args, err := squirrel.Select("t.name", "t.description", "t.input_schema").
		From("agent_tools at").
		Join("tools t ON t.id = at.tool_id").
		Where(squirrel.Eq{"at.agent_id": agentID, "t.active": true}).
		PlaceholderFormat(squirrel.Dollar).
		ToSql()
	if err != nil {
		return nil, fmt.Errorf("building tool catalog query: %w", err)
	}
	rows, err := r.db.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("querying tool catalog: %w", err)
	}
	defer rows.Close()
	var catalog []llm.ToolSpec
	for rows.Next() {
		var name, description string
		var raw []byte
		if err := rows.Scan(&name, &description, &raw); err != nil {
			return nil, fmt.Errorf("scanning tool catalog row: %w", err)
		}
		var sc schema.Schema
		if err := decodeJSONB(raw, &sc); err != nil {
			return nil, err
		}
		catalog = append(catalog, llm.ToolSpec{
			Name:        name,
			Description: description,
			InputSchema: map[string]any(sc),
		})
	}
	return catalog, rows.Err()
}
