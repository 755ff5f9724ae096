package postgres

import (
	"strings"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
)

const defaultPoolLabel = "default"

// poolMetrics registers a set of GaugeFunc collectors that read a pgxpool's
// live Stat() on every scrape, using client_golang directly since
// engine/metrics already standardizes on it for the rest of the
// orchestrator's instruments.
type poolMetrics struct {
	label      string
	registerer prometheus.Registerer
	collectors []prometheus.Collector
}

// configurePostgresMetrics prepares (but does not yet register) pool gauges
// for cfg. Registration happens once the pool exists, via attach.
func configurePostgresMetrics(cfg *Config) *poolMetrics {
	if cfg == nil {
		return nil
	}
	reg := cfg.Registerer
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	return &poolMetrics{label: computePoolLabel(cfg), registerer: reg}
}

// attach registers gauges that observe pool on every Prometheus scrape.
func (p *poolMetrics) attach(pool *pgxpool.Pool) {
	if p == nil || pool == nil || p.registerer == nil {
		return
	}
	labels := prometheus.Labels{"pool": p.label}
	gauges := []struct {
		name string
		help string
		fn   func() float64
	}{
		{"postgres_connections_open", "Number of open Postgres connections", func() float64 {
			return float64(pool.Stat().TotalConns())
		}},
		{"postgres_connections_in_use", "Number of Postgres connections currently in use", func() float64 {
			return float64(pool.Stat().AcquiredConns())
		}},
		{"postgres_connections_idle", "Number of idle Postgres connections", func() float64 {
			return float64(pool.Stat().IdleConns())
		}},
		{"postgres_max_open_connections", "Configured Postgres connection pool size", func() float64 {
			return float64(pool.Stat().MaxConns())
		}},
	}
	for _, g := range gauges {
		gf := prometheus.NewGaugeFunc(prometheus.GaugeOpts{
			Name:        g.name,
			Help:        g.help,
			ConstLabels: labels,
		}, g.fn)
		if err := p.registerer.Register(gf); err != nil {
			continue
		}
		p.collectors = append(p.collectors, gf)
	}
}

// unregister removes this pool's gauges from the registry, e.g. on Store.Close.
func (p *poolMetrics) unregister() {
	if p == nil || p.registerer == nil {
		return
	}
	for _, c := range p.collectors {
		p.registerer.Unregister(c)
	}
	p.collectors = nil
}

func computePoolLabel(cfg *Config) string {
	if cfg == nil {
		return defaultPoolLabel
	}
	raw := []string{cfg.Host, cfg.Port, cfg.DBName}
	parts := make([]string, 0, len(raw))
	for _, c := range raw {
		if s := sanitizeLabelComponent(c); s != "" {
			parts = append(parts, s)
		}
	}
	if len(parts) == 0 {
		return defaultPoolLabel
	}
	joined := strings.Join(parts, "-")
	return strings.Trim(strings.Trim(joined, "-"), "_")
}

func sanitizeLabelComponent(component string) string {
	trimmed := strings.TrimSpace(component)
	if trimmed == "" {
		return ""
	}
	lower := strings.ToLower(trimmed)
	var builder strings.Builder
	for _, r := range lower {
		if isLabelRune(r) {
			builder.WriteRune(r)
			continue
		}
		builder.WriteRune('_')
	}
	return strings.Trim(builder.String(), "_")
}

func isLabelRune(r rune) bool {
	if r >= 'a' && r <= 'z' {
		return true
	}
	if r >= '0' && r <= '9' {
		return true
	}
	switch r {
	case '-', '.', ':':
		return true
	default:
		return false
	}
}
