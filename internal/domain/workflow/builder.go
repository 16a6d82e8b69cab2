package workflow

import (
	"fmt"
	"sort"

	"github.com/garyjia/bill-workflow/internal/domain/entity"
)

// GuardFunc evaluates a data precondition on the bill. A non-nil error refuses the edge.
type GuardFunc func(bill *entity.Bill) error

// EffectFunc applies an edge's field mutations through the mutator
type EffectFunc func(m *Mutator) error

// Key identifies an edge: a normalized role pair plus the requested action
type Key struct {
	From   Role
	To     Role
	Action Action
}

func (k Key) String() string {
	return fmt.Sprintf("%s -> %s (%s)", k.From, k.To, k.Action)
}

// Edge is one guarded transition of the table
type Edge struct {
	Description string

	// SourceCounts lists the stages the bill must be at; empty means any non-terminal stage
	SourceCounts []int

	// TargetCount is the stage the bill lands on; 0 keeps the current stage
	TargetCount int

	Guards []GuardFunc
	Effect EffectFunc
}

// TableBuilder builds a transition table
type TableBuilder interface {
	// Configure returns the edge configuration for a role pair
	Configure(from, to Role) EdgeConfiguration

	// ConfigureClass registers an edge that applies to every role pair for the action
	ConfigureClass(action Action, edge Edge) TableBuilder

	// Build freezes the configured edges into a table
	Build() *Table
}

// EdgeConfiguration configures the edges of one role pair
type EdgeConfiguration interface {
	// Permit registers the edge for the action
	Permit(action Action, edge Edge) EdgeConfiguration
}

type tableBuilder struct {
	edges map[Key]Edge
}

type edgeConfig struct {
	builder *tableBuilder
	from    Role
	to      Role
}

// NewTableBuilder creates a new transition table builder
func NewTableBuilder() TableBuilder {
	return &tableBuilder{
		edges: make(map[Key]Edge),
	}
}

// Configure returns the edge configuration for a role pair
func (b *tableBuilder) Configure(from, to Role) EdgeConfiguration {
	if from == "" || to == "" {
		panic(fmt.Sprintf("invalid role pair: %q -> %q", from, to))
	}
	return &edgeConfig{builder: b, from: from, to: to}
}

// ConfigureClass registers a wildcard edge for the action
func (b *tableBuilder) ConfigureClass(action Action, edge Edge) TableBuilder {
	b.add(Key{From: RoleAny, To: RoleAny, Action: action}, edge)
	return b
}

// Build creates the table. The builder can keep being used; the table holds its own copy.
func (b *tableBuilder) Build() *Table {
	edges := make(map[Key]Edge, len(b.edges))
	for k, e := range b.edges {
		e.SourceCounts = append([]int(nil), e.SourceCounts...)
		e.Guards = append([]GuardFunc(nil), e.Guards...)
		edges[k] = e
	}
	return &Table{edges: edges}
}

func (b *tableBuilder) add(key Key, edge Edge) {
	if !key.Action.IsValid() {
		panic(fmt.Sprintf("invalid action: %s", key.Action))
	}
	if edge.TargetCount != 0 {
		if _, ok := StateForStage(edge.TargetCount); !ok {
			panic(fmt.Sprintf("invalid target stage %d for %s", edge.TargetCount, key))
		}
	}
	if _, exists := b.edges[key]; exists {
		panic(fmt.Sprintf("duplicate edge: %s", key))
	}
	b.edges[key] = edge
}

// Permit registers the edge for the action
func (c *edgeConfig) Permit(action Action, edge Edge) EdgeConfiguration {
	c.builder.add(Key{From: c.from, To: c.to, Action: action}, edge)
	return c
}

// Keys returns every edge key, sorted for stable output
func (t *Table) Keys() []Key {
	keys := make([]Key, 0, len(t.edges))
	for k := range t.edges {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		if keys[i].From != keys[j].From {
			return keys[i].From < keys[j].From
		}
		if keys[i].To != keys[j].To {
			return keys[i].To < keys[j].To
		}
		return keys[i].Action < keys[j].Action
	})
	return keys
}

// Edge returns the edge registered for key
func (t *Table) Edge(key Key) (Edge, bool) {
	e, ok := t.edges[key]
	return e, ok
}
