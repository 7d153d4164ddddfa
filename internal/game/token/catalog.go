// Package token holds the read-only token catalog and the injected scoring
// tables. The catalog is loaded once per process and never mutated.
package token

import (
	"encoding/json"
	"fmt"
	"os"
	"sort"
)

// Token describes a single scannable memory token. The struct is shared
// with the schema generator so designers get a machine-readable document
// for validating authored catalogs.
type Token struct {
	ID              string `json:"id" jsonschema:"title=Token id,description=Identifier printed on the physical token"`
	MemoryType      string `json:"memoryType" jsonschema:"title=Memory type,description=Category used for the type multiplier"`
	ValueRating     int    `json:"valueRating" jsonschema:"title=Value rating,minimum=1,description=Rating looked up in the base-value table"`
	Group           string `json:"group,omitempty" jsonschema:"description=Optional group this token belongs to"`
	GroupMultiplier int    `json:"groupMultiplier,omitempty" jsonschema:"description=Bonus multiplier applied when the whole group is claimed"`
}

// ScoringConfig is the injected base-value and multiplier table. It is data,
// not logic: the engine never hard-codes a rating-to-points mapping.
type ScoringConfig struct {
	BaseValues      map[int]int    `json:"baseValues"`
	TypeMultipliers map[string]int `json:"typeMultipliers"`
}

// BaseValue returns the point value for a rating, or 0 for unknown ratings.
func (c ScoringConfig) BaseValue(rating int) int {
	return c.BaseValues[rating]
}

// TypeMultiplier returns the multiplier for a memory type, defaulting to 1.
func (c ScoringConfig) TypeMultiplier(memoryType string) int {
	if m, ok := c.TypeMultipliers[memoryType]; ok && m > 0 {
		return m
	}
	return 1
}

// Value computes baseValue(rating) × typeMultiplier(memoryType) for a token.
func (c ScoringConfig) Value(tok Token) int {
	return c.BaseValue(tok.ValueRating) * c.TypeMultiplier(tok.MemoryType)
}

// Catalog indexes tokens by id and by group.
type Catalog struct {
	tokens  map[string]Token
	groups  map[string][]string
	scoring ScoringConfig
}

// NewCatalog builds a catalog from a token list and scoring tables.
func NewCatalog(tokens []Token, scoring ScoringConfig) *Catalog {
	c := &Catalog{
		tokens:  make(map[string]Token, len(tokens)),
		groups:  make(map[string][]string),
		scoring: scoring,
	}
	for _, tok := range tokens {
		c.tokens[tok.ID] = tok
		if tok.Group != "" {
			c.groups[tok.Group] = append(c.groups[tok.Group], tok.ID)
		}
	}
	for _, ids := range c.groups {
		sort.Strings(ids)
	}
	return c
}

// File is the on-disk catalog format.
type File struct {
	Scoring ScoringConfig `json:"scoring" jsonschema:"description=Injected base-value and multiplier tables"`
	Tokens  []Token       `json:"tokens" jsonschema:"description=Every scannable token in this production"`
}

// Load reads a catalog file from disk.
func Load(path string) (*Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read token catalog: %w", err)
	}
	var file File
	if err := json.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("parse token catalog: %w", err)
	}
	if len(file.Tokens) == 0 {
		return nil, fmt.Errorf("token catalog %s contains no tokens", path)
	}
	return NewCatalog(file.Tokens, file.Scoring), nil
}

// Lookup resolves a token id.
func (c *Catalog) Lookup(id string) (Token, bool) {
	tok, ok := c.tokens[id]
	return tok, ok
}

// GroupMembers returns the sorted token ids in a group.
func (c *Catalog) GroupMembers(group string) []string {
	members := c.groups[group]
	if len(members) == 0 {
		return nil
	}
	return append([]string(nil), members...)
}

// Value computes the scored value of a token per the injected tables.
func (c *Catalog) Value(tok Token) int {
	return c.scoring.Value(tok)
}

// Size reports the number of tokens in the catalog.
func (c *Catalog) Size() int {
	return len(c.tokens)
}
