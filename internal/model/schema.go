package model

import (
	"encoding/json"
	"strings"
)

// MetaColumns are the fixed operational columns present in every ledger.
var MetaColumns = []string{
	"Row_ID",
	"Row_Type",
	"Question_ID",
	"Section",
	"Statement",
	"Supports_Row_IDs",
	"Source_URL",
	"Source_Name",
	"Date",
	"Confidence",
	"Notes",
}

// MaxDynamicColumns caps the number of question-specific columns.
const MaxDynamicColumns = 12

// LedgerSchema is the finalized ledger layout. The dynamic column list is
// fixed at construction and only exposed through copies.
type LedgerSchema struct {
	dynamic []DynamicColumn
	names   map[string]struct{}
}

// FinalizeSchema builds the ledger schema from an approved plan's proposal.
// Column names are normalized; empty, duplicate and meta-colliding columns
// are dropped.
func FinalizeSchema(plan ResearchPlan) LedgerSchema {
	meta := make(map[string]struct{}, len(MetaColumns))
	for _, m := range MetaColumns {
		meta[strings.ToLower(m)] = struct{}{}
	}

	s := LedgerSchema{names: make(map[string]struct{})}
	seen := make(map[string]struct{})
	for _, col := range plan.DynamicSchemaProposal {
		name := NormalizeColumnName(col.Name)
		if name == "" {
			continue
		}
		key := strings.ToLower(name)
		if _, ok := meta[key]; ok {
			continue
		}
		if _, ok := seen[key]; ok {
			continue
		}
		seen[key] = struct{}{}
		s.dynamic = append(s.dynamic, DynamicColumn{
			Name:          name,
			Description:   strings.TrimSpace(col.Description),
			ExampleValues: append([]string(nil), col.ExampleValues...),
		})
		s.names[name] = struct{}{}
		if len(s.dynamic) == MaxDynamicColumns {
			break
		}
	}
	return s
}

// NormalizeColumnName trims a column name and joins internal whitespace with
// underscores.
func NormalizeColumnName(name string) string {
	return strings.Join(strings.Fields(name), "_")
}

// DynamicColumns returns a copy of the finalized dynamic columns.
func (s LedgerSchema) DynamicColumns() []DynamicColumn {
	out := make([]DynamicColumn, len(s.dynamic))
	for i, c := range s.dynamic {
		c.ExampleValues = append([]string(nil), c.ExampleValues...)
		out[i] = c
	}
	return out
}

// DynamicNames returns the dynamic column names in order.
func (s LedgerSchema) DynamicNames() []string {
	out := make([]string, len(s.dynamic))
	for i, c := range s.dynamic {
		out[i] = c.Name
	}
	return out
}

// HasDynamic reports whether name is a finalized dynamic column.
func (s LedgerSchema) HasDynamic(name string) bool {
	_, ok := s.names[name]
	return ok
}

// Columns returns the full ordered column list: meta columns then dynamic.
func (s LedgerSchema) Columns() []string {
	out := append([]string(nil), MetaColumns...)
	return append(out, s.DynamicNames()...)
}

type schemaJSON struct {
	MetaColumns    []string        `json:"meta_columns"`
	DynamicColumns []DynamicColumn `json:"dynamic_columns"`
}

// MarshalJSON encodes the schema with both column groups.
func (s LedgerSchema) MarshalJSON() ([]byte, error) {
	return json.Marshal(schemaJSON{MetaColumns: MetaColumns, DynamicColumns: s.DynamicColumns()})
}

// UnmarshalJSON restores a previously finalized schema. Columns are taken as
// stored; they were normalized when first finalized.
func (s *LedgerSchema) UnmarshalJSON(data []byte) error {
	var raw schemaJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	s.dynamic = nil
	s.names = make(map[string]struct{}, len(raw.DynamicColumns))
	for _, c := range raw.DynamicColumns {
		s.dynamic = append(s.dynamic, c)
		s.names[c.Name] = struct{}{}
	}
	return nil
}
