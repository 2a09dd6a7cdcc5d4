package store

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/openfinance/datacenter/internal/convert"
	"github.com/openfinance/datacenter/internal/errs"
)

// Save modes control how incoming rows meet existing ones.
const (
	SaveModeInsert  = "insert"  // insert, silently skip conflicting rows
	SaveModeUpsert  = "upsert"  // merge field by field, nulls never win
	SaveModeAppend  = "append"  // plain insert, conflicts are errors
	SaveModeReplace = "replace" // conflicting rows are overwritten whole
)

// Field declares one table column. SourceFields name record keys tried in
// order when the column name itself is absent; Default fills in when the
// whole chain comes up empty.
type Field struct {
	Name         string      `yaml:"name"`
	Type         string      `yaml:"type"`
	Nullable     bool        `yaml:"nullable"`
	SourceFields []string    `yaml:"source_fields"`
	Default      interface{} `yaml:"default"`
}

// Value resolves the column value for one record: the column name first,
// then each source field in order, then the declared default. Present
// values coerce to the column's SQL type family; nil stays nil.
func (f Field) Value(rec map[string]interface{}) interface{} {
	v, ok := rec[f.Name]
	if !ok || v == nil {
		for _, alt := range f.SourceFields {
			if av, aok := rec[alt]; aok && av != nil {
				v = av
				break
			}
		}
	}
	if v == nil {
		v = f.Default
	}
	if v == nil {
		return nil
	}
	return coerceSQL(v, f.Type)
}

// coerceSQL converts a record value toward the column's SQL type family so
// mixed upstream shapes (string "3.14" into numeric, epoch into date) bind
// cleanly. Unknown families pass through untouched.
func coerceSQL(v interface{}, sqlType string) interface{} {
	t := strings.ToLower(sqlType)
	switch {
	case strings.HasPrefix(t, "varchar"), strings.HasPrefix(t, "char"), t == "text":
		return convert.ToString(v, "")
	case strings.HasPrefix(t, "int"), strings.HasPrefix(t, "bigint"), strings.HasPrefix(t, "smallint"):
		return convert.ToInt(v, 0)
	case strings.HasPrefix(t, "numeric"), strings.HasPrefix(t, "decimal"),
		strings.HasPrefix(t, "double"), strings.HasPrefix(t, "real"), strings.HasPrefix(t, "float"):
		return convert.ToFloat(v, 0)
	case strings.HasPrefix(t, "bool"):
		return convert.ToBool(v, false)
	case t == "date":
		if d := convert.ToDate(v, time.Time{}); !d.IsZero() {
			return d
		}
		return nil
	case strings.HasPrefix(t, "timestamp"):
		if d := convert.ToDateTime(v, time.Time{}); !d.IsZero() {
			return d
		}
		return nil
	case strings.HasPrefix(t, "json"):
		b, err := json.Marshal(v)
		if err != nil {
			return nil
		}
		return b
	}
	return v
}

// Table is the declarative schema for one target table.
type Table struct {
	Name       string     `yaml:"-"`
	Fields     []Field    `yaml:"fields"`
	PrimaryKey []string   `yaml:"primary_key"`
	UniqueKeys [][]string `yaml:"unique_keys"`
	Indexes    [][]string `yaml:"indexes"`
	SaveMode   string     `yaml:"save_mode"`
	BatchSize  int        `yaml:"batch_size"`
}

// Mode returns the effective save mode, defaulting to upsert.
func (t Table) Mode() string {
	if t.SaveMode == "" {
		return SaveModeUpsert
	}
	return t.SaveMode
}

// ConflictColumns returns the conflict target: the first declared unique
// key, falling back to the primary key.
func (t Table) ConflictColumns() []string {
	if len(t.UniqueKeys) > 0 && len(t.UniqueKeys[0]) > 0 {
		return t.UniqueKeys[0]
	}
	return t.PrimaryKey
}

// Columns returns field names in declaration order.
func (t Table) Columns() []string {
	cols := make([]string, len(t.Fields))
	for i, f := range t.Fields {
		cols[i] = f.Name
	}
	return cols
}

// CreateDDL renders CREATE TABLE IF NOT EXISTS plus index statements.
func (t Table) CreateDDL() []string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.Name)
	for i, f := range t.Fields {
		fmt.Fprintf(&b, "    %s %s", f.Name, f.Type)
		if !f.Nullable {
			b.WriteString(" NOT NULL")
		}
		if i < len(t.Fields)-1 || len(t.PrimaryKey) > 0 {
			b.WriteString(",")
		}
		b.WriteString("\n")
	}
	if len(t.PrimaryKey) > 0 {
		fmt.Fprintf(&b, "    PRIMARY KEY (%s)\n", strings.Join(t.PrimaryKey, ", "))
	}
	b.WriteString(")")

	stmts := []string{b.String()}
	for _, uk := range t.UniqueKeys {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE UNIQUE INDEX IF NOT EXISTS uq_%s_%s ON %s (%s)",
			t.Name, strings.Join(uk, "_"), t.Name, strings.Join(uk, ", ")))
	}
	for _, ix := range t.Indexes {
		stmts = append(stmts, fmt.Sprintf(
			"CREATE INDEX IF NOT EXISTS ix_%s_%s ON %s (%s)",
			t.Name, strings.Join(ix, "_"), t.Name, strings.Join(ix, ", ")))
	}
	return stmts
}

// Validate checks the schema is usable for writes.
func (t Table) Validate() error {
	if len(t.Fields) == 0 {
		return fmt.Errorf("table %s: no fields", t.Name)
	}
	cols := make(map[string]bool, len(t.Fields))
	for _, f := range t.Fields {
		if f.Name == "" || f.Type == "" {
			return fmt.Errorf("table %s: field needs name and type", t.Name)
		}
		if cols[f.Name] {
			return fmt.Errorf("table %s: duplicate field %s", t.Name, f.Name)
		}
		cols[f.Name] = true
	}
	switch t.Mode() {
	case SaveModeInsert, SaveModeUpsert, SaveModeAppend, SaveModeReplace:
	default:
		return fmt.Errorf("table %s: unknown save_mode %q", t.Name, t.SaveMode)
	}
	if t.Mode() != SaveModeAppend {
		if len(t.ConflictColumns()) == 0 {
			return fmt.Errorf("table %s: save_mode %s needs a primary key or unique key", t.Name, t.Mode())
		}
		for _, c := range t.ConflictColumns() {
			if !cols[c] {
				return fmt.Errorf("table %s: conflict column %s not declared", t.Name, c)
			}
		}
	}
	return nil
}

type tablesFile struct {
	Tables map[string]Table `yaml:"tables"`
}

// LoadTables reads the declarative table registry from a YAML file.
func LoadTables(path string) (map[string]Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "load table config",
			fmt.Errorf("read %s: %w", path, err))
	}
	return ParseTables(data)
}

// ParseTables parses and validates table definitions. Unknown keys are
// rejected so a misspelled knob fails loudly instead of being dropped.
func ParseTables(data []byte) (map[string]Table, error) {
	var file tablesFile
	dec := yaml.NewDecoder(bytes.NewReader(data))
	dec.KnownFields(true)
	if err := dec.Decode(&file); err != nil {
		return nil, errs.E(errs.CategoryConfiguration, "parse table config", err)
	}
	out := make(map[string]Table, len(file.Tables))
	for name, tbl := range file.Tables {
		tbl.Name = name
		if err := tbl.Validate(); err != nil {
			return nil, errs.E(errs.CategoryConfiguration, "validate table config", err)
		}
		out[name] = tbl
	}
	return out, nil
}
