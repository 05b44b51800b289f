package store

import (
	"context"
	"fmt"
	"strings"

	"entgo.io/ent"
	"entgo.io/ent/dialect"
	annotation "entgo.io/ent/dialect/entsql"
	"entgo.io/ent/dialect/sql/schema"
	"entgo.io/ent/schema/field"

	entschema "github.com/kotoba-app/kotoba/ent/schema"
)

// entities lists the ent schemas that own a table in the local database.
var entities = []ent.Interface{
	entschema.KV{},
	entschema.SyncFailure{},
	entschema.LLMRequestEvent{},
}

// migrate creates or upgrades every entity table with ent's schema migrator.
func migrate(ctx context.Context, drv dialect.Driver) error {
	tables, err := entityTables()
	if err != nil {
		return err
	}
	m, err := schema.NewMigrate(drv)
	if err != nil {
		return fmt.Errorf("create migrator: %w", err)
	}
	return m.Create(ctx, tables...)
}

func entityTables() ([]*schema.Table, error) {
	tables := make([]*schema.Table, 0, len(entities))
	for _, e := range entities {
		t, err := tableFor(e)
		if err != nil {
			return nil, err
		}
		tables = append(tables, t)
	}
	return tables, nil
}

// tableFor builds the table ent would generate for s: an auto-increment
// id, the mixin fields, the schema's own fields and their indexes.
func tableFor(s ent.Interface) (*schema.Table, error) {
	name := tableName(s)
	if name == "" {
		return nil, fmt.Errorf("schema %T has no table annotation", s)
	}

	var fields []ent.Field
	var indexes []ent.Index
	for _, m := range s.Mixin() {
		fields = append(fields, m.Fields()...)
		indexes = append(indexes, m.Indexes()...)
	}
	fields = append(fields, s.Fields()...)
	indexes = append(indexes, s.Indexes()...)

	t := schema.NewTable(name).
		AddPrimary(&schema.Column{Name: "id", Type: field.TypeInt, Increment: true})
	for _, f := range fields {
		d := f.Descriptor()
		if d.Err != nil {
			return nil, fmt.Errorf("%s.%s: %w", name, d.Name, d.Err)
		}
		col := d.Name
		if d.StorageKey != "" {
			col = d.StorageKey
		}
		t.AddColumn(&schema.Column{
			Name:     col,
			Type:     d.Info.Type,
			Size:     int64(d.Size),
			Unique:   d.Unique,
			Nullable: d.Optional || d.Nillable,
		})
	}
	for _, idx := range indexes {
		d := idx.Descriptor()
		t.AddIndex(name+"_"+strings.Join(d.Fields, "_"), d.Unique, d.Fields)
	}
	return t, nil
}

func tableName(s ent.Interface) string {
	for _, a := range s.Annotations() {
		switch a := a.(type) {
		case annotation.Annotation:
			return a.Table
		case *annotation.Annotation:
			return a.Table
		}
	}
	return ""
}
