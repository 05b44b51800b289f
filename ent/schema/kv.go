package schema

import (
	"time"

	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
)

// KV holds small values that must survive restarts.
type KV struct {
	ent.Schema
}

func (KV) Annotations() []schema.Annotation {
	return []schema.Annotation{entsql.Annotation{Table: "kv"}}
}

func (KV) Fields() []ent.Field {
	return []ent.Field{
		field.String("key").
			Unique().
			NotEmpty(),
		field.Bytes("value"),
		field.Time("updated_at").
			Default(time.Now).
			UpdateDefault(time.Now),
	}
}
