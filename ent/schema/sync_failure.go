package schema

import (
	"entgo.io/ent"
	"entgo.io/ent/dialect/entsql"
	"entgo.io/ent/schema"
	"entgo.io/ent/schema/field"
	"entgo.io/ent/schema/index"
)

// SyncFailure is a progress write that was dropped after it failed to
// reach the backend.
type SyncFailure struct {
	ent.Schema
}

func (SyncFailure) Annotations() []schema.Annotation {
	return []schema.Annotation{entsql.Annotation{Table: "sync_failures"}}
}

func (SyncFailure) Mixin() []ent.Mixin {
	return []ent.Mixin{EventMixin{}}
}

func (SyncFailure) Fields() []ent.Field {
	return []ent.Field{
		field.String("operation").
			Comment("step or memorize"),
		field.String("sentence_id").
			Default(""),
		field.String("daily_set_id").
			Default(""),
		field.Text("payload").
			Default("").
			Comment("JSON body that was not delivered"),
		field.Int("status_code").
			Default(0).
			Comment("HTTP status, 0 for transport errors"),
		field.String("error_message"),
	}
}

func (SyncFailure) Indexes() []ent.Index {
	return []ent.Index{
		index.Fields("sentence_id"),
	}
}
