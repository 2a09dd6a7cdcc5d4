package models

import "time"

// Knowledge-graph records mirror into the graph store through the dual
// writer; the relational copy stays authoritative.

// KGEntity is one graph node: a company, person, industry or product.
type KGEntity struct {
	EntityID   string                 `json:"entity_id" db:"entity_id"`
	EntityType string                 `json:"entity_type" db:"entity_type"`
	Name       string                 `json:"name" db:"name"`
	Properties map[string]interface{} `json:"properties,omitempty" db:"properties"`
	Source     string                 `json:"source" db:"source"`
	CapturedAt time.Time              `json:"captured_at" db:"captured_at"`
}

func (e KGEntity) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"entity_id":   e.EntityID,
		"entity_type": e.EntityType,
		"name":        e.Name,
		"properties":  e.Properties,
		"source":      e.Source,
		"captured_at": e.CapturedAt,
	}
}

// KGRelation is one directed edge between two entities.
type KGRelation struct {
	RelationID string                 `json:"relation_id" db:"relation_id"`
	FromEntity string                 `json:"from_entity" db:"from_entity"`
	ToEntity   string                 `json:"to_entity" db:"to_entity"`
	Relation   string                 `json:"relation" db:"relation"`
	Weight     *float64               `json:"weight,omitempty" db:"weight"`
	Properties map[string]interface{} `json:"properties,omitempty" db:"properties"`
	Source     string                 `json:"source" db:"source"`
	CapturedAt time.Time              `json:"captured_at" db:"captured_at"`
}

func (r KGRelation) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"relation_id": r.RelationID,
		"from_entity": r.FromEntity,
		"to_entity":   r.ToEntity,
		"relation":    r.Relation,
		"weight":      deref(r.Weight),
		"properties":  r.Properties,
		"source":      r.Source,
		"captured_at": r.CapturedAt,
	}
}

// KGEvent is a dated occurrence linking entities (announcement, litigation,
// shareholding change).
type KGEvent struct {
	EventID    string                 `json:"event_id" db:"event_id"`
	EventType  string                 `json:"event_type" db:"event_type"`
	EventDate  time.Time              `json:"event_date" db:"event_date"`
	Entities   []string               `json:"entities,omitempty" db:"entities"`
	Title      string                 `json:"title" db:"title"`
	Properties map[string]interface{} `json:"properties,omitempty" db:"properties"`
	Source     string                 `json:"source" db:"source"`
	CapturedAt time.Time              `json:"captured_at" db:"captured_at"`
}

func (e KGEvent) ToRecord() map[string]interface{} {
	return map[string]interface{}{
		"event_id":    e.EventID,
		"event_type":  e.EventType,
		"event_date":  e.EventDate,
		"entities":    e.Entities,
		"title":       e.Title,
		"properties":  e.Properties,
		"source":      e.Source,
		"captured_at": e.CapturedAt,
	}
}
