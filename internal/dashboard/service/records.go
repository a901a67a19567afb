package service

import (
	"context"

	"github.com/pabbly/hookdash/internal/activity"
	"github.com/pabbly/hookdash/internal/analytics/validate"
	"github.com/pabbly/hookdash/internal/domain"
	"github.com/pabbly/hookdash/internal/store"
	"github.com/pabbly/hookdash/internal/table"
)

// Builder turns a create request into a record.
type Builder[T any] interface {
	Build() (T, error)
}

// Records is one list screen: a collection, the view its table runs with and
// the activity it records on change.
type Records[T store.Record, In Builder[T]] struct {
	kind  string
	items *store.Collection[T]
	view  table.View[T]
	label func(T) string
	feed  *activity.Feed
}

func NewRecords[T store.Record, In Builder[T]](kind string, view table.View[T], label func(T) string, feed *activity.Feed, seed ...T) *Records[T, In] {
	return &Records[T, In]{
		kind:  kind,
		items: store.NewCollection(seed...),
		view:  view,
		label: label,
		feed:  feed,
	}
}

func (r *Records[T, In]) Kind() string { return r.kind }

func (r *Records[T, In]) Len() int { return r.items.Len() }

// List runs q over the collection.
func (r *Records[T, In]) List(q table.Query) table.Page[T] {
	return table.Run(r.items.List(), r.view, q)
}

// Create sanitizes in, builds the record and stores it.
func (r *Records[T, In]) Create(ctx context.Context, actor domain.Actor, in In) (T, error) {
	validate.SanitizeFields(&in)
	item, err := in.Build()
	if err != nil {
		var zero T
		return zero, err
	}
	if err := r.items.Add(item); err != nil {
		var zero T
		return zero, err
	}
	r.record(ctx, actor, domain.ActivityCreated, item)
	return item, nil
}

// Delete removes the record with id.
func (r *Records[T, In]) Delete(ctx context.Context, actor domain.Actor, id string) (T, error) {
	item, err := r.items.Remove(id)
	if err != nil {
		return item, err
	}
	r.record(ctx, actor, domain.ActivityDeleted, item)
	return item, nil
}

func (r *Records[T, In]) record(ctx context.Context, actor domain.Actor, status string, item T) {
	if r.feed == nil {
		return
	}
	r.feed.Record(ctx, actor, r.kind, status, domain.ActivityData{
		ID:   item.RecordID(),
		Name: r.label(item),
	})
}
