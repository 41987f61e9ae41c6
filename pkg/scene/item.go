package scene

import (
	"context"
	"errors"

	"github.com/taigrr/roomview/pkg/models"
	"github.com/taigrr/roomview/pkg/normalize"
)

// LoadItem decodes a furniture model and scales it to dims, resting on Y=0.
//
// Malformed data still yields a usable item holding the placeholder cube;
// the *models.ParseError is returned alongside it so the caller can show the
// message. Any other error, such as cancellation, returns a nil item.
func LoadItem(ctx context.Context, l *models.Loader, id, name string, data []byte, dims normalize.Dimensions) (*Item, error) {
	asset, err := l.Load(ctx, data)
	var perr *models.ParseError
	switch {
	case errors.As(err, &perr):
		asset = models.Placeholder()
	case err != nil:
		return nil, err
	}
	return newItem(id, name, asset.Graph, dims), err
}

// PlaceholderItem returns an item holding the placeholder cube at dims, for
// models whose bytes could not be obtained at all.
func PlaceholderItem(id, name string, dims normalize.Dimensions) *Item {
	return newItem(id, name, models.Placeholder().Graph, dims)
}

func newItem(id, name string, g *models.SceneGraph, dims normalize.Dimensions) *Item {
	normalize.Normalize(g, dims, normalize.Floor)
	if name == "" {
		name = id
	}
	return &Item{ID: id, Name: name, Graph: g}
}

// Dispose releases the template graph. Placed instances are unaffected.
func (it *Item) Dispose() int {
	return it.Graph.Dispose()
}
