package pagination

import (
	"context"
	"errors"
	"fmt"

	"chain-gateway/compat"
	"chain-gateway/models"
)

// DefaultPageSize is used when the base page carries no limit.
const DefaultPageSize = 100

// FetchFunc returns one page of items.
type FetchFunc[T any] func(ctx context.Context, page models.Page) ([]T, error)

// RequestAll pages through fetch until a short page comes back or maxCount items are
// collected. The result never holds more than maxCount items. A failing page fails the call.
func RequestAll[T any](ctx context.Context, fetch FetchFunc[T], base models.Page, maxCount int) ([]T, error) {
	if maxCount <= 0 {
		return []T{}, nil
	}
	size := base.Limit
	if size <= 0 {
		size = DefaultPageSize
	}
	if size > maxCount {
		size = maxCount
	}

	out := make([]T, 0, size)
	offset := base.Offset
	for len(out) < maxCount {
		if err := ctx.Err(); err != nil {
			return nil, fmt.Errorf("%w: %v", compat.ErrAdapterUnavailable, err)
		}
		page, err := fetch(ctx, models.Page{Offset: offset, Limit: size})
		if err != nil {
			if errors.Is(err, compat.ErrAdapterUnavailable) || errors.Is(err, compat.ErrDecode) {
				return nil, err
			}
			return nil, fmt.Errorf("%w: page at offset %d: %v", compat.ErrAdapterUnavailable, offset, err)
		}
		out = append(out, page...)
		if len(page) < size {
			break
		}
		offset += size
	}
	if len(out) > maxCount {
		out = out[:maxCount]
	}
	return out, nil
}
