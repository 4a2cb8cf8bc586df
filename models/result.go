package models

import "errors"

// ErrNotFound signals that a single-entity lookup (by id, address, height...) matched nothing.
var ErrNotFound = errors.New("not found")

// Meta carries pagination details of a list response.
type Meta struct {
	Count  int `json:"count"`
	Offset int `json:"offset"`
	Total  int `json:"total"`
}

// Result is the normalized shape of every list response. Data is never nil once encoded.
type Result[T any] struct {
	Data  []T            `json:"data"`
	Meta  Meta           `json:"meta"`
	Links map[string]any `json:"links,omitempty"`
}

// NewResult wraps a page of data with the given offset and total.
func NewResult[T any](data []T, offset, total int) Result[T] {
	if data == nil {
		data = []T{}
	}
	return Result[T]{
		Data: data,
		Meta: Meta{Count: len(data), Offset: offset, Total: total},
	}
}

// Empty returns a result with no data.
func Empty[T any]() Result[T] {
	return NewResult[T](nil, 0, 0)
}

// Page is an offset/limit window.
type Page struct {
	Offset int `json:"offset"`
	Limit  int `json:"limit"`
}

// Bounds clamps the page to a slice of length n and returns the [start, end) indexes.
func (p Page) Bounds(n, defaultLimit int) (int, int) {
	offset := p.Offset
	if offset < 0 {
		offset = 0
	}
	limit := p.Limit
	if limit <= 0 {
		limit = defaultLimit
	}
	if offset > n {
		offset = n
	}
	end := offset + limit
	if end > n {
		end = n
	}
	return offset, end
}
