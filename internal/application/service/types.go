// Package service implements the stable async surface front-ends call
// (spec.md §4.8 "Service facade"): DagService, TaskService, NodeService,
// and WorkerService. None of these types contain business logic of their
// own — they are thin façades translating typed requests into calls on
// scheduler, executor, dht, and agentpool, and typed responses
// (PaginatedResult/CisError) back out, per spec.md §1's explicit
// "service facade ... never containing business logic themselves."
package service

import cerr "github.com/cis-project/cis/pkg/errors"

// ListOptions governs every list-shaped operation across the four
// services (spec.md §4.8).
type ListOptions struct {
	All     bool
	Filters map[string]string
	Limit   int
	Sort    string // field name; "-field" for descending
}

// matches reports whether value satisfies the filter o declares for the
// given field name (true when o has none for it). Callers pass one field at a time since a filter
// set spans heterogeneous domain types.
func (o ListOptions) matches(field, value string) bool {
	want, ok := o.Filters[field]
	return !ok || want == value
}

// PaginatedResult wraps a page of T plus enough information for a
// front-end to request the next page.
type PaginatedResult[T any] struct {
	Items      []T
	TotalCount int
	HasMore    bool
}

// paginate applies Limit to items, preserving order, and reports whether
// more items existed beyond the returned page.
func paginate[T any](items []T, opts ListOptions) PaginatedResult[T] {
	total := len(items)
	if opts.Limit <= 0 || opts.Limit >= total {
		return PaginatedResult[T]{Items: items, TotalCount: total, HasMore: false}
	}
	return PaginatedResult[T]{Items: items[:opts.Limit], TotalCount: total, HasMore: true}
}

// notFound is a small helper so every service reports a consistent
// message shape for its own domain noun.
func notFound(noun, id string) error {
	return cerr.NotFound(noun + " " + id + " not found")
}
