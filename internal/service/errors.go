package service

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/fjod/go_cart/shop-service/internal/repository"
)

var (
	ErrEmptyCart         = errors.New("cart is empty, nothing to checkout")
	ErrIllegalTransition = errors.New("illegal transition of order status")
	ErrOrderNotFound     = repository.ErrOrderNotFound
)

// ValidationError lists every bad field of a request. Nothing was sent to
// the store.
type ValidationError struct {
	Fields map[string]string
	err    error
}

func (e *ValidationError) Error() string {
	keys := make([]string, 0, len(e.Fields))
	for k := range e.Fields {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	parts := make([]string, 0, len(keys))
	for _, k := range keys {
		parts = append(parts, fmt.Sprintf("%s: %s", k, e.Fields[k]))
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

// PersistenceError means the order store could not be read or written.
// The operation is safe to retry.
type PersistenceError struct {
	Op  string
	Err error
}

func (e *PersistenceError) Error() string {
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *PersistenceError) Unwrap() error {
	return e.Err
}
