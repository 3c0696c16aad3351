// Package kvstore provides the durable key-value surface the chat core
// persists its capped conversation caches and last-seen markers into.
package kvstore

import "context"

// Store is a simple persistent key-value surface. The chat core caps and
// serializes its own payloads; the store only moves strings.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	KeysWithPrefix(ctx context.Context, prefix string) ([]string, error)
}
