package state

import "context"

// Store is the bot's durable kv state: cached order results under
// OrderResultKey, the hedge snapshot consulted on restart, and the
// operator's last-seen telegram update id. One sqlite file holds all
// three namespaces.
type Store interface {
	Get(ctx context.Context, key string) (string, bool, error)
	Set(ctx context.Context, key, value string) error
	Delete(ctx context.Context, key string) error
	Close() error
}

// OrderResultKey namespaces an order idempotency key so cached results
// cannot collide with the snapshot or operator entries.
func OrderResultKey(idempotencyKey string) string {
	return "order:" + idempotencyKey
}
