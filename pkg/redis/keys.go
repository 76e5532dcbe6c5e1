package redis

import "strings"

const keyNamespace = "sf"

// keyspace builds every key the service writes, all under "sf:".
type keyspace struct{}

func (keyspace) key(parts ...string) string {
	b := strings.Builder{}
	b.WriteString(keyNamespace)
	for _, part := range parts {
		if part = strings.TrimSpace(part); part != "" {
			b.WriteByte(':')
			b.WriteString(part)
		}
	}
	return b.String()
}

func (k keyspace) IdempotencyKey(scope, id string) string { return k.key("idempotency", scope, id) }

// SessionKey holds the JSON snapshot of a checkout session.
func (k keyspace) SessionKey(sessionID string) string { return k.key("checkout_session", sessionID) }

// SessionChannel announces every saved change to a session.
func (k keyspace) SessionChannel(sessionID string) string {
	return k.key("checkout_session", sessionID, "events")
}

// FXKey caches a rate table quoted against base.
func (k keyspace) FXKey(base string) string { return k.key("fx", strings.ToUpper(base)) }

// QuoteGenerationKey orders delivery-rate requests within a session.
func (k keyspace) QuoteGenerationKey(sessionID string) string {
	return k.key("quote_generation", sessionID)
}

func (k keyspace) LockKey(scope, id string) string { return k.key("lock", scope, id) }
