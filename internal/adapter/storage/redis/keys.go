package redis

// Key layout, all under the configured prefix:
//
//	{prefix}session:{token}  JSON session record
//	{prefix}sessions         set of every token with a record
//	{prefix}lock:{token}     per-token lock holding the owner id

func (b *SessionBackend) sessionKey(token string) string { return b.prefix + "session:" + token }

func (b *SessionBackend) indexKey() string { return b.prefix + "sessions" }

func (b *SessionBackend) lockKey(token string) string { return b.prefix + "lock:" + token }
