// Package kv is the key-value layer used for cached prices, allowances and
// session snapshots. The memory backend serves development and tests; the
// redis backend is wrapped in a FailoverStore that falls back to memory while
// redis is unreachable and promotes it again once a probe succeeds.
//
//	store, err := kv.NewStoreFromConfig(kv.Config{Backend: kv.BackendRedis, RedisURL: url})
//	if err != nil {
//		return err
//	}
//	defer store.Close()
package kv
