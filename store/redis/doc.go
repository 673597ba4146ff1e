// Package redis provides a Redis-backed advisory.Locker for the
// coordination locks of scheduled-job polling and recovery.
//
// Locks are leased mutexes: SET NX PX with a per-locker token, released
// and renewed only by the token holder. Unlike the database's session
// locks, a lease ends when its TTL lapses, not when a connection drops,
// so a Locker must never stand in for the node liveness lock.
//
// The caller owns the client lifecycle:
//
//	client := goredis.NewClient(&goredis.Options{Addr: "localhost:6379"})
//	locker := redis.NewLocker(client, redis.WithTTL(30*time.Second))
//	defer locker.Close(ctx)
package redis
