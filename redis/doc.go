// Package redis wraps go-redis with runflow logging, configuration and
// component lifecycle.
//
// TypedStore keeps JSON documents under prefixed keys and offers an
// optimistic read-modify-write (WATCH/MULTI) for values shared between
// processes:
//
//	runs := redis.NewTypedStore[run.Run](client, "runflow:run")
//	err := runs.Update(ctx, id, func(r *run.Run) (bool, error) { ... })
package redis
