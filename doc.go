// Package redispool is a client for RESP servers that pools connections per
// node and follows cluster topology.
//
// New probes the seed address once. A node that answers CLUSTER NODES with a
// slot map becomes a cluster pool that routes each command by the hash slot
// of its keys and re-resolves the map when a node answers MOVED; anything
// else becomes a single-node pool. Callers see the same API either way:
//
//	client, err := redispool.Open(ctx, "redis://localhost:6379")
//	if err != nil {
//		return err
//	}
//	defer client.Close()
//
//	db, err := client.DB()
//	if err != nil {
//		return err
//	}
//	n, err := db.LeftPush(ctx, redispool.NewKey("queue"), "job-1")
//
// Connections are borrowed for one request/response exchange and returned
// afterwards. A connection whose exchange was interrupted mid-frame, by a
// timeout or a cancelled context, is closed rather than reused.
package redispool
