// Package shard implements the accountant's horizontal partitioning by
// username: shard(username) = hash(username) mod N. spec.md 9 calls the
// first-character hash in the original a placeholder and says implementers
// may substitute any stable deterministic mapping; this package uses
// FNV-1a over the full username so two usernames sharing a first
// character don't collide onto the same shard by construction.
package shard

import "hash/fnv"

// For returns the shard number a username is routed to, given the total
// number of shards. Stable across process restarts as long as numShards
// doesn't change underneath a running deployment.
func For(username string, numShards int) int {
	if numShards <= 1 {
		return 0
	}
	h := fnv.New32a()
	h.Write([]byte(username))
	return int(h.Sum32() % uint32(numShards))
}

// IsLocal reports whether username belongs to this shard.
func IsLocal(username string, shardNumber, numShards int) bool {
	return For(username, numShards) == shardNumber
}
