// Package peer implements AccountantPeer: the libp2p transport that lets
// shards fire remote_post at the peer owning a user's share of a
// cross-shard journal entry, per spec.md 4.10.
package peer

import (
	"strconv"
	"time"

	"github.com/klingon-exchange/accountant/internal/config"
)

// Config configures one shard's peer transport.
type Config struct {
	ShardNumber int
	NumShards   int
	KeyFile     string
	Network     config.NetworkConfig

	// RequestTimeout bounds how long RemotePost waits for a stream ack
	// before falling back to the outbox. Zero means 10 seconds.
	RequestTimeout time.Duration
}

// rendezvous is the DHT/mDNS discovery tag a shard advertises itself
// under, so peers can find "whoever owns shard N" without a static
// address book.
func rendezvous(shardNumber int) string {
	return "accountant-shard-" + strconv.Itoa(shardNumber)
}
