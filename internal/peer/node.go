package peer

import (
	"context"
	"crypto/rand"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/libp2p/go-libp2p"
	dht "github.com/libp2p/go-libp2p-kad-dht"
	pubsub "github.com/libp2p/go-libp2p-pubsub"
	"github.com/libp2p/go-libp2p/core/crypto"
	"github.com/libp2p/go-libp2p/core/host"
	lpeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/libp2p/go-libp2p/p2p/discovery/mdns"
	drouting "github.com/libp2p/go-libp2p/p2p/discovery/routing"
	dutil "github.com/libp2p/go-libp2p/p2p/discovery/util"
	"github.com/multiformats/go-multiaddr"

	"github.com/klingon-exchange/accountant/pkg/logging"
)

// Node is one shard's libp2p host: it advertises its own shard number
// under a DHT/mDNS rendezvous tag and resolves other shards' peer IDs the
// same way, so shard topology doesn't need a static address book.
type Node struct {
	host   host.Host
	dht    *dht.IpfsDHT
	pubsub *pubsub.PubSub
	cfg    Config
	log    *logging.Logger

	mdnsService mdns.Service
	routingDisc *drouting.RoutingDiscovery

	mu         sync.RWMutex
	shardPeers map[int]lpeer.ID

	ctx    context.Context
	cancel context.CancelFunc
}

// NewNode builds and starts a libp2p host for this shard.
func NewNode(ctx context.Context, cfg Config) (*Node, error) {
	ctx, cancel := context.WithCancel(ctx)

	n := &Node{
		cfg:        cfg,
		log:        logging.GetDefault().Component("peer"),
		shardPeers: make(map[int]lpeer.ID),
		ctx:        ctx,
		cancel:     cancel,
	}

	privKey, err := n.loadOrCreateKey()
	if err != nil {
		cancel()
		return nil, fmt.Errorf("peer: load identity key: %w", err)
	}

	listenAddrs := make([]multiaddr.Multiaddr, 0, len(cfg.Network.ListenAddrs))
	for _, addr := range cfg.Network.ListenAddrs {
		ma, err := multiaddr.NewMultiaddr(addr)
		if err != nil {
			cancel()
			return nil, fmt.Errorf("peer: invalid listen address %s: %w", addr, err)
		}
		listenAddrs = append(listenAddrs, ma)
	}

	h, err := libp2p.New(
		libp2p.Identity(privKey),
		libp2p.ListenAddrs(listenAddrs...),
		libp2p.DefaultTransports,
		libp2p.DefaultMuxers,
		libp2p.DefaultSecurity,
	)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("peer: create libp2p host: %w", err)
	}
	n.host = h

	if cfg.Network.EnableDHT {
		prefix := cfg.Network.DHTPrefix
		if prefix == "" {
			prefix = "/accountant"
		}
		n.dht, err = dht.New(ctx, h, dht.Mode(dht.ModeAutoServer), dht.ProtocolPrefix(protocol.ID(prefix)))
		if err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("peer: init dht: %w", err)
		}
		if err := n.dht.Bootstrap(ctx); err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("peer: bootstrap dht: %w", err)
		}
		n.routingDisc = drouting.NewRoutingDiscovery(n.dht)
	}

	if cfg.Network.EnablePubSub {
		ps, err := pubsub.NewGossipSub(ctx, h, pubsub.WithPeerExchange(true))
		if err != nil {
			h.Close()
			cancel()
			return nil, fmt.Errorf("peer: init pubsub: %w", err)
		}
		n.pubsub = ps
	}

	if cfg.Network.EnableMDNS {
		n.mdnsService = mdns.NewMdnsService(h, rendezvous(cfg.ShardNumber), mdnsNotifee{n: n})
		if err := n.mdnsService.Start(); err != nil {
			n.log.Warn("mdns start failed", "error", err)
		}
	}

	for _, addrStr := range cfg.Network.BootstrapPeers {
		ma, err := multiaddr.NewMultiaddr(addrStr)
		if err != nil {
			n.log.Warn("invalid bootstrap address", "addr", addrStr, "error", err)
			continue
		}
		pi, err := lpeer.AddrInfoFromP2pAddr(ma)
		if err != nil {
			n.log.Warn("invalid bootstrap peer info", "addr", addrStr, "error", err)
			continue
		}
		go func(pi lpeer.AddrInfo) {
			ctx, cancel := context.WithTimeout(n.ctx, 30*time.Second)
			defer cancel()
			if err := n.host.Connect(ctx, pi); err != nil {
				n.log.Warn("failed to connect to bootstrap peer", "peer", shortID(pi.ID), "error", err)
			}
		}(*pi)
	}

	if n.routingDisc != nil {
		go dutil.Advertise(n.ctx, n.routingDisc, rendezvous(cfg.ShardNumber))
		go n.discoverShards()
	}

	return n, nil
}

type mdnsNotifee struct{ n *Node }

func (m mdnsNotifee) HandlePeerFound(pi lpeer.AddrInfo) {
	if pi.ID == m.n.host.ID() {
		return
	}
	m.n.host.Peerstore().AddAddrs(pi.ID, pi.Addrs, time.Hour)
	ctx, cancel := context.WithTimeout(m.n.ctx, 10*time.Second)
	defer cancel()
	m.n.host.Connect(ctx, pi)
}

// discoverShards periodically resolves every other shard's current peer
// ID via DHT rendezvous discovery. Shard numbers are small and fixed
// (NumShards), so this polls each one directly rather than crawling an
// open-ended peer set.
func (n *Node) discoverShards() {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	n.resolveShards()
	for {
		select {
		case <-n.ctx.Done():
			return
		case <-ticker.C:
			n.resolveShards()
		}
	}
}

func (n *Node) resolveShards() {
	for shardNum := 0; shardNum < n.cfg.NumShards; shardNum++ {
		if shardNum == n.cfg.ShardNumber {
			continue
		}
		peers, err := dutil.FindPeers(n.ctx, n.routingDisc, rendezvous(shardNum))
		if err != nil || len(peers) == 0 {
			continue
		}
		n.mu.Lock()
		n.shardPeers[shardNum] = peers[0].ID
		n.mu.Unlock()
	}
}

// PeerForShard returns the currently known peer ID owning shardNum, if any
// has been resolved via discovery.
func (n *Node) PeerForShard(shardNum int) (lpeer.ID, bool) {
	n.mu.RLock()
	defer n.mu.RUnlock()
	id, ok := n.shardPeers[shardNum]
	return id, ok
}

func (n *Node) Host() host.Host {
	return n.host
}

// PubSub returns the gossipsub router, or nil if Config.Network.EnablePubSub
// was off at construction time.
func (n *Node) PubSub() *pubsub.PubSub {
	return n.pubsub
}

func (n *Node) ID() lpeer.ID {
	return n.host.ID()
}

// Close shuts the node down.
func (n *Node) Close() error {
	n.cancel()
	if n.mdnsService != nil {
		n.mdnsService.Close()
	}
	if n.dht != nil {
		n.dht.Close()
	}
	return n.host.Close()
}

func (n *Node) loadOrCreateKey() (crypto.PrivKey, error) {
	keyPath := n.cfg.KeyFile
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, err
	}
	if data, err := os.ReadFile(keyPath); err == nil {
		return crypto.UnmarshalPrivateKey(data)
	}

	privKey, _, err := crypto.GenerateEd25519Key(rand.Reader)
	if err != nil {
		return nil, err
	}
	data, err := crypto.MarshalPrivateKey(privKey)
	if err != nil {
		return nil, err
	}
	if err := os.WriteFile(keyPath, data, 0600); err != nil {
		return nil, err
	}
	return privKey, nil
}

func shortID(p lpeer.ID) string {
	s := p.String()
	if len(s) > 12 {
		return s[:12]
	}
	return s
}
