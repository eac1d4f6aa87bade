package peer

import (
	"bufio"
	"context"
	"encoding/binary"
	"fmt"
	"io"
	"time"

	"github.com/libp2p/go-libp2p/core/network"
	lpeer "github.com/libp2p/go-libp2p/core/peer"
	"github.com/libp2p/go-libp2p/core/protocol"
	"github.com/vmihailenco/msgpack/v5"

	"github.com/klingon-exchange/accountant/internal/ledger"
)

// RemotePostProtocol is the stream protocol one shard posts the other
// shards' share of a cross-shard journal entry over.
const RemotePostProtocol protocol.ID = "/accountant/remotepost/1.0.0"

const maxMessageSize = 64 * 1024

// remotePostMessage is the wire message for one cross-shard posting.
type remotePostMessage struct {
	MessageID string         `msgpack:"message_id"`
	Username  string         `msgpack:"username"`
	Posting   ledger.Posting `msgpack:"posting"`
}

type remotePostAck struct {
	MessageID string `msgpack:"message_id"`
	Success   bool   `msgpack:"success"`
	Error     string `msgpack:"error,omitempty"`
}

// PostHandler receives a posting owned by a local user on behalf of a
// remote shard that originated the journal entry.
type PostHandler interface {
	ReceiveRemotePost(ctx context.Context, username string, posting ledger.Posting) error
}

func (n *Node) serve(handler PostHandler, seen SeenStore) {
	n.host.SetStreamHandler(RemotePostProtocol, func(s network.Stream) {
		defer s.Close()
		s.SetDeadline(time.Now().Add(30 * time.Second))

		reader := bufio.NewReader(s)
		data, err := readFramed(reader)
		if err != nil {
			n.log.Warn("remote_post: failed to read stream", "error", err)
			return
		}

		var msg remotePostMessage
		if err := msgpack.Unmarshal(data, &msg); err != nil {
			n.log.Warn("remote_post: malformed message", "error", err)
			return
		}

		ack := remotePostAck{MessageID: msg.MessageID, Success: true}

		if msg.MessageID != "" && seen != nil {
			duplicate, err := seen.SeenInbox(msg.MessageID)
			if err != nil {
				n.log.Warn("remote_post: inbox dedup check failed", "error", err)
			} else if duplicate {
				writeAck(s, ack)
				return
			}
		}

		if err := handler.ReceiveRemotePost(n.ctx, msg.Username, msg.Posting); err != nil {
			ack.Success = false
			ack.Error = err.Error()
			n.log.Error("remote_post: apply failed", "username", msg.Username, "contract", msg.Posting.Contract, "error", err)
		} else if msg.MessageID != "" && seen != nil {
			if err := seen.RecordInbox(msg.MessageID); err != nil {
				n.log.Warn("remote_post: failed to record inbox entry", "error", err)
			}
		}

		writeAck(s, ack)
	})
}

func writeAck(s network.Stream, ack remotePostAck) {
	data, err := msgpack.Marshal(ack)
	if err != nil {
		return
	}
	s.SetWriteDeadline(time.Now().Add(10 * time.Second))
	writeFramed(s, data)
}

// sendRemotePost opens a stream to target and blocks until the peer acks
// or the context/deadline expires.
func (n *Node) sendRemotePost(ctx context.Context, target lpeer.ID, msg remotePostMessage) error {
	stream, err := n.host.NewStream(ctx, target, RemotePostProtocol)
	if err != nil {
		return fmt.Errorf("peer: open stream: %w", err)
	}
	defer stream.Close()

	stream.SetWriteDeadline(time.Now().Add(10 * time.Second))
	data, err := msgpack.Marshal(msg)
	if err != nil {
		return fmt.Errorf("peer: marshal remote_post message: %w", err)
	}
	if err := writeFramed(stream, data); err != nil {
		return fmt.Errorf("peer: send remote_post message: %w", err)
	}

	stream.SetReadDeadline(time.Now().Add(10 * time.Second))
	reply, err := readFramed(bufio.NewReader(stream))
	if err != nil {
		return fmt.Errorf("peer: read remote_post ack: %w", err)
	}

	var ack remotePostAck
	if err := msgpack.Unmarshal(reply, &ack); err != nil {
		return fmt.Errorf("peer: malformed remote_post ack: %w", err)
	}
	if !ack.Success {
		return fmt.Errorf("peer: remote shard rejected posting: %s", ack.Error)
	}
	return nil
}

// encodePosting msgpack-encodes a bare posting for outbox storage. The
// retry worker decodes it and wraps it in a fresh remotePostMessage before
// sending it once the target shard is reachable again.
func encodePosting(posting ledger.Posting) ([]byte, error) {
	return msgpack.Marshal(posting)
}

func decodePosting(data []byte) (ledger.Posting, error) {
	var posting ledger.Posting
	err := msgpack.Unmarshal(data, &posting)
	return posting, err
}

func readFramed(r io.Reader) ([]byte, error) {
	var length uint32
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return nil, err
	}
	if length > maxMessageSize {
		return nil, fmt.Errorf("peer: message too large: %d", length)
	}
	data := make([]byte, length)
	if _, err := io.ReadFull(r, data); err != nil {
		return nil, err
	}
	return data, nil
}

func writeFramed(w io.Writer, data []byte) error {
	if len(data) > maxMessageSize {
		return fmt.Errorf("peer: message too large: %d", len(data))
	}
	if err := binary.Write(w, binary.BigEndian, uint32(len(data))); err != nil {
		return err
	}
	_, err := w.Write(data)
	return err
}
