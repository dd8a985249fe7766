// Package notify implements the Supervisor's release notification
// side-channel (spec.md §4.8): an opaque hint delivered to the external
// data-sync worker over a local Unix socket, plus an in-process
// event.Feed for components (health checks, tests) that want the same
// notifications without a socket round trip. The sync worker treats a
// missed or failed notification as a hint, never a requirement — so every
// error here is logged and swallowed.
package notify

import (
	"encoding/json"
	"net"
	"time"

	"github.com/twine-protocol/beacon-in-a-box/event"
	"github.com/twine-protocol/beacon-in-a-box/internal/beacon/types"
	"github.com/twine-protocol/beacon-in-a-box/log"
)

// Release is the payload sent on each successful pulse release.
type Release struct {
	StrandID  types.CID `json:"strand_id"`
	Index     uint64    `json:"index"`
	CID       types.CID `json:"cid"`
	Timestamp time.Time `json:"timestamp"`
}

// Notifier fans a Release out to in-process subscribers and, if
// configured, to Unix-socket listeners.
type Notifier struct {
	feed event.Feed
	log  log.Logger
}

// New returns an empty Notifier. It takes no socket path: Notify's
// socketPath argument, if non-empty, is dialed on each call (this side of
// the channel never listens itself).
func New(logger log.Logger) *Notifier {
	return &Notifier{log: logger}
}

// Subscribe registers ch to receive every Release in-process.
func (n *Notifier) Subscribe(ch chan<- Release) event.Subscription {
	return n.feed.Subscribe(ch)
}

// Notify broadcasts r to in-process subscribers and, if socketPath is
// non-empty, best-effort delivers it over that Unix socket. Failure to
// reach the socket is logged, never returned, matching spec.md §4.8's
// "hint, not a requirement" contract.
func (n *Notifier) Notify(socketPath string, r Release) {
	n.feed.Send(r)
	if socketPath == "" {
		return
	}
	if err := n.sendSocket(socketPath, r); err != nil {
		n.log.Warn("notify: failed to reach data-sync socket", "path", socketPath, "err", err)
	}
}

func (n *Notifier) sendSocket(path string, r Release) error {
	conn, err := net.DialTimeout("unix", path, 2*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()
	conn.SetWriteDeadline(time.Now().Add(2 * time.Second))
	enc := json.NewEncoder(conn)
	return enc.Encode(r)
}
