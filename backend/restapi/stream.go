package restapi

import (
	"hash/fnv"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"k8s.io/klog/v2"

	"github.com/microfe-scout/app/backend/monitor"
)

const (
	// streamPollInterval is the cadence at which the stream handler checks
	// the catalog for changes.
	streamPollInterval = time.Second

	// streamKeepAliveInterval bounds the silence between two messages so
	// intermediaries do not reap idle connections.
	streamKeepAliveInterval = 15 * time.Second

	// streamWriteTimeout bounds individual websocket writes.
	streamWriteTimeout = 10 * time.Second
)

type websocketUpgrader interface {
	Upgrade(w http.ResponseWriter, r *http.Request, h http.Header) (*websocket.Conn, error)
}

func newUpgrader() websocketUpgrader {
	return &websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
	}
}

// streamMessage is one websocket frame pushed to a stream subscriber.
type streamMessage struct {
	Type    string                  `json:"type"`
	Entries []monitor.EntrySnapshot `json:"entries,omitempty"`
}

// handleStream upgrades the request and pushes the full entry list whenever
// the catalog changes, with keep-alive frames in between.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		klog.V(2).Infof("Stream upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	// Reads are only used to observe the peer going away.
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	entries := s.directory.GetAll()
	lastDigest := digestEntries(entries)
	if err := writeStreamMessage(conn, streamMessage{Type: "snapshot", Entries: entries}); err != nil {
		return
	}

	poll := time.NewTicker(streamPollInterval)
	defer poll.Stop()
	lastWrite := time.Now()

	for {
		select {
		case <-closed:
			return
		case <-r.Context().Done():
			return
		case <-poll.C:
			entries := s.directory.GetAll()
			digest := digestEntries(entries)
			switch {
			case digest != lastDigest:
				if err := writeStreamMessage(conn, streamMessage{Type: "update", Entries: entries}); err != nil {
					return
				}
				lastDigest = digest
				lastWrite = time.Now()
			case time.Since(lastWrite) >= streamKeepAliveInterval:
				if err := writeStreamMessage(conn, streamMessage{Type: "keepalive"}); err != nil {
					return
				}
				lastWrite = time.Now()
			}
		}
	}
}

func writeStreamMessage(conn *websocket.Conn, msg streamMessage) error {
	if err := conn.SetWriteDeadline(time.Now().Add(streamWriteTimeout)); err != nil {
		return err
	}
	return conn.WriteJSON(msg)
}

// digestEntries folds the identity and updated stamp of every entry into a
// single value, so the poll loop can detect any membership or timestamp
// change cheaply.
func digestEntries(entries []monitor.EntrySnapshot) uint64 {
	h := fnv.New64a()
	for _, entry := range entries {
		_, _ = h.Write([]byte(entry.HostPath))
		var buf [8]byte
		updated := entry.Updated
		for i := range buf {
			buf[i] = byte(updated >> (8 * i))
		}
		_, _ = h.Write(buf[:])
	}
	return h.Sum64()
}
