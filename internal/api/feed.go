package api

import (
	"encoding/json"
	"errors"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/nerrad567/sensord/internal/infrastructure/logging"
)

// closeGracePeriod bounds the close frame written to feeds at shutdown.
const closeGracePeriod = time.Second

// feed is one live feed connection.
type feed struct {
	id   string
	conn *websocket.Conn
}

// feedRegistry tracks open live feeds so they can be counted and closed
// at shutdown. Feeds never share state through it; each runs its own loop.
type feedRegistry struct {
	logger *logging.Logger
	feeds  map[*feed]struct{}
	closed bool
	mu     sync.Mutex
}

func newFeedRegistry(logger *logging.Logger) *feedRegistry {
	return &feedRegistry{
		logger: logger,
		feeds:  make(map[*feed]struct{}),
	}
}

// add registers f. It returns false once the registry has been closed.
func (r *feedRegistry) add(f *feed) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return false
	}
	r.feeds[f] = struct{}{}
	return true
}

// remove unregisters f. Removing an unknown feed is a no-op.
func (r *feedRegistry) remove(f *feed) {
	r.mu.Lock()
	delete(r.feeds, f)
	r.mu.Unlock()
}

// count returns the number of open feeds.
func (r *feedRegistry) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.feeds)
}

// list returns a snapshot of the open feeds.
func (r *feedRegistry) list() []*feed {
	r.mu.Lock()
	defer r.mu.Unlock()
	feeds := make([]*feed, 0, len(r.feeds))
	for f := range r.feeds {
		feeds = append(feeds, f)
	}
	return feeds
}

// closeAll sends a going-away close frame to every feed and closes its
// connection. Each feed loop then observes the closed transport, logs, and
// unregisters itself. Later add calls are refused.
func (r *feedRegistry) closeAll() {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()
	feeds := r.list()

	if len(feeds) > 0 {
		r.logger.Info("closing live feeds", "listeners", len(feeds))
	}

	msg := websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down")
	for _, f := range feeds {
		//nolint:errcheck // Best-effort close frame; the connection is closed regardless
		f.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(closeGracePeriod))
		f.conn.Close()
	}
}

// handleFeed upgrades the connection and runs the live feed until the peer
// goes away or a push fails.
func (s *Server) handleFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// The upgrader has already written an HTTP error response.
		s.logger.Warn("websocket upgrade failed", "error", err, "remote_addr", r.RemoteAddr)
		return
	}

	f := &feed{id: uuid.NewString(), conn: conn}
	if !s.feeds.add(f) {
		conn.Close()
		return
	}

	s.runFeed(f)
}

// runFeed owns f for its lifetime: it starts the reader, runs the push loop,
// then closes and unregisters the connection whatever the exit cause.
func (s *Server) runFeed(f *feed) {
	log := s.logger.With("listener_id", f.id, "remote_addr", f.conn.RemoteAddr().String())
	log.Debug("live feed opened", "listeners", s.feeds.count())

	gone := make(chan error, 1)
	go readFeed(f.conn, int64(s.wsCfg.MaxMessageSize), gone)

	err := s.pushFeed(f.conn, gone)

	f.conn.Close()
	s.feeds.remove(f)

	if isNormalClose(err) {
		log.Debug("live feed closed", "reason", err, "listeners", s.feeds.count())
	} else {
		log.Warn("live feed ended unexpectedly", "error", err, "listeners", s.feeds.count())
	}
}

// pushFeed sends the current reading, waits the push interval after the send
// completes, and repeats. It returns the error that ended the loop: a failed
// send, or the read error reported on gone.
func (s *Server) pushFeed(conn *websocket.Conn, gone <-chan error) error {
	wait := time.NewTimer(s.wsCfg.PushInterval)
	defer wait.Stop()

	for {
		payload, err := json.Marshal(Envelope{Message: msgLiveData, Data: s.store.Get()})
		if err != nil {
			return err
		}

		//nolint:errcheck // Deadline errors surface on the write below
		conn.SetWriteDeadline(time.Now().Add(s.wsCfg.WriteTimeout))
		if err := conn.WriteMessage(websocket.TextMessage, payload); err != nil {
			s.metrics.feedErrors.Inc()
			return err
		}
		s.metrics.feedPushes.Inc()

		wait.Reset(s.wsCfg.PushInterval)
		select {
		case err := <-gone:
			return err
		case <-wait.C:
		}
	}
}

// readFeed drains inbound frames so close frames and disconnects are noticed
// while the push loop is waiting. Inbound messages carry no meaning and are
// discarded. The first read error is reported on gone.
func readFeed(conn *websocket.Conn, limit int64, gone chan<- error) {
	conn.SetReadLimit(limit)
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			gone <- err
			return
		}
	}
}

// isNormalClose reports whether err is an orderly end of a feed: the peer
// sent a normal or going-away close, or the server closed the transport.
func isNormalClose(err error) bool {
	if errors.Is(err, net.ErrClosed) {
		return true
	}
	return websocket.IsCloseError(err,
		websocket.CloseNormalClosure,
		websocket.CloseGoingAway,
		websocket.CloseNoStatusReceived,
	)
}
