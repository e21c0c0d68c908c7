package relay

import (
	"encoding/json"
	"net/http"
	"sync"

	"emcipher/internal/codec"
	"emcipher/internal/utils/log"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// watcher is one websocket subscriber. Writes are serialized through mu
// because gorilla/websocket forbids concurrent writers.
type watcher struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (w *watcher) push(data []byte) error {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.conn.WriteMessage(websocket.TextMessage, data)
}

// HandleWatch upgrades to a websocket and pushes every envelope appended to
// the conversation from then on. Push is best-effort notification only; the
// poll+ack path stays the delivery mechanism, so a dropped watcher loses
// nothing.
func (s *Server) HandleWatch() http.HandlerFunc {
	upgrader := websocket.Upgrader{
		CheckOrigin: func(r *http.Request) bool {
			return true
		},
	}

	return func(w http.ResponseWriter, r *http.Request) {
		convID := mux.Vars(r)["conv_id"]

		// Upgrade writes its own error response on failure
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			log.Debug("watch upgrade failed", zap.String("conv_id", convID), zap.Error(err))
			return
		}

		wt := &watcher{conn: conn}
		s.addWatcher(convID, wt)
		go s.drainWatcher(convID, wt)
	}
}

func (s *Server) addWatcher(convID string, wt *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.watchers[convID] == nil {
		s.watchers[convID] = make(map[*watcher]struct{})
	}
	s.watchers[convID][wt] = struct{}{}
}

func (s *Server) removeWatcher(convID string, wt *watcher) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if set := s.watchers[convID]; set != nil {
		delete(set, wt)
		if len(set) == 0 {
			delete(s.watchers, convID)
		}
	}
	wt.conn.Close()
}

// drainWatcher consumes (and ignores) client frames until the socket dies.
func (s *Server) drainWatcher(convID string, wt *watcher) {
	for {
		if _, _, err := wt.conn.ReadMessage(); err != nil {
			log.Debug("watcher closed", zap.String("conv_id", convID), zap.Error(err))
			s.removeWatcher(convID, wt)
			return
		}
	}
}

func (s *Server) notifyWatchers(convID string, wire *codec.WireEnvelope) {
	data, err := json.Marshal(wire)
	if err != nil {
		log.Error("marshal watch push failed", zap.Error(err))
		return
	}

	s.mu.Lock()
	targets := make([]*watcher, 0, len(s.watchers[convID]))
	for wt := range s.watchers[convID] {
		targets = append(targets, wt)
	}
	s.mu.Unlock()

	for _, wt := range targets {
		if err := wt.push(data); err != nil {
			log.Debug("watch push failed", zap.String("conv_id", convID), zap.Error(err))
			s.removeWatcher(convID, wt)
		}
	}
}
