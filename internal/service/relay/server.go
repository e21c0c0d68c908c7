package relay

import (
	"encoding/json"
	"errors"
	"net/http"
	"sync"

	"emcipher/internal/codec"
	"emcipher/internal/mailbox"
	"emcipher/internal/utils/log"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
)

type (
	// Server is the relay: it routes opaque envelopes between mailbox and
	// clients. It owns the store it is given and holds no key material.
	Server struct {
		store mailbox.Store

		mu       sync.Mutex
		watchers map[string]map[*watcher]struct{}
	}

	statusResponse struct {
		OK  bool   `json:"ok"`
		Err string `json:"err,omitempty"`
	}

	listResponse struct {
		Msgs []*codec.WireEnvelope `json:"msgs"`
	}
)

func NewServer(store mailbox.Store) *Server {
	return &Server{
		store:    store,
		watchers: make(map[string]map[*watcher]struct{}),
	}
}

// Router builds the wire-protocol routes. Exposed separately from Run so
// tests can drive the server through httptest.
func (s *Server) Router() *mux.Router {
	r := mux.NewRouter()

	r.HandleFunc("/v1/conversations/{conv_id}/messages", s.HandlePost()).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{conv_id}/messages", s.HandleList()).Methods(http.MethodGet)
	r.HandleFunc("/v1/conversations/{conv_id}/messages/{msg_id}/ack", s.HandleAck()).Methods(http.MethodPost)
	r.HandleFunc("/v1/conversations/{conv_id}/watch", s.HandleWatch()).Methods(http.MethodGet)
	return r
}

func (s *Server) Run(addr string) error {
	log.Info("relay listening", zap.String("addr", addr))
	return http.ListenAndServe(addr, s.Router())
}

func (s *Server) HandlePost() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID := mux.Vars(r)["conv_id"]

		var wire codec.WireEnvelope
		if err := json.NewDecoder(r.Body).Decode(&wire); err != nil {
			writeJSON(w, http.StatusBadRequest, statusResponse{OK: false, Err: "malformed envelope"})
			return
		}

		env, err := codec.DecodeWire(&wire)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, statusResponse{OK: false, Err: "malformed envelope"})
			return
		}
		if env.ConvID != convID {
			writeJSON(w, http.StatusBadRequest, statusResponse{OK: false, Err: "conv_id mismatch"})
			return
		}

		if err := s.store.Append(r.Context(), convID, env); err != nil {
			log.Error("append failed", zap.String("conv_id", convID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, statusResponse{OK: false, Err: "append failed"})
			return
		}

		s.notifyWatchers(convID, &wire)
		writeJSON(w, http.StatusCreated, statusResponse{OK: true})
	}
}

func (s *Server) HandleList() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		convID := mux.Vars(r)["conv_id"]

		envs, err := s.store.List(r.Context(), convID)
		if err != nil {
			log.Error("list failed", zap.String("conv_id", convID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, statusResponse{OK: false, Err: "list failed"})
			return
		}

		resp := listResponse{Msgs: make([]*codec.WireEnvelope, 0, len(envs))}
		for _, env := range envs {
			resp.Msgs = append(resp.Msgs, codec.EncodeWire(env))
		}
		writeJSON(w, http.StatusOK, resp)
	}
}

func (s *Server) HandleAck() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		convID, msgID := vars["conv_id"], vars["msg_id"]

		err := s.store.Acknowledge(r.Context(), convID, msgID)
		if errors.Is(err, mailbox.ErrNotFound) {
			writeJSON(w, http.StatusNotFound, statusResponse{OK: false, Err: "not found"})
			return
		}
		if err != nil {
			log.Error("ack failed", zap.String("conv_id", convID), zap.String("msg_id", msgID), zap.Error(err))
			writeJSON(w, http.StatusInternalServerError, statusResponse{OK: false, Err: "ack failed"})
			return
		}
		writeJSON(w, http.StatusOK, statusResponse{OK: true})
	}
}

func writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error("write response failed", zap.Error(err))
	}
}
