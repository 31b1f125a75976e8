package main

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"

	"github.com/dtn7/bpcustody/core"
)

// httpServer exposes the admin/stats surface (gorilla/mux) and the
// application-agent delivery stream (gorilla/websocket), matching the
// teacher's cmd/dtnd agentsWebserverConfig wiring of a REST plus a
// WebSocket agent behind one *http.Server.
type httpServer struct {
	srv      *http.Server
	channels map[string]*namedChannel
	upgrader websocket.Upgrader
}

func newHTTPServer(addr string, channels map[string]*namedChannel) *httpServer {
	h := &httpServer{channels: channels, upgrader: websocket.Upgrader{}}

	r := mux.NewRouter()
	r.HandleFunc("/channels/{name}/stats", h.handleStats).Methods(http.MethodGet)
	r.HandleFunc("/channels/{name}/send", h.handleSend).Methods(http.MethodPost)
	r.HandleFunc("/channels/{name}/accept", h.handleAcceptStream)

	h.srv = &http.Server{Addr: addr, Handler: r}
	return h
}

func (h *httpServer) start() {
	go func() {
		if err := h.srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithField("error", err).Warn("dtn-agentd: http server stopped")
		}
	}()
}

func (h *httpServer) stop() {
	_ = h.srv.Close()
}

func (h *httpServer) channel(r *http.Request) (*namedChannel, bool) {
	name := mux.Vars(r)["name"]
	nc, ok := h.channels[name]
	return nc, ok
}

type statsResponse struct {
	core.Stats
	Active uint64 `json:"active"`
}

func (h *httpServer) handleStats(w http.ResponseWriter, r *http.Request) {
	nc, ok := h.channel(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	stats, active := nc.ch.Stats()
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(statsResponse{Stats: stats, Active: active})
}

func (h *httpServer) handleSend(w http.ResponseWriter, r *http.Request) {
	nc, ok := h.channel(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	const maxPayload = 1 << 20
	body := http.MaxBytesReader(w, r.Body, maxPayload)
	payload := make([]byte, maxPayload)
	n, err := body.Read(payload)
	if err != nil && n == 0 {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}

	result, err := nc.ch.Store(payload[:n])
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(result)
}

// handleAcceptStream upgrades to a WebSocket and streams every delivered
// payload (core.Channel.Accept) as one binary message, letting an
// application agent consume deliveries without polling.
func (h *httpServer) handleAcceptStream(w http.ResponseWriter, r *http.Request) {
	nc, ok := h.channel(r)
	if !ok {
		http.NotFound(w, r)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.WithField("error", err).Warn("dtn-agentd: websocket upgrade failed")
		return
	}
	defer conn.Close()

	for {
		result, err := nc.ch.Accept(time.Second)
		if err != nil {
			if code, ok := core.CodeOf(err); ok && code == core.Timeout {
				continue
			}
			log.WithFields(log.Fields{"channel": nc.name, "error": err}).Warn("dtn-agentd: accept failed")
			return
		}

		if err := conn.WriteMessage(websocket.BinaryMessage, result.Payload); err != nil {
			return
		}
	}
}
