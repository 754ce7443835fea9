package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"main/internal/chat"
	"main/internal/history"
	"main/internal/ops"
	"main/pkg/conn"
	"main/pkg/metric"
	"main/pkg/realtime"
)

type runtimeConfig struct {
	v atomic.Value
}

func newRuntimeConfig(loaded ops.Loaded) *runtimeConfig {
	var rc runtimeConfig
	rc.v.Store(loaded)
	return &rc
}

func (r *runtimeConfig) Load() ops.Loaded {
	return r.v.Load().(ops.Loaded)
}

func (r *runtimeConfig) Update(loaded ops.Loaded) {
	r.v.Store(loaded)
}

func main() {
	if err := run(); err != nil {
		log.Printf("chatd: %v", err)
		os.Exit(1)
	}
}

func run() error {
	listenFlag := flag.String("listen", "", "listen address (overrides config)")
	configPath := flag.String("config", "", "path to JSON config")
	configReload := flag.Duration("config-reload-interval", 2*time.Second, "config reload interval (0=disable)")
	tokenFlag := flag.String("token", "", "bearer token clients must present (overrides config)")
	memReport := flag.Duration("mem-report", 0, "runtime memory report interval (0=disable)")
	flag.Parse()

	loaded, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	if *listenFlag != "" {
		loaded.Server.Listen = *listenFlag
	}
	if *tokenFlag != "" {
		loaded.Server.Token = *tokenFlag
	}
	runtime := newRuntimeConfig(loaded)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(loaded.Postgres)
	if err != nil {
		return err
	}
	if closeStore != nil {
		defer closeStore()
	}

	hub := newHub(runtime, store)
	if *configPath != "" && *configReload > 0 {
		go watchConfig(ctx, *configPath, *configReload, func(next ops.Loaded) {
			prev := runtime.Load()
			// The listener cannot move on a live process.
			next.Server.Listen = prev.Server.Listen
			runtime.Update(next)
			if next.Server.Token != prev.Server.Token {
				closed := hub.closeAll(int(realtime.CloseAuthExpired), "credential rotated")
				log.Printf("server token rotated, closed %d connections", closed)
			}
		})
	}

	if *memReport > 0 {
		var memoryMetric metric.RuntimeMemoryMetric
		go memoryMetric.RunReportSchedule(ctx, *memReport)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/ws", hub.serveWS)
	server := &http.Server{
		Addr:              loaded.Server.Listen,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Printf("chat relay listening: %s", loaded.Server.Listen)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	hub.closeAll(int(realtime.CloseGoingAway), "server shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return err
	}
	relayed, dropped := hub.totals()
	log.Printf("chat relay stopped: relayed=%d dropped=%d", relayed, dropped)
	return nil
}

func loadConfig(path string) (ops.Loaded, error) {
	if path == "" {
		return ops.Loaded{Server: ops.ServerSpec{Listen: ":8737"}}, nil
	}
	return ops.Load(path)
}

func openStore(opt *conn.Option) (chat.Store, func(), error) {
	if opt == nil {
		return history.NewMemoryStore(), nil, nil
	}
	client, err := conn.New(*opt)
	if err != nil {
		return nil, nil, err
	}
	store, err := history.NewPostgresStore(client)
	if err != nil {
		client.Close()
		return nil, nil, err
	}
	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := store.Ping(pingCtx); err != nil {
		client.Close()
		return nil, nil, err
	}
	log.Printf("message history: postgres %s/%s", opt.Host, opt.Database)
	return store, func() { client.Close() }, nil
}

func watchConfig(ctx context.Context, path string, interval time.Duration, update func(ops.Loaded)) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	var lastMod time.Time
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			info, err := os.Stat(path)
			if err != nil {
				log.Printf("config stat failed: %v", err)
				continue
			}
			if !info.ModTime().After(lastMod) {
				continue
			}
			loaded, err := ops.Load(path)
			if err != nil {
				log.Printf("config reload failed: %v", err)
				continue
			}
			update(loaded)
			lastMod = info.ModTime()
			log.Printf("config reloaded: %s", path)
		}
	}
}

// hub owns every live connection and the per-topic subscriber sets.
// Data frames fan out to everyone on the topic except their origin.
type hub struct {
	runtime *runtimeConfig
	store   chat.Store
	codec   chat.Codec

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*wireConn]struct{}
	topics map[string]map[*wireConn]struct{}

	relayed atomic.Uint64
	dropped atomic.Uint64
}

type wireConn struct {
	sock *websocket.Conn
	user string
	done chan struct{}

	mu sync.Mutex
}

func (c *wireConn) write(payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sock.WriteMessage(websocket.TextMessage, payload)
}

func newHub(runtime *runtimeConfig, store chat.Store) *hub {
	return &hub{
		runtime: runtime,
		store:   store,
		upgrader: websocket.Upgrader{
			CheckOrigin: func(*http.Request) bool { return true },
		},
		conns:  make(map[*wireConn]struct{}),
		topics: make(map[string]map[*wireConn]struct{}),
	}
}

func (h *hub) serveWS(w http.ResponseWriter, r *http.Request) {
	token := h.runtime.Load().Server.Token
	if token != "" && r.Header.Get("Authorization") != "Bearer "+token {
		log.Printf("rejected handshake: remote=%s", r.RemoteAddr)
		http.Error(w, "invalid credential", http.StatusUnauthorized)
		return
	}
	sock, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("upgrade failed: remote=%s err=%v", r.RemoteAddr, err)
		return
	}
	if limit := h.runtime.Load().Server.ReadLimit; limit > 0 {
		sock.SetReadLimit(limit)
	}

	conn := &wireConn{sock: sock, user: r.URL.Query().Get("user"), done: make(chan struct{})}
	h.mu.Lock()
	h.conns[conn] = struct{}{}
	total := len(h.conns)
	h.mu.Unlock()
	log.Printf("connected: user=%q remote=%s conns=%d", conn.user, r.RemoteAddr, total)

	go h.pingLoop(conn)
	h.readLoop(conn)
	close(conn.done)

	h.mu.Lock()
	delete(h.conns, conn)
	for _, subs := range h.topics {
		delete(subs, conn)
	}
	total = len(h.conns)
	h.mu.Unlock()
	_ = sock.Close()
	log.Printf("disconnected: user=%q remote=%s conns=%d", conn.user, r.RemoteAddr, total)
}

func (h *hub) readLoop(conn *wireConn) {
	for {
		_, payload, err := conn.sock.ReadMessage()
		if err != nil {
			return
		}
		frame, err := h.codec.DecodeFrame(payload)
		if err != nil || frame.Topic == "" {
			h.dropped.Add(1)
			continue
		}
		switch frame.Type {
		case chat.FrameSubscribe:
			h.subscribe(frame.Topic, conn)
		case chat.FrameUnsubscribe:
			h.unsubscribe(frame.Topic, conn)
		case chat.FrameMessage:
			h.persist(frame)
			h.relay(frame.Topic, conn, payload)
		case chat.FrameTypingStart, chat.FrameTypingStop, chat.FrameReceipt:
			h.relay(frame.Topic, conn, payload)
		default:
			h.dropped.Add(1)
		}
	}
}

func (h *hub) pingLoop(conn *wireConn) {
	interval := h.runtime.Load().Server.PingInterval
	if interval <= 0 {
		return
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-conn.done:
			return
		case <-ticker.C:
			deadline := time.Now().Add(5 * time.Second)
			if err := conn.sock.WriteControl(websocket.PingMessage, nil, deadline); err != nil {
				return
			}
		}
	}
}

func (h *hub) subscribe(topic string, conn *wireConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	subs := h.topics[topic]
	if subs == nil {
		subs = make(map[*wireConn]struct{})
		h.topics[topic] = subs
	}
	subs[conn] = struct{}{}
}

func (h *hub) unsubscribe(topic string, conn *wireConn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.topics[topic], conn)
}

func (h *hub) relay(topic string, origin *wireConn, payload []byte) {
	h.mu.Lock()
	peers := make([]*wireConn, 0, len(h.topics[topic]))
	for peer := range h.topics[topic] {
		if peer != origin {
			peers = append(peers, peer)
		}
	}
	h.mu.Unlock()

	for _, peer := range peers {
		if err := peer.write(payload); err != nil {
			h.dropped.Add(1)
			continue
		}
		h.relayed.Add(1)
	}
}

// persist mirrors a message frame into history. A frame without an id
// gets a server-assigned one; the relayed payload keeps the original
// bytes either way.
func (h *hub) persist(frame chat.Frame) {
	if h.store == nil {
		return
	}
	body, err := h.codec.DecodeMessage(frame)
	if err != nil {
		h.dropped.Add(1)
		return
	}
	msg := chat.Message{
		ID:        frame.ID,
		Topic:     frame.Topic,
		SenderID:  frame.SenderID,
		Kind:      body.Kind,
		Content:   body.Content,
		Lat:       body.Lat,
		Lng:       body.Lng,
		State:     chat.MessageSent,
		CreatedAt: frame.Time(),
	}
	if msg.ID == "" {
		msg.ID = uuid.New().String()
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.store.Append(ctx, msg); err != nil {
		log.Printf("history append failed: id=%s err=%v", msg.ID, err)
	}
}

// closeAll tears down every live connection with the given close code
// and reports how many it reached.
func (h *hub) closeAll(code int, reason string) int {
	h.mu.Lock()
	conns := make([]*wireConn, 0, len(h.conns))
	for conn := range h.conns {
		conns = append(conns, conn)
	}
	h.mu.Unlock()

	msg := websocket.FormatCloseMessage(code, reason)
	for _, conn := range conns {
		deadline := time.Now().Add(time.Second)
		_ = conn.sock.WriteControl(websocket.CloseMessage, msg, deadline)
		_ = conn.sock.Close()
	}
	return len(conns)
}

func (h *hub) totals() (relayed, dropped uint64) {
	return h.relayed.Load(), h.dropped.Load()
}
