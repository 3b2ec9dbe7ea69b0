package ws

import (
	"context"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/campushub/internal/logger"
	"github.com/campushub/internal/model"
)

// Hub — реестр живых ws-соединений. Вся работа с лентами идёт в сессиях;
// хаб только считает соединения и гасит их при остановке.
type Hub struct {
	mu       sync.RWMutex
	clients  map[string]map[*Client]struct{}
	total    int
	maxConns int
	deps     Deps

	register   chan *Client
	unregister chan *Client
	done       chan struct{}
}

func NewHub(deps Deps, maxConns int) *Hub {
	if maxConns <= 0 {
		maxConns = 10000
	}
	return &Hub{
		clients:    make(map[string]map[*Client]struct{}),
		maxConns:   maxConns,
		deps:       deps,
		register:   make(chan *Client, 64),
		unregister: make(chan *Client, 64),
		done:       make(chan struct{}),
	}
}

// Connect создаёт сессию и клиента для принятого соединения и запускает их.
func (h *Hub) Connect(ctx context.Context, conn *websocket.Conn, viewer model.UserPublic) {
	session := NewSession(h.deps, viewer)
	client := newClient(h, conn, session)

	clientCtx, cancel := context.WithCancel(ctx)
	client.Start(clientCtx, cancel)
	h.Register(client)
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case <-ctx.Done():
			h.shutdown()
			return
		case client := <-h.register:
			h.addClient(client)
		case client := <-h.unregister:
			h.removeClient(client)
		}
	}
}

func (h *Hub) shutdown() {
	// Collect all clients under the lock, do NOT perform I/O under mutex.
	h.mu.Lock()
	allClients := make([]*Client, 0, h.total)
	for _, clients := range h.clients {
		for c := range clients {
			allClients = append(allClients, c)
		}
	}
	h.clients = make(map[string]map[*Client]struct{})
	h.total = 0
	h.mu.Unlock()

	// Close connections outside the lock (network I/O).
	for _, c := range allClients {
		c.Close()
	}
	for _, c := range allClients {
		c.Wait()
	}
}

func (h *Hub) addClient(c *Client) {
	h.mu.Lock()
	if h.total >= h.maxConns {
		h.mu.Unlock()
		logger.Errorf("ws connection limit reached (%d), rejecting user=%s", h.maxConns, c.userID)
		c.Close()
		return
	}
	if _, ok := h.clients[c.userID]; !ok {
		h.clients[c.userID] = make(map[*Client]struct{})
	}
	h.clients[c.userID][c] = struct{}{}
	h.total++
	total := h.total
	h.mu.Unlock()
	logger.Infof("ws connected user=%s (total %d)", c.userID, total)
}

func (h *Hub) removeClient(c *Client) {
	h.mu.Lock()
	clients, ok := h.clients[c.userID]
	if !ok {
		h.mu.Unlock()
		return
	}
	if _, exists := clients[c]; !exists {
		h.mu.Unlock()
		return
	}
	delete(clients, c)
	h.total--
	if len(clients) == 0 {
		delete(h.clients, c.userID)
	}
	h.mu.Unlock()

	// Network I/O outside the lock.
	c.Close()
}

func (h *Hub) Register(c *Client) {
	select {
	case h.register <- c:
	case <-h.done:
		c.Close()
	}
}

func (h *Hub) Unregister(c *Client) {
	select {
	case h.unregister <- c:
	case <-h.done:
	}
}
