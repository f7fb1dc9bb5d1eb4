package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/parishems/compliance/internal/services"
)

// FeedMessageType is the type of a decision feed message
type FeedMessageType string

const (
	FeedMessageTypeDecision  FeedMessageType = "decision"
	FeedMessageTypeHeartbeat FeedMessageType = "heartbeat"
)

const (
	feedSendBuffer    = 64
	feedWriteTimeout  = 10 * time.Second
	feedHeartbeatTick = 30 * time.Second
)

// FeedMessage is one message pushed to dashboard subscribers.
type FeedMessage struct {
	Type   FeedMessageType            `json:"type"`
	Result *services.EvaluationResult `json:"result,omitempty"`
	SentAt time.Time                  `json:"sent_at"`
}

type feedClient struct {
	conn *websocket.Conn
	send chan []byte
	once sync.Once
}

func (c *feedClient) close() {
	c.once.Do(func() {
		close(c.send)
	})
}

// DecisionFeed streams exclusion and review decisions to connected dashboards
// over WebSocket. It is registered as a listener on the exclusion service.
type DecisionFeed struct {
	upgrader websocket.Upgrader
	mu       sync.RWMutex
	clients  map[*feedClient]struct{}
	closed   bool
}

// NewDecisionFeed creates a new decision feed
func NewDecisionFeed() *DecisionFeed {
	return &DecisionFeed{
		upgrader: websocket.Upgrader{
			// Origins are enforced by the CORS layer in front of the API.
			CheckOrigin: func(r *http.Request) bool {
				return true
			},
			ReadBufferSize:  1024,
			WriteBufferSize: 4096,
		},
		clients: make(map[*feedClient]struct{}),
	}
}

// SetupRoutes configures WebSocket routes
func (f *DecisionFeed) SetupRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /ws/decisions", f.HandleWebSocket)
}

// Subscribers returns the number of connected dashboards.
func (f *DecisionFeed) Subscribers() int {
	f.mu.RLock()
	defer f.mu.RUnlock()
	return len(f.clients)
}

// DecisionRecorded implements services.DecisionListener. Subscribers whose
// buffer is full miss the message rather than slowing evaluation down.
func (f *DecisionFeed) DecisionRecorded(result services.EvaluationResult) {
	data, err := json.Marshal(FeedMessage{
		Type:   FeedMessageTypeDecision,
		Result: &result,
		SentAt: time.Now().UTC(),
	})
	if err != nil {
		log.Printf("Decision feed: failed to encode result for call %d: %v", result.CallID, err)
		return
	}
	f.broadcast(data)
}

func (f *DecisionFeed) broadcast(data []byte) {
	f.mu.RLock()
	defer f.mu.RUnlock()
	for c := range f.clients {
		select {
		case c.send <- data:
		default:
			log.Printf("Decision feed: subscriber buffer full, dropping message")
		}
	}
}

// HandleWebSocket upgrades the connection and streams decisions until the
// client goes away.
func (f *DecisionFeed) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := f.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("Failed to upgrade WebSocket: %v", err)
		return
	}

	client := &feedClient{conn: conn, send: make(chan []byte, feedSendBuffer)}
	f.mu.Lock()
	if f.closed {
		f.mu.Unlock()
		conn.Close()
		return
	}
	f.clients[client] = struct{}{}
	f.mu.Unlock()
	log.Printf("Decision feed subscriber connected from %s", r.RemoteAddr)

	go f.writeLoop(client)

	// Subscribers only listen; reading detects the disconnect.
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			break
		}
	}

	f.remove(client)
	log.Printf("Decision feed subscriber %s disconnected", r.RemoteAddr)
}

func (f *DecisionFeed) remove(client *feedClient) {
	f.mu.Lock()
	if _, ok := f.clients[client]; ok {
		delete(f.clients, client)
		client.close()
	}
	f.mu.Unlock()
}

func (f *DecisionFeed) writeLoop(client *feedClient) {
	ticker := time.NewTicker(feedHeartbeatTick)
	defer func() {
		ticker.Stop()
		client.conn.Close()
	}()

	for {
		select {
		case data, ok := <-client.send:
			client.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if !ok {
				client.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := client.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Printf("Decision feed: write failed: %v", err)
				f.remove(client)
				return
			}
		case <-ticker.C:
			client.conn.SetWriteDeadline(time.Now().Add(feedWriteTimeout))
			if err := client.conn.WriteJSON(FeedMessage{Type: FeedMessageTypeHeartbeat, SentAt: time.Now().UTC()}); err != nil {
				f.remove(client)
				return
			}
		}
	}
}

// Close disconnects every subscriber.
func (f *DecisionFeed) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	for c := range f.clients {
		delete(f.clients, c)
		c.close()
	}
}
