package signaling

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/pion/webrtc/v3"
	"go.uber.org/zap"
)

const (
	// PingInterval and PongWait are used for socket heartbeat.
	PingInterval = 30
	PongWait     = 60
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // allow all origins in dev; restrict in production
	},
}

// WSMessage is the signaling socket envelope.
type WSMessage struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// relayPayload is the client-side shape of offer/answer/ice-candidate
// messages: the target connection plus an opaque payload.
type relayPayload struct {
	To      string          `json:"to"`
	Payload json.RawMessage `json:"payload"`
}

// Peer represents a single WebSocket connection in a meeting room.
type Peer struct {
	ID        string
	MeetingID uuid.UUID
	UserID    uuid.UUID

	coordinator *Coordinator
	conn        *websocket.Conn
	send        chan WSMessage
	logger      *zap.Logger
}

// Emit queues an event for the write pump without blocking. A full buffer
// drops the message; the peer's own heartbeat failure will reap it.
func (p *Peer) Emit(event string, data interface{}) {
	raw, err := json.Marshal(data)
	if err != nil {
		return
	}
	select {
	case p.send <- WSMessage{Event: event, Data: raw}:
	default:
	}
}

// Authorizer decides whether a user may join a meeting room (i.e. is a
// party to the session behind it).
type Authorizer func(ctx context.Context, meetingID, userID uuid.UUID) (bool, error)

// ServeWs handles the signaling WebSocket: GET /ws?meeting_id=&token=.
// The peer is joined into its room on connect and removed on disconnect.
func ServeWs(coordinator *Coordinator, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error), authorize Authorizer, iceServers []webrtc.ICEServer) gin.HandlerFunc {
	return func(c *gin.Context) {
		meetingIDStr := c.Query("meeting_id")
		token := c.Query("token")
		if meetingIDStr == "" || token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "meeting_id and token required"})
			return
		}
		meetingID, err := uuid.Parse(meetingIDStr)
		if err != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid meeting_id"})
			return
		}
		userIDStr, _, err := jwtValidate(token)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		userID, err := uuid.Parse(userIDStr)
		if err != nil {
			c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		allowed, err := authorize(c.Request.Context(), meetingID, userID)
		if err != nil {
			c.JSON(http.StatusNotFound, gin.H{"error": "meeting not found"})
			return
		}
		if !allowed {
			c.JSON(http.StatusForbidden, gin.H{"error": "not a participant of this meeting"})
			return
		}

		conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
		if err != nil {
			logger.Warn("websocket upgrade failed", zap.Error(err))
			return
		}

		peer := &Peer{
			ID:          uuid.New().String(),
			MeetingID:   meetingID,
			UserID:      userID,
			coordinator: coordinator,
			conn:        conn,
			send:        make(chan WSMessage, 256),
			logger:      logger,
		}

		others := coordinator.Join(meetingID, peer.ID, userID, peer)
		peer.Emit(EventJoinedMeeting, map[string]interface{}{
			"connection_id": peer.ID,
			"participants":  others,
			"ice_servers":   iceServers,
		})

		go peer.writePump()
		peer.readPump()
	}
}

func (p *Peer) readPump() {
	defer func() {
		p.coordinator.Leave(p.ID)
		_ = p.conn.Close()
	}()

	p.conn.SetReadLimit(65536)
	_ = p.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
	p.conn.SetPongHandler(func(string) error {
		_ = p.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))
		return nil
	})

	for {
		var msg WSMessage
		if err := p.conn.ReadJSON(&msg); err != nil {
			break
		}
		_ = p.conn.SetReadDeadline(time.Now().Add(PongWait * time.Second))

		switch msg.Event {
		case EventOffer, EventAnswer, EventICECandidate:
			var relay relayPayload
			if err := json.Unmarshal(msg.Data, &relay); err != nil || relay.To == "" {
				continue
			}
			p.coordinator.Relay(msg.Event, p.ID, relay.To, relay.Payload)
		case EventRecordingStatus:
			var payload struct {
				Recording bool `json:"recording"`
			}
			if err := json.Unmarshal(msg.Data, &payload); err != nil {
				continue
			}
			p.coordinator.SetRecordingState(p.MeetingID, p.ID, payload.Recording)
		default:
			// ignore
		}
	}
}

func (p *Peer) writePump() {
	ticker := time.NewTicker(PingInterval * time.Second)
	defer func() {
		ticker.Stop()
		_ = p.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-p.send:
			if !ok {
				_ = p.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.conn.WriteJSON(msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = p.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
			if err := p.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ICEServersFromURLs builds the ICE server list handed to joiners from the
// configured STUN/TURN URLs.
func ICEServersFromURLs(urls []string) []webrtc.ICEServer {
	if len(urls) == 0 {
		return nil
	}
	return []webrtc.ICEServer{{URLs: urls}}
}
