package notify

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

// ServeSSE handles GET /events?token=. It authenticates the token, registers
// a stream with the hub and writes envelopes as SSE data frames until the
// client disconnects or the hub closes the stream.
func ServeSSE(hub *Hub, logger *zap.Logger, jwtValidate func(token string) (userID, role string, err error)) gin.HandlerFunc {
	return func(c *gin.Context) {
		token := c.Query("token")
		if token == "" {
			c.JSON(http.StatusBadRequest, gin.H{"error": "token required"})
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

		flusher, ok := c.Writer.(http.Flusher)
		if !ok {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "streaming unsupported"})
			return
		}

		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		stream := NewStream(userID)
		if !hub.Register(stream) {
			// Flush the capacity error the hub queued, then end the response.
			drain(c.Writer, flusher, stream)
			return
		}
		defer hub.Unregister(stream)

		ctx := c.Request.Context()
		for {
			select {
			case <-ctx.Done():
				return
			case <-stream.Done():
				return
			case msg := <-stream.Events():
				if _, err := fmt.Fprintf(c.Writer, "data: %s\n\n", msg); err != nil {
					logger.Debug("sse write failed", zap.String("user_id", userID.String()), zap.Error(err))
					return
				}
				flusher.Flush()
			}
		}
	}
}

func drain(w http.ResponseWriter, flusher http.Flusher, s *Stream) {
	for {
		select {
		case msg := <-s.send:
			if _, err := fmt.Fprintf(w, "data: %s\n\n", msg); err != nil {
				return
			}
			flusher.Flush()
		default:
			return
		}
	}
}
