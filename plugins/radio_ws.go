package plugins

import (
	"time"

	"github.com/gofiber/websocket/v2"
)

// statusStreamInterval is how often the websocket stream emits a snapshot.
const statusStreamInterval = time.Second

// handleStatusStream pushes a status snapshot over the websocket once a
// second until the client goes away. It never forces a hardware connect:
// an unconnected radio streams connected=false so a dashboard can sit on
// this endpoint while the board is powered off.
func (p *RadioPlugin) handleStatusStream(c *websocket.Conn) {
	done := make(chan struct{})

	// Drain client messages so the close frame is noticed.
	go func() {
		defer close(done)
		for {
			if _, _, err := c.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(statusStreamInterval)
	defer ticker.Stop()

	for {
		status, connected, err := p.statusSnapshot()

		msg := map[string]interface{}{
			"connected": connected,
			"status":    status,
		}
		if err != nil {
			msg["error"] = err.Error()
		}

		if err := c.WriteJSON(msg); err != nil {
			return
		}

		select {
		case <-done:
			return
		case <-ticker.C:
		}
	}
}
