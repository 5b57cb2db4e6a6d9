package server

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"github.com/nixxel-company-limited/thermal-receipt-server/adapter"
	"github.com/nixxel-company-limited/thermal-receipt-server/session"
)

const (
	eventBuffer = 32
	writeWait   = 5 * time.Second
	pingPeriod  = 30 * time.Second
)

// eventMessage is the JSON form of a session event
type eventMessage struct {
	Type  string       `json:"type"`
	Kind  adapter.Kind `json:"kind"`
	State string       `json:"state,omitempty"`
	Bytes int          `json:"bytes,omitempty"`
	Error string       `json:"error,omitempty"`
	Time  time.Time    `json:"time"`
}

func newEventMessage(e session.Event) eventMessage {
	msg := eventMessage{
		Type:  e.Type.String(),
		Kind:  e.Kind,
		Bytes: e.Bytes,
		Time:  e.Time,
	}
	if e.Err != nil {
		msg.Error = e.Err.Error()
	}
	return msg
}

// events streams session events to a websocket client until it goes away
func (a *API) events(c *gin.Context) {
	ws, err := a.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		a.logger.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	events, cancel := a.session.Subscribe(eventBuffer)
	defer cancel()

	// the read side only detects the client going away
	closed := make(chan struct{})
	go func() {
		defer close(closed)
		for {
			if _, _, err := ws.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer ws.Close()

	client := ws.RemoteAddr().String()
	a.logger.Debug().Str("client", client).Msg("event stream opened")

	// initial status so clients need not poll first
	st := a.session.Status()
	if err := a.writeEvent(ws, eventMessage{Type: "status", Kind: st.Kind, State: st.State, Time: a.now()}); err != nil {
		return
	}

	for {
		select {
		case <-closed:
			a.logger.Debug().Str("client", client).Msg("event stream closed")
			return
		case e, ok := <-events:
			if !ok {
				return
			}
			if err := a.writeEvent(ws, newEventMessage(e)); err != nil {
				a.logger.Debug().Err(err).Str("client", client).Msg("event write failed")
				return
			}
		case <-ticker.C:
			if err := ws.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (a *API) writeEvent(ws *websocket.Conn, msg eventMessage) error {
	if err := ws.SetWriteDeadline(time.Now().Add(writeWait)); err != nil {
		return err
	}
	return ws.WriteJSON(msg)
}
