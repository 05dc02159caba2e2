package server

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gorilla/websocket"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true // Be careful with this in production
	},
}

// Message is the websocket envelope, both directions. Incoming messages are
// queries; outgoing types are "sources", "chunk", "done" and "error".
type Message struct {
	Type    string `json:"type"`
	Content string `json:"content"`
	Data    any    `json:"data,omitempty"`
}

func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Printf("server: websocket upgrade failed: %v", err)
		return
	}
	defer conn.Close()

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			return
		}

		var msg Message
		if err := json.Unmarshal(raw, &msg); err != nil {
			s.sendMessage(conn, "error", "invalid message", nil)
			continue
		}
		if msg.Type != "query" || msg.Content == "" {
			s.sendMessage(conn, "error", "expected a query message with content", nil)
			continue
		}

		s.streamAnswer(conn, r, msg.Content)
	}
}

func (s *Server) streamAnswer(conn *websocket.Conn, r *http.Request, question string) {
	sources, out, errs, err := s.answerer.AnswerStream(r.Context(), question, s.config.TopK)
	if err != nil {
		s.sendMessage(conn, "error", err.Error(), nil)
		return
	}

	s.sendMessage(conn, "sources", "", sources)
	for fragment := range out {
		s.sendMessage(conn, "chunk", fragment, nil)
	}
	if streamErr := <-errs; streamErr != nil {
		s.sendMessage(conn, "error", streamErr.Error(), nil)
		return
	}
	s.sendMessage(conn, "done", "", nil)
}

func (s *Server) sendMessage(conn *websocket.Conn, msgType, content string, data any) {
	if err := conn.WriteJSON(Message{Type: msgType, Content: content, Data: data}); err != nil {
		log.Printf("server: websocket write failed: %v", err)
	}
}
