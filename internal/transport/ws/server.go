package ws

import (
	"context"
	"encoding/json"
	"io"
	"log"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"geik.xyz/farmer/internal/event"
	"geik.xyz/farmer/internal/protocol"
)

// Host is the add-on side of the bridge.
type Host interface {
	// Ready reports whether events may be delivered.
	Ready() bool
	Welcome() protocol.WelcomeMsg
	Publish(ctx context.Context, ev event.Event) error
}

// Server accepts game-server connections on /v1/host. Each connection sends
// HELLO, receives WELCOME, then streams EVENTs and gets one ACK per EVENT.
type Server struct {
	host Host
	log  *log.Logger

	upgrader websocket.Upgrader

	mu     sync.Mutex
	conns  map[*session]struct{}
	closed bool
}

type session struct {
	id   string
	name string
	out  chan []byte
	conn *websocket.Conn
}

func NewServer(host Host, logger *log.Logger) *Server {
	if logger == nil {
		logger = log.New(io.Discard, "", 0)
	}
	return &Server{
		host: host,
		log:  logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // game servers are not browsers
		},
		conns: map[*session]struct{}{},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		sess := s.handshake(conn)
		if sess == nil {
			return
		}
		if !s.track(sess) {
			closeWith(conn, websocket.CloseGoingAway, "shutting down")
			return
		}
		defer s.untrack(sess)
		s.log.Printf("ws: host %s connected (session %s)", sess.name, sess.id)

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		// Writer goroutine.
		go func() {
			for {
				select {
				case <-ctx.Done():
					return
				case b, ok := <-sess.out:
					if !ok {
						return
					}
					_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
					if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
						cancel()
						return
					}
				}
			}
		}()

		// Reader loop. Events are handled in arrival order.
		for {
			_ = conn.SetReadDeadline(time.Now().Add(60 * time.Second))
			_, msg, err := conn.ReadMessage()
			if err != nil {
				cancel()
				break
			}
			ack, ok := s.handleMessage(ctx, msg)
			if !ok {
				continue
			}
			b, _ := json.Marshal(ack)
			select {
			case sess.out <- b:
			case <-ctx.Done():
			}
		}
		s.log.Printf("ws: host %s disconnected", sess.name)
	}
}

func (s *Server) handleMessage(ctx context.Context, msg []byte) (protocol.AckMsg, bool) {
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeEvent {
		return protocol.AckMsg{}, false
	}
	var em protocol.EventMsg
	if err := json.Unmarshal(msg, &em); err != nil {
		return nack(0, protocol.ErrProtoBadRequest, "malformed EVENT"), true
	}
	if em.ProtocolVersion != protocol.Version {
		return nack(em.Seq, protocol.ErrProtoBadRequest, "bad protocol_version"), true
	}
	if err := protocol.Validate(protocol.TypeEvent, msg); err != nil {
		return nack(em.Seq, protocol.ErrBadRequest, err.Error()), true
	}
	if !s.host.Ready() {
		return nack(em.Seq, protocol.ErrNotReady, "add-on is not ready"), true
	}
	if err := s.host.Publish(ctx, em.Event); err != nil {
		s.log.Printf("ws: event %d %s: %v", em.Seq, em.Event.Type, err)
		return nack(em.Seq, protocol.ErrRejected, err.Error()), true
	}
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          em.Seq,
		Accepted:        true,
	}, true
}

func nack(seq uint64, code, msg string) protocol.AckMsg {
	return protocol.AckMsg{
		Type:            protocol.TypeAck,
		ProtocolVersion: protocol.Version,
		AckFor:          seq,
		Code:            code,
		Message:         msg,
	}
}

func (s *Server) handshake(conn *websocket.Conn) *session {
	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return nil
	}

	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closeWith(conn, websocket.ClosePolicyViolation, "expected HELLO")
		return nil
	}
	if base.ProtocolVersion != protocol.Version {
		closeWith(conn, websocket.ClosePolicyViolation, "bad protocol_version")
		return nil
	}
	if err := protocol.Validate(protocol.TypeHello, msg); err != nil {
		closeWith(conn, websocket.ClosePolicyViolation, "bad HELLO")
		return nil
	}
	var hello protocol.HelloMsg
	if err := json.Unmarshal(msg, &hello); err != nil {
		return nil
	}

	sess := &session{
		id:   uuid.NewString(),
		name: strings.TrimSpace(hello.ServerName),
		out:  make(chan []byte, 64),
		conn: conn,
	}
	welcome := s.host.Welcome()
	welcome.Type = protocol.TypeWelcome
	welcome.ProtocolVersion = protocol.Version
	welcome.SessionID = sess.id
	if err := writeJSON(conn, welcome); err != nil {
		return nil
	}
	return sess
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func (s *Server) track(sess *session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return false
	}
	s.conns[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *session) {
	s.mu.Lock()
	delete(s.conns, sess)
	s.mu.Unlock()
}

// Close says goodbye to every host and closes their connections. Hosts that
// finish the handshake afterwards are turned away. http.Server.Shutdown does
// not do this because the connections are hijacked.
func (s *Server) Close() {
	s.mu.Lock()
	s.closed = true
	conns := make([]*websocket.Conn, 0, len(s.conns))
	for sess := range s.conns {
		conns = append(conns, sess.conn)
	}
	s.mu.Unlock()

	for _, c := range conns {
		closeWith(c, websocket.CloseGoingAway, "shutting down")
		_ = c.Close()
	}
}

// Connected is the number of live host sessions.
func (s *Server) Connected() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Notify sends a player message to every connected host. Slow hosts drop
// messages rather than block gameplay.
func (s *Server) Notify(playerID, message string) {
	b, err := json.Marshal(protocol.NotifyMsg{
		Type:            protocol.TypeNotify,
		ProtocolVersion: protocol.Version,
		PlayerID:        playerID,
		Message:         message,
	})
	if err != nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for sess := range s.conns {
		select {
		case sess.out <- b:
		default:
			s.log.Printf("ws: host %s queue full, dropped notify for %s", sess.name, playerID)
		}
	}
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
