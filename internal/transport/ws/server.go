package ws

import (
	"context"
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"voxelspeaker.ai/internal/protocol"
	"voxelspeaker.ai/internal/sim/catalogs"
	"voxelspeaker.ai/internal/sim/speaker"
	"voxelspeaker.ai/internal/sim/tuning"
	"voxelspeaker.ai/internal/sim/world"
)

const (
	defaultReadTimeout = 60 * time.Second
	// Pings go out well inside the peer's read timeout.
	defaultPingEvery = defaultReadTimeout * 9 / 10
)

type Server struct {
	world  *world.World
	log    *log.Logger
	limits tuning.Transport

	// readTimeout is pushed forward by every frame, pings and pongs included.
	// pingEvery <= 0 disables server pings to listeners.
	readTimeout time.Duration
	pingEvery   time.Duration

	upgrader websocket.Upgrader
}

func NewServer(w *world.World, limits tuning.Transport, logger *log.Logger) *Server {
	return &Server{
		world:  w,
		log:    logger,
		limits: limits,

		readTimeout: defaultReadTimeout,
		pingEvery:   defaultPingEvery,

		upgrader: websocket.Upgrader{
			ReadBufferSize:  16 * 1024,
			WriteBufferSize: 16 * 1024,
			CheckOrigin:     func(r *http.Request) bool { return true }, // dev default
		},
	}
}

func (s *Server) Handler() http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		conn, err := s.upgrader.Upgrade(rw, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		s.keepAlive(conn)

		hello, ok := s.readHello(conn)
		if !ok {
			return
		}
		sessionID := uuid.NewString()

		switch hello.Role {
		case protocol.RoleComputer:
			s.serveComputer(conn, sessionID, hello)
		case protocol.RoleListener:
			s.serveListener(conn, sessionID, hello)
		}
	}
}

// keepAlive extends the read deadline on control frames, which gorilla
// consumes inside ReadMessage without returning.
func (s *Server) keepAlive(conn *websocket.Conn) {
	conn.SetPingHandler(func(data string) error {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(time.Second))
		if err == websocket.ErrCloseSent {
			return nil
		}
		if ne, ok := err.(interface{ Temporary() bool }); ok && ne.Temporary() {
			return nil
		}
		return err
	})
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	})
}

func (s *Server) readHello(conn *websocket.Conn) (protocol.HelloMsg, bool) {
	var hello protocol.HelloMsg

	_ = conn.SetReadDeadline(time.Now().Add(5 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		return hello, false
	}
	base, err := protocol.DecodeBase(msg)
	if err != nil || base.Type != protocol.TypeHello {
		closePolicy(conn, "expected HELLO")
		return hello, false
	}
	if err := json.Unmarshal(msg, &hello); err != nil {
		closePolicy(conn, "bad HELLO")
		return hello, false
	}
	if hello.ProtocolVersion != protocol.Version {
		closePolicy(conn, "bad protocol_version")
		return hello, false
	}
	if hello.Role != protocol.RoleComputer && hello.Role != protocol.RoleListener {
		closePolicy(conn, "bad role")
		return hello, false
	}
	return hello, true
}

func (s *Server) welcome(sessionID, role, speakerID string) protocol.WelcomeMsg {
	cfg := s.world.Config()
	cats := s.world.Catalogs()
	return protocol.WelcomeMsg{
		Type:            protocol.TypeWelcome,
		ProtocolVersion: protocol.Version,
		SessionID:       sessionID,
		Role:            role,
		SpeakerID:       speakerID,
		WorldParams: protocol.WorldParams{
			WorldID:               cfg.ID,
			TickRateHz:            cfg.TickRateHz,
			MaxNotesPerTick:       cfg.Speaker.MaxNotesPerTick,
			MinTicksBetweenSounds: cfg.Speaker.MinTicksBetweenSounds,
		},
		CatalogDigest: cats.Sounds.Digest,
		Instruments:   cats.Sounds.Names,
	}
}

// serveComputer runs the request loop for a scripted computer. Speaker calls run
// on this goroutine, concurrently with the world loop.
func (s *Server) serveComputer(conn *websocket.Conn, sessionID string, hello protocol.HelloMsg) {
	var sp *speaker.Speaker
	if id := strings.TrimSpace(hello.SpeakerID); id != "" {
		found, ok := s.world.Speaker(id)
		if !ok {
			closePolicy(conn, "unknown speaker_id")
			return
		}
		sp = found
	} else {
		sp = s.world.PlaceSpeaker(catalogs.Vec3{X: hello.Pos[0], Y: hello.Pos[1], Z: hello.Pos[2]})
	}

	if err := writeJSON(conn, s.welcome(sessionID, protocol.RoleComputer, sp.ID())); err != nil {
		return
	}
	s.log.Printf("computer connected session=%s speaker=%s name=%q", sessionID, sp.ID(), hello.Name)
	defer s.log.Printf("computer disconnected session=%s speaker=%s", sessionID, sp.ID())

	// A removed speaker ends the session.
	sessionDone := make(chan struct{})
	defer close(sessionDone)
	go func() {
		select {
		case <-sp.Done():
			closeWith(conn, websocket.CloseGoingAway, "speaker removed")
			_ = conn.Close()
		case <-sessionDone:
		}
	}()

	lim := s.newLimiter()
	for {
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		base, err := protocol.DecodeBase(msg)
		if err != nil {
			continue
		}
		var res protocol.ResultMsg
		if lim != nil && !lim.Allow() {
			res = s.result(reqIDOf(msg), false, protocol.ErrRateLimit, "too many requests")
		} else {
			res = s.call(sp, base, msg)
		}
		if err := writeJSON(conn, res); err != nil {
			return
		}
	}
}

func (s *Server) newLimiter() *rate.Limiter {
	if s.limits.MsgsPerSecond <= 0 {
		return nil
	}
	burst := s.limits.Burst
	if burst <= 0 {
		burst = 1
	}
	return rate.NewLimiter(rate.Limit(s.limits.MsgsPerSecond), burst)
}

func (s *Server) call(sp *speaker.Speaker, base protocol.BaseMessage, msg []byte) protocol.ResultMsg {
	if base.ProtocolVersion != protocol.Version {
		return s.result(reqIDOf(msg), false, protocol.ErrProtoBadRequest, "bad protocol_version")
	}
	switch base.Type {
	case protocol.TypePlaySound:
		var m protocol.PlaySoundMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.result(reqIDOf(msg), false, protocol.ErrBadRequest, "bad PLAY_SOUND")
		}
		if m.Name == "" {
			return s.result(m.ReqID, false, protocol.ErrBadRequest, "missing name")
		}
		played, err := sp.PlaySound(m.Name, protocol.OrDefault(m.Volume, 1), protocol.OrDefault(m.Pitch, 1))
		return s.resultFor(m.ReqID, played, err)

	case protocol.TypePlayNote:
		var m protocol.PlayNoteMsg
		if err := json.Unmarshal(msg, &m); err != nil {
			return s.result(reqIDOf(msg), false, protocol.ErrBadRequest, "bad PLAY_NOTE")
		}
		if m.Instrument == "" {
			return s.result(m.ReqID, false, protocol.ErrBadRequest, "missing instrument")
		}
		played, err := sp.PlayNote(m.Instrument, protocol.OrDefault(m.Volume, 1), protocol.OrDefault(m.Pitch, 1))
		return s.resultFor(m.ReqID, played, err)

	default:
		return s.result(reqIDOf(msg), false, protocol.ErrProtoBadRequest, "unsupported type "+base.Type)
	}
}

func (s *Server) resultFor(reqID string, played bool, err error) protocol.ResultMsg {
	if err == nil {
		return s.result(reqID, played, "", "")
	}
	if errors.Is(err, speaker.ErrInvalidArgument) {
		return s.result(reqID, false, protocol.ErrInvalidArgument, err.Error())
	}
	s.log.Printf("speaker call failed req=%s: %v", reqID, err)
	return s.result(reqID, false, protocol.ErrInternal, "internal error")
}

func (s *Server) result(reqID string, played bool, code, message string) protocol.ResultMsg {
	return protocol.ResultMsg{
		Type:            protocol.TypeResult,
		ProtocolVersion: protocol.Version,
		ReqID:           reqID,
		Played:          played,
		Code:            code,
		Message:         message,
		ServerTick:      s.world.CurrentTick(),
	}
}

func (s *Server) serveListener(conn *websocket.Conn, sessionID string, hello protocol.HelloMsg) {
	maxQ := hello.MaxQueue
	if maxQ <= 0 {
		maxQ = 32
	}
	if maxQ > 256 {
		maxQ = 256
	}
	out := make(chan []byte, maxQ)

	respCh := make(chan world.JoinResponse, 1)
	select {
	case s.world.Join() <- world.JoinRequest{
		Name: hello.Name,
		Pos:  catalogs.Vec3{X: hello.Pos[0], Y: hello.Pos[1], Z: hello.Pos[2]},
		Out:  out,
		Resp: respCh,
	}:
	case <-time.After(5 * time.Second):
		closePolicy(conn, "world busy")
		return
	}
	var resp world.JoinResponse
	select {
	case resp = <-respCh:
	case <-time.After(5 * time.Second):
		closePolicy(conn, "world busy")
		return
	}
	defer func() {
		select {
		case s.world.Leave() <- resp.ListenerID:
		case <-time.After(time.Second):
		}
	}()

	if err := writeJSON(conn, s.welcome(sessionID, protocol.RoleListener, "")); err != nil {
		return
	}
	s.log.Printf("listener connected session=%s listener=%s", sessionID, resp.ListenerID)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Writer goroutine; also pings so idle listeners stay connected.
	go func() {
		var pings <-chan time.Time
		if s.pingEvery > 0 {
			t := time.NewTicker(s.pingEvery)
			defer t.Stop()
			pings = t.C
		}
		for {
			select {
			case <-ctx.Done():
				return
			case <-pings:
				if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(5*time.Second)); err != nil {
					cancel()
					return
				}
			case b := <-out:
				_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
				if err := conn.WriteMessage(websocket.TextMessage, b); err != nil {
					cancel()
					return
				}
			}
		}
	}()

	// Listeners send nothing but control frames; keepAlive moves the deadline
	// for those, and ReadMessage returning is how disconnects surface.
	_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
		_ = conn.SetReadDeadline(time.Now().Add(s.readTimeout))
	}
}

func reqIDOf(msg []byte) string {
	var m struct {
		ReqID string `json:"req_id"`
	}
	_ = json.Unmarshal(msg, &m)
	return m.ReqID
}

func closePolicy(conn *websocket.Conn, reason string) {
	closeWith(conn, websocket.ClosePolicyViolation, reason)
}

func closeWith(conn *websocket.Conn, code int, reason string) {
	_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(code, reason), time.Now().Add(time.Second))
}

func writeJSON(conn *websocket.Conn, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	_ = conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return conn.WriteMessage(websocket.TextMessage, b)
}
