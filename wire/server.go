package wire

import (
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/xraph/forge"

	"github.com/invenflow/jobcore/stream"
)

// Server exposes the frame protocol over WebSocket, SSE, and one-shot
// HTTP RPC. Requests are dispatched to the Handler; lifecycle events
// published on the stream broker are forwarded to subscribed sessions.
type Server struct {
	broker       *stream.Broker
	handler      *Handler
	auth         Authenticator
	defaultCodec Codec
	sessions     *SessionTable
	logger       *slog.Logger
	basePath     string
}

// NewServer creates a wire server bridging the handler and broker.
func NewServer(broker *stream.Broker, handler *Handler, opts ...Option) *Server {
	s := &Server{
		broker:       broker,
		handler:      handler,
		defaultCodec: JSON,
		sessions:     NewSessionTable(),
		logger:       slog.Default(),
		basePath:     "/wire",
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.auth == nil {
		s.auth = &NoopAuthenticator{}
	}
	return s
}

// Broker returns the underlying stream broker.
func (s *Server) Broker() *stream.Broker { return s.broker }

// Sessions returns the live session table.
func (s *Server) Sessions() *SessionTable { return s.sessions }

// RegisterRoutes mounts the wire endpoints on a Forge router.
func (s *Server) RegisterRoutes(router forge.Router) {
	if err := router.WebSocket(s.basePath, s.serveSocket); err != nil {
		s.logger.Error("wire: register WebSocket route", slog.String("error", err.Error()))
	}
	// SSE carries subscriptions only, for clients that cannot hold a
	// WebSocket open.
	if err := router.EventStream(s.basePath+"/sse", s.serveEventStream); err != nil {
		s.logger.Error("wire: register SSE route", slog.String("error", err.Error()))
	}
	if err := router.POST(s.basePath+"/rpc", s.serveRPC); err != nil {
		s.logger.Error("wire: register RPC route", slog.String("error", err.Error()))
	}
}

// handshake reads and validates the auth frame, authenticates the
// caller, and negotiates the session codec. Error frames written here
// are best effort; the transport is torn down right after.
func (s *Server) handshake(ctx forge.Context, conn forge.Connection) (*Session, string, error) {
	raw, err := conn.Read()
	if err != nil {
		return nil, "", fmt.Errorf("wire: read auth frame: %w", err)
	}

	// The auth frame is always JSON; the negotiated codec applies only
	// to subsequent frames.
	var authFrame Frame
	if err := json.Unmarshal(raw, &authFrame); err != nil {
		conn.WriteJSON(NewErrorFrame("", ErrCodeBadRequest, "invalid auth frame")) //nolint:errcheck
		return nil, "", fmt.Errorf("wire: unmarshal auth frame: %w", err)
	}
	if authFrame.Method != MethodAuth {
		conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "first frame must be auth")) //nolint:errcheck
		return nil, "", fmt.Errorf("wire: expected auth frame, got %q", authFrame.Method)
	}

	var authReq AuthRequest
	if len(authFrame.Data) > 0 {
		if err := json.Unmarshal(authFrame.Data, &authReq); err != nil {
			conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeBadRequest, "invalid auth data")) //nolint:errcheck
			return nil, "", err
		}
	}

	token := authReq.Token
	if token == "" {
		token = authFrame.Token
	}
	identity, err := s.auth.Authenticate(ctx.Context(), token)
	if err != nil {
		conn.WriteJSON(NewErrorFrame(authFrame.ID, ErrCodeUnauthorized, "authentication failed")) //nolint:errcheck
		return nil, "", fmt.Errorf("wire: auth failed: %w", err)
	}

	codec := s.defaultCodec
	if authReq.Format != "" {
		codec = CodecByName(authReq.Format)
	}
	return newSession(conn.ID(), identity, codec), authFrame.ID, nil
}

// serveSocket owns one WebSocket connection for its whole life:
// handshake, frame loop, and teardown.
func (s *Server) serveSocket(ctx forge.Context, conn forge.Connection) error {
	sess, authFrameID, err := s.handshake(ctx, conn)
	if err != nil {
		return err
	}

	s.sessions.Put(sess)
	defer func() {
		s.broker.RemoveSubscriber(sess.ID)
		s.sessions.Delete(sess.ID)
		s.logger.Info("wire session closed", slog.String("session_id", sess.ID))
	}()

	resp, err := NewResponseFrame(authFrameID, AuthResponse{
		Format:    sess.Codec.Name(),
		SessionID: sess.ID,
	})
	if err != nil {
		return fmt.Errorf("wire: marshal auth response: %w", err)
	}
	if err := s.writeFrame(conn, sess.Codec, resp); err != nil {
		return err
	}

	s.logger.Info("wire session opened",
		slog.String("session_id", sess.ID),
		slog.String("subject", sess.Identity.Subject),
		slog.String("tenant", sess.Tenant()),
		slog.String("codec", sess.Codec.Name()),
	)

	// Forward broker events to the socket for the session's topics.
	sub := s.broker.Subscribe(sess.ID)
	go s.pumpEvents(conn, sess.Codec, sub)

	for {
		data, err := conn.Read()
		if err != nil {
			return nil // transport closed
		}
		sess.Seen()

		frame, decErr := sess.Codec.Decode(data)
		if decErr != nil {
			s.reply(conn, sess.Codec, NewErrorFrame("", ErrCodeBadRequest, "invalid frame: "+decErr.Error()))
			continue
		}

		if frame.Type == FramePing {
			pong := newFrame(FramePong)
			pong.CorrelID = frame.ID
			pong.Timestamp = frame.Timestamp
			s.reply(conn, sess.Codec, pong)
			continue
		}

		if frame.Method != "" {
			if required := RequiredScope(frame.Method); required != "" && !sess.Identity.HasScope(required) {
				s.reply(conn, sess.Codec, NewErrorFrame(frame.ID, ErrCodeForbidden, "insufficient permissions"))
				continue
			}
		}

		if frame.Credits > 0 {
			sub.AddCredits(int64(frame.Credits))
			continue
		}

		resp := s.handler.Handle(ctx.Context(), frame, sess)
		if resp == nil {
			continue
		}

		// Subscribe/unsubscribe take effect only once the handler has
		// validated the topic and produced a success response.
		if resp.Type == FrameResponse {
			switch frame.Method {
			case MethodSubscribe:
				var req SubscribeRequest
				if json.Unmarshal(frame.Data, &req) == nil {
					s.broker.SubscribeTo(sess.ID, req.Channel)
					sess.Track(req.Channel)
				}
			case MethodUnsubscribe:
				var req UnsubscribeRequest
				if json.Unmarshal(frame.Data, &req) == nil {
					s.broker.Unsubscribe(sess.ID, req.Channel)
					sess.Drop(req.Channel)
				}
			}
		}

		s.reply(conn, sess.Codec, resp)
	}
}

// pumpEvents drains the subscriber channel into the socket until
// either side goes away.
func (s *Server) pumpEvents(conn forge.Connection, codec Codec, sub *stream.Subscriber) {
	for evt := range sub.C() {
		frame, err := NewEventFrame(evt.Topic, evt)
		if err != nil {
			continue
		}
		if err := s.writeFrame(conn, codec, frame); err != nil {
			return
		}
	}
}

// reply writes a frame, logging write failures instead of failing the
// session: the read loop notices a dead transport on its own.
func (s *Server) reply(conn forge.Connection, codec Codec, frame *Frame) {
	if err := s.writeFrame(conn, codec, frame); err != nil {
		s.logger.Warn("wire: write frame", slog.String("error", err.Error()))
	}
}

func (s *Server) writeFrame(conn forge.Connection, codec Codec, frame *Frame) error {
	if codec.Name() == CodecNameJSON {
		return conn.WriteJSON(frame)
	}
	data, err := codec.Encode(frame)
	if err != nil {
		return err
	}
	return conn.Write(data)
}

// serveEventStream serves a read-only SSE subscription to one channel.
func (s *Server) serveEventStream(ctx forge.Context, sseStream forge.Stream) error {
	identity, err := s.auth.Authenticate(ctx.Context(), ctx.Query("token"))
	if err != nil {
		return fmt.Errorf("wire: SSE auth failed: %w", err)
	}

	channel := ctx.Query("channel")
	if channel == "" {
		return fmt.Errorf("wire: SSE channel parameter required")
	}
	if err := stream.ValidateTopic(channel); err != nil {
		return err
	}
	if !identity.HasScope(ScopeSubscribe) && !identity.HasScope(ScopeAll) {
		return fmt.Errorf("wire: SSE insufficient permissions")
	}

	subID := "sse-" + uuid.NewString()
	sub := s.broker.Subscribe(subID, channel)
	defer s.broker.RemoveSubscriber(subID)

	for {
		select {
		case evt, ok := <-sub.C():
			if !ok {
				return nil
			}
			if err := sseStream.SendJSON(string(evt.Type), evt); err != nil {
				return err
			}
			if err := sseStream.Flush(); err != nil {
				return err
			}
		case <-sseStream.Context().Done():
			return nil
		}
	}
}

// serveRPC handles a single frame over plain HTTP. Useful for
// fire-and-forget submissions from environments without WebSocket.
func (s *Server) serveRPC(ctx forge.Context) error {
	var frame Frame
	if err := ctx.Bind(&frame); err != nil {
		return ctx.Status(400).JSON(NewErrorFrame("", ErrCodeBadRequest, "invalid request body"))
	}

	token := frame.Token
	if token == "" {
		token = ctx.Header("Authorization")
	}
	identity, err := s.auth.Authenticate(ctx.Context(), token)
	if err != nil {
		return ctx.Status(401).JSON(NewErrorFrame(frame.ID, ErrCodeUnauthorized, "unauthorized"))
	}
	if required := RequiredScope(frame.Method); required != "" && !identity.HasScope(required) {
		return ctx.Status(403).JSON(NewErrorFrame(frame.ID, ErrCodeForbidden, "forbidden"))
	}

	// A throwaway session carries the identity into the handler.
	sess := newSession("rpc-"+uuid.NewString(), identity, JSON)

	resp := s.handler.Handle(ctx.Context(), &frame, sess)
	if resp == nil {
		return ctx.NoContent(204)
	}

	status := 200
	if resp.Type == FrameErr && resp.Error != nil {
		status = resp.Error.Code
		if status < 100 || status > 599 {
			status = 500
		}
	}
	return ctx.Status(status).JSON(resp)
}
