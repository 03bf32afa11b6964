package router

import (
	"context"
	stdjson "encoding/json"
	"time"

	"github.com/rs/zerolog"

	"github.com/relayhub/orchestratord/internal/auth"
	"github.com/relayhub/orchestratord/internal/codec"
	"github.com/relayhub/orchestratord/internal/errs"
	"github.com/relayhub/orchestratord/internal/ratelimit"
	"github.com/relayhub/orchestratord/internal/registry"
	"github.com/relayhub/orchestratord/internal/subscription"
	"github.com/relayhub/orchestratord/internal/trace"
)

// Invoker is the narrow view of the rpc package's Handler the router
// needs, kept as an interface so router tests can substitute a fake.
type Invoker interface {
	Invoke(ctx registry.HandlerContext, method string, params []byte) (any, *errs.Error)
}

// Router is the orchestrating core: one instance shared by every
// connection, holding no per-connection state itself (that lives on
// Connection and in the Hub).
type Router struct {
	codec   *codec.Codec
	authn   *auth.Authenticator
	limiter *ratelimit.RateLimiter
	handler Invoker
	subs    *subscription.Manager
	tracer  *trace.Tracer
	hub     *Hub

	log zerolog.Logger
}

func New(c *codec.Codec, a *auth.Authenticator, rl *ratelimit.RateLimiter, h Invoker, subs *subscription.Manager, tr *trace.Tracer, hub *Hub, log zerolog.Logger) *Router {
	return &Router{codec: c, authn: a, limiter: rl, handler: h, subs: subs, tracer: tr, hub: hub, log: log}
}

// Accept runs connect-time authentication and transitions the connection
// to READY, or CLOSING on auth failure. The caller (internal/transport)
// is responsible for actually closing the socket when ok is false.
func (r *Router) Accept(conn *Connection, hs auth.Handshake) (ok bool, failFrame []byte) {
	id, fail := r.authn.AuthenticateConnect(hs, time.Now())
	if fail != nil {
		r.log.Warn().Str("remoteAddr", hs.RemoteAddr).Str("reason", string(fail.Code)).Msg("connect auth failed")
		conn.setState(StateClosing)
		f := codec.Frame{Type: codec.TypeResponse, OK: false, Error: authFailureFrame(fail)}
		b, _ := r.codec.EncodeText(f)
		return false, b
	}
	conn.SetIdentity(id)
	conn.setState(StateReady)
	r.hub.Register(conn)
	r.log.Debug().Str("connId", conn.ID).Str("clientId", id.ClientID).Str("method", id.Method).Msg("connection ready")
	return true, nil
}

// Disconnect releases every resource the router holds for conn: its
// rate-limit bucket, subscriptions, and hub registration.
func (r *Router) Disconnect(conn *Connection) {
	conn.setState(StateClosed)
	r.limiter.Forget(conn.ID)
	r.subs.Disconnect(conn.ID)
	r.hub.Unregister(conn.ID)
}

// HandleText processes one inbound text message end to end: size check,
// decode, and per-frame rate-limit/auth/dispatch, returning the bytes to
// write back (possibly empty, possibly several frames worth for a
// batch). When fatal is true the connection must be closed with
// closeReason.
func (r *Router) HandleText(ctx context.Context, conn *Connection, raw []byte) (out []byte, closeReason errs.Code, fatal bool) {
	if !r.codec.IsWithinSizeLimit(int64(len(raw))) {
		return nil, errs.PayloadTooLarge, true
	}
	conn.Touch()

	format := DetectFormat(raw)
	toDecode := raw
	var rawID stdjson.RawMessage
	if format == FormatJSONRPC2 || format == FormatLegacyV1 {
		frame, id, terr := ToNativeFrame(raw, format)
		if terr != nil {
			f := codec.Frame{Type: codec.TypeResponse, OK: false, Error: &codec.FrameError{Code: string(errs.ParseError), Message: terr.Error()}}
			b, _ := FromNativeFrame(f, format, nil)
			return b, "", false
		}
		rawID = id
		nb, merr := json.Marshal(frame)
		if merr != nil {
			f := codec.Frame{Type: codec.TypeResponse, OK: false, Error: &codec.FrameError{Code: string(errs.InternalError), Message: merr.Error()}}
			b, _ := FromNativeFrame(f, format, rawID)
			return b, "", false
		}
		toDecode = nb
	}

	decoded, err := r.codec.DecodeText(toDecode)
	if err != nil {
		f := codec.Frame{Type: codec.TypeResponse, OK: false, Error: &codec.FrameError{Code: string(errs.ParseError), Message: err.Error()}}
		b, _ := FromNativeFrame(f, format, rawID)
		return b, "", false
	}

	var responses []codec.Frame
	for _, d := range decoded.Errors {
		responses = append(responses, codec.Frame{
			Type: codec.TypeResponse, OK: false,
			Error: &codec.FrameError{Code: string(errs.InvalidRequest), Message: d.Reason},
		})
	}
	for _, f := range decoded.Frames {
		responses = append(responses, r.dispatchFrame(ctx, conn, f))
	}

	if len(responses) == 0 {
		return nil, "", false
	}
	if len(responses) == 1 && !decoded.IsBatch {
		b, encErr := FromNativeFrame(responses[0], format, rawID)
		if encErr != nil {
			return nil, errs.InternalError, false
		}
		return b, "", false
	}
	b, encErr := r.codec.EncodeBatch(responses)
	if encErr != nil {
		return nil, errs.InternalError, false
	}
	return b, "", false
}

// dispatchFrame runs rate-limit, identity-expiry check, tracing, and rpc dispatch for a
// single decoded request frame, always returning a Response frame.
func (r *Router) dispatchFrame(ctx context.Context, conn *Connection, f codec.Frame) codec.Frame {
	if f.Type != codec.TypeRequest {
		return codec.Frame{Type: codec.TypeResponse, ID: f.ID, OK: false, Error: &codec.FrameError{Code: string(errs.InvalidRequest), Message: "only request frames may be dispatched"}}
	}

	decision := r.limiter.Consume(conn.ID, f.Method, time.Now())
	if !decision.Allowed {
		return codec.Frame{Type: codec.TypeResponse, ID: f.ID, OK: false, Error: &codec.FrameError{
			Code: string(errs.RateLimited), Message: "rate limit exceeded",
			Data: map[string]any{"retryAfterMs": decision.RetryAfterMs},
		}}
	}

	identity := conn.Identity()
	if identity.Expired(time.Now()) {
		return codec.Frame{Type: codec.TypeResponse, ID: f.ID, OK: false, Error: &codec.FrameError{Code: string(errs.AuthRequired), Message: "identity expired"}}
	}

	tc, span := r.tracer.StartRoot(f.Method)
	status := trace.StatusOK
	defer func() {
		r.tracer.End(span, status)
	}()

	hctx := registry.HandlerContext{
		Context:      ctx,
		Identity:     identity,
		ConnID:       conn.ID,
		TraceContext: tc,
		Sink:         &connectionSink{conn: conn, codec: r.codec},
	}

	result, rerr := r.handler.Invoke(hctx, f.Method, f.Params)
	if rerr != nil {
		status = trace.StatusError
		return codec.Frame{Type: codec.TypeResponse, ID: f.ID, OK: false, Error: &codec.FrameError{Code: string(rerr.Code), Message: rerr.Message, Data: rerr.Details}}
	}

	payload, encErr := json.Marshal(result)
	if encErr != nil {
		return codec.Frame{Type: codec.TypeResponse, ID: f.ID, OK: false, Error: &codec.FrameError{Code: string(errs.InternalError), Message: encErr.Error()}}
	}
	return codec.Frame{Type: codec.TypeResponse, ID: f.ID, OK: true, Payload: payload}
}

// connectionSink adapts a Connection into a registry.SubscriptionSink,
// letting a streaming handler push Event frames directly to its caller
// ahead of the Response frame.
type connectionSink struct {
	conn  *Connection
	codec *codec.Codec
}

func (s *connectionSink) Emit(event string, payload any) {
	b, err := json.Marshal(payload)
	if err != nil {
		return
	}
	frame := codec.Frame{Type: codec.TypeEvent, Event: event, Payload: b}
	out, err := s.codec.EncodeText(frame)
	if err != nil {
		return
	}
	_ = s.conn.Enqueue(out)
}

// HandleBinary decodes a binary frame, gunzips its payload when the
// compressed flag is set, and appends it to the stream buffer for its
// correlationId, returning the accumulated bytes once the final chunk
// arrives. A frame without the chunked flag is treated as a complete
// single-shot frame.
func (r *Router) HandleBinary(conn *Connection, raw []byte) (payload []byte, correlationID string, done bool, err error) {
	bf, derr := r.codec.DecodeBinary(raw)
	if derr != nil {
		return nil, "", false, derr
	}
	conn.Touch()
	corrID := bf.CorrelationID.String()

	body := bf.Payload
	if bf.Compressed() {
		body, err = codec.Decompress(body, codec.Gzip)
		if err != nil {
			return nil, corrID, false, err
		}
	}

	if !bf.Chunked() {
		return body, corrID, true, nil
	}

	data, isDone := conn.appendChunk(corrID, body, bf.Final())
	return data, corrID, isDone, nil
}

func authFailureFrame(fail *auth.Failure) *codec.FrameError {
	code := errs.AuthInvalid
	switch fail.Code {
	case auth.CredentialsMissing, auth.MessageCredentialsMissing:
		code = errs.AuthRequired
	}
	return &codec.FrameError{Code: string(code), Message: fail.Error()}
}
