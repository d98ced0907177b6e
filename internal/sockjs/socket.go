// Package sockjs is a client for the sockjs xhr_streaming transport: a
// long-polled POST whose body streams framed lines, plus a separate endpoint
// that commands are POSTed to.
package sockjs

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"strconv"
	"sync"

	"dashscrape/internal/components/assert"
	"dashscrape/internal/components/telemetry"
	"dashscrape/internal/fetch"
	"dashscrape/internal/linestream"

	"github.com/go-resty/resty/v2"
	"github.com/mazen160/go-random"
)

const (
	report_socket_connect = "socket.connect"
	report_socket_send    = "socket.send"
	report_socket_consume = "socket.consume"
	report_socket_close   = "socket.close"
)

var (
	// ErrDisconnected means the stream body ended while the socket was waiting on it.
	// A body cut off mid-read is reported the same way, wrapping the read error.
	ErrDisconnected = errors.New("sockjs: backend disconnected")
	// ErrTooManyRestarts is returned when the server keeps restarting the
	// session while a single exchange is pending.
	ErrTooManyRestarts = errors.New("sockjs: too many session restarts")

	// errRetry asks Send to issue the same query again.
	errRetry = errors.New("sockjs: retry exchange")
)

// ProtocolError is an error reported by the server that this client cannot recover from.
type ProtocolError struct {
	Code   int
	Reason string
	// PerExchange is set when the error came as a `|c|` sub-message instead of a close frame.
	PerExchange bool
}

func (e ProtocolError) Error() string {
	return fmt.Sprintf("sockjs: connection fatal error: %d - %s", e.Code, e.Reason)
}

type State int

const (
	StateUnconnected State = iota
	StateConnecting
	StateOpen
	StateClosing
)

func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	}
	return "unconnected"
}

// Validator recognizes the message that answers a pending exchange, messages
// carry no caller-chosen correlation id.
type Validator func(message map[string]any) bool

// Identifiers make up the endpoint prefix of one session.
type Identifiers struct {
	Nonce   string
	Session int
	Server  string
}

func (i Identifiers) prefix(baseUrl string) string {
	return fmt.Sprintf("%s/n=%s/%s/%s", baseUrl, i.Nonce, strconv.Itoa(i.Session), i.Server)
}

// GenerateIdentifiers returns a random 19 character nonce, a 4 digit session
// and a random 8 character server tag.
func GenerateIdentifiers() (Identifiers, error) {
	nonce, err := random.String(19)
	if err != nil {
		return Identifiers{}, err
	}
	server, err := random.String(8)
	if err != nil {
		return Identifiers{}, err
	}
	return Identifiers{
		Nonce:   nonce,
		Session: 1000 + rand.IntN(9000),
		Server:  server,
	}, nil
}

type Options struct {
	BaseUrl string
	// RestartCode is the close code the server uses to say the session must be
	// discarded and recreated with new identifiers.
	RestartCode int
	// SoftReconnects is how many times an exchange reconnects to the same
	// session and resends after the stream ended, before giving up.
	SoftReconnects int
	// ConnectAttempts bounds the attempts of a single connect.
	ConnectAttempts int
	// MaxRestarts bounds how many times one exchange is reissued because the
	// session was restarted underneath it.
	MaxRestarts int
	// Identifiers defaults to GenerateIdentifiers.
	Identifiers func() (Identifiers, error)
}

func DefaultOptions(baseUrl string) Options {
	return Options{
		BaseUrl:         baseUrl,
		RestartCode:     4705,
		SoftReconnects:  1,
		ConnectAttempts: 3,
		MaxRestarts:     5,
		Identifiers:     GenerateIdentifiers,
	}
}

type exchange struct {
	query    string
	validate Validator
}

// Socket owns one logical session. Only one exchange is in flight at a time.
type Socket struct {
	http    *resty.Client
	fetcher fetch.Fetcher
	opts    Options
	tel     telemetry.API

	// held for the whole duration of an exchange
	exchangeMutex sync.Mutex
	initial       []exchange

	// guards everything below
	mutex        sync.Mutex
	state        State
	urlStreaming string
	urlSend      string
	// established is set once the current identifiers got their open frame,
	// later connects are reconnects and are accepted by a heartbeat instead.
	established bool
	stream      *linestream.Stream
	cancel      context.CancelFunc
	connecting  chan struct{}
	connectErr  error
}

// NewSocket creates an unconnected socket. The stream is opened with `http`
// (which must not have a timeout), commands are sent through `fetcher`.
func NewSocket(http *resty.Client, fetcher fetch.Fetcher, opts Options, tel telemetry.API) (*Socket, error) {
	assert.NotNil(http)
	assert.NotNil(tel)
	assert.NotEmptyStr(opts.BaseUrl)

	if opts.Identifiers == nil {
		opts.Identifiers = GenerateIdentifiers
	}
	if opts.ConnectAttempts < 1 {
		opts.ConnectAttempts = 1
	}

	s := &Socket{
		http:    http,
		fetcher: fetcher,
		opts:    opts,
		tel:     telemetry.NewScopedAPI("sockjs", tel),
	}
	err := s.regenerate()
	if err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Socket) State() State {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	return s.state
}

func (s *Socket) regenerate() error {
	ids, err := s.opts.Identifiers()
	if err != nil {
		return fmt.Errorf("generate identifiers: %w", err)
	}
	prefix := ids.prefix(s.opts.BaseUrl)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	s.urlStreaming = prefix + "/xhr_streaming"
	s.urlSend = prefix + "/xhr_send"
	s.established = false
	return nil
}

// Connect opens the stream if it is not open yet. Callers arriving while a
// connect is in flight wait for it instead of starting another one.
func (s *Socket) Connect(ctx context.Context) error {
	var err error
	for i := 0; i < s.opts.ConnectAttempts; i++ {
		err = s.connect(ctx)
		if err == nil || ctx.Err() != nil {
			return err
		}
		s.tel.ReportWarning(report_socket_connect, err, "attempt", i+1)
	}
	s.tel.ReportBroken(report_socket_connect, err)
	return err
}

func (s *Socket) connect(ctx context.Context) error {
	s.mutex.Lock()
	switch s.state {
	case StateOpen:
		s.mutex.Unlock()
		return nil
	case StateConnecting:
		done := s.connecting
		s.mutex.Unlock()
		select {
		case <-done:
		case <-ctx.Done():
			return ctx.Err()
		}
		s.mutex.Lock()
		defer s.mutex.Unlock()
		return s.connectErr
	}
	s.state = StateConnecting
	s.connecting = make(chan struct{})
	reconnect := s.established
	streamUrl := s.urlStreaming
	s.mutex.Unlock()

	s.tel.ReportDebug("connect", streamUrl, "reconnect", reconnect)
	stream, cancel, err := s.openStream(ctx, streamUrl, reconnect)

	s.mutex.Lock()
	defer s.mutex.Unlock()
	if err != nil {
		s.state = StateUnconnected
	} else {
		s.state = StateOpen
		s.stream = stream
		s.cancel = cancel
		s.established = true
	}
	s.connectErr = err
	close(s.connecting)
	return err
}

func (s *Socket) openStream(ctx context.Context, streamUrl string, reconnect bool) (*linestream.Stream, context.CancelFunc, error) {
	// the stream outlives the call that opened it
	streamCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))

	res, err := s.http.R().
		SetContext(streamCtx).
		SetDoNotParseResponse(true).
		SetHeader("Connection", "keep-alive").
		Post(streamUrl)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("open stream: %w", err)
	}
	if res.StatusCode() < 200 || res.StatusCode() > 299 {
		res.RawBody().Close()
		cancel()
		return nil, nil, fetch.StatusError{
			Method:     http.MethodPost,
			Url:        streamUrl,
			StatusCode: res.StatusCode(),
			Status:     res.Status(),
		}
	}

	stream := linestream.New(res.RawBody())
	for {
		line, err := stream.Next(ctx)
		if errors.Is(err, linestream.ErrDone) {
			cancel()
			return nil, nil, fmt.Errorf("connect: %w", ErrDisconnected)
		}
		if err != nil {
			stream.Abort()
			cancel()
			return nil, nil, fmt.Errorf("connect: %w", err)
		}

		if reconnect && heartbeatRegex.MatchString(line) {
			return stream, cancel, nil
		}
		if !reconnect && line == "o" {
			return stream, cancel, nil
		}
	}
}

// Close cancels the stream read and resets the socket to unconnected, the
// next exchange will open a brand-new session stream.
func (s *Socket) Close() error {
	s.mutex.Lock()
	s.state = StateClosing
	cancel, stream := s.cancel, s.stream
	s.cancel, s.stream = nil, nil
	s.mutex.Unlock()

	if cancel != nil {
		cancel()
	}
	if stream != nil {
		// let the reader observe the abort, failing to do so does not keep the
		// socket from being closed
		stream.Abort()
		_, err := stream.Next(context.Background())
		if !errors.Is(err, linestream.ErrAborted) {
			s.tel.ReportDebug(report_socket_close, "stream did not report abort", err)
		}
	}

	s.mutex.Lock()
	s.state = StateUnconnected
	s.established = false
	s.mutex.Unlock()
	return nil
}

// dropStream forgets `stream` after it ended or failed, the identifiers are
// kept so the next connect is a reconnect.
func (s *Socket) dropStream(stream *linestream.Stream) {
	s.mutex.Lock()
	defer s.mutex.Unlock()
	if s.stream != stream {
		return
	}
	if s.cancel != nil {
		s.cancel()
	}
	s.stream = nil
	s.cancel = nil
	s.state = StateUnconnected
}

// Send sends `query` and waits for the first message accepted by `validate`,
// returning its raw JSON. If `initial` is set the exchange is remembered and
// replayed whenever the server restarts the session.
func (s *Socket) Send(ctx context.Context, query string, validate Validator, initial bool) (json.RawMessage, error) {
	assert.NotNil(validate)

	s.exchangeMutex.Lock()
	defer s.exchangeMutex.Unlock()

	if initial {
		s.initial = append(s.initial, exchange{query: query, validate: validate})
	}
	restarts := 0
	return s.send(ctx, query, validate, &restarts)
}

// send issues one exchange. `restarts` counts session restarts across the
// exchange and every initial exchange replayed on its behalf.
func (s *Socket) send(ctx context.Context, query string, validate Validator, restarts *int) (json.RawMessage, error) {
	softReconnects := s.opts.SoftReconnects
	for {
		err := s.Connect(ctx)
		if err != nil {
			return nil, err
		}
		err = s.post(ctx, query)
		if err != nil {
			return nil, err
		}

		body, err := s.consume(ctx, validate, restarts)
		switch {
		case errors.Is(err, errRetry):
			s.tel.ReportDebug("resend after session restart", *restarts)
			continue
		case errors.Is(err, ErrDisconnected) && softReconnects > 0:
			softReconnects--
			s.tel.ReportWarning(report_socket_send, err, "soft reconnect and resend")
			continue
		}
		return body, err
	}
}

func (s *Socket) post(ctx context.Context, query string) error {
	var payload bytes.Buffer
	encoder := json.NewEncoder(&payload)
	encoder.SetEscapeHTML(false)
	err := encoder.Encode([]string{query})
	if err != nil {
		return err
	}
	body := bytes.TrimSuffix(payload.Bytes(), []byte("\n"))

	s.mutex.Lock()
	sendUrl := s.urlSend
	s.mutex.Unlock()

	preview := query
	if len(preview) > 80 {
		preview = preview[:80]
	}
	s.tel.ReportDebug("send query", sendUrl, preview)

	_, err = s.fetcher.Do(ctx, http.MethodPost, sendUrl, func(req *resty.Request) {
		req.SetHeader("Content-Type", "text/plain").
			SetHeader("Connection", "keep-alive").
			SetBody(body)
	})
	if err != nil {
		s.tel.ReportBroken(report_socket_send, err, sendUrl)
		return fmt.Errorf("send: %w", err)
	}
	return nil
}

// consume reads lines until a payload message passes `validate`. It returns
// errRetry when the exchange must be sent again.
func (s *Socket) consume(ctx context.Context, validate Validator, restarts *int) (json.RawMessage, error) {
	s.mutex.Lock()
	stream := s.stream
	s.mutex.Unlock()
	if stream == nil {
		return nil, ErrDisconnected
	}

	for {
		line, err := stream.Next(ctx)
		if errors.Is(err, linestream.ErrDone) {
			s.dropStream(stream)
			return nil, ErrDisconnected
		}
		if err != nil {
			s.dropStream(stream)
			if errors.Is(err, linestream.ErrAborted) || ctx.Err() != nil {
				return nil, err
			}
			return nil, fmt.Errorf("%w: %w", ErrDisconnected, err)
		}

		frame, err := DecodeFrame(line)
		if err != nil {
			s.tel.ReportBroken(report_socket_consume, err)
			return nil, err
		}

		switch frame.Kind {
		case FramePayload:
			body, err := s.scanPayload(frame.Items, validate)
			if err != nil || body != nil {
				return body, err
			}
		case FrameOpen, FrameClose:
			return nil, s.handleProtocolError(ctx, frame, restarts)
		default:
			s.tel.ReportDebug("skip frame", frame.Kind.String())
		}
	}
}

func (s *Socket) scanPayload(items []string, validate Validator) (json.RawMessage, error) {
	for _, item := range items {
		msg, err := DecodeMessage(item)
		if err != nil {
			s.tel.ReportBroken(report_socket_consume, err)
			return nil, err
		}

		switch msg.Kind {
		case MessageData:
			var value map[string]any
			err := json.Unmarshal(msg.Body, &value)
			if err != nil {
				return nil, DecodeError{Line: item, Err: err}
			}
			if validate(value) {
				return msg.Body, nil
			}
			s.tel.ReportDebug("message not validated")
		case MessageError:
			err := ProtocolError{Code: msg.Code, Reason: msg.Reason, PerExchange: true}
			s.tel.ReportBroken(report_socket_consume, err)
			return nil, err
		default:
			s.tel.ReportDebug("skip sub-message", item)
		}
	}
	return nil, nil
}

// handleProtocolError recovers from a session restart and returns errRetry,
// any other server error is returned as a fatal ProtocolError.
func (s *Socket) handleProtocolError(ctx context.Context, frame Frame, restarts *int) error {
	if frame.Kind == FrameClose && frame.Code != s.opts.RestartCode {
		err := ProtocolError{Code: frame.Code, Reason: frame.Reason}
		s.tel.ReportBroken(report_socket_consume, err)
		return err
	}

	*restarts++
	if *restarts > s.opts.MaxRestarts {
		s.tel.ReportBroken(report_socket_send, ErrTooManyRestarts, *restarts)
		return ErrTooManyRestarts
	}

	if frame.Kind == FrameOpen {
		s.tel.ReportWarning(report_socket_consume, "session restarted by server", len(s.initial))
		err := s.replayInitial(ctx, restarts)
		if err != nil {
			return err
		}
		return errRetry
	}

	s.tel.ReportWarning(report_socket_consume, "session invalidated, recreating", frame.Code, frame.Reason)
	err := s.Close()
	if err != nil {
		return err
	}
	err = s.regenerate()
	if err != nil {
		return err
	}
	err = s.Connect(ctx)
	if err != nil {
		return err
	}
	// a regenerated session has none of the state the initial exchanges set up
	err = s.replayInitial(ctx, restarts)
	if err != nil {
		return err
	}
	return errRetry
}

func (s *Socket) replayInitial(ctx context.Context, restarts *int) error {
	replay := make([]exchange, len(s.initial))
	copy(replay, s.initial)

	for _, e := range replay {
		_, err := s.send(ctx, e.query, e.validate, restarts)
		if err != nil {
			return fmt.Errorf("replay initial exchange: %w", err)
		}
	}
	return nil
}
