// Package etx drives the ETX remote: login, the organization-scoped
// websocket session, and the HTTP data API.
package etx

import (
	"context"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

type State int

const (
	StateUnauthenticated State = iota
	StateAuthenticated
	StateContextEstablished
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateUnauthenticated:
		return "unauthenticated"
	case StateAuthenticated:
		return "authenticated"
	case StateContextEstablished:
		return "context_established"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// OrgSelector picks the organization context. The zero value selects the
// account's first organization.
type OrgSelector struct {
	OrgID string
}

type Config struct {
	HTTPURI  string
	WSURI    string
	Email    string
	Password string
	TimeZone string

	AuthTimeout  time.Duration
	ReplyTimeout time.Duration

	HTTPClient *http.Client
	Dialer     Dialer
	Logger     *logrus.Logger

	// OnExchange, when set, observes every completed exchange.
	OnExchange func(command string, kind ReplyKind, elapsed time.Duration)
}

// Session is one authenticated, organization-scoped connection. It is owned
// by a single workflow invocation and must be closed on every exit path.
type Session struct {
	cfg Config
	log *logrus.Entry

	mu    sync.Mutex
	state State
	fid   string
	conn  Conn
	ch    *Channel
	mids  map[string]struct{}

	closeOnce sync.Once
	closeErr  error
}

func NewSession(cfg Config) *Session {
	if cfg.HTTPClient == nil {
		cfg.HTTPClient = &http.Client{}
	}
	if cfg.Dialer == nil {
		cfg.Dialer = WebsocketDialer{}
	}
	if cfg.Logger == nil {
		cfg.Logger = logrus.StandardLogger()
	}
	if cfg.TimeZone == "" {
		cfg.TimeZone = "Asia/Bangkok"
	}
	return &Session{
		cfg:  cfg,
		log:  cfg.Logger.WithField("component", "etx.session"),
		mids: make(map[string]struct{}),
	}
}

// Connect authenticates, dials and establishes the organization context.
// On any failure the session is closed before returning.
func Connect(ctx context.Context, cfg Config, sel OrgSelector) (*Session, error) {
	s := NewSession(cfg)
	if err := s.Authenticate(ctx); err != nil {
		_ = s.Close()
		return nil, err
	}
	if err := s.Establish(ctx, sel); err != nil {
		_ = s.Close()
		return nil, err
	}
	return s, nil
}

func (s *Session) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Authenticate logs in and records the session identifier.
func (s *Session) Authenticate(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case StateClosed:
		return ErrSessionClosed
	case StateUnauthenticated:
	default:
		return errors.Errorf("etx: authenticate in state %s", s.state)
	}

	if s.cfg.AuthTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, s.cfg.AuthTimeout)
		defer cancel()
	}
	fid, err := login(ctx, s.cfg.HTTPClient, s.cfg.HTTPURI, s.cfg.Email, s.cfg.Password)
	if err != nil {
		return err
	}
	s.fid = fid
	s.state = StateAuthenticated
	s.log.Debug("authenticated")
	return nil
}

// Establish dials the websocket and sets the organization context. It
// blocks until the remote acknowledges the directive.
func (s *Session) Establish(ctx context.Context, sel OrgSelector) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrSessionClosed
	case StateAuthenticated:
	default:
		s.mu.Unlock()
		return errors.Errorf("etx: establish in state %s", s.state)
	}

	url := strings.TrimRight(s.cfg.WSURI, "/") + "/fid-" + s.fid
	conn, err := s.cfg.Dialer.Dial(ctx, url)
	if err != nil {
		s.mu.Unlock()
		return errors.Wrap(ErrConnectionClosed, err.Error())
	}
	s.conn = conn
	s.ch = NewChannel(conn, s.cfg.ReplyTimeout, s.cfg.Logger)
	mid := s.mintLocked()
	ch := s.ch
	s.mu.Unlock()

	cmd := SetOrgDirective{CorrelationID: mid, OrgID: sel.OrgID, TimeZone: s.cfg.TimeZone}
	r, err := s.observe(ctx, ch, cmd)
	if err != nil {
		return err
	}
	if err := CheckStatus(r, cmd.Name()); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state == StateClosed {
		return ErrSessionClosed
	}
	s.state = StateContextEstablished
	s.log.WithField("org_id", sel.OrgID).Info("organization context established")
	return nil
}

// SwitchOrganization re-targets an established session to orgID.
func (s *Session) SwitchOrganization(ctx context.Context, orgID string) error {
	cmd := SetOrg{CorrelationID: s.NewMID(), ID: orgID}
	r, err := s.Exchange(ctx, cmd)
	if err != nil {
		return err
	}
	return CheckStatus(r, cmd.Name())
}

// NewMID mints a correlation token not yet used in this session.
func (s *Session) NewMID() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mintLocked()
}

func (s *Session) mintLocked() string {
	for {
		mid := uuid.NewString()
		if _, used := s.mids[mid]; !used {
			s.mids[mid] = struct{}{}
			return mid
		}
	}
}

func (s *Session) ready() (*Channel, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	switch s.state {
	case StateClosed:
		return nil, ErrSessionClosed
	case StateContextEstablished:
		return s.ch, nil
	default:
		return nil, ErrContextNotEstablished
	}
}

// Exchange sends cmd and returns its reply. It fails without touching the
// wire unless the organization context is established.
func (s *Session) Exchange(ctx context.Context, cmd Command) (Reply, error) {
	ch, err := s.ready()
	if err != nil {
		return Reply{Kind: ReplyConnectionClosed}, err
	}
	return s.observe(ctx, ch, cmd)
}

// Collect sends cmd and gathers n replies keyed by its name.
func (s *Session) Collect(ctx context.Context, cmd Command, n int) ([]Reply, error) {
	ch, err := s.ready()
	if err != nil {
		return nil, err
	}
	start := time.Now()
	out, err := ch.Collect(ctx, cmd, n)
	if s.cfg.OnExchange != nil {
		kind := ReplyOK
		if err != nil {
			kind = ReplyConnectionClosed
			if errors.Is(err, ErrProtocol) {
				kind = ReplyParseFailed
			}
		}
		s.cfg.OnExchange(cmd.Name(), kind, time.Since(start))
	}
	return out, err
}

func (s *Session) observe(ctx context.Context, ch *Channel, cmd Command) (Reply, error) {
	start := time.Now()
	r, err := ch.Exchange(ctx, cmd)
	if s.cfg.OnExchange != nil {
		s.cfg.OnExchange(cmd.Name(), r.Kind, time.Since(start))
	}
	return r, err
}

// Close ends the session. It is idempotent; the connection is closed once.
func (s *Session) Close() error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.state = StateClosed
		conn := s.conn
		s.mu.Unlock()

		if conn != nil {
			s.closeErr = conn.Close()
		}
		s.log.Debug("closed")
	})
	return s.closeErr
}
