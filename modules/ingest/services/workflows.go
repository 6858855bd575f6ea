// Package services implements the ingestion and remote administration
// workflows run against ETX.
package services

import (
	"context"
	"path"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/eventbus"
	"github.com/iota-uz/etx-ingest/pkg/filestore"
	"github.com/iota-uz/etx-ingest/pkg/retry"
	"github.com/iota-uz/etx-ingest/pkg/users"
)

var tracer = otel.Tracer("etx-ingest/services")

const timestampLayout = "20060102_150405"

// Session is the part of an ETX session the workflows use.
type Session interface {
	etx.Exchanger
	Collect(ctx context.Context, cmd etx.Command, n int) ([]etx.Reply, error)
	NewMID() string
	SwitchOrganization(ctx context.Context, orgID string) error
	Close() error
}

// SessionFactory opens sessions with an established organization context.
type SessionFactory interface {
	Open(ctx context.Context, sel etx.OrgSelector) (Session, error)
}

// RemoteSessions opens real ETX sessions.
type RemoteSessions struct {
	Config etx.Config
}

func (r RemoteSessions) Open(ctx context.Context, sel etx.OrgSelector) (Session, error) {
	s, err := etx.Connect(ctx, r.Config, sel)
	if err != nil {
		return nil, err
	}
	return s, nil
}

type Options struct {
	ServerFolder       string
	Location           *time.Location
	VersionDescription string

	RowsPerFile     int
	FilesPerRequest int
	MaxRequests     int
	ChunkDir        string
	DeleteChunks    bool
	IngestRowLimit  int

	Columns Columns
	Publish retry.Policy

	Now func() time.Time
}

func (o Options) withDefaults() Options {
	if o.Location == nil {
		o.Location = time.UTC
	}
	if o.Now == nil {
		o.Now = time.Now
	}
	if o.RowsPerFile < 1 {
		o.RowsPerFile = 100000
	}
	if o.FilesPerRequest < 1 {
		o.FilesPerRequest = 1
	}
	if o.MaxRequests == 0 {
		o.MaxRequests = -1
	}
	if o.IngestRowLimit < 1 {
		o.IngestRowLimit = 100000
	}
	if o.Columns.Org == "" || o.Columns.Entity == "" {
		o.Columns = DefaultColumns()
	}
	if o.VersionDescription == "" {
		o.VersionDescription = "dev server"
	}
	return o
}

// Service runs workflows. Every invocation owns its session, catalog and
// counters.
type Service struct {
	sessions SessionFactory
	dataAPI  etx.Exchanger
	files    filestore.Store
	users    users.Directory
	bus      eventbus.Bus
	log      *logrus.Logger
	opts     Options
}

// NewService wires a Service. dataAPI may be nil when no API key is
// configured; the workflows that need it then fail with ErrInvalidInput.
func NewService(
	sessions SessionFactory,
	dataAPI etx.Exchanger,
	files filestore.Store,
	directory users.Directory,
	bus eventbus.Bus,
	log *logrus.Logger,
	opts Options,
) *Service {
	return &Service{
		sessions: sessions,
		dataAPI:  dataAPI,
		files:    files,
		users:    directory,
		bus:      bus,
		log:      log,
		opts:     opts.withDefaults(),
	}
}

func (s *Service) startSpan(ctx context.Context, workflow string, attrs ...attribute.KeyValue) (context.Context, trace.Span) {
	return tracer.Start(ctx, "etx."+workflow,
		trace.WithAttributes(append([]attribute.KeyValue{attribute.String("etx.workflow", workflow)}, attrs...)...))
}

// finish closes span and announces the outcome on the bus.
func (s *Service) finish(span trace.Span, workflow string, start time.Time, c Counters, err error) {
	span.SetAttributes(
		attribute.Int("etx.success", c.Success),
		attribute.Int("etx.error", c.Error),
		attribute.Int("etx.unresolved", c.Unresolved),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
	s.bus.Publish(&WorkflowFinished{Workflow: workflow, Counters: c, Elapsed: time.Since(start), Err: err})
}

func (s *Service) principal(ctx context.Context, ref string) (users.Principal, error) {
	p, err := s.users.Resolve(ctx, ref)
	if err != nil {
		return users.Principal{}, errors.Wrapf(ErrInvalidInput, "user: %v", err)
	}
	return p, nil
}

// csvFile loads a file that must exist, be a regular file and be CSV.
func (s *Service) csvFile(ctx context.Context, userID, fileID string) (filestore.File, []byte, error) {
	if strings.TrimSpace(fileID) == "" {
		return filestore.File{}, nil, errors.Wrap(ErrInvalidInput, "no file given")
	}
	f, err := s.files.Get(ctx, userID, fileID)
	if err != nil {
		return f, nil, errors.Wrapf(ErrInvalidInput, "file %s: %v", fileID, err)
	}
	if f.IsFolder {
		return f, nil, errors.Wrapf(ErrInvalidInput, "%s is a folder", fileID)
	}
	if f.MimeType != filestore.MimeCSV {
		return f, nil, errors.Wrapf(ErrInvalidInput, "%s is %s, not CSV", fileID, f.MimeType)
	}
	b, err := s.files.ReadBytes(ctx, userID, fileID)
	if err != nil {
		return f, nil, errors.Wrapf(err, "read %s", fileID)
	}
	if len(b) == 0 {
		return f, nil, errors.Wrapf(ErrInvalidInput, "%s is empty", fileID)
	}
	return f, b, nil
}

func (s *Service) openSession(ctx context.Context, sel etx.OrgSelector) (Session, error) {
	if s.sessions == nil {
		return nil, errors.Wrap(ErrInvalidInput, "remote session is not configured")
	}
	return s.sessions.Open(ctx, sel)
}

func (s *Service) closeSession(sess Session, workflow string) {
	if err := sess.Close(); err != nil {
		s.log.WithField("workflow", workflow).WithError(err).Debug("close session")
	}
}

func (s *Service) requireDataAPI() error {
	if s.dataAPI == nil {
		return errors.Wrap(ErrInvalidInput, "data api is not configured")
	}
	return nil
}

// serverPath joins the server file folder and a path returned by the
// remote. Absolute remote paths are kept as they are.
func serverPath(folder, remote string) string {
	if folder == "" || strings.HasPrefix(remote, "/") {
		return remote
	}
	return path.Join(folder, remote)
}

// barName derives the publish name of a file: the part of its base name
// before the first dot.
func barName(name string) string {
	base := path.Base(strings.ReplaceAll(name, "\\", "/"))
	if head, _, _ := strings.Cut(base, "."); head != "" {
		return head
	}
	return strings.TrimSuffix(base, path.Ext(base))
}
