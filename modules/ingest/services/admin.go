package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/etx-ingest/pkg/etx"
)

// runSingle opens a session, sends one command and checks its status.
func (s *Service) runSingle(ctx context.Context, workflow string, build func(Session) etx.Command, attrs ...attribute.KeyValue) (err error) {
	start := time.Now()
	ctx, span := s.startSpan(ctx, workflow, attrs...)
	defer func() { s.finish(span, workflow, start, Counters{}, err) }()

	sess, err := s.openSession(ctx, etx.OrgSelector{})
	if err != nil {
		return err
	}
	defer s.closeSession(sess, workflow)

	cmd := build(sess)
	r, err := sess.Exchange(ctx, cmd)
	if err != nil {
		return errors.Wrap(err, cmd.Name())
	}
	if err := etx.CheckStatus(r, cmd.Name()); err != nil {
		return err
	}
	s.log.WithField("workflow", workflow).WithField("status", r.TopStatus()).Info(cmd.Name() + " done")
	return nil
}

// AddTenant creates a tenant account with its own database.
func (s *Service) AddTenant(ctx context.Context, name string) error {
	name = strings.TrimSpace(name)
	if name == "" {
		return errors.Wrap(ErrInvalidInput, "tenant name is required")
	}
	return s.runSingle(ctx, "add_tenant", func(Session) etx.Command {
		return etx.CreateTenantAccount{TenantName: name, AutoCreateDatabase: true}
	}, attribute.String("etx.tenant", name))
}

// UpdateVersion records a release of version dated today.
func (s *Service) UpdateVersion(ctx context.Context, version string) error {
	version = strings.TrimSpace(version)
	if version == "" {
		return errors.Wrap(ErrInvalidInput, "version is required")
	}
	return s.runSingle(ctx, "update_version", func(sess Session) etx.Command {
		return etx.SetVersion{
			CorrelationID: sess.NewMID(),
			ETXVersion:    version,
			ReleaseDate:   s.opts.Now().In(s.opts.Location).Format(etx.ReleaseDateLayout),
			Description:   s.opts.VersionDescription,
		}
	}, attribute.String("etx.version", version))
}

// GenerateSchemeOrg asks the scheme coordinator to build the organization
// scheme.
func (s *Service) GenerateSchemeOrg(ctx context.Context) error {
	return s.runSingle(ctx, "generate_scheme_org", func(sess Session) etx.Command {
		return etx.PyRequest{App: etx.AppSchemeCoordinator, Value: etx.PyValue{Input: etx.SchemeInput{
			CorrelationID: sess.NewMID(),
			Action:        etx.ActionSchemeUpOrg,
		}}}
	})
}
