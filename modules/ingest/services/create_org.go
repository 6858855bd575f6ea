package services

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

// CreateOrganization builds an organization structure from a CSV file.
// When tenantName is set, the session is first switched to the
// organization with exactly that name.
func (s *Service) CreateOrganization(ctx context.Context, userRef, fileID, tenantName string) (err error) {
	const workflow = "create_organization"
	start := time.Now()
	ctx, span := s.startSpan(ctx, workflow,
		attribute.String("etx.file", fileID),
		attribute.String("etx.tenant", tenantName))
	defer func() { s.finish(span, workflow, start, Counters{}, err) }()

	p, err := s.principal(ctx, userRef)
	if err != nil {
		return err
	}
	_, content, err := s.csvFile(ctx, p.ID, fileID)
	if err != nil {
		return err
	}
	if _, err := tabular.Validate(content); err != nil {
		return errors.Wrapf(err, "validate %s", fileID)
	}
	data := strings.ReplaceAll(strings.ToValidUTF8(string(content), "\uFFFD"), "\r\n", "\n")

	sess, err := s.openSession(ctx, etx.OrgSelector{})
	if err != nil {
		return err
	}
	defer s.closeSession(sess, workflow)

	log := s.log.WithFields(logrus.Fields{"workflow": workflow, "file": fileID})
	if tenantName != "" {
		orgID, err := s.findTenant(ctx, sess, tenantName)
		if err != nil {
			return err
		}
		if err := sess.SwitchOrganization(ctx, orgID); err != nil {
			return errors.Wrapf(err, "switch to tenant %q", tenantName)
		}
		log = log.WithFields(logrus.Fields{"tenant": tenantName, "org_id": orgID})
	}

	cmd := etx.CreateOrgStructureFromCsv{CorrelationID: sess.NewMID(), Data: data}
	r, err := sess.Exchange(ctx, cmd)
	if err != nil {
		return errors.Wrap(err, "create organization structure")
	}
	if err := etx.CheckStatus(r, cmd.Name()); err != nil {
		return err
	}
	log.WithField("status", r.TopStatus()).Info("organization structure created")
	return nil
}

func (s *Service) findTenant(ctx context.Context, sess Session, name string) (string, error) {
	r, err := sess.Exchange(ctx, etx.GetOrgs{CorrelationID: sess.NewMID()})
	if err != nil {
		return "", errors.Wrap(err, "list organizations")
	}
	orgs, err := etx.DecodeOrgs(r)
	if err != nil {
		return "", err
	}
	id, ok := orgs.FindByName(name)
	if !ok {
		return "", errors.Wrapf(ErrTenantNotFound, "%q", name)
	}
	return id, nil
}
