package services

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/etx-ingest/pkg/filestore"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

const (
	skipFolder         = "folder"
	skipNotCSV         = "not_csv"
	skipUnreadable     = "unreadable"
	skipMalformed      = "malformed"
	skipMissingColumns = "missing_columns"
)

// IngestFolderOf runs IngestFolder on the folder holding fileID, or on
// fileID itself when it is a folder.
func (s *Service) IngestFolderOf(ctx context.Context, userRef, fileID string) (Counters, error) {
	p, err := s.principal(ctx, userRef)
	if err != nil {
		return Counters{}, err
	}
	folder, err := s.files.FolderOf(ctx, p.ID, fileID)
	if err != nil {
		return Counters{}, errors.Wrapf(ErrInvalidInput, "%s: %v", fileID, err)
	}
	return s.IngestFolder(ctx, userRef, folder)
}

// IngestFolder publishes every CSV file under folderPath, group by group,
// against a catalog fetched once for the whole run.
func (s *Service) IngestFolder(ctx context.Context, userRef, folderPath string) (c Counters, err error) {
	const workflow = "ingest_folder"
	start := time.Now()
	ctx, span := s.startSpan(ctx, workflow, attribute.String("etx.folder", folderPath))
	defer func() { s.finish(span, workflow, start, c, err) }()

	p, err := s.principal(ctx, userRef)
	if err != nil {
		return c, err
	}
	entries, err := s.files.List(ctx, p.ID, folderPath)
	if err != nil {
		return c, errors.Wrapf(ErrInvalidInput, "folder %s: %v", folderPath, err)
	}
	if err := s.requireDataAPI(); err != nil {
		return c, err
	}
	catalog, err := FetchCatalog(ctx, s.dataAPI)
	if err != nil {
		return c, err
	}
	log := s.log.WithFields(logrus.Fields{"workflow": workflow, "folder": folderPath, "user": p.ID})
	log.WithFields(logrus.Fields{"entities": catalog.Len(), "entries": len(entries)}).Info("catalog loaded")

	pub := NewPublisher(s.dataAPI, s.bus, s.log, s.opts.Publish)
	for _, f := range entries {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		fc, err := s.ingestEntry(ctx, p.ID, f, catalog, pub)
		if err != nil {
			return c.Add(fc), err
		}
		c = c.Add(fc)
	}
	return c, nil
}

// ingestEntry publishes one folder entry. Only context cancellation is
// returned as an error; bad files are reported and skipped.
func (s *Service) ingestEntry(ctx context.Context, userID string, f filestore.File, catalog *Catalog, pub *Publisher) (Counters, error) {
	switch {
	case f.IsFolder:
		s.bus.Publish(&FileSkipped{File: f.ID, Reason: skipFolder})
		return Counters{}, nil
	case f.MimeType != filestore.MimeCSV:
		s.bus.Publish(&FileSkipped{File: f.ID, Reason: skipNotCSV})
		return Counters{}, nil
	}

	s.log.WithFields(logrus.Fields{
		"file": f.ID, "name": f.Name, "size": f.Size, "mime": f.MimeType,
	}).Info("processing file")

	content, err := s.files.ReadBytes(ctx, userID, f.ID)
	if err != nil {
		s.log.WithField("file", f.ID).WithError(err).Warn("cannot read file")
		s.bus.Publish(&FileSkipped{File: f.ID, Reason: skipUnreadable})
		return Counters{}, nil
	}
	ds, err := tabular.Validate(content)
	if err != nil {
		s.log.WithField("file", f.ID).WithError(err).Warn("file is invalid")
		s.bus.Publish(&FileSkipped{File: f.ID, Reason: skipMalformed})
		return Counters{}, nil
	}

	c, err := pub.PublishDataset(ctx, f.ID, barName(f.Name), ds, catalog, s.opts.Columns)
	switch {
	case errors.Is(err, ErrMissingColumns):
		s.log.WithField("file", f.ID).WithError(err).Warn("file is invalid")
		s.bus.Publish(&FileSkipped{File: f.ID, Reason: skipMissingColumns})
		return Counters{}, nil
	case err != nil:
		return c, err
	}
	return c, nil
}
