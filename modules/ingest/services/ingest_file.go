package services

import (
	"context"
	"encoding/base64"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

// IngestFileResult describes a file handed to the remote importer.
type IngestFileResult struct {
	UploadedAs   string `json:"uploaded_as"`
	RemotePath   string `json:"remote_path"`
	DataFilePath string `json:"data_file_path"`
	Rows         int    `json:"rows"`
}

// IngestFile uploads one CSV file and asks the remote batch importer to
// load nrows rows from offset. A non-positive nrows uses the configured
// limit.
func (s *Service) IngestFile(ctx context.Context, userRef, fileID string, offset, nrows int) (res IngestFileResult, err error) {
	const workflow = "ingest_file"
	start := time.Now()
	ctx, span := s.startSpan(ctx, workflow, attribute.String("etx.file", fileID))
	defer func() { s.finish(span, workflow, start, Counters{}, err) }()

	if offset < 0 {
		return res, errors.Wrapf(ErrInvalidInput, "offset must not be negative, got %d", offset)
	}
	if nrows <= 0 {
		nrows = s.opts.IngestRowLimit
	}
	p, err := s.principal(ctx, userRef)
	if err != nil {
		return res, err
	}
	_, content, err := s.csvFile(ctx, p.ID, fileID)
	if err != nil {
		return res, err
	}
	ds, err := tabular.Validate(content)
	if err != nil {
		return res, errors.Wrapf(err, "validate %s", fileID)
	}
	res.Rows = ds.Len()

	name, ext, err := s.files.NameAndExtension(ctx, p.ID, fileID)
	if err != nil {
		return res, err
	}
	res.UploadedAs = name + "_" + s.opts.Now().In(s.opts.Location).Format(timestampLayout) + ext

	sess, err := s.openSession(ctx, etx.OrgSelector{})
	if err != nil {
		return res, err
	}
	defer s.closeSession(sess, workflow)

	log := s.log.WithFields(logrus.Fields{"workflow": workflow, "file": fileID})

	upload := etx.UploadBase64Imp{
		CorrelationID: sess.NewMID(),
		FileName:      res.UploadedAs,
		Content:       base64.StdEncoding.EncodeToString(content),
	}
	log.WithFields(logrus.Fields{"mid": upload.CorrelationID, "upload_name": upload.FileName}).Info("uploading file")
	r, err := sess.Exchange(ctx, upload)
	if err != nil {
		return res, errors.Wrap(err, "upload")
	}
	if err := etx.CheckStatus(r, upload.Name()); err != nil {
		return res, err
	}
	uploaded, err := etx.DecodeUpload(r)
	if err != nil {
		return res, err
	}
	res.RemotePath = uploaded.Message.FilePath
	res.DataFilePath = serverPath(s.opts.ServerFolder, res.RemotePath)

	ingest := etx.PyRequest{App: etx.AppBatch, Value: etx.PyValue{Input: etx.DataImportInput{
		Action:       etx.ActionDataImporter,
		DataFilePath: res.DataFilePath,
		Offset:       offset,
		NRows:        nrows,
		Tracking:     true,
	}}}
	log.WithField("data_file_path", res.DataFilePath).Info("starting remote import")
	r, err = sess.Exchange(ctx, ingest)
	if err != nil {
		return res, errors.Wrap(err, "start import")
	}
	if err := etx.CheckStatus(r, ingest.Name()); err != nil {
		return res, err
	}
	return res, nil
}
