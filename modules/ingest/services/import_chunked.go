package services

import (
	"context"
	"encoding/base64"
	"os"
	"path"
	"path/filepath"
	"time"

	"github.com/go-faster/errors"
	"github.com/sirupsen/logrus"
	"go.opentelemetry.io/otel/attribute"

	"github.com/iota-uz/etx-ingest/pkg/etx"
	"github.com/iota-uz/etx-ingest/pkg/tabular"
)

// ChunkResult is the remote importer's answer for one chunk.
type ChunkResult struct {
	File             string `json:"file"`
	RowsCount        int    `json:"rows_count"`
	SuccessRowsCount int    `json:"success_rows_count"`
}

// ImportReport summarizes an ImportChunked run.
type ImportReport struct {
	Rows     int           `json:"rows"`
	Chunks   int           `json:"chunks"`
	Requests int           `json:"requests"`
	Imported []ChunkResult `json:"imported"`
	// Pending lists uploaded chunks left out by the request limit.
	Pending []string `json:"pending,omitempty"`
}

type uploadedChunk struct {
	local  string
	remote string
}

// ImportChunked splits a CSV file into chunks of RowsPerFile rows, uploads
// them and asks the remote to import FilesPerRequest chunks per request,
// for at most MaxRequests requests.
func (s *Service) ImportChunked(ctx context.Context, userRef, fileID string) (rep ImportReport, err error) {
	const workflow = "import_chunked"
	start := time.Now()
	ctx, span := s.startSpan(ctx, workflow, attribute.String("etx.file", fileID))
	defer func() { s.finish(span, workflow, start, Counters{}, err) }()

	p, err := s.principal(ctx, userRef)
	if err != nil {
		return rep, err
	}
	_, content, err := s.csvFile(ctx, p.ID, fileID)
	if err != nil {
		return rep, err
	}
	ds, err := tabular.Validate(content)
	if err != nil {
		return rep, errors.Wrapf(err, "validate %s", fileID)
	}
	chunks, err := tabular.Split(ds, s.opts.RowsPerFile)
	if err != nil {
		return rep, errors.Wrap(ErrInvalidInput, err.Error())
	}
	rep.Rows, rep.Chunks = ds.Len(), len(chunks)
	if len(chunks) == 0 {
		return rep, errors.Wrapf(ErrInvalidInput, "%s has no data rows", fileID)
	}

	name, _, err := s.files.NameAndExtension(ctx, p.ID, fileID)
	if err != nil {
		return rep, err
	}
	dir, cleanup, err := s.chunkDir()
	if err != nil {
		return rep, err
	}
	defer cleanup()

	base := name + "_" + s.opts.Now().In(s.opts.Location).Format(timestampLayout)
	paths, err := tabular.WriteChunks(dir, base, chunks)
	if err != nil {
		return rep, errors.Wrap(err, "write chunks")
	}
	log := s.log.WithFields(logrus.Fields{"workflow": workflow, "file": fileID})
	log.WithFields(logrus.Fields{"rows": rep.Rows, "chunks": rep.Chunks, "dir": dir}).Info("file split")

	sess, err := s.openSession(ctx, etx.OrgSelector{})
	if err != nil {
		return rep, err
	}
	defer s.closeSession(sess, workflow)

	uploaded := make([]uploadedChunk, 0, len(paths))
	for _, local := range paths {
		remote, err := s.uploadChunk(ctx, sess, local)
		if err != nil {
			return rep, err
		}
		uploaded = append(uploaded, uploadedChunk{local: local, remote: remote})
	}

	for i := 0; i < len(uploaded); i += s.opts.FilesPerRequest {
		if s.opts.MaxRequests >= 0 && rep.Requests >= s.opts.MaxRequests {
			for _, u := range uploaded[i:] {
				rep.Pending = append(rep.Pending, u.remote)
			}
			log.WithField("pending", len(rep.Pending)).Warn("reached maximum number of requests")
			break
		}
		batch := uploaded[i:min(i+s.opts.FilesPerRequest, len(uploaded))]
		results, err := s.importBatch(ctx, sess, batch)
		rep.Requests++
		if err != nil {
			return rep, err
		}
		for _, r := range results {
			log.WithFields(logrus.Fields{
				"chunk":              r.File,
				"rows_count":         r.RowsCount,
				"success_rows_count": r.SuccessRowsCount,
			}).Info("chunk imported")
		}
		rep.Imported = append(rep.Imported, results...)
		if s.opts.DeleteChunks {
			for _, u := range batch {
				if err := os.Remove(u.local); err != nil && !os.IsNotExist(err) {
					log.WithError(err).WithField("chunk", u.local).Warn("cannot delete chunk")
				}
			}
		}
	}
	return rep, nil
}

// chunkDir returns the directory chunk files go to. A temporary directory
// is created when none is configured, and removed by cleanup when chunks
// are deleted after import.
func (s *Service) chunkDir() (string, func(), error) {
	if s.opts.ChunkDir != "" {
		return s.opts.ChunkDir, func() {}, nil
	}
	dir, err := os.MkdirTemp("", "etxtemp-*")
	if err != nil {
		return "", nil, errors.Wrap(err, "create chunk dir")
	}
	cleanup := func() {}
	if s.opts.DeleteChunks {
		cleanup = func() { _ = os.RemoveAll(dir) }
	}
	return dir, cleanup, nil
}

func (s *Service) uploadChunk(ctx context.Context, sess Session, local string) (string, error) {
	b, err := os.ReadFile(local)
	if err != nil {
		return "", errors.Wrapf(err, "read chunk %s", local)
	}
	cmd := etx.UploadBase64Imp{
		CorrelationID: sess.NewMID(),
		FileName:      filepath.Base(local),
		Content:       base64.StdEncoding.EncodeToString(b),
	}
	r, err := sess.Exchange(ctx, cmd)
	if err != nil {
		return "", errors.Wrapf(err, "upload %s", cmd.FileName)
	}
	if err := etx.CheckStatus(r, cmd.Name()); err != nil {
		return "", err
	}
	res, err := etx.DecodeUpload(r)
	if err != nil {
		return "", err
	}
	return path.Base(res.Message.FilePath), nil
}

// importBatch issues one import directive and returns the results in
// batch order. Every chunk of the batch must be answered exactly once.
func (s *Service) importBatch(ctx context.Context, sess Session, batch []uploadedChunk) ([]ChunkResult, error) {
	names := make([]string, len(batch))
	pos := make(map[string]int, len(batch))
	for i, u := range batch {
		names[i] = u.remote
		pos[u.remote] = i
	}
	cmd := etx.ImportEmissionDirective{CorrelationID: sess.NewMID(), FileNames: names}
	replies, err := sess.Collect(ctx, cmd, len(batch))
	if err != nil {
		return nil, errors.Wrap(err, "import")
	}

	results := make([]ChunkResult, len(batch))
	seen := make([]bool, len(batch))
	for _, r := range replies {
		res, err := etx.DecodeImport(r)
		if err != nil {
			return nil, err
		}
		i, ok := pos[path.Base(res.FileName)]
		if !ok || seen[i] {
			return nil, &etx.ProtocolError{
				Command: cmd.Name(),
				Raw:     r.Raw,
				Err:     errors.Errorf("unexpected reply for file %q", res.FileName),
			}
		}
		seen[i] = true
		results[i] = ChunkResult{
			File:             names[i],
			RowsCount:        res.Message.RowsCount,
			SuccessRowsCount: res.Message.SuccessRowsCount,
		}
	}
	return results, nil
}
