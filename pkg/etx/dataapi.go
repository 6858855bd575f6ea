package etx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

const dataAPIKeyHeader = "DTX-DS-KEY"

// DataAPI is the stateless HTTP command endpoint
// {HTTPURI}/{version}/{CommandName}, keyed by an API key.
type DataAPI struct {
	base       *url.URL
	version    string
	key        string
	httpClient *http.Client
	log        *logrus.Entry
}

func NewDataAPI(httpURI, version, key string, timeout time.Duration, log *logrus.Logger) (*DataAPI, error) {
	u, err := url.Parse(strings.TrimSpace(httpURI))
	if err != nil || u.Scheme == "" || u.Host == "" {
		return nil, errors.Errorf("invalid data api base url: %q", httpURI)
	}
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &DataAPI{
		base:       u,
		version:    strings.Trim(version, "/"),
		key:        key,
		httpClient: &http.Client{Timeout: timeout},
		log:        log.WithField("component", "etx.dataapi"),
	}, nil
}

func (a *DataAPI) endpoint(name string) string {
	u := *a.base
	u.Path = strings.TrimRight(u.Path, "/") + "/" + a.version + "/" + name
	return u.String()
}

// Exchange performs one request. Transport failures yield
// ReplyConnectionClosed; bodies that are not JSON objects yield
// ReplyParseFailed regardless of the HTTP status.
func (a *DataAPI) Exchange(ctx context.Context, cmd Command) (Reply, error) {
	method := methodOf(cmd)
	var body io.Reader
	if method != http.MethodGet {
		b, err := json.Marshal(cmd)
		if err != nil {
			return Reply{Kind: ReplyParseFailed}, errors.Wrapf(err, "encode %s", cmd.Name())
		}
		body = bytes.NewReader(b)
	}

	req, err := http.NewRequestWithContext(ctx, method, a.endpoint(cmd.Name()), body)
	if err != nil {
		return Reply{Kind: ReplyConnectionClosed}, errors.Wrap(err, "data api request")
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	req.Header.Set(dataAPIKeyHeader, a.key)
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := a.httpClient.Do(req)
	if err != nil {
		return Reply{Kind: ReplyConnectionClosed}, asClosed(err)
	}
	defer func() { _ = resp.Body.Close() }()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return Reply{Kind: ReplyConnectionClosed}, asClosed(err)
	}
	r, err := ParseReply(raw)
	if err != nil {
		var pe *ProtocolError
		if errors.As(err, &pe) {
			pe.Command = cmd.Name()
		}
		a.log.WithFields(logrus.Fields{
			"command": cmd.Name(),
			"status":  resp.StatusCode,
			"raw":     truncate(raw, 512),
		}).Warn("data api returned a non-JSON body")
		return r, err
	}
	a.log.WithFields(logrus.Fields{"command": cmd.Name(), "status": resp.StatusCode}).Debug("data api exchange")
	return r, nil
}
