package etx

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
)

const requestIDHeader = "X-Request-ID"

type loginRequest struct {
	Login loginCredentials `json:"login"`
}

type loginCredentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Login struct {
		FID string `json:"fid"`
	} `json:"login"`
}

// login exchanges credentials for a session identifier (fid).
func login(ctx context.Context, client *http.Client, httpURI, email, password string) (string, error) {
	body, err := json.Marshal(loginRequest{Login: loginCredentials{Email: email, Password: password}})
	if err != nil {
		return "", errors.Wrap(err, "encode login")
	}
	url := strings.TrimRight(httpURI, "/") + "/fid-auth"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", errors.Wrap(err, "login request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set(requestIDHeader, uuid.NewString())

	resp, err := client.Do(req)
	if err != nil {
		return "", errors.Wrapf(ErrAuthentication, "post %s: %v", url, err)
	}
	defer func() { _ = resp.Body.Close() }()

	respBody, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", errors.Wrapf(ErrAuthentication, "read login response: %v", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", errors.Wrapf(ErrAuthentication, "status=%d", resp.StatusCode)
	}
	var out loginResponse
	if err := json.Unmarshal(respBody, &out); err != nil {
		return "", errors.Wrapf(ErrAuthentication, "decode login response: %v", err)
	}
	if strings.TrimSpace(out.Login.FID) == "" {
		return "", errors.Wrap(ErrAuthentication, "login response has no fid")
	}
	return out.Login.FID, nil
}
