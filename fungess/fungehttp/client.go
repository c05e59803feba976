package fungehttp

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"

	"noisefunge.org/funged/befunge"
	"noisefunge.org/funged/fungess"
)

// Client is an HTTP client for a Server.
type Client struct {
	hc   *http.Client
	base string
}

// NewClient returns a client for the server at base, e.g. "http://127.0.0.1:1312"
func NewClient(base string) *Client {
	return &Client{hc: http.DefaultClient, base: strings.TrimSuffix(base, "/")}
}

// ErrorResponse is returned for any non-2xx response.
type ErrorResponse struct {
	Code int
	Msg  string
}

func (e *ErrorResponse) Error() string {
	return fmt.Sprintf("funged: %d %s", e.Code, e.Msg)
}

func (c *Client) StartProcess(ctx context.Context, name string, src []byte) (befunge.PID, error) {
	var resp StartResp
	if err := c.doJSON(ctx, http.MethodPost, "/v1/procs", StartReq{Name: name, Program: string(src)}, &resp); err != nil {
		return 0, err
	}
	return resp.PID, nil
}

// GetState long polls for a snapshot newer than prev.
// It returns nil if the server had nothing newer before its poll timeout.
func (c *Client) GetState(ctx context.Context, prev *uint64) (*befunge.EngineState, error) {
	q := url.Values{"format": {"cbor"}}
	if prev != nil {
		q.Set("prev", strconv.FormatUint(*prev, 10))
	}
	data, err := c.do(ctx, http.MethodGet, "/v1/state?"+q.Encode(), nil)
	if err != nil {
		return nil, err
	}
	if len(data) == 0 {
		return nil, nil
	}
	return befunge.UnmarshalStateCBOR(data)
}

func (c *Client) Kill(ctx context.Context, sel befunge.KillRequest) error {
	return c.doJSON(ctx, http.MethodPost, "/v1/kill", sel, nil)
}

func (c *Client) Inspect(ctx context.Context, pid befunge.PID) (*befunge.ProcessInfo, error) {
	var info befunge.ProcessInfo
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/procs/%d", pid), nil, &info); err != nil {
		return nil, err
	}
	return &info, nil
}

func (c *Client) Stats(ctx context.Context) (*fungess.Stats, error) {
	var st fungess.Stats
	if err := c.doJSON(ctx, http.MethodGet, "/v1/stats", nil, &st); err != nil {
		return nil, err
	}
	return &st, nil
}

func (c *Client) Recent(ctx context.Context) ([]fungess.BeatEvent, error) {
	var evs []fungess.BeatEvent
	if err := c.doJSON(ctx, http.MethodGet, "/v1/events", nil, &evs); err != nil {
		return nil, err
	}
	return evs, nil
}

func (c *Client) History(ctx context.Context, limit int) ([]fungess.ProcRecord, error) {
	var recs []fungess.ProcRecord
	if err := c.doJSON(ctx, http.MethodGet, fmt.Sprintf("/v1/history?limit=%d", limit), nil, &recs); err != nil {
		return nil, err
	}
	return recs, nil
}

func (c *Client) doJSON(ctx context.Context, method, p string, req, resp any) error {
	var body io.Reader
	if req != nil {
		data, err := json.Marshal(req)
		if err != nil {
			return err
		}
		body = bytes.NewReader(data)
	}
	data, err := c.do(ctx, method, p, body)
	if err != nil {
		return err
	}
	if resp == nil {
		return nil
	}
	return json.Unmarshal(data, resp)
}

func (c *Client) do(ctx context.Context, method, p string, body io.Reader) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.base+p, body)
	if err != nil {
		return nil, err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &ErrorResponse{Code: resp.StatusCode, Msg: strings.TrimSpace(string(data))}
	}
	return data, nil
}
