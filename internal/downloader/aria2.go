package downloader

import (
	"context"
	"strconv"
	"time"

	"github.com/avast/retry-go"
	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	"github.com/pkg/errors"

	"github.com/draftsync/draftsync/internal/conf"
	"github.com/draftsync/draftsync/internal/errs"
)

// Aria2Client drives an aria2 daemon over its JSON-RPC endpoint.
type Aria2Client struct {
	endpoint string
	secret   string
	client   *resty.Client
}

func NewAria2Client(cfg conf.Aria2) *Aria2Client {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Aria2Client{
		endpoint: cfg.Endpoint,
		secret:   cfg.Secret,
		client:   resty.New().SetTimeout(timeout),
	}
}

type rpcRequest struct {
	JSONRPC string `json:"jsonrpc"`
	ID      string `json:"id"`
	Method  string `json:"method"`
	Params  []any  `json:"params"`
}

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type rpcResponse struct {
	Result any       `json:"result"`
	Error  *rpcError `json:"error"`
}

func (c *Aria2Client) call(ctx context.Context, method string, params ...any) (any, error) {
	if c.secret != "" {
		params = append([]any{"token:" + c.secret}, params...)
	}
	var res rpcResponse
	err := retry.Do(func() error {
		resp, err := c.client.R().
			SetContext(ctx).
			SetBody(rpcRequest{
				JSONRPC: "2.0",
				ID:      uuid.NewString(),
				Method:  method,
				Params:  params,
			}).
			SetResult(&res).
			SetError(&res).
			Post(c.endpoint)
		if err != nil {
			return err
		}
		if res.Error != nil {
			// RPC-level failures are not transient; don't retry them.
			return retry.Unrecoverable(errors.Wrapf(errs.UpstreamError, "%s: %s", method, res.Error.Message))
		}
		if resp.IsError() {
			return errors.Wrapf(errs.UpstreamError, "%s: http %d", method, resp.StatusCode())
		}
		return nil
	}, retry.Attempts(3), retry.Delay(200*time.Millisecond), retry.LastErrorOnly(true),
		retry.RetryIf(func(error) bool { return ctx.Err() == nil }))
	if err != nil {
		return nil, err
	}
	return res.Result, nil
}

func (c *Aria2Client) AddURI(ctx context.Context, uri, dir, filename string) (string, error) {
	opts := map[string]string{"dir": dir}
	if filename != "" {
		opts["out"] = filename
	}
	res, err := c.call(ctx, "aria2.addUri", []string{uri}, opts)
	if err != nil {
		return "", err
	}
	gid, ok := res.(string)
	if !ok {
		return "", errors.Wrap(errs.UpstreamError, "aria2.addUri: unexpected result type")
	}
	return gid, nil
}

func (c *Aria2Client) Pause(ctx context.Context, handle string) error {
	_, err := c.call(ctx, "aria2.pause", handle)
	return err
}

func (c *Aria2Client) Unpause(ctx context.Context, handle string) error {
	_, err := c.call(ctx, "aria2.unpause", handle)
	return err
}

func (c *Aria2Client) Remove(ctx context.Context, handle string) error {
	_, err := c.call(ctx, "aria2.remove", handle)
	return err
}

func (c *Aria2Client) TellStatus(ctx context.Context, handle string) (Status, error) {
	res, err := c.call(ctx, "aria2.tellStatus", handle,
		[]string{"gid", "status", "totalLength", "completedLength", "errorMessage"})
	if err != nil {
		return Status{}, err
	}
	m, ok := res.(map[string]any)
	if !ok {
		return Status{}, errors.Wrap(errs.UpstreamError, "aria2.tellStatus: unexpected result type")
	}
	st := Status{
		Handle:          asString(m["gid"]),
		ErrorMessage:    asString(m["errorMessage"]),
		TotalLength:     asInt64(m["totalLength"]),
		CompletedLength: asInt64(m["completedLength"]),
	}
	st.State = mapState(asString(m["status"]))
	return st, nil
}

func mapState(s string) string {
	switch s {
	case "active":
		return "active"
	case "waiting":
		return "waiting"
	case "paused":
		return "paused"
	case "error":
		return "error"
	case "complete":
		return "complete"
	case "removed":
		return "removed"
	default:
		return "waiting"
	}
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt64(v any) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0
	}
	return n
}
