package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"
)

const remoteBackendName = "remote"

// RPCRequest is the body POSTed to {endpoint}/rpc
type RPCRequest struct {
	ID     string `json:"id" msgpack:"id"`
	Method string `json:"method" msgpack:"method"`
	SQL    string `json:"sql,omitempty" msgpack:"sql,omitempty"`
	Params []any  `json:"params,omitempty" msgpack:"params,omitempty"`
	Schema string `json:"schema,omitempty" msgpack:"schema,omitempty"`
}

// RPCResponse is the reply to an RPCRequest
type RPCResponse struct {
	ID      string    `json:"id" msgpack:"id"`
	Rows    []Row     `json:"rows,omitempty" msgpack:"rows,omitempty"`
	Changes int64     `json:"changes,omitempty" msgpack:"changes,omitempty"`
	LastID  any       `json:"lastId,omitempty" msgpack:"lastId,omitempty"`
	Error   *RPCError `json:"error,omitempty" msgpack:"error,omitempty"`
}

// RPCError is a failure reported by the remote service
type RPCError struct {
	Code    string `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
}

func (e *RPCError) Error() string {
	if e.Code == "" {
		return e.Message
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// RemoteBackend forwards statements to a hosted data service over HTTP.
// Templates are sent untranslated; the service owns placeholder handling.
type RemoteBackend struct {
	endpoint string
	key      string
	codec    Codec
	client   *http.Client
}

func NewRemoteBackend(endpoint, key string, codec Codec, timeout time.Duration) *RemoteBackend {
	if codec == nil {
		codec = jsonCodec{}
	}
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &RemoteBackend{
		endpoint: strings.TrimRight(endpoint, "/"),
		key:      key,
		codec:    codec,
		client:   &http.Client{Timeout: timeout},
	}
}

func (b *RemoteBackend) Name() string { return remoteBackendName }

// Init checks the service answers the ping procedure with the configured credential
func (b *RemoteBackend) Init(ctx context.Context) error {
	if _, err := b.call(ctx, "ping", "", nil); err != nil {
		return fmt.Errorf("remote backend unreachable: %w", err)
	}
	return nil
}

func (b *RemoteBackend) Close() {
	b.client.CloseIdleConnections()
}

func (b *RemoteBackend) Run(ctx context.Context, sql string, params ...any) (res RunResult, err error) {
	start := time.Now()
	defer func() { observe(remoteBackendName, "run", start, err) }()

	resp, err := b.call(ctx, "run", sql, params)
	if err != nil {
		return res, err
	}
	res.Changes = resp.Changes
	res.ID = resp.LastID
	return res, nil
}

func (b *RemoteBackend) Get(ctx context.Context, sql string, params ...any) (row Row, err error) {
	start := time.Now()
	defer func() { observe(remoteBackendName, "get", start, err) }()

	resp, err := b.call(ctx, "get", sql, params)
	if err != nil || len(resp.Rows) == 0 {
		return nil, err
	}
	return resp.Rows[0], nil
}

func (b *RemoteBackend) All(ctx context.Context, sql string, params ...any) (rows []Row, err error) {
	start := time.Now()
	defer func() { observe(remoteBackendName, "all", start, err) }()

	resp, err := b.call(ctx, "all", sql, params)
	if err != nil {
		return nil, err
	}
	return resp.Rows, nil
}

func (b *RemoteBackend) call(ctx context.Context, method, sql string, params []any) (*RPCResponse, error) {
	req := RPCRequest{
		ID:     uuid.NewString(),
		Method: method,
		SQL:    sql,
		Params: params,
	}
	if schema, ok := SchemaFrom(ctx); ok {
		req.Schema = schema
	}

	body, err := b.codec.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to encode %s request: %w", method, err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, b.endpoint+"/rpc", bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", b.codec.ContentType())
	httpReq.Header.Set("Accept", b.codec.ContentType())
	httpReq.Header.Set("Authorization", "Bearer "+b.key)
	httpReq.Header.Set("apikey", b.key)
	httpReq.Header.Set("X-Request-Id", req.ID)

	httpResp, err := b.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("%s request failed: %w", method, err)
	}
	defer httpResp.Body.Close()

	data, err := io.ReadAll(httpResp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read %s response: %w", method, err)
	}

	var resp RPCResponse
	decodeErr := b.codec.Unmarshal(data, &resp)

	if httpResp.StatusCode < 200 || httpResp.StatusCode >= 300 {
		if decodeErr == nil && resp.Error != nil {
			return nil, resp.Error
		}
		return nil, fmt.Errorf("%s request returned HTTP %d", method, httpResp.StatusCode)
	}
	if decodeErr != nil {
		return nil, fmt.Errorf("failed to decode %s response: %w", method, decodeErr)
	}
	if resp.Error != nil {
		return nil, resp.Error
	}
	if resp.ID != "" && resp.ID != req.ID {
		log.Warn().Str("request_id", req.ID).Str("response_id", resp.ID).Msg("Remote response id mismatch")
	}
	return &resp, nil
}
