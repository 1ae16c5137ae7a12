package backend

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/maxpert/tenantdb/cfg"
	"github.com/maxpert/tenantdb/dialect"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWithReturning(t *testing.T) {
	tests := []struct {
		name     string
		sql      string
		expected string
		appended bool
	}{
		{"insert", "INSERT INTO students (name) VALUES ($1)", "INSERT INTO students (name) VALUES ($1) RETURNING *", true},
		{"trailing semicolon", "insert into t values (1);\n", "insert into t values (1) RETURNING *", true},
		{"leading whitespace", "\n  INSERT INTO t VALUES (1)", "\n  INSERT INTO t VALUES (1) RETURNING *", true},
		{"already returning", "INSERT INTO t VALUES (1) RETURNING id", "INSERT INTO t VALUES (1) RETURNING id", false},
		{"update", "UPDATE t SET a = 1", "UPDATE t SET a = 1", false},
		{"select", "SELECT * FROM inserts", "SELECT * FROM inserts", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sql, ok := withReturning(tt.sql)
			assert.Equal(t, tt.expected, sql)
			assert.Equal(t, tt.appended, ok)
		})
	}
}

func TestSchemaScope(t *testing.T) {
	_, ok := SchemaFrom(context.Background())
	assert.False(t, ok)

	_, ok = SchemaFrom(WithSchema(context.Background(), ""))
	assert.False(t, ok)

	schema, ok := SchemaFrom(WithSchema(context.Background(), "school_a"))
	assert.True(t, ok)
	assert.Equal(t, "school_a", schema)
}

func TestCodecByName(t *testing.T) {
	for _, name := range []string{"", "json", "msgpack"} {
		codec, err := CodecByName(name)
		require.NoError(t, err, name)

		data, err := codec.Marshal(RPCRequest{ID: "1", Method: "get", SQL: "SELECT ?", Params: []any{"x"}})
		require.NoError(t, err)

		var req RPCRequest
		require.NoError(t, codec.Unmarshal(data, &req))
		assert.Equal(t, "get", req.Method)
		assert.Equal(t, "SELECT ?", req.SQL)
		assert.Equal(t, []any{"x"}, req.Params)
	}

	_, err := CodecByName("xml")
	assert.Error(t, err)
}

func TestSelect(t *testing.T) {
	translator, err := dialect.NewTranslator(16)
	require.NoError(t, err)
	deps := Deps{Translator: translator}

	tests := []struct {
		name     string
		remote   cfg.RemoteBackendConfiguration
		expected string
	}{
		{"disabled", cfg.RemoteBackendConfiguration{URL: "http://x", Key: "k"}, sqlBackendName},
		{"enabled without key", cfg.RemoteBackendConfiguration{Enabled: true, URL: "http://x"}, sqlBackendName},
		{"enabled without url", cfg.RemoteBackendConfiguration{Enabled: true, Key: "k"}, sqlBackendName},
		{"enabled and configured", cfg.RemoteBackendConfiguration{Enabled: true, URL: "http://x", Key: "k", Codec: "msgpack"}, remoteBackendName},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := cfg.DefaultConfiguration()
			c.Remote = tt.remote
			b, err := Select(c, deps)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, b.Name())
		})
	}

	c := cfg.DefaultConfiguration()
	c.Remote = cfg.RemoteBackendConfiguration{Enabled: true, URL: "http://x", Key: "k", Codec: "xml"}
	_, err = Select(c, deps)
	assert.Error(t, err)
}

// rpcServer answers /rpc with handle and records the last request
type rpcServer struct {
	*httptest.Server
	mu      sync.Mutex
	headers http.Header
	last    RPCRequest
}

func (s *rpcServer) request() (RPCRequest, http.Header) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.last, s.headers
}

func newRPCServer(t *testing.T, codec Codec, handle func(RPCRequest) (int, RPCResponse)) *rpcServer {
	s := &rpcServer{}
	s.Server = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/rpc" || r.Method != http.MethodPost {
			http.NotFound(w, r)
			return
		}
		body, err := io.ReadAll(r.Body)
		require.NoError(t, err)
		var req RPCRequest
		require.NoError(t, codec.Unmarshal(body, &req))

		s.mu.Lock()
		s.last = req
		s.headers = r.Header.Clone()
		s.mu.Unlock()

		status, resp := handle(req)
		resp.ID = req.ID
		data, err := codec.Marshal(resp)
		require.NoError(t, err)
		w.Header().Set("Content-Type", codec.ContentType())
		w.WriteHeader(status)
		_, _ = w.Write(data)
	}))
	t.Cleanup(s.Close)
	return s
}

func TestRemoteBackend(t *testing.T) {
	for _, codec := range []Codec{jsonCodec{}, msgpackCodec{}} {
		t.Run(codec.ContentType(), func(t *testing.T) {
			srv := newRPCServer(t, codec, func(req RPCRequest) (int, RPCResponse) {
				switch req.Method {
				case "ping":
					return http.StatusOK, RPCResponse{}
				case "run":
					return http.StatusOK, RPCResponse{Changes: 1, LastID: "7"}
				case "get":
					return http.StatusOK, RPCResponse{Rows: []Row{{"name": "Ada"}}}
				case "all":
					return http.StatusOK, RPCResponse{Rows: []Row{{"name": "Ada"}, {"name": "Alan"}}}
				}
				return http.StatusBadRequest, RPCResponse{Error: &RPCError{Code: "unknown_method", Message: req.Method}}
			})

			b := NewRemoteBackend(srv.URL+"/", "secret", codec, 0)
			defer b.Close()
			ctx := WithSchema(context.Background(), "school_a")

			require.NoError(t, b.Init(ctx))
			req, headers := srv.request()
			assert.Equal(t, "ping", req.Method)
			assert.Equal(t, "Bearer secret", headers.Get("Authorization"))
			assert.Equal(t, "secret", headers.Get("apikey"))
			assert.Equal(t, codec.ContentType(), headers.Get("Content-Type"))
			assert.NotEmpty(t, req.ID)
			assert.Equal(t, req.ID, headers.Get("X-Request-Id"))

			res, err := b.Run(ctx, "INSERT INTO students (name) VALUES (?)", "Ada")
			require.NoError(t, err)
			assert.Equal(t, int64(1), res.Changes)
			assert.Equal(t, "7", res.ID)
			req, _ = srv.request()
			assert.Equal(t, "school_a", req.Schema)
			assert.Equal(t, "INSERT INTO students (name) VALUES (?)", req.SQL)

			row, err := b.Get(ctx, "SELECT name FROM students WHERE id = ?", 7)
			require.NoError(t, err)
			assert.Equal(t, "Ada", row["name"])

			rows, err := b.All(ctx, "SELECT name FROM students")
			require.NoError(t, err)
			assert.Len(t, rows, 2)
		})
	}
}

func TestRemoteBackend_Errors(t *testing.T) {
	srv := newRPCServer(t, jsonCodec{}, func(req RPCRequest) (int, RPCResponse) {
		if req.Method == "get" {
			return http.StatusOK, RPCResponse{}
		}
		return http.StatusUnauthorized, RPCResponse{Error: &RPCError{Code: "unauthorized", Message: "bad key"}}
	})
	b := NewRemoteBackend(srv.URL, "wrong", nil, 0)
	ctx := context.Background()

	err := b.Init(ctx)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "unauthorized: bad key")

	var rpcErr *RPCError
	_, err = b.All(ctx, "SELECT 1")
	require.ErrorAs(t, err, &rpcErr)
	assert.Equal(t, "unauthorized", rpcErr.Code)

	row, err := b.Get(ctx, "SELECT 1 WHERE false")
	require.NoError(t, err)
	assert.Nil(t, row)

	plain := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gateway down", http.StatusBadGateway)
	}))
	defer plain.Close()

	_, err = NewRemoteBackend(plain.URL, "k", nil, 0).Run(ctx, "SELECT 1")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "HTTP 502")
}
