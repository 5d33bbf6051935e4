//go:build e2e

package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/loomchat/loom-memory/internal/api/handlers"
	"github.com/loomchat/loom-memory/internal/embedding"
	"github.com/loomchat/loom-memory/internal/repository"
	"github.com/loomchat/loom-memory/internal/server"
	"github.com/loomchat/loom-memory/internal/service"
	"github.com/loomchat/loom-memory/internal/testutil"
)

const testAPIKey = "loom_e2e_test_key"

// E2ETestEnv holds all resources needed for E2E tests
type E2ETestEnv struct {
	T            *testing.T
	Ctx          context.Context
	PostgresC    *testutil.PostgresContainer
	Pool         *pgxpool.Pool
	ServerURL    string
	ServerCloser func()
	HTTPClient   *http.Client
	DocDir       string
}

// SetupE2EEnv starts a database container and an in-process server wired
// with the deterministic local embedding model.
func SetupE2EEnv(t *testing.T) *E2ETestEnv {
	ctx := context.Background()

	pgC := testutil.NewPostgresContainer(ctx, t)
	pool := testutil.NewTestPool(ctx, t, pgC, "../../migrations")

	port, err := getFreePort()
	if err != nil {
		t.Fatalf("failed to get free port: %v", err)
	}

	serverURL, serverCloser := startServer(t, pool, port)

	docDir, err := os.MkdirTemp("", "loom-e2e-docs-*")
	if err != nil {
		t.Fatalf("failed to create doc dir: %v", err)
	}

	return &E2ETestEnv{
		T:            t,
		Ctx:          ctx,
		PostgresC:    pgC,
		Pool:         pool,
		ServerURL:    serverURL,
		ServerCloser: serverCloser,
		HTTPClient:   &http.Client{Timeout: 30 * time.Second},
		DocDir:       docDir,
	}
}

// Cleanup releases all resources
func (e *E2ETestEnv) Cleanup() {
	if e.ServerCloser != nil {
		e.ServerCloser()
	}
	if e.Pool != nil {
		e.Pool.Close()
	}
	if e.PostgresC != nil {
		e.PostgresC.Terminate(e.Ctx)
	}
	if e.DocDir != "" {
		os.RemoveAll(e.DocDir)
	}
}

// WriteDoc writes a document file the server can index and returns its path.
func (e *E2ETestEnv) WriteDoc(name, content string) string {
	path := filepath.Join(e.DocDir, name)
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		e.T.Fatalf("failed to write doc %s: %v", name, err)
	}
	return path
}

// APIResponse represents a standard API response
type APIResponse struct {
	Data  json.RawMessage `json:"data"`
	Error string          `json:"error,omitempty"`
}

// Get performs an authenticated GET request
func (e *E2ETestEnv) Get(path string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, testAPIKey)
}

// Post performs an authenticated POST request
func (e *E2ETestEnv) Post(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("POST", path, body, testAPIKey)
}

// Patch performs an authenticated PATCH request
func (e *E2ETestEnv) Patch(path string, body interface{}) (*APIResponse, error) {
	return e.doRequest("PATCH", path, body, testAPIKey)
}

// Delete performs an authenticated DELETE request
func (e *E2ETestEnv) Delete(path string) (*APIResponse, error) {
	return e.doRequest("DELETE", path, nil, testAPIKey)
}

// GetWithKey performs a GET request with an explicit bearer token.
func (e *E2ETestEnv) GetWithKey(path, key string) (*APIResponse, error) {
	return e.doRequest("GET", path, nil, key)
}

func (e *E2ETestEnv) doRequest(method, path string, body interface{}, authToken string) (*APIResponse, error) {
	url := e.ServerURL + path

	var reqBody io.Reader
	if body != nil {
		jsonData, err := json.Marshal(body)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal body: %w", err)
		}
		reqBody = bytes.NewReader(jsonData)
	}

	req, err := http.NewRequest(method, url, reqBody)
	if err != nil {
		return nil, err
	}

	if authToken != "" {
		req.Header.Set("Authorization", "Bearer "+authToken)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := e.HTTPClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode == http.StatusNoContent {
		return &APIResponse{}, nil
	}

	var apiResp APIResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		if resp.StatusCode >= 400 {
			return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(respBody))
		}
		return nil, err
	}

	if resp.StatusCode >= 400 {
		return nil, fmt.Errorf("HTTP %d: %s", resp.StatusCode, apiResp.Error)
	}

	return &apiResp, nil
}

// startServer wires the full stack against the pool and serves it
func startServer(t *testing.T, pool *pgxpool.Pool, port int) (string, func()) {
	factRepo := repository.NewFactRepository(pool)
	summaryRepo := repository.NewSummaryRepository(pool)
	relationshipRepo := repository.NewRelationshipRepository(pool)
	conversationRepo := repository.NewConversationRepository(pool)
	embeddingJobRepo := repository.NewEmbeddingJobRepository(pool)
	documentRepo := repository.NewDocumentRepository(pool)
	txRunner := repository.NewTxRunner(pool)

	embedder := embedding.NewLocalModel()

	memorySvc := service.NewSharedMemoryService(
		factRepo, summaryRepo, relationshipRepo, conversationRepo, embeddingJobRepo, embedder)
	kbSvc := service.NewKnowledgeBaseService(documentRepo, txRunner, embedder, nil)

	router := server.NewRouter(server.RouterConfig{
		APIKey:          testAPIKey,
		MemoryHandler:   handlers.NewMemoryHandler(memorySvc),
		DocumentHandler: handlers.NewDocumentHandler(kbSvc),
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", port),
		Handler: router,
	}

	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			t.Logf("server error: %v", err)
		}
	}()

	serverURL := fmt.Sprintf("http://localhost:%d", port)
	waitForServer(t, serverURL, 10*time.Second)

	return serverURL, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(ctx)
	}
}

func waitForServer(t *testing.T, url string, timeout time.Duration) {
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		resp, err := http.Get(url + "/health")
		if err == nil {
			resp.Body.Close()
			if resp.StatusCode == http.StatusOK {
				return
			}
		}
		time.Sleep(100 * time.Millisecond)
	}
	t.Fatalf("server did not start within %v", timeout)
}

func getFreePort() (int, error) {
	addr, err := net.ResolveTCPAddr("tcp", "localhost:0")
	if err != nil {
		return 0, err
	}

	l, err := net.ListenTCP("tcp", addr)
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
