package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/ethpandaops/dbbot/pkg/config"
	"github.com/ethpandaops/dbbot/pkg/dbstore"
	"github.com/ethpandaops/dbbot/pkg/mapper"
	"github.com/ethpandaops/dbbot/pkg/report"
	"github.com/ethpandaops/dbbot/pkg/result"
)

func testConfig() *config.Config {
	return &config.Config{
		Database: config.DatabaseConfig{
			Driver: "sqlite",
			SQLite: config.SQLiteDatabaseConfig{Path: config.InMemoryPath},
		},
		Import: config.ImportConfig{BatchSize: config.DefaultBatchSize},
		Report: config.ReportConfig{Title: "Robot failures"},
		API: config.APIConfig{
			Server: config.APIServerConfig{Listen: "127.0.0.1:0"},
		},
	}
}

func seededRun() *result.Run {
	start := time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)

	return &result.Run{
		Source: "output.xml",
		Suite: &result.Suite{
			ID:        "s1",
			Name:      "Shop",
			Source:    "tests",
			Status:    result.StatusFail,
			StartTime: start,
			EndTime:   start.Add(time.Minute),
			Tests: []*result.Test{
				{
					ID:     "s1-t1",
					Name:   "checkout <fails>",
					Status: result.StatusFail,
					Keywords: []*result.Keyword{
						{Name: "Click Button", Type: result.KeywordTypeKeyword, Status: result.StatusFail},
					},
				},
				{ID: "s1-t2", Name: "browse", Status: result.StatusPass},
			},
		},
	}
}

// newTestServer returns a server wired to a seeded in-memory store.
func newTestServer(t *testing.T, cfg *config.Config) (*server, dbstore.Store) {
	t.Helper()

	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	st := dbstore.NewStore(log, &cfg.Database, cfg.Import.BatchSize)
	require.NoError(t, st.Start(context.Background()))

	m := mapper.New(log, mapper.Options{IncludeKeywords: true})
	require.NoError(t, st.Transaction(context.Background(), func(w *dbstore.Writer) error {
		_, err := m.Map(context.Background(), w, seededRun(), "fp-api")

		return err
	}))

	s := newServer(log, cfg)
	s.store = st
	s.reader = report.NewReader(st.DB())

	t.Cleanup(func() {
		close(s.done)
		_ = st.Stop()
	})

	return s, st
}

func get(t *testing.T, h http.Handler, path string, mutate ...func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()

	req := httptest.NewRequest(http.MethodGet, path, nil)
	for _, fn := range mutate {
		fn(req)
	}

	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)

	return rec
}

func TestHandlers(t *testing.T) {
	s, st := newTestServer(t, testConfig())
	h := s.buildRouter()

	var suite dbstore.Suite
	require.NoError(t, st.DB().Where("name = ?", "Shop").First(&suite).Error)

	var failing dbstore.Test
	require.NoError(t, st.DB().Where("name = ?", "checkout <fails>").First(&failing).Error)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantNames  []string
	}{
		{name: "failed suites", path: "/api/v1/failures/suites", wantStatus: http.StatusOK, wantNames: []string{"Shop"}},
		{name: "failed tests", path: "/api/v1/failures/tests", wantStatus: http.StatusOK, wantNames: []string{"checkout <fails>"}},
		{
			name:       "failed tests of suite",
			path:       "/api/v1/failures/suites/" + itoa(suite.ID) + "/tests",
			wantStatus: http.StatusOK,
			wantNames:  []string{"checkout <fails>"},
		},
		{name: "unknown suite", path: "/api/v1/failures/suites/9999/tests", wantStatus: http.StatusOK, wantNames: []string{}},
		{name: "failed keywords", path: "/api/v1/failures/keywords", wantStatus: http.StatusOK, wantNames: []string{"Click Button"}},
		{
			name:       "failed keywords of test",
			path:       "/api/v1/failures/tests/" + itoa(failing.ID) + "/keywords",
			wantStatus: http.StatusOK,
			wantNames:  []string{"Click Button"},
		},
		{name: "limit zero means all", path: "/api/v1/failures/tests?limit=0", wantStatus: http.StatusOK, wantNames: []string{"checkout <fails>"}},
		{name: "invalid limit", path: "/api/v1/failures/tests?limit=abc", wantStatus: http.StatusBadRequest},
		{name: "negative limit", path: "/api/v1/failures/suites?limit=-1", wantStatus: http.StatusBadRequest},
		{name: "invalid id", path: "/api/v1/failures/suites/abc/tests", wantStatus: http.StatusBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, tt.path)
			require.Equal(t, tt.wantStatus, rec.Code, rec.Body.String())

			if tt.wantStatus != http.StatusOK {
				var resp errorResponse
				require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
				assert.NotEmpty(t, resp.Error)

				return
			}

			var resp struct {
				Items []struct {
					Name      string `json:"name"`
					FailCount int64  `json:"fail_count"`
				} `json:"items"`
			}
			require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))

			names := make([]string, 0, len(resp.Items))
			for _, item := range resp.Items {
				names = append(names, item.Name)
				assert.Equal(t, int64(1), item.FailCount)
			}

			assert.Equal(t, tt.wantNames, names)
		})
	}
}

func TestHandleHealthAndRuns(t *testing.T) {
	s, _ := newTestServer(t, testConfig())
	h := s.buildRouter()

	rec := get(t, h, "/api/v1/health")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rec.Body.String())

	rec = get(t, h, "/api/v1/runs?limit=5")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp listResponse[report.RunSummary]
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, 5, resp.Limit)
	require.Len(t, resp.Items, 1)
	assert.Equal(t, "output.xml", resp.Items[0].SourceFile)
	assert.Equal(t, int64(1), resp.Items[0].Passed)
	assert.Equal(t, int64(1), resp.Items[0].Failed)
}

func TestHandleReport(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	rec := get(t, s.buildRouter(), "/api/v1/report")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Header().Get("Content-Type"), "text/html")

	body := rec.Body.String()
	assert.Contains(t, body, "<title>Robot failures</title>")
	assert.Contains(t, body, "checkout &lt;fails&gt;")
}

func TestMutationRoutesAbsent(t *testing.T) {
	s, _ := newTestServer(t, testConfig())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/runs", strings.NewReader("{}"))
	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	assert.Equal(t, http.StatusMethodNotAllowed, rec.Code)
}

func TestBasicAuth(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)

	cfg := testConfig()
	cfg.API.Auth.Basic = config.BasicAuthConfig{
		Enabled: true,
		Users:   []config.BasicAuthUser{{Username: "ci", PasswordHash: string(hash)}},
	}

	s, _ := newTestServer(t, cfg)
	h := s.buildRouter()

	tests := []struct {
		name       string
		user, pass string
		setAuth    bool
		wantStatus int
	}{
		{name: "no credentials", wantStatus: http.StatusUnauthorized},
		{name: "wrong password", user: "ci", pass: "nope", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "unknown user", user: "bob", pass: "s3cret", setAuth: true, wantStatus: http.StatusUnauthorized},
		{name: "valid", user: "ci", pass: "s3cret", setAuth: true, wantStatus: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := get(t, h, "/api/v1/failures/suites", func(r *http.Request) {
				if tt.setAuth {
					r.SetBasicAuth(tt.user, tt.pass)
				}
			})
			assert.Equal(t, tt.wantStatus, rec.Code)

			if tt.wantStatus == http.StatusUnauthorized {
				assert.NotEmpty(t, rec.Header().Get("WWW-Authenticate"))
			}
		})
	}

	// Health stays public.
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/health").Code)
}

func TestRateLimit(t *testing.T) {
	cfg := testConfig()
	cfg.API.Server.RateLimit = config.RateLimitConfig{Enabled: true, RequestsPerMinute: 2}

	s, _ := newTestServer(t, cfg)
	h := s.buildRouter()

	from := func(ip string) func(*http.Request) {
		return func(r *http.Request) { r.Header.Set("X-Forwarded-For", ip) }
	}

	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/runs", from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/runs", from("10.0.0.1")).Code)
	assert.Equal(t, http.StatusTooManyRequests, get(t, h, "/api/v1/runs", from("10.0.0.1")).Code)

	// Other clients have their own budget.
	assert.Equal(t, http.StatusOK, get(t, h, "/api/v1/runs", from("10.0.0.2")).Code)
}

func TestExtractIP(t *testing.T) {
	tests := []struct {
		name       string
		xff        string
		remoteAddr string
		want       string
	}{
		{name: "remote addr", remoteAddr: "192.0.2.1:1234", want: "192.0.2.1"},
		{name: "forwarded chain", xff: "203.0.113.7, 10.0.0.1", remoteAddr: "10.0.0.1:80", want: "203.0.113.7"},
		{name: "remote addr without port", remoteAddr: "192.0.2.9", want: "192.0.2.9"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.RemoteAddr = tt.remoteAddr

			if tt.xff != "" {
				req.Header.Set("X-Forwarded-For", tt.xff)
			}

			assert.Equal(t, tt.want, extractIP(req))
		})
	}
}

func TestRateLimiterMap_Evict(t *testing.T) {
	rl := newRateLimiterMap(10)
	rl.getLimiter("a")
	rl.getLimiter("b")

	rl.evict(time.Now().Add(time.Minute))
	assert.Empty(t, rl.limiters)
}

func TestCORSPreflight(t *testing.T) {
	cfg := testConfig()
	cfg.API.Server.CORSOrigins = []string{"https://ci.example.com"}

	s, _ := newTestServer(t, cfg)

	req := httptest.NewRequest(http.MethodOptions, "/api/v1/runs", nil)
	req.Header.Set("Origin", "https://ci.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)

	rec := httptest.NewRecorder()
	s.buildRouter().ServeHTTP(rec, req)

	assert.Equal(t, "https://ci.example.com", rec.Header().Get("Access-Control-Allow-Origin"))
}

func TestServer_StartStop(t *testing.T) {
	log := logrus.New()
	log.SetLevel(logrus.ErrorLevel)

	srv := NewServer(log, testConfig())
	require.NoError(t, srv.Start(context.Background()))
	require.NoError(t, srv.Stop())
}

func itoa(id uint) string {
	return strconv.FormatUint(uint64(id), 10)
}
