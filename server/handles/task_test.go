package handles_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/draftsync/draftsync/internal/assembler"
	"github.com/draftsync/draftsync/internal/conf"
	"github.com/draftsync/draftsync/internal/downloader"
	"github.com/draftsync/draftsync/internal/group"
	"github.com/draftsync/draftsync/internal/job"
	"github.com/draftsync/draftsync/internal/model"
	"github.com/draftsync/draftsync/internal/push"
	"github.com/draftsync/draftsync/internal/task"
	"github.com/draftsync/draftsync/pkg/utils"
	"github.com/draftsync/draftsync/server"
)

type nopDownloader struct{}

func (nopDownloader) AddURI(ctx context.Context, uri, dir, filename string) (string, error) {
	return "h-" + filename, nil
}
func (nopDownloader) Pause(ctx context.Context, handle string) error   { return nil }
func (nopDownloader) Unpause(ctx context.Context, handle string) error { return nil }
func (nopDownloader) Remove(ctx context.Context, handle string) error  { return nil }
func (nopDownloader) TellStatus(ctx context.Context, handle string) (downloader.Status, error) {
	return downloader.Status{Handle: handle, State: "active"}, nil
}

type testEnv struct {
	registry *task.Registry
	groups   *group.Correlator
	mux      *push.Multiplexer
	srv      *httptest.Server
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)
	registry := task.NewRegistry()
	groups := group.NewCorrelator(nopDownloader{}, 0, nil)
	mux := push.NewMultiplexer(registry)
	registry.SetPublisher(mux)
	runner := job.NewRunner(registry, groups, nopDownloader{}, &assembler.LocalAssembler{DraftDir: t.TempDir()}, conf.TasksConfig{})

	engine := gin.New()
	server.Init(engine, server.Deps{
		Registry: registry,
		Runner:   runner,
		Groups:   groups,
		Mux:      mux,
	})
	srv := httptest.NewServer(engine)
	t.Cleanup(srv.Close)
	return &testEnv{registry: registry, groups: groups, mux: mux, srv: srv}
}

func getJSON(t *testing.T, url string, out any) int {
	t.Helper()
	resp, err := http.Get(url)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, utils.Json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func postJSON(t *testing.T, url, body string, out any) int {
	t.Helper()
	resp, err := http.Post(url, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	defer resp.Body.Close()
	require.NoError(t, utils.Json.NewDecoder(resp.Body).Decode(out))
	return resp.StatusCode
}

func TestGetTaskNotFound(t *testing.T) {
	env := newTestEnv(t)
	var body struct {
		Detail string `json:"detail"`
	}
	code := getJSON(t, env.srv.URL+"/api/tasks/nope", &body)
	assert.Equal(t, 404, code)
	assert.NotEmpty(t, body.Detail)
}

func TestGetTask(t *testing.T) {
	env := newTestEnv(t)
	created := env.registry.Create("demo")
	_, err := env.registry.Transition(created.ID, model.StatusDownloading)
	require.NoError(t, err)

	var got model.Task
	code := getJSON(t, env.srv.URL+"/api/tasks/"+created.ID, &got)
	assert.Equal(t, 200, code)
	assert.Equal(t, created.ID, got.ID)
	assert.Equal(t, model.StatusDownloading, got.Status)
}

func TestSubmit(t *testing.T) {
	env := newTestEnv(t)
	var ok struct {
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
	}
	code := postJSON(t, env.srv.URL+"/api/tasks/submit",
		`{"draft_name":"demo","assets":[{"url":"http://example.com/a.mp4","filename":"a.mp4","size":1000}]}`, &ok)
	require.Equal(t, 200, code)
	require.NotEmpty(t, ok.TaskID)

	got, err := env.registry.Get(ok.TaskID)
	require.NoError(t, err)
	assert.Equal(t, model.StatusPending, got.Status)
}

func TestSubmitRejection(t *testing.T) {
	env := newTestEnv(t)
	var body struct {
		TaskID  string `json:"task_id"`
		Message string `json:"message"`
	}
	code := postJSON(t, env.srv.URL+"/api/tasks/submit", `{"draft_name":"demo","assets":[]}`, &body)
	assert.Equal(t, 400, code)
	// Rejections carry a message but no task id.
	assert.Empty(t, body.TaskID)
	assert.NotEmpty(t, body.Message)
}

func TestCancelTask(t *testing.T) {
	env := newTestEnv(t)
	created := env.registry.Create("demo")

	var got model.Task
	code := postJSON(t, env.srv.URL+"/api/tasks/"+created.ID+"/cancel", `{}`, &got)
	require.Equal(t, 200, code)
	assert.Equal(t, model.StatusCancelled, got.Status)
	require.NotNil(t, got.CompletedAt)

	// Cancelling a terminal task is a state machine violation.
	var detail struct {
		Detail string `json:"detail"`
	}
	code = postJSON(t, env.srv.URL+"/api/tasks/"+created.ID+"/cancel", `{}`, &detail)
	assert.Equal(t, 409, code)
}

func TestListTasks(t *testing.T) {
	env := newTestEnv(t)
	a := env.registry.Create("a")
	b := env.registry.Create("b")
	_, err := env.registry.Transition(b.ID, model.StatusCancelled)
	require.NoError(t, err)

	var page struct {
		Content []model.Task `json:"content"`
		Total   int          `json:"total"`
	}
	code := getJSON(t, env.srv.URL+"/api/tasks?status=undone", &page)
	require.Equal(t, 200, code)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, a.ID, page.Content[0].ID)

	code = getJSON(t, env.srv.URL+"/api/tasks?status=done", &page)
	require.Equal(t, 200, code)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, b.ID, page.Content[0].ID)

	code = getJSON(t, env.srv.URL+"/api/tasks?status=bogus", &page)
	assert.Equal(t, 400, code)
}

func TestGroupControlPlane(t *testing.T) {
	env := newTestEnv(t)
	gid := env.groups.CreateGroup("task-1")
	require.NoError(t, env.groups.AddFile(gid, "h1", "/tmp/a.mp4", 1000))

	var files struct {
		Files []group.FileInfo `json:"files"`
	}
	code := getJSON(t, env.srv.URL+"/api/groups/"+gid+"/files", &files)
	require.Equal(t, 200, code)
	require.Len(t, files.Files, 1)
	assert.Equal(t, "h1", files.Files[0].Handle)

	var okBody struct {
		Success bool `json:"success"`
	}
	code = postJSON(t, env.srv.URL+"/api/groups/"+gid+"/pause", `{"handle":"h1"}`, &okBody)
	assert.Equal(t, 200, code)
	assert.True(t, okBody.Success)

	var errBody struct {
		Error string `json:"error"`
	}
	code = postJSON(t, env.srv.URL+"/api/groups/"+gid+"/pause", `{"handle":"stranger"}`, &errBody)
	assert.Equal(t, 409, code)
	assert.NotEmpty(t, errBody.Error)
}
