package camunda

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nickerso/physiome-coko/internal/domain"
	"github.com/nickerso/physiome-coko/internal/workflow"
)

func newTestClient(t *testing.T, handler http.HandlerFunc) *Client {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewClientWithURL(srv.URL, slog.Default())
}

func TestStartProcess_SendsBusinessKeyAndVariables(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"id":"pi-1"}`))
	})

	err := client.StartProcess(context.Background(), "submission-process", "BK-1",
		[]workflow.StartInstruction{workflow.StartAfterActivity("CurationActivity")},
		workflow.Variables{"phase": {Value: "published"}},
	)
	require.NoError(t, err)

	assert.Equal(t, "/process-definition/key/submission-process/start", gotPath)
	assert.Equal(t, "BK-1", gotBody["businessKey"])

	variables := gotBody["variables"].(map[string]any)
	assert.Equal(t, "published", variables["phase"].(map[string]any)["value"])

	instructions := gotBody["startInstructions"].([]any)
	require.Len(t, instructions, 1)
	assert.Equal(t, "startAfterActivity", instructions[0].(map[string]any)["type"])
	assert.Equal(t, "CurationActivity", instructions[0].(map[string]any)["activityId"])
}

func TestListTasks_QueriesByBusinessKey(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/task", r.URL.Path)
		assert.Equal(t, "BK-1", r.URL.Query().Get("processInstanceBusinessKey"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`[
			{"id":"t1","name":"Curate","taskDefinitionKey":"curation-task"},
			{"id":"t2","name":"Review","taskDefinitionKey":"review-task"}
		]`))
	})

	tasks, err := client.ListTasks(context.Background(), "BK-1")
	require.NoError(t, err)
	require.Len(t, tasks, 2)
	assert.Equal(t, "t1", tasks[0].ID)
	assert.Equal(t, "curation-task", tasks[0].TaskDefinitionKey)
}

func TestListTasks_EmptyBodyYieldsEmptySlice(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[]`))
	})

	tasks, err := client.ListTasks(context.Background(), "BK-1")
	require.NoError(t, err)
	assert.NotNil(t, tasks)
	assert.Empty(t, tasks)
}

func TestFindInstance_NoMatchReturnsNil(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "BK-1", r.URL.Query().Get("businessKey"))
		w.Write([]byte(`[]`))
	})

	pi, err := client.FindInstance(context.Background(), "BK-1")
	require.NoError(t, err)
	assert.Nil(t, pi)
}

func TestFindInstance_ReturnsFirstMatch(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`[{"id":"pi-1","businessKey":"BK-1"},{"id":"pi-2","businessKey":"BK-1"}]`))
	})

	pi, err := client.FindInstance(context.Background(), "BK-1")
	require.NoError(t, err)
	require.NotNil(t, pi)
	assert.Equal(t, "pi-1", pi.ID)
	assert.Equal(t, "BK-1", pi.BusinessKey)
}

func TestDeleteInstance_404IsIdempotentSuccess(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodDelete, r.Method)
		w.WriteHeader(http.StatusNotFound)
	})

	err := client.DeleteInstance(context.Background(), "pi-gone")
	assert.NoError(t, err)
}

func TestDeleteInstance_ServerErrorIsEngineError(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	})

	err := client.DeleteInstance(context.Background(), "pi-1")
	assert.True(t, errors.Is(err, domain.ErrEngine), "got %v", err)
}

func TestCompleteTask_PostsVariables(t *testing.T) {
	t.Parallel()

	var gotPath string
	var gotBody map[string]any
	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		raw, _ := io.ReadAll(r.Body)
		require.NoError(t, json.Unmarshal(raw, &gotBody))
		w.WriteHeader(http.StatusNoContent)
	})

	err := client.CompleteTask(context.Background(), "t1",
		workflow.Variables{"phase": {Value: "published"}})
	require.NoError(t, err)

	assert.Equal(t, "/task/t1/complete", gotPath)
	variables := gotBody["variables"].(map[string]any)
	assert.Equal(t, "published", variables["phase"].(map[string]any)["value"])
}

func TestEngineErrors_AreUniform(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
		w.Write([]byte("upstream broke"))
	})

	_, err := client.ListTasks(context.Background(), "BK-1")
	assert.True(t, errors.Is(err, domain.ErrEngine), "got %v", err)

	err = client.StartProcess(context.Background(), "k", "bk", nil, nil)
	assert.True(t, errors.Is(err, domain.ErrEngine), "got %v", err)

	err = client.CompleteTask(context.Background(), "t1", nil)
	assert.True(t, errors.Is(err, domain.ErrEngine), "got %v", err)
}

func TestPing(t *testing.T) {
	t.Parallel()

	client := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/version", r.URL.Path)
		w.Write([]byte(`{"version":"7.20.0"}`))
	})

	assert.NoError(t, client.Ping(context.Background()))
}
