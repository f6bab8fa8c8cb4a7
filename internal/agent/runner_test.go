package agent

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/edvin/fleet/internal/model"
)

type mockClient struct {
	mock.Mock
}

func (m *mockClient) Heartbeat(ctx context.Context, hb model.Heartbeat) (*HeartbeatResponse, error) {
	args := m.Called(ctx, hb)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(*HeartbeatResponse), args.Error(1)
}

func (m *mockClient) PollJobs(ctx context.Context) ([]model.Job, error) {
	args := m.Called(ctx)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).([]model.Job), args.Error(1)
}

func (m *mockClient) ReportResult(ctx context.Context, jobID, status string, output map[string]any) error {
	args := m.Called(ctx, jobID, status, output)
	return args.Error(0)
}

var runnerNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestRunner(client Client) *Runner {
	r := NewRunner(client, Config{
		Version:           "1.0.0",
		Roles:             []string{model.NodeRoleGame},
		DiskPath:          "/data",
		HeartbeatInterval: time.Minute,
		PollInterval:      time.Second,
	}, zerolog.Nop())
	r.now = func() time.Time { return runnerNow }
	r.statDisk = func(path string, now time.Time) (*model.DiskStats, error) {
		return diskStats(1000, 400, now), nil
	}
	return r
}

func job(id, jobType string) model.Job {
	return model.Job{ID: id, Type: jobType, Payload: map[string]string{model.JobPayloadAgentID: "node-1"}}
}

func TestRunner_PollRunsJobsInOrder(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)

	var ran []string
	r.Handle("instance.create", func(ctx context.Context, j model.Job) (map[string]any, error) {
		ran = append(ran, j.ID)
		return map[string]any{"pid": 42}, nil
	})

	client.On("PollJobs", mock.Anything).Return([]model.Job{job("j1", "instance.create"), job("j2", "instance.create")}, nil)
	client.On("ReportResult", mock.Anything, "j1", model.JobStatusSucceeded, map[string]any{"pid": 42}).Return(nil)
	client.On("ReportResult", mock.Anything, "j2", model.JobStatusSucceeded, map[string]any{"pid": 42}).Return(nil)

	require.NoError(t, r.pollOnce(context.Background()))
	assert.Equal(t, []string{"j1", "j2"}, ran)
	client.AssertExpectations(t)
}

func TestRunner_UnsupportedJobFails(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)

	client.On("PollJobs", mock.Anything).Return([]model.Job{job("j1", "voice.create")}, nil)
	client.On("ReportResult", mock.Anything, "j1", model.JobStatusFailed, map[string]any{"error": "unsupported job type voice.create"}).Return(nil)

	require.NoError(t, r.pollOnce(context.Background()))
	client.AssertExpectations(t)
}

func TestRunner_HandlerErrorReportsFailure(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)
	r.Handle("instance.delete", func(ctx context.Context, j model.Job) (map[string]any, error) {
		return map[string]any{"exit_code": 1}, errors.New("container not found")
	})

	client.On("PollJobs", mock.Anything).Return([]model.Job{job("j1", "instance.delete")}, nil)
	client.On("ReportResult", mock.Anything, "j1", model.JobStatusFailed,
		map[string]any{"exit_code": 1, "error": "container not found"}).Return(nil)

	require.NoError(t, r.pollOnce(context.Background()))
	client.AssertExpectations(t)
}

func TestRunner_RetriesUnreportedResult(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)
	r.Handle("instance.create", func(ctx context.Context, j model.Job) (map[string]any, error) {
		return nil, nil
	})

	client.On("PollJobs", mock.Anything).Return([]model.Job{job("j1", "instance.create")}, nil).Once()
	client.On("ReportResult", mock.Anything, "j1", model.JobStatusSucceeded, mock.Anything).
		Return(&APIError{StatusCode: http.StatusServiceUnavailable}).Once()

	require.NoError(t, r.pollOnce(context.Background()))
	require.Len(t, r.pending, 1)

	client.On("ReportResult", mock.Anything, "j1", model.JobStatusSucceeded, mock.Anything).Return(nil).Once()
	client.On("PollJobs", mock.Anything).Return([]model.Job{}, nil).Once()

	require.NoError(t, r.pollOnce(context.Background()))
	assert.Empty(t, r.pending)
	client.AssertExpectations(t)
}

func TestRunner_DropsRejectedResult(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)

	client.On("PollJobs", mock.Anything).Return([]model.Job{job("j1", "voice.create")}, nil)
	client.On("ReportResult", mock.Anything, "j1", model.JobStatusFailed, mock.Anything).
		Return(&APIError{StatusCode: http.StatusConflict, Code: "job_terminal"})

	require.NoError(t, r.pollOnce(context.Background()))
	assert.Empty(t, r.pending)
	client.AssertExpectations(t)
}

func TestRunner_PollError(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)
	client.On("PollJobs", mock.Anything).Return(nil, errors.New("connection refused"))

	err := r.pollOnce(context.Background())
	require.Error(t, err)
}

func TestRunner_HeartbeatCarriesDiskStats(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)

	client.On("Heartbeat", mock.Anything, mock.MatchedBy(func(hb model.Heartbeat) bool {
		var stats model.NodeStats
		if err := json.Unmarshal(hb.Stats, &stats); err != nil || stats.Disk == nil || stats.Disk.FreePercent == nil {
			return false
		}
		return hb.Version == "1.0.0" && *stats.Disk.FreePercent == 40.0
	})).Return(&HeartbeatResponse{NodeID: "node-1", Status: "online", Disk: model.DiskSettings{ScanIntervalSeconds: 600}}, nil)

	require.NoError(t, r.heartbeatOnce(context.Background()))
	assert.Equal(t, 10*time.Minute, r.scanInterval)
	client.AssertExpectations(t)
}

func TestRunner_HeartbeatSkipsScanWithinInterval(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)
	scans := 0
	r.statDisk = func(path string, now time.Time) (*model.DiskStats, error) {
		scans++
		return diskStats(1000, 400, now), nil
	}
	client.On("Heartbeat", mock.Anything, mock.Anything).Return(&HeartbeatResponse{Status: "online"}, nil)

	require.NoError(t, r.heartbeatOnce(context.Background()))
	require.NoError(t, r.heartbeatOnce(context.Background()))
	assert.Equal(t, 1, scans)

	r.now = func() time.Time { return runnerNow.Add(6 * time.Minute) }
	require.NoError(t, r.heartbeatOnce(context.Background()))
	assert.Equal(t, 2, scans)
}

func TestRunner_HeartbeatFailure(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)
	client.On("Heartbeat", mock.Anything, mock.Anything).Return(nil, &APIError{StatusCode: http.StatusUnauthorized})

	err := r.heartbeatOnce(context.Background())
	require.Error(t, err)
}

func TestRunner_DiskScanJob(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)

	client.On("PollJobs", mock.Anything).Return([]model.Job{job("j1", model.JobTypeAgentDiskScan)}, nil)
	client.On("Heartbeat", mock.Anything, mock.Anything).Return(&HeartbeatResponse{Status: "online"}, nil).Once()
	client.On("ReportResult", mock.Anything, "j1", model.JobStatusSucceeded, mock.MatchedBy(func(out map[string]any) bool {
		return out["free_percent"] == 40.0 && out["total_bytes"] == uint64(1000)
	})).Return(nil)

	require.NoError(t, r.pollOnce(context.Background()))
	client.AssertExpectations(t)
}

func TestRunner_RunStopsOnCancel(t *testing.T) {
	client := &mockClient{}
	r := newTestRunner(client)
	client.On("Heartbeat", mock.Anything, mock.Anything).Return(&HeartbeatResponse{Status: "online"}, nil)
	client.On("PollJobs", mock.Anything).Return([]model.Job{}, nil)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()

	time.Sleep(50 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("runner did not stop")
	}
}
