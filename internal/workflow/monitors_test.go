package workflow

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/suite"
	"go.temporal.io/sdk/testsuite"

	"github.com/edvin/fleet/internal/activity"
	"github.com/edvin/fleet/internal/model"
)

func pct(v float64) *float64 { return &v }

// ---------- CheckStuckJobsWorkflow ----------

type CheckStuckJobsWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *CheckStuckJobsWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *CheckStuckJobsWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *CheckStuckJobsWorkflowTestSuite) TestNoStuckJobsResolvesAll() {
	s.env.OnActivity("FindStuckJobs", mock.Anything, activity.FindStuckJobsParams{OlderThan: 30 * time.Minute}).
		Return([]activity.StuckJob{}, nil)
	s.env.OnActivity("ResolveAlerts", mock.Anything, activity.ResolveAlertsParams{
		Type:       model.AlertTypeJobStuck,
		ActiveKeys: []string{},
		Resolution: "Job was picked up by its node",
	}).Return(3, nil)

	s.env.ExecuteWorkflow(CheckStuckJobsWorkflow, 30*time.Minute)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CheckStuckJobsWorkflowTestSuite) TestStuckJobRaisesAlert() {
	job := activity.StuckJob{
		ID:        "job-1",
		Type:      model.JobTypeInstanceCreate,
		NodeID:    "node-1",
		CreatedAt: time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC),
		Age:       2 * time.Hour,
	}
	s.env.OnActivity("FindStuckJobs", mock.Anything, mock.Anything).
		Return([]activity.StuckJob{job}, nil)
	s.env.OnActivity("RaiseAlert", mock.Anything, mock.MatchedBy(func(p activity.RaiseAlertParams) bool {
		return p.DedupeKey == "job_stuck:job-1" && p.Type == model.AlertTypeJobStuck &&
			p.ResourceType == "job" && p.ResourceID == "job-1"
	})).Return(&activity.RaiseAlertResult{ID: "alert-1", Created: true}, nil).Once()
	s.env.OnActivity("ResolveAlerts", mock.Anything, mock.MatchedBy(func(p activity.ResolveAlertsParams) bool {
		return len(p.ActiveKeys) == 1 && p.ActiveKeys[0] == "job_stuck:job-1"
	})).Return(0, nil)

	s.env.ExecuteWorkflow(CheckStuckJobsWorkflow, 30*time.Minute)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CheckStuckJobsWorkflowTestSuite) TestRaiseFailureDoesNotFailRun() {
	s.env.OnActivity("FindStuckJobs", mock.Anything, mock.Anything).
		Return([]activity.StuckJob{{ID: "job-1", Type: model.JobTypeAgentDiskScan, NodeID: "node-1"}}, nil)
	s.env.OnActivity("RaiseAlert", mock.Anything, mock.Anything).
		Return(nil, errors.New("db down"))
	s.env.OnActivity("ResolveAlerts", mock.Anything, mock.Anything).Return(0, nil)

	s.env.ExecuteWorkflow(CheckStuckJobsWorkflow, time.Minute)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CheckStuckJobsWorkflowTestSuite) TestFindFailureFailsRun() {
	s.env.OnActivity("FindStuckJobs", mock.Anything, mock.Anything).
		Return(nil, errors.New("db down"))

	s.env.ExecuteWorkflow(CheckStuckJobsWorkflow, time.Minute)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func TestCheckStuckJobsWorkflow(t *testing.T) {
	suite.Run(t, new(CheckStuckJobsWorkflowTestSuite))
}

// ---------- CheckNodeLivenessWorkflow ----------

type CheckNodeLivenessWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *CheckNodeLivenessWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *CheckNodeLivenessWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *CheckNodeLivenessWorkflowTestSuite) TestOfflineNodeRaisesAlert() {
	lastSeen := time.Date(2026, 3, 1, 11, 0, 0, 0, time.UTC)
	s.env.OnActivity("ListNodeHealth", mock.Anything).Return([]activity.NodeHealth{
		{ID: "n1", Name: "alpha", Status: model.NodeStatusOnline},
		{ID: "n2", Name: "beta", Status: model.NodeStatusOffline, Offline: true, LastHeartbeatAt: &lastSeen},
		{ID: "n3", Name: "gamma", Status: "maintenance"},
	}, nil)
	s.env.OnActivity("RaiseAlert", mock.Anything, mock.MatchedBy(func(p activity.RaiseAlertParams) bool {
		return p.DedupeKey == "node_offline:n2" && p.Severity == "critical" && p.ResourceID == "n2"
	})).Return(&activity.RaiseAlertResult{ID: "alert-1", Created: true}, nil).Once()
	s.env.OnActivity("ResolveAlerts", mock.Anything, activity.ResolveAlertsParams{
		Type:       model.AlertTypeNodeOffline,
		ActiveKeys: []string{"node_offline:n2"},
		Resolution: "Node is sending heartbeats again",
	}).Return(0, nil)

	s.env.ExecuteWorkflow(CheckNodeLivenessWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CheckNodeLivenessWorkflowTestSuite) TestAllOnlineResolves() {
	s.env.OnActivity("ListNodeHealth", mock.Anything).Return([]activity.NodeHealth{
		{ID: "n1", Name: "alpha", Status: model.NodeStatusOnline},
		{ID: "n2", Name: "beta", Status: model.NodeStatusStale},
	}, nil)
	s.env.OnActivity("ResolveAlerts", mock.Anything, mock.MatchedBy(func(p activity.ResolveAlertsParams) bool {
		return p.Type == model.AlertTypeNodeOffline && len(p.ActiveKeys) == 0
	})).Return(1, nil)

	s.env.ExecuteWorkflow(CheckNodeLivenessWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CheckNodeLivenessWorkflowTestSuite) TestListFailureFailsRun() {
	s.env.OnActivity("ListNodeHealth", mock.Anything).Return(nil, errors.New("db down"))

	s.env.ExecuteWorkflow(CheckNodeLivenessWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.Error(s.env.GetWorkflowError())
}

func TestCheckNodeLivenessWorkflow(t *testing.T) {
	suite.Run(t, new(CheckNodeLivenessWorkflowTestSuite))
}

// ---------- CheckDiskProtectionWorkflow ----------

type CheckDiskProtectionWorkflowTestSuite struct {
	suite.Suite
	testsuite.WorkflowTestSuite
	env *testsuite.TestWorkflowEnvironment
}

func (s *CheckDiskProtectionWorkflowTestSuite) SetupTest() {
	s.env = s.NewTestWorkflowEnvironment()
	registerActivities(s.env)
}

func (s *CheckDiskProtectionWorkflowTestSuite) AfterTest(suiteName, testName string) {
	s.env.AssertExpectations(s.T())
}

func (s *CheckDiskProtectionWorkflowTestSuite) TestProtectedNodeRaisesAlert() {
	s.env.OnActivity("ListNodeHealth", mock.Anything).Return([]activity.NodeHealth{
		{ID: "n1", Name: "alpha", DiskFreePercent: pct(40), ProtectPercent: 5},
		{ID: "n2", Name: "beta", DiskFreePercent: pct(3), DiskProtectActive: true, ProtectPercent: 5},
		{ID: "n3", Name: "gamma", DiskFreePercent: pct(2), DiskProtectActive: true, DiskOverride: true, ProtectPercent: 5},
	}, nil)
	s.env.OnActivity("RaiseAlert", mock.Anything, mock.MatchedBy(func(p activity.RaiseAlertParams) bool {
		return p.DedupeKey == "disk_protect:n2" && p.Type == model.AlertTypeDiskProtect
	})).Return(&activity.RaiseAlertResult{ID: "alert-1", Created: false}, nil).Once()
	s.env.OnActivity("ResolveAlerts", mock.Anything, activity.ResolveAlertsParams{
		Type:       model.AlertTypeDiskProtect,
		ActiveKeys: []string{"disk_protect:n2"},
		Resolution: "Disk protection no longer blocks provisioning",
	}).Return(0, nil)

	s.env.ExecuteWorkflow(CheckDiskProtectionWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func (s *CheckDiskProtectionWorkflowTestSuite) TestUnknownFreeSpaceIsNotAlerted() {
	s.env.OnActivity("ListNodeHealth", mock.Anything).Return([]activity.NodeHealth{
		{ID: "n1", Name: "alpha"},
	}, nil)
	s.env.OnActivity("ResolveAlerts", mock.Anything, mock.Anything).Return(0, nil)

	s.env.ExecuteWorkflow(CheckDiskProtectionWorkflow)
	s.True(s.env.IsWorkflowCompleted())
	s.NoError(s.env.GetWorkflowError())
}

func TestCheckDiskProtectionWorkflow(t *testing.T) {
	suite.Run(t, new(CheckDiskProtectionWorkflowTestSuite))
}
