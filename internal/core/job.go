package core

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/rs/zerolog"

	"github.com/edvin/fleet/internal/metrics"
	"github.com/edvin/fleet/internal/model"
	"github.com/edvin/fleet/internal/platform"
)

const jobColumns = `id, seq, type, payload, status, result_status, result_output, created_at, updated_at`

// JobService is the per-node work queue. Jobs are pulled by nodes; the
// control plane never pushes and never times a job out.
type JobService struct {
	db    DB
	clock Clock
}

func NewJobService(db DB, clock Clock) *JobService {
	return &JobService{db: db, clock: clock}
}

func scanJob(row pgx.Row) (*model.Job, error) {
	var j model.Job
	var payload, output json.RawMessage
	var resultStatus *string
	if err := row.Scan(&j.ID, &j.Seq, &j.Type, &payload, &j.Status, &resultStatus, &output, &j.CreatedAt, &j.UpdatedAt); err != nil {
		return nil, err
	}
	if len(payload) > 0 {
		if err := json.Unmarshal(payload, &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload of job %s: %w", j.ID, err)
		}
	}
	if resultStatus != nil {
		j.Result = &model.JobResult{Status: *resultStatus}
		if len(output) > 0 && string(output) != "null" {
			if err := json.Unmarshal(output, &j.Result.Output); err != nil {
				return nil, fmt.Errorf("decode result of job %s: %w", j.ID, err)
			}
		}
	}
	return &j, nil
}

func collectJobs(rows pgx.Rows) ([]model.Job, error) {
	defer rows.Close()
	var jobs []model.Job
	for rows.Next() {
		j, err := scanJob(rows)
		if err != nil {
			return nil, fmt.Errorf("scan job: %w", err)
		}
		jobs = append(jobs, *j)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate jobs: %w", err)
	}
	return jobs, nil
}

func (s *JobService) newJob(jobType string, payload map[string]string) (*model.Job, []byte, error) {
	if err := ValidateJobPayload(jobType, payload); err != nil {
		return nil, nil, err
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, nil, fmt.Errorf("encode job payload: %w", err)
	}
	now := s.clock.Now()
	return &model.Job{
		ID:        platform.NewID(),
		Type:      jobType,
		Payload:   payload,
		Status:    model.JobStatusQueued,
		CreatedAt: now,
		UpdatedAt: now,
	}, raw, nil
}

// Enqueue persists a queued job addressed to payload["agent_id"].
func (s *JobService) Enqueue(ctx context.Context, jobType string, payload map[string]string) (*model.Job, error) {
	return s.enqueue(ctx, s.db, jobType, payload)
}

// enqueue inserts through q, which may be a transaction.
func (s *JobService) enqueue(ctx context.Context, q DB, jobType string, payload map[string]string) (*model.Job, error) {
	job, raw, err := s.newJob(jobType, payload)
	if err != nil {
		return nil, err
	}

	err = q.QueryRow(ctx,
		`INSERT INTO jobs (id, type, agent_id, payload, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING seq`,
		job.ID, job.Type, job.AgentID(), raw, job.Status, job.CreatedAt, job.UpdatedAt,
	).Scan(&job.Seq)
	if err != nil {
		return nil, fmt.Errorf("enqueue %s job for node %s: %w", jobType, job.AgentID(), err)
	}

	metrics.JobsEnqueued.WithLabelValues(jobType).Inc()
	zerolog.Ctx(ctx).Debug().
		Str("job_id", job.ID).
		Str("type", jobType).
		Str("agent_id", job.AgentID()).
		Msg("job enqueued")
	return job, nil
}

// DedupeKey builds the key under which at most one non-terminal job may exist
// per node, from the job type and the named payload keys.
func DedupeKey(jobType string, payload map[string]string, naturalKeys ...string) string {
	keys := append([]string(nil), naturalKeys...)
	sort.Strings(keys)
	var b strings.Builder
	b.WriteString(jobType)
	for _, k := range keys {
		b.WriteString("|")
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(payload[k])
	}
	return b.String()
}

// EnqueueUnique enqueues a job unless a queued or running job with the same
// type and natural keys already exists for the node, in which case that job
// is returned and created is false.
func (s *JobService) EnqueueUnique(ctx context.Context, jobType string, payload map[string]string, naturalKeys ...string) (*model.Job, bool, error) {
	job, raw, err := s.newJob(jobType, payload)
	if err != nil {
		return nil, false, err
	}
	for _, k := range naturalKeys {
		if payload[k] == "" {
			return nil, false, invalid("payload."+k, "is required for deduplication")
		}
	}
	key := DedupeKey(jobType, payload, naturalKeys...)

	// The existing job can finish between the insert and the lookup; one
	// retry covers that window.
	for attempt := 0; attempt < 2; attempt++ {
		err = s.db.QueryRow(ctx,
			`INSERT INTO jobs (id, type, agent_id, payload, status, dedupe_key, created_at, updated_at)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 ON CONFLICT (agent_id, dedupe_key) WHERE status IN ('queued', 'running') DO NOTHING
			 RETURNING seq`,
			job.ID, job.Type, job.AgentID(), raw, job.Status, key, job.CreatedAt, job.UpdatedAt,
		).Scan(&job.Seq)
		if err == nil {
			metrics.JobsEnqueued.WithLabelValues(jobType).Inc()
			return job, true, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("enqueue %s job for node %s: %w", jobType, job.AgentID(), err)
		}

		existing, err := scanJob(s.db.QueryRow(ctx,
			`SELECT `+jobColumns+` FROM jobs
			 WHERE agent_id = $1 AND dedupe_key = $2 AND status IN ('queued', 'running')`,
			job.AgentID(), key))
		if err == nil {
			zerolog.Ctx(ctx).Debug().
				Str("job_id", existing.ID).
				Str("dedupe_key", key).
				Msg("reusing in-flight job")
			return existing, false, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, false, fmt.Errorf("find in-flight %s job for node %s: %w", jobType, job.AgentID(), err)
		}
	}
	return nil, false, fmt.Errorf("enqueue %s job for node %s: dedupe key %q kept changing", jobType, job.AgentID(), key)
}

func (s *JobService) GetByID(ctx context.Context, id string) (*model.Job, error) {
	j, err := scanJob(s.db.QueryRow(ctx, `SELECT `+jobColumns+` FROM jobs WHERE id = $1`, id))
	if err != nil {
		return nil, lookupErr("job", id, err)
	}
	return j, nil
}

// ListQueuedForNode returns the node's queued jobs in creation order.
func (s *JobService) ListQueuedForNode(ctx context.Context, nodeID string) ([]model.Job, error) {
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE agent_id = $1 AND status = $2
		 ORDER BY created_at, seq`, nodeID, model.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("list queued jobs for node %s: %w", nodeID, err)
	}
	return collectJobs(rows)
}

// ClaimQueuedForNode marks every queued job of the node running and returns
// them in creation order. Jobs claimed by a concurrent poll are skipped.
func (s *JobService) ClaimQueuedForNode(ctx context.Context, nodeID string) ([]model.Job, error) {
	rows, err := s.db.Query(ctx,
		`UPDATE jobs SET status = $2, updated_at = $3
		 WHERE id IN (
		   SELECT id FROM jobs WHERE agent_id = $1 AND status = $4
		   ORDER BY created_at, seq
		   FOR UPDATE SKIP LOCKED
		 )
		 RETURNING `+jobColumns,
		nodeID, model.JobStatusRunning, s.clock.Now(), model.JobStatusQueued)
	if err != nil {
		return nil, fmt.Errorf("claim jobs for node %s: %w", nodeID, err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	sortJobsFIFO(jobs)
	return jobs, nil
}

func sortJobsFIFO(jobs []model.Job) {
	sort.SliceStable(jobs, func(i, k int) bool {
		if !jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].CreatedAt.Before(jobs[k].CreatedAt)
		}
		return jobs[i].Seq < jobs[k].Seq
	})
}

// RecordResult stores a terminal outcome reported by nodeID. A job addressed
// to another node is reported as not found. Terminal jobs are never reopened.
func (s *JobService) RecordResult(ctx context.Context, jobID, nodeID, status string, output map[string]any) (*model.Job, error) {
	if !model.IsJobTerminal(status) {
		return nil, invalid("status", "must be %s or %s", model.JobStatusSucceeded, model.JobStatusFailed)
	}
	raw, err := json.Marshal(output)
	if err != nil {
		return nil, invalid("output", "not encodable: %v", err)
	}

	var job *model.Job
	err = pgx.BeginFunc(ctx, s.db, func(tx pgx.Tx) error {
		var current, agentID string
		err := tx.QueryRow(ctx,
			`SELECT status, agent_id FROM jobs WHERE id = $1 FOR UPDATE`, jobID,
		).Scan(&current, &agentID)
		if err != nil {
			return lookupErr("job", jobID, err)
		}
		if nodeID != "" && agentID != nodeID {
			return notFound("job", jobID)
		}
		if model.IsJobTerminal(current) {
			return conflict(ConflictJobTerminal, jobID, "job %s is already %s", jobID, current)
		}

		job, err = scanJob(tx.QueryRow(ctx,
			`UPDATE jobs SET status = $2, result_status = $2, result_output = $3, updated_at = $4
			 WHERE id = $1
			 RETURNING `+jobColumns,
			jobID, status, raw, s.clock.Now()))
		if err != nil {
			return fmt.Errorf("record result for job %s: %w", jobID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	metrics.JobResults.WithLabelValues(job.Type, status).Inc()
	zerolog.Ctx(ctx).Info().
		Str("job_id", jobID).
		Str("type", job.Type).
		Str("status", status).
		Msg("job result recorded")
	return job, nil
}

// JobFilter narrows List. Empty fields match everything.
type JobFilter struct {
	NodeID string
	Type   string
	Status string
}

// List returns jobs newest first, paginated by job id cursor.
func (s *JobService) List(ctx context.Context, filter JobFilter, limit int, cursor string) ([]model.Job, bool, error) {
	if limit <= 0 {
		return nil, false, invalid("limit", "must be positive")
	}
	query := `SELECT ` + jobColumns + ` FROM jobs WHERE true`
	args := []any{}
	argIdx := 1

	if filter.NodeID != "" {
		query += fmt.Sprintf(` AND agent_id = $%d`, argIdx)
		args = append(args, filter.NodeID)
		argIdx++
	}
	if filter.Type != "" {
		query += fmt.Sprintf(` AND type = $%d`, argIdx)
		args = append(args, filter.Type)
		argIdx++
	}
	if filter.Status != "" {
		query += fmt.Sprintf(` AND status = $%d`, argIdx)
		args = append(args, filter.Status)
		argIdx++
	}
	if cursor != "" {
		query += fmt.Sprintf(` AND seq < (SELECT seq FROM jobs WHERE id = $%d)`, argIdx)
		args = append(args, cursor)
		argIdx++
	}

	query += ` ORDER BY seq DESC`
	query += fmt.Sprintf(` LIMIT $%d`, argIdx)
	args = append(args, limit+1)

	rows, err := s.db.Query(ctx, query, args...)
	if err != nil {
		return nil, false, fmt.Errorf("list jobs: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, false, err
	}

	hasMore := len(jobs) > limit
	if hasMore {
		jobs = jobs[:limit]
	}
	return jobs, hasMore, nil
}

// ListQueuedBefore returns jobs still queued that were created before cutoff,
// oldest first. Nothing in the core times a job out; monitors use this to
// surface jobs no node has picked up.
func (s *JobService) ListQueuedBefore(ctx context.Context, cutoff time.Time, limit int) ([]model.Job, error) {
	if limit <= 0 {
		return nil, invalid("limit", "must be positive")
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE status = $1 AND created_at < $2
		 ORDER BY created_at, seq
		 LIMIT $3`, model.JobStatusQueued, cutoff, limit)
	if err != nil {
		return nil, fmt.Errorf("list jobs queued before %s: %w", cutoff.Format(time.RFC3339), err)
	}
	return collectJobs(rows)
}

// FindLatestByType returns the newest jobs of one type across all nodes.
func (s *JobService) FindLatestByType(ctx context.Context, jobType string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		return nil, invalid("limit", "must be positive")
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE type = $1
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $2`, jobType, limit)
	if err != nil {
		return nil, fmt.Errorf("find latest %s jobs: %w", jobType, err)
	}
	return collectJobs(rows)
}

// FindLatestForNodeAndTypes returns the newest jobs of any of the given types
// addressed to one node.
func (s *JobService) FindLatestForNodeAndTypes(ctx context.Context, nodeID string, types []string, limit int) ([]model.Job, error) {
	if limit <= 0 {
		return nil, invalid("limit", "must be positive")
	}
	if len(types) == 0 {
		return nil, invalid("types", "must not be empty")
	}
	rows, err := s.db.Query(ctx,
		`SELECT `+jobColumns+` FROM jobs
		 WHERE agent_id = $1 AND type = ANY($2)
		 ORDER BY created_at DESC, seq DESC
		 LIMIT $3`, nodeID, types, limit)
	if err != nil {
		return nil, fmt.Errorf("find latest jobs for node %s: %w", nodeID, err)
	}
	return collectJobs(rows)
}

// LatestByNode returns, per node, the most recently created job among types.
func (s *JobService) LatestByNode(ctx context.Context, types []string) (map[string]*model.Job, error) {
	if len(types) == 0 {
		return nil, invalid("types", "must not be empty")
	}
	rows, err := s.db.Query(ctx,
		`SELECT DISTINCT ON (agent_id) `+jobColumns+` FROM jobs
		 WHERE type = ANY($1)
		 ORDER BY agent_id, created_at DESC, seq DESC`, types)
	if err != nil {
		return nil, fmt.Errorf("latest jobs by node: %w", err)
	}
	jobs, err := collectJobs(rows)
	if err != nil {
		return nil, err
	}
	return IndexLatestByNode(jobs), nil
}

// IndexLatestByNode keeps the most recently created job per node. Creation
// time decides, with insertion order breaking ties; update time is ignored so
// a job queued after a finished one shows as current.
func IndexLatestByNode(jobs []model.Job) map[string]*model.Job {
	index := make(map[string]*model.Job)
	for i := range jobs {
		j := &jobs[i]
		node := j.AgentID()
		if node == "" {
			continue
		}
		cur, ok := index[node]
		if !ok || j.CreatedAt.After(cur.CreatedAt) || (j.CreatedAt.Equal(cur.CreatedAt) && j.Seq > cur.Seq) {
			index[node] = j
		}
	}
	return index
}
