package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	jobqueue "github.com/UmairAbideen/cron-job-with-queue"
	"github.com/UmairAbideen/cron-job-with-queue/id"
	"github.com/UmairAbideen/cron-job-with-queue/job"
)

// ──────────────────────────────────────────────────
// Lua scripts
// ──────────────────────────────────────────────────

// leaseScript claims the single oldest eligible job. It pops a due member
// from the pending set first, falling back to an expired member of the
// leased set (reclaim keeps attempts untouched). Returns the job ID, or
// false when nothing is eligible.
//
// KEYS: pending zset, leased zset.
// ARGV: now micros, lease expiry micros, worker ID, job hash key prefix.
var leaseScript = redis.NewScript(`
local id = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, 1)[1]
if id then
	redis.call('ZREM', KEYS[1], id)
else
	id = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1], 'LIMIT', 0, 1)[1]
	if not id then
		return false
	end
end
redis.call('ZADD', KEYS[2], ARGV[2], id)
redis.call('HSET', ARGV[4]..id,
	'status', 'leased',
	'leased_by', ARGV[3],
	'lease_expires_at', ARGV[2],
	'updated_at', ARGV[1])
return id
`)

// completeScript marks a job succeeded if and only if it is still leased
// by the calling worker. Returns 1 on success, 0 otherwise.
//
// KEYS: job hash, leased zset.
// ARGV: worker ID, now micros, job ID.
var completeScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'leased' then return 0 end
if redis.call('HGET', KEYS[1], 'leased_by') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'status', 'succeeded', 'updated_at', ARGV[2])
redis.call('HDEL', KEYS[1], 'leased_by', 'lease_expires_at')
redis.call('ZREM', KEYS[2], ARGV[3])
return 1
`)

// failScript applies a precomputed failure transition if and only if the
// job is still leased by the calling worker. Returns 1 on success, 0
// otherwise.
//
// KEYS: job hash, leased zset, pending zset.
// ARGV: worker ID, new status, attempts, last error, available_at micros,
// now micros, job ID.
var failScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'leased' then return 0 end
if redis.call('HGET', KEYS[1], 'leased_by') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1],
	'status', ARGV[2],
	'attempts', ARGV[3],
	'last_error', ARGV[4],
	'available_at', ARGV[5],
	'updated_at', ARGV[6])
redis.call('HDEL', KEYS[1], 'leased_by', 'lease_expires_at')
redis.call('ZREM', KEYS[2], ARGV[7])
if ARGV[2] == 'pending' then
	redis.call('ZADD', KEYS[3], ARGV[5], ARGV[7])
end
return 1
`)

// extendScript pushes the lease expiry if and only if the job is still
// leased by the calling worker. Returns 1 on success, 0 otherwise.
//
// KEYS: job hash, leased zset.
// ARGV: worker ID, new expiry micros, now micros, job ID.
var extendScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'leased' then return 0 end
if redis.call('HGET', KEYS[1], 'leased_by') ~= ARGV[1] then return 0 end
redis.call('HSET', KEYS[1], 'lease_expires_at', ARGV[2], 'updated_at', ARGV[3])
redis.call('ZADD', KEYS[2], ARGV[2], ARGV[4])
return 1
`)

// reapScript resets every member of the leased set with a lapsed expiry
// back to pending. Attempts and available_at are untouched, so reclaimed
// jobs keep their place in FIFO order. Returns the number reaped.
//
// KEYS: leased zset, pending zset.
// ARGV: now micros, job hash key prefix.
var reapScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1])
for _, id in ipairs(expired) do
	local key = ARGV[2]..id
	redis.call('HSET', key, 'status', 'pending', 'updated_at', ARGV[1])
	redis.call('HDEL', key, 'leased_by', 'lease_expires_at')
	local avail = redis.call('HGET', key, 'available_at')
	if not avail then
		avail = ARGV[1]
	end
	redis.call('ZADD', KEYS[2], avail, id)
	redis.call('ZREM', KEYS[1], id)
end
return #expired
`)

// requeueScript returns a terminally failed job to pending with a fresh
// attempt budget. Returns 1 on success, 0 otherwise.
//
// KEYS: job hash, pending zset.
// ARGV: now micros, job ID.
var requeueScript = redis.NewScript(`
if redis.call('HGET', KEYS[1], 'status') ~= 'failed' then return 0 end
redis.call('HSET', KEYS[1], 'status', 'pending', 'attempts', '0', 'available_at', ARGV[1], 'updated_at', ARGV[1])
redis.call('ZADD', KEYS[2], ARGV[1], ARGV[2])
return 1
`)

// ──────────────────────────────────────────────────
// Job Store
// ──────────────────────────────────────────────────

// Enqueue persists a new job in pending state.
func (s *Store) Enqueue(ctx context.Context, j *job.Job) error {
	key := jobKey(j.ID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: enqueue: %w", err)
	}
	if exists > 0 {
		return jobqueue.ErrJobAlreadyExists
	}

	fields, err := jobToMap(j)
	if err != nil {
		return fmt.Errorf("jobqueue/redis: enqueue: %w", err)
	}

	pipe := s.client.TxPipeline()
	pipe.HSet(ctx, key, fields)
	pipe.SAdd(ctx, jobIDsKey, j.ID.String())
	pipe.ZAdd(ctx, pendingKey, redis.Z{
		Score:  float64(toMicros(j.AvailableAt)),
		Member: j.ID.String(),
	})
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue/redis: enqueue: %w", err)
	}
	return nil
}

// Lease atomically claims the single oldest eligible job for workerID.
// Eligible means pending with available_at due, or leased with an expired
// lease (reclaimed in place, attempts untouched).
//
// Due pending jobs are claimed before expired-lease jobs; within each set
// the lowest score wins, with ID order breaking ties.
func (s *Store) Lease(ctx context.Context, workerID id.WorkerID, leaseFor time.Duration) (*job.Job, error) {
	now := time.Now().UTC()

	claimed, err := leaseScript.Run(ctx, s.client,
		[]string{pendingKey, leasedKey},
		toMicros(now), toMicros(now.Add(leaseFor)), workerID.String(), keyPrefix+"job:",
	).Text()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, jobqueue.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("jobqueue/redis: lease: %w", err)
	}

	j, err := s.load(ctx, claimed)
	if err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			// Deleted between claim and load.
			return nil, jobqueue.ErrNoJobAvailable
		}
		return nil, fmt.Errorf("jobqueue/redis: lease: %w", err)
	}
	return j, nil
}

// Complete marks a job succeeded and releases the lease.
func (s *Store) Complete(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	n, err := completeScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasedKey},
		workerID.String(), toMicros(time.Now().UTC()), jobID.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: complete: %w", err)
	}
	if n == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// Fail records a failed attempt and either schedules a retry or marks the
// job terminally failed, depending on retry and the remaining budget.
func (s *Store) Fail(ctx context.Context, jobID id.JobID, workerID id.WorkerID, retry bool, cause error) (*job.Job, error) {
	j, err := s.load(ctx, jobID.String())
	if err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue/redis: fail: %w", err)
	}
	if j.Status != job.StatusLeased || !j.LeasedBy.Equal(workerID) {
		return nil, jobqueue.ErrNotFound
	}

	now := time.Now().UTC()
	j.Attempts++
	if cause != nil {
		j.LastError = cause.Error()
	}
	if retry && j.Attempts < j.MaxAttempts {
		j.Status = job.StatusPending
		j.AvailableAt = now.Add(s.backoff.Delay(j.Attempts))
	} else {
		j.Status = job.StatusFailed
	}

	// The script re-guards ownership, so a lease lost between the load
	// above and this call surfaces as ErrNotFound.
	n, err := failScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasedKey, pendingKey},
		workerID.String(), string(j.Status), j.Attempts, j.LastError,
		toMicros(j.AvailableAt), toMicros(now), jobID.String(),
	).Int()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: fail: %w", err)
	}
	if n == 0 {
		return nil, jobqueue.ErrNotFound
	}

	j.LeasedBy = id.Nil
	j.LeaseExpiresAt = nil
	j.UpdatedAt = now
	return j, nil
}

// ExtendLease pushes the lease expiry of a job leased by workerID.
func (s *Store) ExtendLease(ctx context.Context, jobID id.JobID, workerID id.WorkerID, leaseFor time.Duration) error {
	now := time.Now().UTC()
	n, err := extendScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), leasedKey},
		workerID.String(), toMicros(now.Add(leaseFor)), toMicros(now), jobID.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: extend lease: %w", err)
	}
	if n == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// ReapExpired resets every leased job with a lapsed lease back to pending.
func (s *Store) ReapExpired(ctx context.Context) (int, error) {
	n, err := reapScript.Run(ctx, s.client,
		[]string{leasedKey, pendingKey},
		toMicros(time.Now().UTC()), keyPrefix+"job:",
	).Int()
	if err != nil {
		return 0, fmt.Errorf("jobqueue/redis: reap expired: %w", err)
	}
	return n, nil
}

// Get retrieves a job by ID.
func (s *Store) Get(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	j, err := s.load(ctx, jobID.String())
	if err != nil {
		if errors.Is(err, jobqueue.ErrNotFound) {
			return nil, jobqueue.ErrNotFound
		}
		return nil, fmt.Errorf("jobqueue/redis: get: %w", err)
	}
	return j, nil
}

// List returns jobs matching the given options, newest first.
//
// Listing walks the full ID set and loads each hash, so it is intended
// for operator tooling rather than hot paths.
func (s *Store) List(ctx context.Context, opts job.ListOpts) ([]*job.Job, error) {
	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, fmt.Errorf("jobqueue/redis: list: %w", err)
	}

	jobs := make([]*job.Job, 0, len(ids))
	for _, jid := range ids {
		j, err := s.load(ctx, jid)
		if err != nil {
			if errors.Is(err, jobqueue.ErrNotFound) {
				// Deleted while listing.
				continue
			}
			return nil, fmt.Errorf("jobqueue/redis: list: %w", err)
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// Count returns the number of jobs matching the given options.
func (s *Store) Count(ctx context.Context, opts job.CountOpts) (int64, error) {
	if opts.Kind == "" && opts.Status == "" {
		n, err := s.client.SCard(ctx, jobIDsKey).Result()
		if err != nil {
			return 0, fmt.Errorf("jobqueue/redis: count: %w", err)
		}
		return n, nil
	}

	ids, err := s.client.SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return 0, fmt.Errorf("jobqueue/redis: count: %w", err)
	}

	var n int64
	for _, jid := range ids {
		j, err := s.load(ctx, jid)
		if err != nil {
			if errors.Is(err, jobqueue.ErrNotFound) {
				continue
			}
			return 0, fmt.Errorf("jobqueue/redis: count: %w", err)
		}
		if opts.Kind != "" && j.Kind != opts.Kind {
			continue
		}
		if opts.Status != "" && j.Status != opts.Status {
			continue
		}
		n++
	}
	return n, nil
}

// Requeue returns a terminally failed job to pending with a fresh budget.
func (s *Store) Requeue(ctx context.Context, jobID id.JobID) error {
	n, err := requeueScript.Run(ctx, s.client,
		[]string{jobKey(jobID.String()), pendingKey},
		toMicros(time.Now().UTC()), jobID.String(),
	).Int()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: requeue: %w", err)
	}
	if n == 0 {
		return jobqueue.ErrNotFound
	}
	return nil
}

// Delete removes a job by ID.
func (s *Store) Delete(ctx context.Context, jobID id.JobID) error {
	key := jobKey(jobID.String())

	exists, err := s.client.Exists(ctx, key).Result()
	if err != nil {
		return fmt.Errorf("jobqueue/redis: delete: %w", err)
	}
	if exists == 0 {
		return jobqueue.ErrNotFound
	}

	pipe := s.client.TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jobID.String())
	pipe.ZRem(ctx, pendingKey, jobID.String())
	pipe.ZRem(ctx, leasedKey, jobID.String())
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("jobqueue/redis: delete: %w", err)
	}
	return nil
}

// load fetches and decodes a single job hash.
func (s *Store) load(ctx context.Context, jobID string) (*job.Job, error) {
	fields, err := s.client.HGetAll(ctx, jobKey(jobID)).Result()
	if err != nil {
		return nil, err
	}
	if len(fields) == 0 {
		return nil, jobqueue.ErrNotFound
	}
	return mapToJob(fields)
}

// ──────────────────────────────────────────────────
// Hash codec
// ──────────────────────────────────────────────────

// jobToMap flattens a job into hash fields. Times are stored as unix
// microseconds so hash fields and zset scores compare exactly.
func jobToMap(j *job.Job) (map[string]any, error) {
	payload, err := json.Marshal(j.Payload)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}

	fields := map[string]any{
		"id":           j.ID.String(),
		"kind":         j.Kind,
		"payload":      string(payload),
		"status":       string(j.Status),
		"attempts":     strconv.Itoa(j.Attempts),
		"max_attempts": strconv.Itoa(j.MaxAttempts),
		"last_error":   j.LastError,
		"available_at": strconv.FormatInt(toMicros(j.AvailableAt), 10),
		"created_at":   strconv.FormatInt(toMicros(j.CreatedAt), 10),
		"updated_at":   strconv.FormatInt(toMicros(j.UpdatedAt), 10),
	}
	if !j.LeasedBy.IsNil() {
		fields["leased_by"] = j.LeasedBy.String()
	}
	if j.LeaseExpiresAt != nil {
		fields["lease_expires_at"] = strconv.FormatInt(toMicros(*j.LeaseExpiresAt), 10)
	}
	return fields, nil
}

// mapToJob decodes hash fields back into a job. Numeric fields are
// machine-written, so parse failures decode as zero values.
func mapToJob(fields map[string]string) (*job.Job, error) {
	jobID, err := id.ParseJobID(fields["id"])
	if err != nil {
		return nil, fmt.Errorf("parse job id: %w", err)
	}

	j := &job.Job{
		ID:          jobID,
		Kind:        fields["kind"],
		Status:      job.Status(fields["status"]),
		Attempts:    parseInt(fields["attempts"]),
		MaxAttempts: parseInt(fields["max_attempts"]),
		LastError:   fields["last_error"],
		AvailableAt: parseMicros(fields["available_at"]),
		CreatedAt:   parseMicros(fields["created_at"]),
		UpdatedAt:   parseMicros(fields["updated_at"]),
	}

	if raw := fields["payload"]; raw != "" && raw != "null" {
		if err := json.Unmarshal([]byte(raw), &j.Payload); err != nil {
			return nil, fmt.Errorf("decode payload: %w", err)
		}
	}
	if v := fields["leased_by"]; v != "" {
		if w, err := id.ParseWorkerID(v); err == nil {
			j.LeasedBy = w
		}
	}
	if v := fields["lease_expires_at"]; v != "" {
		t := parseMicros(v)
		j.LeaseExpiresAt = &t
	}
	return j, nil
}

func toMicros(t time.Time) int64 { return t.UnixMicro() }

func parseInt(s string) int {
	n, _ := strconv.Atoi(s)
	return n
}

func parseMicros(s string) time.Time {
	n, _ := strconv.ParseInt(s, 10, 64)
	return time.UnixMicro(n).UTC()
}
