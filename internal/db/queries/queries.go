package queries

// Job queries
const (
	jobColumns = `
			id, name, state, seq, request, queued_at, started_at, completed_at, last_progress_at,
			cause, last_error, warning, stalled, restart_of,
			percent, throughput, eta_seconds, cracked, hashes_total,
			keyspace_done, keyspace_total, flagged, flag_reason`

	CreateJob = `
		INSERT INTO jobs (
			id, name, state, seq, request, queued_at, restart_of, eta_seconds
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8
		)`

	GetJobByID = `
		SELECT` + jobColumns + `
		FROM jobs
		WHERE id = $1`

	ListJobs = `
		SELECT` + jobColumns + `
		FROM jobs
		WHERE ($1 = '' OR state = $1)
		ORDER BY queued_at DESC, id
		LIMIT $2 OFFSET $3`

	ListJobsInStates = `
		SELECT` + jobColumns + `
		FROM jobs
		WHERE state = ANY($1)
		ORDER BY queued_at, id`

	JobExists = `SELECT EXISTS(SELECT 1 FROM jobs WHERE id = $1)`

	// seq guards every state write so a late writer can never undo a newer transition
	UpdateJobState = `
		UPDATE jobs SET
			state = $2, seq = $3, cause = $4,
			last_error = CASE WHEN $5 = '' THEN last_error ELSE $5 END,
			started_at = CASE WHEN $2 = 'running' THEN COALESCE(started_at, $6) ELSE started_at END,
			stalled = FALSE
		WHERE id = $1 AND seq < $3`

	SetJobTerminalState = `
		UPDATE jobs SET
			state = $2, seq = $3, cause = $4,
			last_error = CASE WHEN $5 = '' THEN last_error ELSE $5 END,
			completed_at = $6, stalled = FALSE
		WHERE id = $1 AND seq < $3`

	UpdateJobProgress = `
		UPDATE jobs SET
			percent = $2, throughput = $3, eta_seconds = $4, cracked = $5, hashes_total = $6,
			keyspace_done = $7, keyspace_total = $8, flagged = $9, flag_reason = $10,
			last_progress_at = $11, stalled = FALSE
		WHERE id = $1 AND state = 'running'`

	SetJobStalled = `UPDATE jobs SET stalled = $2 WHERE id = $1 AND state = 'running'`

	SetJobWarning = `UPDATE jobs SET warning = $2 WHERE id = $1`
)

// Progress history queries
const (
	InsertProgress = `
		INSERT INTO job_progress (
			job_id, percent, throughput, eta_seconds, cracked, hashes_total,
			keyspace_done, keyspace_total, flagged, flag_reason, recorded_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11
		)`

	ListProgress = `
		SELECT percent, throughput, eta_seconds, cracked, hashes_total,
			keyspace_done, keyspace_total, flagged, flag_reason, recorded_at
		FROM job_progress
		WHERE job_id = $1
		ORDER BY recorded_at, id`
)

// Crack result queries
const (
	// (job_id, network, plaintext) is unique, re-harvests insert nothing
	InsertCrackResult = `
		INSERT INTO crack_results (
			job_id, network, essid, plaintext, pmk, attack_mode, discovered_at
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7
		) ON CONFLICT (job_id, network, plaintext) DO NOTHING`

	ListCrackResults = `
		SELECT job_id, network, essid, plaintext, pmk, attack_mode, discovered_at
		FROM crack_results
		WHERE job_id = $1
		ORDER BY discovered_at, id`
)
