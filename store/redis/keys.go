package redis

const (
	keyPrefix = "jobqueue:"

	// pendingKey is a sorted set of job IDs scored by available_at
	// (unix microseconds). Due jobs have a score at or below now.
	pendingKey = keyPrefix + "pending"

	// leasedKey is a sorted set of job IDs scored by lease_expires_at
	// (unix microseconds). Expired members are eligible to re-lease.
	leasedKey = keyPrefix + "leased"

	// jobIDsKey is a set of all job IDs for enumeration.
	jobIDsKey = keyPrefix + "ids"
)

// jobKey returns the Hash key for a single job.
func jobKey(id string) string {
	return keyPrefix + "job:" + id
}
