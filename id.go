package jobqueue

import "github.com/UmairAbideen/cron-job-with-queue/id"

// ID is the primary identifier type for all queue entities.
type ID = id.ID

// Prefix identifies the entity type encoded in a TypeID.
type Prefix = id.Prefix
