package lifecycle

// Document store collections.
const (
	CollectionSchedules   = "schedules"
	CollectionDeployments = "deployments"
	CollectionBots        = "bots"
)

// Schedule lifecycle states. Transitions are monotonic and one-directional:
// scheduled -> active -> completed.
const (
	StatusScheduled = "scheduled"
	StatusActive    = "active"
	StatusCompleted = "completed"
	StatusIdle      = "idle"
)

// Schedule document fields.
const (
	FieldScheduleStatus       = "status"
	FieldScheduleStartAt      = "scheduled_date"
	FieldScheduleEndAt        = "scheduled_end_date"
	FieldScheduleBotID        = "bot_id"
	FieldScheduleDeploymentID = "deployment_id"
	FieldScheduleStartedAt    = "started_at"
	FieldScheduleEndedAt      = "completed_at"
)

// Deployment document fields.
const (
	FieldDeploymentStatus     = "status"
	FieldDeploymentBotID      = "bot_id"
	FieldDeploymentScheduleID = "schedule_id"
	FieldDeploymentCreatedAt  = "created_at"
	FieldDeploymentStartedAt  = "actual_start_time"
	FieldDeploymentEndedAt    = "actual_end_time"
	FieldDeploymentMetrics    = "metrics"
)

// Bot document fields.
const (
	FieldBotStatus      = "status"
	FieldBotLastUpdated = "last_updated"
)

// Realtime tree roots and bot node keys.
const (
	rtBotsRoot        = "/bots"
	rtDeploymentsRoot = "/deployments"

	rtKeyStatus            = "status"
	rtKeyCurrentSchedule   = "current_schedule_id"
	rtKeyCurrentDeployment = "current_deployment_id"
	rtKeyLastUpdated       = "last_updated"
)

// DefaultBatchLimit caps how many schedules one batch query returns. There is
// no pagination beyond the cap: an over-cap backlog drains on later polls.
const DefaultBatchLimit = 200
