package db

import "time"

// Job keys known to the scheduler task registry
const (
	JobPublish  = "publish_task"
	JobMonitor  = "monitor_task"
	JobGenerate = "generate_task"
	JobRecover  = "recover_task"
)

// JobDefinition drives scheduler job registration
type JobDefinition struct {
	TaskKey        string    `json:"task_key" validate:"required,max=64"`
	CronExpression string    `json:"cron_expression" validate:"required"`
	IsActive       bool      `json:"is_active"`
	Label          string    `json:"label" validate:"max=128"`
	Description    string    `json:"description,omitempty"`
	UpdatedAt      time.Time `json:"updated_at"`
}

// DefaultJobDefinitions returns the definitions seeded into an empty table
func DefaultJobDefinitions() []JobDefinition {
	return []JobDefinition{
		{
			TaskKey:        JobPublish,
			CronExpression: "*/1 * * * *",
			IsActive:       true,
			Label:          "Article publishing engine",
			Description:    "Claims due articles and runs the platform publisher",
		},
		{
			TaskKey:        JobMonitor,
			CronExpression: "*/5 * * * *",
			IsActive:       true,
			Label:          "Index monitor",
			Description:    "Checks published articles for third-party indexing",
		},
		{
			TaskKey:        JobGenerate,
			CronExpression: "*/1 * * * *",
			IsActive:       true,
			Label:          "Article generation",
			Description:    "Sends due drafts to the content gateway",
		},
		{
			TaskKey:        JobRecover,
			CronExpression: "*/5 * * * *",
			IsActive:       true,
			Label:          "Stale claim recovery",
			Description:    "Fails items stuck in an in-flight state after a crash",
		},
	}
}
