package ports

import "time"

type SchedulerService interface {
	Start()
	Stop()

	// ScheduleTaskOnce runs task once after the given delay. Scheduling a new
	// task with an id already in use replaces the previous one.
	ScheduleTaskOnce(id string, after time.Duration, task func()) error
	CancelTask(id string)
}
