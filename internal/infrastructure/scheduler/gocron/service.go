package scheduler

import (
	"fmt"
	"time"

	"github.com/go-co-op/gocron"
	"github.com/hero-dungeon/dungeond/internal/core/ports"
	log "github.com/sirupsen/logrus"
)

type service struct {
	scheduler *gocron.Scheduler
}

func NewScheduler() ports.SchedulerService {
	svc := gocron.NewScheduler(time.UTC)
	svc.SingletonModeAll()
	return &service{svc}
}

func (s *service) Start() {
	s.scheduler.StartAsync()
}

func (s *service) Stop() {
	s.scheduler.Stop()
}

func (s *service) ScheduleTaskOnce(id string, after time.Duration, task func()) error {
	if after <= 0 {
		return fmt.Errorf("invalid delay %s for task %s", after, id)
	}
	s.CancelTask(id)

	_, err := s.scheduler.Every(after).WaitForSchedule().LimitRunsTo(1).Tag(id).Do(task)
	if err != nil {
		return fmt.Errorf("failed to schedule task %s: %s", id, err)
	}
	log.Debugf("scheduled task %s in %s", id, after)
	return nil
}

func (s *service) CancelTask(id string) {
	if err := s.scheduler.RemoveByTag(id); err == nil {
		log.Debugf("canceled task %s", id)
	}
}
