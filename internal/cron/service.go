package cron

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"sync"
	"time"

	rcron "github.com/robfig/cron/v3"
)

// Service schedules reminder and maintenance jobs. Jobs persist as a
// JSON file so reminders survive restarts. OnJob is invoked for every
// firing; it must be set before Start.
type Service struct {
	storePath string
	OnJob     func(job Job) error

	mu       sync.Mutex
	jobs     []Job
	cron     *rcron.Cron
	entryMap map[string]rcron.EntryID
	cancel   context.CancelFunc
}

func NewService(storePath string) *Service {
	return &Service{
		storePath: storePath,
		entryMap:  make(map[string]rcron.EntryID),
	}
}

func (s *Service) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel

	if err := s.load(); err != nil {
		log.Printf("[cron] load jobs: %v", err)
	}

	s.cron = rcron.New()
	for i := range s.jobs {
		if s.jobs[i].Enabled && s.jobs[i].Schedule.Kind == "cron" {
			s.registerCronJob(&s.jobs[i])
		}
	}
	count := len(s.jobs)
	s.mu.Unlock()

	s.cron.Start()
	go s.tickLoop(ctx)
	log.Printf("[cron] started with %d jobs", count)
	return nil
}

func (s *Service) registerCronJob(job *Job) {
	snapshot := *job
	id, err := s.cron.AddFunc(job.Schedule.Expr, func() {
		s.fire(snapshot)
	})
	if err != nil {
		log.Printf("[cron] register job %s (%q): %v", job.Name, job.Schedule.Expr, err)
		return
	}
	s.entryMap[job.ID] = id
}

// tickLoop drives interval and one-shot schedules.
func (s *Service) tickLoop(ctx context.Context) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			for _, job := range s.dueJobs(time.Now().UnixMilli()) {
				s.fire(job)
			}
		case <-ctx.Done():
			return
		}
	}
}

// dueJobs marks "at" jobs disabled as they are claimed so a slow
// handler cannot double-fire them.
func (s *Service) dueJobs(nowMs int64) []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []Job
	for i := range s.jobs {
		job := &s.jobs[i]
		if !job.Enabled {
			continue
		}
		switch job.Schedule.Kind {
		case "every":
			if job.Schedule.EveryMs > 0 && nowMs >= job.State.LastRunAtMs+job.Schedule.EveryMs {
				job.State.LastRunAtMs = nowMs
				due = append(due, *job)
			}
		case "at":
			if job.Schedule.AtMs > 0 && nowMs >= job.Schedule.AtMs {
				job.Enabled = false
				due = append(due, *job)
			}
		}
	}
	return due
}

func (s *Service) fire(job Job) {
	log.Printf("[cron] firing job %s (%s)", job.Name, job.ID)
	var err error
	if s.OnJob == nil {
		err = fmt.Errorf("no job handler configured")
	} else {
		err = s.OnJob(job)
	}
	s.recordOutcome(job.ID, err)
}

func (s *Service) recordOutcome(jobID string, runErr error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for i := range s.jobs {
		if s.jobs[i].ID != jobID {
			continue
		}
		s.jobs[i].State.LastRunAtMs = time.Now().UnixMilli()
		if runErr != nil {
			s.jobs[i].State.LastStatus = "error"
			s.jobs[i].State.LastError = runErr.Error()
			log.Printf("[cron] job %s failed: %v", s.jobs[i].Name, runErr)
		} else {
			s.jobs[i].State.LastStatus = "ok"
			s.jobs[i].State.LastError = ""
		}
		if s.jobs[i].DeleteAfterRun {
			s.dropEntry(jobID)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
		}
		break
	}
	if err := s.save(); err != nil {
		log.Printf("[cron] save jobs: %v", err)
	}
}

func (s *Service) dropEntry(jobID string) {
	if entryID, ok := s.entryMap[jobID]; ok && s.cron != nil {
		s.cron.Remove(entryID)
		delete(s.entryMap, jobID)
	}
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if s.cron != nil {
		stopCtx := s.cron.Stop()
		select {
		case <-stopCtx.Done():
		case <-time.After(5 * time.Second):
			log.Printf("[cron] stop timeout waiting for running jobs")
		}
	}
	log.Printf("[cron] stopped")
}

func (s *Service) AddJob(name string, schedule Schedule, payload Payload) (*Job, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	job := NewJob(name, schedule, payload)
	s.jobs = append(s.jobs, job)
	if job.Schedule.Kind == "cron" && s.cron != nil {
		s.registerCronJob(&s.jobs[len(s.jobs)-1])
	}
	if err := s.save(); err != nil {
		return nil, fmt.Errorf("save jobs: %w", err)
	}
	return &job, nil
}

func (s *Service) RemoveJob(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	for i, job := range s.jobs {
		if job.ID == id {
			s.dropEntry(id)
			s.jobs = append(s.jobs[:i], s.jobs[i+1:]...)
			if err := s.save(); err != nil {
				log.Printf("[cron] save jobs: %v", err)
			}
			return true
		}
	}
	return false
}

func (s *Service) ListJobs() []Job {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Job, len(s.jobs))
	copy(out, s.jobs)
	return out
}

func (s *Service) load() error {
	data, err := os.ReadFile(s.storePath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	return json.Unmarshal(data, &s.jobs)
}

func (s *Service) save() error {
	if err := os.MkdirAll(filepath.Dir(s.storePath), 0755); err != nil {
		return err
	}
	data, err := json.MarshalIndent(s.jobs, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.storePath, data, 0644)
}
