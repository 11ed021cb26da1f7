// Package scheduler turns cron entries into synthetic inbound envelopes so
// the agent wakes up for reminders and recurring tasks.
package scheduler

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/google/uuid"
	"github.com/robfig/cron/v3"

	"github.com/okabe-dev/porter/internal/bus"
	"github.com/okabe-dev/porter/pkg/envelope"
	"github.com/okabe-dev/porter/pkg/logger"
)

// Job is one persisted schedule entry.
type Job struct {
	ID             string `json:"id"`
	CronSpec       string `json:"cron"`
	ConversationID string `json:"conversation_id"`
	Prompt         string `json:"prompt"`

	entryID cron.EntryID
}

// Scheduler owns the cron runner and the persisted job set.
type Scheduler struct {
	cron *cron.Cron
	bus  *bus.MessageBus
	log  *logger.Logger
	path string // persisted jobs, empty disables persistence

	mu   sync.Mutex
	jobs map[string]*Job
}

// New creates a scheduler, restoring persisted jobs from path when present.
func New(b *bus.MessageBus, log *logger.Logger, path string) (*Scheduler, error) {
	s := &Scheduler{
		cron: cron.New(),
		bus:  b,
		log:  log.WithComponent("scheduler"),
		path: path,
		jobs: make(map[string]*Job),
	}

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil && !os.IsNotExist(err) {
			return nil, fmt.Errorf("read schedule store: %w", err)
		}
		if err == nil {
			var jobs []*Job
			if err := json.Unmarshal(data, &jobs); err != nil {
				return nil, fmt.Errorf("parse schedule store: %w", err)
			}
			for _, j := range jobs {
				if err := s.register(j); err != nil {
					s.log.Warn("skipping persisted job", "id", j.ID, "error", err)
					continue
				}
				s.jobs[j.ID] = j
			}
		}
	}
	return s, nil
}

// Start begins firing jobs.
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info("scheduler started", "jobs", len(s.jobs))
}

// Stop cancels all pending jobs and waits for running ones.
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
}

// Schedule registers a cron entry that sends prompt into conversationID on
// every tick. Returns the job id.
func (s *Scheduler) Schedule(cronSpec, conversationID, prompt string) (string, error) {
	j := &Job{
		ID:             uuid.NewString()[:8],
		CronSpec:       cronSpec,
		ConversationID: conversationID,
		Prompt:         prompt,
	}
	if err := s.register(j); err != nil {
		return "", err
	}

	s.mu.Lock()
	s.jobs[j.ID] = j
	err := s.persistLocked()
	s.mu.Unlock()
	if err != nil {
		s.log.Warn("could not persist schedule", "error", err)
	}

	s.log.Info("job scheduled", "id", j.ID, "cron", cronSpec, "conversation", conversationID)
	return j.ID, nil
}

// Entries lists the current jobs, one line each.
func (s *Scheduler) Entries() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	out := make([]string, 0, len(s.jobs))
	for _, j := range s.jobs {
		next := s.cron.Entry(j.entryID).Next
		out = append(out, fmt.Sprintf("%s [%s] %s: %s (next %s)",
			j.ID, j.CronSpec, j.ConversationID, j.Prompt, next.Format("2006-01-02 15:04")))
	}
	sort.Strings(out)
	return out
}

// Remove deletes a job by id.
func (s *Scheduler) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	j, ok := s.jobs[id]
	if !ok {
		return false
	}
	s.cron.Remove(j.entryID)
	delete(s.jobs, id)
	if err := s.persistLocked(); err != nil {
		s.log.Warn("could not persist schedule", "error", err)
	}
	s.log.Info("job removed", "id", id)
	return true
}

// register validates the cron spec and attaches the job to the runner.
func (s *Scheduler) register(j *Job) error {
	job := j
	entryID, err := s.cron.AddFunc(j.CronSpec, func() { s.fire(job) })
	if err != nil {
		return fmt.Errorf("invalid cron spec %q: %w", j.CronSpec, err)
	}
	j.entryID = entryID
	return nil
}

// fire publishes the job's prompt as a synthetic inbound user envelope. The
// channel is recovered from the conversation id so the reply reaches the
// chat the job was created in.
func (s *Scheduler) fire(j *Job) {
	env := envelope.NewUser(channelOf(j.ConversationID), j.ConversationID, j.Prompt)
	env.Metadata = map[string]string{"scheduled": j.ID}

	if err := s.bus.PublishInbound(env); err != nil {
		s.log.Warn("could not publish scheduled prompt", "id", j.ID, "error", err)
		return
	}
	s.log.Info("job fired", "id", j.ID, "conversation", j.ConversationID)
}

func channelOf(conversationID string) string {
	if idx := strings.IndexByte(conversationID, ':'); idx > 0 {
		return conversationID[:idx]
	}
	return envelope.ChannelInternal
}

func (s *Scheduler) persistLocked() error {
	if s.path == "" {
		return nil
	}
	jobs := make([]*Job, 0, len(s.jobs))
	for _, j := range s.jobs {
		jobs = append(jobs, j)
	}
	sort.Slice(jobs, func(i, k int) bool { return jobs[i].ID < jobs[k].ID })

	data, err := json.MarshalIndent(jobs, "", "  ")
	if err != nil {
		return err
	}
	if err := os.MkdirAll(filepath.Dir(s.path), 0o755); err != nil {
		return err
	}
	return os.WriteFile(s.path, data, 0o644)
}
