package tool

import (
	"context"
	"fmt"
	"strings"

	"github.com/okabe-dev/porter/internal/session"
	"github.com/okabe-dev/porter/internal/skill"
)

type searchMemoryParams struct {
	Query string `json:"query" jsonschema:"description=Text to look for in long-term memory,required"`
}

type dailyNoteParams struct {
	Text string `json:"text" jsonschema:"description=Note text to append to today's daily note,required"`
}

// RegisterMemoryTools exposes long-term memory to the agent.
func RegisterMemoryTools(r *Registry, mem *session.Memory) {
	r.Register(
		DefFromStruct("search_memory", "Search long-term memory and daily notes for a phrase.", searchMemoryParams{}),
		func(ctx context.Context, args map[string]any) (string, error) {
			query, _ := args["query"].(string)
			results, err := mem.Search(query)
			if err != nil {
				return "", err
			}
			if len(results) == 0 {
				return "No matching memory entries.", nil
			}
			return strings.Join(results, "\n"), nil
		},
	)

	r.Register(
		DefFromStruct("append_daily_note", "Record a fact or event in today's daily note.", dailyNoteParams{}),
		func(ctx context.Context, args map[string]any) (string, error) {
			text, _ := args["text"].(string)
			if strings.TrimSpace(text) == "" {
				return "", fmt.Errorf("empty note text")
			}
			if err := mem.AppendDailyNote(text); err != nil {
				return "", err
			}
			return "Noted.", nil
		},
	)
}

type readSkillParams struct {
	Name string `json:"name" jsonschema:"description=Skill name from the catalog,required"`
}

// RegisterSkillTools lets the agent read full skill documents on demand.
func RegisterSkillTools(r *Registry, lib *skill.Library) {
	r.Register(
		DefFromStruct("read_skill", "Read the full content of a skill by name.", readSkillParams{}),
		func(ctx context.Context, args map[string]any) (string, error) {
			name, _ := args["name"].(string)
			s, ok := lib.Get(name)
			if !ok {
				return "", fmt.Errorf("unknown skill %q", name)
			}
			return s.Content, nil
		},
	)
}

// Scheduler is the subset of the cron service the schedule tools need.
type Scheduler interface {
	Schedule(cronSpec, conversationID, prompt string) (string, error)
	Entries() []string
	Remove(id string) bool
}

type scheduleParams struct {
	Cron   string `json:"cron" jsonschema:"description=Cron expression for when to fire (five fields),required"`
	Prompt string `json:"prompt" jsonschema:"description=Instruction the assistant should act on when the schedule fires,required"`
}

type unscheduleParams struct {
	ID string `json:"id" jsonschema:"description=Schedule id returned when it was created,required"`
}

// RegisterScheduleTools exposes the scheduler. The conversation the call
// originates from is bound at registration by the agent loop wiring.
func RegisterScheduleTools(r *Registry, sched Scheduler, conversationOf func(ctx context.Context) string) {
	r.Register(
		DefFromStruct("schedule", "Create a recurring reminder or task on a cron expression.", scheduleParams{}),
		func(ctx context.Context, args map[string]any) (string, error) {
			cronSpec, _ := args["cron"].(string)
			prompt, _ := args["prompt"].(string)
			id, err := sched.Schedule(cronSpec, conversationOf(ctx), prompt)
			if err != nil {
				return "", err
			}
			return "Scheduled with id " + id, nil
		},
	)

	r.Register(
		DefFromStruct("list_schedules", "List active schedules.", struct{}{}),
		func(ctx context.Context, args map[string]any) (string, error) {
			entries := sched.Entries()
			if len(entries) == 0 {
				return "No active schedules.", nil
			}
			return strings.Join(entries, "\n"), nil
		},
	)

	r.Register(
		DefFromStruct("unschedule", "Remove a schedule by id.", unscheduleParams{}),
		func(ctx context.Context, args map[string]any) (string, error) {
			id, _ := args["id"].(string)
			if !sched.Remove(id) {
				return "", fmt.Errorf("no schedule with id %q", id)
			}
			return "Removed.", nil
		},
	)
}
