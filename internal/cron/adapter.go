package cron

import (
	"fmt"
	"strings"
	"time"
)

// AddJobFromString implements the manage_cron tool's loose schedule syntax:
// "every <duration>" (e.g. "every 30m"), "at HH:MM", or a bare 5-field cron
// expression, accepted as-is. This is the parsing layer between the tool's
// free-text schedule field and AddJob's typed CronSchedule.
func (s *Service) AddJobFromString(schedule, message, sessionKey string) (string, error) {
	sched, err := parseScheduleString(schedule)
	if err != nil {
		return "", err
	}
	return s.AddJob(sched, message, sessionKey)
}

func parseScheduleString(schedule string) (CronSchedule, error) {
	fields := strings.Fields(schedule)
	switch {
	case len(fields) == 2 && strings.EqualFold(fields[0], "every"):
		return CronSchedule{Type: ScheduleEvery, Expression: fields[1]}, nil
	case len(fields) == 2 && strings.EqualFold(fields[0], "at"):
		return CronSchedule{Type: ScheduleAt, Expression: fields[1]}, nil
	default:
		return CronSchedule{Type: ScheduleCron, Expression: schedule}, nil
	}
}

// ListJobsText renders every registered job as human-readable text for the
// manage_cron tool's "list" action.
func (s *Service) ListJobsText() string {
	jobs := s.ListJobs()
	if len(jobs) == 0 {
		return "No cron jobs registered."
	}
	var sb strings.Builder
	for _, j := range jobs {
		fmt.Fprintf(&sb, "%s [%s %s] -> %q (session %s), created %s\n",
			j.ID, j.Schedule.Type, j.Schedule.Expression, j.Message, j.SessionKey,
			j.CreatedAt.Format(time.RFC3339))
	}
	return strings.TrimSuffix(sb.String(), "\n")
}

// ToolAdapter exposes a Service as the tools package's narrower CronManager
// interface (string schedule in, string listing out) without internal/tools
// needing to import internal/cron's richer types.
type ToolAdapter struct {
	Service *Service
}

func (a ToolAdapter) AddJob(schedule, message, sessionKey string) (string, error) {
	return a.Service.AddJobFromString(schedule, message, sessionKey)
}

func (a ToolAdapter) RemoveJob(id string) error {
	return a.Service.RemoveJob(id)
}

func (a ToolAdapter) ListJobs() string {
	return a.Service.ListJobsText()
}
