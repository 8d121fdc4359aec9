package metrics

import (
	"regexp"
	"strings"
)

var labelSanitizer = regexp.MustCompile(`[^a-z0-9_]+`)

// JobStarted marks a pipeline job as active on this instance.
func JobStarted() {
	Get().PipelineJobsActive.Inc()
}

// JobFinished records a terminal pipeline status ("completed", "error").
func JobFinished(status string) {
	m := Get()
	m.PipelineJobsActive.Dec()
	m.PipelineJobsTotal.WithLabelValues(sanitizeLabel(status, "unknown")).Inc()
}

// RecordTrigger records an orchestration trigger dispatch ("step", "agent", "check_parallel").
func RecordTrigger(kind string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	Get().StepTriggersTotal.WithLabelValues(sanitizeLabel(kind, "unknown"), result).Inc()
}

func sanitizeLabel(raw, fallback string) string {
	s := strings.ToLower(strings.TrimSpace(raw))
	if s == "" {
		return fallback
	}
	s = labelSanitizer.ReplaceAllString(s, "_")
	s = strings.Trim(s, "_")
	if s == "" {
		return fallback
	}
	if len(s) > 63 {
		s = s[:63]
	}
	return s
}
