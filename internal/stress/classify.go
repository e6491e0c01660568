package stress

import "regexp"

// Outcome is the classification of a single stress probe.
type Outcome string

const (
	OutcomePass     Outcome = "pass"
	OutcomeGraceful Outcome = "graceful_fail"
	OutcomeCrash    Outcome = "crash_or_hang"
)

// validationPatterns match error messages that indicate the server
// rejected the input deliberately.
var validationPatterns = compileAll(
	`invalid`,
	`required`,
	`missing`,
	`type.*expected`,
	`must be`,
	`should be`,
	`cannot be`,
	`not allowed`,
	`validation`,
	`argument`,
	`parameter`,
	`property`,
	`schema`,
)

// crashPatterns match error messages that leak an internal failure.
var crashPatterns = compileAll(
	`crash`,
	`segfault`,
	`exception`,
	`internal.*error`,
	`unexpected`,
	`panic`,
	`fatal`,
	`killed`,
)

func compileAll(patterns ...string) []*regexp.Regexp {
	compiled := make([]*regexp.Regexp, len(patterns))
	for i, p := range patterns {
		compiled[i] = regexp.MustCompile(`(?i)` + p)
	}
	return compiled
}

// Classify maps a probe result to its outcome. Validation vocabulary
// wins over crash vocabulary when a message matches both; an error that
// matches neither still counts as a graceful rejection.
func Classify(errMessage string, timedOut bool) Outcome {
	if timedOut {
		return OutcomeCrash
	}
	if errMessage == "" {
		return OutcomePass
	}
	for _, re := range validationPatterns {
		if re.MatchString(errMessage) {
			return OutcomeGraceful
		}
	}
	for _, re := range crashPatterns {
		if re.MatchString(errMessage) {
			return OutcomeCrash
		}
	}
	return OutcomeGraceful
}

// Score computes the reliability score for a finished sweep:
// round(100 * (pass + graceful) / total), or 0 for an empty sweep.
func Score(passed, graceful, crashed int) int {
	total := passed + graceful + crashed
	if total == 0 {
		return 0
	}
	return int(float64(passed+graceful)/float64(total)*100 + 0.5)
}
