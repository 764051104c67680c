// Package cronspec implements the cron evaluator: validation, next-fire
// computation, preset listing, and random-expression generation from a
// coarse pattern name. It wraps robfig/cron/v3's standard 5-field parser
// rather than hand-rolling one.
package cronspec

import (
	"fmt"
	"math/rand"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"cloudgather/internal/domain"
)

// parser accepts exactly the classic 5-field form: no seconds field, no
// "@every"/"@daily" macros.
var parser = cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow)

// Validate reports whether expr parses as a 5-field cron expression, and if
// so returns a human-readable description of it.
func Validate(expr string) (ok bool, description string) {
	if _, err := parser.Parse(expr); err != nil {
		return false, ""
	}
	return true, Describe(expr)
}

// Parse returns domain.ErrInvalidCron, wrapped, on syntax error.
func Parse(expr string) (cron.Schedule, error) {
	sched, err := parser.Parse(expr)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", domain.ErrInvalidCron, expr, err)
	}
	return sched, nil
}

// NextFire returns the first instant strictly after from at which expr
// fires. DST handling is whatever robfig/cron/v3 does against a
// time.Time's Location, which itself follows civil-time semantics: a wall
// clock instant inside a skipped DST gap normalizes forward, and a
// wall-clock instant that occurs twice (fall-back) is only matched once as
// the loop advances a full period past it.
func NextFire(expr string, from time.Time) (time.Time, error) {
	sched, err := Parse(expr)
	if err != nil {
		return time.Time{}, err
	}
	return sched.Next(from), nil
}

// fieldWords describes each of the 5 cron fields for Describe's output.
var fieldWords = [5]string{"minute", "hour", "day of month", "month", "day of week"}

// Describe builds a short human-readable sentence for a syntactically valid
// expr by classifying each field independently. robfig/cron has no
// describer of its own.
func Describe(expr string) string {
	fields := strings.Fields(expr)
	if len(fields) != 5 {
		return expr
	}
	var parts []string
	for i, f := range fields {
		parts = append(parts, describeField(f, fieldWords[i]))
	}
	return strings.Join(parts, ", ")
}

func describeField(f, name string) string {
	switch {
	case f == "*":
		return fmt.Sprintf("every %s", name)
	case strings.Contains(f, "/"):
		segs := strings.SplitN(f, "/", 2)
		return fmt.Sprintf("every %s %s (from %s)", segs[1], name, segs[0])
	case strings.Contains(f, "-"):
		return fmt.Sprintf("%s %s through %s", name, strings.Split(f, "-")[0], strings.Split(f, "-")[1])
	case strings.Contains(f, ","):
		return fmt.Sprintf("%s in {%s}", name, f)
	default:
		return fmt.Sprintf("%s = %s", name, f)
	}
}

// Pattern is a coarse randomization request understood by RandomFromPattern.
type Pattern string

const (
	PatternHourly Pattern = "hourly"
	PatternDaily  Pattern = "daily"
	PatternNight  Pattern = "night"
)

// RandomFromPattern produces a concrete 5-field expression from a coarse
// pattern name, spreading the minute (and, for daily/night, the hour)
// randomly so that many tasks sharing a pattern don't all fire in the same
// instant.
func RandomFromPattern(pattern Pattern) (string, error) {
	switch pattern {
	case PatternHourly:
		return fmt.Sprintf("%d * * * *", rand.Intn(60)), nil
	case PatternDaily:
		return fmt.Sprintf("%d %d * * *", rand.Intn(60), rand.Intn(24)), nil
	case PatternNight:
		return fmt.Sprintf("%d %d * * *", rand.Intn(60), rand.Intn(6)), nil
	default:
		return "", fmt.Errorf("%w: unknown pattern %q", domain.ErrInvalidCron, pattern)
	}
}

// Preset is one entry in ListPresets' fixed table.
type Preset struct {
	Name        string `json:"name"`
	Expr        string `json:"expr"`
	Description string `json:"description"`
}

// ListPresets returns a fixed table of common schedules for the (external)
// control surface's schedule picker.
func ListPresets() []Preset {
	presets := []Preset{
		{Name: "every_5_minutes", Expr: "*/5 * * * *"},
		{Name: "every_15_minutes", Expr: "*/15 * * * *"},
		{Name: "every_30_minutes", Expr: "*/30 * * * *"},
		{Name: "hourly", Expr: "0 * * * *"},
		{Name: "daily_02", Expr: "0 2 * * *"},
		{Name: "daily_03", Expr: "0 3 * * *"},
		{Name: "daily_04", Expr: "0 4 * * *"},
		{Name: "weekly_sunday_03", Expr: "0 3 * * 0"},
	}
	for i := range presets {
		presets[i].Description = Describe(presets[i].Expr)
	}
	return presets
}
