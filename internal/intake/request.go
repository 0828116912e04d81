// Package intake accepts analysis requests from outside the process: the
// shared request model and its validation, and a Kafka listener that turns
// messages into submitted jobs.
package intake

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/helixir/research-analysis-service/internal/domain"
)

var jobIDRegex = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._:-]{0,127}$`)

// Options are the per-job settings a caller may override.
type Options struct {
	MaxPapers             int      `json:"max_papers,omitempty" validate:"omitempty,min=1,max=1000"`
	Sources               []string `json:"sources,omitempty" validate:"omitempty,dive,oneof=arxiv semantic_scholar openalex arxiv_listing"`
	DedupThreshold        *float64 `json:"dedup_threshold,omitempty" validate:"omitempty,min=0,max=1"`
	IncludeKnowledgeGraph bool     `json:"include_knowledge_graph,omitempty"`
	TimeoutSeconds        int      `json:"timeout_seconds,omitempty" validate:"omitempty,min=1,max=86400"`
}

// JobOptions converts o into pipeline job options.
func (o Options) JobOptions() domain.JobOptions {
	opts := domain.JobOptions{
		MaxPapers:             o.MaxPapers,
		Sources:               append([]string(nil), o.Sources...),
		IncludeKnowledgeGraph: o.IncludeKnowledgeGraph,
		Timeout:               time.Duration(o.TimeoutSeconds) * time.Second,
	}
	if o.DedupThreshold != nil {
		t := *o.DedupThreshold
		opts.DedupThreshold = &t
	}
	return opts
}

// FromJobOptions converts pipeline job options back into request form.
func FromJobOptions(opts domain.JobOptions) Options {
	o := Options{
		MaxPapers:             opts.MaxPapers,
		Sources:               append([]string(nil), opts.Sources...),
		IncludeKnowledgeGraph: opts.IncludeKnowledgeGraph,
		TimeoutSeconds:        int(opts.Timeout / time.Second),
	}
	if opts.DedupThreshold != nil {
		t := *opts.DedupThreshold
		o.DedupThreshold = &t
	}
	return o
}

// Request is an analysis request as carried on the intake topic.
type Request struct {
	Query   string  `json:"query" validate:"required,max=2000"`
	JobID   string  `json:"job_id,omitempty" validate:"omitempty,jobid"`
	Options Options `json:"options"`
}

// Validator checks request structs and reports the first failure as a
// domain.ValidationError keyed by JSON field name.
type Validator struct {
	validate *validator.Validate
}

// NewValidator creates a Validator with the intake rules registered.
func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("jobid", func(fl validator.FieldLevel) bool {
		return jobIDRegex.MatchString(fl.Field().String())
	})
	return &Validator{validate: v}
}

// Struct validates s.
func (v *Validator) Struct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return fmt.Errorf("validating request: %w", err)
	}
	fe := verrs[0]
	return domain.NewValidationError(fieldPath(fe), ruleMessage(fe))
}

// fieldPath drops the root struct name and the Options level, which is
// nested in Request and embedded in flat request bodies.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		ns = rest
	}
	if prefix, rest, ok := strings.Cut(ns, "."); ok && strings.EqualFold(prefix, "options") {
		ns = rest
	}
	return ns
}

func ruleMessage(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "max":
		if fe.Kind() == reflect.String {
			return fmt.Sprintf("must be at most %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "jobid":
		return "must be 1-128 characters of letters, digits, '.', '_', ':' or '-'"
	default:
		return fmt.Sprintf("failed %q validation", fe.Tag())
	}
}
