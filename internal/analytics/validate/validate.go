// Package validate does best-effort shape checking of analytics payloads and
// user input. Malformed entries produce warnings, not errors; only clearly
// structural failures are returned as errors.
package validate

import (
	"encoding/json"
	"fmt"
	"math"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/pabbly/hookdash/internal/analytics"
	apperrors "github.com/pabbly/hookdash/pkg/errors"
	"github.com/pabbly/hookdash/pkg/logger"
)

// FormatError reports a payload whose top-level structure is wrong.
type FormatError struct {
	Reason string
}

func (e *FormatError) Error() string {
	return "invalid analytics data format: " + e.Reason
}

func (e *FormatError) Unwrap() error {
	return apperrors.ErrInvalidFormat
}

var summaryNumbers = []string{"totalCustomers", "activeCustomers", "totalMRR"}

// ValidateAnalyticsData checks decoded JSON analytics data. It returns a
// *FormatError when data is not an object. Malformed summary, mrr or customers
// entries are logged and returned as warnings; data is never modified.
func ValidateAnalyticsData(data any) ([]string, error) {
	obj, ok := data.(map[string]any)
	if !ok {
		return nil, &FormatError{Reason: fmt.Sprintf("expected object, got %s", kind(data))}
	}

	var warnings []string
	warn := func(format string, args ...any) {
		msg := fmt.Sprintf(format, args...)
		warnings = append(warnings, msg)
		logger.WithComponent("validate").Warn("analytics data warning", "warning", msg)
	}

	if raw, ok := obj["summary"]; ok && raw != nil {
		summary, ok := raw.(map[string]any)
		if !ok {
			warn("summary: expected object, got %s", kind(raw))
		} else {
			for _, field := range summaryNumbers {
				if !isNumber(summary[field]) {
					warn("summary.%s: expected number, got %s", field, kind(summary[field]))
				}
			}
		}
	}

	if raw, ok := obj["mrr"]; ok && raw != nil {
		points, ok := raw.([]any)
		if !ok {
			warn("mrr: expected array, got %s", kind(raw))
		}
		for i, p := range points {
			point, ok := p.(map[string]any)
			if !ok {
				warn("mrr[%d]: expected object, got %s", i, kind(p))
				continue
			}
			if s, ok := point["date"].(string); !ok || s == "" {
				warn("mrr[%d].date: missing", i)
			}
			if !isNumber(point["mrr"]) {
				warn("mrr[%d].mrr: expected number, got %s", i, kind(point["mrr"]))
			}
		}
	}

	if raw, ok := obj["customers"]; ok && raw != nil {
		customers, ok := raw.([]any)
		if !ok {
			warn("customers: expected array, got %s", kind(raw))
		}
		for i, c := range customers {
			customer, ok := c.(map[string]any)
			if !ok {
				warn("customers[%d]: expected object, got %s", i, kind(c))
				continue
			}
			for _, field := range []string{"id", "email"} {
				if s, ok := customer[field].(string); !ok || s == "" {
					warn("customers[%d].%s: missing", i, field)
				}
			}
		}
	}

	return warnings, nil
}

// ValidateResult validates a typed result by way of its JSON form, so the
// same rules apply to whatever the analytics service actually sent.
func ValidateResult(res *analytics.Result) ([]string, error) {
	if res == nil {
		return nil, &FormatError{Reason: "expected object, got null"}
	}
	data, err := json.Marshal(res)
	if err != nil {
		return nil, fmt.Errorf("encoding result: %w", err)
	}
	var generic any
	if err := json.Unmarshal(data, &generic); err != nil {
		return nil, fmt.Errorf("decoding result: %w", err)
	}
	return ValidateAnalyticsData(generic)
}

// SanitizeInput strips angle brackets from strings and trims them, clamps
// numbers to be non-negative and returns anything else unchanged.
func SanitizeInput(v any) any {
	switch x := v.(type) {
	case string:
		return strings.TrimSpace(strings.NewReplacer("<", "", ">", "").Replace(x))
	case json.Number:
		if f, err := x.Float64(); err == nil && f < 0 {
			return json.Number("0")
		}
		return x
	case nil:
		return nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if rv.Int() < 0 {
			return reflect.Zero(rv.Type()).Interface()
		}
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if f < 0 || math.IsNaN(f) {
			return reflect.Zero(rv.Type()).Interface()
		}
	}
	return v
}

// SanitizeString is SanitizeInput for callers that hold a string.
func SanitizeString(s string) string {
	return SanitizeInput(s).(string)
}

// SanitizeFields applies SanitizeInput to every exported string and number
// field of the struct ptr points to, in place.
func SanitizeFields(ptr any) {
	rv := reflect.ValueOf(ptr)
	if rv.Kind() != reflect.Pointer || rv.IsNil() || rv.Elem().Kind() != reflect.Struct {
		return
	}
	sv := rv.Elem()
	for i := 0; i < sv.NumField(); i++ {
		f := sv.Field(i)
		if !f.CanSet() {
			continue
		}
		switch f.Kind() {
		case reflect.String, reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
			reflect.Float32, reflect.Float64:
			f.Set(reflect.ValueOf(SanitizeInput(f.Interface())).Convert(f.Type()))
		}
	}
}

// DateRangeResult is the outcome of ValidateDateRange.
type DateRangeResult struct {
	Valid  bool     `json:"valid"`
	Errors []string `json:"errors"`
}

var dateLayouts = []string{
	time.DateOnly,
	time.RFC3339,
	time.DateTime,
}

// ParseDate accepts a date, an RFC 3339 timestamp or "2006-01-02 15:04:05".
func ParseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: unrecognised date %q", apperrors.ErrInvalidInput, s)
}

// ValidateDateRange reports whether start and end both parse and start is not
// after end. It never fails; problems are listed in the result.
func ValidateDateRange(start, end string) DateRangeResult {
	res := DateRangeResult{Errors: []string{}}
	from, errFrom := ParseDate(start)
	if errFrom != nil {
		res.Errors = append(res.Errors, "Invalid start date")
	}
	to, errTo := ParseDate(end)
	if errTo != nil {
		res.Errors = append(res.Errors, "Invalid end date")
	}
	if errFrom == nil && errTo == nil && from.After(to) {
		res.Errors = append(res.Errors, "Start date must be before end date")
	}
	res.Valid = len(res.Errors) == 0
	return res
}

// ValidateAPIResponse fails only when the response carries an error and
// success is falsy. A missing success field is logged.
func ValidateAPIResponse(resp map[string]any) (map[string]any, error) {
	if resp == nil {
		return nil, &FormatError{Reason: "expected object, got null"}
	}
	success, hasSuccess := resp["success"]
	if errVal, ok := resp["error"]; ok && errVal != nil && !truthy(success) {
		msg, _ := errVal.(string)
		if msg == "" {
			msg = fmt.Sprint(errVal)
		}
		return nil, apperrors.New(apperrors.ErrUpstream, http.StatusBadGateway, msg)
	}
	if !hasSuccess {
		logger.WithComponent("validate").Warn("api response missing success field")
	}
	return resp, nil
}

func truthy(v any) bool {
	switch x := v.(type) {
	case nil:
		return false
	case bool:
		return x
	case string:
		return x != ""
	case float64:
		return x != 0 && !math.IsNaN(x)
	case json.Number:
		f, err := x.Float64()
		return err == nil && f != 0
	}
	return true
}

func isNumber(v any) bool {
	switch v.(type) {
	case float64, float32, int, int64, int32, json.Number:
		return true
	}
	return false
}

func kind(v any) string {
	switch v.(type) {
	case nil:
		return "null"
	case map[string]any:
		return "object"
	case []any:
		return "array"
	case string:
		return "string"
	case bool:
		return "boolean"
	}
	if isNumber(v) {
		return "number"
	}
	return fmt.Sprintf("%T", v)
}
