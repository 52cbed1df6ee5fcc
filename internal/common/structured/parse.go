package structured

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/project-tktt/offer-collector/internal/common/normalizer"
	"github.com/project-tktt/offer-collector/internal/domain"
)

// ErrSchema marks a model response that is not JSON or lacks a required key
var ErrSchema = eris.New("response does not match schema")

var requiredKeys = []string{"hard_skills", "soft_skills", "years_experience_min", "domains"}

// Parse validates a raw model response and normalizes it. Any error wraps ErrSchema.
func Parse(raw string) (domain.StructuredAttributes, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal([]byte(stripFences(raw)), &fields); err != nil {
		return domain.StructuredAttributes{}, eris.Wrap(ErrSchema, err.Error())
	}
	if fields == nil {
		return domain.StructuredAttributes{}, eris.Wrap(ErrSchema, "not an object")
	}
	for _, key := range requiredKeys {
		if _, ok := fields[key]; !ok {
			return domain.StructuredAttributes{}, eris.Wrapf(ErrSchema, "missing key %q", key)
		}
	}

	hard, err := stringList(fields["hard_skills"])
	if err != nil {
		return domain.StructuredAttributes{}, eris.Wrapf(ErrSchema, "hard_skills: %v", err)
	}
	soft, err := stringList(fields["soft_skills"])
	if err != nil {
		return domain.StructuredAttributes{}, eris.Wrapf(ErrSchema, "soft_skills: %v", err)
	}
	domains, err := stringList(fields["domains"])
	if err != nil {
		return domain.StructuredAttributes{}, eris.Wrapf(ErrSchema, "domains: %v", err)
	}

	return domain.StructuredAttributes{
		HardSkills:         normalizer.Skills(hard),
		SoftSkills:         normalizer.Skills(soft),
		MinYearsExperience: coerceYears(fields["years_experience_min"]),
		Domains:            normalizer.Domains(domains),
	}, nil
}

// stripFences removes a ```json ... ``` wrapper some models add despite instructions
func stripFences(raw string) string {
	s := strings.TrimSpace(raw)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	} else {
		s = strings.TrimPrefix(s, "```")
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

func stringList(raw json.RawMessage) ([]string, error) {
	if isNull(raw) {
		return nil, nil
	}
	var list []*string
	if err := json.Unmarshal(raw, &list); err != nil {
		return nil, err
	}
	out := make([]string, 0, len(list))
	for _, s := range list {
		if s != nil {
			out = append(out, *s)
		}
	}
	return out, nil
}

// coerceYears accepts integers, integral floats and numeric strings.
// Anything else, or a negative value, yields nil for this field only.
func coerceYears(raw json.RawMessage) *int {
	if isNull(raw) {
		return nil
	}

	var num float64
	if err := json.Unmarshal(raw, &num); err != nil {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return nil
		}
		s = strings.TrimSpace(s)
		if n, err := strconv.Atoi(s); err == nil {
			num = float64(n)
		} else if f, err := strconv.ParseFloat(s, 64); err == nil {
			num = f
		} else {
			return nil
		}
	}

	if math.IsNaN(num) || math.IsInf(num, 0) || num < 0 || num > math.MaxInt32 {
		return nil
	}
	n := int(num)
	return &n
}

func isNull(raw json.RawMessage) bool {
	return len(raw) == 0 || bytes.Equal(bytes.TrimSpace(raw), []byte("null"))
}
