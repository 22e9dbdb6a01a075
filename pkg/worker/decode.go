package worker

import (
	"encoding/json"
	"fmt"
	"strings"

	"foundry/pkg/proto"
)

// Quality dimension names used by the quality checker and its fail-open
// default.
const (
	DimensionEmpathy     = "empathy"
	DimensionStructure   = "structure"
	DimensionClinical    = "clinical_appropriateness"
	failOpenQualityScore = 5.0
)

// stripFences extracts the JSON payload from a response that may wrap it in
// markdown code fences.
func stripFences(content string) string {
	if idx := strings.Index(content, "```json"); idx != -1 {
		rest := content[idx+len("```json"):]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	if idx := strings.Index(content, "```"); idx != -1 {
		rest := content[idx+3:]
		if end := strings.Index(rest, "```"); end != -1 {
			return strings.TrimSpace(rest[:end])
		}
		return strings.TrimSpace(rest)
	}
	return strings.TrimSpace(content)
}

// decodeSafety parses a safety assessment from generator output. It fails
// open: any parse failure or invalid level yields needs_review with a
// concern naming the failure, never an assumed safe.
func decodeSafety(content string) proto.SafetyAssessment {
	var raw struct {
		Level           string   `json:"level"`
		Concerns        []string `json:"concerns"`
		Recommendations []string `json:"recommendations"`
	}

	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return proto.SafetyAssessment{
			Level:           proto.SafetyLevelNeedsReview,
			Concerns:        []string{fmt.Sprintf("unable to parse safety assessment: %v", err)},
			Recommendations: []string{"manual review required"},
		}
	}

	level := proto.SafetyLevel(raw.Level)
	if !level.Valid() {
		return proto.SafetyAssessment{
			Level:           proto.SafetyLevelNeedsReview,
			Concerns:        []string{fmt.Sprintf("unrecognized safety level %q", raw.Level)},
			Recommendations: []string{"manual review required"},
		}
	}

	return proto.SafetyAssessment{
		Level:           level,
		Concerns:        raw.Concerns,
		Recommendations: raw.Recommendations,
	}
}

// decodeQuality parses a quality assessment from generator output. It fails
// open: unparsable output yields mid-scale scores below the passing
// threshold so a revision is requested, never an assumed pass.
func decodeQuality(content string) proto.QualityAssessment {
	var raw struct {
		EmpathyScore            *float64 `json:"empathy_score"`
		StructureScore          *float64 `json:"structure_score"`
		ClinicalAppropriateness *float64 `json:"clinical_appropriateness"`
		Feedback                string   `json:"feedback"`
		Suggestions             []string `json:"suggestions"`
	}

	if err := json.Unmarshal([]byte(stripFences(content)), &raw); err != nil {
		return failOpenQuality(fmt.Sprintf("unable to parse quality assessment: %v", err))
	}

	scores := map[string]float64{
		DimensionEmpathy:   scoreOrDefault(raw.EmpathyScore),
		DimensionStructure: scoreOrDefault(raw.StructureScore),
		DimensionClinical:  scoreOrDefault(raw.ClinicalAppropriateness),
	}

	return proto.QualityAssessment{
		DimensionScores: scores,
		Feedback:        raw.Feedback,
		Suggestions:     raw.Suggestions,
	}
}

func failOpenQuality(reason string) proto.QualityAssessment {
	return proto.QualityAssessment{
		DimensionScores: map[string]float64{
			DimensionEmpathy:   failOpenQualityScore,
			DimensionStructure: failOpenQualityScore,
			DimensionClinical:  failOpenQualityScore,
		},
		Feedback:    reason,
		Suggestions: []string{"manual review required"},
	}
}

// scoreOrDefault clamps a reported score to [0,10], substituting the
// fail-open score when the field is missing.
func scoreOrDefault(v *float64) float64 {
	if v == nil {
		return failOpenQualityScore
	}
	switch {
	case *v < 0:
		return 0
	case *v > 10:
		return 10
	default:
		return *v
	}
}
