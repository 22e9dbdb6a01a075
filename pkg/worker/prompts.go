package worker

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// StagePrompt holds the prompt and sampling parameters for one stage.
type StagePrompt struct {
	System      string  `yaml:"system"`
	Temperature float32 `yaml:"temperature"`
	MaxTokens   int     `yaml:"max_tokens"`
}

// PromptPack bundles the prompts for all three stages. Packs can be loaded
// from YAML to customize the generation domain without code changes.
type PromptPack struct {
	Drafter StagePrompt `yaml:"drafter"`
	Safety  StagePrompt `yaml:"safety"`
	Quality StagePrompt `yaml:"quality"`
}

const drafterSystemPrompt = `You are an expert CBT (Cognitive Behavioral Therapy) exercise designer.
Your role is to create safe, empathetic, and clinically appropriate therapeutic exercises.
Guidelines:
- Use evidence-based CBT techniques
- Ensure exercises are structured and actionable
- Use empathetic, non-judgmental language
- Include clear steps and guidance
- Never provide medical diagnoses or prescriptions
- Avoid content that could trigger self-harm`

const safetySystemPrompt = `You are a Safety Guardian for CBT therapeutic exercises.
Your role is to identify any safety concerns in the draft exercise.

Check for:
1. **Self-harm risk**: Content that could encourage or trigger self-harm
2. **Medical advice**: Unauthorized medical diagnoses or prescriptions
3. **Crisis situations**: Content inappropriate for active crisis situations
4. **Triggering content**: Potentially triggering descriptions without warnings
5. **Harmful techniques**: Non-evidence-based or potentially harmful methods
6. **Boundary violations**: Inappropriate therapeutic boundaries

IMPORTANT: You MUST respond with ONLY a valid JSON object. Do not include any other text.

JSON format:
{
    "level": "safe" | "needs_review" | "unsafe",
    "concerns": ["list of specific concerns, or empty array if none"],
    "recommendations": ["specific fixes needed, or empty array if none"]
}`

const qualitySystemPrompt = `You are a Clinical Critic specializing in CBT therapeutic exercises.
Your role is to evaluate the clinical quality, empathy, and structure of exercises.

Evaluate:
1. **Empathy** (0-10): Warmth, validation, non-judgmental tone
2. **Structure** (0-10): Clear steps, logical flow, actionable guidance
3. **Clinical Appropriateness** (0-10): Evidence-based techniques, therapeutic value

Provide constructive feedback and specific suggestions for improvement.

Respond with a JSON object:
{
    "empathy_score": 8.5,
    "structure_score": 7.0,
    "clinical_appropriateness": 9.0,
    "feedback": "detailed evaluation",
    "suggestions": ["specific improvements"]
}`

// DefaultPromptPack returns the built-in prompt pack. The drafter samples
// creatively; the two assessors run cooler for consistent judgments.
func DefaultPromptPack() *PromptPack {
	return &PromptPack{
		Drafter: StagePrompt{
			System:      drafterSystemPrompt,
			Temperature: 0.7,
			MaxTokens:   4096,
		},
		Safety: StagePrompt{
			System:      safetySystemPrompt,
			Temperature: 0.3,
			MaxTokens:   2048,
		},
		Quality: StagePrompt{
			System:      qualitySystemPrompt,
			Temperature: 0.3,
			MaxTokens:   2048,
		},
	}
}

// LoadPromptPack reads a prompt pack from a YAML file. Fields left empty in
// the file fall back to the built-in defaults.
func LoadPromptPack(path string) (*PromptPack, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read prompt pack %s: %w", path, err)
	}

	var loaded PromptPack
	if err := yaml.Unmarshal(data, &loaded); err != nil {
		return nil, fmt.Errorf("failed to parse prompt pack %s: %w", path, err)
	}

	pack := DefaultPromptPack()
	mergeStagePrompt(&pack.Drafter, &loaded.Drafter)
	mergeStagePrompt(&pack.Safety, &loaded.Safety)
	mergeStagePrompt(&pack.Quality, &loaded.Quality)
	return pack, nil
}

func mergeStagePrompt(dst, src *StagePrompt) {
	if src.System != "" {
		dst.System = src.System
	}
	if src.Temperature != 0 {
		dst.Temperature = src.Temperature
	}
	if src.MaxTokens != 0 {
		dst.MaxTokens = src.MaxTokens
	}
}
