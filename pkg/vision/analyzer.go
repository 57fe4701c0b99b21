package vision

import (
	"context"
	"time"

	"github.com/rs/zerolog"
)

// CropAnalysisPrompt is the default diagnosis prompt used when the client
// does not supply one.
const CropAnalysisPrompt = `You are an expert agricultural pathologist. Analyze this crop image and provide:

1. **Disease/Issue Identification**: What specific disease, pest, or problem do you see?
2. **Confidence Level**: How confident are you in this diagnosis (high/medium/low)?
3. **Affected Plant Parts**: Which parts of the plant are affected?
4. **Severity Assessment**: Rate the severity (mild/moderate/severe)
5. **Treatment Recommendations**:
   - Immediate actions to take
   - Specific treatments/pesticides/fungicides to use
   - Preventive measures for the future
6. **Timeline**: When should the farmer see improvement?
7. **Additional Advice**: Any other relevant farming advice

Focus on practical, actionable advice using treatments and products commonly available in India.
If you cannot identify the specific issue, suggest general plant health improvement measures.

Format your response in a clear, structured way that a farmer can easily understand and act upon.`

// Summary is the structured core of one diagnosis.
type Summary struct {
	Disease       string `json:"disease"`
	Confidence    string `json:"confidence"`
	Severity      string `json:"severity"`
	AffectedParts string `json:"affected_parts"`
	Treatment     string `json:"treatment"`
	Prevention    string `json:"prevention"`
	Timeline      string `json:"timeline"`
}

// Recommendations groups the actionable advice extracted from a diagnosis.
type Recommendations struct {
	ImmediateActions   []string `json:"immediate_actions"`
	Treatments         []string `json:"treatments"`
	PreventiveMeasures []string `json:"preventive_measures"`
	MonitoringSchedule string   `json:"monitoring_schedule"`
}

// Analysis is the full result sent back to clients. A failed provider call
// still yields a usable Analysis with Success false and generic advice.
type Analysis struct {
	Success         bool             `json:"success"`
	Error           string           `json:"error,omitempty"`
	Summary         Summary          `json:"analysis"`
	RawAnalysis     string           `json:"raw_analysis,omitempty"`
	Recommendations *Recommendations `json:"recommendations,omitempty"`
	Timestamp       string           `json:"timestamp"`
}

// Analyzer runs image diagnoses through a provider.
type Analyzer struct {
	provider Provider
	logger   zerolog.Logger
}

// NewAnalyzer creates an analyzer.
func NewAnalyzer(provider Provider, logger zerolog.Logger) *Analyzer {
	return &Analyzer{provider: provider, logger: logger}
}

// Analyze diagnoses the image. A custom prompt replaces the default crop
// analysis prompt. Provider failures are absorbed into a fallback Analysis
// so the caller can always relay something useful to the farmer.
func (a *Analyzer) Analyze(ctx context.Context, imageB64, customPrompt string) *Analysis {
	prompt := customPrompt
	if prompt == "" {
		prompt = CropAnalysisPrompt
	}

	text, err := a.provider.Describe(ctx, imageB64, prompt)
	if err != nil {
		a.logger.Error().Err(err).Str("provider", a.provider.Name()).Msg("Error analyzing crop image")
		return fallbackAnalysis(err)
	}

	a.logger.Info().Str("provider", a.provider.Name()).Msg("Successfully analyzed crop image")
	return &Analysis{
		Success:         true,
		Summary:         structureAnalysis(text),
		RawAnalysis:     text,
		Recommendations: extractRecommendations(text),
		Timestamp:       time.Now().Format(time.RFC3339),
	}
}

func fallbackAnalysis(err error) *Analysis {
	return &Analysis{
		Success: false,
		Error:   err.Error(),
		Summary: Summary{
			Disease:    "Analysis failed",
			Confidence: "low",
			Severity:   "unknown",
			Treatment:  "Please consult a local agricultural expert",
			Prevention: "Maintain good crop hygiene and monitor regularly",
		},
		Timestamp: time.Now().Format(time.RFC3339),
	}
}
