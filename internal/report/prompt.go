package report

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/wakala/reconagent/internal/domain"
)

const promptTemplate = `You are a financial reconciliation assistant.

Belief distribution:
{{beliefs}}

Structured evidence:
{{evidence}}

Generate a concise executive investigation report.

Return STRICT valid JSON only:

{
  "primaryCause": "",
  "secondaryFactor": "",
  "financialImpact": number,
  "affectedCustomers": [],
  "recommendedActions": [],
  "confidence": number
}

Rules:
- financialImpact must reflect fraudExposure or discrepancyExposure.
- affectedCustomers MUST use only provided values.
- Do NOT invent customers.
- confidence must be between 0.6 and 0.98.
- No explanations.
- Only JSON.
`

func buildPrompt(beliefs domain.Distribution, ev *Evidence) (string, error) {
	if beliefs == nil {
		beliefs = domain.Distribution{}
	}
	b, err := json.Marshal(beliefs)
	if err != nil {
		return "", eris.Wrap(err, "marshal beliefs")
	}
	e, err := json.Marshal(ev)
	if err != nil {
		return "", eris.Wrap(err, "marshal evidence")
	}
	return strings.NewReplacer("{{beliefs}}", string(b), "{{evidence}}", string(e)).Replace(promptTemplate), nil
}
