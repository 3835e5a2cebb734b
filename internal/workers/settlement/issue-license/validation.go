package issuelicense

import (
	"franchise-license-workers/internal/common/validation"
	"franchise-license-workers/internal/settlement/orchestrator"
)

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"applicationId"},
		Properties: map[string]validation.Property{
			"applicationId": {
				Type:        "integer",
				Description: "Application registry id",
				Minimum:     validation.FloatPtr(1),
			},
			"resumeFrom": {
				Type:        "string",
				Description: "Step a stalled settlement continues from",
				Enum: []string{
					string(orchestrator.StepComplete),
					string(orchestrator.StepMint),
					string(orchestrator.StepTransfer),
					string(orchestrator.StepMarkIssued),
				},
			},
			"tokenId": {
				Type:        "integer",
				Description: "License token minted before the settlement stalled",
				Minimum:     validation.FloatPtr(0),
			},
		},
		AllOf: []validation.Condition{
			validation.RequiredWhen("resumeFrom", string(orchestrator.StepTransfer), "tokenId"),
			validation.RequiredWhen("resumeFrom", string(orchestrator.StepMarkIssued), "tokenId"),
		},
		AdditionalProperties: true,
	}
}
