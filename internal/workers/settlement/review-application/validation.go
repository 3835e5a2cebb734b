package reviewapplication

import "franchise-license-workers/internal/common/validation"

func GetInputSchema() validation.JSONSchema {
	return validation.JSONSchema{
		Type:     "object",
		Required: []string{"applicationId", "callerAccount", "decision"},
		Properties: map[string]validation.Property{
			"applicationId": {
				Type:        "integer",
				Description: "Application registry id",
				Minimum:     validation.FloatPtr(1),
			},
			"callerAccount": {
				Type:        "string",
				Description: "Account of the franchisor taking the decision",
				MinLength:   validation.IntPtr(1),
				MaxLength:   validation.IntPtr(255),
			},
			"decision": {
				Type: "string",
				Enum: []string{DecisionApprove, DecisionReject},
			},
			"reason": {
				Type:        "string",
				Description: "Rejection reason shown to the applicant",
				MaxLength:   validation.IntPtr(2000),
			},
		},
		AllOf:                []validation.Condition{validation.RequiredWhen("decision", DecisionReject, "reason")},
		AdditionalProperties: true,
	}
}
