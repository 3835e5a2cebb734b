package payapplication

import "franchise-license-workers/internal/common/validation"

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
		},
		AdditionalProperties: true,
	}
}
