package stages

import "github.com/sashabaranov/go-openai/jsonschema"

const transcriptInstructions = `You are a transcription post-processor. You receive raw text transcripts from a speech-to-text model recorded by a police bodycam.
Clean obvious recognition errors, add simple punctuation, and normalize formatting.
Do not add, remove, or reinterpret factual content.`

const frameInstructions = `You analyze still images captured from a bodycam video.
Identify key entities relevant for law enforcement: persons, weapons, vehicles, license plates, time/place cues, and noteworthy actions.
Be concise and objective. Avoid speculation beyond what the image shows.
Return exactly one entry per supplied frame index, with confidence between 0 and 1 for every observation.`

const synthesisInstructions = `You are a professional police report writer. Using the cleaned transcript and image observations,
produce a structured, concise, objective incident report. Avoid speculation. Use neutral tone.
Fill the sections overview, timeline, entities, actions and conclusion. Lists may be empty.`

// Schemas are strict: every property is required and no extra properties are allowed.
// They are built per request because Definition.MarshalJSON fills in nil maps.

func transcriptSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"cleaned_transcript": {
				Type:        jsonschema.String,
				Description: "Cleaned transcript with basic punctuation and corrections",
			},
		},
		Required:             []string{"cleaned_transcript"},
		AdditionalProperties: false,
	}
}

func observationSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"entity_type": {
				Type:        jsonschema.String,
				Description: "Category such as person, weapon, vehicle, plate, other",
			},
			"description": {
				Type:        jsonschema.String,
				Description: "Short factual description of the entity or action",
			},
			"confidence": {
				Type:        jsonschema.Number,
				Description: "0-1 confidence estimate",
			},
		},
		Required:             []string{"entity_type", "description", "confidence"},
		AdditionalProperties: false,
	}
}

func frameSetSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"frames": {
				Type:        jsonschema.Array,
				Description: "Per-frame observations",
				Items: &jsonschema.Definition{
					Type: jsonschema.Object,
					Properties: map[string]jsonschema.Definition{
						"frame_index": {
							Type:        jsonschema.Integer,
							Description: "Index of frame sampled from video",
						},
						"observations": {
							Type:        jsonschema.Array,
							Description: "Detected entities/actions in this frame",
							Items:       observationSchema(),
						},
					},
					Required:             []string{"frame_index", "observations"},
					AdditionalProperties: false,
				},
			},
			"summary": {
				Type:        jsonschema.String,
				Description: "Brief overall summary of visual content, empty if none",
			},
		},
		Required:             []string{"frames", "summary"},
		AdditionalProperties: false,
	}
}

func stringList(description string) jsonschema.Definition {
	return jsonschema.Definition{
		Type:        jsonschema.Array,
		Description: description,
		Items:       &jsonschema.Definition{Type: jsonschema.String},
	}
}

func synthesisSchema() *jsonschema.Definition {
	return &jsonschema.Definition{
		Type: jsonschema.Object,
		Properties: map[string]jsonschema.Definition{
			"overview": {
				Type:        jsonschema.String,
				Description: "Short description of incident context and purpose",
			},
			"timeline": stringList("Chronological highlights"),
			"entities": stringList("Key persons, vehicles, items, plates"),
			"actions":  stringList("Notable actions taken or observed"),
			"conclusion": {
				Type:        jsonschema.String,
				Description: "Objective close-out statement",
			},
		},
		Required:             []string{"overview", "timeline", "entities", "actions", "conclusion"},
		AdditionalProperties: false,
	}
}
