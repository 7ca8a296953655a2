package engine

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v5"

	"github.com/haasonsaas/convo/pkg/models"
)

// coreSchemaDoc validates the payloads of core events, discriminated on
// type. Payload shapes are intentionally permissive where the wire format
// is open (transcript items, raw responses).
const coreSchemaDoc = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "$id": "https://convo.haasonsaas.com/schemas/core-events.json",
  "$defs": {
    "INITIALIZED_WITH_EVENTS": {
      "type": "object",
      "properties": {"eventCount": {"type": "integer", "minimum": 0}},
      "required": ["eventCount"]
    },
    "SET_SYSTEM_PROMPT": {
      "type": "object",
      "properties": {"prompt": {"type": "string"}},
      "required": ["prompt"]
    },
    "ADD_CONTEXT_RULES": {
      "type": "object",
      "properties": {
        "rules": {
          "type": "array",
          "items": {
            "type": "object",
            "properties": {"key": {"type": "string", "minLength": 1}},
            "required": ["key"]
          }
        }
      },
      "required": ["rules"]
    },
    "SET_MODEL_OPTS": {
      "type": "object",
      "properties": {"modelOpts": {"type": "object"}},
      "required": ["modelOpts"]
    },
    "SET_METADATA": {
      "type": "object",
      "properties": {"metadata": {"type": "object"}},
      "required": ["metadata"]
    },
    "ADD_LABEL": {
      "type": "object",
      "properties": {"label": {"type": "string", "minLength": 1}},
      "required": ["label"]
    },
    "LLM_INPUT_ITEM": {"type": "object"},
    "LLM_OUTPUT_ITEM": {"type": "object"},
    "LLM_REQUEST_START": {"type": "object"},
    "LLM_REQUEST_END": {"type": "object"},
    "LLM_REQUEST_CANCEL": {
      "type": "object",
      "properties": {"reason": {"type": "string"}}
    },
    "LOCAL_FUNCTION_TOOL_CALL": {
      "type": "object",
      "properties": {
        "call": {
          "type": "object",
          "properties": {
            "call_id": {"type": "string"},
            "name": {"type": "string"},
            "arguments": {"type": "string"}
          },
          "required": ["call_id", "name"]
        },
        "result": {
          "type": "object",
          "properties": {"success": {"type": "boolean"}},
          "required": ["success"]
        }
      },
      "required": ["call", "result"]
    },
    "CODEMODE_TOOL_CALLS": {
      "type": "object",
      "properties": {"toolCalls": {"type": "array"}},
      "required": ["toolCalls"]
    },
    "PAUSE_LLM_REQUESTS": {"type": "object"},
    "RESUME_LLM_REQUESTS": {"type": "object"},
    "FILE_SHARED": {
      "type": "object",
      "properties": {
        "direction": {"enum": ["from-agent-to-user", "from-user-to-agent"]},
        "fileId": {"type": "string"}
      },
      "required": ["direction", "fileId"]
    },
    "MESSAGE_FROM_AGENT": {
      "type": "object",
      "properties": {"message": {"type": "string"}},
      "required": ["message"]
    },
    "PARTICIPANT_JOINED": {"$ref": "#/$defs/participantEvent"},
    "PARTICIPANT_LEFT": {"$ref": "#/$defs/participantEvent"},
    "PARTICIPANT_MENTIONED": {"$ref": "#/$defs/participantEvent"},
    "participantEvent": {
      "type": "object",
      "properties": {
        "participant": {
          "type": "object",
          "properties": {"userId": {"type": "string", "minLength": 1}},
          "required": ["userId"]
        }
      },
      "required": ["participant"]
    },
    "TOOL_CALL_APPROVAL_REQUESTED": {
      "type": "object",
      "properties": {
        "approvalKey": {"type": "string", "minLength": 1},
        "toolName": {"type": "string", "minLength": 1},
        "toolCallId": {"type": "string"}
      },
      "required": ["approvalKey", "toolName", "toolCallId"]
    },
    "TOOL_CALL_APPROVED": {
      "type": "object",
      "properties": {
        "approvalKey": {"type": "string", "minLength": 1},
        "approved": {"type": "boolean"}
      },
      "required": ["approvalKey", "approved"]
    },
    "INTERNAL_ERROR": {
      "type": "object",
      "properties": {"error": {"type": "string"}},
      "required": ["error"]
    },
    "LOG": {
      "type": "object",
      "properties": {"msg": {"type": "string"}},
      "required": ["msg"]
    },
    "BACKGROUND_TASK_PROGRESS": {
      "type": "object",
      "properties": {
        "taskId": {"type": "string"},
        "status": {"type": "string"}
      },
      "required": ["taskId", "status"]
    }
  }
}`

const coreSchemaURL = "https://convo.haasonsaas.com/schemas/core-events.json"

// schemaSet holds the compiled core schemas plus the slice schemas,
// discriminated on event type.
type schemaSet struct {
	core   map[models.EventType]*jsonschema.Schema
	slices map[models.EventType]*jsonschema.Schema
}

func newSchemaSet(slices []Slice) (*schemaSet, error) {
	s := &schemaSet{
		core:   map[models.EventType]*jsonschema.Schema{},
		slices: map[models.EventType]*jsonschema.Schema{},
	}

	compiler := jsonschema.NewCompiler()
	if err := compiler.AddResource(coreSchemaURL, strings.NewReader(coreSchemaDoc)); err != nil {
		return nil, fmt.Errorf("register core schema: %w", err)
	}
	for _, t := range coreEventTypes {
		name := strings.TrimPrefix(string(t), models.CoreNamespace)
		compiled, err := compiler.Compile(coreSchemaURL + "#/$defs/" + name)
		if err != nil {
			return nil, fmt.Errorf("compile core schema %s: %w", t, err)
		}
		s.core[t] = compiled
	}

	for _, slice := range slices {
		for eventType, doc := range slice.EventSchemas {
			url := fmt.Sprintf("https://convo.haasonsaas.com/schemas/slices/%s/%s.json",
				slice.Name, strings.NewReplacer(":", "-", "/", "-").Replace(string(eventType)))
			c := jsonschema.NewCompiler()
			if err := c.AddResource(url, strings.NewReader(doc)); err != nil {
				return nil, fmt.Errorf("register slice schema %s/%s: %w", slice.Name, eventType, err)
			}
			compiled, err := c.Compile(url)
			if err != nil {
				return nil, fmt.Errorf("compile slice schema %s/%s: %w", slice.Name, eventType, err)
			}
			s.slices[eventType] = compiled
		}
	}
	return s, nil
}

var coreEventTypes = []models.EventType{
	models.EventInitializedWithEvents,
	models.EventSetSystemPrompt,
	models.EventAddContextRules,
	models.EventSetModelOpts,
	models.EventSetMetadata,
	models.EventAddLabel,
	models.EventLLMInputItem,
	models.EventLLMOutputItem,
	models.EventLLMRequestStart,
	models.EventLLMRequestEnd,
	models.EventLLMRequestCancel,
	models.EventLocalFunctionToolCall,
	models.EventCodemodeToolCalls,
	models.EventPauseLLMRequests,
	models.EventResumeLLMRequests,
	models.EventFileShared,
	models.EventMessageFromAgent,
	models.EventParticipantJoined,
	models.EventParticipantLeft,
	models.EventParticipantMentioned,
	models.EventToolCallApprovalRequested,
	models.EventToolCallApproved,
	models.EventInternalError,
	models.EventLog,
	models.EventBackgroundTaskProgress,
}

// validate checks an incoming event against the combined schema. An
// unknown CORE: discriminant is a recoverable validation error; an event
// that matches no slice schema at all is kept (the second return value
// reports whether a schema was found).
func (s *schemaSet) validate(ev models.Event) (known bool, err error) {
	var schema *jsonschema.Schema
	if ev.Type.IsCore() {
		schema = s.core[ev.Type]
		if schema == nil {
			return false, validationErrorf(nil, fmt.Sprintf("unknown core event type %q", ev.Type))
		}
	} else {
		schema = s.slices[ev.Type]
		if schema == nil {
			return false, nil
		}
	}

	var payload any = map[string]any{}
	if len(ev.Data) > 0 {
		if uerr := json.Unmarshal(ev.Data, &payload); uerr != nil {
			return true, validationErrorf(uerr, fmt.Sprintf("event %s payload is not valid JSON", ev.Type))
		}
	}
	if verr := schema.Validate(payload); verr != nil {
		return true, validationErrorf(verr, fmt.Sprintf("event %s failed schema validation", ev.Type))
	}
	return true, nil
}
