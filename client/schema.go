package client

import (
	"github.com/santhosh-tekuri/jsonschema/v5"
)

const uploadResponseSchema = `{
  "type": "object",
  "required": ["job_id"],
  "properties": {
    "job_id": {"type": "string", "minLength": 1},
    "status": {"type": "string"},
    "estimated_seconds": {"type": ["number", "null"], "minimum": 0}
  }
}`

const statusResponseSchema = `{
  "type": "object",
  "required": ["status"],
  "properties": {
    "status": {"enum": ["queued", "processing", "completed", "failed"]},
    "progress": {
      "type": ["object", "null"],
      "properties": {
        "percent": {"type": "number"},
        "current_step": {"type": "integer"},
        "total_steps": {"type": "integer"},
        "message": {"type": "string"},
        "estimated_remaining_seconds": {"type": ["integer", "null"]},
        "formatted_remaining_time": {"type": ["string", "null"]}
      }
    },
    "download_url": {"type": ["string", "null"]},
    "error": {"type": ["string", "null"]}
  }
}`

var (
	uploadSchema = jsonschema.MustCompileString("upload_response.json", uploadResponseSchema)
	statusSchema = jsonschema.MustCompileString("status_response.json", statusResponseSchema)
)
