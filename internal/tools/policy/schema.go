package policy

import (
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const fileReadSchema = `{
  "type": "object",
  "required": ["path"],
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "max_bytes": {"type": ["number", "string"]}
  }
}`

const fileWriteSchema = `{
  "type": "object",
  "required": ["path", "content"],
  "properties": {
    "path": {"type": "string", "minLength": 1},
    "content": {"type": "string"}
  }
}`

const shellExecSchema = `{
  "type": "object",
  "required": ["cmd"],
  "properties": {
    "cmd": {
      "type": "array",
      "minItems": 1,
      "items": {"type": "string"}
    },
    "timeout_s": {"type": ["number", "string"]}
  }
}`

type argSchemaRegistry struct {
	once    sync.Once
	initErr error
	tools   map[string]*jsonschema.Schema
}

var argSchemas argSchemaRegistry

func initArgSchemas() error {
	argSchemas.once.Do(func() {
		sources := map[string]string{
			ToolFileRead:  fileReadSchema,
			ToolFileWrite: fileWriteSchema,
			ToolShellExec: shellExecSchema,
		}
		argSchemas.tools = make(map[string]*jsonschema.Schema, len(sources))
		for tool, src := range sources {
			compiled, err := jsonschema.CompileString("tool_args_"+tool+".json", src)
			if err != nil {
				argSchemas.initErr = fmt.Errorf("compile %s args schema: %w", tool, err)
				return
			}
			argSchemas.tools[tool] = compiled
		}
	})
	return argSchemas.initErr
}

// ValidateArgs checks the shape of a tool's arguments. Semantic checks
// (paths, binaries, hosts) are separate and stricter.
func ValidateArgs(tool string, args Args) error {
	if err := initArgSchemas(); err != nil {
		return &Error{Kind: KindInternal, Code: "schema_unavailable"}
	}
	schema, ok := argSchemas.tools[tool]
	if !ok {
		return Forbidden("tool_not_allowed", "tool not allowed")
	}
	if args == nil {
		args = Args{}
	}
	// The validator switches on map[string]any, not on named map types.
	if err := schema.Validate(map[string]any(args)); err != nil {
		return BadRequest("invalid_args", "invalid args for "+tool)
	}
	return nil
}
