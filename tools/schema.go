package tools

// Schema helpers for building JSON Schema definitions.

// ObjectSchema creates an object schema with the given properties.
func ObjectSchema(properties map[string]any, required ...string) map[string]any {
	schema := map[string]any{
		"type":       "object",
		"properties": properties,
	}
	if len(required) > 0 {
		schema["required"] = required
	}
	return schema
}

// StringProperty creates a string property with optional description.
func StringProperty(description string) map[string]any {
	return map[string]any{
		"type":        "string",
		"description": description,
	}
}

// NumberProperty creates a number property with a lower bound.
// exclusiveMin makes the bound exclusive.
func NumberProperty(description string, min float64, exclusiveMin bool) map[string]any {
	p := map[string]any{
		"type":        "number",
		"description": description,
	}
	if exclusiveMin {
		p["exclusiveMinimum"] = min
	} else {
		p["minimum"] = min
	}
	return p
}

// IntegerProperty creates an integer property with optional description.
func IntegerProperty(description string) map[string]any {
	return map[string]any{
		"type":        "integer",
		"description": description,
	}
}

// WithThought adds a thought parameter to an existing schema.
// If requireThought is true, "thought" is added to the required array.
func WithThought(schema map[string]any, requireThought bool) map[string]any {
	result := make(map[string]any, len(schema))
	for k, v := range schema {
		result[k] = v
	}

	props := make(map[string]any)
	if existing, ok := result["properties"].(map[string]any); ok {
		for k, v := range existing {
			props[k] = v
		}
	}
	props["thought"] = StringProperty(
		"Your reasoning about why you're using this tool and what you expect to accomplish. " +
			"For write operations, explain what you verified before acting.",
	)
	result["properties"] = props

	if requireThought {
		required, _ := result["required"].([]string)
		result["required"] = append(append([]string(nil), required...), "thought")
	}
	return result
}

// BuildSchemaWithThought creates an ObjectSchema and adds thought support in one call.
func BuildSchemaWithThought(properties map[string]any, requireThought bool, required ...string) map[string]any {
	return WithThought(ObjectSchema(properties, required...), requireThought)
}
