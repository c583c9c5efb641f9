package generator

import (
	"bytes"
	"encoding/json"
)

// Prompt is a generated prompt as returned by the generator. Linked ids refer
// to records in the tabular store.
type Prompt struct {
	PromptText        string `json:"promptText"`
	Renderer          string `json:"renderer"`
	DesignerID        string `json:"designerId,omitempty"`
	GarmentID         string `json:"garmentId,omitempty"`
	PromptStructureID string `json:"promptStructureId,omitempty"`
}

// DecodePrompt reads one generator prompt entry. Plain strings become the
// prompt text. Each object field is read on its own, so a field of an
// unexpected type is dropped without losing the others. Numeric ids are kept
// in their decimal form.
func DecodePrompt(raw json.RawMessage) Prompt {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return Prompt{}
	}
	if raw[0] == '"' {
		return Prompt{PromptText: textValue(raw)}
	}
	var fields map[string]json.RawMessage
	if json.Unmarshal(raw, &fields) != nil {
		return Prompt{}
	}
	return Prompt{
		PromptText:        textValue(fields["promptText"]),
		Renderer:          textValue(fields["renderer"]),
		DesignerID:        textValue(fields["designerId"]),
		GarmentID:         textValue(fields["garmentId"]),
		PromptStructureID: textValue(fields["promptStructureId"]),
	}
}

// textValue returns a JSON string as-is and a JSON number in its literal
// form. Anything else is empty.
func textValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return ""
	}
	if raw[0] == '"' {
		var s string
		if json.Unmarshal(raw, &s) != nil {
			return ""
		}
		return s
	}
	var n json.Number
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if dec.Decode(&n) != nil {
		return ""
	}
	return n.String()
}
