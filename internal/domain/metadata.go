package domain

import (
	"encoding/json"
	"fmt"
	"time"
)

const resumesKey = "resumes"

// ResumeNote is one entry of a call's resume history
type ResumeNote struct {
	At   time.Time `json:"at"`
	Note string    `json:"note"`
}

// Metadata is the free-form bag attached to a call. Resumes is the only key
// the service writes itself; everything else passes through untouched.
// On the wire it is a single flat JSON object.
type Metadata struct {
	Resumes []ResumeNote
	Extra   map[string]any
}

// MarshalJSON flattens Extra and Resumes into one object
func (m Metadata) MarshalJSON() ([]byte, error) {
	out := make(map[string]any, len(m.Extra)+1)
	for k, v := range m.Extra {
		out[k] = v
	}
	if len(m.Resumes) > 0 {
		out[resumesKey] = m.Resumes
	} else {
		delete(out, resumesKey)
	}
	return json.Marshal(out)
}

// UnmarshalJSON splits the typed resumes array from the remaining keys
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}

	*m = Metadata{}
	if rawResumes, ok := raw[resumesKey]; ok {
		if err := json.Unmarshal(rawResumes, &m.Resumes); err != nil {
			return fmt.Errorf("metadata.resumes: %w", err)
		}
		delete(raw, resumesKey)
	}

	if len(raw) == 0 {
		return nil
	}
	m.Extra = make(map[string]any, len(raw))
	for k, v := range raw {
		var decoded any
		if err := json.Unmarshal(v, &decoded); err != nil {
			return fmt.Errorf("metadata.%s: %w", k, err)
		}
		m.Extra[k] = decoded
	}
	return nil
}

// Clone copies the resume slice and the top level of Extra
func (m Metadata) Clone() Metadata {
	out := Metadata{}
	if m.Resumes != nil {
		out.Resumes = append([]ResumeNote(nil), m.Resumes...)
	}
	if m.Extra != nil {
		out.Extra = make(map[string]any, len(m.Extra))
		for k, v := range m.Extra {
			out.Extra[k] = v
		}
	}
	return out
}

// WithoutResumes drops any client-supplied resume history
func (m Metadata) WithoutResumes() Metadata {
	m.Resumes = nil
	return m
}
