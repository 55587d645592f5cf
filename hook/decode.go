// Package hook adapts generic JSON change notifications (the kind posted by
// build and review tools) into raw changes for a changemaster Sink
package hook

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/kode4food/changemaster"
)

type (
	payload struct {
		Project    text            `json:"project"`
		Revision   text            `json:"revision"`
		Author     text            `json:"author"`
		Comments   text            `json:"comments"`
		Branch     text            `json:"branch"`
		Repository text            `json:"repository"`
		Category   text            `json:"category"`
		Files      json.RawMessage `json:"files"`
	}

	// text accepts JSON strings and numbers, since some tools send numeric
	// revisions
	text string
)

// UnknownAuthor is recorded when a payload doesn't name its author
const UnknownAuthor = "unknown"

var (
	ErrMissingProject  = errors.New("payload is missing project")
	ErrMissingRevision = errors.New("payload is missing revision")
)

// Decode converts a JSON payload into raw changes. Missing files and
// comments decode as empty values; file lists nested to any depth are
// flattened
func Decode(data []byte) ([]*changemaster.Change, error) {
	var p payload
	if err := json.Unmarshal(data, &p); err != nil {
		return nil, &changemaster.ConversionError{Err: err}
	}
	if strings.TrimSpace(string(p.Project)) == "" {
		return nil, &changemaster.ConversionError{Err: ErrMissingProject}
	}
	if strings.TrimSpace(string(p.Revision)) == "" {
		return nil, &changemaster.ConversionError{Err: ErrMissingRevision}
	}

	files := []string{}
	if len(p.Files) > 0 {
		var raw any
		if err := json.Unmarshal(p.Files, &raw); err != nil {
			return nil, &changemaster.ConversionError{Err: err}
		}
		var err error
		if files, err = flattenFiles(files, raw); err != nil {
			return nil, &changemaster.ConversionError{Err: err}
		}
	}

	author := string(p.Author)
	if strings.TrimSpace(author) == "" {
		author = UnknownAuthor
	}

	return []*changemaster.Change{{
		Author:     author,
		Files:      files,
		Comments:   string(p.Comments),
		Branch:     string(p.Branch),
		Revision:   string(p.Revision),
		Repository: string(p.Repository),
		Category:   string(p.Category),
		Project:    string(p.Project),
	}}, nil
}

func flattenFiles(res []string, v any) ([]string, error) {
	switch v := v.(type) {
	case nil:
		return res, nil
	case string:
		return append(res, v), nil
	case []any:
		var err error
		for _, elem := range v {
			if res, err = flattenFiles(res, elem); err != nil {
				return nil, err
			}
		}
		return res, nil
	default:
		return nil, fmt.Errorf("unexpected file entry %v", v)
	}
}

func (t *text) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		return nil
	}
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*t = text(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return fmt.Errorf("expected string or number, got %s", data)
	}
	*t = text(n.String())
	return nil
}
