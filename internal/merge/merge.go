// Package merge folds per-chunk extractions into one result per document.
//
// Merge is a pure function of the accumulated state, the chunk result and the
// chunk position: replaying the same chunk sequence from any persisted
// accumulator yields the same final object as an uninterrupted run.
package merge

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/vrsandeep/extract-go/internal/models"
)

// Accumulator is the merged state of the file currently being processed.
type Accumulator struct {
	Data       map[string]any
	Confidence map[string]float64
}

// NewAccumulator returns an empty accumulator.
func NewAccumulator() Accumulator {
	return Accumulator{Data: map[string]any{}, Confidence: map[string]float64{}}
}

// Position locates a chunk inside its file. Index is 1-based.
type Position struct {
	Index int
	Total int
	At    time.Time
}

// IsFinal reports whether this is the last chunk of the file.
func (p Position) IsFinal() bool {
	return p.Index >= p.Total
}

// Engine applies the merge policy for a fixed set of schema fields.
type Engine struct {
	fields []Field
}

// NewEngine builds an engine for the properties of the given JSON schema.
func NewEngine(schema json.RawMessage) (*Engine, error) {
	fields, err := FieldsFromSchema(schema)
	if err != nil {
		return nil, err
	}
	return &Engine{fields: fields}, nil
}

// Fields returns the schema fields the engine merges.
func (e *Engine) Fields() []Field {
	return e.fields
}

// Merge folds chunk into acc. Neither input is modified.
func (e *Engine) Merge(acc Accumulator, chunk models.ChunkResult, pos Position) (Accumulator, models.ReasoningRecord) {
	out := Accumulator{
		Data:       make(map[string]any, len(acc.Data)),
		Confidence: make(map[string]float64, len(acc.Confidence)),
	}
	for k, v := range acc.Data {
		out.Data[k] = v
	}
	for k, v := range acc.Confidence {
		out.Confidence[k] = v
	}

	fields := e.fields
	if len(fields) == 0 {
		fields = inferFields(acc.Data, chunk.Data)
	}

	reasoning := make(map[string]string, len(fields))
	for _, f := range fields {
		oldVal, hasOld := acc.Data[f.Name]
		oldConf, hasOldConf := acc.Confidence[f.Name]
		newVal, hasNew := chunk.Data[f.Name]
		newConf, hasNewConf := chunk.Confidence(f.Name)

		d := decide(f, oldVal, hasOld, newVal, hasNew, pos.Index)
		if d.set {
			out.Data[f.Name] = d.value
		}
		switch d.confidence {
		case confidenceChunk:
			if hasNewConf {
				out.Confidence[f.Name] = newConf
			} else {
				delete(out.Confidence, f.Name)
			}
		case confidenceMax:
			if hasNewConf && (!hasOldConf || newConf > oldConf) {
				out.Confidence[f.Name] = newConf
			}
		}

		// Confidence outranks completeness when both sides report it.
		if d.kind == decisionCompare && hasOldConf && hasNewConf && oldConf != newConf {
			if newConf > oldConf {
				out.Data[f.Name] = newVal
				out.Confidence[f.Name] = newConf
				d.reason = fmt.Sprintf("replaced with chunk %d value: confidence %.2f higher than %.2f", pos.Index, newConf, oldConf)
			} else {
				out.Data[f.Name] = oldVal
				out.Confidence[f.Name] = oldConf
				d.reason = fmt.Sprintf("kept existing value: confidence %.2f not higher than %.2f", newConf, oldConf)
			}
		}

		reason := d.reason
		if note := strings.TrimSpace(chunk.Reasoning[f.Name]); note != "" {
			reason += " (model: " + note + ")"
		}
		reasoning[f.Name] = reason
	}

	return out, models.ReasoningRecord{
		Timestamp:   pos.At,
		ChunkIndex:  pos.Index,
		TotalChunks: pos.Total,
		Reasoning:   reasoning,
		IsFinal:     pos.IsFinal(),
	}
}

type decisionKind int

const (
	decisionNone decisionKind = iota
	decisionAdopt
	decisionUnion
	decisionObject
	decisionCompare
)

type confidenceUpdate int

const (
	confidenceKeep confidenceUpdate = iota
	confidenceChunk
	confidenceMax
)

type decision struct {
	kind       decisionKind
	set        bool
	value      any
	confidence confidenceUpdate
	reason     string
}

func decide(f Field, oldVal any, hasOld bool, newVal any, hasNew bool, index int) decision {
	hasOld = hasOld && !isEmpty(oldVal)
	hasNew = hasNew && !isEmpty(newVal)

	switch {
	case !hasNew && !hasOld:
		return decision{kind: decisionNone, reason: "no value found yet"}
	case !hasNew:
		return decision{kind: decisionNone, reason: fmt.Sprintf("kept existing value: chunk %d had no value", index)}
	case !hasOld:
		return decision{
			kind: decisionAdopt, set: true, value: newVal, confidence: confidenceChunk,
			reason: fmt.Sprintf("adopted value from chunk %d (no previous value)", index),
		}
	}

	oldList, oldIsList := oldVal.([]any)
	newList, newIsList := newVal.([]any)
	if f.Type == "array" || (oldIsList && newIsList) {
		if !oldIsList {
			oldList = []any{oldVal}
		}
		if !newIsList {
			newList = []any{newVal}
		}
		merged, added := union(oldList, newList)
		reason := fmt.Sprintf("merged list: added %d new item(s) from chunk %d", added, index)
		if added == 0 {
			reason = fmt.Sprintf("kept existing list: chunk %d items already present", index)
		}
		return decision{kind: decisionUnion, set: true, value: merged, confidence: confidenceMax, reason: reason}
	}

	oldObj, oldIsObj := oldVal.(map[string]any)
	newObj, newIsObj := newVal.(map[string]any)
	if oldIsObj && newIsObj {
		merged, reason := mergeObject(f, oldObj, newObj, index)
		return decision{kind: decisionObject, set: true, value: merged, confidence: confidenceMax, reason: reason}
	}

	if completeness(newVal) > completeness(oldVal) {
		return decision{
			kind: decisionCompare, set: true, value: newVal, confidence: confidenceChunk,
			reason: fmt.Sprintf("replaced with chunk %d value: more complete than existing", index),
		}
	}
	return decision{
		kind: decisionCompare, reason: fmt.Sprintf("kept existing value: chunk %d value not more complete", index),
	}
}

// mergeObject merges nested members with the same policy, without confidence.
func mergeObject(f Field, oldObj, newObj map[string]any, index int) (map[string]any, string) {
	props := f.Properties
	if len(props) == 0 {
		props = inferFields(oldObj, newObj)
	}
	out := make(map[string]any, len(oldObj))
	for k, v := range oldObj {
		out[k] = v
	}
	var notes []string
	for _, p := range props {
		oldVal, hasOld := oldObj[p.Name]
		newVal, hasNew := newObj[p.Name]
		d := decide(p, oldVal, hasOld, newVal, hasNew, index)
		if d.set {
			out[p.Name] = d.value
		}
		if d.kind != decisionNone {
			notes = append(notes, p.Name+": "+d.reason)
		}
	}
	if len(notes) == 0 {
		return out, fmt.Sprintf("kept existing object: chunk %d added nothing", index)
	}
	return out, "merged object: " + strings.Join(notes, "; ")
}

// inferFields lists the keys present in either map, sorted.
func inferFields(a, b map[string]any) []Field {
	seen := map[string]bool{}
	for k := range a {
		seen[k] = true
	}
	for k := range b {
		seen[k] = true
	}
	fields := make([]Field, 0, len(seen))
	for k := range seen {
		fields = append(fields, Field{Name: k})
	}
	sort.Slice(fields, func(i, j int) bool { return fields[i].Name < fields[j].Name })
	return fields
}

// union appends the items of b missing from a, compared by value.
func union(a, b []any) ([]any, int) {
	out := make([]any, 0, len(a)+len(b))
	seen := make(map[string]bool, len(a)+len(b))
	for _, item := range a {
		k := canonical(item)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
	}
	added := 0
	for _, item := range b {
		if isEmpty(item) {
			continue
		}
		k := canonical(item)
		if seen[k] {
			continue
		}
		seen[k] = true
		out = append(out, item)
		added++
	}
	return out, added
}

// canonical encodes a decoded JSON value; map keys are emitted sorted.
func canonical(v any) string {
	b, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%#v", v)
	}
	return string(b)
}

func isEmpty(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	case []any:
		for _, item := range t {
			if !isEmpty(item) {
				return false
			}
		}
		return true
	case map[string]any:
		for _, item := range t {
			if !isEmpty(item) {
				return false
			}
		}
		return true
	}
	return false
}

// completeness scores how much information a value carries.
func completeness(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return utf8.RuneCountInString(strings.TrimSpace(t))
	case []any:
		n := 0
		for _, item := range t {
			if !isEmpty(item) {
				n++
			}
		}
		return n
	case map[string]any:
		n := 0
		for _, item := range t {
			if !isEmpty(item) {
				n++
			}
		}
		return n
	}
	return 1
}
