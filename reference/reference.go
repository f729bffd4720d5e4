// Package reference implements extraction of object-store pointers from
// queue message bodies. Three body shapes are recognized out of the box;
// custom shapes plug in by implementing Extractor and composing a Chain.
package reference

// Pointer identifies an object in the blob store. It is a value type:
// two pointers are equal when all fields are equal.
type Pointer struct {
	Bucket    string // Bucket name, non-empty
	Key       string // Object key, non-empty, may contain path separators
	VersionID string // Optional version token
}

// Extractor produces the ordered object pointers referenced by a message
// body. Implementations must never fail: a body that does not match the
// implementation's shape yields an empty slice, since missing references
// are recoverable downstream (the body may carry inline data instead).
type Extractor interface {
	Extract(body map[string]any) []Pointer
}

// Chain tries each extractor in order and returns the first non-empty
// pointer sequence. It is itself an Extractor, so chains compose.
// Example:
//
//	chain := reference.Chain{myCustomShape{}, reference.DirectShape{}}
//	ptrs := chain.Extract(body)
type Chain []Extractor

// Extract implements Extractor. First match wins: a body matching several
// shapes yields only the pointers of the earliest matching extractor.
func (c Chain) Extract(body map[string]any) []Pointer {
	for _, e := range c {
		if ptrs := e.Extract(body); len(ptrs) > 0 {
			return ptrs
		}
	}
	return nil
}

// Default returns the built-in shape chain in priority order:
// direct reference, file list, inline-plus-attachments.
func Default() Chain {
	return Chain{DirectShape{}, ListShape{}, AttachmentShape{}}
}

// DirectShape matches bodies carrying a single nested reference:
//
//	{"s3": {"bucket": "b", "key": "k", "versionId": "v"}}
type DirectShape struct{}

// Extract implements Extractor for the direct reference shape.
func (DirectShape) Extract(body map[string]any) []Pointer {
	obj, ok := body["s3"].(map[string]any)
	if !ok {
		return nil
	}
	ptr, ok := pointerFrom(obj)
	if !ok {
		return nil
	}
	return []Pointer{ptr}
}

// ListShape matches bodies carrying an array of references:
//
//	{"files": [{"bucket": "b", "key": "a"}, {"bucket": "b", "key": "c"}]}
//
// Pointer order preserves array order. Elements that are not well-formed
// references are skipped.
type ListShape struct{}

// Extract implements Extractor for the file list shape.
func (ListShape) Extract(body map[string]any) []Pointer {
	return pointersFromList(body["files"])
}

// AttachmentShape matches bodies carrying inline data plus attachments:
//
//	{"data": {...}, "additionalFiles": [{"bucket": "b", "key": "k"}]}
//
// Only the attachment pointers are emitted; the inline data object is not
// a pointer and travels to the deserializer separately (see InlinePayload).
type AttachmentShape struct{}

// Extract implements Extractor for the inline-plus-attachments shape.
func (AttachmentShape) Extract(body map[string]any) []Pointer {
	return pointersFromList(body["additionalFiles"])
}

// InlinePayload returns the inline data object carried by a message body,
// if present. The inline payload is a side channel: it is never downloaded,
// only handed to the deserializer when no artifacts are available.
func InlinePayload(body map[string]any) (map[string]any, bool) {
	data, ok := body["data"].(map[string]any)
	return data, ok
}

// pointersFromList converts an array field into pointers, preserving order.
func pointersFromList(v any) []Pointer {
	list, ok := v.([]any)
	if !ok {
		return nil
	}
	ptrs := make([]Pointer, 0, len(list))
	for _, elem := range list {
		obj, ok := elem.(map[string]any)
		if !ok {
			continue
		}
		if ptr, ok := pointerFrom(obj); ok {
			ptrs = append(ptrs, ptr)
		}
	}
	if len(ptrs) == 0 {
		return nil
	}
	return ptrs
}

// pointerFrom builds a Pointer from a reference object. Both the camelCase
// and snake_case version field names seen in the wild are accepted.
func pointerFrom(obj map[string]any) (Pointer, bool) {
	bucket, _ := obj["bucket"].(string)
	key, _ := obj["key"].(string)
	if bucket == "" || key == "" {
		return Pointer{}, false
	}

	version, _ := obj["versionId"].(string)
	if version == "" {
		version, _ = obj["version_id"].(string)
	}

	return Pointer{Bucket: bucket, Key: key, VersionID: version}, true
}
