package codec

import (
	"encoding/base64"
	"math/big"
	"reflect"
	"strconv"
	"strings"
	"time"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

// Undefined is the rich-mode value distinguishing "absent" from null.
// Compact mode collapses it to null on encode.
type Undefined struct{}

// Undef is the canonical Undefined value.
var Undef = Undefined{}

// Set is a rich-mode set of values; order of elements is preserved on
// the wire but carries no meaning.
type Set []any

// OrderedMap is a rich-mode mapping whose entry order is preserved and
// whose keys are not restricted to strings.
type OrderedMap []MapEntry

// MapEntry is one OrderedMap entry.
type MapEntry struct {
	Key   any
	Value any
}

// Rich-mode tags recorded in the meta map.
const (
	tagDate   = "date"
	tagBigInt = "bigint"
	tagBytes  = "bytes"
	tagSet    = "set"
	tagOMap   = "omap"
	tagUndef  = "undef"
)

// walker rewrites a value graph into its plain JSON shape, recording
// rich tags by dotted path when rich mode is selected.
type walker struct {
	rich bool
	meta map[string]string
	seen map[uintptr]struct{}
}

func newWalker(rich bool) *walker {
	return &walker{rich: rich, meta: make(map[string]string), seen: make(map[uintptr]struct{})}
}

func (w *walker) enter(v any) (uintptr, error) {
	ptr := reflect.ValueOf(v).Pointer()
	if _, ok := w.seen[ptr]; ok {
		return 0, rpcerr.New(rpcerr.CodeEncode, "cyclic value graph")
	}
	w.seen[ptr] = struct{}{}
	return ptr, nil
}

func (w *walker) leave(ptr uintptr) { delete(w.seen, ptr) }

// flatten returns the plain JSON rendition of v. Rich scalars become
// tagged plain values; unsupported values fail with ENCODE_ERROR.
func (w *walker) flatten(v any, path string) (any, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case bool, string,
		int, int8, int16, int32, int64,
		uint, uint8, uint16, uint32, uint64,
		float32, float64:
		return t, nil
	case Undefined:
		if !w.rich {
			return nil, nil // collapses to null
		}
		w.meta[path] = tagUndef
		return nil, nil
	case time.Time:
		if !w.rich {
			return nil, rpcerr.New(rpcerr.CodeEncode, "date value requires rich mode at %s", path)
		}
		w.meta[path] = tagDate
		return t.Format(time.RFC3339Nano), nil
	case *big.Int:
		if !w.rich {
			return nil, rpcerr.New(rpcerr.CodeEncode, "bigint value requires rich mode at %s", path)
		}
		w.meta[path] = tagBigInt
		return t.String(), nil
	case []byte:
		if !w.rich {
			return nil, rpcerr.New(rpcerr.CodeEncode, "byte array requires rich mode at %s", path)
		}
		w.meta[path] = tagBytes
		return base64.StdEncoding.EncodeToString(t), nil
	case Set:
		if !w.rich {
			return nil, rpcerr.New(rpcerr.CodeEncode, "set value requires rich mode at %s", path)
		}
		ptr, err := w.enter([]any(t))
		if err != nil {
			return nil, err
		}
		defer w.leave(ptr)
		out := make([]any, len(t))
		for i, el := range t {
			fv, err := w.flatten(el, joinPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = fv
		}
		w.meta[path] = tagSet
		return out, nil
	case OrderedMap:
		if !w.rich {
			return nil, rpcerr.New(rpcerr.CodeEncode, "ordered map requires rich mode at %s", path)
		}
		ptr, err := w.enter(t)
		if err != nil {
			return nil, err
		}
		defer w.leave(ptr)
		out := make([]any, len(t))
		for i, entry := range t {
			k, err := w.flatten(entry.Key, joinPath(path, strconv.Itoa(i), "0"))
			if err != nil {
				return nil, err
			}
			val, err := w.flatten(entry.Value, joinPath(path, strconv.Itoa(i), "1"))
			if err != nil {
				return nil, err
			}
			out[i] = []any{k, val}
		}
		w.meta[path] = tagOMap
		return out, nil
	case map[string]any:
		ptr, err := w.enter(t)
		if err != nil {
			return nil, err
		}
		defer w.leave(ptr)
		out := make(map[string]any, len(t))
		for k, el := range t {
			fv, err := w.flatten(el, joinPath(path, escapeSegment(k)))
			if err != nil {
				return nil, err
			}
			out[k] = fv
		}
		return out, nil
	case []any:
		ptr, err := w.enter(t)
		if err != nil {
			return nil, err
		}
		defer w.leave(ptr)
		out := make([]any, len(t))
		for i, el := range t {
			fv, err := w.flatten(el, joinPath(path, strconv.Itoa(i)))
			if err != nil {
				return nil, err
			}
			out[i] = fv
		}
		return out, nil
	default:
		return nil, rpcerr.New(rpcerr.CodeEncode, "unserializable value of type %T at %s", v, path)
	}
}

// expandTag inverts one rich tag on an already-plain value.
func expandTag(tag string, v any, path string) (any, error) {
	switch tag {
	case tagUndef:
		return Undef, nil
	case tagDate:
		s, ok := v.(string)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeDecode, "date tag over non-string at %s", path)
		}
		ts, err := time.Parse(time.RFC3339Nano, s)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.CodeDecode, err, "malformed date at %s", path)
		}
		return ts, nil
	case tagBigInt:
		s, ok := v.(string)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeDecode, "bigint tag over non-string at %s", path)
		}
		n, ok := new(big.Int).SetString(s, 10)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeDecode, "malformed bigint %q at %s", s, path)
		}
		return n, nil
	case tagBytes:
		s, ok := v.(string)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeDecode, "bytes tag over non-string at %s", path)
		}
		b, err := base64.StdEncoding.DecodeString(s)
		if err != nil {
			return nil, rpcerr.Wrap(rpcerr.CodeDecode, err, "malformed base64 at %s", path)
		}
		return b, nil
	case tagSet:
		arr, ok := v.([]any)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeDecode, "set tag over non-array at %s", path)
		}
		return Set(arr), nil
	case tagOMap:
		arr, ok := v.([]any)
		if !ok {
			return nil, rpcerr.New(rpcerr.CodeDecode, "omap tag over non-array at %s", path)
		}
		out := make(OrderedMap, len(arr))
		for i, el := range arr {
			pair, ok := el.([]any)
			if !ok || len(pair) != 2 {
				return nil, rpcerr.New(rpcerr.CodeDecode, "omap entry %d is not a pair at %s", i, path)
			}
			out[i] = MapEntry{Key: pair[0], Value: pair[1]}
		}
		return out, nil
	default:
		return nil, rpcerr.New(rpcerr.CodeDecode, "unknown rich tag %q at %s", tag, path)
	}
}

func joinPath(base string, segs ...string) string {
	parts := append([]string{base}, segs...)
	if base == "" {
		parts = segs
	}
	return strings.Join(parts, ".")
}

// escapeSegment protects literal dots in map keys so meta paths stay
// unambiguous.
func escapeSegment(s string) string {
	if !strings.Contains(s, ".") && !strings.Contains(s, `\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\`, `\\`)
	return strings.ReplaceAll(s, ".", `\.`)
}

func unescapeSegment(s string) string {
	if !strings.Contains(s, `\`) {
		return s
	}
	s = strings.ReplaceAll(s, `\.`, ".")
	return strings.ReplaceAll(s, `\\`, `\`)
}

// splitPath splits a meta path on unescaped dots.
func splitPath(path string) []string {
	var (
		segs []string
		cur  strings.Builder
	)
	for i := 0; i < len(path); i++ {
		c := path[i]
		if c == '\\' && i+1 < len(path) {
			cur.WriteByte(c)
			cur.WriteByte(path[i+1])
			i++
			continue
		}
		if c == '.' {
			segs = append(segs, cur.String())
			cur.Reset()
			continue
		}
		cur.WriteByte(c)
	}
	segs = append(segs, cur.String())
	return segs
}
