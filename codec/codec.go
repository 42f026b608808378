package codec

import (
	"sort"
	"strconv"

	jsoniter "github.com/json-iterator/go"
	"github.com/tidwall/gjson"

	"github.com/router-for-me/duplexrpc/rpcerr"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// Codec encodes and decodes envelopes for one channel. A structured
// endpoint exchanges *Envelope values verbatim; a string endpoint
// exchanges line-feed-terminated JSON frames.
type Codec struct {
	mode       string
	structured bool
}

// New builds a codec. mode is VersionCompact or VersionRich; rich is
// the default when mode is empty.
func New(mode string, structured bool) *Codec {
	if mode == "" {
		mode = VersionRich
	}
	return &Codec{mode: mode, structured: structured}
}

// Mode returns the selected payload mode tag.
func (c *Codec) Mode() string { return c.mode }

// Structured reports whether the endpoint exchanges structured values.
func (c *Codec) Structured() bool { return c.structured }

// Encode renders env for the endpoint: the envelope itself on
// structured endpoints, a framed JSON byte slice otherwise.
func (c *Codec) Encode(env *Envelope) (any, error) {
	env.Version = c.mode
	if c.structured {
		return env, nil
	}
	w := newWalker(c.mode == VersionRich)
	flat := *env
	var err error
	if flat.Args, err = w.flatten(env.Args, "args"); err != nil {
		return nil, err
	}
	if flat.Value, err = w.flatten(env.Value, "value"); err != nil {
		return nil, err
	}

	var b []byte
	if c.mode == VersionRich {
		b, err = json.Marshal(map[string]any{
			richKey: 1,
			"json":  &flat,
			"meta":  w.meta,
		})
	} else {
		b, err = json.Marshal(&flat)
	}
	if err != nil {
		return nil, rpcerr.Wrap(rpcerr.CodeEncode, err, "marshal envelope %s", env.ID)
	}
	return append(b, frameDelimiter), nil
}

// Decode turns one endpoint message payload back into an envelope.
// Accepts *Envelope (structured endpoints) and []byte/string frames.
func (c *Codec) Decode(data any) (*Envelope, error) {
	switch t := data.(type) {
	case *Envelope:
		return t, nil
	case []byte:
		return DecodeFrame(t)
	case string:
		return DecodeFrame([]byte(t))
	default:
		return nil, rpcerr.New(rpcerr.CodeDecode, "unsupported wire payload of type %T", data)
	}
}

// DecodeFrame parses one complete frame, auto-detecting rich mode by
// the discriminator at the envelope root.
func DecodeFrame(b []byte) (*Envelope, error) {
	if !gjson.ValidBytes(b) {
		return nil, rpcerr.New(rpcerr.CodeDecode, "frame is not valid JSON")
	}
	if !gjson.GetBytes(b, richKey).Exists() {
		var env Envelope
		if err := json.Unmarshal(b, &env); err != nil {
			return nil, rpcerr.Wrap(rpcerr.CodeDecode, err, "unmarshal envelope")
		}
		return &env, nil
	}

	var wire struct {
		JSON *Envelope         `json:"json"`
		Meta map[string]string `json:"meta"`
	}
	if err := json.Unmarshal(b, &wire); err != nil {
		return nil, rpcerr.Wrap(rpcerr.CodeDecode, err, "unmarshal rich envelope")
	}
	if wire.JSON == nil {
		return nil, rpcerr.New(rpcerr.CodeDecode, "rich envelope missing json body")
	}
	if err := applyMeta(wire.JSON, wire.Meta); err != nil {
		return nil, err
	}
	return wire.JSON, nil
}

// applyMeta re-applies rich tags onto the plain decoded graph, deepest
// paths first so parent transforms see already-expanded children.
func applyMeta(env *Envelope, meta map[string]string) error {
	if len(meta) == 0 {
		return nil
	}
	paths := make([]string, 0, len(meta))
	for p := range meta {
		paths = append(paths, p)
	}
	sort.Slice(paths, func(i, j int) bool {
		di, dj := len(splitPath(paths[i])), len(splitPath(paths[j]))
		if di != dj {
			return di > dj
		}
		return paths[i] < paths[j]
	})
	for _, p := range paths {
		tag := meta[p]
		if err := setAtPath(env, p, func(v any) (any, error) {
			return expandTag(tag, v, p)
		}); err != nil {
			return err
		}
	}
	return nil
}

func setAtPath(env *Envelope, path string, transform func(any) (any, error)) error {
	segs := splitPath(path)
	var cur any
	switch segs[0] {
	case "args":
		cur = env.Args
	case "value":
		cur = env.Value
	default:
		return rpcerr.New(rpcerr.CodeDecode, "rich meta path %q outside payload", path)
	}
	if len(segs) == 1 {
		nv, err := transform(cur)
		if err != nil {
			return err
		}
		if segs[0] == "args" {
			env.Args = nv
		} else {
			env.Value = nv
		}
		return nil
	}
	for _, seg := range segs[1 : len(segs)-1] {
		next, err := childAt(cur, seg, path)
		if err != nil {
			return err
		}
		cur = next
	}
	leaf := segs[len(segs)-1]
	switch parent := cur.(type) {
	case map[string]any:
		key := unescapeSegment(leaf)
		nv, err := transform(parent[key])
		if err != nil {
			return err
		}
		parent[key] = nv
	case []any:
		i, err := strconv.Atoi(leaf)
		if err != nil || i < 0 || i >= len(parent) {
			return rpcerr.New(rpcerr.CodeDecode, "rich meta path %q indexes out of range", path)
		}
		nv, err := transform(parent[i])
		if err != nil {
			return err
		}
		parent[i] = nv
	default:
		return rpcerr.New(rpcerr.CodeDecode, "rich meta path %q traverses a non-container", path)
	}
	return nil
}

func childAt(cur any, seg, path string) (any, error) {
	switch parent := cur.(type) {
	case map[string]any:
		return parent[unescapeSegment(seg)], nil
	case []any:
		i, err := strconv.Atoi(seg)
		if err != nil || i < 0 || i >= len(parent) {
			return nil, rpcerr.New(rpcerr.CodeDecode, "rich meta path %q indexes out of range", path)
		}
		return parent[i], nil
	default:
		return nil, rpcerr.New(rpcerr.CodeDecode, "rich meta path %q traverses a non-container", path)
	}
}
