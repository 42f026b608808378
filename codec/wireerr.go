package codec

import "github.com/router-for-me/duplexrpc/rpcerr"

// Wire error record field names. Any other key on the record is an
// arbitrary own property preserved verbatim.
const (
	errName    = "name"
	errMessage = "message"
	errStack   = "stack"
	errCause   = "cause"
)

// ErrorToWire serializes err into the wire error record. Known shapes
// (*rpcerr.RemoteError, *rpcerr.Error) keep their structure; anything
// else becomes a generic record named "Error". Preserved properties
// are copied first and the reserved fields written over them, so the
// reserved fields always win.
func ErrorToWire(err error) map[string]any {
	switch e := err.(type) {
	case *rpcerr.RemoteError:
		record := make(map[string]any, len(e.Props)+4)
		for k, v := range e.Props {
			record[k] = v
		}
		name := e.Name
		if name == "" {
			name = "Error"
		}
		record[errName] = name
		record[errMessage] = e.Message
		if e.Stack != "" {
			record[errStack] = e.Stack
		}
		if e.Cause != nil {
			record[errCause] = ErrorToWire(e.Cause)
		}
		return record
	case *rpcerr.Error:
		record := make(map[string]any, len(e.Details)+3)
		for k, v := range e.Details {
			record[k] = v
		}
		record[errName] = string(e.Code)
		record[errMessage] = e.Error()
		if inner := e.Unwrap(); inner != nil {
			record[errCause] = ErrorToWire(inner)
		}
		return record
	default:
		return map[string]any{errName: "Error", errMessage: err.Error()}
	}
}

// ErrorFromWire reconstructs the peer's error record. Unknown keys are
// preserved as properties; malformed records degrade to a generic
// remote error rather than failing the response.
func ErrorFromWire(v any) *rpcerr.RemoteError {
	record, ok := v.(map[string]any)
	if !ok {
		return &rpcerr.RemoteError{Name: "Error", Message: "malformed error record"}
	}
	re := &rpcerr.RemoteError{Name: "Error"}
	for k, val := range record {
		switch k {
		case errName:
			if s, ok := val.(string); ok && s != "" {
				re.Name = s
			}
		case errMessage:
			if s, ok := val.(string); ok {
				re.Message = s
			}
		case errStack:
			if s, ok := val.(string); ok {
				re.Stack = s
			}
		case errCause:
			if val != nil {
				re.Cause = ErrorFromWire(val)
			}
		default:
			if re.Props == nil {
				re.Props = make(map[string]any)
			}
			re.Props[k] = val
		}
	}
	return re
}
