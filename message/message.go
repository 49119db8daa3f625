// Package message defines the RPC message structure exchanged over a channel.
//
// Message is the "envelope" for every call, reply and event. It gets serialized by the
// codec layer and wrapped in a length-prefixed frame by the protocol layer.
//
//	Message ─┬─ ID      correlates a Call with its Result
//	         ├─ Call    invocation request (service or object id, method, parameters)
//	         └─ Result  reply (status, error message, return value)
package message

// Message carries a single call, reply or event.
//
//   - Call:   Call is set, ExpectsResult=true and HasID=true so the reply can be matched.
//   - Event:  Call is set, ExpectsResult=false, no id needed.
//   - Reply:  Result is set with the ID of the originating call.
type Message struct {
	ID     uint32
	HasID  bool
	Call   *Call
	Result *Result
}

// HasCall reports whether the message carries a call.
func (m *Message) HasCall() bool { return m != nil && m.Call != nil }

// HasResult reports whether the message carries a result.
func (m *Message) HasResult() bool { return m != nil && m.Result != nil }

// SetID assigns the correlation id.
func (m *Message) SetID(id uint32) {
	m.ID = id
	m.HasID = true
}

// Call represents an invocation request.
//
// A non-zero ObjectID selects a previously registered instance; otherwise Service names a
// singleton service registered by interface name.
type Call struct {
	Service       string
	ObjectID      uint32
	Method        string
	Parameters    []Parameter
	ExpectsResult bool
}

// Result is the response to a Call. CallResult is nil for void methods.
type Result struct {
	Status       Status
	ErrorMessage string
	CallResult   *Parameter
}

// NewCall builds a call addressed to a singleton service.
func NewCall(service, method string, params ...Parameter) *Call {
	return &Call{Service: service, Method: method, Parameters: params}
}

// NewObjectCall builds a call addressed to a registered object instance.
func NewObjectCall(objectID uint32, method string, params ...Parameter) *Call {
	return &Call{ObjectID: objectID, Method: method, Parameters: params}
}

// Succeeded builds a success result. value may be nil for void methods.
func Succeeded(value *Parameter) *Result {
	return &Result{Status: StatusSucceeded, CallResult: value}
}

// Failed builds a failure result with the given status and message.
func Failed(status Status, msg string) *Result {
	return &Result{Status: status, ErrorMessage: msg}
}

// Err converts a failed result into a *Error. It returns nil for a successful result.
func (r *Result) Err() error {
	if r == nil {
		return &Error{Status: StatusProtocolError, Message: "missing result"}
	}
	if r.Status.OK() {
		return nil
	}
	return &Error{Status: r.Status, Message: r.ErrorMessage}
}

// EventServiceName is the reserved service a client calls to subscribe to events.
// Add(name) and Remove(name) take the interface name of the event source.
const EventServiceName = "NanoRpc.RpcEventService"
