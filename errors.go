package flashdrv

import "fmt"

// Result is the host-wide outcome kind returned by protocol and sequencer
// operations (spec §7). It plays the role the teacher's CANopenError plays
// for the CANopen stack: a small signed enum with a description table,
// instead of ad-hoc string errors at every call site.
type Result int8

const (
	OK                 Result = 0
	NoResponse         Result = -1
	NegativeResponse   Result = -2
	RangeError         Result = -3
	ConfigError        Result = -4
	Overflow           Result = -5
	ChecksumError      Result = -6
	Busy               Result = -7
	UserAbort          Result = -8
	ReadWriteError     Result = -9
	IllegalArgument    Result = -10
)

var resultDescriptions = map[Result]string{
	OK:               "success",
	NoResponse:       "timeout waiting for a response on the wire",
	NegativeResponse: "server returned a negative response",
	RangeError:       "bad parameter at call site",
	ConfigError:      "missing transport, dispatcher, system definition or PEM key",
	Overflow:         "hex data outside server flash",
	ChecksumError:    "security or integrity failure",
	Busy:             "transport not ready or reconnect failed",
	UserAbort:        "progress callback aborted the operation",
	ReadWriteError:   "file I/O failure at the boundary",
	IllegalArgument:  "error in function arguments",
}

func (r Result) Error() string {
	if s, ok := resultDescriptions[r]; ok {
		return s
	}
	return "unknown result"
}

// NegativeResponseError pairs the NegativeResponse result kind with the raw
// NRC (negative-response code) byte the server returned, so callers can
// discriminate e.g. "request out of range" from "conditions not correct"
// (spec §7 policy: "NRCs from the server are surfaced verbatim").
type NegativeResponseError struct {
	Service byte
	NRC     byte
}

func (e *NegativeResponseError) Error() string {
	return fmt.Sprintf("negative response to service x%02x: NRC x%02x", e.Service, e.NRC)
}

func (e *NegativeResponseError) Result() Result { return NegativeResponse }

// AsResult extracts the Result kind carried by err, defaulting to
// NegativeResponse for an NRC wrapper and RangeError for anything
// unrecognized that still needs a Result to report.
func AsResult(err error) Result {
	if err == nil {
		return OK
	}
	if r, ok := err.(Result); ok {
		return r
	}
	if nre, ok := err.(*NegativeResponseError); ok {
		return nre.Result()
	}
	return RangeError
}
