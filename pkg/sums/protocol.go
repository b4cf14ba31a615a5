package sums

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/suncumby/drms/pkg/types"
)

// Opcode is the 32-bit call code leading every request.
// Numbering matches the protocol's registry exactly; it is not ours to
// renumber.
type Opcode int32

const (
	OpOpen Opcode = 0 // implied by "except for the initial OPEN call"; not itself numbered in the excerpt
	OpDisconnect Opcode = 1
	OpCommit Opcode = 2
	OpTxtQuery Opcode = 3
	OpBinQuery Opcode = 4
	OpDMS Opcode = 5
	OpDMSArray Opcode = 6
	OpBinQueryArray Opcode = 11
	OpNewSlots Opcode = 12
	OpGetUnit Opcode = 13
	OpRollback Opcode = 14
	OpNewSeries Opcode = 15
	OpDropSeries Opcode = 16
	OpSlotSetState Opcode = 17
	OpBulkInsertArray Opcode = 18
	OpAllocRecnum Opcode = 20
	OpGetUnits Opcode = 22
	OpGetSUDir Opcode = 23
	OpGetSUDirs Opcode = 24
	OpGetSUInfo Opcode = 27
	OpSetRetention Opcode = 30
	OpMakeSessionWritable Opcode = 31
)

// Status is the 32-bit rinfo word the dispatcher writes back immediately
// after parsing a call.
type Status int32

const (
	StatusOK Status = 0
	StatusError Status = 1
	StatusNotFound Status = 2
	StatusBadArgs Status = 3
	StatusPending Status = 4
	StatusRetryLater Status = 5
	StatusNotHandled Status = 6
	StatusCapability Status = 7
	StatusUnauthorized Status = 8
)

// KV is one typed key/value entry in a request or reply argument list
// ("a length-prefixed key-value list... each entry carries a
// byte code identifying the value type"). The value type reuses
// types.Value's tagged union rather than inventing a second one.
type KV struct {
	Key string
	Value types.Value
}

// KVList is a request or reply's argument list, with convenience
// lookups by key.
type KVList []KV

// Get returns the value for key and whether it was present.
func (l KVList) Get(key string) (types.Value, bool) {
	for _, kv := range l {
		if kv.Key == key {
			return kv.Value, true
		}
	}
	return types.Value{}, false
}

// String returns the string value for key, or "" if absent or not a
// string.
func (l KVList) String(key string) string {
	v, ok := l.Get(key)
	if !ok || v.Type != types.TypeString {
		return ""
	}
	return v.Str
}

// Int returns the integer value for key, or 0 if absent.
func (l KVList) Int(key string) int64 {
	v, ok := l.Get(key)
	if !ok {
		return 0
	}
	return v.Int
}

func kvString(key, s string) KV {
	return KV{Key: key, Value: types.Value{Type: types.TypeString, Str: s}}
}

func kvInt(key string, n int64) KV {
	return KV{Key: key, Value: types.Value{Type: types.TypeLong, Int: n}}
}

func kvFloat(key string, f float64) KV {
	return KV{Key: key, Value: types.Value{Type: types.TypeDouble, Float: f}}
}

// Request is one wire call: an opcode and its typed argument list.
type Request struct {
	Op Opcode
	Args KVList
}

// WriteRequest frames req onto w.
func WriteRequest(w io.Writer, req Request) error {
	if err := binary.Write(w, binary.BigEndian, int32(req.Op)); err != nil {
		return err
	}
	return writeKVList(w, req.Args)
}

// ReadRequest reads one framed request from r.
func ReadRequest(r io.Reader) (Request, error) {
	var op int32
	if err := binary.Read(r, binary.BigEndian, &op); err != nil {
		return Request{}, err
	}
	args, err := readKVList(r)
	if err != nil {
		return Request{}, err
	}
	return Request{Op: Opcode(op), Args: args}, nil
}

// WriteStatus writes the immediate-ACK rinfo word.
func WriteStatus(w io.Writer, status Status) error {
	return binary.Write(w, binary.BigEndian, int32(status))
}

// ReadStatus reads an rinfo word.
func ReadStatus(r io.Reader) (Status, error) {
	var s int32
	if err := binary.Read(r, binary.BigEndian, &s); err != nil {
		return 0, err
	}
	return Status(s), nil
}

// WriteReply writes a status word followed by a reply argument list.
// Used for both the synchronous reply to a call that completed
// immediately and the asynchronous reply a responder delivers once the
// archive worker finishes.
func WriteReply(w io.Writer, status Status, args KVList) error {
	if err := WriteStatus(w, status); err != nil {
		return err
	}
	if status != StatusOK && status != StatusPending {
		return nil
	}
	return writeKVList(w, args)
}

// ReadReply reads a status word and, if it indicates data follows, the
// reply argument list.
func ReadReply(r io.Reader) (Status, KVList, error) {
	status, err := ReadStatus(r)
	if err != nil {
		return 0, nil, err
	}
	if status != StatusOK && status != StatusPending {
		return status, nil, nil
	}
	args, err := readKVList(r)
	if err != nil {
		return 0, nil, err
	}
	return status, args, nil
}

func writeKVList(w io.Writer, kvs KVList) error {
	if err := binary.Write(w, binary.BigEndian, int32(len(kvs))); err != nil {
		return err
	}
	for _, kv := range kvs {
		if err := writeString(w, kv.Key); err != nil {
			return err
		}
		if err := writeValue(w, kv.Value); err != nil {
			return err
		}
	}
	return nil
}

func readKVList(r io.Reader) (KVList, error) {
	var n int32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return nil, err
	}
	if n < 0 || n > 1<<20 {
		return nil, fmt.Errorf("sums: implausible kv list length %d", n)
	}
	kvs := make(KVList, 0, n)
	for i := int32(0); i < n; i++ {
		key, err := readString(r)
		if err != nil {
			return nil, err
		}
		val, err := readValue(r)
		if err != nil {
			return nil, err
		}
		kvs = append(kvs, KV{Key: key, Value: val})
	}
	return kvs, nil
}

func writeString(w io.Writer, s string) error {
	b := []byte(s)
	if err := binary.Write(w, binary.BigEndian, uint32(len(b))); err != nil {
		return err
	}
	_, err := w.Write(b)
	return err
}

func readString(r io.Reader) (string, error) {
	var n uint32
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	if n > 1<<24 {
		return "", fmt.Errorf("sums: implausible string length %d", n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}

func writeValue(w io.Writer, v types.Value) error {
	if err := binary.Write(w, binary.BigEndian, byte(v.Type)); err != nil {
		return err
	}
	switch v.Type {
	case types.TypeString:
		return writeString(w, v.Str)
	case types.TypeFloat, types.TypeDouble, types.TypeTime:
		return binary.Write(w, binary.BigEndian, v.Float)
	default: // Char, Short, Int, Long
		return binary.Write(w, binary.BigEndian, v.Int)
	}
}

func readValue(r io.Reader) (types.Value, error) {
	var tb byte
	if err := binary.Read(r, binary.BigEndian, &tb); err != nil {
		return types.Value{}, err
	}
	t := types.ValueType(tb)
	switch t {
	case types.TypeString:
		s, err := readString(r)
		if err != nil {
			return types.Value{}, err
		}
		return types.Value{Type: t, Str: s}, nil
	case types.TypeFloat, types.TypeDouble, types.TypeTime:
		var f float64
		if err := binary.Read(r, binary.BigEndian, &f); err != nil {
			return types.Value{}, err
		}
		return types.Value{Type: t, Float: f}, nil
	case types.TypeChar, types.TypeShort, types.TypeInt, types.TypeLong:
		var n int64
		if err := binary.Read(r, binary.BigEndian, &n); err != nil {
			return types.Value{}, err
		}
		return types.Value{Type: t, Int: n}, nil
	default:
		return types.Value{}, fmt.Errorf("sums: unknown wire value type %d", tb)
	}
}
