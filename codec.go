package echoserver

import (
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/encoding/protowire"
)

// Wire format: every frame is a 4-byte big-endian length prefix followed by
// that many payload bytes. The payload is protobuf wire data; the top-level
// field number selects the message variant and its value is the
// length-delimited sub-message.
const (
	fieldClientEcho = 1 // EchoMessage
	fieldClientAdd  = 2 // AddRequest

	fieldServerEcho  = 1 // EchoResponse
	fieldServerAdd   = 2 // AddResponse
	fieldServerError = 3 // ErrorResponse

	fieldEchoContent = 1
	fieldAddA        = 1
	fieldAddB        = 2
	fieldAddResult   = 1
	fieldErrorDetail = 1
)

// frameHeaderSize is the size of the length prefix.
const frameHeaderSize = 4

// DecodeError reports a frame whose payload could not be interpreted as any
// known message. Transport failures (short reads, timeouts) are not
// DecodeErrors; they surface as the underlying I/O error.
type DecodeError struct {
	Reason string
}

func (e *DecodeError) Error() string {
	return "decode: " + e.Reason
}

func decodeErrorf(format string, args ...any) *DecodeError {
	return &DecodeError{Reason: fmt.Sprintf(format, args...)}
}

// EncodeClientMessage serializes msg into a length-prefixed frame. It never
// fails for a well-formed in-memory value.
func EncodeClientMessage(msg ClientMessage) []byte {
	var payload []byte
	switch m := msg.(type) {
	case EchoMessage:
		payload = appendMessageField(nil, fieldClientEcho, encodeEcho(m.Content))
	case AddRequest:
		payload = appendMessageField(nil, fieldClientAdd, encodeAddRequest(m))
	}
	return frame(payload)
}

// EncodeServerMessage serializes msg into a length-prefixed frame. It never
// fails for a well-formed in-memory value.
func EncodeServerMessage(msg ServerMessage) []byte {
	var payload []byte
	switch m := msg.(type) {
	case EchoResponse:
		payload = appendMessageField(nil, fieldServerEcho, encodeEcho(m.Content))
	case AddResponse:
		var sub []byte
		if m.Result != 0 {
			sub = appendInt32Field(sub, fieldAddResult, m.Result)
		}
		payload = appendMessageField(nil, fieldServerAdd, sub)
	case ErrorResponse:
		var sub []byte
		if m.Detail != "" {
			sub = appendStringField(sub, fieldErrorDetail, m.Detail)
		}
		payload = appendMessageField(nil, fieldServerError, sub)
	}
	return frame(payload)
}

// DecodeClientMessage reads exactly one frame from r and decodes it.
// Malformed payloads fail with *DecodeError; a frame whose declared length
// exceeds maxFrameSize is rejected before the payload is read.
func DecodeClientMessage(r io.Reader, maxFrameSize int) (ClientMessage, error) {
	payload, err := readFrame(r, maxFrameSize)
	if err != nil {
		return nil, err
	}

	num, sub, err := consumeVariant(payload)
	if err != nil {
		return nil, err
	}

	switch num {
	case fieldClientEcho:
		content, err := parseEcho(sub)
		if err != nil {
			return nil, err
		}
		return EchoMessage{Content: content}, nil
	case fieldClientAdd:
		return parseAddRequest(sub)
	default:
		return nil, decodeErrorf("unknown client message tag %d", num)
	}
}

// DecodeServerMessage reads exactly one frame from r and decodes it.
func DecodeServerMessage(r io.Reader, maxFrameSize int) (ServerMessage, error) {
	payload, err := readFrame(r, maxFrameSize)
	if err != nil {
		return nil, err
	}

	num, sub, err := consumeVariant(payload)
	if err != nil {
		return nil, err
	}

	switch num {
	case fieldServerEcho:
		content, err := parseEcho(sub)
		if err != nil {
			return nil, err
		}
		return EchoResponse{Content: content}, nil
	case fieldServerAdd:
		result, err := parseInt32Message(sub, fieldAddResult)
		if err != nil {
			return nil, err
		}
		return AddResponse{Result: result}, nil
	case fieldServerError:
		detail, err := parseStringMessage(sub, fieldErrorDetail)
		if err != nil {
			return nil, err
		}
		return ErrorResponse{Detail: detail}, nil
	default:
		return nil, decodeErrorf("unknown server message tag %d", num)
	}
}

// frame prepends the length prefix to payload.
func frame(payload []byte) []byte {
	buf := make([]byte, frameHeaderSize+len(payload))
	binary.BigEndian.PutUint32(buf, uint32(len(payload)))
	copy(buf[frameHeaderSize:], payload)
	return buf
}

// readFrame reads one length-prefixed payload from r. A clean EOF before the
// header means the peer closed the stream; EOF inside a frame surfaces as
// io.ErrUnexpectedEOF.
func readFrame(r io.Reader, maxFrameSize int) ([]byte, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, errors.Wrap(err, "read frame header")
	}

	length := binary.BigEndian.Uint32(header[:])
	if int64(length) > int64(maxFrameSize) {
		return nil, decodeErrorf("frame length %d exceeds limit %d", length, maxFrameSize)
	}

	payload := make([]byte, length)
	if _, err := io.ReadFull(r, payload); err != nil {
		return nil, errors.Wrap(err, "read frame payload")
	}
	return payload, nil
}

// consumeVariant unwraps the single top-level field of a payload and returns
// its field number and sub-message bytes.
func consumeVariant(payload []byte) (protowire.Number, []byte, error) {
	num, typ, n := protowire.ConsumeTag(payload)
	if n < 0 {
		return 0, nil, &DecodeError{Reason: "malformed message tag"}
	}
	if typ != protowire.BytesType {
		return 0, nil, decodeErrorf("unexpected wire type %d for message tag", typ)
	}

	sub, m := protowire.ConsumeBytes(payload[n:])
	if m < 0 {
		return 0, nil, &DecodeError{Reason: "malformed message body"}
	}
	if n+m != len(payload) {
		return 0, nil, &DecodeError{Reason: "trailing bytes after message"}
	}
	return num, sub, nil
}

func encodeEcho(content string) []byte {
	if content == "" {
		return nil
	}
	return appendStringField(nil, fieldEchoContent, content)
}

func encodeAddRequest(m AddRequest) []byte {
	var sub []byte
	if m.A != 0 {
		sub = appendInt32Field(sub, fieldAddA, m.A)
	}
	if m.B != 0 {
		sub = appendInt32Field(sub, fieldAddB, m.B)
	}
	return sub
}

func parseEcho(sub []byte) (string, error) {
	return parseStringMessage(sub, fieldEchoContent)
}

func parseAddRequest(sub []byte) (ClientMessage, error) {
	var req AddRequest
	err := parseFields(sub, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		switch {
		case num == fieldAddA && typ == protowire.VarintType:
			v, n, err := consumeInt32(b)
			if err != nil {
				return 0, err
			}
			req.A = v
			return n, nil
		case num == fieldAddB && typ == protowire.VarintType:
			v, n, err := consumeInt32(b)
			if err != nil {
				return 0, err
			}
			req.B = v
			return n, nil
		}
		return -1, nil
	})
	if err != nil {
		return nil, err
	}
	return req, nil
}

func parseStringMessage(sub []byte, field protowire.Number) (string, error) {
	var value string
	err := parseFields(sub, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == field && typ == protowire.BytesType {
			v, n := protowire.ConsumeBytes(b)
			if n < 0 {
				return 0, &DecodeError{Reason: "malformed string field"}
			}
			value = string(v)
			return n, nil
		}
		return -1, nil
	})
	return value, err
}

func parseInt32Message(sub []byte, field protowire.Number) (int32, error) {
	var value int32
	err := parseFields(sub, func(num protowire.Number, typ protowire.Type, b []byte) (int, error) {
		if num == field && typ == protowire.VarintType {
			v, n, err := consumeInt32(b)
			if err != nil {
				return 0, err
			}
			value = v
			return n, nil
		}
		return -1, nil
	})
	return value, err
}

// parseFields walks the fields of a sub-message. The callback consumes known
// fields and returns the number of bytes it read, or -1 to have the field
// skipped as unknown.
func parseFields(sub []byte, consume func(protowire.Number, protowire.Type, []byte) (int, error)) error {
	for len(sub) > 0 {
		num, typ, n := protowire.ConsumeTag(sub)
		if n < 0 {
			return &DecodeError{Reason: "malformed field tag"}
		}
		sub = sub[n:]

		m, err := consume(num, typ, sub)
		if err != nil {
			return err
		}
		if m < 0 {
			m = protowire.ConsumeFieldValue(num, typ, sub)
			if m < 0 {
				return decodeErrorf("malformed field %d", num)
			}
		}
		sub = sub[m:]
	}
	return nil
}

// consumeInt32 reads a varint and checks that it fits the declared int32
// width. Negative values arrive sign-extended to 64 bits, as protobuf
// encodes them.
func consumeInt32(b []byte) (int32, int, error) {
	v, n := protowire.ConsumeVarint(b)
	if n < 0 {
		return 0, 0, &DecodeError{Reason: "malformed varint"}
	}
	s := int64(v)
	if s < math.MinInt32 || s > math.MaxInt32 {
		return 0, 0, decodeErrorf("value %d does not fit in int32", s)
	}
	return int32(s), n, nil
}

func appendMessageField(buf []byte, num protowire.Number, sub []byte) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendBytes(buf, sub)
}

func appendStringField(buf []byte, num protowire.Number, s string) []byte {
	buf = protowire.AppendTag(buf, num, protowire.BytesType)
	return protowire.AppendString(buf, s)
}

func appendInt32Field(buf []byte, num protowire.Number, v int32) []byte {
	buf = protowire.AppendTag(buf, num, protowire.VarintType)
	return protowire.AppendVarint(buf, uint64(int64(v)))
}
