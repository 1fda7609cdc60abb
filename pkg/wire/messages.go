package wire

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"time"

	"github.com/vmihailenco/msgpack/v5"

	"constellation/pkg/cerrors"
)

// ---- CHIRP ---------------------------------------------------------------

// CHIRPMessageType distinguishes a service request from an offer or depart.
type CHIRPMessageType uint8

const (
	CHIRPRequest CHIRPMessageType = 1
	CHIRPOffer   CHIRPMessageType = 2
	CHIRPDepart  CHIRPMessageType = 3
)

var chirpMagic = [6]byte{'C', 'H', 'I', 'R', 'P', 0x01}

// CHIRPFrameSize is the fixed size in bytes of a CHIRP UDP datagram.
const CHIRPFrameSize = 6 + 1 + 16 + 16 + 1 + 2

// CHIRPMessage is the 42-byte fixed frame broadcast or received over UDP for
// service discovery.
type CHIRPMessage struct {
	Type    CHIRPMessageType
	GroupID GroupID
	HostID  HostID
	Service ServiceIdentifier
	Port    uint16
}

// Encode renders m as the fixed 42-byte CHIRP frame.
func (m CHIRPMessage) Encode() [CHIRPFrameSize]byte {
	var buf [CHIRPFrameSize]byte
	copy(buf[0:6], chirpMagic[:])
	buf[6] = byte(m.Type)
	copy(buf[7:23], m.GroupID[:])
	copy(buf[23:39], m.HostID[:])
	buf[39] = byte(m.Service)
	binary.BigEndian.PutUint16(buf[40:42], m.Port)
	return buf
}

// DecodeCHIRPMessage parses a received UDP datagram as a CHIRP frame.
func DecodeCHIRPMessage(buf []byte) (CHIRPMessage, error) {
	if len(buf) != CHIRPFrameSize {
		return CHIRPMessage{}, &cerrors.MessageDecodingError{
			Protocol: "CHIRP",
			Err:      fmt.Errorf("frame is %d bytes, want %d", len(buf), CHIRPFrameSize),
		}
	}
	if string(buf[0:6]) != string(chirpMagic[:]) {
		return CHIRPMessage{}, &cerrors.MessageDecodingError{
			Protocol: "CHIRP",
			Err:      fmt.Errorf("bad magic %q", buf[0:6]),
		}
	}
	var m CHIRPMessage
	m.Type = CHIRPMessageType(buf[6])
	copy(m.GroupID[:], buf[7:23])
	copy(m.HostID[:], buf[23:39])
	m.Service = ServiceIdentifier(buf[39])
	m.Port = binary.BigEndian.Uint16(buf[40:42])
	return m, nil
}

// ---- shared header --------------------------------------------------------

// messageHeader is the [protocol, sender, time, tags] structure shared by
// CSCP, CHP and CMDP frames.
type messageHeader struct {
	Protocol string
	Sender   string
	Time     time.Time
	Tags     *Dictionary
}

// encode renders the header as [protocol, sender, time, tags]. A nil Tags
// is sent as an empty dictionary — CSCP1Message.Tags stays *Dictionary so
// callers can still test for "no tags" with a nil check before sending.
func (h messageHeader) encode() ([]byte, error) {
	tags := h.Tags
	if tags == nil {
		tags = NewDictionary()
	}
	return msgpack.Marshal([]any{h.Protocol, h.Sender, h.Time, tags})
}

func decodeHeader(buf []byte, wantProtocol string) (messageHeader, error) {
	dec := msgpack.NewDecoder(bytes.NewReader(buf))
	n, err := dec.DecodeArrayLen()
	if err != nil || n != 4 {
		return messageHeader{}, &cerrors.MessageDecodingError{Protocol: wantProtocol, Err: fmt.Errorf("bad header frame")}
	}
	protocol, err := dec.DecodeString()
	if err != nil {
		return messageHeader{}, &cerrors.MessageDecodingError{Protocol: wantProtocol, Err: err}
	}
	if protocol != wantProtocol {
		return messageHeader{}, &cerrors.IncorrectMessageType{Protocol: wantProtocol, Got: protocol, Want: wantProtocol}
	}
	sender, err := dec.DecodeString()
	if err != nil {
		return messageHeader{}, &cerrors.MessageDecodingError{Protocol: wantProtocol, Err: err}
	}
	ts, err := dec.DecodeTime()
	if err != nil {
		return messageHeader{}, &cerrors.MessageDecodingError{Protocol: wantProtocol, Err: err}
	}
	tags := NewDictionary()
	if err := dec.Decode(tags); err != nil {
		return messageHeader{}, &cerrors.MessageDecodingError{Protocol: wantProtocol, Err: err}
	}
	if tags.Len() == 0 {
		tags = nil
	}
	return messageHeader{Protocol: protocol, Sender: sender, Time: ts.UTC(), Tags: tags}, nil
}

// ---- CSCP -----------------------------------------------------------------

// CSCPVerbType classifies a CSCP message as a request or one of the reply
// outcomes.
type CSCPVerbType uint8

const (
	CSCPRequest        CSCPVerbType = 0x0
	CSCPSuccess        CSCPVerbType = 0x1
	CSCPNotImplemented CSCPVerbType = 0x2
	CSCPIncomplete     CSCPVerbType = 0x3
	CSCPInvalid        CSCPVerbType = 0x4
	CSCPUnknown        CSCPVerbType = 0x5
	CSCPError          CSCPVerbType = 0x6
)

func (t CSCPVerbType) String() string {
	switch t {
	case CSCPRequest:
		return "REQUEST"
	case CSCPSuccess:
		return "SUCCESS"
	case CSCPNotImplemented:
		return "NOTIMPLEMENTED"
	case CSCPIncomplete:
		return "INCOMPLETE"
	case CSCPInvalid:
		return "INVALID"
	case CSCPUnknown:
		return "UNKNOWN"
	case CSCPError:
		return "ERROR"
	default:
		return "?"
	}
}

// CSCP1Message is a single request or reply on the command channel.
type CSCP1Message struct {
	Sender  string
	Time    time.Time
	Tags    *Dictionary
	Type    CSCPVerbType
	Verb    string
	Payload []byte
}

// Frames encodes m into the (up to three) wire frames described in §6.
func (m CSCP1Message) Frames() ([][]byte, error) {
	header, err := messageHeader{Protocol: "CSCP1", Sender: m.Sender, Time: m.Time, Tags: m.Tags}.encode()
	if err != nil {
		return nil, err
	}
	verb, err := msgpack.Marshal([]any{uint8(m.Type), m.Verb})
	if err != nil {
		return nil, err
	}
	frames := [][]byte{header, verb}
	if m.Payload != nil {
		frames = append(frames, m.Payload)
	}
	return frames, nil
}

// DecodeCSCP1Message parses the frames of a received CSCP message.
func DecodeCSCP1Message(frames [][]byte) (CSCP1Message, error) {
	if len(frames) < 2 {
		return CSCP1Message{}, &cerrors.MessageDecodingError{Protocol: "CSCP1", Err: fmt.Errorf("got %d frames, want at least 2", len(frames))}
	}
	header, err := decodeHeader(frames[0], "CSCP1")
	if err != nil {
		return CSCP1Message{}, err
	}
	var verbPair struct {
		Type uint8
		Verb string
	}
	dec := msgpack.NewDecoder(bytes.NewReader(frames[1]))
	n, err := dec.DecodeArrayLen()
	if err != nil || n != 2 {
		return CSCP1Message{}, &cerrors.MessageDecodingError{Protocol: "CSCP1", Err: fmt.Errorf("bad verb frame")}
	}
	verbPair.Type, err = dec.DecodeUint8()
	if err != nil {
		return CSCP1Message{}, &cerrors.MessageDecodingError{Protocol: "CSCP1", Err: err}
	}
	verbPair.Verb, err = dec.DecodeString()
	if err != nil {
		return CSCP1Message{}, &cerrors.MessageDecodingError{Protocol: "CSCP1", Err: err}
	}
	msg := CSCP1Message{
		Sender: header.Sender,
		Time:   header.Time,
		Tags:   header.Tags,
		Type:   CSCPVerbType(verbPair.Type),
		Verb:   verbPair.Verb,
	}
	if len(frames) >= 3 {
		msg.Payload = frames[2]
	}
	return msg, nil
}

// ---- CHP ------------------------------------------------------------------

// CHP1Message is a single heartbeat publication. Status is the satellite's
// free-form status string; an empty Status means none was set.
type CHP1Message struct {
	Sender   string
	Time     time.Time
	State    byte
	Interval uint16
	Status   string
}

// Frames encodes m into the three CHP wire frames.
func (m CHP1Message) Frames() ([][]byte, error) {
	header, err := messageHeader{Protocol: "CHP1", Sender: m.Sender, Time: m.Time}.encode()
	if err != nil {
		return nil, err
	}
	body, err := msgpack.Marshal([]any{m.State, m.Interval, m.Status})
	if err != nil {
		return nil, err
	}
	return [][]byte{{}, header, body}, nil
}

// DecodeCHP1Message parses the frames of a received heartbeat.
func DecodeCHP1Message(frames [][]byte) (CHP1Message, error) {
	if len(frames) != 3 {
		return CHP1Message{}, &cerrors.MessageDecodingError{Protocol: "CHP1", Err: fmt.Errorf("got %d frames, want 3", len(frames))}
	}
	header, err := decodeHeader(frames[1], "CHP1")
	if err != nil {
		return CHP1Message{}, err
	}
	dec := msgpack.NewDecoder(bytes.NewReader(frames[2]))
	n, err := dec.DecodeArrayLen()
	if err != nil || n != 3 {
		return CHP1Message{}, &cerrors.MessageDecodingError{Protocol: "CHP1", Err: fmt.Errorf("bad body frame")}
	}
	state, err := dec.DecodeUint8()
	if err != nil {
		return CHP1Message{}, &cerrors.MessageDecodingError{Protocol: "CHP1", Err: err}
	}
	interval, err := dec.DecodeUint16()
	if err != nil {
		return CHP1Message{}, &cerrors.MessageDecodingError{Protocol: "CHP1", Err: err}
	}
	status, err := dec.DecodeString()
	if err != nil {
		return CHP1Message{}, &cerrors.MessageDecodingError{Protocol: "CHP1", Err: err}
	}
	return CHP1Message{
		Sender:   header.Sender,
		Time:     header.Time,
		State:    state,
		Interval: interval,
		Status:   status,
	}, nil
}

// ---- CMDP -----------------------------------------------------------------

// CMDP1Message is a single log, metric, or notification publication.
type CMDP1Message struct {
	Topic   string
	Sender  string
	Time    time.Time
	Tags    *Dictionary
	Payload []byte
}

// IsNotification reports whether the message is a topic-availability
// notification rather than a log/metric payload.
func (m CMDP1Message) IsNotification() bool {
	return len(m.Topic) >= 7 && m.Topic[:7] == "NOTICE/"
}

// Frames encodes m into its wire frames: topic, header, payload.
func (m CMDP1Message) Frames() ([][]byte, error) {
	header, err := messageHeader{Protocol: "CMDP1", Sender: m.Sender, Time: m.Time, Tags: m.Tags}.encode()
	if err != nil {
		return nil, err
	}
	return [][]byte{[]byte(m.Topic), header, m.Payload}, nil
}

// DecodeCMDP1Message parses the frames of a received CMDP message.
func DecodeCMDP1Message(frames [][]byte) (CMDP1Message, error) {
	if len(frames) < 2 {
		return CMDP1Message{}, &cerrors.MessageDecodingError{Protocol: "CMDP1", Err: fmt.Errorf("got %d frames, want at least 2", len(frames))}
	}
	header, err := decodeHeader(frames[1], "CMDP1")
	if err != nil {
		return CMDP1Message{}, err
	}
	msg := CMDP1Message{
		Topic:  string(frames[0]),
		Sender: header.Sender,
		Time:   header.Time,
		Tags:   header.Tags,
	}
	if len(frames) >= 3 {
		msg.Payload = frames[2]
	}
	return msg, nil
}

// EncodeNotificationPayload packs a topic->description map as a
// notification payload.
func EncodeNotificationPayload(topics map[string]string) ([]byte, error) {
	d := NewDictionary()
	for k, v := range topics {
		d.Set(k, StringValue(v))
	}
	return msgpack.Marshal(d)
}

// DecodeNotificationPayload unpacks a notification payload into a
// topic->description map.
func DecodeNotificationPayload(payload []byte) (map[string]string, error) {
	d := NewDictionary()
	if err := msgpack.Unmarshal(payload, d); err != nil {
		return nil, &cerrors.MessageDecodingError{Protocol: "CMDP1", Err: err}
	}
	out := make(map[string]string, d.Len())
	for _, k := range d.Keys() {
		v, _ := d.Get(k)
		s, err := v.AsString()
		if err != nil {
			return nil, &cerrors.MessageDecodingError{Protocol: "CMDP1", Err: err}
		}
		out[k] = s
	}
	return out, nil
}
