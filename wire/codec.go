package wire

import (
	"bytes"
	"encoding/binary"
	"io"
	"sort"

	"github.com/pkg/errors"
	"go.dedis.ch/pddm/fixedpoint"
)

// EncodeSized writes a size-prefixed, count-prefixed batch of
// OverlayTransportMessages the way a meter-to-meter flow does on the
// wire.
func EncodeSized(msgs []OverlayTransportMessage) []byte {
	var body bytes.Buffer
	writeUint64(&body, uint64(len(msgs)))
	for _, m := range msgs {
		encodeTransportMessage(&body, m)
	}

	var out bytes.Buffer
	writeUint64(&out, uint64(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

// DecodeSized reads back a batch written by EncodeSized.
func DecodeSized(r io.Reader) ([]OverlayTransportMessage, error) {
	size, err := readUint64(r)
	if err != nil {
		return nil, errors.Wrap(err, "wire: reading outer size prefix")
	}
	body := make([]byte, size)
	if _, err := io.ReadFull(r, body); err != nil {
		return nil, errors.Wrap(err, "wire: reading sized body")
	}
	br := bytes.NewReader(body)
	count, err := readUint64(br)
	if err != nil {
		return nil, errors.Wrap(err, "wire: reading message count")
	}
	out := make([]OverlayTransportMessage, 0, count)
	for i := uint64(0); i < count; i++ {
		m, err := decodeTransportMessage(br)
		if err != nil {
			return nil, errors.Wrapf(err, "wire: decoding message %d/%d", i, count)
		}
		out = append(out, m)
	}
	return out, nil
}

// EncodeUtilityBound encodes a single message bound for the utility,
// with no message-type-bearing count prefix.
func EncodeUtilityBound(msgType MessageType, encode func(w *bytes.Buffer)) []byte {
	var body bytes.Buffer
	writeUint16(&body, uint16(msgType))
	encode(&body)

	var out bytes.Buffer
	writeUint64(&out, uint64(body.Len()))
	out.Write(body.Bytes())
	return out.Bytes()
}

func encodeTransportMessage(w *bytes.Buffer, m OverlayTransportMessage) {
	writeUint16(w, uint16(MessageOverlay))
	writeInt64(w, int64(m.SenderID))
	writeInt64(w, int64(m.SenderRound))
	writeBool(w, m.IsFinalMessage)
	encodeOverlayMessage(w, m.Body)
}

func decodeTransportMessage(r io.Reader) (OverlayTransportMessage, error) {
	var m OverlayTransportMessage
	mt, err := readUint16(r)
	if err != nil {
		return m, err
	}
	if MessageType(mt) != MessageOverlay {
		return m, errors.Errorf("wire: expected MessageOverlay, got %d", mt)
	}
	sid, err := readInt64(r)
	if err != nil {
		return m, err
	}
	sr, err := readInt64(r)
	if err != nil {
		return m, err
	}
	final, err := readBool(r)
	if err != nil {
		return m, err
	}
	body, err := decodeOverlayMessage(r)
	if err != nil {
		return m, err
	}
	m.SenderID = int(sid)
	m.SenderRound = int(sr)
	m.IsFinalMessage = final
	m.Body = body
	return m, nil
}

// EncodeOverlayMessage serializes a single OverlayMessage, for use as the
// plaintext of one onion layer before RSA encryption.
func EncodeOverlayMessage(m OverlayMessage) []byte {
	var w bytes.Buffer
	encodeOverlayMessage(&w, m)
	return w.Bytes()
}

// DecodeOverlayMessage reads back a single OverlayMessage written by
// EncodeOverlayMessage, i.e. one peeled onion layer's plaintext.
func DecodeOverlayMessage(data []byte) (OverlayMessage, error) {
	return decodeOverlayMessage(bytes.NewReader(data))
}

// EncodeValueTuple serializes a ValueTuple, the canonical byte form a
// meter signs to produce its per-proxy Crusader Agreement signature.
func EncodeValueTuple(v ValueTuple) []byte {
	var w bytes.Buffer
	encodeValueTuple(&w, v)
	return w.Bytes()
}

// EncodeSignedValue serializes a SignedValue, the canonical byte form an
// accepter signs over when constructing an AgreementValue.
func EncodeSignedValue(s SignedValue) []byte {
	var w bytes.Buffer
	encodeSignedValue(&w, s)
	return w.Bytes()
}

func encodeOverlayMessage(w *bytes.Buffer, m OverlayMessage) {
	writeInt64(w, m.QueryNumber)
	writeInt64(w, int64(m.Destination))
	writeBool(w, m.IsEncrypted)
	writeBool(w, m.Flood)
	writeUint16(w, uint16(m.Body.Type))
	switch m.Body.Type {
	case BodyNone:
	case BodyOverlay:
		encodeOverlayMessage(w, *m.Body.Nested)
	case BodyPathOverlay:
		encodeOverlayMessage(w, m.Body.Path.Message)
		writeUint64(w, uint64(len(m.Body.Path.RemainingPath)))
		for _, id := range m.Body.Path.RemainingPath {
			writeInt64(w, int64(id))
		}
	case BodyValueContribution:
		encodeValueContribution(w, *m.Body.Contribution)
	case BodySignedValue:
		encodeSignedValue(w, *m.Body.Signed)
	case BodyAgreementValue:
		encodeSignedValue(w, m.Body.Agreement.SignedValue)
		writeInt64(w, int64(m.Body.Agreement.AccepterID))
		w.Write(m.Body.Agreement.AccepterSignature[:])
	case BodyAggregationValue:
		writeInt64(w, int64(m.Body.Aggregation.NumContributors))
		encodeVector(w, m.Body.Aggregation.Body)
	case BodyString:
		writeString(w, m.Body.Str)
	}
}

func decodeOverlayMessage(r io.Reader) (OverlayMessage, error) {
	var m OverlayMessage
	qn, err := readInt64(r)
	if err != nil {
		return m, err
	}
	dst, err := readInt64(r)
	if err != nil {
		return m, err
	}
	enc, err := readBool(r)
	if err != nil {
		return m, err
	}
	flood, err := readBool(r)
	if err != nil {
		return m, err
	}
	bt, err := readUint16(r)
	if err != nil {
		return m, err
	}
	m.QueryNumber = qn
	m.Destination = int(dst)
	m.IsEncrypted = enc
	m.Flood = flood
	m.Body.Type = MessageBodyType(bt)

	switch m.Body.Type {
	case BodyNone:
	case BodyOverlay:
		nested, err := decodeOverlayMessage(r)
		if err != nil {
			return m, err
		}
		m.Body.Nested = &nested
	case BodyPathOverlay:
		inner, err := decodeOverlayMessage(r)
		if err != nil {
			return m, err
		}
		n, err := readUint64(r)
		if err != nil {
			return m, err
		}
		path := make([]int, n)
		for i := range path {
			v, err := readInt64(r)
			if err != nil {
				return m, err
			}
			path[i] = int(v)
		}
		m.Body.Path = &PathOverlayMessage{Message: inner, RemainingPath: path}
	case BodyValueContribution:
		vc, err := decodeValueContribution(r)
		if err != nil {
			return m, err
		}
		m.Body.Contribution = &vc
	case BodySignedValue:
		sv, err := decodeSignedValue(r)
		if err != nil {
			return m, err
		}
		m.Body.Signed = &sv
	case BodyAgreementValue:
		sv, err := decodeSignedValue(r)
		if err != nil {
			return m, err
		}
		accepter, err := readInt64(r)
		if err != nil {
			return m, err
		}
		var sig Signature
		if _, err := io.ReadFull(r, sig[:]); err != nil {
			return m, err
		}
		m.Body.Agreement = &AgreementValue{SignedValue: sv, AccepterID: int(accepter), AccepterSignature: sig}
	case BodyAggregationValue:
		n, err := readInt64(r)
		if err != nil {
			return m, err
		}
		vec, err := decodeVector(r)
		if err != nil {
			return m, err
		}
		m.Body.Aggregation = &AggregationMessageValue{NumContributors: int(n), Body: vec}
	case BodyString:
		s, err := readString(r)
		if err != nil {
			return m, err
		}
		m.Body.Str = s
	default:
		return m, errors.Errorf("wire: unknown MessageBodyType %d", bt)
	}
	return m, nil
}

func encodeValueContribution(w *bytes.Buffer, c ValueContribution) {
	encodeValueTuple(w, c.Value)
	w.Write(c.Signature[:])
}

func decodeValueContribution(r io.Reader) (ValueContribution, error) {
	var c ValueContribution
	vt, err := decodeValueTuple(r)
	if err != nil {
		return c, err
	}
	var sig Signature
	if _, err := io.ReadFull(r, sig[:]); err != nil {
		return c, err
	}
	c.Value = vt
	c.Signature = sig
	return c, nil
}

func encodeValueTuple(w *bytes.Buffer, v ValueTuple) {
	writeInt64(w, v.QueryNumber)
	encodeVector(w, v.Measurements)
	writeUint64(w, uint64(len(v.Proxies)))
	for _, p := range v.Proxies {
		writeInt64(w, int64(p))
	}
}

func decodeValueTuple(r io.Reader) (ValueTuple, error) {
	var v ValueTuple
	qn, err := readInt64(r)
	if err != nil {
		return v, err
	}
	vec, err := decodeVector(r)
	if err != nil {
		return v, err
	}
	n, err := readUint64(r)
	if err != nil {
		return v, err
	}
	proxies := make([]int, n)
	for i := range proxies {
		p, err := readInt64(r)
		if err != nil {
			return v, err
		}
		proxies[i] = int(p)
	}
	v.QueryNumber = qn
	v.Measurements = vec
	v.Proxies = proxies
	return v, nil
}

// encodeSignedValue writes signatures in ascending signer-id order so
// the encoding is deterministic regardless of Go's map iteration order;
// callers sign over this encoding, so nondeterminism here
// would make every signature fail to re-verify.
func encodeSignedValue(w *bytes.Buffer, s SignedValue) {
	encodeValueContribution(w, s.Value)
	ids := make([]int, 0, len(s.Signatures))
	for id := range s.Signatures {
		ids = append(ids, id)
	}
	sort.Ints(ids)
	writeUint64(w, uint64(len(ids)))
	for _, id := range ids {
		writeInt64(w, int64(id))
		sig := s.Signatures[id]
		w.Write(sig[:])
	}
}

func decodeSignedValue(r io.Reader) (SignedValue, error) {
	var s SignedValue
	vc, err := decodeValueContribution(r)
	if err != nil {
		return s, err
	}
	n, err := readUint64(r)
	if err != nil {
		return s, err
	}
	sigs := make(map[int]Signature, n)
	for i := uint64(0); i < n; i++ {
		id, err := readInt64(r)
		if err != nil {
			return s, err
		}
		var sig Signature
		if _, err := io.ReadFull(r, sig[:]); err != nil {
			return s, err
		}
		sigs[int(id)] = sig
	}
	s.Value = vc
	s.Signatures = sigs
	return s, nil
}

func encodeVector(w *bytes.Buffer, v fixedpoint.Vector) {
	writeUint64(w, uint64(len(v)))
	for _, n := range v {
		writeInt64(w, int64(n))
	}
}

func decodeVector(r io.Reader) (fixedpoint.Vector, error) {
	n, err := readUint64(r)
	if err != nil {
		return nil, err
	}
	v := make(fixedpoint.Vector, n)
	for i := range v {
		x, err := readInt64(r)
		if err != nil {
			return nil, err
		}
		v[i] = fixedpoint.Number(x)
	}
	return v, nil
}

func writeUint64(w *bytes.Buffer, v uint64) { binary.Write(w, binary.LittleEndian, v) }
func writeInt64(w *bytes.Buffer, v int64) { binary.Write(w, binary.LittleEndian, v) }
func writeUint16(w *bytes.Buffer, v uint16) { binary.Write(w, binary.BigEndian, v) }
func writeBool(w *bytes.Buffer, b bool) {
	if b {
		w.WriteByte(1)
	} else {
		w.WriteByte(0)
	}
}
func writeString(w *bytes.Buffer, s string) {
	writeUint64(w, uint64(len(s)))
	w.WriteString(s)
}

func readUint64(r io.Reader) (uint64, error) {
	var v uint64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
func readInt64(r io.Reader) (int64, error) {
	var v int64
	err := binary.Read(r, binary.LittleEndian, &v)
	return v, err
}
func readUint16(r io.Reader) (uint16, error) {
	var v uint16
	err := binary.Read(r, binary.BigEndian, &v)
	return v, err
}
func readBool(r io.Reader) (bool, error) {
	var b [1]byte
	if _, err := io.ReadFull(r, b[:]); err != nil {
		return false, err
	}
	return b[0] != 0, nil
}
func readString(r io.Reader) (string, error) {
	n, err := readUint64(r)
	if err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}
