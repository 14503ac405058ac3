package beam

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"

	"github.com/jjdmol/LOFAR-sub071/errors"
	"github.com/jjdmol/LOFAR-sub071/pkg/buffer"
)

// Message headers carried with every published slice.
const (
	HeaderTransaction = "Beamlet-Tx"
	HeaderBegin       = "Beamlet-Begin"
	HeaderCount       = "Beamlet-Count"
	HeaderOffset      = "Beamlet-Offset"
	HeaderShift       = "Beamlet-Shift"
	HeaderGaps        = "Beamlet-Gaps"
	HeaderTruncated   = "Beamlet-Truncated"
)

// Message is one subband of one beam's read window.
type Message struct {
	Transaction uuid.UUID
	Beam        int
	Subband     int

	// Begin and Count describe the requested window in absolute sample time.
	Begin int64
	Count int

	// Offset is the distance from Begin to the first sample in Data.
	Offset int
	Shift  int

	// Gaps lists the runs of the requested window that must not be trusted.
	Gaps      []buffer.Gap
	Truncated bool

	Data []byte
}

// Subject returns the subject the message is published on.
func (m Message) Subject(prefix string) string {
	return fmt.Sprintf("%s.%d.%d", prefix, m.Beam, m.Subband)
}

// FlaggedSamples returns the number of samples covered by Gaps.
func (m Message) FlaggedSamples() int {
	n := 0
	for _, g := range m.Gaps {
		n += g.Length
	}
	return n
}

// ToNATS encodes m as a NATS message under prefix.
func (m Message) ToNATS(prefix string) (*nats.Msg, error) {
	gaps := m.Gaps
	if gaps == nil {
		gaps = []buffer.Gap{}
	}
	encoded, err := json.Marshal(gaps)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Message", "ToNATS", "encode gaps")
	}

	msg := nats.NewMsg(m.Subject(prefix))
	msg.Header.Set(HeaderTransaction, m.Transaction.String())
	msg.Header.Set(HeaderBegin, strconv.FormatInt(m.Begin, 10))
	msg.Header.Set(HeaderCount, strconv.Itoa(m.Count))
	msg.Header.Set(HeaderOffset, strconv.Itoa(m.Offset))
	msg.Header.Set(HeaderShift, strconv.Itoa(m.Shift))
	msg.Header.Set(HeaderGaps, string(encoded))
	if m.Truncated {
		msg.Header.Set(HeaderTruncated, "true")
	}
	msg.Data = m.Data
	return msg, nil
}

// DecodeMessage parses a message produced by ToNATS. The subject must end in
// ".<beam>.<subband>".
func DecodeMessage(msg *nats.Msg) (Message, error) {
	invalid := func(format string, args ...any) (Message, error) {
		return Message{}, errors.WrapInvalid(
			fmt.Errorf("%w: %s", errors.ErrInvalidData, fmt.Sprintf(format, args...)),
			"Message", "DecodeMessage", "decode beam message")
	}

	tokens := strings.Split(msg.Subject, ".")
	if len(tokens) < 3 {
		return invalid("subject %q has no beam and subband", msg.Subject)
	}
	beam, err := strconv.Atoi(tokens[len(tokens)-2])
	if err != nil {
		return invalid("beam in subject %q", msg.Subject)
	}
	subband, err := strconv.Atoi(tokens[len(tokens)-1])
	if err != nil {
		return invalid("subband in subject %q", msg.Subject)
	}
	if msg.Header == nil {
		return invalid("message on %q has no headers", msg.Subject)
	}

	m := Message{Beam: beam, Subband: subband, Data: msg.Data}

	if m.Transaction, err = uuid.Parse(msg.Header.Get(HeaderTransaction)); err != nil {
		return invalid("%s: %v", HeaderTransaction, err)
	}
	if m.Begin, err = strconv.ParseInt(msg.Header.Get(HeaderBegin), 10, 64); err != nil {
		return invalid("%s: %v", HeaderBegin, err)
	}
	for name, dst := range map[string]*int{
		HeaderCount:  &m.Count,
		HeaderOffset: &m.Offset,
		HeaderShift:  &m.Shift,
	} {
		if *dst, err = strconv.Atoi(msg.Header.Get(name)); err != nil {
			return invalid("%s: %v", name, err)
		}
	}
	if err := json.Unmarshal([]byte(msg.Header.Get(HeaderGaps)), &m.Gaps); err != nil {
		return invalid("%s: %v", HeaderGaps, err)
	}
	m.Truncated = msg.Header.Get(HeaderTruncated) == "true"

	if len(m.Data)%buffer.SampleSize != 0 {
		return invalid("payload of %d bytes is not whole samples", len(m.Data))
	}
	return m, nil
}
