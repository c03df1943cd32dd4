package natsbus

import (
	"bytes"
	"fmt"
	"strings"

	cloudevents "github.com/cloudevents/sdk-go/v2"
	"github.com/cloudevents/sdk-go/v2/types"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/c360/dynbus/errors"
	"github.com/c360/dynbus/transport"
	"github.com/c360/dynbus/transport/memory"
)

const (
	subjectPrefix = "dds"

	eventTypePrefix = "io.dynbus.sample."
	extType         = "ddstype"
	extWriter       = "ddswriter"
)

// subject returns the NATS subject of a topic in a domain
func subject(domain int, topic string) string {
	return fmt.Sprintf("%s.%d.%s", subjectPrefix, domain, subjectToken(topic))
}

// domainSubject matches every topic of a domain
func domainSubject(domain int) string {
	return fmt.Sprintf("%s.%d.>", subjectPrefix, domain)
}

// subjectToken maps a topic name to a single subject token
func subjectToken(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r == '.' || r == '*' || r == '>' || r <= ' ' || r == 0x7f:
			return '_'
		default:
			return r
		}
	}, name)
}

// encodeEvent renders e as a structured JSON CloudEvent
func encodeEvent(source string, e memory.Event) ([]byte, error) {
	payload, err := json.Marshal(e.Value)
	if err != nil {
		return nil, errors.WrapInvalid(err, "natsbus", "Send", "encode sample of "+e.Topic)
	}

	ev := cloudevents.NewEvent()
	ev.SetID(uuid.NewString())
	ev.SetSource(source)
	ev.SetType(eventTypePrefix + string(e.Kind))
	ev.SetSubject(e.Topic)
	ev.SetTime(e.Timestamp)
	ev.SetExtension(extType, e.TypeName)
	ev.SetExtension(extWriter, e.Writer)
	if err := ev.SetData(cloudevents.ApplicationJSON, payload); err != nil {
		return nil, errors.WrapInvalid(err, "natsbus", "Send", "set event data")
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return nil, errors.WrapInvalid(err, "natsbus", "Send", "encode event")
	}
	return data, nil
}

// decodeEvent parses a CloudEvent published by encodeEvent. Numbers in
// the sample value decode as json.Number to keep integer precision.
func decodeEvent(domain int, data []byte) (source string, e memory.Event, err error) {
	var ev cloudevents.Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return "", e, errors.WrapInvalid(err, "natsbus", "Receive", "decode event")
	}
	if err := ev.Validate(); err != nil {
		return "", e, errors.WrapInvalid(err, "natsbus", "Receive", "validate event")
	}

	kind, ok := strings.CutPrefix(ev.Type(), eventTypePrefix)
	if !ok {
		return "", e, errors.WrapInvalid(fmt.Errorf("unexpected event type %q", ev.Type()),
			"natsbus", "Receive", "classify event")
	}
	typeName, err := types.ToString(ev.Extensions()[extType])
	if err != nil {
		return "", e, errors.WrapInvalid(err, "natsbus", "Receive", "read type extension")
	}
	writer, err := types.ToString(ev.Extensions()[extWriter])
	if err != nil {
		return "", e, errors.WrapInvalid(err, "natsbus", "Receive", "read writer extension")
	}

	var value any
	dec := json.NewDecoder(bytes.NewReader(ev.Data()))
	dec.UseNumber()
	if err := dec.Decode(&value); err != nil {
		return "", e, errors.WrapInvalid(err, "natsbus", "Receive", "decode sample")
	}

	return ev.Source(), memory.Event{
		Domain:    domain,
		Topic:     ev.Subject(),
		TypeName:  typeName,
		Kind:      memory.EventKind(kind),
		Writer:    writer,
		Value:     value,
		Timestamp: ev.Time(),
	}, nil
}

// publicationRecord is the discovery bucket value of one writer
type publicationRecord struct {
	Source         string `json:"source"`
	Key            string `json:"key"`
	ParticipantKey string `json:"participant_key"`
	TopicName      string `json:"topic"`
	TypeName       string `json:"type"`
}

func newRecord(source string, pub transport.PublicationData) publicationRecord {
	return publicationRecord{
		Source:         source,
		Key:            pub.Key,
		ParticipantKey: pub.ParticipantKey,
		TopicName:      pub.TopicName,
		TypeName:       pub.TypeName,
	}
}

func (r publicationRecord) publication() transport.PublicationData {
	return transport.PublicationData{
		Key:            r.Key,
		ParticipantKey: r.ParticipantKey,
		TopicName:      r.TopicName,
		TypeName:       r.TypeName,
	}
}

// recordKey is the bucket key of a writer in a domain
func recordKey(domain int, writer string) string {
	return fmt.Sprintf("%d.%s", domain, writer)
}
