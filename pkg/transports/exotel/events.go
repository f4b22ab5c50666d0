package exotel

// Wire envelope for the media stream websocket. The provider mirrors the
// Twilio media-stream shape: a JSON object per message with an event
// discriminator and an optional nested payload.

type StartEvent struct {
	CallSID     string            `json:"callSid"`
	StreamID    string            `json:"streamSid"`
	AccountSID  string            `json:"accountSid"`
	From        string            `json:"from"`
	To          string            `json:"to"`
	MediaFormat *MediaFormat      `json:"mediaFormat,omitempty"`
	CustomParam map[string]string `json:"customParameters,omitempty"`
}

type MediaFormat struct {
	Encoding   string `json:"encoding"`
	SampleRate int    `json:"sampleRate"`
	BitRate    string `json:"bitRate"`
}

type MediaEvent struct {
	Chunk          int    `json:"chunk"`
	Timestamp      string `json:"timestamp"`
	SequenceNumber string `json:"sequenceNumber"`
	Payload        string `json:"payload"`
}

type DTMFEvent struct {
	Digit string `json:"digit"`
}

type MarkEvent struct {
	Name string `json:"name"`
}

type StopEvent struct {
	CallSID string `json:"callSid"`
	Reason  string `json:"reason"`
}

type Event struct {
	Event string `json:"event"`

	// The provider spells the stream key both ways depending on firmware.
	StreamID    string `json:"streamSid,omitempty"`
	StreamIDAlt string `json:"stream_sid,omitempty"`

	SequenceNumber string `json:"sequenceNumber,omitempty"`

	Start *StartEvent `json:"start,omitempty"`
	Media *MediaEvent `json:"media,omitempty"`
	DTMF  *DTMFEvent  `json:"dtmf,omitempty"`
	Mark  *MarkEvent  `json:"mark,omitempty"`
	Stop  *StopEvent  `json:"stop,omitempty"`
}

func (e Event) streamID() string {
	if e.StreamID != "" {
		return e.StreamID
	}
	return e.StreamIDAlt
}
